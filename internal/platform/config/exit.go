package config

import (
	"fmt"
	"io"
	"os"
)

var (
	stderr io.Writer = os.Stderr
	exit             = os.Exit
)

// Exitf reports a fatal startup problem on stderr and terminates the process
// with status 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(stderr, "snapfeed: "+format+"\n", args...)
	exit(1)
}
