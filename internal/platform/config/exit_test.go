package config

import (
	"bytes"
	"testing"
)

func TestExitfWritesMessageAndExitsWithCode1(t *testing.T) {
	var buf bytes.Buffer
	code := -1
	origStderr, origExit := stderr, exit
	stderr = &buf
	exit = func(c int) { code = c }
	t.Cleanup(func() {
		stderr, exit = origStderr, origExit
	})

	Exitf("open store: %s", "disk full")

	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if got, want := buf.String(), "snapfeed: open store: disk full\n"; got != want {
		t.Fatalf("stderr = %q, want %q", got, want)
	}
}
