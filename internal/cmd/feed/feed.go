// Package feed parses feed service flags and launches the service.
package feed

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	entrypoint "github.com/louisbranch/snapfeed/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/snapfeed/internal/platform/grpc"
	"github.com/louisbranch/snapfeed/internal/platform/logging"
	server "github.com/louisbranch/snapfeed/internal/services/feed/app"
	"github.com/louisbranch/snapfeed/internal/services/feed/persist"
	"github.com/sirupsen/logrus"
)

const probeTimeout = 5 * time.Second

// Config holds feed command configuration.
type Config struct {
	server.Config

	// Probe checks the local health endpoint and exits instead of serving.
	Probe bool
	// Migrate applies pending schema migrations, lists them and exits.
	Migrate bool
}

// ParseConfig parses environment and then flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The feed HTTP server port")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "The gRPC health port (0 disables it)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the feed SQLite database")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "Fallback locale for date labels")
	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "Log level")
	fs.BoolVar(&cfg.Probe, "probe", false, "Check the health endpoint and exit")
	fs.BoolVar(&cfg.Migrate, "migrate", false, "Apply schema migrations, list them and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the feed service. cfg.Probe and cfg.Migrate select one-shot
// modes instead.
func Run(ctx context.Context, cfg Config) error {
	log, err := logging.New(entrypoint.ServiceFeed, cfg.Logging)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	switch {
	case cfg.Probe:
		return Probe(ctx, cfg, log)
	case cfg.Migrate:
		return Migrate(ctx, cfg, os.Stdout, log)
	}
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceFeed, entrypoint.RunOptions{Logger: log}, func(ctx context.Context) error {
		return server.Run(ctx, cfg.Config, log)
	})
}

// Probe waits for the local health endpoint to report SERVING.
func Probe(ctx context.Context, cfg Config, log *logrus.Logger) error {
	if cfg.HealthPort <= 0 {
		return errors.New("probe requires a health port")
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.HealthPort))
	return platformgrpc.Probe(ctx, addr, server.HealthService, log)
}

// Migrate opens the database, which applies pending migrations, and writes
// the applied migration names to out, one per line.
func Migrate(ctx context.Context, cfg Config, out io.Writer, log *logrus.Logger) error {
	if log == nil {
		log = logging.Discard()
	}
	path := cfg.DatabasePath()
	store, err := persist.OpenSQLiteStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	applied, err := store.AppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	for _, name := range applied {
		if _, err := fmt.Fprintln(out, name); err != nil {
			return err
		}
	}
	log.WithFields(logrus.Fields{"db_path": path, "migrations": len(applied)}).Info("schema up to date")
	return nil
}
