// Package server wires the feed runtime and its HTTP and health lifecycles.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/louisbranch/snapfeed/internal/platform/i18n/catalog"
	"github.com/louisbranch/snapfeed/internal/platform/logging"
	"github.com/louisbranch/snapfeed/internal/platform/timeouts"
	"github.com/louisbranch/snapfeed/internal/services/feed/api/httpapi"
	"github.com/louisbranch/snapfeed/internal/services/feed/persist"
	"github.com/louisbranch/snapfeed/internal/services/feed/profile"
	"github.com/louisbranch/snapfeed/internal/services/feed/upload"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported by the gRPC health endpoint.
const HealthService = "snapfeed.v1.FeedService"

// Config holds the server settings. Tags are read under the SNAPFEED_ prefix.
type Config struct {
	Port          int    `env:"PORT" envDefault:"8095"`
	DBPath        string `env:"DB_PATH"`
	UserName      string `env:"USER_NAME"`
	Locale        string `env:"LOCALE" envDefault:"en-US"`
	MaxImageBytes int64  `env:"MAX_IMAGE_BYTES" envDefault:"10485760"`
	// HealthPort enables the gRPC health endpoint when positive.
	HealthPort int `env:"HEALTH_PORT" envDefault:"0"`

	Logging logging.Config
}

// DatabasePath returns the configured SQLite path, or data/snapfeed.db.
func (c Config) DatabasePath() string {
	if path := strings.TrimSpace(c.DBPath); path != "" {
		return path
	}
	return filepath.Join("data", "snapfeed.db")
}

func (c Config) validateLocale() error {
	locale := strings.TrimSpace(c.Locale)
	bundle := catalog.Default()
	if locale == "" || bundle.HasLocale(locale) {
		return nil
	}
	return fmt.Errorf("locale %q is not available, use one of: %s", locale, strings.Join(bundle.Locales(), ", "))
}

// Server hosts the feed HTTP API, its database and an optional health endpoint.
type Server struct {
	listener       net.Listener
	httpServer     *http.Server
	healthListener net.Listener
	grpcServer     *grpc.Server
	health         *health.Server
	db             *persist.Database
	log            *logrus.Logger
}

// New creates a server listening on cfg.Port.
func New(cfg Config, log *logrus.Logger) (*Server, error) {
	addr := fmt.Sprintf(":%d", cfg.Port)
	healthAddr := ""
	if cfg.HealthPort > 0 {
		healthAddr = fmt.Sprintf(":%d", cfg.HealthPort)
	}
	return NewWithAddr(addr, healthAddr, cfg, log)
}

// NewWithAddr creates a server for explicit addresses. An empty healthAddr
// disables the gRPC health endpoint.
func NewWithAddr(addr, healthAddr string, cfg Config, log *logrus.Logger) (*Server, error) {
	if log == nil {
		log = logging.Discard()
	}
	if err := cfg.validateLocale(); err != nil {
		return nil, err
	}
	dbPath := cfg.DatabasePath()

	userName, err := profile.NormalizeName(cfg.UserName)
	if err != nil {
		return nil, fmt.Errorf("user name: %w", err)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	db := persist.NewDatabase(dbPath)
	feeds := persist.NewService(db, persist.Options{UserName: userName, Logger: log})
	handler := httpapi.NewHandler(feeds, upload.New(feeds, cfg.MaxImageBytes), httpapi.Options{
		Locale: cfg.Locale,
		Logger: log,
	})

	s := &Server{
		listener: listener,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: timeouts.ReadHeader,
			WriteTimeout:      timeouts.Write,
		},
		db:  db,
		log: log,
	}

	if strings.TrimSpace(healthAddr) != "" {
		healthListener, err := net.Listen("tcp", healthAddr)
		if err != nil {
			_ = listener.Close()
			return nil, fmt.Errorf("listen on %s: %w", healthAddr, err)
		}
		s.healthListener = healthListener
		s.grpcServer = grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
		s.health = health.NewServer()
		grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	}
	return s, nil
}

// Addr returns the HTTP listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// HealthAddr returns the health listener address, or "" when disabled.
func (s *Server) HealthAddr() string {
	if s == nil || s.healthListener == nil {
		return ""
	}
	return s.healthListener.Addr().String()
}

// Run creates and serves a feed server until context cancellation.
func Run(ctx context.Context, cfg Config, log *logrus.Logger) error {
	server, err := New(cfg, log)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve runs the HTTP server, and the health endpoint when enabled, until
// ctx is canceled or either server fails.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	// Open storage up front so a bad path fails the process, not the first request.
	if _, err := s.db.Store(ctx); err != nil {
		return fmt.Errorf("open feed store: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.log.WithField("addr", s.Addr()).Info("feed server listening")
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve HTTP: %w", err)
		}
		return nil
	})
	if s.grpcServer != nil {
		s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		s.health.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)
		group.Go(func() error {
			s.log.WithField("addr", s.HealthAddr()).Info("health endpoint listening")
			if err := s.grpcServer.Serve(s.healthListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("serve gRPC health: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		return s.shutdown()
	})
	return group.Wait()
}

func (s *Server) shutdown() error {
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown HTTP: %w", err)
	}
	return nil
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.healthListener != nil {
		_ = s.healthListener.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.WithError(err).Warn("close feed database")
		}
	}
}
