// Package server orchestrates all components: config, manifest, journal,
// COMMS, the module host and the HTTP surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/plugin-host/internal/config"
	"github.com/morezero/plugin-host/internal/host"
	"github.com/morezero/plugin-host/pkg/bootstrap"
	"github.com/morezero/plugin-host/pkg/commsutil"
	"github.com/morezero/plugin-host/pkg/db"
	"github.com/morezero/plugin-host/pkg/events"
	"github.com/morezero/plugin-host/pkg/registry"
)

const logPrefix = "server:server"

const shutdownTimeout = 10 * time.Second

// Server is the plugin host orchestrator.
type Server struct {
	cfg        *config.Config
	host       *host.Host
	nc         *comms.Conn
	pool       *pgxpool.Pool
	httpServer *http.Server
	sub        *comms.Subscription

	ready    atomic.Bool
	inflight sync.WaitGroup
	slots    chan struct{}

	intakeMu sync.Mutex
	closing  bool
}

// NewServerParams holds parameters for NewServer.
type NewServerParams struct {
	Config *config.Config
	Host   *host.Host
	// Conn is optional; SubscribeHost needs it.
	Conn *comms.Conn
}

// NewServer wraps an assembled host. Run builds one from the environment.
func NewServer(params NewServerParams) *Server {
	return &Server{
		cfg:   params.Config,
		host:  params.Host,
		nc:    params.Conn,
		slots: make(chan struct{}, maxConcurrentRequests),
	}
}

// SetupLogging installs the default slog text handler at the configured level.
func SetupLogging(cfg *config.Config) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	SetupLogging(cfg)

	slog.Info(fmt.Sprintf("%s - Starting plugin-host v%s", logPrefix, host.Version()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Load manifest
	manifestCfg, err := bootstrap.LoadManifest(cfg.ManifestFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load manifest: %w", logPrefix, err)
	}
	manifest := bootstrap.CreateResolvedManifest(manifestCfg)

	s := NewServer(NewServerParams{Config: cfg})
	var publishers []events.EventPublisher
	var journal registry.Pinger

	// Step 2: Registration journal
	if cfg.JournalEnabled() {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		s.pool = pool

		if cfg.RunMigrations {
			migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
			if err != nil {
				s.closeConnections()
				return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
				s.closeConnections()
				return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
		}

		j := db.NewJournal(pool)
		journal = j
		publishers = append(publishers, db.NewJournalPublisher(db.NewJournalPublisherParams{Recorder: j, Host: cfg.COMMSName}))
	} else {
		slog.Info(fmt.Sprintf("%s - DATABASE_URL not set, registration journal disabled", logPrefix))
	}

	// Step 3: COMMS
	if cfg.CommsEnabled {
		nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
		if err != nil {
			s.closeConnections()
			return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		s.nc = nc

		changeSubject := cfg.ChangeEventSubject
		if changeSubject == "" {
			changeSubject = manifest.GlobalChangeSubject()
		}
		publishers = append(publishers, events.NewCommsPublisher(nc, &events.CommsPublisherOpts{GlobalChangeSubject: changeSubject}))
	}

	// Step 4: Host and modules
	h, err := host.New(host.NewParams{
		Manifest:       manifest,
		Publisher:      events.NewMultiPublisher(publishers...),
		Journal:        journal,
		UpdateInterval: cfg.UpdateInterval,
	})
	if err != nil {
		s.closeConnections()
		return fmt.Errorf("%s - failed to build host: %w", logPrefix, err)
	}
	s.host = h
	if err := h.Start(ctx); err != nil {
		slog.Error(fmt.Sprintf("%s - %v", logPrefix, err))
	}

	// Step 5: Serve envelopes over COMMS
	if s.nc != nil {
		subject := cfg.HostSubject
		if subject == "" {
			subject = commsutil.SubjectHost
		}
		if err := s.SubscribeHost(ctx, subject); err != nil {
			h.Shutdown()
			s.closeConnections()
			return err
		}
	}

	// Step 6: HTTP surface
	if cfg.HTTPPort > 0 {
		httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
		s.httpServer = &http.Server{Addr: httpAddr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
			if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
				slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
			}
		}()
	}

	s.ready.Store(true)
	slog.Info(fmt.Sprintf("%s - Plugin host is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	s.Shutdown()
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// Shutdown stops intake, waits for in-flight requests, cleans up modules and
// closes connections.
func (s *Server) Shutdown() {
	s.ready.Store(false)
	s.intakeMu.Lock()
	s.closing = true
	s.intakeMu.Unlock()

	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			slog.Warn(fmt.Sprintf("%s - unsubscribe failed: %v", logPrefix, err))
		}
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
		}
		cancel()
	}
	s.inflight.Wait()

	if s.host != nil {
		s.host.Shutdown()
	}
	s.closeConnections()
}

func (s *Server) closeConnections() {
	commsutil.Drain(s.nc)
	if s.pool != nil {
		s.pool.Close()
	}
}
