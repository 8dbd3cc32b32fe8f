package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	lfs "lfuse/internal/fs"
	"lfuse/internal/sysio"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsReadTimeout  = 10 * time.Second
	metricsWriteTimeout = 10 * time.Second
	metricsIdleTimeout  = 10 * time.Second
)

// Config describes one mount.
type Config struct {
	MountPoint  string
	Options     []fuse.MountOption
	MetricsAddr string // empty disables the /metrics endpoint

	// LookupEnv reads the environment; os.LookupEnv when nil.
	LookupEnv func(string) (string, bool)
}

// Session owns the backing root and the FUSE connection of one mount.
type Session struct {
	cfg      Config
	root     string
	fs       *lfs.FS
	registry *prometheus.Registry
}

// New resolves and creates the backing root, initializes backing with it
// and builds the filesystem. Nothing is mounted yet.
func New(cfg Config, backing sysio.Backing) (*Session, error) {
	if cfg.MountPoint == "" {
		return nil, errors.New("mount point is required")
	}
	if cfg.LookupEnv == nil {
		cfg.LookupEnv = os.LookupEnv
	}
	if cfg.Options == nil {
		cfg.Options = defaultOptions()
	}

	root, err := ResolveRoot(cfg.LookupEnv)
	if err != nil {
		return nil, err
	}
	if err := EnsureRoot(root); err != nil {
		return nil, err
	}
	if err := Publish(root, backing); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	dispatcher := lfs.NewDispatcher(backing, lfs.NewTranslator(root), lfs.NewMetrics(registry))

	return &Session{
		cfg:      cfg,
		root:     root,
		fs:       lfs.New(dispatcher),
		registry: registry,
	}, nil
}

// Root returns the backing root.
func (s *Session) Root() string {
	return s.root
}

// FS returns the filesystem that Serve mounts.
func (s *Session) FS() *lfs.FS {
	return s.fs
}

// Registry returns the registry holding the operation metrics.
func (s *Session) Registry() *prometheus.Registry {
	return s.registry
}

// Serve mounts the filesystem and processes requests until it is
// unmounted. Cancelling ctx unmounts it.
func (s *Session) Serve(ctx context.Context) error {
	mountPoint := s.cfg.MountPoint

	c, err := fuse.Mount(mountPoint, s.cfg.Options...)
	if err != nil {
		return fmt.Errorf("mount %s: %w", mountPoint, err)
	}
	defer c.Close()

	var metricsServer *http.Server
	if s.cfg.MetricsAddr != "" {
		metricsServer = s.startMetrics()
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Unmounting %s", mountPoint)
			if err := fuse.Unmount(mountPoint); err != nil {
				logger.Error("Unmount error: %v", err)
			}
		case <-done:
		}
	}()

	logger.Info("Serving %s on %s", s.root, mountPoint)
	err = fusefs.Serve(c, s.fs)
	close(done)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsWriteTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics endpoint shutdown: %v", err)
		}
	}

	if err != nil {
		return fmt.Errorf("serve %s: %w", mountPoint, err)
	}
	return nil
}

func (s *Session) startMetrics() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         s.cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  metricsReadTimeout,
		WriteTimeout: metricsWriteTimeout,
		IdleTimeout:  metricsIdleTimeout,
		ErrorLog:     log.New(logger.Writer(), "[HTTP-SERVER] ", log.LstdFlags),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics endpoint failed: %v", err)
		}
	}()

	logger.Info("Metrics available at http://%s/metrics", s.cfg.MetricsAddr)
	return server
}
