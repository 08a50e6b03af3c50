package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/op/go-logging.v1"

	"relaymesh/internal/crypto"
	"relaymesh/internal/log"
	"relaymesh/internal/services/identity"
	"relaymesh/internal/store"
	"relaymesh/internal/transport"
	"relaymesh/profile"
)

// Wire bundles the stores, services and shared infrastructure for the CLI.
type Wire struct {
	Config   *Config
	Log      *log.Backend
	Registry *prometheus.Registry
	Keys     *store.KeyFileStore
	Identity *identity.Service

	// Dialer overrides the websocket dialer; tests set it.
	Dialer transport.Dialer

	log *logging.Logger
}

// NewWire constructs the dependency graph from cfg for the key directory home.
func NewWire(cfg *Config, home string) (*Wire, error) {
	backend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}
	keys := store.NewKeyFileStore(home)
	return &Wire{
		Config:   cfg,
		Log:      backend,
		Registry: prometheus.NewRegistry(),
		Keys:     keys,
		Identity: identity.New(keys),
		log:      backend.GetLogger("cli"),
	}, nil
}

// OpenProfile unseals the stored key and starts a profile on the configured
// relays.
func (w *Wire) OpenProfile(passphrase string) (*profile.Profile, error) {
	raw, err := w.Identity.Load(passphrase)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(raw)

	opts := []profile.Option{
		profile.WithConfig(w.Config.ProfileConfig()),
		profile.WithLogBackend(w.Log),
		profile.WithMetricsRegisterer(w.Registry),
	}
	if w.Dialer != nil {
		opts = append(opts, profile.WithDialer(w.Dialer))
	}
	return profile.CreateProfile(raw, w.Config.Relays, opts...)
}

// ServeMetrics serves the registry on Config.Metrics.Address until ctx is
// done. It returns at once when no address is configured.
func (w *Wire) ServeMetrics(ctx context.Context) error {
	addr := w.Config.Metrics.Address
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(w.Registry, promhttp.HandlerOpts{Registry: w.Registry}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	w.log.Noticef("serving metrics on http://%s/metrics", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close flushes the log backend.
func (w *Wire) Close() error { return w.Log.Close() }
