package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/triper/triper/internal/compute"
	"github.com/triper/triper/internal/config"
	"github.com/triper/triper/internal/ipc"
	"github.com/triper/triper/internal/ledger"
	"github.com/triper/triper/internal/match"
	"github.com/triper/triper/internal/matcher"
	"github.com/triper/triper/internal/prefilter"
	"github.com/triper/triper/internal/wallet"
	"github.com/triper/triper/pkg/payload"
)

// closableService is a compute service the daemon owns and must shut down.
type closableService interface {
	compute.Service
	Close()
}

// Daemon wires the agent's collaborators together and runs the
// background loops: the pending-match expiry sweep and the config
// hot-reload watcher.
type Daemon struct {
	logger    *slog.Logger
	identity  *wallet.Identity
	client    ledger.Client
	store     prefilter.Store
	svc       closableService
	orch      *compute.Orchestrator
	lifecycle *match.Lifecycle
	matcher   *matcher.Matcher
	pool      *pgxpool.Pool
	ipc       *ipc.Server

	mu    sync.RWMutex
	cfg   *config.AgentConfig
	trips map[string]*payload.Trip // plaintext of trips published this session
}

// NewDaemon assembles a daemon from configuration. The wallet keystore
// is loaded if present and generated on first run.
func NewDaemon(ctx context.Context, cfg *config.AgentConfig, passphrase string, logger *slog.Logger) (*Daemon, error) {
	identity, err := loadOrCreateIdentity(cfg.Storage.KeystorePath, passphrase, logger)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		logger:   logger,
		identity: identity,
		cfg:      cfg,
		trips:    make(map[string]*payload.Trip),
	}

	d.client = ledger.NewMemoryClient(identity)

	switch cfg.Prefilter.Mode {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Prefilter.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect candidate store: %w", err)
		}
		store := prefilter.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("prepare candidate schema: %w", err)
		}
		d.pool = pool
		d.store = store
	default:
		d.store = prefilter.NewMemoryStore()
	}

	var clusterKey []byte
	switch cfg.Compute.Mode {
	case "http":
		clusterKey, err = base64.StdEncoding.DecodeString(cfg.Compute.ClusterKey)
		if err != nil {
			return nil, fmt.Errorf("decode cluster key: %w", err)
		}
		d.svc = compute.NewHTTPService(cfg.Compute.GatewayURL, logger)
	default:
		mock, err := compute.NewMockService()
		if err != nil {
			return nil, fmt.Errorf("start mock compute service: %w", err)
		}
		clusterKey = mock.ClusterPublicKey()
		d.svc = mock
	}

	d.orch = compute.NewOrchestrator(d.svc, logger)
	d.lifecycle = match.NewLifecycle(d.client, logger)
	d.matcher = matcher.New(matcher.Config{
		Identity:     identity,
		Ledger:       d.client,
		Prefilter:    d.store,
		Orchestrator: d.orch,
		Lifecycle:    d.lifecycle,
		ClusterKey:   clusterKey,
		Logger:        logger,
		AwaitTimeout:  time.Duration(cfg.Compute.AwaitTimeoutSeconds) * time.Second,
		NeighborRing:  cfg.Prefilter.NeighborRing,
		MinTotalScore: cfg.Matching.MinTotalScore,
	})

	if err := d.publishProfile(ctx); err != nil {
		return nil, fmt.Errorf("publish profile: %w", err)
	}

	d.ipc, err = ipc.NewServer(cfg.Storage.SocketPath, &agentAdapter{d: d})
	if err != nil {
		return nil, fmt.Errorf("create IPC server: %w", err)
	}
	return d, nil
}

func loadOrCreateIdentity(path, passphrase string, logger *slog.Logger) (*wallet.Identity, error) {
	identity, err := wallet.Load(path, passphrase)
	if err == nil {
		logger.Info("wallet loaded", "address", identity.Address)
		return identity, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load wallet: %w", err)
	}

	identity, mnemonic, err := wallet.GenerateWithMnemonic()
	if err != nil {
		return nil, fmt.Errorf("generate wallet: %w", err)
	}
	if err := wallet.Save(identity, path, passphrase); err != nil {
		return nil, fmt.Errorf("save wallet: %w", err)
	}
	// The mnemonic is shown once; it never touches the log file.
	fmt.Fprintf(os.Stderr, "new wallet %s\nrecovery phrase: %s\n", identity.Address, mnemonic)
	logger.Info("wallet created", "address", identity.Address)
	return identity, nil
}

// Run starts the IPC server and background loops and blocks until ctx
// is cancelled.
func (d *Daemon) Run(ctx context.Context, configPath string) error {
	d.orch.Start()
	defer d.close()

	ipcErr := make(chan error, 1)
	go func() { ipcErr <- d.ipc.Start() }()

	var watcher *config.Watcher
	if configPath != "" {
		var err error
		watcher, err = config.NewWatcher(configPath,
			func(cfg *config.AgentConfig) {
				d.mu.Lock()
				d.cfg.Matching = cfg.Matching
				d.mu.Unlock()
				d.matcher.SetMinTotalScore(cfg.Matching.MinTotalScore)
				d.logger.Info("configuration reloaded",
					"min_total_score", cfg.Matching.MinTotalScore)
			},
			func(err error) {
				d.logger.Warn("configuration reload failed", "error", err)
			})
		if err != nil {
			return fmt.Errorf("watch configuration: %w", err)
		}
		watcher.Start()
		defer watcher.Stop()
	}

	sweep := time.NewTicker(d.sweepInterval())
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-ipcErr:
			if err != nil {
				return fmt.Errorf("IPC server: %w", err)
			}
			return nil
		case <-sweep.C:
			if _, err := d.lifecycle.ExpireDue(ctx, time.Now()); err != nil {
				d.logger.Warn("expiry sweep failed", "error", err)
			}
			sweep.Reset(d.sweepInterval())
		}
	}
}

func (d *Daemon) sweepInterval() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return time.Duration(d.cfg.Matching.ExpireSweepSeconds) * time.Second
}

func (d *Daemon) close() {
	d.ipc.Stop()
	d.orch.Close()
	d.svc.Close()
	if d.pool != nil {
		d.pool.Close()
	}
	d.identity.Zero()
}
