package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/nfsd/internal/admin"
	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs"
	mount "github.com/marmos91/nfsd/internal/protocol/nfs/mount/handlers"
	"github.com/marmos91/nfsd/internal/protocol/nfs/v3/handlers"
	"github.com/marmos91/nfsd/internal/ratelimiter"
	"github.com/marmos91/nfsd/pkg/auth"
	"github.com/marmos91/nfsd/pkg/config"
	"github.com/marmos91/nfsd/pkg/export"
	"github.com/marmos91/nfsd/pkg/export/table"
	"github.com/marmos91/nfsd/pkg/vfs"
	"github.com/marmos91/nfsd/pkg/vfs/memfs"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server",
	Long: `Start the server in the foreground with the specified configuration.

The export table is loaded from the configured sources and answers the
population requests of both caches. SIGHUP reloads the table and flushes the
caches; SIGINT and SIGTERM shut down.

Examples:
  # Start with the default configuration file
  nfsd start

  # Start with a custom configuration file
  nfsd start --config /etc/nfsd/config.yaml

  # Override settings from the environment
  NFSD_LOGGING_LEVEL=DEBUG nfsd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("nfsd - NFSv3 export cache and protocol core")
	logger.Info("Log level: %s, format: %s", cfg.Logging.Level, cfg.Logging.Format)

	metricsResult := config.InitializeMetrics(cfg)

	fs, err := newFilesystem(&cfg.Filesystem)
	if err != nil {
		return err
	}

	domains := auth.NewTable()
	for _, name := range append([]string{cfg.Server.DefaultClient}, cfg.Clients...) {
		if name == "" {
			continue
		}
		if _, err := domains.Register(name); err != nil {
			return fmt.Errorf("register client %q: %w", name, err)
		}
	}

	netCfg := export.Config{
		HashBits:      cfg.Cache.HashBits,
		UpcallTimeout: cfg.Cache.UpcallTimeout,
		QueueSize:     cfg.Cache.UpcallQueue,
		Metrics:       metricsResult.CacheMetrics,
	}
	var journal *table.BadgerStore
	if cfg.Exports.Persist.Enabled {
		journal, err = table.OpenBadgerStore(table.BadgerStoreConfig{
			Path:       cfg.Exports.Persist.Path,
			SyncWrites: cfg.Exports.Persist.SyncWrites,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := journal.Close(); err != nil {
				logger.Error("close cache journal: %v", err)
			}
		}()
		netCfg.Journal = journal
		logger.Info("Journaling accepted cache lines to %s", cfg.Exports.Persist.Path)
	}

	net := export.NewNet(fs, domains, netCfg)
	defer net.Shutdown()

	tbl, err := loadTable(ctx, &cfg.Exports)
	if err != nil {
		return err
	}
	agent := table.NewAgent(net, tbl, cfg.Cache.AnswerTTL)
	agent.RegisterClients()

	if journal != nil {
		if _, err := journal.Replay(ctx, net.Registry()); err != nil {
			logger.Warn("replay cache journal: %v", err)
		}
	}

	handler := handlers.NewHandler(net, handlers.Config{
		MaxPayload:    cfg.Server.MaxPayload,
		HandleMaxSize: cfg.Server.HandleMaxSize,
		Metrics:       metricsResult.NFSMetrics,
	})
	srv := nfs.NewServer(handler, nfs.Config{
		DefaultDomain: cfg.Server.DefaultClient,
		Limiter: ratelimiter.NewKeyed(
			cfg.Server.RateLimit.RequestsPerSecond,
			cfg.Server.RateLimit.Burst,
			cfg.Server.RateLimit.MaxClients,
			cfg.Server.RateLimit.TTL,
		),
		Mount: mount.NewHandler(net, agent),
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return agent.Run(gctx)
	})
	g.Go(func() error {
		return net.RunCleaner(gctx, cfg.Cache.CleanInterval)
	})
	g.Go(func() error {
		reloadOnHangup(gctx, agent, &cfg.Exports)
		return nil
	})
	if cfg.Admin.Enabled {
		adminServer := admin.NewServer(admin.Config{Listen: cfg.Admin.Listen}, admin.Deps{Net: net, NFS: srv})
		g.Go(func() error {
			return adminServer.Start(gctx)
		})
	}
	if metricsResult.Server != nil {
		g.Go(func() error {
			return metricsResult.Server.Start(gctx)
		})
	}

	logger.Info("Server ready: %d clients, %d export entries", len(domains.Names()), len(tbl.Entries))

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return shutdownResult(err)
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping (timeout %v)", cfg.Server.ShutdownTimeout)
	}

	select {
	case err := <-done:
		return shutdownResult(err)
	case <-time.After(cfg.Server.ShutdownTimeout):
		return fmt.Errorf("shutdown did not complete within %v", cfg.Server.ShutdownTimeout)
	}
}

func shutdownResult(err error) error {
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

// newFilesystem builds the configured filesystem and creates its seed
// directories.
func newFilesystem(cfg *config.FilesystemConfig) (*memfs.FS, error) {
	fs := memfs.New(memfs.Options{
		Dev:         vfs.Dev{Major: cfg.DevMajor, Minor: cfg.DevMinor},
		Capacity:    cfg.Capacity,
		MaxFileSize: cfg.MaxFileSize,
		RootMode:    cfg.RootMode,
	})
	for _, dir := range cfg.Seed {
		if _, err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("seed %s: %w", dir, err)
		}
		logger.Debug("Seeded %s", dir)
	}
	return fs, nil
}

func loadTable(ctx context.Context, cfg *config.ExportsConfig) (*table.Table, error) {
	sources, err := config.CreateSources(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tbl, err := table.Load(ctx, sources...)
	if err != nil {
		return nil, fmt.Errorf("failed to load export table: %w", err)
	}
	return tbl, nil
}

// reloadOnHangup swaps in a freshly loaded export table on every SIGHUP. A
// table that fails to load leaves the current one in place.
func reloadOnHangup(ctx context.Context, agent *table.Agent, cfg *config.ExportsConfig) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			tbl, err := loadTable(ctx, cfg)
			if err != nil {
				logger.Error("reload export table: %v", err)
				continue
			}
			agent.SetTable(tbl)
			logger.Info("Export table reloaded: %d entries", len(tbl.Entries))
		}
	}
}
