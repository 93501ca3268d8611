package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apphttp "github.com/crosslane/bridge-middleware/pkg/app/http"
	"github.com/crosslane/bridge-middleware/pkg/bridge"
	"github.com/crosslane/bridge-middleware/pkg/chain"
	"github.com/crosslane/bridge-middleware/pkg/config"
	"github.com/crosslane/bridge-middleware/pkg/indexer"
	"github.com/crosslane/bridge-middleware/pkg/pgutil"
	"github.com/crosslane/bridge-middleware/pkg/registry"
	"github.com/crosslane/bridge-middleware/pkg/store"
	"github.com/crosslane/bridge-middleware/pkg/subgraph"
	"github.com/crosslane/bridge-middleware/pkg/token"
)

const defaultRequestTimeout = 60

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting bridge middleware API server",
		zap.String("config", *configPath),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	logger.Info("Connected to database",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database))

	st := store.NewStore(db)

	// Trust configuration is all-or-nothing: a malformed address or an
	// empty trusted set must stop the process, not degrade it.
	reg := registry.New(logger)
	clients := make(map[uint64]*chain.Client, len(cfg.Networks))
	endpoints := make(map[uint64]string, len(cfg.Networks))
	resolver := token.NewResolver(logger)
	for i := range cfg.Networks {
		netCfg := &cfg.Networks[i]

		if err := reg.Configure(netCfg.ChainID, netCfg.BridgeContracts, nil); err != nil {
			logger.Fatal("Failed to configure trusted bridge contracts", zap.Error(err))
		}
		if err := reg.ConfigureManagers(netCfg.ChainID, netCfg.ManagerContracts, nil); err != nil {
			logger.Fatal("Failed to configure manager contracts", zap.Error(err))
		}
		if reg.TrustedCount(netCfg.ChainID) == 0 {
			logger.Fatal("No trusted contracts configured",
				zap.Uint64("chain_id", netCfg.ChainID))
		}

		client, err := chain.NewClient(netCfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect to network",
				zap.String("network", netCfg.Name), zap.Error(err))
		}
		defer client.Close()

		clients[netCfg.ChainID] = client
		endpoints[netCfg.ChainID] = netCfg.SubgraphURL
		resolver.Register(netCfg.ChainID, client, netCfg.NativeSymbol, netCfg.NativeDecimals)
	}

	index := subgraph.NewClient(endpoints, 15*time.Second, logger)
	extractor := chain.NewExtractor(reg, logger)

	readers := make(map[uint64]bridge.ChainReader, len(clients))
	for chainID, client := range clients {
		readers[chainID] = client
	}
	bridgeService := bridge.NewService(
		readers, extractor, reg, resolver, st, index,
		cfg.Bridge.NegativeCacheTTL, logger,
	)

	indexers := make([]*indexer.FeeIndexer, 0, len(cfg.Networks))
	for i := range cfg.Networks {
		netCfg := &cfg.Networks[i]
		indexers = append(indexers, indexer.NewFeeIndexer(
			netCfg, &cfg.Indexer, clients[netCfg.ChainID], st, st, resolver, logger,
		))
	}
	manager := indexer.NewManager(indexers, logger)
	if cfg.Indexer.AutoStart {
		if err := manager.StartAll(ctx); err != nil {
			logger.Fatal("Failed to start fee indexers", zap.Error(err))
		}
	}

	router := setupRouter(cfg, bridgeService, manager, st, logger)

	err = apphttp.ServeAndWait(ctx, router, logger, &cfg.Server, cfg.Shutdown.Timeout)

	// Stop background indexing before deferred DB/client closes kick in.
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
	defer cancel()
	if stopErr := manager.StopAll(stopCtx); stopErr != nil {
		logger.Warn("Failed to stop fee indexers cleanly", zap.Error(stopErr))
	}

	if err != nil {
		logger.Fatal("Server exited with error", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func setupRouter(
	cfg *config.Config,
	bridgeService *bridge.Service,
	manager *indexer.Manager,
	st *store.Store,
	logger *zap.Logger,
) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Second * defaultRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		bridge.RegisterRoutes(r, bridgeService, logger)
		indexer.RegisterRoutes(r, manager, st, logger)
	})

	return r
}
