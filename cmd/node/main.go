package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/uhyunpark/landmarket/params"
	"github.com/uhyunpark/landmarket/pkg/api"
	"github.com/uhyunpark/landmarket/pkg/app/market"
	"github.com/uhyunpark/landmarket/pkg/events"
	"github.com/uhyunpark/landmarket/pkg/p2p"
	"github.com/uhyunpark/landmarket/pkg/storage"
	"github.com/uhyunpark/landmarket/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewNodeLogger(cfg.Log.File, cfg.Log.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Log.File, "verbose", cfg.Log.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	var store storage.KV
	if cfg.Storage.DBPath == "" {
		store = storage.NewMemStore()
		sugar.Warn("using in-memory store, state is lost on exit")
	} else {
		ps, err := storage.NewPebbleStore(cfg.Storage.DBPath)
		if err != nil {
			sugar.Fatalw("store_open_failed", "path", cfg.Storage.DBPath, "err", err)
		}
		store = ps
		sugar.Infow("store_opened", "path", cfg.Storage.DBPath)
	}

	genesis, err := params.LoadGenesis(cfg.Market.GenesisFile)
	if err != nil {
		sugar.Fatalw("genesis_load_failed", "file", cfg.Market.GenesisFile, "err", err)
	}

	// ---- App: marketplace ----
	bus := events.NewBus(sugar)
	app, err := market.New(market.Config{
		ChainID: cfg.Market.ChainID,
		Address: cfg.Market.Address,
		Store:   store,
		Genesis: genesis,
		Bus:     bus,
		Logger:  sugar,
	})
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}
	defer app.Close()

	if cfg.Storage.EventLogFile != "" {
		journal, err := storage.NewFileEventLog(cfg.Storage.EventLogFile)
		if err != nil {
			sugar.Fatalw("event_log_open_failed", "file", cfg.Storage.EventLogFile, "err", err)
		}
		defer journal.Close()
		bus.Subscribe(events.Journal(journal, sugar))
	}

	// ---- Gossip (optional) ----
	if cfg.P2P.Enabled {
		lpn, err := p2p.NewLibp2pNet(ctx, p2p.Libp2pConfig{
			ListenAddr: cfg.P2P.Listen,
			Bootstrap:  cfg.P2P.Bootstrap,
			Logger:     sugar,
		})
		if err != nil {
			sugar.Fatalw("libp2p_init_failed", "err", err)
		}
		defer lpn.Close()
		lpn.SetRemoteHandler(func(from peer.ID, ev events.Envelope) {
			sugar.Debugw("gossip_event_received", "from", from.String(), "event", ev.Type, "id", ev.ID)
		})
		bus.Subscribe(lpn)
		sugar.Infow("gossip_enabled", "addrs", lpn.Addrs())
	}

	domain := app.Domain()
	sugar.Infow("node_starting",
		"market", domain.VerifyingContract.Hex(),
		"chain_id", domain.ChainID.String(),
		"token", app.TokenSymbol(),
		"state_root", app.Engine().StateRoot().Hex(),
	)

	// ---- API Server ----
	apiServer := api.NewServer(app, cfg.API, sugar)
	if err := apiServer.Start(ctx); err != nil {
		sugar.Errorw("api_server_failed", "err", err)
	}
	sugar.Info("node_stopped")
}
