// Package market is the node's application layer. It verifies signed
// transactions, consumes their nonces and routes them to the settlement engine
// or to the reference token ledger and asset registry.
package market

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/landmarket/params"
	"github.com/uhyunpark/landmarket/pkg/app/core/asset"
	"github.com/uhyunpark/landmarket/pkg/app/core/ledger"
	"github.com/uhyunpark/landmarket/pkg/app/core/policy"
	"github.com/uhyunpark/landmarket/pkg/app/core/settlement"
	"github.com/uhyunpark/landmarket/pkg/app/core/token"
	"github.com/uhyunpark/landmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/landmarket/pkg/crypto"
	"github.com/uhyunpark/landmarket/pkg/events"
	"github.com/uhyunpark/landmarket/pkg/metrics"
	"github.com/uhyunpark/landmarket/pkg/storage"
	"github.com/uhyunpark/landmarket/pkg/util"
)

type Config struct {
	ChainID *big.Int
	Address common.Address // marketplace identity and EIP-712 verifying contract

	Store   storage.KV // nil = in-memory store
	Genesis params.Genesis
	Bus     *events.Bus
	Metrics *metrics.Metrics
	Clock   util.Clock
	Logger  *zap.SugaredLogger
}

type App struct {
	engine   *settlement.Engine
	tokens   *token.Ledger
	assets   *asset.Registry
	nonces   *transaction.NonceTracker
	verifier *transaction.Verifier

	store   storage.KV
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

// New restores state from cfg.Store, or seeds it from cfg.Genesis when the store
// has never been written.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		cfg.Store = storage.NewMemStore()
	}
	if cfg.Bus == nil {
		cfg.Bus = events.NewBus(cfg.Logger)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.ChainID == nil {
		cfg.ChainID = crypto.DefaultDomain().ChainID
	}

	l := ledger.New(cfg.Clock)
	p := policy.New(policy.DefaultState(common.Address{}))
	tokens := token.New(token.DefaultSymbol, token.DefaultDecimals)
	assets := asset.NewRegistry()
	nonces := transaction.NewNonceTracker()

	seeded, err := p.Load(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	if err := l.Load(cfg.Store); err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	if _, err := tokens.Load(cfg.Store); err != nil {
		return nil, fmt.Errorf("failed to load token ledger: %w", err)
	}
	if _, err := assets.Load(cfg.Store); err != nil {
		return nil, fmt.Errorf("failed to load asset registry: %w", err)
	}
	if err := nonces.Load(cfg.Store); err != nil {
		return nil, fmt.Errorf("failed to load nonces: %w", err)
	}

	engine := settlement.NewEngine(settlement.Config{
		Address: cfg.Address,
		Store:   cfg.Store,
		Bus:     cfg.Bus,
		Clock:   cfg.Clock,
		Logger:  cfg.Logger,
	}, l, p, assets, tokens)
	engine.AddParticipant(nonces)

	domain := crypto.Domain{
		Name:              crypto.DefaultDomain().Name,
		Version:           crypto.DefaultDomain().Version,
		ChainID:           cfg.ChainID,
		VerifyingContract: cfg.Address,
	}

	a := &App{
		engine:   engine,
		tokens:   tokens,
		assets:   assets,
		nonces:   nonces,
		verifier: transaction.NewVerifier(domain),
		store:    cfg.Store,
		bus:      cfg.Bus,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}

	if !seeded {
		if err := a.applyGenesis(cfg.Genesis, p); err != nil {
			return nil, fmt.Errorf("failed to apply genesis: %w", err)
		}
		cfg.Logger.Infow("genesis_applied",
			"owner", cfg.Genesis.Owner,
			"assets", len(cfg.Genesis.Assets),
			"balances", len(cfg.Genesis.Balances),
		)
	} else {
		cfg.Logger.Infow("state_loaded",
			"orders", engine.OrderCount(),
			"open_orders", len(engine.OpenOrders()),
			"state_root", engine.StateRoot().Hex(),
		)
	}

	cfg.Metrics.SetOpenOrders(len(engine.OpenOrders()))
	cfg.Bus.Subscribe(cfg.Metrics)
	return a, nil
}

func (a *App) Engine() *settlement.Engine      { return a.engine }
func (a *App) Bus() *events.Bus                { return a.bus }
func (a *App) Metrics() *metrics.Metrics       { return a.metrics }
func (a *App) Verifier() *transaction.Verifier { return a.verifier }
func (a *App) Domain() crypto.Domain           { return a.verifier.TypedSigner().Domain() }
func (a *App) MarketAddress() common.Address   { return a.engine.Address() }
func (a *App) TokenSymbol() string             { return a.tokens.Symbol() }
func (a *App) FormatAmount(v *big.Int) string  { return a.tokens.Format(v) }

// Close closes the underlying store.
func (a *App) Close() error {
	return a.store.Close()
}
