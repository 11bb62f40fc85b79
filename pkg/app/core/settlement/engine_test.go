package settlement

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/landmarket/pkg/app/core/asset"
	"github.com/uhyunpark/landmarket/pkg/app/core/errs"
	"github.com/uhyunpark/landmarket/pkg/app/core/ledger"
	"github.com/uhyunpark/landmarket/pkg/app/core/policy"
	"github.com/uhyunpark/landmarket/pkg/app/core/token"
	"github.com/uhyunpark/landmarket/pkg/events"
	"github.com/uhyunpark/landmarket/pkg/storage"
	"github.com/uhyunpark/landmarket/pkg/util"
)

var (
	deployer = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	user1    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	user2    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	market   = common.HexToAddress("0x00000000000000000000000000000000000000ee")

	land1    = big.NewInt(1)
	land2    = big.NewInt(2)
	tenCloud = big.NewInt(1_000_000_000) // 10 CLOUD at 8 decimals
)

type fixture struct {
	engine *Engine
	tokens *token.Ledger
	assets *asset.Registry
	store  storage.KV
	events []events.Envelope
}

// newFixture mirrors the devnet genesis: lands 1 and 2 owned by user1,
// 10 CLOUD held by user2, deployer owns the policy.
func newFixture(t *testing.T, tokens TokenLedger) *fixture {
	t.Helper()
	return newFixtureWithStore(t, tokens, storage.NewMemStore())
}

func newFixtureWithStore(t *testing.T, tokens TokenLedger, store storage.KV) *fixture {
	t.Helper()

	f := &fixture{assets: asset.NewRegistry(), store: store}
	if tokens == nil {
		f.tokens = token.New(token.DefaultSymbol, token.DefaultDecimals)
		tokens = f.tokens
	}

	bus := events.NewBus(nil)
	bus.Subscribe(events.SubscriberFunc(func(e events.Envelope) { f.events = append(f.events, e) }))

	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	f.engine = NewEngine(Config{Address: market, Store: store, Bus: bus, Clock: clock},
		ledger.New(clock), policy.New(policy.DefaultState(deployer)), f.assets, tokens)

	require.NoError(t, f.engine.Do("genesis", func() error {
		if err := f.assets.Mint(user1, land1); err != nil {
			return err
		}
		if err := f.assets.Mint(user1, land2); err != nil {
			return err
		}
		if f.tokens != nil {
			return f.tokens.Mint(user2, tenCloud)
		}
		return nil
	}))
	return f
}

func (f *fixture) approveAsset(t *testing.T, id *big.Int) {
	t.Helper()
	require.NoError(t, f.engine.Do("approve_asset", func() error {
		return f.assets.Approve(user1, market, id)
	}))
}

func (f *fixture) approveTokens(t *testing.T, owner common.Address, amount *big.Int) {
	t.Helper()
	require.NoError(t, f.engine.Do("approve_token", func() error {
		return f.tokens.Approve(owner, market, amount)
	}))
}

func (f *fixture) listLand1(t *testing.T, price *big.Int) uint64 {
	t.Helper()
	f.approveAsset(t, land1)
	id, err := f.engine.CreateOrder(user1, land1, price)
	require.NoError(t, err)
	return id
}

func (f *fixture) eventTypes() []events.Type {
	out := make([]events.Type, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

// ============================================================================
// CreateOrder
// ============================================================================

func TestCreateOrder(t *testing.T) {
	f := newFixture(t, nil)
	id := f.listLand1(t, tenCloud)
	require.Equal(t, uint64(0), id)

	o, err := f.engine.GetOrder(id)
	require.NoError(t, err)
	require.Equal(t, ledger.Open, o.Status)
	require.Equal(t, user1, o.Seller)
	require.Zero(t, o.Price.Cmp(tenCloud))
	require.Zero(t, o.AssetID.Cmp(land1))

	require.Equal(t, []events.Type{events.TypeOrderCreated}, f.eventTypes())
	created := f.events[0].Data.(events.OrderCreated)
	require.Equal(t, uint64(0), created.OrderID)
	require.Equal(t, user1, created.Seller)

	// Listing does not move custody
	owner, _ := f.assets.OwnerOf(land1)
	require.Equal(t, user1, owner)
}

func TestCreateOrder_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, f *fixture)
		caller  common.Address
		asset   *big.Int
		price   *big.Int
		wantErr error
	}{
		{
			name:    "caller is not the asset owner",
			setup:   func(t *testing.T, f *fixture) { f.approveAsset(t, land1) },
			caller:  user2,
			asset:   land1,
			price:   tenCloud,
			wantErr: errs.ErrNotAssetOwner,
		},
		{
			name:    "zero price",
			setup:   func(t *testing.T, f *fixture) { f.approveAsset(t, land1) },
			caller:  user1,
			asset:   land1,
			price:   big.NewInt(0),
			wantErr: errs.ErrPriceMustBePositive,
		},
		{
			name:    "missing price",
			caller:  user1,
			asset:   land1,
			wantErr: errs.ErrPriceMustBePositive,
		},
		{
			name:    "marketplace not approved",
			caller:  user1,
			asset:   land1,
			price:   tenCloud,
			wantErr: errs.ErrNotAuthorizedToManageAsset,
		},
		{
			name:    "unknown asset",
			caller:  user1,
			asset:   big.NewInt(404),
			price:   tenCloud,
			wantErr: errs.ErrAssetNotFound,
		},
		{
			name: "asset already listed",
			setup: func(t *testing.T, f *fixture) {
				f.listLand1(t, tenCloud)
			},
			caller:  user1,
			asset:   land1,
			price:   big.NewInt(5),
			wantErr: errs.ErrDuplicateOpenOrder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			before := f.engine.OrderCount()
			emitted := len(f.events)

			_, err := f.engine.CreateOrder(tt.caller, tt.asset, tt.price)
			require.ErrorIs(t, err, tt.wantErr)
			require.Equal(t, before, f.engine.OrderCount(), "rejected create must not consume an order id")
			require.Len(t, f.events, emitted, "rejected create must not emit")
		})
	}
}

func TestCreateOrder_SellerApprovedOperator(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.engine.Do("approve_all", func() error {
		return f.assets.SetApprovalForAll(user1, market, true)
	}))

	_, err := f.engine.CreateOrder(user1, land1, tenCloud)
	require.NoError(t, err)
	_, err = f.engine.CreateOrder(user1, land2, tenCloud)
	require.NoError(t, err)
	require.Len(t, f.engine.OpenOrders(), 2)
}

// ============================================================================
// ExecuteOrder
// ============================================================================

func TestExecuteOrder_WithFeeReceiver(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.engine.SetFeeReceiver(deployer, treasury))
	id := f.listLand1(t, tenCloud)
	f.approveTokens(t, user2, tenCloud)

	q, err := f.engine.Quote(id)
	require.NoError(t, err)
	require.Equal(t, int64(25_000_000), q.Fee.Int64())
	require.Equal(t, int64(975_000_000), q.SellerProceeds.Int64())

	require.NoError(t, f.engine.ExecuteOrder(user2, id))

	require.Equal(t, int64(975_000_000), f.tokens.BalanceOf(user1).Int64())
	require.Equal(t, int64(25_000_000), f.tokens.BalanceOf(treasury).Int64())
	require.Zero(t, f.tokens.BalanceOf(user2).Sign())
	require.Zero(t, f.tokens.Allowance(user2, market).Sign())

	owner, _ := f.assets.OwnerOf(land1)
	require.Equal(t, user2, owner)

	o, _ := f.engine.GetOrder(id)
	require.Equal(t, ledger.Executed, o.Status)
	require.Equal(t, user2, o.Buyer)
	_, open := f.engine.OrderForAsset(land1)
	require.False(t, open)

	last := f.events[len(f.events)-1]
	require.Equal(t, events.TypeOrderSuccessful, last.Type)
	sold := last.Data.(events.OrderSuccessful)
	require.Equal(t, user2, sold.Buyer)
	require.Equal(t, user1, sold.Seller)
}

func TestExecuteOrder_WithoutFeeReceiverPaysSellerInFull(t *testing.T) {
	f := newFixture(t, nil)
	id := f.listLand1(t, tenCloud)
	f.approveTokens(t, user2, tenCloud)

	require.NoError(t, f.engine.ExecuteOrder(user2, id))
	require.Zero(t, f.tokens.BalanceOf(user1).Cmp(tenCloud))
}

func TestComputeFee(t *testing.T) {
	tests := []struct {
		price, rate, fee, proceeds int64
	}{
		{1_000_000_000, 25, 25_000_000, 975_000_000},
		{1, 999, 0, 1},
		{1000, 999, 999, 1},
		{999, 1, 0, 999},
		{123_456, 0, 0, 123_456},
	}
	for _, tt := range tests {
		fee, proceeds := ComputeFee(big.NewInt(tt.price), uint64(tt.rate))
		if fee.Int64() != tt.fee || proceeds.Int64() != tt.proceeds {
			t.Errorf("ComputeFee(%d, %d) = %s/%s, want %d/%d", tt.price, tt.rate, fee, proceeds, tt.fee, tt.proceeds)
		}
	}
}

func TestExecuteOrder_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	id := f.listLand1(t, tenCloud)

	err := f.engine.ExecuteOrder(user2, 99)
	require.ErrorIs(t, err, errs.ErrOrderNotFound)

	err = f.engine.ExecuteOrder(user1, id)
	require.ErrorIs(t, err, errs.ErrUnauthorizedBuyer)

	// Balance is enough but nothing approved
	err = f.engine.ExecuteOrder(user2, id)
	require.ErrorIs(t, err, errs.ErrInsufficientAllowance)

	// A third party with no tokens at all
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000a3")
	err = f.engine.ExecuteOrder(stranger, id)
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)

	o, _ := f.engine.GetOrder(id)
	require.Equal(t, ledger.Open, o.Status)
	require.Zero(t, f.tokens.BalanceOf(user2).Cmp(tenCloud))
}

func TestExecuteOrder_Twice(t *testing.T) {
	f := newFixture(t, nil)
	id := f.listLand1(t, big.NewInt(100))
	f.approveTokens(t, user2, tenCloud)

	require.NoError(t, f.engine.ExecuteOrder(user2, id))
	err := f.engine.ExecuteOrder(user2, id)
	require.ErrorIs(t, err, errs.ErrOrderNotOpen)
}

func TestExecuteOrder_SellerMovedAsset(t *testing.T) {
	f := newFixture(t, nil)
	id := f.listLand1(t, tenCloud)
	f.approveTokens(t, user2, tenCloud)

	// user1 gives the land away outside the marketplace
	other := common.HexToAddress("0x00000000000000000000000000000000000000a9")
	require.NoError(t, f.engine.Do("transfer_asset", func() error {
		return f.assets.TransferFrom(user1, user1, other, land1)
	}))

	err := f.engine.ExecuteOrder(user2, id)
	require.ErrorIs(t, err, errs.ErrSellerNoLongerOwner)

	err = f.engine.CancelOrder(user1, id)
	require.ErrorIs(t, err, errs.ErrSellerNoLongerOwner)

	o, _ := f.engine.GetOrder(id)
	require.Equal(t, ledger.Open, o.Status, "order stays open until the seller owns the asset again")
	require.Zero(t, f.tokens.BalanceOf(user2).Cmp(tenCloud))
}

func TestExecuteOrder_RevokedAssetApproval(t *testing.T) {
	f := newFixture(t, nil)
	id := f.listLand1(t, tenCloud)
	f.approveTokens(t, user2, tenCloud)
	require.NoError(t, f.engine.Do("revoke", func() error {
		return f.assets.Approve(user1, common.Address{}, land1)
	}))

	err := f.engine.ExecuteOrder(user2, id)
	require.ErrorIs(t, err, errs.ErrAssetTransferNotAuthorized)
	require.Zero(t, f.tokens.BalanceOf(user1).Sign(), "no tokens may move when the asset leg cannot")
}

// feeLegFailingToken fails every transfer to one address. It embeds the
// reference ledger, so it stays inside the atomic boundary.
type feeLegFailingToken struct {
	*token.Ledger
	failTo common.Address
}

var errFeeLeg = errors.New("fee leg rejected")

func (f feeLegFailingToken) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if to == f.failTo {
		return errFeeLeg
	}
	return f.Ledger.TransferFrom(spender, from, to, amount)
}

func TestExecuteOrder_FailedFeeLegRevertsEverything(t *testing.T) {
	inner := token.New(token.DefaultSymbol, token.DefaultDecimals)
	f := newFixture(t, feeLegFailingToken{Ledger: inner, failTo: treasury})
	f.tokens = inner
	require.NoError(t, f.engine.Do("mint", func() error { return inner.Mint(user2, tenCloud) }))

	require.NoError(t, f.engine.SetFeeReceiver(deployer, treasury))
	id := f.listLand1(t, tenCloud)
	f.approveTokens(t, user2, tenCloud)
	root := f.engine.StateRoot()
	emitted := len(f.events)

	err := f.engine.ExecuteOrder(user2, id)
	require.ErrorIs(t, err, errFeeLeg)

	require.Zero(t, inner.BalanceOf(user1).Sign(), "proceeds leg must be rolled back")
	require.Zero(t, inner.BalanceOf(user2).Cmp(tenCloud))
	require.Zero(t, inner.Allowance(user2, market).Cmp(tenCloud))
	owner, _ := f.assets.OwnerOf(land1)
	require.Equal(t, user1, owner)
	require.Equal(t, root, f.engine.StateRoot())
	require.Len(t, f.events, emitted)

	var bal struct {
		Amount *big.Int `json:"amount"`
	}
	found, err := f.store.Get(storage.BalanceKey(user1), &bal)
	require.NoError(t, err)
	require.False(t, found, "rolled back balance must not reach storage")
}

// ============================================================================
// CancelOrder
// ============================================================================

func TestCancelOrder(t *testing.T) {
	f := newFixture(t, nil)
	id := f.listLand1(t, tenCloud)

	err := f.engine.CancelOrder(user2, id)
	require.ErrorIs(t, err, errs.ErrUnauthorizedCaller)

	require.NoError(t, f.engine.CancelOrder(user1, id))
	o, _ := f.engine.GetOrder(id)
	require.Equal(t, ledger.Cancelled, o.Status)

	f.approveTokens(t, user2, tenCloud)
	err = f.engine.ExecuteOrder(user2, id)
	require.ErrorIs(t, err, errs.ErrOrderNotOpen)

	err = f.engine.CancelOrder(user1, id)
	require.ErrorIs(t, err, errs.ErrOrderNotOpen)

	err = f.engine.CancelOrder(user1, 42)
	require.ErrorIs(t, err, errs.ErrOrderNotFound)

	// The asset can be listed again under a new id
	newID, err := f.engine.CreateOrder(user1, land1, big.NewInt(7))
	require.NoError(t, err)
	require.Equal(t, uint64(1), newID)

	require.Equal(t, []events.Type{
		events.TypeOrderCreated,
		events.TypeOrderCancelled,
		events.TypeOrderCreated,
	}, f.eventTypes())
}

func TestCancelAfterExecute(t *testing.T) {
	f := newFixture(t, nil)
	id := f.listLand1(t, tenCloud)
	f.approveTokens(t, user2, tenCloud)
	require.NoError(t, f.engine.ExecuteOrder(user2, id))

	err := f.engine.CancelOrder(user1, id)
	require.ErrorIs(t, err, errs.ErrOrderNotOpen)
}

// ============================================================================
// Administration
// ============================================================================

func TestPause(t *testing.T) {
	f := newFixture(t, nil)
	id := f.listLand1(t, tenCloud)
	f.approveTokens(t, user2, tenCloud)
	f.approveAsset(t, land2)

	require.ErrorIs(t, f.engine.TogglePause(user1), errs.ErrCallerNotOwner)
	require.NoError(t, f.engine.TogglePause(deployer))

	_, err := f.engine.CreateOrder(user1, land2, tenCloud)
	require.ErrorIs(t, err, errs.ErrSystemPaused)
	require.ErrorIs(t, f.engine.ExecuteOrder(user2, id), errs.ErrSystemPaused)

	// Sellers can still withdraw while paused
	require.NoError(t, f.engine.CancelOrder(user1, id))

	require.NoError(t, f.engine.TogglePause(deployer))
	_, err = f.engine.CreateOrder(user1, land2, tenCloud)
	require.NoError(t, err)
}

func TestSetFeePerThousand(t *testing.T) {
	f := newFixture(t, nil)

	require.ErrorIs(t, f.engine.SetFeePerThousand(deployer, 1000), errs.ErrFeeOutOfRange)
	require.Equal(t, uint64(25), f.engine.Policy().FeePerThousand)

	require.ErrorIs(t, f.engine.SetFeePerThousand(user1, 10), errs.ErrCallerNotOwner)

	require.NoError(t, f.engine.SetFeePerThousand(deployer, 50))
	require.Equal(t, uint64(50), f.engine.Policy().FeePerThousand)

	last := f.events[len(f.events)-1].Data.(events.FeeChanged)
	require.Equal(t, events.FeeChanged{OldFee: 25, NewFee: 50}, last)
}

func TestOwnershipTransfer(t *testing.T) {
	f := newFixture(t, nil)

	require.ErrorIs(t, f.engine.TransferOwnership(deployer, common.Address{}), errs.ErrZeroAddress)
	require.NoError(t, f.engine.TransferOwnership(deployer, user1))
	require.ErrorIs(t, f.engine.SetFeeReceiver(deployer, treasury), errs.ErrCallerNotOwner)
	require.NoError(t, f.engine.SetFeeReceiver(user1, treasury))

	require.NoError(t, f.engine.RenounceOwnership(user1))
	require.ErrorIs(t, f.engine.TogglePause(user1), errs.ErrCallerNotOwner)
	require.Equal(t, common.Address{}, f.engine.Policy().Owner)
}

// ============================================================================
// Properties
// ============================================================================

func TestRandomSequenceKeepsOneOpenOrderPerAsset(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.engine.Do("setup", func() error {
		for i := int64(3); i <= 6; i++ {
			if err := f.assets.Mint(user1, big.NewInt(i)); err != nil {
				return err
			}
		}
		if err := f.assets.SetApprovalForAll(user1, market, true); err != nil {
			return err
		}
		return f.tokens.Approve(user2, market, tenCloud)
	}))

	rng := rand.New(rand.NewSource(7))
	for step := 0; step < 300; step++ {
		assetID := big.NewInt(int64(rng.Intn(6) + 1))
		switch rng.Intn(3) {
		case 0:
			owner, _ := f.assets.OwnerOf(assetID)
			_, _ = f.engine.CreateOrder(owner, assetID, big.NewInt(int64(rng.Intn(3))))
		case 1:
			if n := f.engine.OrderCount(); n > 0 {
				_ = f.engine.ExecuteOrder(user2, uint64(rng.Intn(n)))
			}
		case 2:
			if n := f.engine.OrderCount(); n > 0 {
				id := uint64(rng.Intn(n))
				o, _ := f.engine.GetOrder(id)
				_ = f.engine.CancelOrder(o.Seller, id)
			}
		}

		f.engine.View(func() {
			if err := f.engine.ledger.CheckInvariants(); err != nil {
				t.Fatalf("step %d: %v", step, err)
			}
		})
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	store, err := storage.NewPebbleStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := newFixtureWithStore(t, nil, store)
	require.NoError(t, f.engine.SetFeeReceiver(deployer, treasury))
	id := f.listLand1(t, tenCloud)
	f.approveTokens(t, user2, tenCloud)
	require.NoError(t, f.engine.ExecuteOrder(user2, id))
	f.approveAsset(t, land2)
	_, err = f.engine.CreateOrder(user1, land2, big.NewInt(300))
	require.NoError(t, err)

	l := ledger.New(nil)
	require.NoError(t, l.Load(store))
	require.Equal(t, f.engine.StateRoot(), l.StateRoot())
	require.Equal(t, 2, l.Len())

	p := policy.New(policy.DefaultState(common.Address{}))
	found, err := p.Load(store)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, treasury, p.FeeReceiver())

	tk := token.New(token.DefaultSymbol, token.DefaultDecimals)
	_, err = tk.Load(store)
	require.NoError(t, err)
	require.Equal(t, int64(975_000_000), tk.BalanceOf(user1).Int64())
	require.Equal(t, int64(25_000_000), tk.BalanceOf(treasury).Int64())

	reg := asset.NewRegistry()
	_, err = reg.Load(store)
	require.NoError(t, err)
	owner, err := reg.OwnerOf(land1)
	require.NoError(t, err)
	require.Equal(t, user2, owner)
}
