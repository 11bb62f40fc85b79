package settlement

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/landmarket/pkg/storage"
)

// AssetRegistry is the non-fungible asset registry the engine settles against.
// Unknown ids return an error wrapping errs.ErrAssetNotFound.
type AssetRegistry interface {
	OwnerOf(id *big.Int) (common.Address, error)
	IsApprovedOrOwner(spender common.Address, id *big.Int) (bool, error)
	TransferFrom(spender, from, to common.Address, id *big.Int) error
}

// TokenLedger is the fungible token ledger prices are paid in.
type TokenLedger interface {
	BalanceOf(account common.Address) *big.Int
	Allowance(owner, spender common.Address) *big.Int
	TransferFrom(spender, from, to common.Address, amount *big.Int) error
}

// Journaled is implemented by every participant whose writes the engine can roll
// back and flush to storage as one batch.
type Journaled interface {
	Snapshot() int
	RevertToSnapshot(snap int)
	// Persist writes everything changed since the last Commit.
	Persist(w storage.Writer) error
	Commit()
}
