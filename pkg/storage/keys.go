package storage

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema
//
//	ord:{orderID:020d}              → ledger.Order
//	pol                             → policy.State
//	bal:{address}                   → token balance
//	alw:{owner}:{spender}           → token allowance
//	nft:{assetID:32-byte hex}       → asset owner + single approval
//	opr:{owner}:{operator}          → operator approval
//	nonce:{address}                 → last accepted transaction nonce
//
// Order ids are zero-padded so a prefix scan returns them in creation order.
const (
	prefixOrder     = "ord:"
	prefixBalance   = "bal:"
	prefixAllowance = "alw:"
	prefixAsset     = "nft:"
	prefixOperator  = "opr:"
	prefixNonce     = "nonce:"
	keyPolicy       = "pol"
)

func OrderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func OrderPrefix() []byte { return []byte(prefixOrder) }

func PolicyKey() []byte { return []byte(keyPolicy) }

func BalanceKey(addr common.Address) []byte {
	return []byte(prefixBalance + addr.Hex())
}

func BalancePrefix() []byte { return []byte(prefixBalance) }

func AllowanceKey(owner, spender common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixAllowance, owner.Hex(), spender.Hex()))
}

func AllowancePrefix() []byte { return []byte(prefixAllowance) }

// AssetKey encodes the id as a fixed-width 32-byte hex string (uint256).
func AssetKey(id *big.Int) []byte {
	return []byte(prefixAsset + common.BigToHash(id).Hex())
}

func AssetPrefix() []byte { return []byte(prefixAsset) }

func OperatorKey(owner, operator common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOperator, owner.Hex(), operator.Hex()))
}

func OperatorPrefix() []byte { return []byte(prefixOperator) }

func NonceKey(addr common.Address) []byte {
	return []byte(prefixNonce + addr.Hex())
}

func NoncePrefix() []byte { return []byte(prefixNonce) }

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
