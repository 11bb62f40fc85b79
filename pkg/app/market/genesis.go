package market

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/landmarket/params"
	"github.com/uhyunpark/landmarket/pkg/app/core/policy"
)

// applyGenesis writes the initial policy, balances, allowances and assets in one
// committed call. Any failure leaves the store untouched.
func (a *App) applyGenesis(g params.Genesis, p *policy.Policy) error {
	if err := g.Validate(); err != nil {
		return err
	}

	state := policy.DefaultState(common.HexToAddress(g.Owner))
	if g.FeePerThousand != nil {
		state.FeePerThousand = *g.FeePerThousand
	}
	if g.FeeReceiver != "" {
		state.FeeReceiver = common.HexToAddress(g.FeeReceiver)
	}
	state.Paused = g.Paused

	return a.engine.Do("genesis", func() error {
		if err := p.Reset(state); err != nil {
			return err
		}
		for _, b := range g.Balances {
			amount, _ := params.ParseAmount(b.Amount)
			if err := a.tokens.Mint(common.HexToAddress(b.Account), amount); err != nil {
				return fmt.Errorf("mint to %s: %w", b.Account, err)
			}
		}
		for _, al := range g.Allowances {
			amount, _ := params.ParseAmount(al.Amount)
			if err := a.tokens.Approve(common.HexToAddress(al.Owner), common.HexToAddress(al.Spender), amount); err != nil {
				return fmt.Errorf("approve %s for %s: %w", al.Spender, al.Owner, err)
			}
		}
		for _, as := range g.Assets {
			id, _ := params.ParseAmount(as.ID)
			owner := common.HexToAddress(as.Owner)
			if err := a.assets.Mint(owner, id); err != nil {
				return fmt.Errorf("mint asset %s: %w", as.ID, err)
			}
			if as.Approved != "" {
				if err := a.assets.Approve(owner, common.HexToAddress(as.Approved), id); err != nil {
					return fmt.Errorf("approve asset %s: %w", as.ID, err)
				}
			}
		}
		for _, op := range g.Operators {
			if err := a.assets.SetApprovalForAll(common.HexToAddress(op.Owner), common.HexToAddress(op.Operator), true); err != nil {
				return fmt.Errorf("operator %s for %s: %w", op.Operator, op.Owner, err)
			}
		}
		return nil
	})
}
