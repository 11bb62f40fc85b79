package params

import (
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Genesis is the initial state written into an empty store.
//
//	owner: "0x..."
//	feePerThousand: 25
//	feeReceiver: ""
//	balances:
//	  - {account: "0x...", amount: "1000000000"}
//	allowances:
//	  - {owner: "0x...", spender: "0x...", amount: "1000000000"}
//	assets:
//	  - {id: "1", owner: "0x...", approved: "0x..."}
//	operators:
//	  - {owner: "0x...", operator: "0x..."}
type Genesis struct {
	Owner          string             `yaml:"owner"`
	FeePerThousand *uint64            `yaml:"feePerThousand"`
	FeeReceiver    string             `yaml:"feeReceiver"`
	Paused         bool               `yaml:"paused"`
	Balances       []GenesisBalance   `yaml:"balances"`
	Allowances     []GenesisAllowance `yaml:"allowances"`
	Assets         []GenesisAsset     `yaml:"assets"`
	Operators      []GenesisOperator  `yaml:"operators"`
	Accounts       map[string]string  `yaml:"accounts"` // label → address, informational
}

type GenesisBalance struct {
	Account string `yaml:"account"`
	Amount  string `yaml:"amount"` // base units
}

type GenesisAllowance struct {
	Owner   string `yaml:"owner"`
	Spender string `yaml:"spender"`
	Amount  string `yaml:"amount"`
}

type GenesisAsset struct {
	ID       string `yaml:"id"`
	Owner    string `yaml:"owner"`
	Approved string `yaml:"approved"`
}

type GenesisOperator struct {
	Owner    string `yaml:"owner"`
	Operator string `yaml:"operator"`
}

// Devnet accounts. Keys are derived from well-known test seeds; never fund them on
// a real network.
const (
	DevnetDeployerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	DevnetUser1Key    = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	DevnetUser2Key    = "5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
)

var (
	DevnetDeployer = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	DevnetUser1    = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	DevnetUser2    = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

// DevnetGenesis: lands 1 and 2 owned by user1, 10 CLOUD held by user2, the
// deployer owns the marketplace.
func DevnetGenesis() Genesis {
	return Genesis{
		Owner: DevnetDeployer.Hex(),
		Balances: []GenesisBalance{
			{Account: DevnetUser2.Hex(), Amount: "1000000000"},
		},
		Assets: []GenesisAsset{
			{ID: "1", Owner: DevnetUser1.Hex()},
			{ID: "2", Owner: DevnetUser1.Hex()},
		},
		Accounts: map[string]string{
			"deployer": DevnetDeployer.Hex(),
			"user1":    DevnetUser1.Hex(),
			"user2":    DevnetUser2.Hex(),
		},
	}
}

// LoadGenesis reads a YAML genesis file. An empty path returns the devnet genesis.
func LoadGenesis(path string) (Genesis, error) {
	if path == "" {
		return DevnetGenesis(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, fmt.Errorf("failed to read genesis %s: %w", path, err)
	}
	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return Genesis{}, fmt.Errorf("failed to parse genesis %s: %w", path, err)
	}
	if err := g.Validate(); err != nil {
		return Genesis{}, fmt.Errorf("invalid genesis %s: %w", path, err)
	}
	return g, nil
}

func (g Genesis) Marshal() ([]byte, error) {
	return yaml.Marshal(g)
}

// Validate checks addresses and amounts. Semantic checks (duplicate assets,
// approvals by non-owners) happen when the genesis is applied.
func (g Genesis) Validate() error {
	if !common.IsHexAddress(g.Owner) {
		return fmt.Errorf("owner %q is not an address", g.Owner)
	}
	if g.FeePerThousand != nil && *g.FeePerThousand > 999 {
		return fmt.Errorf("feePerThousand %d out of range", *g.FeePerThousand)
	}
	if g.FeeReceiver != "" && !common.IsHexAddress(g.FeeReceiver) {
		return fmt.Errorf("feeReceiver %q is not an address", g.FeeReceiver)
	}
	for i, b := range g.Balances {
		if !common.IsHexAddress(b.Account) {
			return fmt.Errorf("balances[%d]: account %q is not an address", i, b.Account)
		}
		if _, err := ParseAmount(b.Amount); err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
	}
	for i, a := range g.Allowances {
		if !common.IsHexAddress(a.Owner) || !common.IsHexAddress(a.Spender) {
			return fmt.Errorf("allowances[%d]: invalid address", i)
		}
		if _, err := ParseAmount(a.Amount); err != nil {
			return fmt.Errorf("allowances[%d]: %w", i, err)
		}
	}
	for i, a := range g.Assets {
		if _, err := ParseAmount(a.ID); err != nil {
			return fmt.Errorf("assets[%d]: id: %w", i, err)
		}
		if !common.IsHexAddress(a.Owner) {
			return fmt.Errorf("assets[%d]: owner %q is not an address", i, a.Owner)
		}
		if a.Approved != "" && !common.IsHexAddress(a.Approved) {
			return fmt.Errorf("assets[%d]: approved %q is not an address", i, a.Approved)
		}
	}
	for i, o := range g.Operators {
		if !common.IsHexAddress(o.Owner) || !common.IsHexAddress(o.Operator) {
			return fmt.Errorf("operators[%d]: invalid address", i)
		}
	}
	return nil
}

// ParseAmount parses a decimal uint256
func ParseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 || n.BitLen() > 256 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}
