package params

import (
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Storage struct {
	DBPath       string // empty = in-memory store
	EventLogFile string // empty = events are not journaled to disk
}

type API struct {
	Addr         string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type P2P struct {
	Enabled   bool
	Listen    string
	Bootstrap []string
}

type Market struct {
	ChainID *big.Int
	// Address identifies the marketplace on the token ledger and the asset
	// registry. It is the spender users approve and the EIP-712 verifying contract.
	Address     common.Address
	GenesisFile string // empty = built-in devnet genesis
}

type Log struct {
	File    string
	Verbose bool
}

type Config struct {
	Storage Storage
	API     API
	P2P     P2P
	Market  Market
	Log     Log
}

// DefaultMarketAddress is the devnet marketplace identity
var DefaultMarketAddress = common.HexToAddress("0x000000000000000000000000000000000000a4e7")

func Default() Config {
	return Config{
		Storage: Storage{
			DBPath:       "data/landmarket",
			EventLogFile: "data/events.jsonl",
		},
		API: API{
			Addr:         ":8080",
			CORSOrigins:  []string{"*"},
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		P2P: P2P{
			Listen: "/ip4/0.0.0.0/tcp/4001",
		},
		Market: Market{
			ChainID: big.NewInt(1337),
			Address: DefaultMarketAddress,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Storage.DBPath = getEnv("DB_PATH", cfg.Storage.DBPath)
	cfg.Storage.EventLogFile = getEnv("EVENT_LOG_FILE", cfg.Storage.EventLogFile)
	if strings.EqualFold(cfg.Storage.DBPath, "memory") {
		cfg.Storage.DBPath = ""
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = splitList(origins)
	}

	if chainID := os.Getenv("CHAIN_ID"); chainID != "" {
		if id, ok := new(big.Int).SetString(chainID, 10); ok {
			cfg.Market.ChainID = id
		}
	}
	if addr := os.Getenv("MARKET_ADDRESS"); common.IsHexAddress(addr) {
		cfg.Market.Address = common.HexToAddress(addr)
	}
	cfg.Market.GenesisFile = getEnv("GENESIS_FILE", cfg.Market.GenesisFile)

	if enabled := os.Getenv("ENABLE_P2P"); enabled != "" {
		cfg.P2P.Enabled, _ = strconv.ParseBool(enabled)
	}
	cfg.P2P.Listen = getEnv("P2P_LISTEN", cfg.P2P.Listen)
	if peers := os.Getenv("P2P_BOOTSTRAP"); peers != "" {
		cfg.P2P.Bootstrap = splitList(peers)
	}

	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	if verbose := os.Getenv("VERBOSE"); verbose != "" {
		cfg.Log.Verbose, _ = strconv.ParseBool(verbose)
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
