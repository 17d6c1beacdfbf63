package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RunLoop configures the clearing cycle's cadence.
type RunLoop struct {
	TickInterval   time.Duration
	SolverDeadline time.Duration
}

// Solvers configures which solver endpoints the run loop dispatches to.
type Solvers struct {
	Endpoints []string
}

// Chain configures the settlement contract and EIP-712 domain the
// observer and order digest packages need to interpret on-chain data.
type Chain struct {
	ChainID            int64
	SettlementContract string
	RPCURL             string
}

type Config struct {
	RunLoop RunLoop
	Solvers Solvers
	Chain   Chain
}

func Default() Config {
	return Config{
		RunLoop: RunLoop{
			TickInterval:   5 * time.Second,
			SolverDeadline: 15 * time.Second,
		},
		Solvers: Solvers{
			Endpoints: nil,
		},
		Chain: Chain{
			ChainID:            1,
			SettlementContract: "0x9008D19f58AAbD9eD0D60971565AA8510560ab41",
			RPCURL:             "",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if ms := envInt("RUNLOOP_TICK_INTERVAL_MS"); ms != 0 {
		cfg.RunLoop.TickInterval = time.Duration(ms) * time.Millisecond
	}
	if ms := envInt("RUNLOOP_SOLVER_DEADLINE_MS"); ms != 0 {
		cfg.RunLoop.SolverDeadline = time.Duration(ms) * time.Millisecond
	}

	if endpoints := os.Getenv("SOLVER_ENDPOINTS"); endpoints != "" {
		cfg.Solvers.Endpoints = strings.Split(endpoints, ",")
	}

	if chainID := envInt("CHAIN_ID"); chainID != 0 {
		cfg.Chain.ChainID = chainID
	}
	cfg.Chain.SettlementContract = getEnv("CHAIN_SETTLEMENT_CONTRACT", cfg.Chain.SettlementContract)
	cfg.Chain.RPCURL = getEnv("CHAIN_RPC_URL", cfg.Chain.RPCURL)

	return cfg
}

func envInt(key string) int64 {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
