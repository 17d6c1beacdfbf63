package params

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"RUNLOOP_TICK_INTERVAL_MS", "RUNLOOP_SOLVER_DEADLINE_MS",
		"SOLVER_ENDPOINTS", "CHAIN_ID", "CHAIN_SETTLEMENT_CONTRACT", "CHAIN_RPC_URL",
	} {
		os.Unsetenv(k)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.RunLoop.TickInterval != 5*time.Second {
		t.Errorf("tick interval: got %v", cfg.RunLoop.TickInterval)
	}
	if cfg.Chain.ChainID != 1 {
		t.Errorf("chain id: got %d", cfg.Chain.ChainID)
	}
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	os.Setenv("RUNLOOP_TICK_INTERVAL_MS", "2500")
	os.Setenv("SOLVER_ENDPOINTS", "http://a,http://b")
	os.Setenv("CHAIN_ID", "5")
	os.Setenv("CHAIN_SETTLEMENT_CONTRACT", "0xabc")

	cfg := LoadFromEnv("/nonexistent/.env")

	if cfg.RunLoop.TickInterval != 2500*time.Millisecond {
		t.Errorf("tick interval: got %v", cfg.RunLoop.TickInterval)
	}
	if len(cfg.Solvers.Endpoints) != 2 || cfg.Solvers.Endpoints[0] != "http://a" {
		t.Errorf("solver endpoints: got %v", cfg.Solvers.Endpoints)
	}
	if cfg.Chain.ChainID != 5 {
		t.Errorf("chain id: got %d", cfg.Chain.ChainID)
	}
	if cfg.Chain.SettlementContract != "0xabc" {
		t.Errorf("settlement contract: got %s", cfg.Chain.SettlementContract)
	}
}

func TestLoadFromEnvKeepsDefaultsWhenUnset(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	cfg := LoadFromEnv("/nonexistent/.env")
	def := Default()

	if cfg.RunLoop.SolverDeadline != def.RunLoop.SolverDeadline {
		t.Errorf("expected default solver deadline kept, got %v", cfg.RunLoop.SolverDeadline)
	}
	if cfg.Chain.SettlementContract != def.Chain.SettlementContract {
		t.Errorf("expected default settlement contract kept, got %s", cfg.Chain.SettlementContract)
	}
}
