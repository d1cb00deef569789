package config

import (
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	xerrors "Argos-Oracle/internal/errors"
)

const (
	testKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAccount = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

const sampleConfig = `
chain:
  rpc_url: http://127.0.0.1:8545
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  abi_path: AggregatorCore.json
supervisor:
  stagger: 3s
agents:
  - name: crypto
    kind: threshold
    query: "Will SOL close above 250?"
    threshold:
      symbol: SOL
      threshold: 250
      static_price: 255
  - name: sports
    kind: Random
    query: "Will Team A beat Team B?"
  - name: llm
    kind: reasoning
    query: "Will the James Webb Telescope detect biosignatures on K2-18b by 2026?"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "AggregatorCore.json"), []byte(`{"abi": []}`), 0o644); err != nil {
		t.Fatalf("write abi: %v", err)
	}
	path := filepath.Join(dir, "argos.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Supervisor.Stagger != 3*time.Second {
		t.Fatalf("expected configured stagger, got %s", cfg.Supervisor.Stagger)
	}
	if cfg.Supervisor.GracePeriod != 5*time.Second {
		t.Fatalf("expected default grace period, got %s", cfg.Supervisor.GracePeriod)
	}
	if cfg.Chain.GasLimit != 200000 || cfg.Chain.GasPriceGwei != "50" || cfg.Chain.Stake != "0.01" {
		t.Fatalf("unexpected chain defaults: %+v", cfg.Chain)
	}
	if !filepath.IsAbs(cfg.Chain.ABIPath) || filepath.Dir(cfg.Chain.ABIPath) != filepath.Dir(cfg.Path()) {
		t.Fatalf("abi path should resolve next to the config file: %s", cfg.Chain.ABIPath)
	}
	sports, _ := cfg.Agent("sports")
	if sports.Kind != KindRandom || sports.Random.MinConfidence != 70 || sports.Random.MaxConfidence != 95 {
		t.Fatalf("unexpected random defaults: %+v", sports.Random)
	}
	crypto, _ := cfg.Agent("crypto")
	if crypto.Threshold.Confidence != 96 {
		t.Fatalf("unexpected threshold confidence %d", crypto.Threshold.Confidence)
	}
}

func TestExplicitZeroValuesAreKept(t *testing.T) {
	body := `
supervisor:
  stagger: 0s
agents:
  - name: crypto
    kind: threshold
    query: "Will SOL close above 250?"
    threshold:
      confidence: 0
  - name: coin
    kind: random
    query: "Heads?"
    random:
      min_confidence: 0
      max_confidence: 0
  - name: defaults
    kind: random
    query: "Tails?"
    random:
      seed: 7
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Supervisor.Stagger != 0 {
		t.Fatalf("explicit zero stagger replaced by %s", cfg.Supervisor.Stagger)
	}
	crypto, _ := cfg.Agent("crypto")
	if crypto.Threshold.Confidence != 0 {
		t.Fatalf("explicit zero confidence replaced by %d", crypto.Threshold.Confidence)
	}
	coin, _ := cfg.Agent("coin")
	if coin.Random.MinConfidence != 0 || coin.Random.MaxConfidence != 0 {
		t.Fatalf("explicit [0,0] range replaced by [%d,%d]", coin.Random.MinConfidence, coin.Random.MaxConfidence)
	}
	defaults, _ := cfg.Agent("defaults")
	if defaults.Random.MinConfidence != 70 || defaults.Random.MaxConfidence != 95 || defaults.Random.Seed != 7 {
		t.Fatalf("unexpected random defaults: %+v", defaults.Random)
	}
}

func TestValidateRejectsBadAgents(t *testing.T) {
	cases := map[string]string{
		"no agents":    "agents: []\n",
		"unknown kind": "agents:\n  - {name: a, kind: oracle, query: q}\n",
		"duplicate":    "agents:\n  - {name: a, kind: random, query: q}\n  - {name: a, kind: random, query: q}\n",
		"bad range":    "agents:\n  - {name: a, kind: random, query: q, random: {min_confidence: 90, max_confidence: 80}}\n",
		"empty query":  "agents:\n  - {name: a, kind: random}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, body))
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			err = cfg.Validate()
			if !xerrors.IsCode(err, xerrors.CodeConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestResolveAgent(t *testing.T) {
	t.Setenv("AGENT_PRIVATE_KEY", "0x"+testKey)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RPC_URL", "")
	t.Setenv("CONTRACT_ADDRESS", "")

	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	settings, err := cfg.ResolveAgent("llm")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if settings.Account.Hex() != testAccount {
		t.Fatalf("unexpected account %s", settings.Account.Hex())
	}
	if settings.Stake.Cmp(big.NewInt(10_000_000_000_000_000)) != 0 {
		t.Fatalf("unexpected stake %s", settings.Stake)
	}
	if settings.GasPrice.Cmp(big.NewInt(50_000_000_000)) != 0 {
		t.Fatalf("unexpected gas price %s", settings.GasPrice)
	}
	if settings.ReasoningAPIKey.Reveal() != "sk-test" {
		t.Fatalf("api key not picked up from env")
	}
	if settings.SigningKey() == nil {
		t.Fatalf("expected parsed signing key")
	}
}

func TestResolveAgentMissingKey(t *testing.T) {
	t.Setenv("AGENT_PRIVATE_KEY", "")
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err = cfg.ResolveAgent("crypto")
	if !xerrors.IsCode(err, xerrors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "AGENT_PRIVATE_KEY") {
		t.Fatalf("error should name the env var: %v", err)
	}
}

func TestResolveAgentMissingABI(t *testing.T) {
	t.Setenv("AGENT_PRIVATE_KEY", testKey)
	path := writeConfig(t, sampleConfig)
	if err := os.Remove(filepath.Join(filepath.Dir(path), "AggregatorCore.json")); err != nil {
		t.Fatalf("remove abi: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := cfg.ResolveAgent("crypto"); !xerrors.IsCode(err, xerrors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestEnvFileIsLoaded(t *testing.T) {
	t.Setenv("AGENT_PRIVATE_KEY", "")
	os.Unsetenv("AGENT_PRIVATE_KEY")
	path := writeConfig(t, sampleConfig)
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envFile, []byte("AGENT_PRIVATE_KEY="+testKey+"\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	settings, err := cfg.ResolveAgent("crypto")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if settings.Account.Hex() != testAccount {
		t.Fatalf("unexpected account %s", settings.Account.Hex())
	}
}

func TestSecretIsRedacted(t *testing.T) {
	s := Secret("sk-live-123")
	if got := fmt.Sprintf("%v", s); strings.Contains(got, "sk-live") {
		t.Fatalf("secret leaked through fmt: %s", got)
	}
	if got := s.LogValue(); got.Kind() != slog.KindString || got.String() != "[REDACTED]" {
		t.Fatalf("secret leaked through slog: %v", got)
	}
}

func TestParseUnits(t *testing.T) {
	wei, err := parseUnits("0.01", 18)
	if err != nil || wei.String() != "10000000000000000" {
		t.Fatalf("unexpected wei %v (%v)", wei, err)
	}
	if _, err := parseUnits("-1", 18); err == nil {
		t.Fatalf("expected error for negative amount")
	}
	if _, err := parseUnits("0.0000000001", 9); err == nil {
		t.Fatalf("expected error for sub-unit precision")
	}
}
