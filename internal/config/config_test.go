package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestFlattenYAMLNestedKeys(t *testing.T) {
	raw := map[string]any{
		"indexer": map[string]any{
			"poll-interval": "5s",
			"db": map[string]any{
				"dsn": "postgres://localhost/dex",
			},
		},
		"market symbols": []any{"SOL-PERP", " BTC-PERP ", nil},
		"solana_rpc_url":  "http://127.0.0.1:8899",
		"ignored":         nil,
	}

	got, err := flattenYAML(raw)
	if err != nil {
		t.Fatalf("flattenYAML returned error: %v", err)
	}

	want := map[string]string{
		"INDEXER_POLL_INTERVAL": "5s",
		"INDEXER_DB_DSN":        "postgres://localhost/dex",
		"MARKET_SYMBOLS":        "SOL-PERP,BTC-PERP",
		"SOLANA_RPC_URL":        "http://127.0.0.1:8899",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("flattenYAML mismatch\n got: %v\nwant: %v", got, want)
	}
}

func TestFlattenYAMLRejectsNestedLists(t *testing.T) {
	raw := map[string]any{"markets": []any{[]any{"a"}}}
	if _, err := flattenYAML(raw); err == nil {
		t.Fatal("expected error for nested list")
	}
}

func TestLoadFileLayerMissingDefaultIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	layer, err := loadFileLayer("", "")
	if err != nil {
		t.Fatalf("loadFileLayer returned error: %v", err)
	}
	if layer.loaded {
		t.Fatal("expected layer to be unloaded")
	}
	if layer.phase != "local" {
		t.Fatalf("phase=%q want local", layer.phase)
	}
}

func TestLoadFileLayerExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	body := "crank:\n  poll_interval: 3s\nmarket_symbols:\n  - SOL-PERP\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	layer, err := loadFileLayer("devnet", path)
	if err != nil {
		t.Fatalf("loadFileLayer returned error: %v", err)
	}
	if !layer.loaded {
		t.Fatal("expected layer to be loaded")
	}
	if layer.values["CRANK_POLL_INTERVAL"] != "3s" {
		t.Fatalf("CRANK_POLL_INTERVAL=%q", layer.values["CRANK_POLL_INTERVAL"])
	}
	if layer.values["MARKET_SYMBOLS"] != "SOL-PERP" {
		t.Fatalf("MARKET_SYMBOLS=%q", layer.values["MARKET_SYMBOLS"])
	}

	if _, err := loadFileLayer("devnet", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_CFG_DURATION", "750ms")
	t.Setenv("TEST_CFG_BAD_DURATION", "-1s")
	t.Setenv("TEST_CFG_INT", "0")
	t.Setenv("TEST_CFG_COMMITMENT", "Finalized")

	d, err := envDuration("TEST_CFG_DURATION", time.Second)
	if err != nil || d != 750*time.Millisecond {
		t.Fatalf("envDuration=%v err=%v", d, err)
	}
	if _, err := envDuration("TEST_CFG_BAD_DURATION", time.Second); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if _, err := envInt("TEST_CFG_INT", 1); err == nil {
		t.Fatal("expected error for zero int")
	}
	if v, err := envNonNegativeInt("TEST_CFG_INT", 7); err != nil || v != 0 {
		t.Fatalf("envNonNegativeInt=%d err=%v", v, err)
	}
	if v, err := envInt("TEST_CFG_UNSET", 9); err != nil || v != 9 {
		t.Fatalf("envInt fallback=%d err=%v", v, err)
	}
	c, err := envCommitment("TEST_CFG_COMMITMENT", "")
	if err != nil || c != "finalized" {
		t.Fatalf("envCommitment=%q err=%v", c, err)
	}
}

func TestParseCSVAndNormalizeSymbols(t *testing.T) {
	got := NormalizeSymbols(parseCSVEnv(" SOL-PERP, ,BTC-PERP,SOL-PERP ", nil))
	want := []string{"SOL-PERP", "BTC-PERP"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("symbols=%v want %v", got, want)
	}
	if out := parseCSVEnv(" , ", []string{"*"}); !reflect.DeepEqual(out, []string{"*"}) {
		t.Fatalf("fallback=%v", out)
	}
}

func TestExpandHomePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := expandHomePath("~/.config/solana/id.json")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, ".config/solana/id.json"); got != want {
		t.Fatalf("expandHomePath=%q want %q", got, want)
	}
	if got, _ := expandHomePath("/abs/key.json"); got != "/abs/key.json" {
		t.Fatalf("absolute path changed: %q", got)
	}
}
