package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"campuscore/keygate/pkg/cli"
	"campuscore/keygate/pkg/config"
	"campuscore/keygate/pkg/seal"
	"campuscore/keygate/pkg/tier"
	"campuscore/keygate/pkg/vault"
)

const testKeyEnv = "KEYGATE_TEST_SEAL_KEY"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Vault.Backend = "memory"
	cfg.Ledger.Backend = "memory"
	cfg.Seal.KeyEnv = testKeyEnv
	cfg.Seal.KeyFile = ""
	return cfg
}

func setTestKey(t *testing.T) {
	t.Helper()
	key, err := seal.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	t.Setenv(testKeyEnv, key)
}

func TestNewApp_MemoryStack(t *testing.T) {
	setTestKey(t)
	ctx := context.Background()

	a, err := newApp(ctx, testConfig(t), appOptions{needSeal: true, ledger: true})
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	defer a.Close()

	if a.ledgerSink == nil || a.pruner == nil || a.ledgerStorage == nil {
		t.Fatal("Expected ledger components when the ledger is enabled")
	}
	if len(a.registry.Tiers()) != len(tier.All) {
		t.Errorf("Expected %d default tiers, got %d", len(tier.All), len(a.registry.Tiers()))
	}

	c, err := a.vault.Provision(ctx, vault.ProvisionRequest{ID: "fast-1", Tier: tier.Fast, Material: []byte("sk-test")})
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	material, err := a.vault.Unseal(c)
	if err != nil {
		t.Fatalf("Unseal failed: %v", err)
	}
	if string(material) != "sk-test" {
		t.Errorf("Expected sk-test, got %q", material)
	}

	report, err := a.sweeper.RunScheduledSweep(ctx)
	if err != nil {
		t.Fatalf("RunScheduledSweep failed: %v", err)
	}
	if report.Credentials != 1 {
		t.Errorf("Expected 1 credential swept, got %d", report.Credentials)
	}
}

func TestNewApp_SealKey(t *testing.T) {
	t.Setenv(testKeyEnv, "")

	_, err := newApp(context.Background(), testConfig(t), appOptions{needSeal: true})
	if cli.ExitCode(err) != cli.ExitConfig {
		t.Fatalf("Expected config error without a seal key, got %v", err)
	}

	a, err := newApp(context.Background(), testConfig(t), appOptions{})
	if err != nil {
		t.Fatalf("Expected read-only app without a seal key, got %v", err)
	}
	defer a.Close()
	if a.ledgerSink != nil {
		t.Error("Expected no ledger when not requested")
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	cfg := config.VaultConfig{Backend: "sqlite"}
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "nested", "vault.db")
	st, err := openStore(ctx, cfg)
	if err != nil {
		t.Fatalf("openStore(sqlite) failed: %v", err)
	}
	defer st.Close()
	if _, err := os.Stat(cfg.SQLite.Path); err != nil {
		t.Errorf("Expected database file to be created: %v", err)
	}

	_, err = openStore(ctx, config.VaultConfig{Backend: "etcd"})
	if cli.ExitCode(err) != cli.ExitConfig {
		t.Errorf("Expected config error for unknown backend, got %v", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("Expected missing env file to be ignored, got %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("KEYGATE_TEST_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KEYGATE_TEST_DOTENV", "")
	os.Unsetenv("KEYGATE_TEST_DOTENV")

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile failed: %v", err)
	}
	if got := os.Getenv("KEYGATE_TEST_DOTENV"); got != "loaded" {
		t.Errorf("Expected loaded, got %q", got)
	}
}
