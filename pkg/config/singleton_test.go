package config

import (
	"os"
	"strings"
	"testing"
)

func TestInitializeAndGetConfig(t *testing.T) {
	resetForTest()
	t.Cleanup(resetForTest)

	path := writeConfig(t, sampleYAML)
	if err := Initialize(path); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	cfg := GetConfig()
	if cfg == nil {
		t.Fatal("expected config after Initialize")
	}
	if cfg.Server.ListenAddress != "0.0.0.0:9100" {
		t.Errorf("unexpected listen address %q", cfg.Server.ListenAddress)
	}

	// Second Initialize is ignored.
	if err := Initialize(writeConfig(t, "server:\n  listen_address: \"1.2.3.4:1\"\n")); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	if GetConfig().Server.ListenAddress != "0.0.0.0:9100" {
		t.Error("second Initialize should not replace the configuration")
	}
}

func TestReloadConfig_NotifiesListeners(t *testing.T) {
	resetForTest()
	t.Cleanup(resetForTest)

	path := writeConfig(t, sampleYAML)
	if err := Initialize(path); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	var notified *Config
	OnReload(func(c *Config) { notified = c })

	updated := strings.Replace(sampleYAML, "tpm: 500000", "tpm: 600000", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	if err := ReloadConfig(""); err != nil {
		t.Fatalf("ReloadConfig failed: %v", err)
	}
	if notified == nil {
		t.Fatal("expected listener to be notified")
	}
	if notified.Tiers["fast"].TPM != 600000 {
		t.Errorf("expected reloaded fast tpm 600000, got %d", notified.Tiers["fast"].TPM)
	}
	if GetConfig() != notified {
		t.Error("expected global config to be the reloaded one")
	}
}

func TestReloadConfig_KeepsOldOnError(t *testing.T) {
	resetForTest()
	t.Cleanup(resetForTest)

	path := writeConfig(t, sampleYAML)
	if err := Initialize(path); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	before := GetConfig()

	if err := os.WriteFile(path, []byte("tiers: {fast: {tpm: -1}}"), 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}
	if err := ReloadConfig(""); err == nil {
		t.Fatal("expected reload error")
	}
	if GetConfig() != before {
		t.Error("failed reload must keep the previous configuration")
	}
}

func TestMustGetConfig_Panics(t *testing.T) {
	resetForTest()
	t.Cleanup(resetForTest)

	defer func() {
		if recover() == nil {
			t.Error("expected panic before Initialize")
		}
	}()
	MustGetConfig()
}
