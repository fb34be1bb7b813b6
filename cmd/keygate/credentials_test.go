package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"campuscore/keygate/pkg/tier"
	"campuscore/keygate/pkg/vault"
)

func TestCredentialTable_ReclaimsStaleWindows(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	creds := []*vault.Credential{
		{
			ID:     "fresh",
			Tier:   tier.Fast,
			Status: vault.StatusActive,
			Usage: vault.Usage{
				RPMUsed: 3, TPMUsed: 900, RPDUsed: 10,
				MinuteWindowStart: now.Add(-10 * time.Second),
				DayWindowStart:    now.Add(-time.Hour),
			},
			CooldownUntil: now.Add(30 * time.Second),
		},
		{
			ID:     "stale",
			Tier:   tier.Lite,
			Status: vault.StatusDisabled,
			Usage: vault.Usage{
				RPMUsed: 5, TPMUsed: 500, RPDUsed: 40,
				MinuteWindowStart: now.Add(-2 * time.Minute),
				DayWindowStart:    now.Add(-25 * time.Hour),
			},
			CooldownUntil: now.Add(-time.Minute),
		},
	}

	table := credentialTable(creds, now)
	if len(table.Rows()) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(table.Rows()))
	}

	fresh, stale := table.Rows()[0], table.Rows()[1]
	if fresh[4] != "3" || fresh[5] != "10" || fresh[6] != "900" {
		t.Errorf("Expected fresh usage kept, got %v", fresh)
	}
	if fresh[8] == "" {
		t.Error("Expected cooldown shown for cooling credential")
	}
	if stale[4] != "0" || stale[5] != "0" || stale[6] != "0" {
		t.Errorf("Expected stale usage reset, got %v", stale)
	}
	if stale[2] != "disabled" || stale[8] != "" {
		t.Errorf("Unexpected stale row %v", stale)
	}
}

func TestImportEntry_Request(t *testing.T) {
	t.Setenv("KEYGATE_TEST_IMPORT_KEY", "sk-import")

	tests := []struct {
		name    string
		entry   importEntry
		wantErr string
	}{
		{"valid", importEntry{ID: "a", Tier: "fast", MaterialEnv: "KEYGATE_TEST_IMPORT_KEY"}, ""},
		{"no id", importEntry{Tier: "fast", MaterialEnv: "KEYGATE_TEST_IMPORT_KEY"}, "without id"},
		{"bad tier", importEntry{ID: "a", Tier: "turbo", MaterialEnv: "KEYGATE_TEST_IMPORT_KEY"}, "unknown capability tier"},
		{"no env", importEntry{ID: "a", Tier: "fast"}, "material_env is required"},
		{"empty env", importEntry{ID: "a", Tier: "fast", MaterialEnv: "KEYGATE_TEST_IMPORT_UNSET"}, "is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := tt.entry.request()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("request() failed: %v", err)
			}
			if req.Tier != tier.Fast || string(req.Material) != "sk-import" {
				t.Errorf("Unexpected request %+v", req)
			}
		})
	}
}

func TestReadImportFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")
	doc := `credentials:
  - id: fast-1
    tier: fast
    priority: 1
    label: team-a
    material_env: FAST_1_KEY
  - id: lite-1
    tier: lite
    material_env: LITE_1_KEY
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := readImportFile(path)
	if err != nil {
		t.Fatalf("readImportFile failed: %v", err)
	}
	if len(f.Credentials) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(f.Credentials))
	}
	if f.Credentials[0].Priority != 1 || f.Credentials[0].Label != "team-a" {
		t.Errorf("Unexpected first entry %+v", f.Credentials[0])
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("credentials: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := readImportFile(empty); err == nil {
		t.Error("Expected error for empty import file")
	}
}
