package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"campuscore/keygate/pkg/seal"
)

func TestReadMaterial(t *testing.T) {
	got, err := readMaterial(strings.NewReader("sk-abc\n"))
	if err != nil {
		t.Fatalf("readMaterial failed: %v", err)
	}
	if string(got) != "sk-abc" {
		t.Errorf("Expected trailing newline trimmed, got %q", got)
	}

	if _, err := readMaterial(strings.NewReader("\n")); err == nil {
		t.Error("Expected error for empty material")
	}
}

func TestSealKeygen_File(t *testing.T) {
	orig := sealFlags
	defer func() { sealFlags = orig }()
	sealFlags.output = filepath.Join(t.TempDir(), "seal.key")

	buf := &bytes.Buffer{}
	sealKeygenCmd.SetOut(buf)
	defer sealKeygenCmd.SetOut(nil)

	if err := runSealKeygen(sealKeygenCmd, nil); err != nil {
		t.Fatalf("runSealKeygen failed: %v", err)
	}

	info, err := os.Stat(sealFlags.output)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Key file has permissions %o, want 600", info.Mode().Perm())
	}

	data, err := os.ReadFile(sealFlags.output)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := seal.DecodeKey(strings.TrimSpace(string(data))); err != nil {
		t.Errorf("Expected a decodable key, got %v", err)
	}

	if err := runSealKeygen(sealKeygenCmd, nil); err == nil {
		t.Error("Expected error when the key file already exists")
	}
}
