package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"campuscore/keygate/pkg/telemetry/health"
)

func TestHealthChecks_MemoryStack(t *testing.T) {
	setTestKey(t)
	ctx := context.Background()

	a, err := newApp(ctx, testConfig(t), appOptions{needSeal: true, ledger: true})
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	defer a.Close()

	checker := healthChecks(a, nil)
	names := checker.ListChecks()
	if strings.Join(names, ",") != "ledger,vault" {
		t.Errorf("Expected ledger and vault checks, got %v", names)
	}

	result := checker.CheckReadiness(ctx)
	if result.Status != health.StatusReady {
		t.Errorf("Expected ready, got %s (%+v)", result.Status, result.Checks)
	}
}

func TestBuildServer_MemoryStack(t *testing.T) {
	setTestKey(t)
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Server.Mode = "test"
	a, err := newApp(ctx, cfg, appOptions{needSeal: true, ledger: true})
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	defer a.Close()

	srv, err := buildServer(a, serveOptions{})
	if err != nil {
		t.Fatalf("buildServer failed: %v", err)
	}
	if srv.Handler() == nil {
		t.Fatal("Expected a handler")
	}
}

func TestPrintBanner(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telemetry.Tracing.Enabled = true

	var out bytes.Buffer
	printBanner(&out, cfg)

	for _, want := range []string{"Vault backend: memory", "Tiers configured: 4", "Tracing: localhost:4317"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected banner to contain %q, got:\n%s", want, out.String())
		}
	}
}
