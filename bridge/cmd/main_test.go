package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/config"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/fees"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/host"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/relay"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/store"
)

const genesisToml = `
[instantiate]
admin = "admin"
default_timeout = 600

[[channels]]
channel_id = "channel-0"
connection_id = "connection-0"
counterparty = { port_id = "transfer", channel_id = "channel-3" }
`

func writeGenesis(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genesis.toml")
	if err := os.WriteFile(path, []byte(genesisToml), 0o600); err != nil {
		t.Fatalf("failed writing genesis: %v", err)
	}
	return path
}

func TestBuildServerConfig(t *testing.T) {
	cfg := &config.RPCBridgeConfig{
		Port:          8080,
		Host:          "0.0.0.0",
		RatePerMinute: 60,
		UsePrometheus: true,
	}
	sc := buildServerConfig(cfg)
	if sc.Address != "0.0.0.0:8080" {
		t.Errorf("unexpected address %q", sc.Address)
	}
	if sc.RatePerMinute == nil || *sc.RatePerMinute != 60 {
		t.Errorf("expected rate limit 60, got %v", sc.RatePerMinute)
	}
	if sc.MaxConcurrentRequests != nil {
		t.Errorf("expected no concurrency limit")
	}
	if sc.OTelConfig == nil || !sc.OTelConfig.UsePrometheus || sc.OTelConfig.ServiceName != "spectra-ics20-bridge" {
		t.Fatalf("unexpected otel config: %+v", sc.OTelConfig)
	}

	sc = buildServerConfig(&config.RPCBridgeConfig{Port: 1, Host: "::1"})
	if sc.OTelConfig != nil {
		t.Errorf("expected telemetry to stay off")
	}
	if sc.Address != "[::1]:1" {
		t.Errorf("unexpected address %q", sc.Address)
	}
}

func TestApplyGenesisOnce(t *testing.T) {
	ctx := context.Background()
	h, err := host.New(store.NewMemDB(), relay.New(fees.NewEngine(nil, ""), nil), "bridge")
	if err != nil {
		t.Fatalf("failed to create host: %v", err)
	}

	if err := applyGenesis(ctx, h, ""); err == nil {
		t.Fatalf("expected an error for an empty store without genesis")
	}

	path := writeGenesis(t)
	if err := applyGenesis(ctx, h, path); err != nil {
		t.Fatalf("expected genesis to apply, got %v", err)
	}
	// the second start finds an instantiated store
	if err := applyGenesis(ctx, h, path); err != nil {
		t.Fatalf("expected genesis to be skipped, got %v", err)
	}
	ok, err := h.Instantiated(ctx)
	if err != nil || !ok {
		t.Fatalf("expected instantiated store, got %v %v", ok, err)
	}
}

func TestGenesisValidateCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"genesis", "validate", writeGenesis(t)})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out.String(), "channels:     1") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}
