package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidateOnTestnet(t *testing.T) {
	cfg := Defaults()
	// Mainnet defaults intentionally lack a pool account; testnet runs
	// against simulated collaborators and needs none.
	cfg.Network = "testnet"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("testnet defaults should validate: %v", err)
	}
}

func TestValidate_MainnetRequiresPoolAccount(t *testing.T) {
	cfg := Defaults()
	cfg.Network = "mainnet"
	cfg.Pool.AccountID = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for missing pool account")
	}
	if !strings.Contains(err.Error(), "account_id") {
		t.Errorf("error should mention account_id, got: %v", err)
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Network = "testnet"
	cfg.Mode = "bogus"
	cfg.Redis.Addr = ""
	cfg.Watcher.SweepInterval = duration{0}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"mode", "redis", "sweep_interval"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_ToleranceBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Network = "testnet"
	cfg.Watcher.AmountTolerancePercent = 50

	if err := cfg.Validate(); err == nil {
		t.Error("tolerance of 50% should be rejected")
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d duration
	if err := d.UnmarshalText([]byte("2m30s")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Duration != 2*time.Minute+30*time.Second {
		t.Errorf("got %v, want 2m30s", d.Duration)
	}
	if err := d.UnmarshalText([]byte("not-a-duration")); err == nil {
		t.Error("expected error for invalid duration")
	}
}
