package config

import "testing"

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := defaults()
	cfg.Storage.VaultPath = "/tmp/vault"
	cfg.Database.Name = "replays"
	cfg.Server.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for port 0")
	}
}

func TestValidateRejectsMissingVaultPath(t *testing.T) {
	cfg := defaults()
	cfg.Database.Name = "replays"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing vault path")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := defaults()
	cfg.Storage.VaultPath = "/tmp/vault"
	cfg.Database.Name = "replays"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults plus required fields to validate, got %v", err)
	}
}

func TestValidateRejectsMetricsPortCollidingWithPort(t *testing.T) {
	cfg := defaults()
	cfg.Storage.VaultPath = "/tmp/vault"
	cfg.Database.Name = "replays"
	cfg.Server.MetricsPort = cfg.Server.Port

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for metrics_port colliding with port")
	}
}

func TestValidateRejectsZeroQuorum(t *testing.T) {
	cfg := defaults()
	cfg.Storage.VaultPath = "/tmp/vault"
	cfg.Database.Name = "replays"
	cfg.Replay.MergeQuorumSize = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for merge_quorum_size 0")
	}
}
