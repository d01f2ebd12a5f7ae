package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Pipeline.BatchWindowMS != 5000 {
		t.Fatalf("expected default batch window 5000, got %d", cfg.Pipeline.BatchWindowMS)
	}
	if cfg.Evaluator.Mode != "mock" {
		t.Fatalf("expected default evaluator mode mock, got %s", cfg.Evaluator.Mode)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FITSIGNAL_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("FITSIGNAL_BUS_USERNAME", "alice")
	t.Setenv("FITSIGNAL_BUS_PASSWORD", "secret")
	t.Setenv("FITSIGNAL_STATE_STORE_PATH", "./tmp.db")
	t.Setenv("FITSIGNAL_STATE_STORE_RETENTION_MODE", "persistent")
	t.Setenv("FITSIGNAL_EVALUATOR_MODE", "anthropic")
	t.Setenv("FITSIGNAL_EVALUATOR_API_KEY", "sk-test")
	t.Setenv("FITSIGNAL_EVALUATOR_TIMEOUT_MS", "20000")
	t.Setenv("FITSIGNAL_PIPELINE_BATCH_WINDOW_MS", "2500")
	t.Setenv("FITSIGNAL_PIPELINE_CONTEXT_WINDOW", "40")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.StateStore.Path != "./tmp.db" {
		t.Fatalf("expected state store path override")
	}
	if cfg.StateStore.RetentionMode != "persistent" {
		t.Fatalf("expected retention mode override")
	}
	if cfg.Evaluator.Mode != "anthropic" {
		t.Fatalf("expected evaluator mode override")
	}
	if cfg.Evaluator.TimeoutMS != 20000 {
		t.Fatalf("expected evaluator timeout 20000, got %d", cfg.Evaluator.TimeoutMS)
	}
	if cfg.Pipeline.BatchWindowMS != 2500 {
		t.Fatalf("expected batch window 2500, got %d", cfg.Pipeline.BatchWindowMS)
	}
	if cfg.Pipeline.ContextWindow != 40 {
		t.Fatalf("expected context window 40, got %d", cfg.Pipeline.ContextWindow)
	}
}

func TestValidateRejectsBadEvaluator(t *testing.T) {
	t.Setenv("FITSIGNAL_EVALUATOR_MODE", "anthropic")
	// no api key set

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for anthropic mode without api key")
	}
}

func TestValidateRejectsBadRetention(t *testing.T) {
	t.Setenv("FITSIGNAL_STATE_STORE_RETENTION_MODE", "forever")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown retention mode")
	}
}
