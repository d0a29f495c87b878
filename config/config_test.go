package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %q", cfg.Server.Addr)
	}
	if cfg.Verification.CodePrefix != "VERIFY-" {
		t.Errorf("expected code prefix VERIFY-, got %q", cfg.Verification.CodePrefix)
	}
	if cfg.Verification.CodeLength != 8 {
		t.Errorf("expected code length 8, got %d", cfg.Verification.CodeLength)
	}
	if cfg.Verification.TTL != 2*time.Minute {
		t.Errorf("expected ttl 2m, got %s", cfg.Verification.TTL)
	}
	if cfg.Verification.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.Verification.MaxAttempts)
	}
	if cfg.Krunker.PostLimit != 5 {
		t.Errorf("expected post limit 5, got %d", cfg.Krunker.PostLimit)
	}
	if cfg.NATS.CommandSubject != "krunklink.commands" {
		t.Errorf("unexpected command subject %q", cfg.NATS.CommandSubject)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PG_HOST", "db.internal")
	t.Setenv("PG_PORT", "6543")
	t.Setenv("KRUNKER_KEY", "secret-key")
	t.Setenv("VERIFICATION_TTL", "5m")
	t.Setenv("VERIFICATION_MAX_ATTEMPTS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("expected postgres host from PG_HOST, got %q", cfg.Postgres.Host)
	}
	if cfg.Postgres.Port != 6543 {
		t.Errorf("expected postgres port 6543, got %d", cfg.Postgres.Port)
	}
	if cfg.Krunker.APIKey != "secret-key" {
		t.Errorf("expected api key from legacy KRUNKER_KEY, got %q", cfg.Krunker.APIKey)
	}
	if cfg.Verification.TTL != 5*time.Minute {
		t.Errorf("expected ttl 5m, got %s", cfg.Verification.TTL)
	}
	if cfg.Verification.MaxAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", cfg.Verification.MaxAttempts)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Krunker: KrunkerConfig{PostLimit: 5},
			Verification: VerificationConfig{
				CodeLength:  8,
				MaxAttempts: 5,
				TTL:         time.Minute,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "short_code", mutate: func(c *Config) { c.Verification.CodeLength = 2 }, wantErr: "code_length"},
		{name: "no_attempts", mutate: func(c *Config) { c.Verification.MaxAttempts = 0 }, wantErr: "max_attempts"},
		{name: "zero_ttl", mutate: func(c *Config) { c.Verification.TTL = 0 }, wantErr: "ttl"},
		{name: "zero_post_limit", mutate: func(c *Config) { c.Krunker.PostLimit = 0 }, wantErr: "post_limit"},
		{name: "unsigned_pages", mutate: func(c *Config) { c.Server.PublicBaseURL = "https://bot.example" }, wantErr: "page_secret"},
		{
			name: "reports_every_problem",
			mutate: func(c *Config) {
				c.Verification.TTL = 0
				c.Verification.MaxAttempts = 0
			},
			wantErr: "max_attempts must be positive, got 0; verification.ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
