package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("APP_PORT")
	os.Unsetenv("DATABASE_DSN")
	os.Unsetenv("REDIS_ADDR")
	os.Unsetenv("BROKER")
	os.Unsetenv("APP_ENV")
	os.Unsetenv("HISTORY_PAGE_LIMIT")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Load() Port = %v, want 8080", cfg.Port)
	}
	if cfg.Env != "dev" {
		t.Errorf("Load() Env = %v, want dev", cfg.Env)
	}
	if cfg.Broker != BrokerRedis {
		t.Errorf("Load() Broker = %v, want redis", cfg.Broker)
	}
	if cfg.HistoryPage != 50 {
		t.Errorf("Load() HistoryPage = %v, want 50", cfg.HistoryPage)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	os.Setenv("APP_PORT", "9090")
	os.Setenv("REDIS_ADDR", "redis:6380")
	os.Setenv("BROKER", "mem")
	os.Setenv("HISTORY_PAGE_LIMIT", "25")
	defer func() {
		os.Unsetenv("APP_PORT")
		os.Unsetenv("REDIS_ADDR")
		os.Unsetenv("BROKER")
		os.Unsetenv("HISTORY_PAGE_LIMIT")
	}()

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Load() Port = %v, want 9090", cfg.Port)
	}
	if cfg.RedisAddr != "redis:6380" {
		t.Errorf("Load() RedisAddr = %v, want redis:6380", cfg.RedisAddr)
	}
	if cfg.Broker != BrokerMem {
		t.Errorf("Load() Broker = %v, want mem", cfg.Broker)
	}
	if cfg.HistoryPage != 25 {
		t.Errorf("Load() HistoryPage = %v, want 25", cfg.HistoryPage)
	}
}

func TestLoad_InvalidHistoryPage(t *testing.T) {
	os.Setenv("HISTORY_PAGE_LIMIT", "-3")
	defer os.Unsetenv("HISTORY_PAGE_LIMIT")

	if cfg := Load(); cfg.HistoryPage != 50 {
		t.Errorf("Load() HistoryPage = %v, want 50 (default)", cfg.HistoryPage)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		Port:        "8080",
		DatabaseDSN: "postgres://localhost/chat",
		RedisAddr:   "localhost:6379",
		Broker:      BrokerRedis,
		Env:         "dev",
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid redis config", func(c *Config) {}, false},
		{"valid mem config", func(c *Config) { c.Broker = BrokerMem; c.RedisAddr = "" }, false},
		{"empty port", func(c *Config) { c.Port = "" }, true},
		{"empty dsn", func(c *Config) { c.DatabaseDSN = "" }, true},
		{"redis broker without addr", func(c *Config) { c.RedisAddr = "" }, true},
		{"unknown broker", func(c *Config) { c.Broker = "kafka" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if err := Validate(cfg); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
