package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Port int `env:"TASKBOARD_TEST_PORT" envDefault:"123"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("TASKBOARD_TEST_PORT", "not-an-int")
	err := ParseEnv(&cfg)
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}

func TestAPIConfigDefaultsAndValidation(t *testing.T) {
	t.Setenv("AUTH0_TEST_MODE", "1")
	t.Setenv("TEST_JWT_SECRET", "s3cret")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example,https://b.example")

	var cfg API
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.StorageMode != StorageMemory || cfg.Port != "8080" || cfg.DeduperTTL != 24*time.Hour {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.Auth.TestMode || cfg.Auth.TestSecret != "s3cret" {
		t.Fatalf("nested auth config not parsed: %+v", cfg.Auth)
	}
	if len(cfg.AllowOrigins) != 2 {
		t.Fatalf("expected two origins, got %v", cfg.AllowOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	cfg.StorageMode = StorageTable
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "missing storage config") {
		t.Fatalf("expected storage config error, got %v", err)
	}
	cfg.StorageMode = "sqlite"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid storage mode error")
	}
}

func TestAuthValidate(t *testing.T) {
	tests := map[string]struct {
		auth    Auth
		wantErr bool
	}{
		"test mode with secret":    {auth: Auth{TestMode: true, TestSecret: "x"}},
		"test mode without secret": {auth: Auth{TestMode: true}, wantErr: true},
		"auth0 complete":           {auth: Auth{Domain: "tenant.auth0.com", Audience: "board"}},
		"auth0 missing audience":   {auth: Auth{Domain: "tenant.auth0.com"}, wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := tc.auth.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("wantErr=%v, got %v", tc.wantErr, err)
			}
		})
	}

	a := Auth{Domain: "tenant.auth0.com"}
	if a.JWKSURL() != "https://tenant.auth0.com/.well-known/jwks.json" || a.Issuer() != "https://tenant.auth0.com/" {
		t.Fatalf("unexpected auth0 urls: %s %s", a.JWKSURL(), a.Issuer())
	}
}

func TestStreamConfigDefaults(t *testing.T) {
	t.Setenv("AUTH0_TEST_MODE", "true")
	t.Setenv("TEST_JWT_SECRET", "s3cret")
	var cfg Stream
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != "9000" || cfg.Heartbeat != 15*time.Second || cfg.Channel != "taskboard:events" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestRedisOptions(t *testing.T) {
	tests := map[string]struct {
		conn     string
		addr     string
		password string
		tls      bool
	}{
		"url":        {conn: "redis://:pw@cache:6380/0", addr: "cache:6380", password: "pw"},
		"azure":      {conn: "board.redis.cache.windows.net:6380,password=abc=,ssl=True,abortConnect=False", addr: "board.redis.cache.windows.net:6380", password: "abc=", tls: true},
		"plain host": {conn: "localhost:6379", addr: "localhost:6379"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			opts, err := RedisOptions(tc.conn)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if opts.Addr != tc.addr || opts.Password != tc.password || (opts.TLSConfig != nil) != tc.tls {
				t.Fatalf("unexpected options: addr=%s password=%s tls=%v", opts.Addr, opts.Password, opts.TLSConfig != nil)
			}
		})
	}
	if _, err := RedisOptions("  "); err == nil {
		t.Fatal("expected error for empty connection string")
	}
}

func TestLoadBoardProfileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "board.yaml")
	profile := "api_url: http://api.internal\ntoken: from-file\ntimeout: 3s\n"
	if err := os.WriteFile(path, []byte(profile), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	t.Setenv("BOARD_TOKEN", "from-env")

	b, err := LoadBoard(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if b.APIURL != "http://api.internal" || b.Token != "from-env" || b.Timeout != 3*time.Second {
		t.Fatalf("unexpected board config: %+v", b)
	}
	if b.StreamURL != defaultStreamURL {
		t.Fatalf("expected default stream url, got %s", b.StreamURL)
	}
}

func TestLoadBoardMissingProfile(t *testing.T) {
	b, err := LoadBoard(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if b.APIURL != defaultAPIURL || b.Timeout != defaultBoardTimeout {
		t.Fatalf("unexpected defaults: %+v", b)
	}
}

func TestLoadBoardInvalidProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	if err := os.WriteFile(path, []byte("timeout: [not, a, duration]\n"), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	if _, err := LoadBoard(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestForwarderRequiresQueueAndRedis(t *testing.T) {
	t.Setenv("STORAGE_CONNECTION_STRING", "UseDevelopmentStorage=true")
	var cfg Forwarder
	if err := ParseEnv(&cfg); err == nil {
		t.Fatal("expected missing EVENTS_QUEUE and REDIS_CONNECTION_STRING to fail")
	}

	t.Setenv("EVENTS_QUEUE", "task-events")
	t.Setenv("REDIS_CONNECTION_STRING", "localhost:6379")
	cfg = Forwarder{}
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.IdleWait != time.Second || cfg.Channel != "taskboard:events" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
