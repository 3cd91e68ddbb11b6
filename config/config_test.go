package config

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != "8080" || cfg.DefaultCurrency != "usd" || cfg.StorageDriver != StorageNone {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.CacheTTL != time.Minute || cfg.TickInterval != time.Minute || cfg.MaxWSClients != 1000 {
		t.Fatalf("unexpected timing defaults %+v", cfg)
	}
	if cfg.IsProduction() {
		t.Fatal("default environment must not be production")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DEFAULT_CURRENCY", "EUR")
	t.Setenv("TICK_INTERVAL", "30s")
	t.Setenv("STORAGE_DRIVER", "SQLite")
	t.Setenv("NOTIFY_WORKERS", "8")

	cfg, err := LoadConfig(zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DefaultCurrency != "eur" || cfg.TickInterval != 30*time.Second ||
		cfg.StorageDriver != StorageSQLite || cfg.NotifyWorkers != 8 {
		t.Fatalf("overrides not applied %+v", cfg)
	}
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("CACHE_TTL", "soon")
	t.Setenv("MAX_WS_CLIENTS", "-3")

	var buf bytes.Buffer
	cfg, err := LoadConfig(zerolog.New(&buf))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.CacheTTL != time.Minute || cfg.MaxWSClients != 1000 {
		t.Fatalf("expected defaults, got ttl=%v clients=%d", cfg.CacheTTL, cfg.MaxWSClients)
	}
	if !strings.Contains(buf.String(), "CACHE_TTL") || !strings.Contains(buf.String(), "MAX_WS_CLIENTS") {
		t.Fatalf("expected warnings for invalid values, got %s", buf.String())
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"no storage", Config{StorageDriver: StorageNone}, false},
		{"mongo without uri", Config{StorageDriver: StorageMongo}, true},
		{"mongo with uri", Config{StorageDriver: StorageMongo, MongoURI: "mongodb://localhost"}, false},
		{"unknown driver", Config{StorageDriver: "oracle"}, true},
		{"default secret in production", Config{StorageDriver: StorageSQLite, Environment: "production", JWTSecret: "your-secret-key"}, true},
		{"custom secret in production", Config{StorageDriver: StorageSQLite, Environment: "production", JWTSecret: "s3cret"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestInitDB_SQLite(t *testing.T) {
	cfg := &Config{StorageDriver: StorageSQLite, SQLitePath: t.TempDir() + "/test.db"}
	db, err := InitDB(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.Close()

	if _, err := InitDB(&Config{StorageDriver: StorageMongo}, zerolog.Nop()); err == nil {
		t.Fatal("mongo is not a SQL driver")
	}
}

func TestMaskHost(t *testing.T) {
	cases := map[string]string{
		"db":                             "***",
		"localhost":                      "loc***",
		"prices-db.internal.example.com": "prices-d***xample.com",
	}
	for host, want := range cases {
		if got := maskHost(host); got != want {
			t.Errorf("maskHost(%q) = %q, want %q", host, got, want)
		}
	}
}
