package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
analysis:
  timeout: 90s
verification:
  timeout: 45
observer:
  interval: 1m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Analysis.Timeout.Std() != 90*time.Second {
		t.Errorf("analysis timeout = %v", cfg.Analysis.Timeout.Std())
	}
	// bare numbers are read as seconds
	if cfg.Verification.Timeout.Std() != 45*time.Second {
		t.Errorf("verification timeout = %v", cfg.Verification.Timeout.Std())
	}
	if cfg.Observer.Interval.Std() != time.Minute {
		t.Errorf("interval = %v", cfg.Observer.Interval.Std())
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "analysis:\n  timeout: soon\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8790 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.Path != "vigil.db" {
		t.Errorf("store defaults = %q %q", cfg.Store.Driver, cfg.Store.Path)
	}
	if cfg.Observer.Interval.Std() != 20*time.Second || cfg.Observer.InitialDelay.Std() != 3*time.Second {
		t.Errorf("observer schedule = %v / %v", cfg.Observer.Interval.Std(), cfg.Observer.InitialDelay.Std())
	}
	if cfg.Observer.SampleLimit != 5000 || cfg.Observer.MinSample != 50 {
		t.Errorf("sample bounds = %d / %d", cfg.Observer.SampleLimit, cfg.Observer.MinSample)
	}
}

func TestDSNBuilders(t *testing.T) {
	cfg := Default()
	cfg.Store.Database.Host = "db.local"
	cfg.Store.Database.Port = 3306
	cfg.Store.Database.User = "vigil"
	cfg.Store.Database.Password = "secret"
	cfg.Store.Database.Name = "vigil"

	mysql := cfg.MySQLDSN()
	if !strings.HasPrefix(mysql, "vigil:secret@tcp(db.local:3306)/vigil?") {
		t.Errorf("mysql dsn = %q", mysql)
	}

	pg := cfg.PostgresDSN()
	if !strings.Contains(pg, "host=db.local") || !strings.Contains(pg, "sslmode=disable") {
		t.Errorf("postgres dsn = %q", pg)
	}
}
