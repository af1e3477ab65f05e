package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimal = `{
  "server": {"jwt_secret": "s3cret"},
  "storage": {
    "redis": {"host": "localhost", "port": "6379"},
    "postgres": {"host": "localhost", "dbname": "docwatch"}
  }
}`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":10001" {
		t.Fatalf("address = %q", cfg.Server.Address)
	}
	if cfg.Scan.Cron != "0 * * * *" || cfg.Scan.MaxAttempts != 3 || cfg.Scan.JobStream != "scan.jobs" {
		t.Fatalf("scan defaults not applied: %+v", cfg.Scan)
	}
	if cfg.Scan.FetchTimeout != 30*time.Second {
		t.Fatalf("fetch timeout = %s", cfg.Scan.FetchTimeout)
	}
	if cfg.Scan.LockTTL > cfg.Scan.ClaimIdle {
		t.Fatalf("lock ttl %s exceeds claim idle %s", cfg.Scan.LockTTL, cfg.Scan.ClaimIdle)
	}
	if cfg.Storage.Postgres.Port != "5432" || cfg.Storage.Postgres.SSLMode != "disable" {
		t.Fatalf("postgres defaults not applied: %+v", cfg.Storage.Postgres)
	}
	if cfg.Notifications.SMTPPort != 587 {
		t.Fatalf("smtp port = %d", cfg.Notifications.SMTPPort)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("DOCWATCH_SCAN_CONCURRENCY", "3")
	t.Setenv("DOCWATCH_SCAN_FETCH_TIMEOUT", "5s")
	t.Setenv("DOCWATCH_FETCH_GITHUB_TOKEN", "ghp_x")
	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scan.Concurrency != 3 {
		t.Fatalf("concurrency = %d", cfg.Scan.Concurrency)
	}
	if cfg.Scan.FetchTimeout != 5*time.Second {
		t.Fatalf("fetch timeout = %s", cfg.Scan.FetchTimeout)
	}
	if cfg.Fetch.GitHubToken != "ghp_x" {
		t.Fatalf("github token = %q", cfg.Fetch.GitHubToken)
	}
}

func TestValidateRejectsBadSections(t *testing.T) {
	cases := map[string]string{
		"missing jwt":       `{"storage":{"redis":{"host":"h","port":"1"},"postgres":{"url":"postgres://x"}}}`,
		"missing redis":     `{"server":{"jwt_secret":"s"},"storage":{"postgres":{"url":"postgres://x"}}}`,
		"bad cron":          `{"server":{"jwt_secret":"s"},"scan":{"cron":"every day"},"storage":{"redis":{"host":"h","port":"1"},"postgres":{"url":"postgres://x"}}}`,
		"claim inside lock": `{"server":{"jwt_secret":"s"},"scan":{"lock_ttl":"10m","claim_idle":"5m"},"storage":{"redis":{"host":"h","port":"1"},"postgres":{"url":"postgres://x"}}}`,
		"smtp no from":      `{"server":{"jwt_secret":"s"},"notifications":{"smtp_host":"mail"},"storage":{"redis":{"host":"h","port":"1"},"postgres":{"url":"postgres://x"}}}`,
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
