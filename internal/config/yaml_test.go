package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadGlobalConfigFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	writeFile(t, path, "rewrite_secret: \"0123456789abcdef0123456789abcdef\"\n")

	c, err := LoadGlobalConfig(path)
	if err != nil {
		t.Fatalf("LoadGlobalConfig: %v", err)
	}
	if c.ListenAddr != ":8080" || c.AdminListenAddr != ":8081" {
		t.Fatalf("unexpected default addrs: %+v", c)
	}
	if c.GracePeriodMillis.Milliseconds() != 300 {
		t.Fatalf("expected default grace period 300ms, got %v", c.GracePeriodMillis)
	}
	if c.SharedBurstBufferMB != 12 {
		t.Fatalf("expected default burst buffer 12 MiB, got %d", c.SharedBurstBufferMB)
	}
}

func TestLoadGlobalConfigRequiresRewriteSecret(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	writeFile(t, path, "listen_addr: \":9000\"\n")
	if _, err := LoadGlobalConfig(path); err == nil {
		t.Fatal("expected missing rewrite_secret to fail")
	}
}

func TestLoadSourceConfigDefaultsMaxConnections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "source.yml")
	writeFile(t, path, `
inputs:
  - name: main
    kind: xtream
    url: http://provider.example
    username: u
    password: p
`)
	c, err := LoadSourceConfig(path)
	if err != nil {
		t.Fatalf("LoadSourceConfig: %v", err)
	}
	if len(c.Inputs) != 1 || c.Inputs[0].MaxConnections != 1 {
		t.Fatalf("unexpected inputs: %+v", c.Inputs)
	}
}

func TestLoadTargetsFromDirectoryIsLexicographic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "m_10.yml"), "targets:\n  - name: ten\n")
	writeFile(t, filepath.Join(dir, "m_2.yml"), "targets:\n  - name: two\n")

	targets, err := LoadTargets(dir)
	if err != nil {
		t.Fatalf("LoadTargets: %v", err)
	}
	if len(targets) != 2 || targets[0].Name != "ten" || targets[1].Name != "two" {
		t.Fatalf("expected lexicographic order [ten, two], got %+v", targets)
	}
}

func TestLoadAPIProxyConfigMissingFileIsEmpty(t *testing.T) {
	c, err := LoadAPIProxyConfig(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("expected missing api-proxy.yml to be tolerated, got %v", err)
	}
	if len(c.Providers) != 0 {
		t.Fatalf("expected empty config, got %+v", c)
	}
}

func TestLoadAliasCSVDefaultsMaxConnectionsToOne(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aliases.csv")
	writeFile(t, path, "username,password,max_connections,expires_at\nalice,secret,,\nbob,secret2,3,1800000000\n")

	rows, err := LoadAliasCSV(path)
	if err != nil {
		t.Fatalf("LoadAliasCSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].MaxConnections != 1 {
		t.Fatalf("expected default max_connections=1, got %d", rows[0].MaxConnections)
	}
	if rows[1].MaxConnections != 3 || rows[1].ExpiresAt != 1800000000 {
		t.Fatalf("unexpected second row: %+v", rows[1])
	}
}
