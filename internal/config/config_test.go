package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestM3UURLOrBuild(t *testing.T) {
	os.Clearenv()
	os.Setenv("IVPROXY_PROVIDER_URL", "http://host")
	os.Setenv("IVPROXY_PROVIDER_USER", "u")
	os.Setenv("IVPROXY_PROVIDER_PASS", "p")
	c := Load()
	got := c.M3UURLOrBuild()
	want := "http://host/get.php?username=u&password=p&type=m3u_plus&output=ts"
	if got != want {
		t.Errorf("M3UURLOrBuild() = %q, want %q", got, want)
	}
}

func TestM3UURLOrBuild_preferM3UURL(t *testing.T) {
	os.Clearenv()
	os.Setenv("IVPROXY_M3U_URL", "http://custom/m3u")
	os.Setenv("IVPROXY_PROVIDER_URL", "http://host")
	c := Load()
	got := c.M3UURLOrBuild()
	if got != "http://custom/m3u" {
		t.Errorf("should prefer M3U_URL; got %q", got)
	}
}

func TestM3UURLOrBuild_emptyWithoutCreds(t *testing.T) {
	os.Clearenv()
	c := Load()
	got := c.M3UURLOrBuild()
	if got != "" {
		t.Errorf("no creds should give empty; got %q", got)
	}
}

func TestM3UURLsOrBuild_single(t *testing.T) {
	os.Clearenv()
	os.Setenv("IVPROXY_PROVIDER_URL", "http://host")
	os.Setenv("IVPROXY_PROVIDER_USER", "u")
	os.Setenv("IVPROXY_PROVIDER_PASS", "p")
	c := Load()
	urls := c.M3UURLsOrBuild()
	if len(urls) != 1 {
		t.Fatalf("M3UURLsOrBuild() len = %d, want 1", len(urls))
	}
	want := "http://host/get.php?username=u&password=p&type=m3u_plus&output=ts"
	if urls[0] != want {
		t.Errorf("M3UURLsOrBuild()[0] = %q, want %q", urls[0], want)
	}
}

func TestM3UURLsOrBuild_multiple(t *testing.T) {
	os.Clearenv()
	os.Setenv("IVPROXY_PROVIDER_URLS", "http://a.com, http://b.com ")
	os.Setenv("IVPROXY_PROVIDER_USER", "u")
	os.Setenv("IVPROXY_PROVIDER_PASS", "p")
	c := Load()
	urls := c.M3UURLsOrBuild()
	if len(urls) != 2 {
		t.Fatalf("M3UURLsOrBuild() len = %d, want 2", len(urls))
	}
	if urls[0] != "http://a.com/get.php?username=u&password=p&type=m3u_plus&output=ts" {
		t.Errorf("first URL: %q", urls[0])
	}
	if urls[1] != "http://b.com/get.php?username=u&password=p&type=m3u_plus&output=ts" {
		t.Errorf("second URL: %q", urls[1])
	}
}

func TestM3UURLsOrBuild_preferM3UURL(t *testing.T) {
	os.Clearenv()
	os.Setenv("IVPROXY_M3U_URL", "http://custom/m3u")
	os.Setenv("IVPROXY_PROVIDER_URLS", "http://a.com,http://b.com")
	c := Load()
	urls := c.M3UURLsOrBuild()
	if len(urls) != 1 || urls[0] != "http://custom/m3u" {
		t.Errorf("M3U_URL should be sole entry; got %v", urls)
	}
}

func TestProviderURLs(t *testing.T) {
	os.Clearenv()
	os.Setenv("IVPROXY_PROVIDER_URLS", "http://x.com, http://y.com")
	c := Load()
	got := c.ProviderURLs()
	if len(got) != 2 || got[0] != "http://x.com" || got[1] != "http://y.com" {
		t.Errorf("ProviderURLs() = %v", got)
	}
	os.Clearenv()
	os.Setenv("IVPROXY_PROVIDER_URL", "http://single")
	c = Load()
	got = c.ProviderURLs()
	if len(got) != 1 || got[0] != "http://single" {
		t.Errorf("ProviderURLs() fallback = %v", got)
	}
}

// When only user/pass are set (no URL env), ProviderURLs returns nil; explicit URL(s) required.
func TestProviderURLs_emptyWhenUserPassOnly(t *testing.T) {
	os.Clearenv()
	os.Setenv("IVPROXY_PROVIDER_USER", "u")
	os.Setenv("IVPROXY_PROVIDER_PASS", "p")
	c := Load()
	got := c.ProviderURLs()
	if got != nil {
		t.Errorf("ProviderURLs() = %v, want nil (explicit IVPROXY_PROVIDER_URL or URLS required)", got)
	}
}

// Subscription file: Load fills ProviderUser/ProviderPass from file when env is empty.
func TestLoad_subscriptionFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub.txt")
	if err := os.WriteFile(path, []byte("Username: myuser\nPassword: mypass\n"), 0644); err != nil {
		t.Fatal(err)
	}
	os.Clearenv()
	os.Setenv("IVPROXY_SUBSCRIPTION_FILE", path)
	c := Load()
	if c.ProviderUser != "myuser" || c.ProviderPass != "mypass" {
		t.Errorf("Load from subscription file: user=%q pass=%q", c.ProviderUser, c.ProviderPass)
	}
}

func TestLoad_subscriptionFile_missingPassword(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub.txt")
	if err := os.WriteFile(path, []byte("Username: u\n"), 0644); err != nil {
		t.Fatal(err)
	}
	os.Clearenv()
	os.Setenv("IVPROXY_SUBSCRIPTION_FILE", path)
	c := Load()
	if c.ProviderUser != "" || c.ProviderPass != "" {
		t.Errorf("missing Password in file should leave creds empty; got user=%q pass=%q", c.ProviderUser, c.ProviderPass)
	}
}

func TestLoad_subscriptionFile_envOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub.txt")
	if err := os.WriteFile(path, []byte("Username: fileuser\nPassword: filepass\n"), 0644); err != nil {
		t.Fatal(err)
	}
	os.Clearenv()
	os.Setenv("IVPROXY_SUBSCRIPTION_FILE", path)
	os.Setenv("IVPROXY_PROVIDER_USER", "envuser")
	c := Load()
	if c.ProviderUser != "envuser" {
		t.Errorf("env user should override; got %q", c.ProviderUser)
	}
	if c.ProviderPass != "filepass" {
		t.Errorf("pass should come from file when env pass empty; got %q", c.ProviderPass)
	}
}
