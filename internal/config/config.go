package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LegacyProviderConfig is the env-var-driven provider lookup this module
// inherited alongside the YAML-based GlobalConfig/SourceConfig (yaml.go).
// It predates source.yml and is kept only for the subscription-file
// fallback and ad-hoc scripts/tests that still set IVPROXY_PROVIDER_*
// instead of writing a source.yml; buildApp never calls Load.
type LegacyProviderConfig struct {
	ProviderBaseURL string // e.g. http://provider:8080
	ProviderUser    string
	ProviderPass    string
	M3UURL          string // optional: full M3U URL if different from base
}

// Load reads provider credentials from the environment. Call LoadEnvFile
// (env.go) first to source a ".env" file into the process environment.
// If ProviderUser or ProviderPass are empty, Load falls back to an
// IVPROXY_SUBSCRIPTION_FILE (or a glob of dated subscription files) with
// "Username:"/"Password:" lines.
func Load() *LegacyProviderConfig {
	c := &LegacyProviderConfig{
		ProviderBaseURL: os.Getenv("IVPROXY_PROVIDER_URL"),
		ProviderUser:    os.Getenv("IVPROXY_PROVIDER_USER"),
		ProviderPass:    os.Getenv("IVPROXY_PROVIDER_PASS"),
		M3UURL:          os.Getenv("IVPROXY_M3U_URL"),
	}
	if c.ProviderUser == "" || c.ProviderPass == "" {
		if user, pass, err := readSubscriptionFile(os.Getenv("IVPROXY_SUBSCRIPTION_FILE")); err == nil {
			if c.ProviderUser == "" {
				c.ProviderUser = user
			}
			if c.ProviderPass == "" {
				c.ProviderPass = pass
			}
		}
	}
	return c
}

// readSubscriptionFile reads "Username: x" and "Password: x" from path.
// path may be empty to try the default: globs
// ~/Documents/iptv.subscription.*.txt and uses the alphabetically last
// match (i.e. highest year), so the file keeps working across
// year-end subscription renewals without a config change.
func readSubscriptionFile(path string) (user, pass string, err error) {
	if path == "" {
		home := os.Getenv("HOME")
		if home == "" {
			return "", "", os.ErrNotExist
		}
		pattern := filepath.Join(home, "Documents", "iptv.subscription.*.txt")
		matches, globErr := filepath.Glob(pattern)
		if globErr != nil || len(matches) == 0 {
			return "", "", os.ErrNotExist
		}
		sort.Strings(matches)
		path = matches[len(matches)-1]
	}
	path = filepath.Clean(path)
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "Username:") {
			user = strings.TrimSpace(strings.TrimPrefix(line, "Username:"))
		} else if strings.HasPrefix(line, "Password:") {
			pass = strings.TrimSpace(strings.TrimPrefix(line, "Password:"))
		}
	}
	if err := sc.Err(); err != nil {
		return "", "", err
	}
	if user == "" || pass == "" {
		return "", "", fmt.Errorf("subscription file: missing Username or Password")
	}
	return user, pass, nil
}

// M3UURLOrBuild returns the first of M3UURLsOrBuild, or "" if none.
func (c *LegacyProviderConfig) M3UURLOrBuild() string {
	urls := c.M3UURLsOrBuild()
	if len(urls) > 0 {
		return urls[0]
	}
	return ""
}

// M3UURLsOrBuild returns the M3U URLs to probe: the single configured
// M3UURL if set, otherwise one get.php URL per entry from ProviderURLs.
func (c *LegacyProviderConfig) M3UURLsOrBuild() []string {
	if c.M3UURL != "" {
		return []string{c.M3UURL}
	}
	user, pass := c.ProviderUser, c.ProviderPass
	if user == "" || pass == "" {
		return nil
	}
	urls := c.ProviderURLs()
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, 0, len(urls))
	for _, base := range urls {
		base = strings.TrimSuffix(base, "/")
		out = append(out, base+"/get.php?username="+url.QueryEscape(user)+"&password="+url.QueryEscape(pass)+"&type=m3u_plus&output=ts")
	}
	return out
}

// ProviderURLs returns every base URL to try: IVPROXY_PROVIDER_URLS
// (comma-separated) if set, else the single ProviderBaseURL. There is
// no built-in default host list; a URL must be configured explicitly.
func (c *LegacyProviderConfig) ProviderURLs() []string {
	if s := os.Getenv("IVPROXY_PROVIDER_URLS"); s != "" {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	if c.ProviderBaseURL != "" {
		return []string{c.ProviderBaseURL}
	}
	return nil
}
