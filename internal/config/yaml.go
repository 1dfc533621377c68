package config

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalConfig is config.yml: process-wide settings that apply
// regardless of provider or target (spec.md's AMBIENT STACK: YAML
// config layered with environment overrides in the teacher's
// config.Load()/getEnv* idiom).
type GlobalConfig struct {
	RewriteSecret   string        `yaml:"rewrite_secret"`
	ListenAddr      string        `yaml:"listen_addr"`
	AdminListenAddr string        `yaml:"admin_listen_addr"`
	CacheDir        string        `yaml:"cache_dir"`
	RegistryPath    string        `yaml:"registry_path"`
	ResourceCache   struct {
		MaxBytes int `yaml:"max_bytes"`
		MaxCount int `yaml:"max_count"`
	} `yaml:"resource_cache"`
	RateLimit struct {
		BurstSize    int           `yaml:"burst_size"`
		PeriodMillis time.Duration `yaml:"period_millis"`
	} `yaml:"rate_limit"`
	GracePeriodMillis      time.Duration  `yaml:"grace_period_millis"`
	GracePeriodTimeoutSecs time.Duration  `yaml:"grace_period_timeout_secs"`
	KickSecs               int            `yaml:"kick_secs"`
	SharedBurstBufferMB    int            `yaml:"shared_burst_buffer_mb"`
	UserAccessControl      bool           `yaml:"user_access_control"`
	VODMount               VODMountConfig `yaml:"vod_mount"`
	HDHR                   HDHRConfig     `yaml:"hdhr"`
}

// HDHRConfig optionally emulates an HDHomeRun network tuner (spec.md
// §4.11) for one target: SSDP/UPnP and proprietary UDP discovery, a TCP
// control channel, and the HTTP device.xml/lineup.json a client like
// Plex's DVR tuner setup expects. Left with Enabled false (the default),
// none of internal/hdhomerun's servers start.
type HDHRConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Target       string `yaml:"target"`        // which target's live channels to expose
	DeviceID     uint32 `yaml:"device_id"`     // 0 = generate one (NormalizeDeviceID)
	TunerCount   int    `yaml:"tuner_count"`    // default 2
	DiscoverPort int    `yaml:"discover_port"`  // default 65001
	ControlPort  int    `yaml:"control_port"`   // default 65001
	BaseURL      string `yaml:"base_url"`       // e.g. http://192.168.1.50:8080
	FriendlyName string `yaml:"friendly_name"`
}

// VODMountConfig optionally exposes one target's VOD catalog as a local
// FUSE tree (internal/vodfs) and wires the admin API's library-scan
// endpoints (spec.md §6) to rescan it on demand. Left with an empty
// Target, the admin endpoints report "no scanner configured" rather
// than mounting anything.
type VODMountConfig struct {
	Target     string `yaml:"target"`      // which target's post-pipeline items to expose
	MountPoint string `yaml:"mount_point"` // e.g. /mnt/vodfs
	AllowOther bool   `yaml:"allow_other"`
}

// applyGlobalEnvOverrides layers environment overrides onto a decoded
// GlobalConfig, the same override-after-decode order the teacher's
// Load() uses for its own flat env vars.
func applyGlobalEnvOverrides(c *GlobalConfig) {
	c.RewriteSecret = getEnv("IVPROXY_REWRITE_SECRET", c.RewriteSecret)
	c.ListenAddr = getEnv("IVPROXY_LISTEN_ADDR", c.ListenAddr)
	c.AdminListenAddr = getEnv("IVPROXY_ADMIN_LISTEN_ADDR", c.AdminListenAddr)
	c.CacheDir = getEnv("IVPROXY_CACHE_DIR", c.CacheDir)
	c.RegistryPath = getEnv("IVPROXY_REGISTRY_PATH", c.RegistryPath)
}

// LoadGlobalConfig decodes config.yml at path and applies environment
// overrides, filling documented defaults for anything left zero.
func LoadGlobalConfig(path string) (*GlobalConfig, error) {
	var c GlobalConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyGlobalEnvOverrides(&c)

	if c.RewriteSecret == "" {
		return nil, fmt.Errorf("config: rewrite_secret is required in %s", path)
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.AdminListenAddr == "" {
		c.AdminListenAddr = ":8081"
	}
	if c.CacheDir == "" {
		c.CacheDir = "./cache"
	}
	if c.RegistryPath == "" {
		c.RegistryPath = filepath.Join(c.CacheDir, "registry.db")
	}
	if c.GracePeriodMillis == 0 {
		c.GracePeriodMillis = 300 * time.Millisecond
	}
	if c.GracePeriodTimeoutSecs == 0 {
		c.GracePeriodTimeoutSecs = 2 * time.Second
	}
	if c.KickSecs == 0 {
		c.KickSecs = 90
	}
	if c.SharedBurstBufferMB == 0 {
		c.SharedBurstBufferMB = 12
	}
	if c.RateLimit.BurstSize == 0 {
		c.RateLimit.BurstSize = 20
	}
	if c.HDHR.TunerCount == 0 {
		c.HDHR.TunerCount = 2
	}
	if c.HDHR.DiscoverPort == 0 {
		c.HDHR.DiscoverPort = 65001
	}
	if c.HDHR.ControlPort == 0 {
		c.HDHR.ControlPort = 65001
	}
	return &c, nil
}

// Input is one provider entry in source.yml.
type Input struct {
	Name             string            `yaml:"name"`
	Kind             string            `yaml:"kind"` // m3u | xtream
	URL              string            `yaml:"url"`
	Username         string            `yaml:"username"`
	Password         string            `yaml:"password"`
	Aliases          []string          `yaml:"aliases"` // priority-ordered failover URLs
	MaxConnections   int               `yaml:"max_connections"`
	ConnectTimeout   time.Duration     `yaml:"connect_timeout"`
	ProxyURL         string            `yaml:"proxy_url"`
	ShareLiveStreams bool              `yaml:"share_live_streams"`
	ThrottleRate     string            `yaml:"throttle_rate"`
	Headers          map[string]string `yaml:"headers"`
}

// SourceConfig is source.yml: the list of upstream providers.
type SourceConfig struct {
	Inputs []Input `yaml:"inputs"`
}

func LoadSourceConfig(path string) (*SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c SourceConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for i := range c.Inputs {
		if c.Inputs[i].Name == "" {
			return nil, fmt.Errorf("config: %s: input %d missing name", path, i)
		}
		if c.Inputs[i].MaxConnections == 0 {
			c.Inputs[i].MaxConnections = 1
		}
	}
	return &c, nil
}

// RenameRuleConfig and MappingEntryConfig mirror internal/pipeline's
// types in their YAML-serializable form; internal/pipeline itself stays
// free of a YAML dependency so it can be unit tested without one.
type RenameRuleConfig struct {
	Filter string `yaml:"filter"`
	From   string `yaml:"from"`
	To     string `yaml:"to"`
}

type MappingEntryConfig struct {
	Filter      string `yaml:"filter"`
	Script      string `yaml:"script"`
	CreateAlias bool   `yaml:"create_alias"`
	AliasDomain string `yaml:"alias_domain"`
}

// TargetConfig is one target-playlist definition, assembled from
// mapping.yml or one file in mapping.d/.
type TargetConfig struct {
	Name             string               `yaml:"name"`
	ProcessingOrder  string               `yaml:"processing_order"`
	IncludeFilter    string               `yaml:"include_filter"`
	OutputFilter     string               `yaml:"output_filter"`
	Renames          []RenameRuleConfig   `yaml:"renames"`
	Mappings         []MappingEntryConfig `yaml:"mappings"`
	RemoveDuplicates bool                 `yaml:"remove_duplicates"`
	IgnoreLogo       bool                 `yaml:"ignore_logo"`

	IncludeTypeInURL bool   `yaml:"include_type_in_url"`
	MaskRedirectURL  bool   `yaml:"mask_redirect_url"`
	OutputFormat     string `yaml:"output_format"` // m3u | xtream | strm; HDHomeRun is configured separately via GlobalConfig.HDHR

	// ProxyMode is the target-level default for spec.md §3's
	// User.proxy_mode: redirect | reverse. A user record with its own
	// ProxyMode set overrides this per-user; most deployments set it once
	// per target rather than per user.
	ProxyMode        string `yaml:"proxy_mode"`
	ShareLiveStreams bool   `yaml:"share_live_streams"`

	// VODLanes, when set, splits this target's post-pipeline VOD/series
	// output into catch-up category lanes (internal/catalog's taxonomy
	// and lane splitter) and writes one JSON catalog file per lane under
	// cache_dir/vod-lanes/<target>/ on every refresh.
	VODLanes bool `yaml:"vod_lanes"`
}

// LoadTargets loads target definitions from either a single mapping.yml
// file or every *.yml/*.yaml file in a mapping.d/ directory, concatenated
// in lexicographic filename order (spec.md's Open Question: lexicographic,
// not natural-sort — see DESIGN.md).
func LoadTargets(path string) ([]TargetConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return loadTargetFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("config: readdir %s: %w", path, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".yml") || strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var all []TargetConfig
	for _, name := range names {
		targets, err := loadTargetFile(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		all = append(all, targets...)
	}
	return all, nil
}

func loadTargetFile(path string) ([]TargetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc struct {
		Targets []TargetConfig `yaml:"targets"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for i := range doc.Targets {
		if doc.Targets[i].ProxyMode == "" {
			doc.Targets[i].ProxyMode = "reverse"
		}
	}
	return doc.Targets, nil
}

// APIProxyConfig is api-proxy.yml: per-provider HTTP header policy
// overrides applied by internal/provider's Client (spec.md's provider
// client header-stripping behavior).
type APIProxyConfig struct {
	Providers map[string]struct {
		DropReferer    bool              `yaml:"drop_referer"`
		DropXHeaders   bool              `yaml:"drop_x_headers"`
		DropCloudflare bool              `yaml:"drop_cloudflare"`
		Custom         map[string]string `yaml:"custom"`
	} `yaml:"providers"`
}

func LoadAPIProxyConfig(path string) (*APIProxyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &APIProxyConfig{}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c APIProxyConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &c, nil
}

// AliasRow is one row of a CSV user/alias batch import: username,
// password, max_connections, expires_at (unix seconds, 0 = never).
type AliasRow struct {
	Username       string
	Password       string
	MaxConnections int
	ExpiresAt      int64
}

// LoadAliasCSV parses a CSV batch of users/aliases. max_connections
// defaults to 1 per row when blank, matching spec.md §9's documented
// divergence from the YAML user loader's default of 0 (unlimited) — see
// DESIGN.md's Open Question decision.
func LoadAliasCSV(path string) ([]AliasRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("config: parse csv %s: %w", path, err)
	}

	var out []AliasRow
	for i, rec := range records {
		if i == 0 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "username") {
			continue // header row
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("config: csv %s: row %d: expected at least username,password", path, i+1)
		}
		row := AliasRow{Username: strings.TrimSpace(rec[0]), Password: strings.TrimSpace(rec[1]), MaxConnections: 1}
		if len(rec) > 2 && strings.TrimSpace(rec[2]) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(rec[2]))
			if err != nil {
				return nil, fmt.Errorf("config: csv %s: row %d: bad max_connections: %w", path, i+1, err)
			}
			row.MaxConnections = n
		}
		if len(rec) > 3 && strings.TrimSpace(rec[3]) != "" {
			ts, err := strconv.ParseInt(strings.TrimSpace(rec[3]), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("config: csv %s: row %d: bad expires_at: %w", path, i+1, err)
			}
			row.ExpiresAt = ts
		}
		out = append(out, row)
	}
	return out, nil
}
