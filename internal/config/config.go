package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"evremind/internal/quiet"
)

// Duration is a time.Duration written as "60s", "3m" etc. in every format.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "0" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

type QuietHoursConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	Start   string `yaml:"start" json:"start" toml:"start"`
	End     string `yaml:"end" json:"end" toml:"end"`
}

type LeaderConfig struct {
	Key string `yaml:"key" json:"key" toml:"key"`
	// TTL after which a silent leader's lock may be taken over. 0 never expires.
	TTL Duration `yaml:"ttl" json:"ttl" toml:"ttl"`
}

type AudioConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`
	// Driver is "bell" (terminal BEL), "gpio" (buzzer on GPIOPin) or "none".
	Driver   string   `yaml:"driver" json:"driver" toml:"driver"`
	GPIOPin  string   `yaml:"gpio_pin" json:"gpio_pin" toml:"gpio_pin"`
	Duration Duration `yaml:"duration" json:"duration" toml:"duration"`
}

// SourceConfig describes a single calendar source.
type SourceConfig struct {
	ID   string `yaml:"id" json:"id" toml:"id"`
	Name string `yaml:"name" json:"name" toml:"name"`
	// Type is "ics" (default) or "html".
	Type string `yaml:"type" json:"type" toml:"type"`
	URL  string `yaml:"url" json:"url" toml:"url"`
	// Selector matches one element per event row on html sources.
	Selector string `yaml:"selector,omitempty" json:"selector,omitempty" toml:"selector,omitempty"`
}

type ImpactConfig struct {
	High   []string `yaml:"high" json:"high" toml:"high"`
	Medium []string `yaml:"medium" json:"medium" toml:"medium"`
}

type CalendarConfig struct {
	Days     int            `yaml:"days" json:"days" toml:"days"`
	CacheDir string         `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty" toml:"cache_dir,omitempty"`
	Sources  []SourceConfig `yaml:"sources" json:"sources" toml:"sources"`
	Impact   ImpactConfig   `yaml:"impact" json:"impact" toml:"impact"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" toml:"username"`
	Password string `yaml:"password" json:"password" toml:"password"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" toml:"level"`
	Format string `yaml:"format" json:"format" toml:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP API address. "off" runs the scheduler without it.
	Listen string `yaml:"listen" json:"listen" toml:"listen"`
	// Timezone is the IANA zone event times are written in. Empty means local.
	Timezone string `yaml:"timezone" json:"timezone" toml:"timezone"`
	// OwnerID is the user whose watches this instance evaluates.
	OwnerID string `yaml:"owner_id" json:"owner_id" toml:"owner_id"`
	DBPath  string `yaml:"db_path" json:"db_path" toml:"db_path"`

	TickInterval Duration `yaml:"tick_interval" json:"tick_interval" toml:"tick_interval"`
	FireTimeout  Duration `yaml:"fire_timeout" json:"fire_timeout" toml:"fire_timeout"`
	// Trigger is "exact" or "catch_up".
	Trigger     string           `yaml:"trigger" json:"trigger" toml:"trigger"`
	QuietHours  QuietHoursConfig `yaml:"quiet_hours" json:"quiet_hours" toml:"quiet_hours"`
	LeadMinutes []int            `yaml:"lead_minutes" json:"lead_minutes" toml:"lead_minutes"`

	Leader   LeaderConfig   `yaml:"leader" json:"leader" toml:"leader"`
	Audio    AudioConfig    `yaml:"audio" json:"audio" toml:"audio"`
	Calendar CalendarConfig `yaml:"calendar" json:"calendar" toml:"calendar"`

	// CORSOrigins enables CORS for the listed origins. Empty disables it.
	CORSOrigins []string `yaml:"cors_origins,omitempty" json:"cors_origins,omitempty" toml:"cors_origins,omitempty"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty" toml:"basic_auth,omitempty"`

	Log LogConfig `yaml:"log" json:"log" toml:"log"`
}

const (
	defaultListen    = "127.0.0.1:8080"
	defaultOwner     = "local"
	defaultDBPath    = "./evremind.db"
	defaultTick      = Duration(60 * time.Second)
	defaultFire      = Duration(10 * time.Second)
	defaultTrigger   = "exact"
	defaultLeaderKey = "event-reminder-leader"
	defaultLeaderTTL = Duration(3 * time.Minute)
	defaultAudio     = "bell"
	defaultGPIOPin   = "GPIO18"
	defaultChime     = Duration(150 * time.Millisecond)
	defaultDays      = 7
)

var defaultLeads = []int{1, 5, 15}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       defaultListen,
		OwnerID:      defaultOwner,
		DBPath:       defaultDBPath,
		TickInterval: defaultTick,
		FireTimeout:  defaultFire,
		Trigger:      defaultTrigger,
		QuietHours:   QuietHoursConfig{Enabled: true, Start: "22:00", End: "06:00"},
		LeadMinutes:  slices.Clone(defaultLeads),
		Leader:       LeaderConfig{Key: defaultLeaderKey, TTL: defaultLeaderTTL},
		Audio:        AudioConfig{Enabled: true, Driver: defaultAudio, GPIOPin: defaultGPIOPin, Duration: defaultChime},
		Calendar: CalendarConfig{
			Days:    defaultDays,
			Sources: []SourceConfig{},
			Impact: ImpactConfig{
				High:   []string{"CPI", "Non-Farm", "FOMC", "Rate Decision", "GDP"},
				Medium: []string{"PMI", "Retail Sales", "Unemployment Claims"},
			},
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// ListenOff disables the HTTP API.
const ListenOff = "off"

// HTTPEnabled reports whether run should serve the HTTP API.
func (c *Config) HTTPEnabled() bool {
	return !strings.EqualFold(strings.TrimSpace(c.Listen), ListenOff)
}

// Normalize fills in missing or invalid values with defaults so that
// partially filled files still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.OwnerID == "" {
		c.OwnerID = defaultOwner
	}
	if c.DBPath == "" {
		c.DBPath = defaultDBPath
	}
	if c.TickInterval < Duration(time.Second) {
		c.TickInterval = defaultTick
	}
	if c.FireTimeout <= 0 {
		c.FireTimeout = defaultFire
	}
	switch c.Trigger {
	case "exact", "catch_up":
	default:
		c.Trigger = defaultTrigger
	}
	if _, err := quiet.Parse(c.QuietHours.Start, c.QuietHours.End); err != nil {
		c.QuietHours.Start, c.QuietHours.End = "22:00", "06:00"
	}

	leads := make([]int, 0, len(c.LeadMinutes))
	for _, l := range c.LeadMinutes {
		if l > 0 && !slices.Contains(leads, l) {
			leads = append(leads, l)
		}
	}
	if len(leads) == 0 {
		leads = slices.Clone(defaultLeads)
	}
	slices.Sort(leads)
	c.LeadMinutes = leads

	if c.Leader.Key == "" {
		c.Leader.Key = defaultLeaderKey
	}
	if c.Leader.TTL < 0 {
		c.Leader.TTL = 0
	}

	switch c.Audio.Driver {
	case "bell", "gpio", "none":
	default:
		c.Audio.Driver = defaultAudio
	}
	if c.Audio.GPIOPin == "" {
		c.Audio.GPIOPin = defaultGPIOPin
	}
	if c.Audio.Duration <= 0 {
		c.Audio.Duration = defaultChime
	}

	if c.Calendar.Days <= 0 {
		c.Calendar.Days = defaultDays
	}
	if c.Calendar.Sources == nil {
		c.Calendar.Sources = []SourceConfig{}
	}
	for i := range c.Calendar.Sources {
		s := &c.Calendar.Sources[i]
		if s.Type == "" {
			s.Type = "ics"
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("source-%d", i+1)
		}
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format != "console" {
		c.Log.Format = "json"
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Quiet returns the quiet-hours policy. Normalize guarantees the window parses.
func (c *Config) Quiet() quiet.Policy {
	p, err := quiet.Parse(c.QuietHours.Start, c.QuietHours.End)
	if err != nil {
		p = quiet.Default()
	}
	p.Enabled = c.QuietHours.Enabled
	return p
}

// Load reads the configuration at path; the format follows the extension
// (.yaml/.yml, .toml, .json). Values absent from the file keep their
// defaults. A missing file is created with defaults (0600).
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

func marshal(path string, cfg *Config) ([]byte, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	case ".toml":
		return toml.Marshal(cfg)
	case ".json":
		return json.MarshalIndent(cfg, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported config extension: %s", ext)
	}
}

// Save writes cfg atomically (temp file and rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	data, err := marshal(path, cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".evremind-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
