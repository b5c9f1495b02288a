package config

import (
	"bufio"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/loykin/katsctl/internal/env"
)

// FileName is the optional supervisor config looked up in the project dir.
const FileName = "katsctl.toml"

const (
	DefaultDatabaseURL = "sqlite+aiosqlite:///kats.db"
	DefaultRedisURL    = "redis://localhost:6379"
	TradeModeLive      = "LIVE"
	TradeModePaper     = "PAPER"
)

var (
	// ErrInvalidCredentials reports a missing or placeholder credential.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoad wraps any failure to read katsctl.toml or the .env file.
	ErrLoad = errors.New("config load failed")
)

// Options selects what Load reads.
type Options struct {
	ProjectDir string
	File       string // explicit katsctl.toml; empty means <project>/katsctl.toml when present
	// Lenient keeps going when katsctl.toml or .env is malformed: the broken
	// file falls back to defaults (or to its valid .env lines) and the error
	// is kept in Config.LoadErr instead of being returned.
	Lenient bool
}

type PathsConfig struct {
	PIDDir  string `toml:"pid_dir" mapstructure:"pid_dir"`
	LogDir  string `toml:"log_dir" mapstructure:"log_dir"`
	EnvFile string `toml:"env_file" mapstructure:"env_file"`
}

type MainConfig struct {
	Command      string        `toml:"command" mapstructure:"command"`
	WorkDir      string        `toml:"work_dir" mapstructure:"work_dir"`
	Pattern      string        `toml:"pattern" mapstructure:"pattern"`
	SweepPattern string        `toml:"sweep_pattern" mapstructure:"sweep_pattern"`
	Grace        time.Duration `toml:"grace" mapstructure:"grace"`
	StartWindow  time.Duration `toml:"start_window" mapstructure:"start_window"`
	SweepWait    time.Duration `toml:"sweep_wait" mapstructure:"sweep_wait"`
	LogPrefix    string        `toml:"log_prefix" mapstructure:"log_prefix"`
}

type CacheConfig struct {
	Command       string        `toml:"command" mapstructure:"command"`
	ConfigFile    string        `toml:"config_file" mapstructure:"config_file"`
	Pattern       string        `toml:"pattern" mapstructure:"pattern"`
	Port          int           `toml:"port" mapstructure:"port"`
	MaxMemory     string        `toml:"max_memory" mapstructure:"max_memory"`
	Grace         time.Duration `toml:"grace" mapstructure:"grace"`
	ReadyAttempts int           `toml:"ready_attempts" mapstructure:"ready_attempts"`
	ReadyInterval time.Duration `toml:"ready_interval" mapstructure:"ready_interval"`
}

type StorageConfig struct {
	URL string `toml:"url" mapstructure:"url"` // overrides DB_URL
}

type PreflightConfig struct {
	ModulesCommand string        `toml:"modules_command" mapstructure:"modules_command"`
	Timeout        time.Duration `toml:"timeout" mapstructure:"timeout"`
	CacheTimeout   time.Duration `toml:"cache_timeout" mapstructure:"cache_timeout"`
}

type CredentialsConfig struct {
	Required     []string `toml:"required" mapstructure:"required"`
	Placeholders []string `toml:"placeholders" mapstructure:"placeholders"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type MetricsConfig struct {
	Textfile string `toml:"textfile" mapstructure:"textfile"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      string `toml:"color" mapstructure:"color"` // auto, always, never
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
}

type ServerConfig struct {
	Addr string    `toml:"addr" mapstructure:"addr"`
	TLS  TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig selects the certificate `serve` presents. CertFile and KeyFile
// win over Dir; AutoGenerate fills an empty Dir with a self-signed pair.
type TLSConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
	Hosts        []string `toml:"hosts" mapstructure:"hosts"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

// ScheduleConfig holds the periodic tasks run by `serve`. Empty disables a task.
type ScheduleConfig struct {
	StatusRefresh string `toml:"status_refresh" mapstructure:"status_refresh"`
	RedisFlush    string `toml:"redis_flush" mapstructure:"redis_flush"`
	TimeZone      string `toml:"time_zone" mapstructure:"time_zone"`
}

// Config is the resolved supervisor configuration. Paths are absolute.
type Config struct {
	ProjectDir  string            `mapstructure:"-"`
	File        string            `mapstructure:"-"` // katsctl.toml actually read, if any
	DotEnv      map[string]string `mapstructure:"-"` // raw .env values
	EnvFileSeen bool              `mapstructure:"-"`
	// LoadErr is the problem a lenient Load recovered from.
	LoadErr error `mapstructure:"-"`

	Paths       PathsConfig       `mapstructure:"paths"`
	Main        MainConfig        `mapstructure:"main"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Preflight   PreflightConfig   `mapstructure:"preflight"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	History     HistoryConfig     `mapstructure:"history"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Log         LogConfig         `mapstructure:"log"`
	Server      ServerConfig      `mapstructure:"server"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.pid_dir", ".pids")
	v.SetDefault("paths.log_dir", "logs")
	v.SetDefault("paths.env_file", ".env")

	v.SetDefault("main.command", "python3 -m kats.main")
	v.SetDefault("main.work_dir", "")
	v.SetDefault("main.pattern", "-m kats.main")
	v.SetDefault("main.sweep_pattern", "kats.main")
	v.SetDefault("main.grace", 15*time.Second)
	v.SetDefault("main.start_window", 3*time.Second)
	v.SetDefault("main.sweep_wait", 2*time.Second)
	v.SetDefault("main.log_prefix", "kats")

	v.SetDefault("cache.command", "redis-server")
	v.SetDefault("cache.config_file", "redis.conf")
	v.SetDefault("cache.pattern", "redis-server")
	v.SetDefault("cache.port", 6379)
	v.SetDefault("cache.max_memory", "256mb")
	v.SetDefault("cache.grace", 10*time.Second)
	v.SetDefault("cache.ready_attempts", 10)
	v.SetDefault("cache.ready_interval", time.Second)

	v.SetDefault("storage.url", "")

	v.SetDefault("preflight.modules_command",
		`python -c "import kats.config.settings, kats.strategy.strategy_selector, kats.risk.risk_manager"`)
	v.SetDefault("preflight.timeout", 30*time.Second)
	v.SetDefault("preflight.cache_timeout", 3*time.Second)

	v.SetDefault("credentials.required", []string{"KIS_APP_KEY", "KIS_APP_SECRET", "KIS_ACCOUNT_NO"})
	v.SetDefault("credentials.placeholders", []string{"your_app_key_here", "your_app_secret_here", "your_account_no_here"})

	v.SetDefault("history.dsn", "")
	v.SetDefault("metrics.textfile", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", "auto")
	v.SetDefault("log.file", "logs/katsctl.log")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("server.addr", "127.0.0.1:8780")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.dir", "tls")
	v.SetDefault("server.tls.auto_generate", true)
	v.SetDefault("server.tls.min_version", "1.2")
	v.SetDefault("server.tls.hosts", []string{"localhost", "127.0.0.1"})
	v.SetDefault("server.tls.valid_days", 365)

	v.SetDefault("schedule.status_refresh", "@every 15s")
	v.SetDefault("schedule.redis_flush", "")
	v.SetDefault("schedule.time_zone", "")
}

// Load resolves the configuration for a project directory: built-in defaults,
// then katsctl.toml, then KATSCTL_* environment variables. The project .env
// file is read as well but never exported into the supervisor's own env.
func Load(opts Options) (*Config, error) {
	dir := opts.ProjectDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoad, err)
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("KATSCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file := opts.File
	if file == "" {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			file = candidate
		}
	}
	var loadErrs []error
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			err = fmt.Errorf("%w: read %s: %v", ErrLoad, file, err)
			if !opts.Lenient {
				return nil, err
			}
			loadErrs = append(loadErrs, err)
		}
	}

	cfg := &Config{ProjectDir: dir, File: file}
	if err := v.Unmarshal(cfg); err != nil {
		err = fmt.Errorf("%w: %v", ErrLoad, err)
		if !opts.Lenient {
			return nil, err
		}
		loadErrs = append(loadErrs, err)
		cfg = defaultConfig(dir)
	}
	cfg.resolvePaths()

	dot, seen, err := LoadEnvFile(cfg.Paths.EnvFile)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrLoad, err)
		if !opts.Lenient {
			return nil, err
		}
		loadErrs = append(loadErrs, err)
		dot = validEnvLines(cfg.Paths.EnvFile)
	}
	cfg.DotEnv = dot
	cfg.EnvFileSeen = seen
	cfg.LoadErr = errors.Join(loadErrs...)
	return cfg, nil
}

// defaultConfig is the configuration with built-in defaults only.
func defaultConfig(dir string) *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{ProjectDir: dir}
	_ = v.Unmarshal(cfg)
	return cfg
}

// validEnvLines returns the well-formed assignments of a .env file,
// skipping the lines StrictParse rejected.
func validEnvLines(path string) map[string]string {
	// #nosec G304 -- path is the configured project .env
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return map[string]string{}
	}
	defer func() { _ = f.Close() }()
	out := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m, err := gotenv.StrictParse(strings.NewReader(sc.Text()))
		if err != nil {
			continue
		}
		maps.Copy(out, m)
	}
	return out
}

func (c *Config) abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectDir, p)
}

func (c *Config) resolvePaths() {
	c.Paths.PIDDir = c.abs(c.Paths.PIDDir)
	c.Paths.LogDir = c.abs(c.Paths.LogDir)
	c.Paths.EnvFile = c.abs(c.Paths.EnvFile)
	c.Cache.ConfigFile = c.abs(c.Cache.ConfigFile)
	c.Log.File = c.abs(c.Log.File)
	c.Metrics.Textfile = c.abs(c.Metrics.Textfile)
	c.Server.TLS.CertFile = c.abs(c.Server.TLS.CertFile)
	c.Server.TLS.KeyFile = c.abs(c.Server.TLS.KeyFile)
	c.Server.TLS.Dir = c.abs(c.Server.TLS.Dir)
	if c.Main.WorkDir == "" {
		c.Main.WorkDir = c.ProjectDir
	} else {
		c.Main.WorkDir = c.abs(c.Main.WorkDir)
	}
}

// LoadEnvFile parses a .env file. A missing file yields an empty map and seen=false.
func LoadEnvFile(path string) (map[string]string, bool, error) {
	// #nosec G304 -- path is the configured project .env
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, false, nil
		}
		return nil, false, err
	}
	defer func() { _ = f.Close() }()
	m, err := gotenv.StrictParse(f)
	if err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, true, nil
}

// Lookup returns the effective value of key: the OS environment wins over .env.
func (c *Config) Lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	v, ok := c.DotEnv[key]
	return v, ok
}

func (c *Config) lookupDefault(key, def string) string {
	if v, ok := c.Lookup(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// DatabaseURL returns storage.url, DB_URL or the SQLite default.
func (c *Config) DatabaseURL() string {
	if c.Storage.URL != "" {
		return c.Storage.URL
	}
	return c.lookupDefault("DB_URL", DefaultDatabaseURL)
}

func (c *Config) RedisURL() string { return c.lookupDefault("REDIS_URL", DefaultRedisURL) }

// TradeMode is the mode configured in the environment (PAPER unless LIVE).
func (c *Config) TradeMode() string {
	if strings.EqualFold(c.lookupDefault("TRADE_MODE", TradeModePaper), TradeModeLive) {
		return TradeModeLive
	}
	return TradeModePaper
}

// PIDPath returns <pid_dir>/<name>.pid.
func (c *Config) PIDPath(name string) string {
	return filepath.Join(c.Paths.PIDDir, name+".pid")
}

// MainLogPath returns the per-start log file name for t.
func (c *Config) MainLogPath(t time.Time) string {
	return filepath.Join(c.Paths.LogDir, c.Main.LogPrefix+"_"+t.Format("20060102_150405")+".log")
}

// MainLogGlob matches every per-start log file.
func (c *Config) MainLogGlob() string {
	return filepath.Join(c.Paths.LogDir, c.Main.LogPrefix+"_*.log")
}

// CredentialIssues lists required keys that are missing or still placeholders.
func (c *Config) CredentialIssues() []string {
	var issues []string
	for _, key := range c.Credentials.Required {
		v, ok := c.Lookup(key)
		v = strings.TrimSpace(v)
		switch {
		case !ok || v == "":
			issues = append(issues, key+" is not set")
		case c.isPlaceholder(v):
			issues = append(issues, key+" is a placeholder")
		}
	}
	return issues
}

func (c *Config) isPlaceholder(v string) bool {
	for _, p := range c.Credentials.Placeholders {
		if v == p {
			return true
		}
	}
	return false
}

// ValidateCredentials returns ErrInvalidCredentials naming every bad key.
func (c *Config) ValidateCredentials() error {
	if issues := c.CredentialIssues(); len(issues) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, strings.Join(issues, ", "))
	}
	return nil
}

// ChildEnv builds the main process environment: .env values under the OS
// environment, with TRADE_MODE forced to mode.
func (c *Config) ChildEnv(mode string) []string {
	return env.New().WithDefaults(c.DotEnv).WithSet("TRADE_MODE", mode).Merge(nil)
}

// EnvSettingKeys are the environment-backed settings shown by `config`.
var EnvSettingKeys = []string{
	"TRADE_MODE", "TOTAL_CAPITAL", "RISK_PER_TRADE", "DAILY_LOSS_LIMIT",
	"MONTHLY_LOSS_LIMIT", "MAX_POSITIONS", "DB_URL", "REDIS_URL",
}

// EnvSettings returns EnvSettingKeys with their effective values ("" when unset).
func (c *Config) EnvSettings() [][2]string {
	out := make([][2]string, 0, len(EnvSettingKeys))
	for _, k := range EnvSettingKeys {
		var v string
		switch k {
		case "DB_URL":
			v = c.DatabaseURL()
		case "REDIS_URL":
			v = c.RedisURL()
		case "TRADE_MODE":
			v = c.TradeMode()
		default:
			v, _ = c.Lookup(k)
		}
		out = append(out, [2]string{k, v})
	}
	return out
}
