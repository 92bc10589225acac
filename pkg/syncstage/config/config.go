package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/ysasiwat/syncstage/pkg/syncstage/ignore"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// EnvPrefix is prepended to every environment override, e.g.
// SYNCSTAGE_DEDUPE_ALGORITHM=sha256.
const EnvPrefix = "SYNCSTAGE"

// IgnoreConfig selects the paths every command skips.
type IgnoreConfig struct {
	// Patterns are extra doublestar globs.
	Patterns []string `mapstructure:"patterns" yaml:"patterns"`
	// Defaults adds the built-in VCS, sync client and junk patterns.
	Defaults bool `mapstructure:"defaults" yaml:"defaults"`
}

// DedupeConfig configures hashing and duplicate handling.
type DedupeConfig struct {
	Algorithm  string `mapstructure:"algorithm" yaml:"algorithm"`
	BlockSize  string `mapstructure:"block_size" yaml:"block_size"`
	Workers    int    `mapstructure:"workers" yaml:"workers"`
	Mode       string `mapstructure:"mode" yaml:"mode"`
	SkipEmpty  bool   `mapstructure:"skip_empty" yaml:"skip_empty"`
	MinSize    string `mapstructure:"min_size" yaml:"min_size"`
	Quarantine string `mapstructure:"quarantine" yaml:"quarantine"`
}

// ManifestConfig says where manifests are written.
type ManifestConfig struct {
	// Dir holds manifests. Empty means the scanned root itself.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// RenameConfig configures the rename planner.
type RenameConfig struct {
	Template         string `mapstructure:"template" yaml:"template"`
	Case             string `mapstructure:"case" yaml:"case"`
	ExtCase          string `mapstructure:"ext_case" yaml:"ext_case"`
	Pad              int    `mapstructure:"pad" yaml:"pad"`
	AppendCounter    bool   `mapstructure:"append_counter" yaml:"append_counter"`
	SkipIfAlready    bool   `mapstructure:"skip_if_already" yaml:"skip_if_already"`
	IdempotentPrefix string `mapstructure:"idempotent_prefix" yaml:"idempotent_prefix"`
	Normalize        bool   `mapstructure:"normalize" yaml:"normalize"`
	Sanitize         bool   `mapstructure:"sanitize" yaml:"sanitize"`
	SanitizeMode     string `mapstructure:"sanitize_mode" yaml:"sanitize_mode"`
	KeepSymbols      bool   `mapstructure:"keep_symbols" yaml:"keep_symbols"`
	KeepUnderscores  bool   `mapstructure:"keep_underscores" yaml:"keep_underscores"`
	ConvertDashes    bool   `mapstructure:"convert_dashes" yaml:"convert_dashes"`
}

// OrganizeConfig configures date/extension foldering.
type OrganizeConfig struct {
	Destination  string `mapstructure:"destination" yaml:"destination"`
	By           string `mapstructure:"by" yaml:"by"`
	DateFormat   string `mapstructure:"date_format" yaml:"date_format"`
	LowercaseExt bool   `mapstructure:"lowercase_ext" yaml:"lowercase_ext"`
}

// MirrorConfig configures one-way mirroring.
type MirrorConfig struct {
	Checksum         bool `mapstructure:"checksum" yaml:"checksum"`
	DeleteExtraneous bool `mapstructure:"delete_extraneous" yaml:"delete_extraneous"`
}

// CleanConfig configures junk removal.
type CleanConfig struct {
	Junk       []string `mapstructure:"junk" yaml:"junk"`
	PruneEmpty bool     `mapstructure:"prune_empty" yaml:"prune_empty"`
}

// ApplyConfig configures the executor.
type ApplyConfig struct {
	// Trash sends deletes to the desktop trash instead of unlinking.
	Trash   bool `mapstructure:"trash" yaml:"trash"`
	Workers int  `mapstructure:"workers" yaml:"workers"`
}

// CacheConfig configures the digest cache.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// HistoryConfig configures the apply journal.
type HistoryConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size" yaml:"max_size"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Daily      bool   `mapstructure:"daily" yaml:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level" yaml:"level"`
	Path       string            `mapstructure:"path" yaml:"path"`
	Format     string            `mapstructure:"format" yaml:"format"`
	Rotation   RotationConfig    `mapstructure:"rotation" yaml:"rotation"`
	Components map[string]string `mapstructure:"components" yaml:"components"`
}

// Config is the full syncstage configuration. Components receive copies of
// the sections they need; nothing reads configuration from globals.
type Config struct {
	Roots    []string       `mapstructure:"roots" yaml:"roots"`
	Ignore   IgnoreConfig   `mapstructure:"ignore" yaml:"ignore"`
	Dedupe   DedupeConfig   `mapstructure:"dedupe" yaml:"dedupe"`
	Manifest ManifestConfig `mapstructure:"manifest" yaml:"manifest"`
	Rename   RenameConfig   `mapstructure:"rename" yaml:"rename"`
	Organize OrganizeConfig `mapstructure:"organize" yaml:"organize"`
	Mirror   MirrorConfig   `mapstructure:"mirror" yaml:"mirror"`
	Clean    CleanConfig    `mapstructure:"clean" yaml:"clean"`
	Apply    ApplyConfig    `mapstructure:"apply" yaml:"apply"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	History  HistoryConfig  `mapstructure:"history" yaml:"history"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// New returns a viper instance with every default set and environment
// overrides enabled. The CLI binds its flags to the same instance.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	return v
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("roots", []string{})
	v.SetDefault("ignore.patterns", []string{})
	v.SetDefault("ignore.defaults", true)

	v.SetDefault("dedupe.algorithm", DefaultAlgorithm)
	v.SetDefault("dedupe.block_size", DefaultBlockSize)
	v.SetDefault("dedupe.workers", 0)
	v.SetDefault("dedupe.mode", DefaultDedupeMode)
	v.SetDefault("dedupe.skip_empty", true)
	v.SetDefault("dedupe.min_size", "0")
	v.SetDefault("dedupe.quarantine", DefaultQuarantine)

	v.SetDefault("manifest.dir", "")

	v.SetDefault("rename.template", DefaultRenameTemplate)
	v.SetDefault("rename.case", "keep")
	v.SetDefault("rename.ext_case", "lower")
	v.SetDefault("rename.pad", DefaultCounterPad)
	v.SetDefault("rename.append_counter", false)
	v.SetDefault("rename.skip_if_already", true)
	v.SetDefault("rename.idempotent_prefix", DefaultIdempotentPrefix)
	v.SetDefault("rename.normalize", true)
	v.SetDefault("rename.sanitize", true)
	v.SetDefault("rename.sanitize_mode", "drop")
	v.SetDefault("rename.keep_symbols", true)
	v.SetDefault("rename.keep_underscores", false)
	v.SetDefault("rename.convert_dashes", false)

	v.SetDefault("organize.destination", DefaultOrganizeDestination)
	v.SetDefault("organize.by", DefaultOrganizeBy)
	v.SetDefault("organize.date_format", DefaultOrganizeDateFormat)
	v.SetDefault("organize.lowercase_ext", true)

	v.SetDefault("mirror.checksum", false)
	v.SetDefault("mirror.delete_extraneous", false)

	v.SetDefault("clean.junk", ignore.DefaultJunk)
	v.SetDefault("clean.prune_empty", true)

	v.SetDefault("apply.trash", false)
	v.SetDefault("apply.workers", 0)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.path", DefaultCachePath())

	v.SetDefault("history.path", DefaultHistoryPath())
	v.SetDefault("history.retention_days", DefaultRetentionDays)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.rotation.max_size", "10MiB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{})
}

// Load reads file (or the default config.yaml when file is empty) into v
// and decodes the result. A missing default file is not an error; a
// missing explicit file is.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with no file and no environment.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	_ = cfg.normalize()
	return &cfg
}

func (c *Config) normalize() error {
	if c.Cache.Path == "" {
		c.Cache.Path = DefaultCachePath()
	}
	if c.History.Path == "" {
		c.History.Path = DefaultHistoryPath()
	}
	for i, r := range c.Roots {
		p, err := ExpandPath(r)
		if err != nil {
			return err
		}
		c.Roots[i] = p
	}
	var err error
	for _, p := range []*string{&c.Manifest.Dir, &c.Cache.Path, &c.History.Path, &c.Logging.Path} {
		if *p, err = ExpandPath(*p); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks every enumerated and parsed value so a bad config fails
// before any file is touched.
func (c *Config) Validate() error {
	var errs []error
	check := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: %q is not one of %s", field, value, strings.Join(allowed, ", ")))
	}

	if _, err := types.ParseAlgorithm(c.Dedupe.Algorithm); err != nil {
		errs = append(errs, fmt.Errorf("dedupe.algorithm: %w", err))
	}
	if n, err := types.ParseSize(c.Dedupe.BlockSize); err != nil {
		errs = append(errs, fmt.Errorf("dedupe.block_size: %w", err))
	} else if n == 0 {
		errs = append(errs, errors.New("dedupe.block_size: must be positive"))
	}
	if _, err := types.ParseSize(c.Dedupe.MinSize); err != nil {
		errs = append(errs, fmt.Errorf("dedupe.min_size: %w", err))
	}
	if c.Dedupe.Workers < 0 || c.Apply.Workers < 0 {
		errs = append(errs, errors.New("workers: cannot be negative"))
	}
	check("dedupe.mode", c.Dedupe.Mode, "report", "delete", "hardlink", "move")

	check("rename.case", c.Rename.Case, "smart", "title", "lower", "upper", "keep")
	check("rename.ext_case", c.Rename.ExtCase, "keep", "lower", "upper")
	check("rename.sanitize_mode", c.Rename.SanitizeMode, "drop", "underscore")
	if c.Rename.Pad < 1 || c.Rename.Pad > 9 {
		errs = append(errs, fmt.Errorf("rename.pad: %d is outside 1..9", c.Rename.Pad))
	}
	if c.Rename.IdempotentPrefix != "" {
		if _, err := regexp.Compile(c.Rename.IdempotentPrefix); err != nil {
			errs = append(errs, fmt.Errorf("rename.idempotent_prefix: %w", err))
		}
	}

	check("organize.by", c.Organize.By, "date", "ext", "date_ext")

	if c.History.RetentionDays < 0 {
		errs = append(errs, errors.New("history.retention_days: cannot be negative"))
	}
	if _, err := types.ParseSize(c.Logging.Rotation.MaxSize); err != nil {
		errs = append(errs, fmt.Errorf("logging.rotation.max_size: %w", err))
	}
	check("logging.format", c.Logging.Format, "text", "json", "logfmt")

	return errors.Join(errs...)
}

// Algorithm returns the parsed digest algorithm.
func (c *Config) Algorithm() types.Algorithm {
	a, err := types.ParseAlgorithm(c.Dedupe.Algorithm)
	if err != nil {
		return types.BLAKE2b256
	}
	return a
}

// BlockSize returns the parsed hashing block size in bytes.
func (c *Config) BlockSize() int {
	n, err := types.ParseSize(c.Dedupe.BlockSize)
	if err != nil || n <= 0 {
		return int(types.MiB)
	}
	return int(n)
}

// MinSize returns the parsed dedupe minimum size in bytes.
func (c *Config) MinSize() int64 {
	n, _ := types.ParseSize(c.Dedupe.MinSize)
	return n
}

// IgnorePatterns returns the effective ignore globs: the built-in set when
// enabled, then the configured extras.
func (c *Config) IgnorePatterns() []string {
	var out []string
	if c.Ignore.Defaults {
		out = append(out, ignore.Defaults()...)
	}
	return append(out, c.Ignore.Patterns...)
}

// ConfigDir returns $XDG_CONFIG_HOME/syncstage.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, "syncstage")
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// StateDir returns $XDG_STATE_HOME/syncstage for logs and history.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "syncstage")
}

// CacheDir returns $XDG_CACHE_HOME/syncstage.
func CacheDir() string {
	return filepath.Join(xdg.CacheHome, "syncstage")
}

// DefaultCachePath returns the digest cache database directory.
func DefaultCachePath() string {
	return filepath.Join(CacheDir(), "digests")
}

// DefaultHistoryPath returns the apply journal directory.
func DefaultHistoryPath() string {
	return filepath.Join(StateDir(), "history")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(StateDir(), "syncstage.log")
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

// ErrConfigExists is returned by WriteDefault when the file is present and
// force was not requested.
var ErrConfigExists = errors.New("config file already exists")

// WriteDefault writes the commented default configuration to path (the
// default location when empty) and returns the path written.
func WriteDefault(path string, force bool) (string, error) {
	if path == "" {
		path = ConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !force {
		return path, ErrConfigExists
	} else if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(DefaultFile()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}
	return path, nil
}

// DefaultFile renders the commented default configuration.
func DefaultFile() string {
	var junk strings.Builder
	for _, j := range ignore.DefaultJunk {
		fmt.Fprintf(&junk, "    - %q\n", j)
	}

	return fmt.Sprintf(`# syncstage configuration

# Roots used when none is given on the command line.
roots: []

ignore:
  # Include the built-in VCS, sync client and junk patterns.
  defaults: true
  # Extra doublestar globs, matched against paths relative to the root.
  patterns: []

dedupe:
  # blake2b or sha256
  algorithm: %s
  block_size: %s
  # 0 picks a worker count from CPU and memory.
  workers: 0
  # report, delete, hardlink or move
  mode: %s
  skip_empty: true
  min_size: "0"
  # Where move mode puts redundant copies, relative to the root.
  quarantine: %s

manifest:
  # Empty writes MANIFEST-*.txt into the scanned root.
  dir: ""

rename:
  # Tokens: {stem} {ext} {parent} {created:FMT} {modified:FMT} {counter}
  template: %q
  # smart, title, lower, upper or keep
  case: keep
  ext_case: lower
  # Zero-padding width of {counter}; counters start at 1.
  pad: %d
  # Add " NN" before the extension on collisions when the template
  # has no {counter}. Off means collisions are errors.
  append_counter: false
  skip_if_already: true
  idempotent_prefix: '%s'
  normalize: true
  sanitize: true
  # drop or underscore
  sanitize_mode: drop
  keep_symbols: true
  keep_underscores: false
  convert_dashes: false

organize:
  destination: %q
  # date, ext or date_ext
  by: %s
  date_format: %q
  lowercase_ext: true

mirror:
  # Compare content digests instead of size and modification time.
  checksum: false
  # Delete target files that no longer exist in the source.
  delete_extraneous: false

clean:
  prune_empty: true
  junk:
%s
apply:
  # Send deletes to the desktop trash.
  trash: false
  workers: 0

cache:
  enabled: true
  path: ""

history:
  path: ""
  retention_days: %d

logging:
  # debug, info, warn, error
  level: info
  # Empty means $XDG_STATE_HOME/syncstage/syncstage.log
  path: ""
  # text, json or logfmt
  format: text
  rotation:
    max_size: 10MiB
    max_age: 30
    max_backups: 5
    daily: true
  components: {}
`,
		DefaultAlgorithm, DefaultBlockSize, DefaultDedupeMode, DefaultQuarantine,
		DefaultRenameTemplate, DefaultCounterPad, DefaultIdempotentPrefix,
		DefaultOrganizeDestination, DefaultOrganizeBy, DefaultOrganizeDateFormat,
		junk.String(), DefaultRetentionDays)
}
