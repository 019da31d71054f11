package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the optional per-project config file looked up in the
// workdir.
const FileName = ".stagerun.yaml"

// EnvPrefix prefixes every environment override, e.g. STAGERUN_VERBOSE.
const EnvPrefix = "STAGERUN"

// Config holds process configuration for a stagerun invocation.
type Config struct {
	// Verbose is parsed separately so that yes/no/on/off are accepted.
	Verbose  bool              `mapstructure:"-"`
	Workdir  string            `mapstructure:"workdir"`
	Manifest string            `mapstructure:"manifest"`
	Vars     map[string]string `mapstructure:"vars"`
	Aliases  map[string]string `mapstructure:"aliases"`
	Log      LogConfig         `mapstructure:"log"`
	Evidence EvidenceConfig    `mapstructure:"evidence"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EvidenceConfig controls run evidence records.
type EvidenceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"verbose":   "verbose",
	"workdir":   "workdir",
	"file":      "manifest",
	"evidence":  "evidence.enabled",
	"log-level": "log.level",
}

// Load builds configuration from defaults, the config file, STAGERUN_*
// environment variables and changed flags, in increasing precedence. When
// configPath is empty, FileName is read from the workdir if present.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("verbose", "false")
	v.SetDefault("workdir", ".")
	v.SetDefault("manifest", "")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("evidence.enabled", false)
	v.SetDefault("evidence.dir", filepath.Join(".stagerun", "evidence"))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("workdir"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	verbose, err := ParseBool(v.GetString("verbose"))
	if err != nil {
		return nil, fmt.Errorf("invalid verbose setting: %w", err)
	}
	cfg.Verbose = verbose

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that cannot be applied.
func (c *Config) Validate() error {
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.Log.Format)
	}
	if c.Evidence.Enabled && c.Evidence.Dir == "" {
		return fmt.Errorf("evidence.dir is required when evidence is enabled")
	}
	return nil
}

// EvidenceDir returns the evidence directory, resolved against workdir when
// relative.
func (c *Config) EvidenceDir(workdir string) string {
	if filepath.IsAbs(c.Evidence.Dir) {
		return c.Evidence.Dir
	}
	return filepath.Join(workdir, c.Evidence.Dir)
}

// ParseBool interprets a truthy or falsy setting. The empty string is false.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "0", "false", "f", "no", "n", "off":
		return false, nil
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	default:
		return false, fmt.Errorf("cannot interpret %q as a boolean", value)
	}
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning", "":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, fmt.Errorf("unknown log level %q", level)
	}
}

// SetupLogger creates a logger with the configured level and format. Logs go
// to w, or stderr when w is nil, so they never mix with command output.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, _ := parseLevel(cfg.Log.Level)
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
