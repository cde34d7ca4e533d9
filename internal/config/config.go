// Package config loads CLI configuration with Viper from a YAML file,
// PRERENDER_ environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PRERENDER_MAX_THREADS.
const EnvPrefix = "PRERENDER"

// DefaultFile is searched for in the working directory.
const DefaultFile = ".prerender"

// Asset serves the on-disk file Source at the URL path Destination while
// rendering.
type Asset struct {
	Source      string `mapstructure:"source"`
	Destination string `mapstructure:"destination"`
}

type Config struct {
	ServerDir         string        `mapstructure:"server_dir"`
	BrowserDir        string        `mapstructure:"browser_dir"`
	Index             string        `mapstructure:"index"`
	OutDir            string        `mapstructure:"out_dir"`
	WorkspaceRoot     string        `mapstructure:"workspace_root"`
	RoutesFile        string        `mapstructure:"routes_file"`
	DiscoverRoutes    bool          `mapstructure:"discover_routes"`
	AppShellRoute     string        `mapstructure:"app_shell_route"`
	MaxThreads        int           `mapstructure:"max_threads"`
	InlineCriticalCSS bool          `mapstructure:"inline_critical_css"`
	Sourcemap         bool          `mapstructure:"sourcemap"`
	Verbose           bool          `mapstructure:"verbose"`
	Brotli            bool          `mapstructure:"brotli"`
	MetricsFile       string        `mapstructure:"metrics_file"`
	RenderTimeout     time.Duration `mapstructure:"render_timeout"`
	Assets            []Asset       `mapstructure:"assets"`
}

// New returns a Viper instance with every key defaulted and environment
// overrides enabled. Keys must be known to Viper for AutomaticEnv to apply
// them during Unmarshal, so each one gets a default here.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("server_dir", "")
	v.SetDefault("browser_dir", "")
	v.SetDefault("index", "")
	v.SetDefault("out_dir", "")
	v.SetDefault("workspace_root", "")
	v.SetDefault("routes_file", "")
	v.SetDefault("discover_routes", true)
	v.SetDefault("app_shell_route", "")
	v.SetDefault("max_threads", runtime.NumCPU())
	v.SetDefault("inline_critical_css", false)
	v.SetDefault("sourcemap", false)
	v.SetDefault("verbose", false)
	v.SetDefault("brotli", false)
	v.SetDefault("metrics_file", "")
	v.SetDefault("render_timeout", "30s")
	v.SetDefault("assets", []any{})

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile loads the config file named by path, then PRERENDER_CONFIG_FILE,
// then .prerender.yaml in the working directory. Only a missing default
// file is tolerated.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG_FILE")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", path, err)
		}
		return nil
	}

	v.AddConfigPath(".")
	v.SetConfigType("yaml")
	v.SetConfigName(DefaultFile)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// Load decodes v and fills the derived defaults: the index defaults to
// index.html in the browser directory and the output directory to the
// browser directory itself.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Index == "" && cfg.BrowserDir != "" {
		cfg.Index = filepath.Join(cfg.BrowserDir, "index.html")
	}
	if cfg.OutDir == "" {
		cfg.OutDir = cfg.BrowserDir
	}
	return &cfg, nil
}

// ParseAssets parses DEST=SRC pairs as given to --asset.
func ParseAssets(specs []string) ([]Asset, error) {
	out := make([]Asset, 0, len(specs))
	for _, spec := range specs {
		dest, src, ok := strings.Cut(spec, "=")
		if !ok || dest == "" || src == "" {
			return nil, fmt.Errorf("asset %q: want DEST=SRC", spec)
		}
		out = append(out, Asset{Source: src, Destination: dest})
	}
	return out, nil
}

// Validate reports every problem with cfg at once.
func (c *Config) Validate() error {
	var errs []error
	if c.ServerDir == "" {
		errs = append(errs, errors.New("server_dir is required"))
	}
	if c.Index == "" {
		errs = append(errs, errors.New("index is required (or set browser_dir)"))
	}
	if c.OutDir == "" {
		errs = append(errs, errors.New("out_dir is required (or set browser_dir)"))
	}
	if c.MaxThreads < 1 {
		errs = append(errs, fmt.Errorf("max_threads must be at least 1, got %d", c.MaxThreads))
	}
	if c.RenderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("render_timeout must be positive, got %s", c.RenderTimeout))
	}
	for i, a := range c.Assets {
		if a.Source == "" || a.Destination == "" {
			errs = append(errs, fmt.Errorf("assets[%d] needs both source and destination", i))
			continue
		}
		if _, err := os.Stat(a.Source); err != nil {
			errs = append(errs, fmt.Errorf("assets[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
