package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. DPP_HTTP_ADDR.
const EnvPrefix = "dpp"

// Config holds all runtime configuration knobs for both binaries.
type Config struct {
	HTTP struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"http"`
	Backend struct {
		BaseURL        string        `mapstructure:"base_url"`
		Token          string        `mapstructure:"token"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"backend"`
	Simulator struct {
		DemoDefault bool          `mapstructure:"demo_default"`
		MinDelay    time.Duration `mapstructure:"min_delay"`
		MaxDelay    time.Duration `mapstructure:"max_delay"`
		FailMACs    []string      `mapstructure:"fail_macs"`
		Seed        bool          `mapstructure:"seed"`
	} `mapstructure:"simulator"`
	Session struct {
		CallTimeout time.Duration `mapstructure:"call_timeout"`
		MaxParallel int           `mapstructure:"max_parallel"`
	} `mapstructure:"session"`
	Scan struct {
		Source   string        `mapstructure:"source"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"scan"`
	Storage struct {
		Path    string `mapstructure:"path"`
		SealKey string `mapstructure:"seal_key"`
	} `mapstructure:"storage"`
	Auth struct {
		Enabled   bool          `mapstructure:"enabled"`
		Username  string        `mapstructure:"username"`
		Password  string        `mapstructure:"password"`
		JWTSecret string        `mapstructure:"jwt_secret"`
		TokenTTL  time.Duration `mapstructure:"token_ttl"`
	} `mapstructure:"auth"`
	Telegram struct {
		Enabled bool   `mapstructure:"enabled"`
		Token   string `mapstructure:"token"`
		ChatID  int64  `mapstructure:"chat_id"`
	} `mapstructure:"telegram"`
	BackendServer struct {
		Addr        string `mapstructure:"addr"`
		Token       string `mapstructure:"token"`
		StoragePath string `mapstructure:"storage_path"`
	} `mapstructure:"backend_server"`
	Hostapd struct {
		Enabled   bool          `mapstructure:"enabled"`
		SocketDir string        `mapstructure:"socket_dir"`
		Interface string        `mapstructure:"interface"`
		Timeout   time.Duration `mapstructure:"timeout"`
	} `mapstructure:"hostapd"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"addr":        "http.addr",
	"backend-url": "backend.base_url",
	"demo":        "simulator.demo_default",
	"db":          "storage.path",
	"scan-source": "scan.source",
	"listen":      "backend_server.addr",
	"registry-db": "backend_server.storage_path",
	"interface":   "hostapd.interface",
	"log-level":   "log.level",
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load reads the configuration from disk, environment and flags using
// Viper. Flags that were set win over the environment, which wins over
// the file. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine: env-only configuration is allowed.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("load config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.Simulator.MinDelay < 0 || c.Simulator.MaxDelay < c.Simulator.MinDelay {
		return fmt.Errorf("simulator delays must satisfy 0 <= min_delay <= max_delay")
	}
	if c.Session.CallTimeout <= 0 {
		return fmt.Errorf("session.call_timeout must be positive")
	}
	if c.Session.MaxParallel < 0 {
		return fmt.Errorf("session.max_parallel must not be negative")
	}
	if c.Scan.Interval < 0 {
		return fmt.Errorf("scan.interval must not be negative")
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		return fmt.Errorf("telegram requires token and chat_id")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8090")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "60s")

	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.request_timeout", "30s")

	v.SetDefault("simulator.demo_default", true)
	v.SetDefault("simulator.min_delay", "2s")
	v.SetDefault("simulator.max_delay", "3s")
	v.SetDefault("simulator.fail_macs", []string{})
	v.SetDefault("simulator.seed", true)

	v.SetDefault("session.call_timeout", "30s")
	v.SetDefault("session.max_parallel", 0)

	v.SetDefault("scan.source", "")
	v.SetDefault("scan.interval", "500ms")

	v.SetDefault("storage.path", "./data/provisioner.db")
	v.SetDefault("storage.seal_key", "")

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.password", "admin123")
	// Empty makes the auth service generate a per-process secret.
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "12h")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("backend_server.addr", ":8000")
	v.SetDefault("backend_server.token", "")
	v.SetDefault("backend_server.storage_path", "./data/backend.db")

	v.SetDefault("hostapd.enabled", false)
	v.SetDefault("hostapd.socket_dir", "/var/run/hostapd")
	v.SetDefault("hostapd.interface", "wlan0")
	v.SetDefault("hostapd.timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
