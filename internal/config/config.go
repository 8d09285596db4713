package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for ReportGate. It is built once at
// startup and passed by reference; nothing mutates it afterwards.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Elastic  ElasticConfig  `mapstructure:"elastic"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Stream   StreamConfig   `mapstructure:"stream"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	StaticDir string `mapstructure:"static_dir"`
}

// UpstreamConfig holds the upstream address families and per-operation
// path overrides. Overridden paths are used as-is, without validation.
type UpstreamConfig struct {
	ChatBase        string            `mapstructure:"chat_base"`
	OtherBase       string            `mapstructure:"other_base"`
	CustomOtherBase string            `mapstructure:"custom_other_base"`
	Paths           map[string]string `mapstructure:"paths"`
	CustomPaths     map[string]string `mapstructure:"custom_paths"`
}

// ElasticConfig holds the search-engine store configuration
type ElasticConfig struct {
	Addresses          []string `mapstructure:"addresses"`
	Username           string   `mapstructure:"username"`
	Password           string   `mapstructure:"password"`
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify"`
}

// AuthConfig holds credential validation configuration
type AuthConfig struct {
	Secret         string `mapstructure:"secret"`
	PasswordSalt   string `mapstructure:"password_salt"`
	SystemPassword string `mapstructure:"system_password"`
}

// StreamConfig holds streaming-proxy tuning. The guard fields control the
// repetition circuit-breaker; they were undocumented constants upstream
// and are deliberately configurable here.
type StreamConfig struct {
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	TotalTimeout         time.Duration `mapstructure:"total_timeout"`
	DefaultEngine        string        `mapstructure:"default_engine"`
	GuardActivationChars int           `mapstructure:"guard_activation_chars"`
	GuardMinLineChars    int           `mapstructure:"guard_min_line_chars"`
	GuardRepeatThreshold int           `mapstructure:"guard_repeat_threshold"`
}

// CORSConfig holds the cross-origin allow-list
type CORSConfig struct {
	Origins []string `mapstructure:"origins"`
}

// Load loads configuration from an optional file and the environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("REPORTGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static_dir", "./static")

	v.SetDefault("upstream.chat_base", "https://llmai.hibor.com.cn/zx_search_data/api")
	v.SetDefault("upstream.other_base", "https://llmai.hibor.com.cn/zx_search_data/api")
	v.SetDefault("upstream.custom_other_base", "https://llmai.hibor.com.cn/zx_search_data/api")
	v.SetDefault("upstream.paths", map[string]string{})
	v.SetDefault("upstream.custom_paths", map[string]string{})

	v.SetDefault("elastic.addresses", []string{"https://localhost:9200"})
	v.SetDefault("elastic.username", "")
	v.SetDefault("elastic.password", "")
	v.SetDefault("elastic.insecure_skip_verify", true)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.password_salt", "")
	v.SetDefault("auth.system_password", "")

	v.SetDefault("stream.connect_timeout", 60*time.Second)
	v.SetDefault("stream.total_timeout", 600*time.Second)
	v.SetDefault("stream.default_engine", "custom-model-20250213")
	v.SetDefault("stream.guard_activation_chars", 1000)
	v.SetDefault("stream.guard_min_line_chars", 5)
	v.SetDefault("stream.guard_repeat_threshold", 2)

	v.SetDefault("cors.origins", []string{"http://localhost:5173", "http://127.0.0.1:8080"})
}

// Address returns the server listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
