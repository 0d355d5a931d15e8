package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot         BotConfig         `mapstructure:"bot"`
	Plugin      PluginConfig      `mapstructure:"plugin"`
	AvatarCache AvatarCacheConfig `mapstructure:"avatar_cache"`
	Network     NetworkConfig     `mapstructure:"network"`
	Renderer    RendererConfig    `mapstructure:"renderer"`
	Templates   TemplatesConfig   `mapstructure:"templates"`
	Collector   CollectorConfig   `mapstructure:"collector"`
	Profile     ProfileConfig     `mapstructure:"profile"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	I18n        I18nConfig        `mapstructure:"i18n"`
}

type BotConfig struct {
	Token         string  `mapstructure:"token"`
	UpdateTimeout int     `mapstructure:"update_timeout"`
	AdminIDs      []int64 `mapstructure:"admin_ids"`
}

// PluginConfig holds the generation switches an administrator can change at runtime.
type PluginConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	GenerationTimeout int      `mapstructure:"generation_timeout"`
	CooldownSeconds   int      `mapstructure:"cooldown_seconds"`
	DisabledTemplates []string `mapstructure:"disabled_templates"`
	CompressMaxSize   int      `mapstructure:"compress_max_size"`
	// AdminPrefixes are text aliases of admin commands; messages starting with one never trigger generation
	AdminPrefixes []string `mapstructure:"admin_prefixes"`
}

type AvatarCacheConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	ExpireHours          int    `mapstructure:"expire_hours"`
	Dir                  string `mapstructure:"dir"`
	CleanupIntervalHours int    `mapstructure:"cleanup_interval_hours"`
}

type NetworkConfig struct {
	AvatarSource    string        `mapstructure:"avatar_source"`
	AvatarURL       string        `mapstructure:"avatar_url"`
	AvatarTimeout   time.Duration `mapstructure:"avatar_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	AvatarRPS       float64       `mapstructure:"avatar_rps"`
	AvatarBurst     int           `mapstructure:"avatar_burst"`
}

type RendererConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	LoadConcurrency int           `mapstructure:"load_concurrency"`
}

type TemplatesConfig struct {
	Source      string        `mapstructure:"source"`
	Directory   string        `mapstructure:"directory"`
	LoadTimeout time.Duration `mapstructure:"load_timeout"`
}

type CollectorConfig struct {
	QuotedName string `mapstructure:"quoted_name"`
	BotName    string `mapstructure:"bot_name"`
}

type ProfileConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// RateLimitConfig bounds how many memes the bot posts into one chat per minute
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Memory MemoryConfig `mapstructure:"memory"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MemoryConfig struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
	Directory       string   `mapstructure:"directory"`
}

const (
	AvatarSourceTelegram = "telegram"
	AvatarSourceURL      = "url"
)

const (
	TemplateSourceRenderer  = "renderer"
	TemplateSourceDirectory = "directory"
)

// Timeout returns the hard wall-clock limit for one render call.
func (c *PluginConfig) Timeout() time.Duration {
	return time.Duration(c.GenerationTimeout) * time.Second
}

// CooldownWindow returns the per-user cooldown. Zero or less disables gating.
func (c *PluginConfig) CooldownWindow() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// CleanupInterval falls back to the expiry window when no interval is configured.
func (c *AvatarCacheConfig) CleanupInterval() time.Duration {
	hours := c.CleanupIntervalHours
	if hours <= 0 {
		hours = c.ExpireHours
	}
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// IsAdmin reports whether the telegram user id is listed in bot.admin_ids.
func (c *BotConfig) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.update_timeout", 60)

	v.SetDefault("plugin.enabled", true)
	v.SetDefault("plugin.generation_timeout", 30)
	v.SetDefault("plugin.cooldown_seconds", 3)
	v.SetDefault("plugin.disabled_templates", []string{})
	v.SetDefault("plugin.compress_max_size", 512)
	v.SetDefault("plugin.admin_prefixes", []string{
		"启用表情包", "meme启用", "启用插件",
		"禁用表情包", "meme禁用", "禁用插件", "关闭表情包",
		"表情状态", "meme状态",
		"表情帮助", "meme帮助",
		"表情列表", "meme列表",
		"禁用列表",
	})

	v.SetDefault("avatar_cache.enabled", true)
	v.SetDefault("avatar_cache.expire_hours", 24)
	v.SetDefault("avatar_cache.dir", "data/cache/meme_avatars")

	v.SetDefault("network.avatar_source", AvatarSourceTelegram)
	v.SetDefault("network.avatar_url", "https://q4.qlogo.cn/headimg_dl?dst_uin=%s&spec=640")
	v.SetDefault("network.avatar_timeout", 10*time.Second)
	v.SetDefault("network.download_timeout", 30*time.Second)
	v.SetDefault("network.avatar_rps", 5.0)
	v.SetDefault("network.avatar_burst", 10)

	v.SetDefault("renderer.timeout", 60*time.Second)
	v.SetDefault("renderer.load_concurrency", 8)

	v.SetDefault("templates.source", TemplateSourceRenderer)
	v.SetDefault("templates.load_timeout", 2*time.Minute)

	v.SetDefault("collector.quoted_name", "quoted-user")
	v.SetDefault("collector.bot_name", "bot")

	v.SetDefault("profile.cache_ttl", 10*time.Minute)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 20)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.memory.default_expiration", 0)
	v.SetDefault("storage.memory.cleanup_interval", 10*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "zh")
	v.SetDefault("i18n.languages", []string{"zh", "en"})
	v.SetDefault("i18n.directory", "configs/i18n")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.BindEnv("bot.token", "BOT_TOKEN")
	v.BindEnv("renderer.base_url", "RENDERER_BASE_URL")
	v.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.redis.db", "REDIS_DB")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle Redis address special case
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		redisPort := os.Getenv("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Storage.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	// BOT_ADMIN_IDS is a comma separated list that extends bot.admin_ids
	if adminIDs := os.Getenv("BOT_ADMIN_IDS"); adminIDs != "" {
		for _, idStr := range strings.Split(adminIDs, ",") {
			idStr = strings.TrimSpace(idStr)
			if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
				config.Bot.AdminIDs = append(config.Bot.AdminIDs, id)
			}
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Bot.Token == "" {
		return fmt.Errorf("bot token is required")
	}
	if cfg.Plugin.GenerationTimeout <= 0 {
		return fmt.Errorf("plugin.generation_timeout must be positive")
	}
	switch cfg.Network.AvatarSource {
	case AvatarSourceTelegram:
	case AvatarSourceURL:
		if !strings.Contains(cfg.Network.AvatarURL, "%s") {
			return fmt.Errorf("network.avatar_url must contain a %%s placeholder for the user id")
		}
	default:
		return fmt.Errorf("unsupported avatar source: %s", cfg.Network.AvatarSource)
	}
	switch cfg.Templates.Source {
	case TemplateSourceRenderer:
		if cfg.Renderer.BaseURL == "" {
			return fmt.Errorf("renderer.base_url is required")
		}
	case TemplateSourceDirectory:
		if cfg.Templates.Directory == "" {
			return fmt.Errorf("templates.directory is required for the directory source")
		}
		if cfg.Renderer.BaseURL == "" {
			return fmt.Errorf("renderer.base_url is required")
		}
	default:
		return fmt.Errorf("unsupported template source: %s", cfg.Templates.Source)
	}
	return nil
}
