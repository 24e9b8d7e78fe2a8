package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port     int    `mapstructure:"port"`
		LogLevel string `mapstructure:"log_level"`
		CORS     bool   `mapstructure:"cors"`
	} `mapstructure:"running"`
	Mysql struct {
		// 为空时版本只保存在内存里
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addrs       []string      `mapstructure:"addrs"`
		Password    string        `mapstructure:"password"`
		PresenceTTL time.Duration `mapstructure:"presence_ttl"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
		Workers int      `mapstructure:"workers"`
		Queue   int      `mapstructure:"queue"`
	} `mapstructure:"kafka"`
	Auth struct {
		Token  string `mapstructure:"token"`
		Secret string `mapstructure:"secret"`
	} `mapstructure:"auth"`
	Collab struct {
		WsURL        string        `mapstructure:"ws_url"`
		HTTPURL      string        `mapstructure:"http_url"`
		FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
		PingInterval time.Duration `mapstructure:"ping_interval"`
		MinBackoff   time.Duration `mapstructure:"min_backoff"`
		MaxBackoff   time.Duration `mapstructure:"max_backoff"`
		SendQueue    int           `mapstructure:"send_queue"`
	} `mapstructure:"collab"`
	Editor struct {
		UndoLimit        int           `mapstructure:"undo_limit"`
		InboxSize        int           `mapstructure:"inbox_size"`
		StoreMailboxSize int           `mapstructure:"store_mailbox_size"`
		PublishTimeout   time.Duration `mapstructure:"publish_timeout"`
	} `mapstructure:"editor"`
}

// 每个字段都要有默认值，否则 AutomaticEnv 在 Unmarshal 时看不到这个 key
func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 3005)
	v.SetDefault("running.log_level", "info")
	v.SetDefault("running.cors", false)
	v.SetDefault("mysql.dsn", "")
	v.SetDefault("redis.addrs", []string{})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.presence_ttl", 10*time.Minute)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "doc-revisions")
	v.SetDefault("kafka.workers", 4)
	v.SetDefault("kafka.queue", 10_000)
	v.SetDefault("auth.token", "")
	v.SetDefault("auth.secret", "")
	v.SetDefault("collab.ws_url", "ws://localhost:3002/collab/ws")
	v.SetDefault("collab.http_url", "http://localhost:3002")
	v.SetDefault("collab.fetch_timeout", 3*time.Second)
	v.SetDefault("collab.ping_interval", 30*time.Second)
	v.SetDefault("collab.min_backoff", 500*time.Millisecond)
	v.SetDefault("collab.max_backoff", 30*time.Second)
	v.SetDefault("collab.send_queue", 256)
	v.SetDefault("editor.undo_limit", 100)
	v.SetDefault("editor.inbox_size", 64)
	v.SetDefault("editor.store_mailbox_size", 50)
	v.SetDefault("editor.publish_timeout", time.Second)
}

// Load 读取 collabClientConfig.yaml，环境变量 COLLAB_RUNNING_PORT 之类的可以覆盖文件里的值。
// 找不到配置文件时只用默认值和环境变量。
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("collabClientConfig")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		// 兼容从项目根目录或 backend 目录启动
		paths = []string{"./backend/config", "./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("COLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 启动前检查必填项。同一个密钥既校验会话身份也校验本地 API 的请求，不允许为空
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return errors.New("auth.secret is empty: set it in collabClientConfig.yaml or COLLAB_AUTH_SECRET")
	}
	if c.Collab.WsURL == "" || c.Collab.HTTPURL == "" {
		return errors.New("collab.ws_url and collab.http_url are required")
	}
	return nil
}
