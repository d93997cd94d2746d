package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Env  string `mapstructure:"env"`
	Port int    `mapstructure:"port"`
}

type JWTConfig struct {
	Algorithm     string `mapstructure:"algorithm"`
	Secret        string `mapstructure:"secret"`
	PublicKeyPath string `mapstructure:"public_key_path"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type S3Config struct {
	Enabled    bool   `mapstructure:"enabled"`
	Region     string `mapstructure:"region"`
	Bucket     string `mapstructure:"bucket"`
	PublicRead bool   `mapstructure:"public_read"`
}

type WSConfig struct {
	PingIntervalSeconds   int   `mapstructure:"ping_interval_seconds"`
	ReadDeadlineSeconds   int   `mapstructure:"read_deadline_seconds"`
	WriteDeadlineSeconds  int   `mapstructure:"write_deadline_seconds"`
	ConnectTimeoutSeconds int   `mapstructure:"connect_timeout_seconds"`
	MaxMessageSizeBytes   int64 `mapstructure:"max_message_size_bytes"`
	SendBuffer            int   `mapstructure:"send_buffer"`
}

type DedupConfig struct {
	TTLMinutes int `mapstructure:"ttl_minutes"`
}

type Config struct {
	App   AppConfig   `mapstructure:"app"`
	JWT   JWTConfig   `mapstructure:"jwt"`
	Mongo MongoConfig `mapstructure:"mongo"`
	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
	S3    S3Config    `mapstructure:"s3"`
	WS    WSConfig    `mapstructure:"ws"`
	Dedup DedupConfig `mapstructure:"dedup"`

	// derived
	PingInterval   time.Duration
	ReadDeadline   time.Duration
	WriteDeadline  time.Duration
	ConnectTimeout time.Duration
	DedupTTL       time.Duration
}

// Load reads the config file at path (optional) and overlays environment
// variables. Missing file is not an error; env-only deployments are common.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8080)
	v.SetDefault("jwt.algorithm", "HS256")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "chat")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "chat")
	v.SetDefault("kafka.topic", "chat.message.persisted")
	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.read_deadline_seconds", 60)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.connect_timeout_seconds", 10)
	v.SetDefault("ws.max_message_size_bytes", 1<<20)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("dedup.ttl_minutes", 60)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, err
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}

	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.ReadDeadline = time.Duration(c.WS.ReadDeadlineSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.ConnectTimeout = time.Duration(c.WS.ConnectTimeoutSeconds) * time.Second
	c.DedupTTL = time.Duration(c.Dedup.TTLMinutes) * time.Minute
	return &c, nil
}

func (c *Config) Development() bool {
	return c.App.Env != "production"
}
