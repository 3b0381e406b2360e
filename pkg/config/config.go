package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Etcd    EtcdConfig    `mapstructure:"etcd"`
	Redis   RedisConfig   `mapstructure:"redis"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	MongoDB MongoDBConfig `mapstructure:"mongodb"`
	Elastic ElasticConfig `mapstructure:"elasticsearch"`
	Queue   QueueConfig   `mapstructure:"queue"`
	GHN     GHNConfig     `mapstructure:"ghn"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Name string `mapstructure:"name"`
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type MongoDBConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type ElasticConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

// QueueConfig controls the asynq workers. The shipping queue gets its own
// bounded pool so carrier API rate limits are respected; payment and search
// share the default pool.
type QueueConfig struct {
	Concurrency         int           `mapstructure:"concurrency"`
	ShippingConcurrency int           `mapstructure:"shipping_concurrency"`
	MaxRetry            int           `mapstructure:"max_retry"`
	RetryBase           time.Duration `mapstructure:"retry_base"`
	PaymentExpiry       time.Duration `mapstructure:"payment_expiry"`
}

type GHNConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	ShopID  string        `mapstructure:"shop_id"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Encoding    string   `mapstructure:"encoding"`
	OutputPaths []string `mapstructure:"output_paths"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 10
	}
	if c.Queue.ShippingConcurrency <= 0 {
		c.Queue.ShippingConcurrency = 4
	}
	if c.Queue.MaxRetry <= 0 {
		c.Queue.MaxRetry = 3
	}
	if c.Queue.RetryBase <= 0 {
		c.Queue.RetryBase = 5 * time.Second
	}
	if c.Queue.PaymentExpiry <= 0 {
		c.Queue.PaymentExpiry = 15 * time.Minute
	}
	if c.GHN.Timeout <= 0 {
		c.GHN.Timeout = 30 * time.Second
	}
}

func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}
