package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	MySQL  MySQLConfig  `mapstructure:"mysql"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	TaxAPI TaxAPIConfig `mapstructure:"tax_api"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	GroupID string           `mapstructure:"group_id"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	BatchJobs   string `mapstructure:"batch_jobs"`
	OrderEvents string `mapstructure:"order_events"`
	SyncResult  string `mapstructure:"sync_result"`
}

type TaxAPIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

const (
	SchedulerKafka = "kafka"
	SchedulerLocal = "local"
)

// SyncConfig 同步队列相关配置
type SyncConfig struct {
	QueueInterval      time.Duration `mapstructure:"queue_interval"` // 队列扫描周期
	BatchSize          int           `mapstructure:"batch_size"`     // 每批最多多少条
	MaxRetries         int           `mapstructure:"max_retries"`    // 超过后置为 error
	SupportedCountries []string      `mapstructure:"supported_countries"`
	BackfillInterval   time.Duration `mapstructure:"backfill_interval"` // 0 表示不自动回补
	Timezone           string        `mapstructure:"timezone"`          // 回补"今天"的日界
	Scheduler          string        `mapstructure:"scheduler"`         // kafka | local
	LocalWorkers       int           `mapstructure:"local_workers"`
	MaxOutboxRetry     int           `mapstructure:"max_outbox_retry"`
	WorkerID           int64         `mapstructure:"worker_id"` // 雪花算法机器ID，每个副本必须不同
}

// maxWorkerID 与 idgen 的 10 位机器ID一致
const maxWorkerID = 1023

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Location 解析回补用的时区，非法值回落到本地时区
func (c SyncConfig) Location() *time.Location {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("mysql.max_open_conns", 20)
	v.SetDefault("mysql.max_idle_conns", 5)
	v.SetDefault("kafka.group_id", "tax-sync")
	v.SetDefault("kafka.topic.batch_jobs", "tax_sync.batch_jobs")
	v.SetDefault("kafka.topic.order_events", "shop.order_events")
	v.SetDefault("kafka.topic.sync_result", "tax_sync.result")
	v.SetDefault("tax_api.timeout", 30*time.Second)
	v.SetDefault("sync.queue_interval", 5*time.Minute)
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.supported_countries", []string{"US"})
	v.SetDefault("sync.backfill_interval", time.Duration(0))
	v.SetDefault("sync.timezone", "Local")
	v.SetDefault("sync.scheduler", SchedulerKafka)
	v.SetDefault("sync.local_workers", 2)
	v.SetDefault("sync.max_outbox_retry", 5)
	v.SetDefault("sync.worker_id", 1)
	v.SetDefault("log.level", "info")
}

// LoadConfig 加载配置文件
// 先尝试加载 .env，然后读 yaml，环境变量（TAXSYNC_ 前缀）优先级最高
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TAXSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验同步相关的关键配置
func (c *Config) Validate() error {
	if c.Sync.BatchSize <= 0 {
		return errors.New("sync.batch_size 必须大于0")
	}
	if c.Sync.QueueInterval <= 0 {
		return errors.New("sync.queue_interval 必须大于0")
	}
	if c.Sync.MaxRetries <= 0 {
		return errors.New("sync.max_retries 必须大于0")
	}
	if c.Sync.WorkerID < 0 || c.Sync.WorkerID > maxWorkerID {
		return fmt.Errorf("sync.worker_id 必须在 0-%d 之间", maxWorkerID)
	}
	switch c.Sync.Scheduler {
	case SchedulerKafka, SchedulerLocal:
	default:
		return fmt.Errorf("未知的 sync.scheduler: %s", c.Sync.Scheduler)
	}
	return nil
}
