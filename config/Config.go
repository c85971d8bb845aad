package config

import (
	"fmt"
	"time"

	"github.com/mohitkumar/eduflow/analytics"
)

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"
const STORAGE_TYPE_POSTGRES StorageType = "postgres"

type Config struct {
	RedisConfig     RedisStorageConfig
	PostgresConfig  PostgresStorageConfig
	StorageType     StorageType
	HttpPort        int
	NodeName        string
	PartitionCount  int
	LogLevel        string
	LogDevelopment  bool
	AnalyticsConfig analytics.DataCollectorConfig
	SchedulerConfig SchedulerConfig
	ActionConfig    ActionConfig
	GraphCacheTTL   time.Duration
	EventWorkers    int
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
	Password  string
	PoolSize  int
}

type PostgresStorageConfig struct {
	DSN          string
	MaxConns     int32
	EnsureSchema bool
}

type SchedulerConfig struct {
	Enabled         bool
	TickInterval    time.Duration
	Lookback        time.Duration
	TaskName        string
	CronProfileUnit time.Duration
}

type ActionConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

func (c Config) Validate() error {
	switch c.StorageType {
	case STORAGE_TYPE_REDIS:
		if len(c.RedisConfig.Addrs) == 0 {
			return fmt.Errorf("redis storage needs at least one address")
		}
	case STORAGE_TYPE_POSTGRES:
		if len(c.PostgresConfig.DSN) == 0 {
			return fmt.Errorf("postgres storage needs a dsn")
		}
	case STORAGE_TYPE_INMEM:
	default:
		return fmt.Errorf("invalid storage type %s", c.StorageType)
	}
	if c.PartitionCount <= 0 {
		return fmt.Errorf("partition count should be positive, got %d", c.PartitionCount)
	}
	if c.ActionConfig.Timeout <= 0 {
		return fmt.Errorf("action timeout should be positive")
	}
	if c.SchedulerConfig.Enabled && c.SchedulerConfig.TickInterval <= 0 {
		return fmt.Errorf("scheduler tick interval should be positive")
	}
	return nil
}
