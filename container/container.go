package container

import (
	"context"

	"github.com/mohitkumar/eduflow/cluster"
	"github.com/mohitkumar/eduflow/config"
	"github.com/mohitkumar/eduflow/persistence"
	"github.com/mohitkumar/eduflow/persistence/memory"
	"github.com/mohitkumar/eduflow/persistence/postgres"
	rd "github.com/mohitkumar/eduflow/persistence/redis"
)

type DIContiner struct {
	initialized bool
	storage     persistence.Storage
	ring        *cluster.Ring
}

func (p *DIContiner) setInitialized() {
	p.initialized = true
}

func NewDiContainer(ring *cluster.Ring) *DIContiner {
	return &DIContiner{
		initialized: false,
		ring:        ring,
	}
}

func (d *DIContiner) Init(ctx context.Context, conf config.Config) error {
	switch conf.StorageType {
	case config.STORAGE_TYPE_REDIS:
		redisStorage := rd.NewRedisStorage(rd.Config{
			Addrs:     conf.RedisConfig.Addrs,
			Namespace: conf.RedisConfig.Namespace,
			Password:  conf.RedisConfig.Password,
			PoolSize:  conf.RedisConfig.PoolSize,
		}, d.ring)
		if err := redisStorage.Ping(ctx); err != nil {
			redisStorage.Close()
			return err
		}
		d.storage = redisStorage
	case config.STORAGE_TYPE_POSTGRES:
		pg, err := postgres.NewPostgresStorage(ctx, postgres.Config{
			DSN:          conf.PostgresConfig.DSN,
			MaxConns:     conf.PostgresConfig.MaxConns,
			EnsureSchema: conf.PostgresConfig.EnsureSchema,
		})
		if err != nil {
			return err
		}
		d.storage = pg
	default:
		d.storage = memory.NewMemoryStorage()
	}
	d.setInitialized()
	return nil
}

func (d *DIContiner) GetStorage() persistence.Storage {
	if !d.initialized {
		panic("persistence not initalized")
	}
	return d.storage
}
