package redis

import (
	"context"

	"github.com/mohitkumar/eduflow/cluster"
	"github.com/mohitkumar/eduflow/persistence"
)

var _ persistence.Storage = new(redisStorage)

// Config addresses a single node or a cluster; every key is prefixed with
// Namespace.
type Config struct {
	Addrs     []string
	Namespace string
	Password  string
	PoolSize  int
}

type redisStorage struct {
	*redisDefinitionDao
	*redisExecutionDao
	*redisAuditDao
	bs *baseDao
}

func NewRedisStorage(conf Config, ring *cluster.Ring) *redisStorage {
	bs := newBaseDao(conf, ring)
	return &redisStorage{
		redisDefinitionDao: newRedisDefinitionDao(bs),
		redisExecutionDao:  newRedisExecutionDao(bs),
		redisAuditDao:      newRedisAuditDao(bs),
		bs:                 bs,
	}
}

func (r *redisStorage) Ping(ctx context.Context) error {
	if err := r.bs.redisClient.Ping(ctx).Err(); err != nil {
		return storageError(err)
	}
	return nil
}

func (r *redisStorage) Close() error {
	return r.bs.redisClient.Close()
}
