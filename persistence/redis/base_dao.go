package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohitkumar/eduflow/cluster"
	"github.com/mohitkumar/eduflow/persistence"
	"github.com/mohitkumar/eduflow/util"
	rd "github.com/redis/go-redis/v9"
)

type baseDao struct {
	redisClient rd.UniversalClient
	namespace   string
	ring        *cluster.Ring
}

func newBaseDao(conf Config, ring *cluster.Ring) *baseDao {
	redisClient := rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs:    conf.Addrs,
		Password: conf.Password,
		PoolSize: conf.PoolSize,
	})
	return &baseDao{
		redisClient: redisClient,
		namespace:   conf.Namespace,
		ring:        ring,
	}
}

func (bs *baseDao) getNamespaceKey(args ...string) string {
	return fmt.Sprintf("%s:%s", bs.namespace, strings.Join(args, ":"))
}

// getPartitionKey spreads one logical hash over the ring's partitions.
func (bs *baseDao) getPartitionKey(prefix string, routingKey string) string {
	return bs.getNamespaceKey(prefix, strconv.Itoa(bs.ring.GetPartition(routingKey)))
}

func storageError(err error) error {
	return persistence.StorageLayerError{Message: err.Error()}
}

func hget[T any](ctx context.Context, bs *baseDao, encdec util.EncoderDecoder[T], key string, field string, entity string) (*T, error) {
	val, err := bs.redisClient.HGet(ctx, key, field).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Entity: entity, Id: field}
		}
		return nil, storageError(err)
	}
	return encdec.Decode([]byte(val))
}

func hset[T any](ctx context.Context, bs *baseDao, encdec util.EncoderDecoder[T], key string, field string, value T) error {
	data, err := encdec.Encode(value)
	if err != nil {
		return err
	}
	if err := bs.redisClient.HSet(ctx, key, field, string(data)).Err(); err != nil {
		return storageError(err)
	}
	return nil
}

// hsetnx writes the field only when absent. It reports whether this call
// created it.
func hsetnx[T any](ctx context.Context, bs *baseDao, encdec util.EncoderDecoder[T], key string, field string, value T) (bool, error) {
	data, err := encdec.Encode(value)
	if err != nil {
		return false, err
	}
	created, err := bs.redisClient.HSetNX(ctx, key, field, string(data)).Result()
	if err != nil {
		return false, storageError(err)
	}
	return created, nil
}

// hupdate overwrites a field that must already exist.
func hupdate[T any](ctx context.Context, bs *baseDao, encdec util.EncoderDecoder[T], key string, field string, value T, entity string) error {
	exists, err := bs.redisClient.HExists(ctx, key, field).Result()
	if err != nil {
		return storageError(err)
	}
	if !exists {
		return persistence.NotFoundError{Entity: entity, Id: field}
	}
	return hset(ctx, bs, encdec, key, field, value)
}

func hvals[T any](ctx context.Context, bs *baseDao, encdec util.EncoderDecoder[T], key string) ([]T, error) {
	vals, err := bs.redisClient.HVals(ctx, key).Result()
	if err != nil {
		return nil, storageError(err)
	}
	return util.DecodeAll(encdec, vals)
}

func hmget[T any](ctx context.Context, bs *baseDao, encdec util.EncoderDecoder[T], key string, fields []string) ([]T, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	vals, err := bs.redisClient.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, storageError(err)
	}
	items := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			items = append(items, s)
		}
	}
	return util.DecodeAll(encdec, items)
}
