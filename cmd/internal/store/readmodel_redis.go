package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"chatsync/cmd/internal/model"

	"github.com/redis/go-redis/v9"
)

// DefaultMirrorChannel is the pub/sub channel mirror operations are announced on.
const DefaultMirrorChannel = "chatsync.mirror"

// RedisReadModel keeps one hash per storage key (field = local id, value = JSON message) and
// publishes every change so other processes can follow the mirror live.
type RedisReadModel struct {
	rdb     *redis.Client
	prefix  string
	channel string
}

// mirrorNotice is the pub/sub payload.
type mirrorNotice struct {
	Op         string `json:"op"`
	StorageKey string `json:"storage_key"`
	ID         int64  `json:"id"`
}

// NewRedisReadModel constructs a RedisReadModel. The caller owns rdb.
func NewRedisReadModel(rdb *redis.Client, prefix string) (*RedisReadModel, error) {
	if rdb == nil {
		return nil, errors.New("store: nil redis client")
	}
	if prefix == "" {
		prefix = "chatsync:mirror:"
	}
	return &RedisReadModel{rdb: rdb, prefix: prefix, channel: DefaultMirrorChannel}, nil
}

func (r *RedisReadModel) hashKey(storageKey string) string { return r.prefix + storageKey }

// Put implements ReadModel.
func (r *RedisReadModel) Put(ctx context.Context, storageKey string, id int64, msg *model.Message) error {
	if msg == nil {
		return errors.New("store: nil message")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	field := strconv.FormatInt(id, 10)

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.hashKey(storageKey), field, body)
	r.publish(ctx, pipe, "put", storageKey, id)
	_, err = pipe.Exec(ctx)
	return err
}

// Remove implements ReadModel.
func (r *RedisReadModel) Remove(ctx context.Context, storageKey string, id int64) error {
	pipe := r.rdb.TxPipeline()
	pipe.HDel(ctx, r.hashKey(storageKey), strconv.FormatInt(id, 10))
	r.publish(ctx, pipe, "remove", storageKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisReadModel) publish(ctx context.Context, pipe redis.Pipeliner, op, storageKey string, id int64) {
	notice, err := json.Marshal(mirrorNotice{Op: op, StorageKey: storageKey, ID: id})
	if err != nil {
		return
	}
	pipe.Publish(ctx, r.channel, notice)
}

// Get implements ReadModel.
func (r *RedisReadModel) Get(ctx context.Context, storageKey string, id int64) (*model.Message, error) {
	body, err := r.rdb.HGet(ctx, r.hashKey(storageKey), strconv.FormatInt(id, 10)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var m model.Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Ping implements ReadModel.
func (r *RedisReadModel) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

// Close is a no-op because the client is owned by the caller.
func (r *RedisReadModel) Close() error { return nil }
