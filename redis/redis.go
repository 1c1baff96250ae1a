package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/carelink/wardchat/api"
	"github.com/carelink/wardchat/chat"
)

// DefaultMaxSize is the number of messages cached per group when MaxSize is
// not set.
const DefaultMaxSize = 10

const messagePrefix = "messages"

// Redis provides caching in Redis.
type Redis struct {
	// MaxSize is the number of most recent messages kept per group.
	MaxSize int
	// Logger receives pub/sub warnings. Connect sets it to slog.Default().
	Logger *slog.Logger

	cli *redis.Client
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		MaxSize: DefaultMaxSize,
		Logger:  slog.Default(),
		cli:     cli,
	}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

func setKey(groupID string) string {
	return fmt.Sprintf("%s:%s", messagePrefix, groupID)
}

func messageKey(groupID, messageID string) string {
	return fmt.Sprintf("%s:%s:%s", messagePrefix, groupID, messageID)
}

// ListMessages returns the cached messages of a group. The messages are
// sorted by the timestamp in descending order.
func (r *Redis) ListMessages(ctx context.Context, groupID string) ([]chat.Message, error) {
	vals, err := r.cli.ZRevRangeByScore(ctx, setKey(groupID), &redis.ZRangeBy{
		Min: "-inf",
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}

	out := make([]chat.Message, 0, len(vals))
	for _, key := range vals {
		var msg message
		if err := r.cli.HGetAll(ctx, key).Scan(&msg); err != nil {
			return nil, fmt.Errorf("hgetall: %w", err)
		}
		if msg.ID == "" {
			// Evicted between the range and the read.
			continue
		}
		m, err := msg.ChatMessage()
		if err != nil {
			return nil, fmt.Errorf("hgetall: %w", err)
		}
		out = append(out, m)
	}

	return out, nil
}

// InsertMessage adds the message to the group's sorted set and stores its
// fields in a hash keyed by group and message id.
func (r *Redis) InsertMessage(ctx context.Context, msg chat.Message) error {
	m, err := toRedisMessage(msg)
	if err != nil {
		return err
	}
	key := messageKey(msg.GroupID, msg.ID)
	err = r.cli.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, m)
			pipe.ZAdd(ctx, setKey(msg.GroupID), redis.Z{
				Score:  float64(m.CreatedAt),
				Member: key,
			})
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("redis insert message: %w", err)
	}

	// Keep only the most recent messages of the group.
	if err := r.evictOldest(ctx, msg.GroupID); err != nil {
		return fmt.Errorf("evict oldest: %w", err)
	}
	return nil
}

// GetMessage retrieves a message from Redis by its ID.
func (r *Redis) GetMessage(ctx context.Context, groupID, messageID string) (*chat.Message, error) {
	var m message
	if err := r.cli.HGetAll(ctx, messageKey(groupID, messageID)).Scan(&m); err != nil {
		return nil, fmt.Errorf("redis get message: %w", err)
	}
	if m.ID == "" {
		return nil, api.ErrMessageNotFoundInCache
	}

	msg, err := m.ChatMessage()
	if err != nil {
		return nil, fmt.Errorf("redis get message: %w", err)
	}
	return &msg, nil
}

// DeleteMessage removes a message from Redis by its ID.
func (r *Redis) DeleteMessage(ctx context.Context, groupID, messageID string) error {
	key := messageKey(groupID, messageID)
	err := r.cli.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, setKey(groupID), key)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("redis delete message: %w", err)
	}
	return nil
}

func (r *Redis) evictOldest(ctx context.Context, groupID string) error {
	size := r.MaxSize
	if size <= 0 {
		size = DefaultMaxSize
	}
	vals, err := r.cli.ZRange(ctx, setKey(groupID), 0, int64(-size-1)).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}

	for _, key := range vals {
		_ = r.cli.ZRem(ctx, setKey(groupID), key).Err()
		_ = r.cli.Del(ctx, key).Err()
	}
	return nil
}
