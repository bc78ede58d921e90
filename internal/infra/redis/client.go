package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
)

// Client wraps the Redis operations used by the pipeline: a fast-path
// seen-key set for the deduplicator and invalidated-range records for
// downstream consumers of append-only sinks.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func seenKey(chainID domain.ChainID) string {
	return fmt.Sprintf("seen:%s", chainID)
}

func invalidatedKey(chainID domain.ChainID) string {
	return fmt.Sprintf("invalidated:%s", chainID)
}

// MarkSeen records event keys in the chain's seen set.
func (c *Client) MarkSeen(ctx context.Context, chainID domain.ChainID, keys []domain.EventKey) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]any, 0, len(keys))
	for _, k := range keys {
		members = append(members, k.String())
	}
	if err := c.rdb.SAdd(ctx, seenKey(chainID), members...).Err(); err != nil {
		return fmt.Errorf("sadd failed: %w", err)
	}
	return nil
}

// IsSeen reports whether an event key is in the chain's seen set. A
// miss is not authoritative; callers fall through to the sink.
func (c *Client) IsSeen(ctx context.Context, key domain.EventKey) (bool, error) {
	seen, err := c.rdb.SIsMember(ctx, seenKey(key.ChainID), key.String()).Result()
	if err != nil {
		return false, fmt.Errorf("sismember failed: %w", err)
	}
	return seen, nil
}

// PurgeSeen drops the chain's entire seen set. Called during reorg
// recovery: the set members carry no block numbers, so the keys of the
// invalidated range cannot be enumerated and the whole fast path is
// rebuilt from the sink instead.
func (c *Client) PurgeSeen(ctx context.Context, chainID domain.ChainID) error {
	if err := c.rdb.Del(ctx, seenKey(chainID)).Err(); err != nil {
		return fmt.Errorf("del failed: %w", err)
	}
	return nil
}

// PushInvalidatedRange records a block range whose events were
// invalidated by a reorg, scored by the range start.
func (c *Client) PushInvalidatedRange(
	ctx context.Context,
	chainID domain.ChainID,
	fromBlock, toBlock uint64,
) error {
	member := fmt.Sprintf("%d-%d", fromBlock, toBlock)
	err := c.rdb.ZAdd(ctx, invalidatedKey(chainID), redis.Z{
		Score:  float64(fromBlock),
		Member: member,
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// InvalidatedRanges returns all recorded invalidated ranges in block
// order.
func (c *Client) InvalidatedRanges(
	ctx context.Context,
	chainID domain.ChainID,
) ([][2]uint64, error) {
	members, err := c.rdb.ZRange(ctx, invalidatedKey(chainID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	out := make([][2]uint64, 0, len(members))
	for _, m := range members {
		start, end, err := ParseRangeString(m)
		if err != nil {
			return nil, fmt.Errorf("invalid range format: %w", err)
		}
		out = append(out, [2]uint64{start, end})
	}
	return out, nil
}

// ParseRangeString parses "start-end" into its bounds.
func ParseRangeString(s string) (start, end uint64, err error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed range %q", s)
	}
	start, err = strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	end, err = strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}
