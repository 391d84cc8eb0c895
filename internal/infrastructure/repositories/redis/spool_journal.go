package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"depthcap/internal/core/domain"
	"depthcap/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisSpoolJournal keeps one sorted set per camera serial. Members are
// "<dir>|<timestamp>" scored by timestamp.
type RedisSpoolJournal struct {
	client *redis.Client
	prefix string
}

func NewRedisSpoolJournal(client *redis.Client) ports.SpoolJournal {
	return &RedisSpoolJournal{
		client: client,
		prefix: spoolKeyPrefix,
	}
}

func (r *RedisSpoolJournal) key(serial string) string {
	return r.prefix + serial
}

func (r *RedisSpoolJournal) Add(ctx context.Context, serial string, entry domain.SpoolEntry) error {
	err := r.client.ZAdd(ctx, r.key(serial), redis.Z{
		Score:  float64(entry.Timestamp),
		Member: encodeMember(entry),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add spool entry to Redis: %w", err)
	}
	return nil
}

func (r *RedisSpoolJournal) Remove(ctx context.Context, serial string, entry domain.SpoolEntry) error {
	if err := r.client.ZRem(ctx, r.key(serial), encodeMember(entry)).Err(); err != nil {
		return fmt.Errorf("failed to remove spool entry from Redis: %w", err)
	}
	return nil
}

func (r *RedisSpoolJournal) Pending(ctx context.Context, serial string) ([]domain.SpoolEntry, error) {
	members, err := r.client.ZRangeWithScores(ctx, r.key(serial), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list spool entries from Redis: %w", err)
	}

	entries := make([]domain.SpoolEntry, 0, len(members))
	for _, z := range members {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		entry, err := decodeMember(member)
		if err != nil {
			// Skip members this client did not write
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *RedisSpoolJournal) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func encodeMember(entry domain.SpoolEntry) string {
	return entry.Dir + "|" + strconv.FormatUint(entry.Timestamp, 10)
}

// decodeMember splits at the last separator since directories may contain '|'
func decodeMember(member string) (domain.SpoolEntry, error) {
	i := strings.LastIndexByte(member, '|')
	if i < 0 {
		return domain.SpoolEntry{}, fmt.Errorf("malformed spool member %q", member)
	}
	ts, err := strconv.ParseUint(member[i+1:], 10, 64)
	if err != nil {
		return domain.SpoolEntry{}, fmt.Errorf("malformed spool member %q: %w", member, err)
	}
	return domain.SpoolEntry{Timestamp: ts, Dir: member[:i]}, nil
}
