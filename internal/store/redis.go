package store

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/redis/go-redis/v9"

	"github.com/stellarlinkco/plusbot/internal/karma"
)

const redisMaxRetries = 10

// ErrContention is returned when an optimistic update keeps losing races.
var ErrContention = errors.New("too much contention on score key")

// Redis keeps all scores in one sorted set so the leaderboard is a range read.
type Redis struct {
	client redis.UniversalClient
	key    string
}

// NewRedis stores scores under prefix+"scores". The caller owns client.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, key: prefix + "scores"}
}

func (r *Redis) Get(ctx context.Context, entity string) (int, error) {
	score, err := r.client.ZScore(ctx, r.key, entity).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("zscore: %w", err)
	}
	return int(math.Round(score)), nil
}

// Update runs fn under WATCH and retries when another writer touched the set.
// fn may run more than once.
func (r *Redis) Update(ctx context.Context, entity string, fn func(int) int) (int, error) {
	var next int
	txf := func(tx *redis.Tx) error {
		current, err := tx.ZScore(ctx, r.key, entity).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		next = fn(int(math.Round(current)))
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, r.key, redis.Z{Score: float64(next), Member: entity})
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxRetries; i++ {
		err := r.client.Watch(ctx, txf, r.key)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return 0, fmt.Errorf("update score: %w", err)
	}
	return 0, ErrContention
}

func (r *Redis) Top(ctx context.Context, n int) ([]karma.Standing, error) {
	stop := int64(n - 1)
	if n <= 0 {
		stop = -1
	}
	zs, err := r.client.ZRevRangeWithScores(ctx, r.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange: %w", err)
	}
	out := make([]karma.Standing, 0, len(zs))
	for _, z := range zs {
		entity, _ := z.Member.(string)
		out = append(out, karma.Standing{Entity: entity, Score: int(math.Round(z.Score))})
	}
	// Redis breaks score ties by member descending.
	sortStandings(out)
	return out, nil
}

func (r *Redis) Close() error { return nil }
