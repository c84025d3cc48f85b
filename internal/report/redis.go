package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"chaosmonkey/internal/chaos"
)

type RedisConfig struct {
	Addr    string
	DB      int
	Stream  string
	Channel string
	MaxLen  int64
	Timeout time.Duration // per report, covers dial and both commands
}

const defaultReportTimeout = 500 * time.Millisecond

// RedisPublisher appends each summary to a stream and announces it on a pub/sub channel.
type RedisPublisher struct {
	client *redis.Client
	cfg    RedisConfig
}

func NewRedisPublisher(cfg RedisConfig) *RedisPublisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultReportTimeout
	}
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			DB:           cfg.DB,
			DialTimeout:  cfg.Timeout,
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
			MaxRetries:   1,
		}),
		cfg: cfg,
	}
}

func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Report implements chaos.Reporter. It gives up after the configured timeout so
// an unreachable Redis cannot stall the scheduler.
func (p *RedisPublisher) Report(ctx context.Context, summary chaos.RunSummary) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}

	if p.cfg.Stream != "" {
		args := &redis.XAddArgs{
			Stream: p.cfg.Stream,
			Values: map[string]interface{}{
				"run_id":  summary.RunID,
				"outcome": string(summary.Outcome),
				"kind":    string(summary.Kind),
				"summary": data,
			},
		}
		if p.cfg.MaxLen > 0 {
			args.MaxLen = p.cfg.MaxLen
			args.Approx = true
		}
		if err := p.client.XAdd(ctx, args).Err(); err != nil {
			return fmt.Errorf("xadd %s: %w", p.cfg.Stream, err)
		}
	}

	if p.cfg.Channel != "" {
		if err := p.client.Publish(ctx, p.cfg.Channel, data).Err(); err != nil {
			return fmt.Errorf("publish %s: %w", p.cfg.Channel, err)
		}
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
