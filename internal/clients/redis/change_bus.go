package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nndrao/stern-sub001/internal/platform/envutil"
	"github.com/nndrao/stern-sub001/internal/platform/logger"
	"github.com/nndrao/stern-sub001/internal/services"
)

// ChangeBus publishes configuration-change events on a Redis pub/sub
// channel. Windows subscribe out of process; delivery is best effort.
type ChangeBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewChangeBus(log *logger.Logger) (*ChangeBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	channel := envutil.String("REDIS_CONFIG_CHANNEL", "config-changes")

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &ChangeBus{
		log:     log.With("service", "RedisChangeBus"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (b *ChangeBus) PublishConfigChange(ctx context.Context, ev services.ChangeEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis change bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *ChangeBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
