package redis

import (
	"context"

	"github.com/go-redis/redis/v8"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/billingd/pkg/config"
)

func NewClient(l *zap.SugaredLogger, cfg *cfgpkg.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		// The cache and notify queue degrade gracefully; warn, don't fail boot.
		l.Warnw("redis ping failed", "addr", cfg.Redis.Addr, "err", err)
	} else {
		l.Infow("connected to redis", "addr", cfg.Redis.Addr)
	}
	return client, nil
}

var Module = fx.Options(
	fx.Provide(NewClient),
	fx.Invoke(registerClose),
)

func registerClose(lc fx.Lifecycle, l *zap.SugaredLogger, client *redis.Client) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			l.Infow("closing redis client")
			return client.Close()
		},
	})
}
