package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/oriys/pulsar/internal/action"
	"github.com/oriys/pulsar/internal/api"
	"github.com/oriys/pulsar/internal/cluster"
	"github.com/oriys/pulsar/internal/config"
	"github.com/redis/go-redis/v9"
)

// directory bundles the configured action directory with its health check
// and cleanup.
type directory struct {
	cluster.Directory
	resolver cluster.Resolver
	check    api.HealthCheck
	close    func()
}

// openDirectory connects the configured backend. Redis and Postgres
// directories fall back to the static bindings from config.
func openDirectory(ctx context.Context, cfg *config.Config) (*directory, error) {
	bindings := make(map[string]string, len(cfg.Directory.Bindings))
	for name, peer := range cfg.Directory.Bindings {
		bindings[name] = peer
	}
	static := cluster.NewStaticDirectory(cfg.Directory.DefaultPeer, bindings)

	switch strings.ToLower(cfg.Directory.Backend) {
	case config.DirectoryRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rd := cluster.NewRedisDirectory(client, cfg.Directory.RedisKey)
		if err := rd.Ping(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis directory: %w", err)
		}
		return &directory{
			Directory: rd,
			resolver:  cluster.ChainResolver{rd, static},
			check:     rd.Ping,
			close:     func() { client.Close() },
		}, nil

	case config.DirectoryPostgres:
		pd, err := cluster.NewPostgresDirectory(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres directory: %w", err)
		}
		return &directory{
			Directory: pd,
			resolver:  cluster.ChainResolver{pd, static},
			check:     pd.Ping,
			close:     func() { pd.Close() },
		}, nil
	}

	return &directory{
		Directory: static,
		resolver:  static,
		close:     func() {},
	}, nil
}

// isRemote reports whether cfg routes id to a peer instead of running it
// in-process.
func isRemote(cfg *config.Config, id action.Identifier) bool {
	for _, name := range cfg.Cluster.RemoteActions {
		if action.Identifier(strings.TrimSpace(name)) == id {
			return true
		}
	}
	return false
}
