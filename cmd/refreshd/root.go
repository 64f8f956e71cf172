package main

import (
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logging.Logger("refreshcache/refreshd")

const envPrefix = "REFRESHD"

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:          "refreshd",
		Short:        "Refresh-ahead cache worker and operator tool",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return logging.SetLogLevelRegex("refreshcache.*", v.GetString("log-level"))
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("store", "memory", "store driver: memory, redis, nats, memcached, sql, dynamodb")
	flags.String("prefix", "app", "key prefix on shared stores")
	flags.String("redis-url", "redis://127.0.0.1:6379/0", "redis connection URL")
	flags.String("nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	flags.String("nats-bucket", "refreshcache", "JetStream key-value bucket")
	flags.StringSlice("memcached-addr", []string{"127.0.0.1:11211"}, "memcached server addresses")
	flags.String("sql-driver", "sqlite", "database/sql driver: pgx, mysql, sqlite")
	flags.String("sql-dsn", "file:refreshcache.db", "database/sql DSN")
	flags.String("dynamo-endpoint", "", "DynamoDB endpoint override")
	flags.String("dynamo-region", "us-east-1", "DynamoDB region")
	flags.String("dynamo-table", "cache_entries", "DynamoDB table")
	flags.String("queue", "", "job queue: redis, nats or empty for in-process")
	flags.String("queue-name", "refreshcache:jobs", "redis list or NATS subject carrying jobs")
	flags.String("queue-group", "refreshd", "NATS durable consumer group")
	flags.Duration("cache-ttl", 0, "lifetime of populated values (default 720h)")
	flags.Duration("lock-ttl", 0, "population lock expiration (default 10s)")
	flags.Duration("renew-interval", 0, "population lock renewal interval, 0 disables")
	flags.String("log-level", "info", "log level")

	cmd.AddCommand(
		newWorkerCmd(v),
		newFetchCmd(v),
		newUnlockCmd(v),
	)
	return cmd
}
