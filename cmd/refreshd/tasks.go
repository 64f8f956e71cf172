package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/goforj/refreshcache"
)

// builtinTasks registers the tasks refreshd knows how to run. Applications
// embedding the cache register their own receivers the same way.
func builtinTasks() *refreshcache.Registry {
	reg := refreshcache.NewRegistry()
	reg.Register("clock", "now", func(context.Context, refreshcache.Args) (any, error) {
		return map[string]time.Time{"now": time.Now().UTC()}, nil
	})
	reg.Register("echo", "args", func(_ context.Context, args refreshcache.Args) (any, error) {
		out := make([]json.RawMessage, 0, args.Len())
		return append(out, args...), nil
	})
	reg.Register("echo", "slow", func(ctx context.Context, args refreshcache.Args) (any, error) {
		var delay string
		if err := args.Decode(0, &delay); err != nil {
			return nil, err
		}
		d, err := time.ParseDuration(delay)
		if err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
		return map[string]string{"slept": d.String()}, nil
	})
	return reg
}
