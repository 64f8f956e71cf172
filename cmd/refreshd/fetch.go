package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goforj/refreshcache"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newFetchCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch KEY RECEIVER.METHOD [ARG...]",
		Short: "Fetch a key through the refresh-ahead cache",
		Long: "Fetch a key through the refresh-ahead cache. ARGs are JSON literals; " +
			"anything that is not valid JSON is passed as a string.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := parseTask(args[1], args[2:])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, loadSettings(v))
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.dispatcher()
			if err != nil {
				return err
			}
			c := a.cache(d)
			body, err := c.Fetch(ctx, args[0], task)
			if err != nil {
				return err
			}
			c.Wait()
			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
}

func parseTask(ref string, raw []string) (refreshcache.Task, error) {
	receiver, method, ok := strings.Cut(ref, ".")
	if !ok || receiver == "" || method == "" {
		return refreshcache.Task{}, fmt.Errorf("task %q must be RECEIVER.METHOD", ref)
	}
	args := make([]any, 0, len(raw))
	for _, arg := range raw {
		if json.Valid([]byte(arg)) {
			args = append(args, json.RawMessage(arg))
			continue
		}
		args = append(args, arg)
	}
	return refreshcache.NewTask(receiver, method, args...)
}
