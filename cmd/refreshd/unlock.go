package main

import (
	"fmt"

	"github.com/goforj/refreshcache"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newUnlockCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock NAME",
		Short: "Delete a lock regardless of owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, loadSettings(v))
			if err != nil {
				return err
			}
			defer a.Close()

			if err := refreshcache.NewLocker(a.store).ForceRelease(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", refreshcache.LockKey(args[0]))
			return nil
		},
	}
}
