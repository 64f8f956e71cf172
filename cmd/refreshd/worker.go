package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/goforj/refreshcache"
	"github.com/goforj/refreshcache/queue"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newWorkerCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume populate jobs from the configured queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s := loadSettings(v)
			a, err := openApp(ctx, s)
			if err != nil {
				return err
			}
			defer a.Close()

			q, err := a.dispatcher()
			if err != nil {
				return err
			}
			if q == nil {
				return errors.New("worker requires --queue")
			}
			if rq, ok := q.(*queue.RedisQueue); ok && v.GetBool("recover") {
				n, err := rq.Recover(ctx)
				if err != nil {
					return err
				}
				log.Infow("Recovered in-flight jobs", "count", n)
			}

			c := a.cache(q)
			mux := queue.NewMux()
			mux.Handle(refreshcache.PopulateWorker, c)

			log.Infow("Worker started", "store", s.Store, "queue", s.Queue, "name", s.QueueName)
			err = q.Consume(ctx, mux)
			log.Infow("Worker stopped")
			return err
		},
	}
	cmd.Flags().Bool("recover", false, "requeue jobs left in the redis processing list before consuming")
	return cmd
}
