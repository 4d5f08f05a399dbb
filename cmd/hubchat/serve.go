package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/hubchat/pkg/devhub"
)

func newServeCommand() *cobra.Command {
	var (
		addr           string
		chunkDelay     time.Duration
		redundantFinal bool
		idleTimeout    time.Duration
		redisAddr      string
		redisGroup     string
		redisConsumer  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development chat hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			srv, err := devhub.NewServer(ctx, devhub.Config{
				Addr:           addr,
				ChunkDelay:     chunkDelay,
				RedundantFinal: redundantFinal,
				IdleTimeout:    idleTimeout,
				Redis: devhub.RedisSettings{
					Enabled:  redisAddr != "",
					Addr:     redisAddr,
					Group:    redisGroup,
					Consumer: redisConsumer,
				},
			})
			if err != nil {
				return err
			}

			log.Info().Str("addr", addr).Msg("starting dev hub")
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":5038", "HTTP listen address")
	cmd.Flags().DurationVar(&chunkDelay, "chunk-delay", devhub.DefaultChunkDelay, "delay between streamed chunks")
	cmd.Flags().BoolVar(&redundantFinal, "redundant-final", false, "also send the final response after streamed turns")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 5*time.Minute, "tear down session fanout after this long without subscribers")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "use Redis streams for session fanout (host:port)")
	cmd.Flags().StringVar(&redisGroup, "redis-group", "hubchat", "Redis consumer group")
	cmd.Flags().StringVar(&redisConsumer, "redis-consumer", "", "Redis consumer name (defaults to hostname)")
	return cmd
}
