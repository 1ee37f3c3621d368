package main

import (
	"os/signal"
	"syscall"

	"github.com/OrlandoBitencourt/flagsync"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the config fresh and expose the admin API",
		Long: `serve polls the config in the background and exposes the admin API:
health, config summary, forced refresh, evaluation and a refresh webhook.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []flagsync.Option{
				flagsync.WithAdminServer(v.GetString("admin_addr")),
				flagsync.WithWebhookSecret(v.GetString("webhook_secret")),
			}
			if interval := v.GetDuration("poll_interval"); interval > 0 {
				opts = append(opts, flagsync.WithAutoPoll(interval))
			}

			client, err := newClient(cmd, v, flagsync.ModeAuto, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := client.Start(ctx); err != nil {
				_ = client.Stop()
				return err
			}

			<-ctx.Done()
			return client.Stop()
		},
	}

	cmd.Flags().String("admin-addr", ":9090", "admin API listen address")
	cmd.Flags().String("webhook-secret", "", "HMAC secret required on POST /webhook")
	cmd.Flags().Duration("poll-interval", flagsync.DefaultConfig().PollInterval, "auto poll interval")
	bindFlags(v, cmd.Flags(), "admin-addr", "webhook-secret", "poll-interval")

	return cmd
}
