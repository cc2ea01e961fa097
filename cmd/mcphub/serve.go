package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"mcphub/internal/app"
)

type serveOptions struct {
	listen          string
	refreshInterval time.Duration
}

func newServeCmd(opts *cliOptions) *cobra.Command {
	serve := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			application, cleanup, err := app.InitializeApplication(ctx, app.ServeConfig{
				ConfigPath:      opts.configPath,
				ListenAddress:   serve.listen,
				RefreshInterval: serve.refreshInterval,
			}, app.LoggingConfig{Logger: opts.logger})
			if err != nil {
				return err
			}
			defer cleanup()

			opts.logger.Info("starting mcphub", zap.String("version", app.Version))
			return application.Run()
		},
	}
	addServeFlags(cmd.Flags(), &serve)
	return cmd
}

func addServeFlags(flags *pflag.FlagSet, serve *serveOptions) {
	flags.StringVar(&serve.listen, "listen", "", "API listen address (overrides listenAddress in config)")
	flags.DurationVar(&serve.refreshInterval, "refresh-interval", 0, "interval between refresh cycles (overrides refreshIntervalSeconds in config)")
}
