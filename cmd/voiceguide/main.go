package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dkeye/VoiceGuide/internal/config"
)

type rootOptions struct {
	configPath string
	v          *viper.Viper
	cfg        *config.Config
}

func NewVoiceGuideCommand() *cobra.Command {
	opts := &rootOptions{v: config.New()}

	cmd := &cobra.Command{
		Use:           "voiceguide",
		Short:         "Realtime voice guide client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			setupLogging("info")
			cfg, err := config.Load(opts.v, opts.configPath)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	cmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = opts.v.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))

	cmd.AddCommand(
		newServeCommand(opts),
		newDialCommand(opts),
	)

	return cmd
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func main() {
	cmd := NewVoiceGuideCommand()
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("voiceguide failed")
		os.Exit(1)
	}
}
