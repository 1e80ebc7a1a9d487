package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sungwon/psp-relay/internal/logger"
	"github.com/sungwon/psp-relay/pkg/pspclient"
)

// settings holds flag, environment (PSP_CLIENT_*) and config file values.
var settings = viper.New()

var rootCmd = &cobra.Command{
	Use:               "psp-client",
	Short:             "Pharmacy client for the psp relay",
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringP("config", "c", "", "optional configuration file")
	f.String("url", "ws://localhost:8887", "relay WebSocket base URL")
	f.String("id", "", "recipient telematik id")
	f.String("auth", "", "value sent in the X-Authorization header")
	f.String("https.proxyHost", "", "HTTP proxy host")
	f.Int("https.proxyPort", pspclient.DefaultProxyPort, "HTTP proxy port")
	f.Duration("timeout", pspclient.DefaultConnectTimeout, "connect timeout")
	f.Duration("grace", pspclient.DefaultGracePeriod, "wait after requesting stored messages")
	f.String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = settings.BindPFlags(f)
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func loadSettings(cmd *cobra.Command, args []string) error {
	settings.SetEnvPrefix("PSP_CLIENT")
	settings.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	settings.AutomaticEnv()

	if file := settings.GetString("config"); file != "" {
		settings.SetConfigFile(file)
		if err := settings.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	}
	return nil
}

func newLogger() zerolog.Logger {
	return logger.NewFromConfig(logger.LoggingConfig{
		Level:  settings.GetString("log-level"),
		Output: "stderr",
	})
}

// connectClient builds a client from the settings and waits for the greeting.
func connectClient(log zerolog.Logger) (*pspclient.Client, error) {
	id := settings.GetString("id")
	if id == "" {
		return nil, fmt.Errorf("--id is required")
	}

	c := pspclient.New(settings.GetString("url"), id,
		pspclient.WithAuthorization(settings.GetString("auth")),
		pspclient.WithProxy(settings.GetString("https.proxyHost"), settings.GetInt("https.proxyPort")),
		pspclient.WithGracePeriod(settings.GetDuration("grace")),
		pspclient.WithLogger(log),
	)
	if err := c.ConnectBlocking(settings.GetDuration("timeout")); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return c, nil
}
