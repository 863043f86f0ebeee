package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/terraskye/esclient/config"
)

var (
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:           "orderstore",
	Short:         "Order service using event sourcing",
	Long:          `Places, accepts, completes and cancels orders stored as events in KurrentDB or NATS JetStream.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		return setupLogging(cfg.Log)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
}

func setupLogging(c config.Log) error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logrus.SetLevel(level)

	var slogLevel slog.Level
	switch level {
	case logrus.TraceLevel, logrus.DebugLevel:
		slogLevel = slog.LevelDebug
	case logrus.InfoLevel:
		slogLevel = slog.LevelInfo
	case logrus.WarnLevel:
		slogLevel = slog.LevelWarn
	default:
		slogLevel = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: slogLevel}

	switch c.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
	return nil
}
