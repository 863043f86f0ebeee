package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/terraskye/esclient"
)

var subscriptionCmd = &cobra.Command{
	Use:   "subscription",
	Short: "Manage the persistent subscription group",
}

var subscriptionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the subscription group on the order category stream",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		log := logrus.NewEntry(logrus.StandardLogger())
		backend, err := openBackend(cmd.Context(), cfg, log)
		if err != nil {
			return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
		}
		store := newEventStore(cfg, backend, log, esclient.NopMetrics())
		defer store.Close()

		return store.EnsureSubscriptionGroup(cmd.Context())
	},
}

func init() {
	subscriptionCmd.AddCommand(subscriptionCreateCmd)
	rootCmd.AddCommand(subscriptionCmd)
}
