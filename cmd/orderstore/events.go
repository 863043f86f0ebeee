package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/terraskye/esclient"
)

var eventsCmd = &cobra.Command{
	Use:   "events <order-id>",
	Short: "Print the history of an order as JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}

type eventLine struct {
	EventType   string         `json:"eventType"`
	Revision    int64          `json:"revision"`
	CreatedDate time.Time      `json:"createdDate"`
	Payload     esclient.Event `json:"payload"`
}

func runEvents(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", args[0], err)
	}

	ctx := cmd.Context()
	log := logrus.NewEntry(logrus.StandardLogger())
	backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	store := newEventStore(cfg, backend, log, esclient.NopMetrics())
	defer store.Close()

	events, err := store.ReadEvents(ctx, id)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, ev := range events {
		if err := enc.Encode(eventLine{
			EventType:   ev.EventType(),
			Revision:    ev.Revision(),
			CreatedDate: ev.CreatedDate(),
			Payload:     ev,
		}); err != nil {
			return err
		}
	}
	return nil
}
