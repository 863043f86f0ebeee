package logging

import (
	"context"
	"reflect"

	"github.com/sirupsen/logrus"

	"github.com/terraskye/esclient"
)

// WithCommandLogging wraps a CommandHandler with logging functionality.
// It logs the command type and aggregate ID before execution, and logs
// errors if the command fails.
func WithCommandLogging[C esclient.Command](logger *logrus.Entry, next esclient.CommandHandler[C]) esclient.CommandHandler[C] {
	return func(ctx context.Context, command C) (int64, error) {
		cmdType := reflect.TypeOf(command).String()
		logger.Infof("Dispatch: %s (aggregateID: %s)", cmdType, command.AggregateID())

		revision, err := next(ctx, command)
		if err != nil {
			logger.Errorf("Dispatch failed: %s (aggregateID: %s): %v", cmdType, command.AggregateID(), err)
		}

		return revision, err
	}
}
