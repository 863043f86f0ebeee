package main

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/terraskye/esclient/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("ORDERSTORE_BACKEND", "memory")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	return out.String(), err
}

func TestEventsCommand(t *testing.T) {
	out, err := execute(t, "events", uuid.NewString())
	require.NoError(t, err)
	require.Empty(t, out)
	require.Equal(t, config.BackendMemory, cfg.Backend)
}

func TestEventsCommandInvalidID(t *testing.T) {
	_, err := execute(t, "events", "not-a-uuid")
	require.ErrorContains(t, err, "invalid order id")
}

func TestSubscriptionCreateCommand(t *testing.T) {
	_, err := execute(t, "subscription", "create")
	require.NoError(t, err)
}

func TestSetupLogging(t *testing.T) {
	require.NoError(t, setupLogging(config.Log{Level: "debug", Format: "json"}))
	require.NoError(t, setupLogging(config.Log{Level: "info", Format: "text"}))
	require.Error(t, setupLogging(config.Log{Level: "loud", Format: "text"}))
	require.Error(t, setupLogging(config.Log{Level: "info", Format: "xml"}))
}
