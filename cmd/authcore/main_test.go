package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authcore/internal/testutil"
)

func Test_run(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	port, err := testutil.RandomPort()
	require.NoError(t, err, "failed to get random port to start server")
	listenAddr := fmt.Sprintf("localhost:%d", port)

	// .env from working directory must not affect the test
	getwd := func() (string, error) { return t.TempDir(), nil }
	noenv := func(string) string { return "" }

	t.Run("stop with signal", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		t.Cleanup(cancel)

		err = run(ctx, noenv, getwd, []string{
			"--address", listenAddr,
			"--log-level", "debug",
			"--database", pg.DSN,
			"--access-secret", "access-secret",
			"--refresh-secret", "refresh-secret",
		})

		require.NoError(t, err, "on correct stop should not return error")
	})

	t.Run("stop with config error", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		t.Cleanup(cancel)

		// Same secrets for access and refresh tokens. Must fail
		err := run(ctx, noenv, getwd, []string{
			"--address", listenAddr,
			"--database", pg.DSN,
			"--access-secret", "secret",
			"--refresh-secret", "secret",
		})

		require.Error(t, err, "on incorrect config should return error")
	})

	t.Run("placeholder secrets in production", func(t *testing.T) {
		err := run(context.Background(), noenv, getwd, []string{
			"--database", pg.DSN,
			"--environment", "prod",
		})

		require.Error(t, err)
		require.Contains(t, err.Error(), "placeholder")
	})
}
