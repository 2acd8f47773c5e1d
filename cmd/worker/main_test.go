package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academy-api/internal/config"
	"github.com/noah-isme/academy-api/internal/payment"
)

func TestMuxRoutesReconcileTask(t *testing.T) {
	var got []string
	handler := asynq.HandlerFunc(func(_ context.Context, task *asynq.Task) error {
		got = append(got, task.Type())
		return nil
	})
	mux := newMux(handler)

	task, err := payment.NewReconcileTask("order_1", "pay_1")
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(context.Background(), task))
	require.Equal(t, []string{payment.TypeReconcile}, got)

	require.Error(t, mux.ProcessTask(context.Background(), asynq.NewTask("unknown:type", nil)))
}

func TestWorkerConcurrencyFloor(t *testing.T) {
	require.Equal(t, 1, workerConcurrency(&config.Config{}))
	require.Equal(t, 8, workerConcurrency(&config.Config{WorkerConcurrency: 8}))
}

func TestAsynqLoggerWritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	l := asynqLogger{zerolog.New(&buf)}
	l.Warn("scheduler ", "lagging")
	require.Contains(t, buf.String(), `"level":"warn"`)
	require.Contains(t, buf.String(), "scheduler lagging")
}
