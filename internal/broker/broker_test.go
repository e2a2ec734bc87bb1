package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbengine/internal/broker"
	"github.com/xxxsen/kbengine/internal/db"
)

func newTestBroker(t *testing.T) *broker.Broker {
	t.Helper()
	dbConn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { dbConn.Close() })
	return broker.New(dbConn, broker.Config{MaxRetries: 2, TaskTimeLimitSeconds: 5})
}

func TestSubmitSucceeds(t *testing.T) {
	b := newTestBroker(t)
	b.RegisterHandler("noop", func(ctx context.Context, payload []byte) (string, error) {
		return "ok", nil
	})

	taskID, err := b.Submit(context.Background(), "noop", nil, "default", broker.SubmitOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := b.Get(context.Background(), taskID)
		return err == nil && rec.State == "succeeded"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitRetriesTransientThenFails(t *testing.T) {
	b := newTestBroker(t)
	var calls int
	b.RegisterHandler("flaky", func(ctx context.Context, payload []byte) (string, error) {
		calls++
		return "", errTransient{}
	})

	taskID, err := b.Submit(context.Background(), "flaky", nil, "default", broker.SubmitOptions{MaxRetries: 2})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := b.Get(context.Background(), taskID)
		return err == nil && rec.State == "failed"
	}, 10*time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(t, calls, 2)
}

func TestGroupReportsAllSucceeded(t *testing.T) {
	b := newTestBroker(t)
	b.RegisterHandler("noop", func(ctx context.Context, payload []byte) (string, error) {
		return "", nil
	})

	specs := []broker.TaskSpec{
		{Name: "noop", Queue: "default"},
		{Name: "noop", Queue: "default"},
		{Name: "noop", Queue: "default"},
	}
	result, err := b.Group(context.Background(), specs)
	require.NoError(t, err)
	require.Equal(t, 3, result.Succeeded)
	require.Equal(t, 0, result.Failed)
}

type errTransient struct{}

func (errTransient) Error() string { return "embedding provider transient error" }

func (errTransient) Is(target error) bool {
	return target.Error() == "embedding provider transient error"
}
