package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbengine/internal/broker"
)

func TestChainRunsInOrderAndStopsOnFailure(t *testing.T) {
	b := newTestBroker(t)
	var order []string
	b.RegisterHandler("step-ok", func(ctx context.Context, payload []byte) (string, error) {
		order = append(order, "ok")
		return "", nil
	})
	b.RegisterHandler("step-fail", func(ctx context.Context, payload []byte) (string, error) {
		order = append(order, "fail")
		return "", errFatal{}
	})
	b.RegisterHandler("step-unreached", func(ctx context.Context, payload []byte) (string, error) {
		order = append(order, "unreached")
		return "", nil
	})

	specs := []broker.TaskSpec{
		{Name: "step-ok", Queue: "default"},
		{Name: "step-fail", Queue: "default"},
		{Name: "step-unreached", Queue: "default"},
	}
	taskIDs, err := b.Chain(context.Background(), specs)
	require.Error(t, err)
	require.Len(t, taskIDs, 2)
	require.Equal(t, []string{"ok", "fail"}, order)
}

func TestChordSkipsBodyWhenGroupHasFailure(t *testing.T) {
	b := newTestBroker(t)
	var bodyRan bool
	b.RegisterHandler("member-ok", func(ctx context.Context, payload []byte) (string, error) {
		return "", nil
	})
	b.RegisterHandler("member-fail", func(ctx context.Context, payload []byte) (string, error) {
		return "", errFatal{}
	})
	b.RegisterHandler("body", func(ctx context.Context, payload []byte) (string, error) {
		bodyRan = true
		return "", nil
	})

	group := []broker.TaskSpec{
		{Name: "member-ok", Queue: "default"},
		{Name: "member-fail", Queue: "default"},
	}
	result, err := b.Chord(context.Background(), group, broker.TaskSpec{Name: "body", Queue: "default"})
	require.Error(t, err)
	require.Equal(t, 1, result.Succeeded)
	require.Equal(t, 1, result.Failed)
	require.False(t, bodyRan)
}

func TestChordRunsBodyWhenGroupSucceeds(t *testing.T) {
	b := newTestBroker(t)
	b.RegisterHandler("member-ok", func(ctx context.Context, payload []byte) (string, error) {
		return "", nil
	})
	b.RegisterHandler("body", func(ctx context.Context, payload []byte) (string, error) {
		return "body-ref", nil
	})

	group := []broker.TaskSpec{
		{Name: "member-ok", Queue: "default"},
		{Name: "member-ok", Queue: "default"},
	}
	result, err := b.Chord(context.Background(), group, broker.TaskSpec{Name: "body", Queue: "default"})
	require.NoError(t, err)
	require.Equal(t, 3, result.Succeeded)
	require.Len(t, result.TaskIDs, 3)
}

func TestCancelWhileRunningMarksCanceling(t *testing.T) {
	b := newTestBroker(t)
	started := make(chan struct{})
	release := make(chan struct{})
	b.RegisterHandler("blocking", func(ctx context.Context, payload []byte) (string, error) {
		close(started)
		<-release
		return "", nil
	})

	taskID, err := b.Submit(context.Background(), "blocking", nil, "default", broker.SubmitOptions{})
	require.NoError(t, err)

	<-started
	require.NoError(t, b.Cancel(context.Background(), taskID))

	rec, err := b.Get(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, "canceling", string(rec.State))

	close(release)
	require.Eventually(t, func() bool {
		rec, err := b.Get(context.Background(), taskID)
		return err == nil && rec.State == "succeeded"
	}, 2*time.Second, 10*time.Millisecond)
}

type errFatal struct{}

func (errFatal) Error() string { return "validation failed" }
func (errFatal) Is(target error) bool {
	return target.Error() == "validation failed"
}
