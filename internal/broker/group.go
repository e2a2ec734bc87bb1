package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xxxsen/kbengine/internal/ids"
	"github.com/xxxsen/kbengine/internal/model"
)

const pollInterval = 50 * time.Millisecond

// TaskSpec describes one task to submit as part of a group/chain/chord.
type TaskSpec struct {
	Name    string
	Payload []byte
	Queue   string
	Opts    SubmitOptions
}

// GroupResult is what Group/Chord report back: per-task outcome plus the
// synthetic group_id every task in the batch was tagged with.
type GroupResult struct {
	GroupID   string
	TaskIDs   []string
	Succeeded int
	Failed    int
	Canceled  int
}

// Group fans a batch of tasks out onto their queues under one group_id, then
// blocks until every task reaches a terminal state (spec.md §4.7's
// group(tasks) primitive). This is the join step C7's executor uses to wait
// for all segment tasks of one document.
func (b *Broker) Group(ctx context.Context, specs []TaskSpec) (GroupResult, error) {
	groupID := ids.NewGroupID()
	taskIDs := make([]string, 0, len(specs))
	for i := range specs {
		specs[i].Opts.GroupID = groupID
		taskID, err := b.Submit(ctx, specs[i].Name, specs[i].Payload, specs[i].Queue, specs[i].Opts)
		if err != nil {
			return GroupResult{}, fmt.Errorf("broker: group submit %d/%d: %w", i, len(specs), err)
		}
		taskIDs = append(taskIDs, taskID)
	}
	result := b.awaitAll(ctx, groupID, taskIDs)
	result.GroupID = groupID
	return result, nil
}

// Chain submits tasks to run strictly in sequence: each task is submitted
// only once its predecessor has succeeded (ChainNext is not set on the
// records). A failure anywhere stops the chain and reports the failure.
func (b *Broker) Chain(ctx context.Context, specs []TaskSpec) ([]string, error) {
	taskIDs := make([]string, 0, len(specs))
	for i, spec := range specs {
		if i > 0 {
			prev, err := b.awaitOne(ctx, taskIDs[i-1])
			if err != nil {
				return taskIDs, err
			}
			if prev.State != model.TaskStateSucceeded {
				return taskIDs, fmt.Errorf("broker: chain step %d (%s) did not succeed: %s", i-1, specs[i-1].Name, prev.Error)
			}
		}
		taskID, err := b.Submit(ctx, spec.Name, spec.Payload, spec.Queue, spec.Opts)
		if err != nil {
			return taskIDs, fmt.Errorf("broker: chain submit %d/%d: %w", i, len(specs), err)
		}
		taskIDs = append(taskIDs, taskID)
	}
	if len(taskIDs) > 0 {
		last, err := b.awaitOne(ctx, taskIDs[len(taskIDs)-1])
		if err != nil {
			return taskIDs, err
		}
		if last.State != model.TaskStateSucceeded {
			return taskIDs, fmt.Errorf("broker: chain step %d (%s) did not succeed: %s", len(specs)-1, specs[len(specs)-1].Name, last.Error)
		}
	}
	return taskIDs, nil
}

// Chord runs body once every task in group has succeeded; if any group task
// fails, body is skipped and the group's failure is returned instead
// (spec.md §4.7's chord(group, body)).
func (b *Broker) Chord(ctx context.Context, group []TaskSpec, body TaskSpec) (GroupResult, error) {
	result, err := b.Group(ctx, group)
	if err != nil {
		return result, err
	}
	if result.Failed > 0 || result.Canceled > 0 {
		return result, fmt.Errorf("broker: chord group had %d failed, %d canceled tasks; body not run", result.Failed, result.Canceled)
	}
	body.Opts.GroupID = result.GroupID
	taskID, err := b.Submit(ctx, body.Name, body.Payload, body.Queue, body.Opts)
	if err != nil {
		return result, fmt.Errorf("broker: chord body submit: %w", err)
	}
	bodyResult, err := b.awaitOne(ctx, taskID)
	if err != nil {
		return result, err
	}
	if bodyResult.State != model.TaskStateSucceeded {
		result.Failed++
	} else {
		result.Succeeded++
	}
	result.TaskIDs = append(result.TaskIDs, taskID)
	return result, nil
}

// awaitAll polls until every taskID reaches a terminal state. The in-process
// broker has no task-completion channel exposed across Submit calls, so
// waiting is poll-based; this is acceptable here because segment counts per
// document are small and the poll interval is short, not because polling is
// the broker's general completion model.
func (b *Broker) awaitAll(ctx context.Context, groupID string, taskIDs []string) GroupResult {
	result := GroupResult{TaskIDs: taskIDs}
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, id := range taskIDs {
		wg.Add(1)
		go func(taskID string) {
			defer wg.Done()
			rec, err := b.awaitOne(ctx, taskID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || rec == nil {
				result.Failed++
				return
			}
			switch rec.State {
			case model.TaskStateSucceeded:
				result.Succeeded++
			case model.TaskStateCanceled:
				result.Canceled++
			default:
				result.Failed++
			}
		}(id)
	}
	wg.Wait()
	return result
}

func (b *Broker) awaitOne(ctx context.Context, taskID string) (*model.TaskRecord, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		rec, err := b.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if rec.State.IsTerminal() {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}
