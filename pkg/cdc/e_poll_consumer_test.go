package cdc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny_mvcc/pkg/core"
)

type fakeSource struct {
	doneUntil core.CommitVersion
	records   []Cdc
}

func (s *fakeSource) DoneUntil() core.CommitVersion { return s.doneUntil }

func (s *fakeSource) ReadCdc(_ context.Context, from, to core.CommitVersion, limit int) ([]Cdc, error) {
	var out []Cdc
	for _, r := range s.records {
		if r.Version >= from && r.Version <= to && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func records(versions ...core.CommitVersion) []Cdc {
	var out []Cdc
	for _, v := range versions {
		out = append(out, Cdc{Version: v, Changes: []SequencedChange{{Sequence: 1, Change: Change{Kind: ChangeInsert, Key: []byte("k")}}}})
	}
	return out
}

func TestPollOnceAdvancesCheckpointToDoneUntil(t *testing.T) {
	source := &fakeSource{doneUntil: 4, records: records(2, 3, 4, 5)}
	checkpoints := NewCheckpoints(newMapKV())

	var seen []core.CommitVersion
	consumer, err := NewPollConsumer(DefaultPollConsumerConfig("flow"), source, checkpoints,
		func(_ context.Context, batch []Cdc) error {
			for _, r := range batch {
				seen = append(seen, r.Version)
			}
			return nil
		}, nil, nil)
	require.NoError(t, err)

	n, err := consumer.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []core.CommitVersion{2, 3, 4}, seen)

	checkpoint, _, _ := checkpoints.Get("flow")
	assert.Equal(t, core.CommitVersion(4), checkpoint)

	// version 5 is not done yet
	n, err = consumer.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	source.doneUntil = 5
	n, err = consumer.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []core.CommitVersion{2, 3, 4, 5}, seen)
}

func TestFullBatchStopsAtLastRecord(t *testing.T) {
	source := &fakeSource{doneUntil: 10, records: records(2, 3, 4, 9)}
	checkpoints := NewCheckpoints(newMapKV())
	cfg := DefaultPollConsumerConfig("flow")
	cfg.MaxBatch = 2

	consumer, err := NewPollConsumer(cfg, source, checkpoints, func(context.Context, []Cdc) error { return nil }, nil, nil)
	require.NoError(t, err)

	_, err = consumer.PollOnce(context.Background())
	require.NoError(t, err)
	checkpoint, _, _ := checkpoints.Get("flow")
	assert.Equal(t, core.CommitVersion(3), checkpoint)
}

func TestHandlerFailureKeepsCheckpoint(t *testing.T) {
	source := &fakeSource{doneUntil: 3, records: records(2, 3)}
	checkpoints := NewCheckpoints(newMapKV())
	require.NoError(t, checkpoints.Set("flow", 1))

	consumer, err := NewPollConsumer(DefaultPollConsumerConfig("flow"), source, checkpoints,
		func(context.Context, []Cdc) error { return errors.New("downstream unavailable") }, nil, nil)
	require.NoError(t, err)

	_, err = consumer.PollOnce(context.Background())
	assert.ErrorIs(t, err, ConsumerHandlerErr)
	checkpoint, _, _ := checkpoints.Get("flow")
	assert.Equal(t, core.CommitVersion(1), checkpoint)
}

func TestRunStopsOnCancel(t *testing.T) {
	source := &fakeSource{doneUntil: 2, records: records(2)}
	checkpoints := NewCheckpoints(newMapKV())
	handled := make(chan struct{}, 1)

	cfg := DefaultPollConsumerConfig("flow")
	cfg.PollInterval = 5 * time.Millisecond
	consumer, err := NewPollConsumer(cfg, source, checkpoints, func(context.Context, []Cdc) error {
		handled <- struct{}{}
		return nil
	}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("record was not handled")
	}
	cancel()
	assert.NoError(t, <-done)
}
