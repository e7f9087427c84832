// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockInserter struct {
	mock.Mock
}

func (m *mockInserter) Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	ret := m.Called(ctx, args, opts)
	res, _ := ret.Get(0).(*rivertype.JobInsertResult)
	return res, ret.Error(1)
}

func (m *mockInserter) InsertMany(ctx context.Context, params []river.InsertManyParams) ([]*rivertype.JobInsertResult, error) {
	ret := m.Called(ctx, params)
	res, _ := ret.Get(0).([]*rivertype.JobInsertResult)
	return res, ret.Error(1)
}

func TestQueueEnqueueCarriesOnlyEventID(t *testing.T) {
	ins := &mockInserter{}
	id := uuid.New()

	ins.On("Insert", mock.Anything, ProcessWebhookArgs{EventID: id}, mock.MatchedBy(func(opts *river.InsertOpts) bool {
		return opts.Queue == QueueWebhooks && opts.MaxAttempts == 21 && opts.UniqueOpts.ByArgs
	})).Return(&rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: 7}}, nil).Once()

	q := NewQueue(ins, 21, discardLogger())
	require.NoError(t, q.Enqueue(context.Background(), id))
	ins.AssertExpectations(t)
}

func TestQueueEnqueueWrapsInsertError(t *testing.T) {
	ins := &mockInserter{}
	boom := errors.New("insert failed")
	ins.On("Insert", mock.Anything, mock.Anything, mock.Anything).Return(nil, boom).Once()

	q := NewQueue(ins, 0, discardLogger())
	err := q.Enqueue(context.Background(), uuid.New())
	assert.ErrorIs(t, err, boom)
}

func TestQueueEnqueueMany(t *testing.T) {
	ins := &mockInserter{}
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	ins.On("InsertMany", mock.Anything, mock.MatchedBy(func(params []river.InsertManyParams) bool {
		if len(params) != len(ids) {
			return false
		}
		for i, p := range params {
			args, ok := p.Args.(ProcessWebhookArgs)
			if !ok || args.EventID != ids[i] || p.InsertOpts.Queue != QueueWebhooks {
				return false
			}
		}
		return true
	})).Return([]*rivertype.JobInsertResult{{}, {}, {}}, nil).Once()

	q := NewQueue(ins, 21, discardLogger())
	n, err := q.EnqueueMany(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	ins.AssertExpectations(t)
}

func TestQueueEnqueueManyCountsOnlyNewJobs(t *testing.T) {
	ins := &mockInserter{}
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	ins.On("InsertMany", mock.Anything, mock.MatchedBy(func(params []river.InsertManyParams) bool {
		for _, p := range params {
			if !p.InsertOpts.UniqueOpts.ByArgs || !slices.Contains(p.InsertOpts.UniqueOpts.ByState, rivertype.JobStateRetryable) {
				return false
			}
		}
		return len(params) == len(ids)
	})).Return([]*rivertype.JobInsertResult{
		{},
		{UniqueSkippedAsDuplicate: true},
		{},
	}, nil).Once()

	q := NewQueue(ins, 21, discardLogger())
	n, err := q.EnqueueMany(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	ins.AssertExpectations(t)
}

func TestQueueEnqueueDuplicateIsNotAnError(t *testing.T) {
	ins := &mockInserter{}
	ins.On("Insert", mock.Anything, mock.Anything, mock.Anything).
		Return(&rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: 3}, UniqueSkippedAsDuplicate: true}, nil).Once()

	q := NewQueue(ins, 21, discardLogger())
	require.NoError(t, q.Enqueue(context.Background(), uuid.New()))
}

func TestProcessWebhookArgsAreUniqueWhileLive(t *testing.T) {
	opts := ProcessWebhookArgs{}.InsertOpts()

	assert.Equal(t, QueueWebhooks, opts.Queue)
	assert.True(t, opts.UniqueOpts.ByArgs)
	assert.ElementsMatch(t, []rivertype.JobState{
		rivertype.JobStateAvailable,
		rivertype.JobStatePending,
		rivertype.JobStateRetryable,
		rivertype.JobStateRunning,
		rivertype.JobStateScheduled,
	}, opts.UniqueOpts.ByState)
	assert.NotContains(t, opts.UniqueOpts.ByState, rivertype.JobStateDiscarded)
}

func TestQueueEnqueueManyEmpty(t *testing.T) {
	ins := &mockInserter{}
	q := NewQueue(ins, 21, discardLogger())

	n, err := q.EnqueueMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	ins.AssertNotCalled(t, "InsertMany", mock.Anything, mock.Anything)
}

func TestRiverConfigFromWebhookSettings(t *testing.T) {
	rc := riverConfig(ClientConfig{MaxAttempts: 21, BackoffMax: 700 * time.Second}, nil)

	assert.Equal(t, 21, rc.MaxAttempts)
	assert.Equal(t, DefaultJobTimeout, rc.JobTimeout)
	assert.Equal(t, 40*time.Minute, rc.RescueStuckJobsAfter)
	assert.Equal(t, 30*24*time.Hour, rc.CompletedJobRetentionPeriod)
	policy, ok := rc.RetryPolicy.(*BackoffPolicy)
	require.True(t, ok)
	assert.Equal(t, 700*time.Second, policy.Max)
}

func TestRescueAfterHasFloor(t *testing.T) {
	assert.Equal(t, time.Hour, rescueAfter(time.Minute))
	assert.Equal(t, 2*time.Hour+5*time.Minute, rescueAfter(2*time.Hour))
}
