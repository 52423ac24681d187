package spapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
)

type scriptedOps struct {
	responses []scriptedResponse
	calls     int
}

type scriptedResponse struct {
	status   string
	problems []inbound.OperationProblem
	err      error
}

func (s *scriptedOps) GetOperation(_ context.Context, id string) (*Operation, error) {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	r := s.responses[i]
	if r.err != nil {
		return nil, r.err
	}
	return &Operation{OperationID: id, OperationStatus: r.status, OperationProblems: r.problems}, nil
}

func TestPollerSucceedsAfterPending(t *testing.T) {
	ops := &scriptedOps{responses: []scriptedResponse{{status: "IN_PROGRESS"}, {status: "IN_PROGRESS"}, {status: OperationSuccess}}}
	p := NewPoller(ops, time.Millisecond, time.Second, zap.NewNop(), nil)

	require.NoError(t, p.WaitForCompletion(context.Background(), "op-1", "test"))
	assert.Equal(t, 3, ops.calls)
}

func TestPollerRequiresOperationID(t *testing.T) {
	ops := &scriptedOps{responses: []scriptedResponse{{status: OperationSuccess}}}
	p := NewPoller(ops, time.Millisecond, time.Second, zap.NewNop(), nil)

	var pre *inbound.PreconditionError
	require.ErrorAs(t, p.WaitForCompletion(context.Background(), "", "test"), &pre)
	assert.Zero(t, ops.calls)
}

func TestPollerTimesOut(t *testing.T) {
	ops := &scriptedOps{responses: []scriptedResponse{{status: "IN_PROGRESS"}}}
	p := NewPoller(ops, time.Millisecond, 20*time.Millisecond, zap.NewNop(), nil)

	err := p.WaitForCompletion(context.Background(), "op-1", "test")
	var timeoutErr *inbound.OperationTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "op-1", timeoutErr.OperationID)
	assert.Equal(t, "IN_PROGRESS", timeoutErr.LastStatus)
}

func TestPollerFailsImmediately(t *testing.T) {
	ops := &scriptedOps{responses: []scriptedResponse{{
		status:   OperationFailed,
		problems: []inbound.OperationProblem{{Code: "FBA_INB_0001", Message: "bad address"}},
	}}}
	p := NewPoller(ops, time.Millisecond, time.Hour, zap.NewNop(), nil)

	err := p.WaitForCompletion(context.Background(), "op-1", "plan creation")
	var failed *inbound.OperationFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 1, ops.calls)
	assert.Contains(t, failed.Error(), "bad address")
	assert.Contains(t, failed.Error(), "plan creation")
}

func TestPollerToleratesFetchErrors(t *testing.T) {
	ops := &scriptedOps{responses: []scriptedResponse{
		{err: errors.New("connection reset")},
		{status: OperationSuccess},
	}}
	p := NewPoller(ops, time.Millisecond, time.Second, zap.NewNop(), nil)

	require.NoError(t, p.WaitForCompletion(context.Background(), "op-1", "test"))
	assert.Equal(t, 2, ops.calls)
}

func TestPollerHonoursCancellation(t *testing.T) {
	ops := &scriptedOps{responses: []scriptedResponse{{status: "IN_PROGRESS"}}}
	p := NewPoller(ops, time.Hour, 2*time.Hour, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.WaitForCompletion(ctx, "op-1", "test")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, ops.calls)
}

func TestPollerWithBudget(t *testing.T) {
	p := NewPoller(&scriptedOps{}, 0, 0, nil, nil)
	assert.Equal(t, DefaultPollInterval, p.interval)
	assert.Equal(t, DefaultPollTimeout, p.timeout)

	q := p.WithBudget(time.Second, time.Minute)
	assert.Equal(t, time.Second, q.interval)
	assert.Equal(t, time.Minute, q.timeout)
	assert.Equal(t, DefaultPollInterval, p.interval)
}
