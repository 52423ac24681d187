package spapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
	"github.com/julienbonastre/fba-inbound-helpers/internal/metrics"
)

const (
	OperationSuccess = "SUCCESS"
	OperationFailed  = "FAILED"

	DefaultPollInterval = 5 * time.Second
	DefaultPollTimeout  = 5 * time.Minute
)

// Operation is the status resource of an asynchronous API operation
type Operation struct {
	OperationID       string                     `json:"operationId"`
	Operation         string                     `json:"operation"`
	OperationStatus   string                     `json:"operationStatus"`
	OperationProblems []inbound.OperationProblem `json:"operationProblems,omitempty"`
}

// GetOperation fetches the current status of an operation
func (c *Client) GetOperation(ctx context.Context, operationID string) (*Operation, error) {
	var op Operation
	path := inboundPath + "/operations/" + url.PathEscape(operationID)
	if err := c.call(ctx, "get operation", http.MethodGet, path, nil, http.StatusOK, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// OperationGetter fetches operation status
type OperationGetter interface {
	GetOperation(ctx context.Context, operationID string) (*Operation, error)
}

// Poller waits for operations to reach a terminal status
type Poller struct {
	ops      OperationGetter
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewPoller creates a poller with a fixed interval and an overall budget
func NewPoller(ops OperationGetter, interval, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		ops:      ops,
		interval: interval,
		timeout:  timeout,
		logger:   logger.Named("poller"),
		metrics:  m,
		now:      time.Now,
	}
}

// WithBudget returns a copy of the poller using a different interval and timeout
func (p *Poller) WithBudget(interval, timeout time.Duration) *Poller {
	cp := *p
	if interval > 0 {
		cp.interval = interval
	}
	if timeout > 0 {
		cp.timeout = timeout
	}
	return &cp
}

// WaitForCompletion sleeps one interval before every poll until the
// operation succeeds, fails, or the budget runs out. Fetch errors are logged
// and polling continues; FAILED returns immediately. An empty operation id
// is a PreconditionError.
func (p *Poller) WaitForCompletion(ctx context.Context, operationID, label string) error {
	if operationID == "" {
		return &inbound.PreconditionError{Message: "operationId is required to wait for " + label}
	}
	log := p.logger.With(zap.String("operation", label), zap.String("operationId", operationID))
	log.Info("waiting for operation")

	start := p.now()
	lastStatus := ""
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for p.now().Sub(start) < p.timeout {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: waiting for operation %s: %w", label, operationID, ctx.Err())
		case <-timer.C:
		}

		op, err := p.ops.GetOperation(ctx, operationID)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%s: waiting for operation %s: %w", label, operationID, ctx.Err())
			}
			log.Warn("operation poll failed, retrying", zap.Error(err))
			p.metrics.ObservePoll(label, "error")
			timer.Reset(p.interval)
			continue
		}

		lastStatus = op.OperationStatus
		p.metrics.ObservePoll(label, lastStatus)
		log.Debug("operation status", zap.String("status", lastStatus))

		switch lastStatus {
		case OperationSuccess:
			log.Info("operation completed")
			return nil
		case OperationFailed:
			return &inbound.OperationFailedError{
				OperationID: operationID,
				Label:       label,
				Problems:    op.OperationProblems,
			}
		}
		timer.Reset(p.interval)
	}

	return &inbound.OperationTimeoutError{
		OperationID: operationID,
		Label:       label,
		Timeout:     p.timeout,
		LastStatus:  lastStatus,
	}
}
