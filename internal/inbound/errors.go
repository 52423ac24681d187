package inbound

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrPlanBusy is returned when another caller holds the plan's confirm lock
	ErrPlanBusy = errors.New("inbound plan is busy with another operation")
	// ErrPlanAlreadyConfirmed is returned when a placement option was already confirmed for the plan
	ErrPlanAlreadyConfirmed = errors.New("inbound plan already has a confirmed placement option")
	// ErrOptionNotFound is returned when a placement option id is not offered for the plan
	ErrOptionNotFound = errors.New("placement option not found")
)

// ValidationError reports unusable input, such as an empty item set
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Message
}

// RemoteRequestError is a non-accepted HTTP response from the API
type RemoteRequestError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RemoteRequestError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: API error %d: %s", e.Op, e.StatusCode, e.Body)
}

// OperationProblem is a problem entry reported on a failed operation
type OperationProblem struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Details  string `json:"details,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// OperationFailedError means the remote operation reported FAILED
type OperationFailedError struct {
	OperationID string
	Label       string
	Problems    []OperationProblem
}

func (e *OperationFailedError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		if p.Code != "" {
			msgs = append(msgs, p.Code+": "+p.Message)
		} else {
			msgs = append(msgs, p.Message)
		}
	}
	detail := strings.Join(msgs, "; ")
	if detail == "" {
		detail = "no problem details reported"
	}
	return fmt.Sprintf("%s failed (operationId=%s): %s", e.Label, e.OperationID, detail)
}

// OperationTimeoutError means no terminal status was seen within the budget.
// The remote operation may still complete.
type OperationTimeoutError struct {
	OperationID string
	Label       string
	Timeout     time.Duration
	LastStatus  string
}

func (e *OperationTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s (operationId=%s, lastStatus=%s)",
		e.Label, e.Timeout, e.OperationID, e.LastStatus)
}

// NoOptionsError means option generation produced nothing to choose from
type NoOptionsError struct {
	InboundPlanID string
}

func (e *NoOptionsError) Error() string {
	return fmt.Sprintf("no placement options returned for inbound plan %s", e.InboundPlanID)
}

// PartialFetchError means both the primary and the legacy item paths failed
type PartialFetchError struct {
	ShipmentID string
	Primary    error
	Fallback   error
}

func (e *PartialFetchError) Error() string {
	return fmt.Sprintf("failed to fetch items for shipment %s: primary: %v; fallback: %v",
		e.ShipmentID, e.Primary, e.Fallback)
}

func (e *PartialFetchError) Unwrap() []error {
	return []error{e.Primary, e.Fallback}
}

// PreconditionError reports a call made without the state it requires
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Message
}

// PalletGuardError blocks confirmation of a pallet-like option without an override
type PalletGuardError struct {
	InboundPlanID     string
	PlacementOptionID string
}

func (e *PalletGuardError) Error() string {
	return fmt.Sprintf("placement option %s for plan %s looks like a pallet/freight option; pass allowPallet to confirm it",
		e.PlacementOptionID, e.InboundPlanID)
}
