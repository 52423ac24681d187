package workflow

import (
	"fmt"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
)

// CellWriter is a sheet row that accepts cell updates
type CellWriter interface {
	Set(column, value string) error
}

// WriteBack puts a hyperlink to the plan into the plan column of every
// source row.
func WriteBack(rows []CellWriter, planColumn string, plan *PlanResult) error {
	if plan == nil || plan.InboundPlanID == "" {
		return &inbound.PreconditionError{Message: "no plan to write back"}
	}
	formula := inbound.HyperlinkFormula(plan.Link, plan.InboundPlanID)
	for i, row := range rows {
		if err := row.Set(planColumn, formula); err != nil {
			return fmt.Errorf("failed to write plan link to row %d: %w", i, err)
		}
	}
	return nil
}
