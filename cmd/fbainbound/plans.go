package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
	"github.com/julienbonastre/fba-inbound-helpers/internal/sheet"
	"github.com/julienbonastre/fba-inbound-helpers/internal/workflow"
)

var (
	sheetPath   string
	rowSpec     string
	pendingRows bool
	humanSelect bool
	showAll     bool
	allowPallet bool
	cartonsText string
	cartonsFile string
	cartonRow   int
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an inbound plan from sheet rows",
	Long: `Aggregates the selected purchase sheet rows by SKU, creates an inbound
plan (repairing prepOwner values the API rejects), and either confirms the
first placement option or, with --select, leaves the options for a human
to pick. The plan link is written back to the plan column of every row.

Example:
  fbainbound create --rows 12-18,21
  fbainbound create --pending --select`,
	RunE: runCreate,
}

var optionsCmd = &cobra.Command{
	Use:   "options [inboundPlanId]",
	Short: "Generate and list the placement options of a plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runOptions,
}

var confirmCmd = &cobra.Command{
	Use:   "confirm [inboundPlanId] [placementOptionId]",
	Short: "Confirm a placement option",
	Long: `Confirms one placement option of a plan. Pallet, LTL and freight options
are refused unless --allow-pallet is given.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfirm,
}

var packingCmd = &cobra.Command{
	Use:   "packing [inboundPlanId]",
	Short: "Submit carton dimensions and weights",
	Long: `Parses carton lines such as "1-2：60*40*32 29.1KG" or "3:29.1kg 60*40*32cm"
and sends them as the packing information of the plan's packing group.
The text comes from --cartons, --file, or the carton column of --row,
whose plan cell also supplies the plan id when none is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPacking,
}

func init() {
	createCmd.Flags().StringVar(&sheetPath, "sheet", "", "purchase sheet CSV (defaults to sheet.path)")
	createCmd.Flags().StringVar(&rowSpec, "rows", "", "sheet rows to include, e.g. 2-5,9")
	createCmd.Flags().BoolVar(&pendingRows, "pending", false, "include every row whose plan cell is empty")
	createCmd.Flags().BoolVar(&humanSelect, "select", false, "stop after generating placement options")

	optionsCmd.Flags().BoolVar(&showAll, "all", false, "include pallet-like options")

	confirmCmd.Flags().BoolVar(&allowPallet, "allow-pallet", false, "allow confirming a pallet-like option")

	packingCmd.Flags().StringVar(&sheetPath, "sheet", "", "purchase sheet CSV (defaults to sheet.path)")
	packingCmd.Flags().StringVar(&cartonsText, "cartons", "", "carton lines")
	packingCmd.Flags().StringVar(&cartonsFile, "file", "", "file holding carton lines")
	packingCmd.Flags().IntVar(&cartonRow, "row", 0, "sheet row holding the carton text and plan link")

	rootCmd.AddCommand(createCmd, optionsCmd, confirmCmd, packingCmd)
}

func loadSheet() (*sheet.Sheet, error) {
	path := sheetPath
	if path == "" {
		path = cfg.Sheet.Path
	}
	return sheet.Load(path)
}

func selectRows(sh *sheet.Sheet) ([]*sheet.Row, error) {
	switch {
	case rowSpec != "":
		numbers, err := sheet.ParseRowSpec(rowSpec, sh.LastRow())
		if err != nil {
			return nil, err
		}
		return sh.Select(numbers)
	case pendingRows:
		var rows []*sheet.Row
		for _, r := range sh.Rows() {
			if strings.TrimSpace(r.Get(cfg.Sheet.PlanColumn)) == "" && strings.TrimSpace(r.Get(cfg.Sheet.SKUColumn)) != "" {
				rows = append(rows, r)
			}
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("choose rows with --rows or --pending")
	}
}

func runCreate(cmd *cobra.Command, args []string) error {
	sh, err := loadSheet()
	if err != nil {
		return err
	}
	rows, err := selectRows(sh)
	if err != nil {
		return err
	}
	cols, defaults := cfg.AggregatorColumns()
	items, err := inbound.NewAggregator(cols, defaults, logger).Aggregate(sheet.AsInboundRows(rows))
	if err != nil {
		return err
	}
	logger.Info("creating inbound plan", zap.Int("rows", len(rows)), zap.Int("skus", len(items)))

	a, err := newApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		plan   *workflow.PlanResult
		output any
	)
	if humanSelect {
		sel, err := a.workflows.CreatePlanAndAwaitSelection(cmd.Context(), items)
		if err != nil {
			return err
		}
		plan, output = &sel.Plan, summaries(sel, false)
	} else {
		if plan, err = a.workflows.CreatePlan(cmd.Context(), items); err != nil {
			return err
		}
		output = plan
	}

	writers := make([]workflow.CellWriter, len(rows))
	for i, r := range rows {
		writers[i] = r
	}
	if err := workflow.WriteBack(writers, cfg.Sheet.PlanColumn, plan); err != nil {
		return err
	}
	if err := sh.Save(); err != nil {
		return fmt.Errorf("plan %s created but the sheet could not be saved: %w", plan.InboundPlanID, err)
	}
	return printJSON(cmd, output)
}

func summaries(sel *workflow.Selection, all bool) map[string]any {
	options := sel.Selectable
	if all {
		options = sel.Options
	}
	out := make([]inbound.OptionSummary, len(options))
	for i, o := range options {
		out[i] = inbound.Summarize(o)
	}
	return map[string]any{
		"inboundPlanId": sel.Plan.InboundPlanID,
		"link":          sel.Plan.Link,
		"options":       out,
		"hidden":        len(sel.Options) - len(sel.Selectable),
	}
}

func runOptions(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	sel, err := a.workflows.PlacementOptions(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, summaries(sel, showAll))
}

func runConfirm(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.workflows.ConfirmPlacementOption(cmd.Context(), args[0], args[1], allowPallet)
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}

func runPacking(cmd *cobra.Command, args []string) error {
	planID := ""
	if len(args) == 1 {
		planID = args[0]
	}
	text := cartonsText
	switch {
	case cartonsFile != "":
		data, err := os.ReadFile(cartonsFile)
		if err != nil {
			return fmt.Errorf("failed to read carton file: %w", err)
		}
		text = string(data)
	case cartonRow > 0:
		sh, err := loadSheet()
		if err != nil {
			return err
		}
		rows, err := sh.Select([]int{cartonRow})
		if err != nil {
			return err
		}
		text = rows[0].Get(cfg.Sheet.CartonColumn)
		if planID == "" {
			planID = inbound.ExtractPlanID(rows[0].Get(cfg.Sheet.PlanColumn))
		}
	}
	if strings.TrimSpace(text) == "" {
		return &inbound.ValidationError{Message: "no carton text given"}
	}
	if planID == "" {
		return &inbound.PreconditionError{Message: "inbound plan id is required"}
	}

	a, err := newApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.workflows.SubmitPackingInfo(cmd.Context(), planID, text)
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}
