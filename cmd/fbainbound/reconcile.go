package main

import (
	"github.com/spf13/cobra"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
	"github.com/julienbonastre/fba-inbound-helpers/internal/reconcile"
	"github.com/julienbonastre/fba-inbound-helpers/internal/sheet"
)

var (
	stockPath  string
	skuFilter  string
	watchStock bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Update sheet estimates from remote quantities",
}

var reconcileStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Estimate in-transit rows as received once every shipped unit arrived",
	RunE:  runReconcileStatus,
}

var reconcileInventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Spread available stock over in-stock rows, newest first",
	RunE:  runReconcileInventory,
}

var totalsCmd = &cobra.Command{
	Use:   "totals",
	Short: "Show shipped/received quantity totals",
}

var planTotalsCmd = &cobra.Command{
	Use:   "plan [inboundPlanId]",
	Short: "Totals over every shipment of a plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanTotals,
}

var shipmentTotalsCmd = &cobra.Command{
	Use:   "shipment [shipmentId]",
	Short: "Totals of one shipment",
	Args:  cobra.ExactArgs(1),
	RunE:  runShipmentTotals,
}

var statusCmd = &cobra.Command{
	Use:   "status [shipmentId]",
	Short: "Show the shipment status reported by the v0 inbound API",
	Args:  cobra.ExactArgs(1),
	RunE:  runShipmentStatus,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent reconciliation runs",
	RunE:  runHistory,
}

func init() {
	reconcileStatusCmd.Flags().StringVar(&sheetPath, "sheet", "", "purchase sheet CSV (defaults to sheet.path)")
	reconcileInventoryCmd.Flags().StringVar(&sheetPath, "sheet", "", "purchase sheet CSV (defaults to sheet.path)")
	reconcileInventoryCmd.Flags().StringVar(&stockPath, "stock", "", "stock sheet CSV (defaults to sheet.stock_path)")
	reconcileInventoryCmd.Flags().BoolVar(&watchStock, "watch", false, "rerun whenever the stock sheet changes")
	reconcileCmd.AddCommand(reconcileStatusCmd, reconcileInventoryCmd, historyCmd)

	shipmentTotalsCmd.Flags().StringVar(&skuFilter, "sku", "", "only count items of this SKU")
	totalsCmd.AddCommand(planTotalsCmd, shipmentTotalsCmd)

	rootCmd.AddCommand(reconcileCmd, totalsCmd, statusCmd)
}

func runReconcileStatus(cmd *cobra.Command, args []string) error {
	sh, err := loadSheet()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.reconciler().UpdateStatusEstimates(cmd.Context(), sh)
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}

func runReconcileInventory(cmd *cobra.Command, args []string) error {
	path := stockPath
	if path == "" {
		path = cfg.Sheet.StockPath
	}

	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()
	svc := a.reconciler()

	once := func() error {
		sh, err := loadSheet()
		if err != nil {
			return err
		}
		stockSheet, err := sheet.Load(path)
		if err != nil {
			return err
		}
		stock, err := reconcile.LoadStock(stockSheet, cfg.Sheet.StockASINColumn, cfg.Sheet.StockAvailableColumn)
		if err != nil {
			return err
		}
		result, err := svc.UpdateInventoryEstimates(sh, stock)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	}

	if err := once(); err != nil {
		return err
	}
	if !watchStock {
		return nil
	}
	return sheet.Watch(cmd.Context(), path, sheet.DefaultDebounce, once, logger)
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	var runs []any
	for _, syncType := range []string{reconcile.SyncTypeStatusEstimate, reconcile.SyncTypeInventoryEstimate} {
		history, err := a.db.GetSyncHistory(syncType, 10)
		if err != nil {
			return err
		}
		for _, h := range history {
			runs = append(runs, h)
		}
	}
	return printJSON(cmd, runs)
}

func runPlanTotals(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	totals, err := a.client.GetPlanQuantityTotals(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printTotals(cmd, totals)
}

func runShipmentTotals(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	var totals inbound.QuantityTotals
	if skuFilter != "" {
		totals, err = a.client.GetShipmentQuantityTotalsForSKU(cmd.Context(), args[0], skuFilter)
	} else {
		totals, err = a.client.GetShipmentQuantityTotals(cmd.Context(), args[0])
	}
	if err != nil {
		return err
	}
	return printTotals(cmd, totals)
}

func printTotals(cmd *cobra.Command, totals inbound.QuantityTotals) error {
	return printJSON(cmd, map[string]any{
		"quantityShipped":  totals.QuantityShipped,
		"quantityReceived": totals.QuantityReceived,
		"shipmentIds":      totals.ShipmentIDs,
		"status":           totals.Status().String(),
	})
}

func runShipmentStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	status, err := a.client.GetShipmentStatus(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]string{"shipmentId": args[0], "status": status})
}
