package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jinzhu/now"
	"github.com/spf13/cobra"

	"github.com/kilianp07/shopsched/app"
	"github.com/kilianp07/shopsched/core/engine"
	"github.com/kilianp07/shopsched/core/model"
)

func newPlanCmd(cfgPath *string) *cobra.Command {
	var (
		orders   []string
		machines []string
		from, to string
		rule     string
		dryRun   bool
	)
	c := &cobra.Command{
		Use:   "plan [plan-id]",
		Short: "Schedule a production plan or a list of work orders",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(orders) == 0 {
				return fmt.Errorf("a plan id or --work-orders is required")
			}
			return withService(*cfgPath, func(svc *app.Service) error {
				req := engine.PlanRequest{WorkOrderIDs: orders, MachineIDs: machines, DryRun: dryRun}
				if len(args) == 1 {
					p, err := svc.Registry.Plan(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					req.PlanID = p.ID
					req.Range = p.Range
					if len(req.WorkOrderIDs) == 0 {
						req.WorkOrderIDs = p.WorkOrderIDs
					}
					if len(req.MachineIDs) == 0 {
						req.MachineIDs = p.MachineIDs
					}
					if p.Policy != (model.SchedulingPolicy{}) {
						pol := p.Policy.WithDefaults(svc.Engine.Config().DefaultPolicy)
						req.Policy = &pol
					}
				}
				var err error
				if req.Range, err = parseRange(from, to, req.Range); err != nil {
					return err
				}
				if rule != "" {
					pol := svc.Engine.Config().DefaultPolicy
					if req.Policy != nil {
						pol = *req.Policy
					}
					if pol.Rule, err = model.ParseRule(rule); err != nil {
						return err
					}
					req.Policy = &pol
				}
				out, err := svc.Engine.PlanSchedule(cmd.Context(), req)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			})
		},
	}
	f := c.Flags()
	f.StringSliceVar(&orders, "work-orders", nil, "work order ids to schedule")
	f.StringSliceVar(&machines, "machines", nil, "restrict allocation to these machines")
	f.StringVar(&from, "from", "", "range start (RFC 3339 or 2006-01-02 15:04)")
	f.StringVar(&to, "to", "", "range end (RFC 3339 or 2006-01-02 15:04)")
	f.StringVar(&rule, "rule", "", "dispatch rule (EDD, SPT, CR, FIFO, PRIORITY)")
	f.BoolVar(&dryRun, "dry-run", false, "compute without committing")
	return c
}

func parseRange(from, to string, base model.DateRange) (model.DateRange, error) {
	var err error
	if from != "" {
		if base.Start, err = parseTime(from); err != nil {
			return base, err
		}
	}
	if to != "" {
		if base.End, err = parseTime(to); err != nil {
			return base, err
		}
	}
	return base, nil
}

// parseTime accepts RFC 3339 and the shorter layouts understood by
// jinzhu/now. Short layouts are read as UTC.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := now.ParseInLocation(time.UTC, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t, nil
}
