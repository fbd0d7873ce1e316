package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/shopsched/app"
	"github.com/kilianp07/shopsched/core/model"
)

func newBucketsCmd(cfgPath *string) *cobra.Command {
	var (
		machines []string
		from, to string
		gran     string
	)
	c := &cobra.Command{
		Use:   "buckets",
		Short: "Print planned load against available capacity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := parseRange(from, to, model.DateRange{})
			if err != nil {
				return err
			}
			return withService(*cfgPath, func(svc *app.Service) error {
				bs, err := svc.Engine.GetCapacityBuckets(cmd.Context(), machines, r, model.Granularity(gran))
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "MACHINE\tSTART\tEND\tAVAILABLE\tPLANNED\tUTIL\t")
				for _, b := range bs {
					flag := ""
					if b.IsOverloaded {
						flag = "overloaded"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%.0f\t%.2f\t%s\n",
						b.MachineID, b.Start.Format("2006-01-02 15:04"), b.End.Format("2006-01-02 15:04"),
						b.AvailableMinutes, b.PlannedMinutes, b.Utilization, flag)
				}
				return w.Flush()
			})
		},
	}
	f := c.Flags()
	f.StringSliceVarP(&machines, "machine", "m", nil, "machine ids")
	f.StringVar(&from, "from", "", "range start")
	f.StringVar(&to, "to", "", "range end")
	f.StringVarP(&gran, "granularity", "g", string(model.GranularityDay), "shift, day or week")
	_ = c.MarkFlagRequired("machine")
	_ = c.MarkFlagRequired("from")
	_ = c.MarkFlagRequired("to")
	return c
}
