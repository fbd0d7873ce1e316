package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/shopsched/app"
	"github.com/kilianp07/shopsched/core/engine"
	"github.com/kilianp07/shopsched/core/model"
)

func newValidateCmd(cfgPath *string) *cobra.Command {
	var withStored bool
	c := &cobra.Command{
		Use:   "validate <slots.json>",
		Short: "Check a set of slots for conflicts without writing them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var slots []model.ScheduleSlot
			if err := json.Unmarshal(raw, &slots); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}
			return withService(*cfgPath, func(svc *app.Service) error {
				cs, err := svc.Engine.ValidateSlots(cmd.Context(), engine.ValidateRequest{Slots: slots, WithStored: withStored})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(cs) == 0 {
					fmt.Fprintln(out, "no conflicts")
					return nil
				}
				for _, c := range cs {
					fmt.Fprintf(out, "%-8s %-20s %-8s %s\n", c.Severity, c.Kind, c.MachineID, c.Message)
				}
				if n := len(model.Conflicts(cs).Critical()); n > 0 {
					return fmt.Errorf("%d critical conflict(s)", n)
				}
				return nil
			})
		},
	}
	c.Flags().BoolVar(&withStored, "with-stored", false, "check against the stored slots of the same machines and work orders")
	return c
}
