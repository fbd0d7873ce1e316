package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/shopsched/app"
	"github.com/kilianp07/shopsched/config"
	"github.com/kilianp07/shopsched/infra/logger"
)

// NewRootCmd builds the command tree. Running the root command serves the
// API until SIGINT or SIGTERM.
func NewRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "shopsched",
		Short:         "Manufacturing scheduling and capacity planning service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	root.AddCommand(newPlanCmd(&cfgPath), newBucketsCmd(&cfgPath), newValidateCmd(&cfgPath))
	return root
}

// Execute runs the CLI.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

func serve(ctx context.Context, cfgPath string) error {
	svc, err := open(cfgPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}

func open(cfgPath string) (*app.Service, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(cfg)
}

// withService runs fn against a service built from the configuration and
// closes it afterwards.
func withService(cfgPath string, fn func(*app.Service) error) (err error) {
	svc, err := open(cfgPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(svc)
}
