// Command tenantforge runs the tenant provisioning service and its operator
// commands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Strob0t/TenantForge/internal/config"
	"github.com/Strob0t/TenantForge/internal/logger"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// cli carries the state every subcommand shares: the loaded config and the
// logger flush hook.
type cli struct {
	configPath string
	cfg        *config.Config
	closeLog   logger.Closer
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "tenantforge",
		Short:         "Tenant provisioning and credential lifecycle orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFrom(c.configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			c.cfg = cfg
			log, closer := logger.New(cfg.Logging)
			slog.SetDefault(log)
			c.closeLog = closer
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.closeLog != nil {
				c.closeLog.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", config.DefaultConfigFile, "path to the YAML config file")

	root.AddCommand(
		c.serveCmd(),
		c.migrateCmd(),
		c.provisionCmd(),
		c.rotateCmd(),
		c.deleteCmd(),
		c.auditCmd(),
		c.reconcileCmd(),
		c.adminCmd(),
		c.tokenCmd(),
	)
	return root
}

// withApp wires the service graph for a one-shot command.
func (c *cli) withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
