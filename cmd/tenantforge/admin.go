package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Strob0t/TenantForge/internal/service"
)

// adminCmd manages the platform administrator roster the safety guard reads.
func (c *cli) adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage platform administrators",
	}

	var email string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a platform administrator identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				admins := service.NewAdministratorService(a.store, a.idp, a.provisioner)
				admin, err := admins.Add(cmd.Context(), email)
				if err != nil {
					return describe(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Administrator created: %s (id=%s)\n", admin.Email, admin.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&email, "email", "", "administrator email address")
	_ = add.MarkFlagRequired("email")

	list := &cobra.Command{
		Use:   "list",
		Short: "List platform administrators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				admins, err := service.NewAdministratorService(a.store, a.idp, a.provisioner).List(cmd.Context())
				if err != nil {
					return describe(err)
				}
				if len(admins) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No administrators found.")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "ID\tEMAIL\tKIND")
				for i := range admins {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", admins[i].ID, admins[i].Email, admins[i].Kind)
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}
