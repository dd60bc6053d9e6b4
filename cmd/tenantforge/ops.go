package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/identity"
	"github.com/Strob0t/TenantForge/internal/domain/user"
	"github.com/Strob0t/TenantForge/internal/middleware"
	"github.com/Strob0t/TenantForge/internal/port/messagequeue"
	"github.com/Strob0t/TenantForge/internal/service"
)

// operatorFlag binds --actor, the id recorded as actor on every audit entry.
func operatorFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVar(dst, "actor", middleware.LocalOperator.ID, "operator id recorded in the audit log")
}

func (c *cli) provisionCmd() *cobra.Command {
	var key, name, slug, ownerEmail, actor string
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision a tenant and its owner identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if key == "" {
				key = uuid.New().String()
				fmt.Fprintf(cmd.ErrOrStderr(), "idempotency key: %s\n", key)
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				resp, err := a.provisioning.ProvisionTenant(cmd.Context(), service.ProvisionRequest{
					IdempotencyKey: key,
					ActorID:        actor,
					TenantName:     name,
					TenantSlug:     slug,
					OwnerEmail:     ownerEmail,
				})
				if err != nil {
					return describe(err)
				}
				if resp.Replayed {
					fmt.Fprintln(cmd.ErrOrStderr(), "replayed stored result")
				}
				return printJSON(cmd.OutOrStdout(), resp.Body)
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "idempotency key (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "tenant display name")
	cmd.Flags().StringVar(&slug, "slug", "", "tenant slug")
	cmd.Flags().StringVar(&ownerEmail, "owner-email", "", "owner email address")
	operatorFlag(cmd, &actor)
	for _, f := range []string{"name", "slug", "owner-email"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func (c *cli) rotateCmd() *cobra.Command {
	var tenantID, field, value, actor string
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the email or password of a tenant's owner",
		Long: "Rotate the email or password of a tenant's owner. The password is read from the\n" +
			"terminal without echo; it is never accepted as a flag.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := identity.Field(field)
			if !f.Valid() {
				return fmt.Errorf("--field must be email or password")
			}
			if f == identity.FieldPassword {
				pw, err := promptNewPassword()
				if err != nil {
					return err
				}
				value = pw
			} else if value == "" {
				return fmt.Errorf("--value is required for email rotation")
			}

			return c.withApp(cmd.Context(), func(a *app) error {
				res, err := a.rotation.RotateOwnerCredential(cmd.Context(), service.RotateRequest{
					TenantID: tenantID,
					Field:    f,
					NewValue: value,
					ActorID:  actor,
				})
				if err != nil {
					return describe(err)
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&field, "field", "", "credential to rotate: email|password")
	cmd.Flags().StringVar(&value, "value", "", "new email address (email rotation only)")
	operatorFlag(cmd, &actor)
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "delete <tenant-id>",
		Short: "Soft-delete a tenant and free its slug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				corr, err := a.tenants.SoftDelete(cmd.Context(), args[0], actor)
				if err != nil {
					return describe(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s deleted (correlation %s)\n", args[0], corr)
				return nil
			})
		},
	}
	operatorFlag(cmd, &actor)
	return cmd
}

func (c *cli) auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit <correlation-id>",
		Short: "Print the audit trail of one operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				entries, err := a.tenants.ListAudit(cmd.Context(), args[0])
				if err != nil {
					return describe(err)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No audit entries found.")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "SEQ\tTIME\tACTION\tOUTCOME\tTENANT\tIDENTITY")
				for i := range entries {
					e := &entries[i]
					_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
						e.Seq, e.CreatedAt.Format(time.RFC3339Nano), e.Action, e.Outcome, e.TenantID, e.IdentityID)
				}
				return w.Flush()
			})
		},
	}

	tail := &cobra.Command{
		Use:   "tail",
		Short: "Stream audit events from NATS until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.withApp(ctx, func(a *app) error {
				if a.queue == nil {
					return fmt.Errorf("audit tail requires nats.url")
				}
				out := cmd.OutOrStdout()
				cancel, err := a.queue.Subscribe(ctx, messagequeue.SubjectAuditAll, func(_ context.Context, subject string, data []byte) error {
					_, err := fmt.Fprintf(out, "%s %s\n", subject, data)
					return err
				})
				if err != nil {
					return fmt.Errorf("subscribe: %w", err)
				}
				defer cancel()
				<-ctx.Done()
				return nil
			})
		},
	}
	cmd.AddCommand(tail)
	return cmd
}

func (c *cli) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Retry identity deletions left pending by failed rollbacks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				n, err := a.reconciler.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d pending compensation(s)\n", n)
				return nil
			})
		},
	}
}

func (c *cli) tokenCmd() *cobra.Command {
	var subject, email, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator bearer token for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}
			v := middleware.NewTokenVerifier(c.cfg.Auth.JWTSecret, c.cfg.Auth.Issuer)
			tok, err := v.Issue(user.Actor{ID: subject, Email: email, Role: user.Role(role)}, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", uuid.New().String(), "operator id")
	cmd.Flags().StringVar(&email, "email", "", "operator email")
	cmd.Flags().StringVar(&role, "role", string(user.RolePlatformAdmin), "operator role")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

// describe renders a workflow error with its stable code for the terminal.
func describe(err error) error {
	de := domain.AsError(err)
	retry := "terminal"
	if de.Retryable() {
		retry = "retryable"
	}
	if de.CorrelationID != "" {
		return fmt.Errorf("%s [%s, %s, correlation %s]", de.Message, de.Cause, retry, de.CorrelationID)
	}
	return fmt.Errorf("%s [%s, %s]", de.Message, de.Cause, retry)
}

func printJSON(w io.Writer, v any) error {
	if raw, ok := v.(json.RawMessage); ok {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			v = decoded
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// promptNewPassword reads a password twice from the terminal without echo.
func promptNewPassword() (string, error) {
	pw, err := promptPassword("New password: ")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if pw != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	return pw, nil
}

// promptPassword reads a password from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after password input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
