package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/studiobook/studiobook-api/internal/app"
	"github.com/studiobook/studiobook-api/internal/config"
	"github.com/studiobook/studiobook-api/internal/domain/availability"
	"github.com/studiobook/studiobook-api/internal/pkg/jwt"
)

var errCalendarDisabled = errors.New("calendar sync is disabled (set CALENDAR_SYNC_ENABLED=true)")

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema (postgres) or indexes (mongo) of the configured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s store migrated\n", a.Config.StoreDriver)
				return nil
			})
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire lapsed PENDING reservations and release their slots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Reservations.ExpireDue(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d reservation(s)\n", n)
				return nil
			})
		},
	}
}

func newSyncCmd() *cobra.Command {
	var accountID string

	c := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile external calendars into availability",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if a.Reconciler == nil {
					return errCalendarDisabled
				}
				if accountID == "" {
					results, err := a.Reconciler.RunAll(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), results)
				}

				id, err := uuid.Parse(accountID)
				if err != nil {
					return fmt.Errorf("invalid --account: %w", err)
				}
				result, err := a.Reconciler.Sync(ctx, id)
				if result != nil {
					if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	c.Flags().StringVar(&accountID, "account", "", "sync a single calendar account by id")
	return c
}

func newRepairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Drain one batch of queued sibling repairs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				before, err := a.Repairs.Len(ctx)
				if err != nil {
					return err
				}
				repaired := a.RepairWorker.RunOnce(ctx)
				after, err := a.Repairs.Len(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %d, repaired %d, remaining %d\n", before, repaired, after)
				return nil
			})
		},
	}
}

func newIncidentsCmd() *cobra.Command {
	var day string

	c := &cobra.Command{
		Use:   "incidents",
		Short: "List incidents that need operator follow-up",
		RunE: func(cmd *cobra.Command, _ []string) error {
			when := time.Now().UTC()
			if day != "" {
				parsed, err := time.Parse(availability.DateLayout, day)
				if err != nil {
					return fmt.Errorf("invalid --day (want YYYY-MM-DD): %w", err)
				}
				when = parsed
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				incidents, err := a.Reports.List(ctx, when)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), incidents)
			})
		},
	}
	c.Flags().StringVar(&day, "day", "", "UTC day to list (default today)")
	return c
}

// newTokenCmd mints an access token for local testing. Identity lives outside this service.
func newTokenCmd() *cobra.Command {
	var (
		userID string
		role   string
	)

	c := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for a user id and role",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if cfg.IsProduction() {
				return errors.New("refusing to mint tokens in production")
			}
			switch role {
			case jwt.RoleCustomer, jwt.RoleVendor, jwt.RoleAdmin:
			default:
				return fmt.Errorf("unknown --role %q", role)
			}

			id := uuid.New()
			if userID != "" {
				parsed, err := uuid.Parse(userID)
				if err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
				id = parsed
			}

			token, err := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL).GenerateAccessToken(id, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user_id=%s\nrole=%s\ntoken=%s\n", id, role, token)
			return nil
		},
	}
	c.Flags().StringVar(&userID, "user", "", "user id (random when empty)")
	c.Flags().StringVar(&role, "role", jwt.RoleCustomer, "customer, vendor or admin")
	return c
}
