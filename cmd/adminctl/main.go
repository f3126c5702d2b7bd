package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/admissions-portal/backend/internal/alerts"
	"github.com/admissions-portal/backend/internal/audit"
	"github.com/admissions-portal/backend/internal/config"
	"github.com/admissions-portal/backend/internal/db"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/admissions-portal/backend/internal/repositories"
	"github.com/admissions-portal/backend/internal/services"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// env holds the dependencies shared by every subcommand.
type env struct {
	admins  *repositories.AdminRepo
	audit   *audit.Log
	service *services.AdminService
	close   func()
}

func setup(ctx context.Context, log *zap.Logger) (*env, error) {
	cfg := config.Load()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	var channel alerts.Channel = alerts.NewLogChannel(log)
	if cfg.AlertWebhookURL != "" {
		channel = alerts.NewWebhookChannel(cfg.AlertWebhookURL, cfg.AlertWebhookSecret, cfg.AlertTimeout)
	}
	dispatcher := alerts.NewDispatcher(channel, cfg.AlertTimeout, log)

	adminRepo := repositories.NewAdminRepo(pool)
	auditLog := audit.NewLog(repositories.NewAuditRepo(pool), log, dispatcher.OnAuditEntry)

	return &env{
		admins:  adminRepo,
		audit:   auditLog,
		service: services.NewAdminService(adminRepo, repositories.NewPermissionRepo(pool), auditLog, cfg.JWTSecret, cfg.JWTExpiration, log),
		close: func() {
			// pending alerts must leave before the process exits
			dispatcher.Wait()
			pool.Close()
		},
	}, nil
}

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cmd := &cli.Command{
		Name:  "adminctl",
		Usage: "Operator tasks for the admissions admin backend",
		Commands: []*cli.Command{
			createAdminCommand(log),
			setRoleCommand(log),
			auditCommand(log),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal("adminctl failed", zap.Error(err))
	}
}

func createAdminCommand(log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "create-admin",
		Usage: "Create an admin account; the first admin of a fresh install is created this way",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true, Usage: "Login email"},
			&cli.StringFlag{
				Name:     "password",
				Required: true,
				Sources:  cli.EnvVars("ADMINCTL_PASSWORD"),
				Usage:    "Initial password",
			},
			&cli.StringFlag{Name: "role", Value: "admin", Usage: "viewer, reviewer or admin"},
			&cli.StringFlag{Name: "name", Usage: "Display name"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			e, err := setup(ctx, log)
			if err != nil {
				return err
			}
			defer e.close()

			in := services.CreateAdminInput{
				Email:    c.String("email"),
				Password: c.String("password"),
				Role:     c.String("role"),
			}
			if name := c.String("name"); name != "" {
				in.DisplayName = &name
			}
			admin, err := e.service.Bootstrap(ctx, in)
			if err != nil {
				return fmt.Errorf("create admin: %w", err)
			}
			fmt.Fprintf(os.Stdout, "created %s (%s) with role %s\n", admin.Email, admin.ID, admin.Role)
			return nil
		},
	}
}

func setRoleCommand(log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "set-role",
		Usage: "Change the role of an admin on behalf of another admin",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "as", Required: true, Usage: "Email of the acting admin"},
			&cli.StringFlag{Name: "email", Required: true, Usage: "Email of the admin to change"},
			&cli.StringFlag{Name: "role", Required: true, Usage: "viewer, reviewer or admin"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			e, err := setup(ctx, log)
			if err != nil {
				return err
			}
			defer e.close()

			actor, err := e.admins.GetByEmail(ctx, c.String("as"))
			if err != nil {
				return fmt.Errorf("acting admin: %w", err)
			}
			target, err := e.admins.GetByEmail(ctx, c.String("email"))
			if err != nil {
				return fmt.Errorf("target admin: %w", err)
			}
			updated, err := e.service.ChangeRole(ctx, actor.AdminIdentity, target.ID, c.String("role"))
			if err != nil {
				return fmt.Errorf("change role: %w", err)
			}
			fmt.Fprintf(os.Stdout, "%s is now %s\n", updated.Email, updated.Role)
			return nil
		},
	}
}

func auditCommand(log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Print recent audit entries",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "table", Usage: "Only entries for this table"},
			&cli.StringFlag{Name: "record", Usage: "Only entries for this record id"},
			&cli.StringFlag{Name: "action", Usage: "Only entries with this action"},
			&cli.IntFlag{Name: "limit", Value: 20},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			e, err := setup(ctx, log)
			if err != nil {
				return err
			}
			defer e.close()

			f := repositories.AuditFilter{Limit: int(c.Int("limit"))}
			if v := c.String("table"); v != "" {
				f.TableName = &v
			}
			if v := c.String("record"); v != "" {
				f.RecordID = &v
			}
			if v := c.String("action"); v != "" {
				action := models.AuditAction(v)
				f.Action = &action
			}

			entries, err := e.audit.List(ctx, f)
			if err != nil {
				return fmt.Errorf("list audit: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTOR\tACTION\tTABLE\tRECORD")
			for _, entry := range entries {
				record := "-"
				if entry.RecordID != nil {
					record = *entry.RecordID
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					entry.CreatedAt.Format("2006-01-02 15:04:05"), entry.ActorID, entry.Action, entry.TableName, record)
			}
			return w.Flush()
		},
	}
}
