// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"codeberg.org/oliverandrich/otpgate/internal/config"
	"codeberg.org/oliverandrich/otpgate/internal/database"
	"codeberg.org/oliverandrich/otpgate/internal/models"
	"codeberg.org/oliverandrich/otpgate/internal/repository"
	"codeberg.org/oliverandrich/otpgate/internal/server"
	"codeberg.org/oliverandrich/otpgate/internal/services/otp"
	"github.com/urfave/cli/v3"
	"github.com/vinovest/sqlx"
)

type opener func(dsn string) (*sqlx.DB, error)

// withDatabase sets up logging and opens the database for one command.
func withDatabase(ctx context.Context, cmd *cli.Command, open opener, fn func(context.Context, *sqlx.DB) error) error {
	server.SetupLogger(cmd.String("log-level"), cmd.String("log-format"))

	db, err := open(cmd.String("database-dsn"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	return fn(ctx, db)
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the database schema",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Flags: config.DatabaseFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withDatabase(ctx, cmd, database.Connect, func(_ context.Context, db *sqlx.DB) error {
						if err := database.RunMigrations(db.DB, database.DialectOf(db)); err != nil {
							return err
						}
						return printVersion(cmd, db)
					})
				},
			},
			{
				Name:  "down",
				Usage: "Roll back the last migration",
				Flags: config.DatabaseFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withDatabase(ctx, cmd, database.Connect, func(_ context.Context, db *sqlx.DB) error {
						if err := database.MigrateDown(db.DB, database.DialectOf(db)); err != nil {
							return err
						}
						return printVersion(cmd, db)
					})
				},
			},
			{
				Name:  "status",
				Usage: "Print the applied schema version",
				Flags: config.DatabaseFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withDatabase(ctx, cmd, database.Connect, func(_ context.Context, db *sqlx.DB) error {
						return printVersion(cmd, db)
					})
				},
			},
		},
	}
}

func printVersion(cmd *cli.Command, db *sqlx.DB) error {
	version, err := database.MigrationVersion(db.DB, database.DialectOf(db))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.Root().Writer, "schema version: %d\n", version)
	return err
}

func userCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage users",
		Commands: []*cli.Command{
			{
				Name:  "promote",
				Usage: "Grant or revoke the admin role",
				Flags: append(config.DatabaseFlags(),
					&cli.StringFlag{
						Name:     "email",
						Usage:    "Email address of the user",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "demote",
						Usage: "Revoke the admin role instead",
					},
				),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					role := models.RoleAdmin
					if cmd.Bool("demote") {
						role = models.RoleStandard
					}
					return withDatabase(ctx, cmd, database.Open, func(ctx context.Context, db *sqlx.DB) error {
						return setRole(ctx, cmd, repository.New(db), cmd.String("email"), role)
					})
				},
			},
		},
	}
}

func setRole(ctx context.Context, cmd *cli.Command, repo *repository.Repository, email string, role models.Role) error {
	if err := repo.SetUserRole(ctx, email, role); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("no user with email %q", email)
		}
		return err
	}
	slog.Info("role_changed", "email", email, "role", role)
	_, err := fmt.Fprintf(cmd.Root().Writer, "%s is now %s\n", email, role)
	return err
}

func otpCommand() *cli.Command {
	return &cli.Command{
		Name:  "otp",
		Usage: "Maintain passcode records",
		Commands: []*cli.Command{
			{
				Name:  "purge",
				Usage: "Delete passcodes that expired before the retention window",
				Flags: append(config.DatabaseFlags(),
					&cli.DurationFlag{
						Name:  "older-than",
						Value: 30 * 24 * time.Hour,
						Usage: "Retention after expiry",
					},
				),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withDatabase(ctx, cmd, database.Open, func(ctx context.Context, db *sqlx.DB) error {
						// Purging never issues passcodes, so no dispatcher is needed.
						mgr := otp.NewManager(repository.New(db), nil, otp.Config{})
						n, err := mgr.Purge(ctx, cmd.Duration("older-than"))
						if err != nil {
							return err
						}
						_, err = fmt.Fprintf(cmd.Root().Writer, "deleted %d passcodes\n", n)
						return err
					})
				},
			},
		},
	}
}
