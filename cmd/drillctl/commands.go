package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jagruk/preparedness/internal/auth"
	"jagruk/preparedness/internal/backend"
	"jagruk/preparedness/internal/config"
	"jagruk/preparedness/internal/logging"
	"jagruk/preparedness/internal/roster"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the postgres schema or the mongo indexes of STORE_DRIVER",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			log, err := logging.New(cfg.LogLevel, "console")
			if err != nil {
				return err
			}
			store, err := backend.Open(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Info("migrated", zap.String("driver", store.Driver))
			return nil
		},
	}
}

func newSeedStudentCmd() *cobra.Command {
	var (
		school string
		req    roster.CreateRequest
	)
	cmd := &cobra.Command{
		Use:   "seed-student",
		Short: "Add a student to the roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			log, err := logging.New(cfg.LogLevel, "console")
			if err != nil {
				return err
			}
			store, err := backend.Open(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			operator := auth.Identity{UserID: "drillctl", Role: auth.RoleAdmin, SchoolID: school}
			st, err := roster.NewService(store.Repo, log).Create(cmd.Context(), operator, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", st.ID, st.ClassID, st.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&school, "school", "", "school id")
	cmd.Flags().StringVar(&req.ID, "id", "", "student id (generated when empty)")
	cmd.Flags().StringVar(&req.ClassID, "class", "", "class id")
	cmd.Flags().StringVar(&req.Name, "name", "", "display name")
	cmd.Flags().StringVar(&req.Email, "email", "", "e-mail address")
	_ = cmd.MarkFlagRequired("school")
	_ = cmd.MarkFlagRequired("class")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		claims auth.Claims
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 bearer token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			probe := claims
			if _, err := probe.Identity(); err != nil {
				return fmt.Errorf("invalid claims: %w", err)
			}
			token, err := auth.NewAccessToken(cfg.JWTSecret, cfg.JWTIssuer, ttl, claims)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&claims.UserID, "user", "", "user id")
	cmd.Flags().StringVar(&claims.UserType, "role", auth.RoleStudent, "admin, staff or student")
	cmd.Flags().StringVar(&claims.SchoolID, "school", "", "school id")
	cmd.Flags().StringVar(&claims.ClassID, "class", "", "class id (students)")
	cmd.Flags().StringVar(&claims.Name, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("school")
	return cmd
}
