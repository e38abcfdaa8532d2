package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"bazaar/internal/config"
	"bazaar/internal/db"
	"bazaar/internal/expiry"
	"bazaar/internal/jwtsigner"
	"bazaar/internal/store"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func conversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List your conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			res, err := client.Conversations(ctx)
			if err != nil {
				return err
			}
			for _, c := range res.Conversations {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d messages\n", color.YellowString(c.PeerID), c.LastMessageAt.Local().Format(time.RFC822), c.Messages)
			}
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <message-id>",
		Short: "Delete a message you sent or received",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if _, err := client.DeleteMessage(ctx, id); err != nil {
				return err
			}
			ok(cmd.OutOrStdout(), "Deleted %s", id)
			return nil
		},
	}
}

// token signs a bearer token with JWT_SECRET for local development.
func tokenCmd() *cobra.Command {
	var (
		user string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 token for a user id using JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			id, err := uuid.Parse(user)
			if err != nil {
				return fmt.Errorf("--user must be a uuid: %w", err)
			}
			s, err := jwtsigner.NewHMAC([]byte(os.Getenv("JWT_SECRET")), os.Getenv("JWT_ISSUER"))
			if err != nil {
				return err
			}
			tok, err := s.SignUser(id, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id to embed in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", jwtsigner.DefaultTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// sweep runs one expiry pass against DATABASE_URL without the server.
func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired messages directly in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			cfg := config.Load()
			gdb, err := db.OpenGorm(db.Config{DSN: cfg.DatabaseURL, LogSQL: cfg.DBLogSQL})
			if err != nil {
				return err
			}
			if sqlDB, err := gdb.DB(); err == nil {
				defer sqlDB.Close()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			n, err := expiry.New(store.New(gdb).Messages(), expiry.WithHorizon(0)).Sweep(ctx)
			if err != nil {
				return err
			}
			ok(cmd.OutOrStdout(), "Deleted %d expired messages", n)
			return nil
		},
	}
}
