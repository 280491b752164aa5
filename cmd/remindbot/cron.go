package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"remindbot/internal/cronexpr"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Inspect cron expressions offline",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check <expr>",
		Short: "Validate an expression",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr := joinExpr(args)
			if _, err := cronexpr.Parse(expr); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "describe <expr>",
		Short: "Explain an expression in English",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), cronexpr.Describe(joinExpr(args)))
		},
	})

	next := &cobra.Command{
		Use:   "next <expr>",
		Short: "List upcoming trigger times",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			count, _ := cmd.Flags().GetInt("count")
			tz, _ := cmd.Flags().GetString("tz")

			e, err := cronexpr.Parse(joinExpr(args))
			if err != nil {
				return err
			}
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return fmt.Errorf("--tz: %w", err)
			}
			now := time.Now().In(loc)
			if from != "" {
				if now, err = time.ParseInLocation(time.RFC3339, from, loc); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				now = now.In(loc)
			}
			if count < 1 || count > 100 {
				return errors.New("--count must be between 1 and 100")
			}
			for range count {
				now = e.Next(now)
				fmt.Fprintln(cmd.OutOrStdout(), now.Format(time.RFC3339))
			}
			return nil
		},
	}
	next.Flags().String("from", "", "start instant (RFC3339), default now")
	next.Flags().IntP("count", "n", 5, "how many times to list")
	next.Flags().String("tz", "Local", "IANA timezone")
	cmd.AddCommand(next)

	return cmd
}

// joinExpr accepts the expression quoted as one argument or as five.
func joinExpr(args []string) string {
	return strings.Join(strings.Fields(strings.Join(args, " ")), " ")
}
