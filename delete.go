package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/EasterCompany/dex-triage-service/internal/store"
	"github.com/EasterCompany/dex-triage-service/utils"
)

var assumeYes bool

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and delete recorded triage tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded tasks, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, s *store.Store) error {
			return listTasks(ctx, s, cmd.OutOrStdout())
		})
	},
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete <pattern> [pattern...]",
	Short: "Delete tasks whose ID matches a glob pattern",
	Example: `  dex-triage-service tasks delete '*'            # Delete all tasks
  dex-triage-service tasks delete '9b2f*'        # Delete all starting with 9b2f
  dex-triage-service tasks delete '*abc*' '*def*'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, s *store.Store) error {
			return deleteTasks(ctx, s, args, cmd.InOrStdin(), cmd.OutOrStdout(), assumeYes)
		})
	},
}

func init() {
	tasksDeleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "delete without asking for confirmation")
	tasksCmd.AddCommand(tasksListCmd, tasksDeleteCmd)
}

func withStore(fn func(ctx context.Context, s *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := utils.GetRedisClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Warn("failed to close Redis connection", "error", err)
		}
	}()
	return fn(ctx, store.New(client, cfg.Redis.TTL))
}

func listTasks(ctx context.Context, s *store.Store, out io.Writer) error {
	tasks, err := s.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to fetch tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks found")
		return nil
	}

	fmt.Fprintf(out, "Total tasks: %d\n\n", len(tasks))
	for i, t := range tasks {
		created := time.Unix(t.CreatedAt, 0).Format(time.DateTime)
		fmt.Fprintf(out, "%4d. %s  [%s] %-9s %s  %s\n", i+1, t.ID, t.Source, t.Status, created, preview(t.Event, 60))
	}
	return nil
}

func deleteTasks(ctx context.Context, s *store.Store, patterns []string, in io.Reader, out io.Writer, yes bool) error {
	ids, err := s.IDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch task IDs: %w", err)
	}

	var matching []string
	for _, id := range ids {
		if store.MatchesAnyPattern(id, patterns) {
			matching = append(matching, id)
		}
	}
	if len(matching) == 0 {
		fmt.Fprintf(out, "No tasks matched the patterns: %v\n", patterns)
		return nil
	}

	if !yes {
		fmt.Fprintf(out, "\nWARNING: About to delete %d task(s):\n", len(matching))
		shown := matching
		if len(shown) > 10 {
			shown = shown[:5]
		}
		for _, id := range shown {
			fmt.Fprintf(out, "  - %s\n", id)
		}
		if len(shown) < len(matching) {
			fmt.Fprintf(out, "  ... and %d more\n", len(matching)-len(shown))
		}
		fmt.Fprint(out, "\nThis action CANNOT be undone.\nType 'yes' to confirm deletion: ")

		answer, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if strings.TrimSpace(answer) != "yes" {
			fmt.Fprintln(out, "Deletion cancelled")
			return nil
		}
	}

	deleted := 0
	for _, id := range matching {
		if err := s.Delete(ctx, id); err != nil {
			fmt.Fprintf(out, "Error deleting task %s: %v\n", id, err)
			continue
		}
		deleted++
	}
	fmt.Fprintf(out, "Deleted %d out of %d tasks\n", deleted, len(matching))
	return nil
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

