package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"terraintake/internal/config"
	"terraintake/internal/domain"
	"terraintake/internal/notification"

	"github.com/spf13/cobra"
)

func newDrainCmd(open opener, load func() (*config.Config, error)) *cobra.Command {
	var (
		batch  int
		apiURL string
	)

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Deliver one batch of pending messages",
		Long: "Runs a single drain pass. By default the pass runs in this process and is not coordinated " +
			"with the API's scheduler, so stop the API or pass --api while it is running. " +
			"With --api the drain is requested from the running server and shares its overlap guard.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL != "" {
				cfg, err := load()
				if err != nil {
					return err
				}
				result, skipped, err := remoteDrain(cmd.Context(), apiURL, cfg.Auth.SecretKey)
				if err != nil {
					return err
				}
				printDrain(cmd.OutOrStdout(), result, !skipped)
				return nil
			}

			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			if batch <= 0 {
				batch = e.cfg.Notification.BatchSize
			}
			result, ran, err := e.queue.TriggerDrain(cmd.Context(), batch)
			if err != nil {
				return err
			}
			printDrain(cmd.OutOrStdout(), result, ran)
			return nil
		},
	}

	cmd.Flags().IntVar(&batch, "batch", 0, "messages per drain (defaults to QUEUE_BATCH_SIZE)")
	cmd.Flags().StringVar(&apiURL, "api", "", "base URL of a running API to drain through, e.g. http://localhost:8000")
	return cmd
}

func printDrain(out io.Writer, result notification.DrainResult, ran bool) {
	if !ran {
		fmt.Fprintln(out, "drain skipped: already running")
		return
	}
	fmt.Fprintf(out, "processed=%d succeeded=%d failed=%d\n", result.Processed, result.Succeeded, result.Failed)
}

func newRetryCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <message-id>",
		Short: "Make one delivery attempt for a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			result, err := e.queue.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s attempts=%d\n", result.MessageID, result.Status, result.Attempts)
			if result.Error != "" {
				fmt.Fprintf(out, "error: %s\n", result.Error)
			}
			return nil
		},
	}
}

func newStatsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			stats, err := e.queue.Stats(cmd.Context())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func printStats(out io.Writer, s notification.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Total:\t%d\n", s.Total)
	fmt.Fprintf(w, "Pending:\t%d\n", s.Pending)
	fmt.Fprintf(w, "Sent:\t%d\n", s.Sent)
	fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	fmt.Fprintf(w, "Dead:\t%d\n", s.Dead)
	fmt.Fprintf(w, "Success rate:\t%d%%\n", s.SuccessRate)
	_ = w.Flush()
}

func newListCmd(open opener) *cobra.Command {
	var (
		status string
		page   int
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued messages, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := notification.ListFilter{Page: page, Limit: limit}
			if status != "" {
				parsed, err := domain.ParseMessageStatus(status)
				if err != nil {
					return err
				}
				filter.Status = parsed
			}

			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			msgs, total, err := e.queue.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			printMessages(cmd.OutOrStdout(), msgs, total)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, sent, failed)")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 20, "messages per page")
	return cmd
}

func printMessages(out io.Writer, msgs []domain.NotificationMessage, total int64) {
	if len(msgs) == 0 {
		fmt.Fprintln(out, "No messages found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tATTEMPTS\tTO\tSUBJECT\tCREATED")
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			m.ID, m.Status, m.Attempts, m.To, truncate(m.Subject, 48), m.CreatedAt.UTC().Format(time.RFC3339))
	}
	_ = w.Flush()
	fmt.Fprintf(out, "\n%d of %d messages\n", len(msgs), total)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
