package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
)

func newProgressCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Inspect and reset user progress",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <user-id>",
			Short: "Show a user's progress",
			Args:  cobra.ExactArgs(1),
			RunE:  runProgress(false),
		},
		&cobra.Command{
			Use:   "reset <user-id>",
			Short: "Delete a user's progress",
			Args:  cobra.ExactArgs(1),
			RunE:  runProgress(true),
		},
	)
	return cmd
}

func runProgress(reset bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || userID <= 0 {
			return fmt.Errorf("invalid user id %q", args[0])
		}

		stores, cfg, err := openStores(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = stores.Close() }()

		if reset {
			if err = stores.Progress.Reset(cmd.Context(), userID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Progress reset for user %d\n", userID)
			return nil
		}

		p, err := stores.Progress.Get(cmd.Context(), userID)
		if err != nil {
			return err
		}
		renderProgress(cmd.OutOrStdout(), &p, cfg.Service.RequiredActions)
		return nil
	}
}

func renderProgress(w io.Writer, p *domain.UserProgress, required int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendRows([]table.Row{
		{"User", p.UserID},
		{"Completed", fmt.Sprintf("%d/%d", p.CompletedCount(), required)},
		{"Links", strings.Join(p.CompletedLinkIDs, "\n")},
		{"Purchased", p.Purchased},
		{"Purchase tx", p.PurchaseTxRef},
		{"Task type", p.SelectedTaskType},
		{"Submission", p.CurrentSubmissionID},
		{"Streak", fmt.Sprintf("%d (longest %d)", p.Streak.CurrentStreak, p.Streak.LongestStreak)},
	})
	t.Render()
}
