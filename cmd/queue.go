package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
)

const timeLayout = "2006-01-02 15:04"

func newQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the submission queue",
	}
	cmd.AddCommand(newQueueListCommand(), newQueueRemoveCommand())
	return cmd
}

func newQueueListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every queued link in storage order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stores, _, err := openStores(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = stores.Close() }()

			records, err := stores.Queue.All(cmd.Context())
			if err != nil {
				return err
			}
			renderQueue(cmd.OutOrStdout(), records, stores.Queue.Capacity())
			return nil
		},
	}
}

func newQueueRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <link-id>",
		Short: "Remove a queued link, pinned or not",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, _, err := openStores(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = stores.Close() }()

			if err = stores.Queue.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}

func renderQueue(w io.Writer, records []domain.LinkRecord, capacity int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Slot", "Task", "Target", "Submitter", "Done", "Created"})

	for i := range records {
		rec := &records[i]
		slot := "-"
		if rec.Pinned {
			slot = fmt.Sprintf("pin %d", rec.PinnedSlot)
		}
		t.AppendRow(table.Row{
			rec.ID,
			slot,
			rec.TaskType,
			targetLabel(rec.Target),
			rec.SubmitterID,
			len(rec.CompletedBy),
			rec.CreatedAt.UTC().Format(timeLayout),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", fmt.Sprintf("%d/%d", len(records), capacity)})
	t.Render()
}

func targetLabel(ref domain.TargetRef) string {
	parts := make([]string, 0, 3)
	if ref.URL != "" {
		parts = append(parts, ref.URL)
	}
	if ref.ContentHash != "" {
		parts = append(parts, "hash "+ref.ContentHash)
	}
	if ref.TokenAddress != "" {
		parts = append(parts, "token "+ref.TokenAddress)
	}
	return strings.Join(parts, "\n")
}
