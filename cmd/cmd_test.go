package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
)

func TestRenderQueue(t *testing.T) {
	created := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)
	records := []domain.LinkRecord{
		{
			ID: "pinned-1", Pinned: true, PinnedSlot: 1, TaskType: domain.TaskRecast,
			Target: domain.TargetRef{URL: "https://example.com/a"}, CreatedAt: created,
		},
		{
			ID: "link-2", TaskType: domain.TaskSupport, SubmitterID: 42, CompletedBy: []int64{1, 2},
			Target: domain.TargetRef{TokenAddress: "0xabc"}, CreatedAt: created,
		},
	}

	var buf bytes.Buffer
	renderQueue(&buf, records, 5)
	out := buf.String()

	assert.Contains(t, out, "pin 1")
	assert.Contains(t, out, "token 0xabc")
	assert.Contains(t, out, "2026-06-01 09:30")
	assert.Contains(t, out, "2/5")
}

func TestRenderProgress(t *testing.T) {
	p := &domain.UserProgress{UserID: 9, CompletedLinkIDs: []string{"a", "b"}, Purchased: true}

	var buf bytes.Buffer
	renderProgress(&buf, p, 5)

	assert.Contains(t, buf.String(), "2/5")
	assert.Contains(t, buf.String(), "true")
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCommand()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "likechat dev\n", buf.String())
}

func TestMigrateCommand_RejectsUnknownDirection(t *testing.T) {
	root := NewRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"migrate", "sideways"})

	assert.Error(t, root.Execute())
}
