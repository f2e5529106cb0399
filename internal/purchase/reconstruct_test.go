package purchase_test

import (
	"context"
	"testing"

	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
	"github.com/jonesrussell/north-cloud/likechat/internal/purchase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenRecord(addr string) domain.LinkRecord {
	return domain.LinkRecord{Target: domain.TargetRef{TokenAddress: addr}, TaskType: domain.TaskSupport}
}

func TestReconstruct(t *testing.T) {
	fc := newFakeChain()
	fc.setBalance("0xA", 1)
	fc.setBalance("0xB", 5)
	fc.setBalance("0xC", 0)
	fc.balanceErr["0xd"] = domain.ErrUpstreamUnavailable

	records := []domain.LinkRecord{
		tokenRecord("0xA"),
		tokenRecord("0xa"),
		tokenRecord("0xB"),
		tokenRecord("0xC"),
		tokenRecord("0xD"),
		{Target: domain.TargetRef{URL: "https://no-token"}},
	}

	got := purchase.Reconstruct(context.Background(), fc, wallet, records, 3)

	assert.Equal(t, 2, got.Count)
	assert.Equal(t, 4, got.Checked)
	assert.Equal(t, 1, got.Failed)
	assert.False(t, got.Met)
	require.ErrorIs(t, got.Err, domain.ErrUpstreamUnavailable)
}

func TestReconstruct_NilBalanceCountsAsFailure(t *testing.T) {
	fc := newFakeChain()
	fc.setNilBalance("0xA")
	fc.setBalance("0xB", 2)

	got := purchase.Reconstruct(context.Background(), fc, wallet, []domain.LinkRecord{tokenRecord("0xA"), tokenRecord("0xB")}, 2)

	assert.Equal(t, 1, got.Count)
	assert.Equal(t, 1, got.Failed)
	require.ErrorIs(t, got.Err, purchase.ErrNoBalance)
}

func TestReconstruct_StopsOnceThresholdMet(t *testing.T) {
	fc := newFakeChain()
	fc.setBalance("0xA", 1)
	fc.setBalance("0xB", 1)

	got := purchase.Reconstruct(context.Background(), fc, wallet,
		[]domain.LinkRecord{tokenRecord("0xA"), tokenRecord("0xB"), tokenRecord("0xC")}, 2)

	assert.True(t, got.Met)
	assert.Equal(t, 2, got.Checked)
	require.NoError(t, got.Err)
}

func TestReconstruct_NoWallet(t *testing.T) {
	got := purchase.Reconstruct(context.Background(), newFakeChain(), "", []domain.LinkRecord{tokenRecord("0xA")}, 1)
	assert.False(t, got.Met)
	assert.Zero(t, got.Checked)
}
