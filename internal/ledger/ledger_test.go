package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claimline/internal/domain"
	"claimline/internal/store"
)

func testLedger() (*Ledger, *store.Memory) {
	mem := store.NewMemory()
	l := New(mem)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tick := 0
	l.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return l, mem
}

func TestAppendLinksChain(t *testing.T) {
	l, _ := testLedger()
	ctx := context.Background()

	first, err := l.Append(ctx, "claim-1", domain.StageFNOLSubmitted, domain.EventClaimSubmitted, map[string]any{"policy_number": "POL-1"})
	require.NoError(t, err)
	assert.Empty(t, first.PrevHash)
	assert.NotEmpty(t, first.Hash)

	second, err := l.Append(ctx, "claim-1", domain.StageFNOLSubmitted, domain.EventStageStarted, map[string]any{"agent": "front_desk"})
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.PrevHash)

	require.NoError(t, l.Verify(ctx, "claim-1"))
}

func TestChainsAreClaimScoped(t *testing.T) {
	l, _ := testLedger()
	ctx := context.Background()

	a, err := l.Append(ctx, "claim-a", domain.StageFNOLSubmitted, domain.EventClaimSubmitted, nil)
	require.NoError(t, err)
	b, err := l.Append(ctx, "claim-b", domain.StageFNOLSubmitted, domain.EventClaimSubmitted, nil)
	require.NoError(t, err)
	assert.Empty(t, a.PrevHash)
	assert.Empty(t, b.PrevHash)
}

func TestVerifyDetectsTamperedPayload(t *testing.T) {
	l, mem := testLedger()
	ctx := context.Background()

	_, err := l.Append(ctx, "claim-1", domain.StageFNOLSubmitted, domain.EventClaimSubmitted, map[string]any{"policy_number": "POL-1"})
	require.NoError(t, err)
	_, err = l.Append(ctx, "claim-1", domain.StageFrontdeskDone, domain.EventStageCompleted, map[string]any{"agent": "front_desk"})
	require.NoError(t, err)

	events, err := mem.GetEvents(ctx, "claim-1")
	require.NoError(t, err)
	events[0].Data["policy_number"] = "POL-FORGED"

	err = VerifyEvents(events)
	assert.ErrorIs(t, err, ErrChainBroken)
}

func TestVerifyDetectsBrokenLinkage(t *testing.T) {
	l, mem := testLedger()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, "claim-1", domain.StageFNOLSubmitted, domain.EventStageStarted, map[string]any{"i": i})
		require.NoError(t, err)
	}
	events, err := mem.GetEvents(ctx, "claim-1")
	require.NoError(t, err)
	events[1].PrevHash = "0000000000000000000000000000000000000000000000000000000000000000"

	err = VerifyEvents(events)
	assert.ErrorIs(t, err, ErrChainBroken)
}

func TestComputeEventHashDeterministic(t *testing.T) {
	ev := domain.ClaimEvent{
		ClaimID:   "claim-1",
		EventKey:  "2026-03-02T09:00:01.000000000Z#FNOL_SUBMITTED#deadbeef",
		CreatedAt: "2026-03-02T09:00:01Z",
		Stage:     domain.StageFNOLSubmitted,
		Type:      domain.EventClaimSubmitted,
		Data:      map[string]any{"b": 2, "a": "x"},
	}
	h1, err := ComputeEventHash(ev)
	require.NoError(t, err)
	h2, err := ComputeEventHash(ev)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	// prev_hash participates in the digest.
	ev.PrevHash = h1
	h3, err := ComputeEventHash(ev)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestEventKeyOrdering(t *testing.T) {
	t1 := time.Date(2026, 3, 2, 9, 0, 1, 5, time.UTC)
	t2 := time.Date(2026, 3, 2, 9, 0, 2, 0, time.UTC)
	k1 := EventKey(t1, domain.StageFNOLSubmitted)
	k2 := EventKey(t2, domain.StageFNOLSubmitted)
	assert.Less(t, k1, k2)

	// Same instant stays unique via the random suffix.
	assert.NotEqual(t, EventKey(t1, domain.StageFNOLSubmitted), EventKey(t1, domain.StageFNOLSubmitted))
}
