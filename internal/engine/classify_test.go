package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsclarke/beehive/internal/db"
	"github.com/rsclarke/beehive/internal/models"
)

func TestSweepBruteforce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	offsets := []time.Duration{-30 * time.Second, -10 * time.Second, -2 * time.Second}
	for i, off := range offsets {
		id := fmt.Sprintf("d%d", i)
		f.mustIngest(t, models.OriginDecoy, decoy(id, base.Add(off), login("user"+id, "pw"+id, false)))
	}

	require.NoError(t, f.e.Sweep(ctx, 5*time.Second))
	assert.Equal(t, models.ClassBruteforce, f.classification(t, "d0"))
	assert.Equal(t, models.ClassBruteforce, f.classification(t, "d1"))
	assert.Equal(t, models.ClassPending, f.classification(t, "d2"), "still inside the correlation delay")

	f.advance(3 * time.Second)
	require.NoError(t, f.e.Sweep(ctx, 5*time.Second))
	assert.Equal(t, models.ClassBruteforce, f.classification(t, "d2"))

	assert.Equal(t, []string{
		"SESSION d0 bruteforce",
		"SESSION d1 bruteforce",
		"SESSION d2 bruteforce",
	}, f.sink.Events())
}

func TestSweepProbe(t *testing.T) {
	f := newFixture(t, nil)
	p := decoy("d1", base.Add(-time.Minute))
	f.mustIngest(t, models.OriginDecoy, p)

	require.NoError(t, f.e.Sweep(context.Background(), 5*time.Second))
	assert.Equal(t, models.ClassProbe, f.classification(t, "d1"))
}

func TestSweepCredentialsReuse(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.mustIngest(t, models.OriginBait, bait("b1", base.Add(-2*time.Hour), login("alice", "wonder", true)))
	f.mustIngest(t, models.OriginDecoy, decoy("d1", base.Add(-time.Hour),
		login("admin", "admin", false), login("alice", "wonder", true)))
	require.Equal(t, models.ClassPending, f.classification(t, "d1"))

	require.NoError(t, f.e.Sweep(ctx, 5*time.Second))
	assert.Equal(t, models.ClassCredentialsReuse, f.classification(t, "d1"))
}

func TestSweepCredentialsReuseIgnoresSuccessFlag(t *testing.T) {
	f := newFixture(t, nil)
	f.mustIngest(t, models.OriginBait, bait("b1", base.Add(-2*time.Hour), login("alice", "wonder", true)))
	f.mustIngest(t, models.OriginDecoy, decoy("d1", base.Add(-time.Hour), login("alice", "wonder", false)))

	require.NoError(t, f.e.Sweep(context.Background(), 5*time.Second))
	assert.Equal(t, models.ClassCredentialsReuse, f.classification(t, "d1"))
}

func TestSweepMITM(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.mustIngest(t, models.OriginBait, bait("b1", base, login("u", "p", true)))
	incomplete := bait("b2", base, login("u", "p", true))
	incomplete.DidComplete = false
	f.mustIngest(t, models.OriginBait, incomplete)

	require.NoError(t, f.e.Sweep(ctx, 5*time.Second))
	assert.Equal(t, models.ClassPending, f.classification(t, "b1"))

	f.advance(6 * time.Second)
	require.NoError(t, f.e.Sweep(ctx, 5*time.Second))
	assert.Equal(t, models.ClassMITM, f.classification(t, "b1"))
	assert.Equal(t, models.ClassPending, f.classification(t, "b2"), "incomplete bait sessions are never mitm")
}

func TestSweepUsesReceivedTimeForBait(t *testing.T) {
	f := newFixture(t, nil)

	// An old timestamp does not matter; the session only just arrived.
	f.mustIngest(t, models.OriginBait, bait("b1", base.Add(-time.Hour), login("u", "p", true)))
	require.NoError(t, f.e.Sweep(context.Background(), 5*time.Second))
	assert.Equal(t, models.ClassPending, f.classification(t, "b1"))
}

func TestSweepIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.mustIngest(t, models.OriginDecoy, decoy("d1", base.Add(-time.Minute), login("a", "b", false)))

	require.NoError(t, f.e.Sweep(ctx, 5*time.Second))
	require.NoError(t, f.e.Sweep(ctx, 5*time.Second))
	f.advance(time.Hour)
	require.NoError(t, f.e.Sweep(ctx, 5*time.Second))

	assert.Equal(t, []string{"SESSION d1 bruteforce"}, f.sink.Events())
}

func TestSweepNeverReclassifies(t *testing.T) {
	f := newFixture(t, nil)
	f.mustIngest(t, models.OriginBait, bait("b1", base.Add(-time.Minute), login("u", "p", true)))
	f.mustIngest(t, models.OriginDecoy, decoy("d1", base.Add(-time.Minute), login("u", "p", true)))
	require.Equal(t, models.ClassBaitSession, f.classification(t, "b1"))

	f.advance(time.Hour)
	require.NoError(t, f.e.Sweep(context.Background(), 5*time.Second))
	assert.Equal(t, models.ClassBaitSession, f.classification(t, "b1"))
}

func TestRunMaintenance(t *testing.T) {
	f := newFixture(t, nil)
	day := 24 * time.Hour

	f.mustIngest(t, models.OriginBait, bait("old-bait", base.Add(-3*day), login("u", "p", true)))
	f.mustIngest(t, models.OriginDecoy, decoy("old-decoy", base.Add(-3*day), login("u", "p", true)))
	f.mustIngest(t, models.OriginBait, bait("new-bait", base.Add(-day), login("x", "y", true)))
	f.mustIngest(t, models.OriginDecoy, decoy("new-decoy", base.Add(-day), login("x", "y", true)))
	f.mustIngest(t, models.OriginDecoy, decoy("old-attack", base.Add(-3*day), login("q", "r", false)))
	f.mustIngest(t, models.OriginDecoy, decoy("ancient-attack", base.Add(-200*day), login("s", "t", false)))
	require.NoError(t, f.e.Sweep(context.Background(), 5*time.Second))

	deletedBait, deletedMalicious, err := f.e.RunMaintenance(2, 100)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deletedBait)
	assert.EqualValues(t, 1, deletedMalicious)

	assert.Nil(t, f.session(t, "old-bait"))
	assert.NotNil(t, f.session(t, "new-bait"))
	assert.NotNil(t, f.session(t, "old-attack"))
	assert.Nil(t, f.session(t, "ancient-attack"))

	n, err := db.CountSessions(f.db)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
