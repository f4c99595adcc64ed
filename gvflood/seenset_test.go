package gvflood_test

import (
	"testing"
	"time"

	"github.com/grapevine-net/grapevine/gvflood"
	"github.com/stretchr/testify/require"
)

func TestSeenSet_duplicateIsNotFresh(t *testing.T) {
	t.Parallel()

	s := gvflood.NewSeenSet(gvflood.SeenSetConfig{})
	now := time.Now()

	require.True(t, s.Observe("a", 1, now))
	require.False(t, s.Observe("a", 1, now))
	require.False(t, s.Observe("a", 1, now.Add(time.Second)))
}

func TestSeenSet_outOfOrderWithinWindow(t *testing.T) {
	t.Parallel()

	s := gvflood.NewSeenSet(gvflood.SeenSetConfig{WindowBits: 16})
	now := time.Now()

	require.True(t, s.Observe("a", 10, now))
	require.True(t, s.Observe("a", 7, now))
	require.True(t, s.Observe("a", 9, now))

	// Re-observing any of them is a duplicate.
	require.False(t, s.Observe("a", 10, now))
	require.False(t, s.Observe("a", 7, now))
	require.False(t, s.Observe("a", 9, now))

	// A gap that was never observed is still fresh.
	require.True(t, s.Observe("a", 8, now))
}

func TestSeenSet_olderThanWindowIsSeen(t *testing.T) {
	t.Parallel()

	s := gvflood.NewSeenSet(gvflood.SeenSetConfig{WindowBits: 16})
	now := time.Now()

	require.True(t, s.Observe("a", 100, now))

	// The window reaches back to 85; 84 and below report seen
	// even though they never arrived.
	require.False(t, s.Observe("a", 84, now))
	require.False(t, s.Observe("a", 1, now))

	// One inside the window is fine.
	require.True(t, s.Observe("a", 85, now))
}

func TestSeenSet_windowSlides(t *testing.T) {
	t.Parallel()

	s := gvflood.NewSeenSet(gvflood.SeenSetConfig{WindowBits: 8})
	now := time.Now()

	require.True(t, s.Observe("a", 10, now))
	require.True(t, s.Observe("a", 8, now))

	// Highest advances by 4: 10 and 8 stay inside the window.
	require.True(t, s.Observe("a", 14, now))
	require.False(t, s.Observe("a", 10, now))
	require.False(t, s.Observe("a", 8, now))

	// 9 was never observed and is still within reach.
	require.True(t, s.Observe("a", 9, now))

	// 14-8=6 slid out of reach, so it reports seen.
	require.False(t, s.Observe("a", 6, now))
}

func TestSeenSet_largeJumpKeepsOnlyNewHighest(t *testing.T) {
	t.Parallel()

	s := gvflood.NewSeenSet(gvflood.SeenSetConfig{WindowBits: 8})
	now := time.Now()

	require.True(t, s.Observe("a", 5, now))
	require.True(t, s.Observe("a", 500, now))

	// Inside the new window, unobserved sequences are fresh.
	require.True(t, s.Observe("a", 499, now))
	require.True(t, s.Observe("a", 496, now))

	// The new highest itself is seen.
	require.False(t, s.Observe("a", 500, now))
}

func TestSeenSet_originsIndependent(t *testing.T) {
	t.Parallel()

	s := gvflood.NewSeenSet(gvflood.SeenSetConfig{})
	now := time.Now()

	require.True(t, s.Observe("a", 1, now))
	require.True(t, s.Observe("b", 1, now))
	require.False(t, s.Observe("a", 1, now))
	require.False(t, s.Observe("b", 1, now))

	require.Equal(t, 2, s.Origins())
}

func TestSeenSet_pruneIdle(t *testing.T) {
	t.Parallel()

	s := gvflood.NewSeenSet(gvflood.SeenSetConfig{})
	start := time.Now()
	const retention = 10 * time.Minute

	s.Observe("idle", 1, start)
	s.Observe("busy", 1, start)

	// Traffic from busy keeps it alive, duplicates included.
	mid := start.Add(8 * time.Minute)
	require.False(t, s.Observe("busy", 1, mid))

	later := start.Add(retention + time.Minute)
	require.Equal(t, 1, s.PruneIdle(later, retention))
	require.Equal(t, 1, s.Origins())

	// The pruned origin starts over: its old message is fresh again.
	require.True(t, s.Observe("idle", 1, later))
}
