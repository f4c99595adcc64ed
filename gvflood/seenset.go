package gvflood

import (
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/grapevine-net/grapevine/gvpeer"
)

// DefaultWindowBits is how many recent sequence numbers per origin
// a SeenSet distinguishes unless configured otherwise.
const DefaultWindowBits = 1024

// SeenSet tracks which (origin, sequence) pairs have already been observed,
// so the router can discard duplicate copies of flooded messages.
//
// Per origin it keeps the highest observed sequence
// and a fixed-size bit window over the sequences just below it.
// Sequences older than the window are reported as seen:
// wrongly dropping an ancient straggler is harmless,
// while unbounded per-origin state is not.
//
// All methods must be called from a single goroutine.
type SeenSet struct {
	windowBits uint

	origins map[gvpeer.ID]*originWindow
}

type originWindow struct {
	// The highest sequence observed from this origin.
	highest uint64

	// Bit d set means sequence (highest - d) was observed.
	// Bit 0 is always set.
	recent *bitset.BitSet

	lastActive time.Time
}

type SeenSetConfig struct {
	// WindowBits is the per-origin window size in sequence numbers.
	// Zero means DefaultWindowBits.
	WindowBits uint
}

func NewSeenSet(cfg SeenSetConfig) *SeenSet {
	bits := cfg.WindowBits
	if bits == 0 {
		bits = DefaultWindowBits
	}

	return &SeenSet{
		windowBits: bits,

		origins: map[gvpeer.ID]*originWindow{},
	}
}

// Observe records that a message from origin with the given sequence
// was seen at now, and reports whether it was fresh.
//
// Fresh means the pair had not been observed before
// and was still within the origin's window.
func (s *SeenSet) Observe(origin gvpeer.ID, seq uint64, now time.Time) (fresh bool) {
	w, ok := s.origins[origin]
	if !ok {
		w = &originWindow{
			highest:    seq,
			recent:     bitset.MustNew(s.windowBits),
			lastActive: now,
		}
		w.recent.Set(0)
		s.origins[origin] = w
		return true
	}

	// Duplicates also count as activity;
	// an origin is idle only when nothing arrives at all.
	w.lastActive = now

	switch {
	case seq > w.highest:
		w.slide(s.windowBits, seq-w.highest)
		w.highest = seq
		w.recent.Set(0)
		return true

	case w.highest-seq >= uint64(s.windowBits):
		// Too old to distinguish from a replay.
		return false

	default:
		d := uint(w.highest - seq)
		if w.recent.Test(d) {
			return false
		}
		w.recent.Set(d)
		return true
	}
}

// slide moves the window forward by delta sequence positions,
// discarding bits that fall off the old end.
func (w *originWindow) slide(windowBits uint, delta uint64) {
	if delta >= uint64(windowBits) {
		w.recent.ClearAll()
		return
	}

	shifted := bitset.MustNew(windowBits)
	for d, ok := w.recent.NextSet(0); ok; d, ok = w.recent.NextSet(d + 1) {
		nd := d + uint(delta)
		if nd >= windowBits {
			// NextSet ascends, so every remaining bit also falls off.
			break
		}
		shifted.Set(nd)
	}
	w.recent = shifted
}

// PruneIdle drops all state for origins with no observations
// within retention before now, returning how many were dropped.
//
// After an origin is pruned, an old message from it would be
// treated as fresh again; the retention period therefore needs to be
// much longer than any plausible redelivery delay on a local network.
func (s *SeenSet) PruneIdle(now time.Time, retention time.Duration) int {
	var n int
	for origin, w := range s.origins {
		if now.Sub(w.lastActive) <= retention {
			continue
		}

		delete(s.origins, origin)
		n++
	}
	return n
}

// Origins returns how many origins currently have window state.
func (s *SeenSet) Origins() int {
	return len(s.origins)
}
