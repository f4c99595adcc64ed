package gvpeer

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// Table is the set of peers the local node currently believes to be live.
//
// All methods must be called from a single goroutine.
type Table struct {
	log *slog.Logger

	localID ID

	byID map[ID]Record
}

type TableConfig struct {
	// LocalID is the owning node's own ID.
	// The table rejects upserts for this ID,
	// since a node never tracks itself as a peer.
	LocalID ID
}

func NewTable(log *slog.Logger, cfg TableConfig) *Table {
	if cfg.LocalID == "" {
		panic(errors.New("BUG: TableConfig.LocalID must not be empty"))
	}

	return &Table{
		log: log,

		localID: cfg.LocalID,

		// Not pre-sizing; local networks are small.
		byID: map[ID]Record{},
	}
}

// Upsert records a sighting of the given peer,
// replacing any prior record wholly
// so that changed addresses or names take effect immediately.
// It reports whether the peer was previously unknown.
//
// Upsert panics if the record carries the local node's own ID;
// the caller is expected to have filtered self-sightings already.
func (t *Table) Upsert(r Record) (isNew bool) {
	if r.ID == "" {
		panic(errors.New("BUG: attempted to upsert record with empty ID"))
	}
	if r.ID == t.localID {
		panic(fmt.Errorf(
			"BUG: attempted to upsert local node %q into its own peer table", r.ID,
		))
	}

	_, had := t.byID[r.ID]
	t.byID[r.ID] = r
	return !had
}

// Touch refreshes LastSeen for the given peer,
// reporting whether the peer was known.
//
// Any received traffic proves liveness,
// so callers touch the table on message receipt too,
// not only on discovery announcements.
func (t *Table) Touch(id ID, now time.Time) bool {
	r, ok := t.byID[id]
	if !ok {
		return false
	}

	r.LastSeen = now
	t.byID[id] = r
	return true
}

// Get returns the record for the given peer, if known.
func (t *Table) Get(id ID) (Record, bool) {
	r, ok := t.byID[id]
	return r, ok
}

// Len returns the number of live peers.
func (t *Table) Len() int {
	return len(t.byID)
}

// All returns every live record, sorted by ID
// so that listings are stable across calls.
func (t *Table) All() []Record {
	out := make([]Record, 0, len(t.byID))
	for _, r := range t.byID {
		out = append(out, r)
	}
	sortRecords(out)
	return out
}

// Expire removes every peer whose LastSeen is older than timeout
// relative to now, returning the removed records sorted by ID.
//
// A peer seen exactly timeout ago is retained;
// only strictly older entries are dropped.
func (t *Table) Expire(now time.Time, timeout time.Duration) []Record {
	var removed []Record
	for id, r := range t.byID {
		if now.Sub(r.LastSeen) <= timeout {
			continue
		}

		delete(t.byID, id)
		removed = append(removed, r)
	}

	sortRecords(removed)
	return removed
}

func sortRecords(rs []Record) {
	slices.SortFunc(rs, func(a, b Record) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
}
