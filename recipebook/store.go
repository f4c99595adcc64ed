package recipebook

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/grapevine-net/grapevine/gvpeer"
)

// Key layout: locally authored recipes live under one prefix,
// learned recipes under another keyed by the origin they came from.
// A response merge can therefore never overwrite an authored recipe.
const (
	localPrefix  = "l/"
	remotePrefix = "r/"
)

func localKey(id string) []byte {
	return []byte(localPrefix + id)
}

func remoteKey(origin gvpeer.ID, id string) []byte {
	return []byte(remotePrefix + string(origin) + "/" + id)
}

// storedRecipe is the value format under both prefixes.
// Origin is duplicated into the value so reads never parse keys.
type storedRecipe struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Ingredients  []string `json:"ingredients"`
	Instructions string   `json:"instructions"`
	Published    bool     `json:"published"`
	Origin       string   `json:"origin,omitempty"`
}

func (sr storedRecipe) toRecipe() Recipe {
	return Recipe{
		ID:           sr.ID,
		Name:         sr.Name,
		Ingredients:  sr.Ingredients,
		Instructions: sr.Instructions,
		Published:    sr.Published,
		Origin:       gvpeer.ID(sr.Origin),
	}
}

func fromRecipe(r Recipe) storedRecipe {
	return storedRecipe{
		ID:           r.ID,
		Name:         r.Name,
		Ingredients:  r.Ingredients,
		Instructions: r.Instructions,
		Published:    r.Published,
		Origin:       string(r.Origin),
	}
}

// Store is the recipe database.
//
// Store methods are safe for concurrent use;
// Badger provides the transaction isolation.
type Store struct {
	log *slog.Logger

	db *badger.DB
}

type StoreConfig struct {
	// Dir is the directory holding recipe data,
	// so recipes survive process restarts.
	// Empty means a purely in-memory store,
	// for tests and ephemeral nodes.
	Dir string
}

func NewStore(log *slog.Logger, cfg StoreConfig) (*Store, error) {
	var opts badger.Options
	if cfg.Dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Dir)
	}

	// Badger's own logger doesn't fit the slog setup; keep it quiet.
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipe store: %w", err)
	}

	return &Store{log: log, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create stores a new unpublished local recipe and returns it
// with its generated ID.
func (s *Store) Create(name string, ingredients []string, instructions string) (Recipe, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Recipe{}, ValidationError{Reason: "name must not be empty"}
	}

	r := Recipe{
		ID:           uuid.NewString(),
		Name:         name,
		Ingredients:  ingredients,
		Instructions: instructions,
	}

	val, err := json.Marshal(fromRecipe(r))
	if err != nil {
		return Recipe{}, fmt.Errorf("failed to encode recipe: %w", err)
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(localKey(r.ID), val)
	}); err != nil {
		return Recipe{}, fmt.Errorf("failed to store recipe: %w", err)
	}

	return r, nil
}

// Publish marks the local recipe published and returns it.
// Publishing an already-published recipe is a no-op, not an error,
// so the user command stays idempotent.
func (s *Store) Publish(id string) (Recipe, error) {
	var out Recipe

	err := s.db.Update(func(txn *badger.Txn) error {
		key := localKey(id)

		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return NotFoundError{ID: id}
		}
		if err != nil {
			return fmt.Errorf("failed to load recipe: %w", err)
		}

		var sr storedRecipe
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sr)
		}); err != nil {
			return fmt.Errorf("failed to decode stored recipe: %w", err)
		}

		if !sr.Published {
			sr.Published = true

			val, err := json.Marshal(sr)
			if err != nil {
				return fmt.Errorf("failed to encode recipe: %w", err)
			}
			if err := txn.Set(key, val); err != nil {
				return fmt.Errorf("failed to store recipe: %w", err)
			}
		}

		out = sr.toRecipe()
		return nil
	})
	if err != nil {
		return Recipe{}, err
	}

	return out, nil
}

// List returns recipes per the given mode:
// local recipes first, sorted by ID, then for ListAll
// the learned recipes, also sorted by ID.
//
// When the same recipe ID is known both locally and remotely,
// only the local copy is returned.
// Among remote copies of one ID, the lowest origin wins,
// so listings are stable regardless of merge order.
func (s *Store) List(mode ListMode) ([]Recipe, error) {
	var out []Recipe

	err := s.db.View(func(txn *badger.Txn) error {
		local, err := collectPrefix(txn, localPrefix)
		if err != nil {
			return err
		}
		out = local

		if mode == ListLocal {
			return nil
		}

		seen := make(map[string]struct{}, len(local))
		for _, r := range local {
			seen[r.ID] = struct{}{}
		}

		// Key order is (origin, id), so the first copy of an ID
		// we encounter is the one from the lowest origin.
		remote, err := collectPrefix(txn, remotePrefix)
		if err != nil {
			return err
		}

		kept := remote[:0]
		for _, r := range remote {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			kept = append(kept, r)
		}

		slices.SortFunc(kept, func(a, b Recipe) int {
			return strings.Compare(a.ID, b.ID)
		})
		out = append(out, kept...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes (%s): %w", mode, err)
	}

	return out, nil
}

// MergeRemote upserts recipes learned from origin into the remote partition,
// returning how many entries were written.
//
// Entries whose ID collides with a locally authored recipe are skipped;
// a peer must never shadow this node's own recipes.
// Malformed entries are skipped with a warning.
func (s *Store) MergeRemote(origin gvpeer.ID, recipes []Recipe) (int, error) {
	if origin == "" {
		panic(errors.New("BUG: MergeRemote requires a non-empty origin"))
	}

	var added int
	err := s.db.Update(func(txn *badger.Txn) error {
		added = 0

		for _, r := range recipes {
			if r.ID == "" || strings.TrimSpace(r.Name) == "" {
				s.log.Warn(
					"Skipping malformed recipe from peer",
					"origin", origin,
					"id", r.ID,
				)
				continue
			}

			_, err := txn.Get(localKey(r.ID))
			if err == nil {
				// Local recipe with the same ID wins.
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("failed to check local partition: %w", err)
			}

			sr := fromRecipe(r)
			sr.Origin = string(origin)

			val, err := json.Marshal(sr)
			if err != nil {
				return fmt.Errorf("failed to encode recipe: %w", err)
			}
			if err := txn.Set(remoteKey(origin, r.ID), val); err != nil {
				return fmt.Errorf("failed to store recipe: %w", err)
			}

			added++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return added, nil
}

func collectPrefix(txn *badger.Txn, prefix string) ([]Recipe, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)

	it := txn.NewIterator(opts)
	defer it.Close()

	var out []Recipe
	for it.Rewind(); it.Valid(); it.Next() {
		var sr storedRecipe
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &sr)
		})
		if err != nil {
			return nil, fmt.Errorf(
				"failed to decode recipe at key %q: %w", it.Item().Key(), err,
			)
		}

		out = append(out, sr.toRecipe())
	}

	return out, nil
}
