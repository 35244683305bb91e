// Package memstore provides an in-memory transactional backend for the
// entity graph. It is the reference backend for tests and for running
// without a database.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/jacentio/setlist/entity"
)

// ErrTxDone is returned when using a transaction after Commit or Abort.
var ErrTxDone = errors.New("memstore: transaction already finished")

// Compile-time contract assertion.
var _ entity.Backend = (*Store)(nil)

// Store holds committed records in memory. One read-write transaction may
// be open at a time; it holds the writer lock until Commit or Abort.
type Store struct {
	mu      sync.RWMutex
	records map[entity.ID]entity.Record
}

// New creates an empty Store.
func New() *Store {
	return &Store{records: make(map[entity.ID]entity.Record)}
}

// Len returns the number of committed records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns a copy of the committed records, ordered by type then ID.
func (s *Store) Snapshot() []entity.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, cloneRecord(rec))
	}
	sortRecords(out)
	return out
}

// Begin starts a transaction. ReadWrite transactions block until no other
// transaction is open.
func (s *Store) Begin(ctx context.Context, mode entity.Mode) (entity.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if mode == entity.ReadWrite {
		s.mu.Lock()
	} else {
		s.mu.RLock()
	}
	return &tx{store: s, mode: mode, pending: make(map[entity.ID]*entity.Record)}, nil
}

type tx struct {
	store   *Store
	mode    entity.Mode
	pending map[entity.ID]*entity.Record // nil value = deleted
	done    bool
}

func (t *tx) Put(_ context.Context, rec entity.Record) error {
	if t.done {
		return ErrTxDone
	}
	if t.mode != entity.ReadWrite {
		return entity.ErrReadOnly
	}
	r := cloneRecord(rec)
	t.pending[rec.ID] = &r
	return nil
}

func (t *tx) Delete(_ context.Context, id entity.ID) error {
	if t.done {
		return ErrTxDone
	}
	if t.mode != entity.ReadWrite {
		return entity.ErrReadOnly
	}
	t.pending[id] = nil
	return nil
}

func (t *tx) Extent(_ context.Context, typ entity.Type) ([]entity.Record, error) {
	if t.done {
		return nil, ErrTxDone
	}
	var out []entity.Record
	for id, rec := range t.store.records {
		if rec.Type != typ {
			continue
		}
		if _, ok := t.pending[id]; ok {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	for _, rec := range t.pending {
		if rec != nil && rec.Type == typ {
			out = append(out, cloneRecord(*rec))
		}
	}
	sortRecords(out)
	return out, nil
}

func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if t.mode != entity.ReadWrite {
		t.store.mu.RUnlock()
		return nil
	}
	for id, rec := range t.pending {
		if rec == nil {
			delete(t.store.records, id)
			continue
		}
		t.store.records[id] = *rec
	}
	t.store.mu.Unlock()
	return nil
}

func (t *tx) Abort(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if t.mode != entity.ReadWrite {
		t.store.mu.RUnlock()
		return nil
	}
	t.store.mu.Unlock()
	return nil
}

func cloneRecord(rec entity.Record) entity.Record {
	out := rec
	if rec.Parents != nil {
		out.Parents = make(map[entity.Type]entity.ID, len(rec.Parents))
		for k, v := range rec.Parents {
			out.Parents[k] = v
		}
	}
	if rec.Attrs != nil {
		out.Attrs = make(map[string]string, len(rec.Attrs))
		for k, v := range rec.Attrs {
			out.Attrs[k] = v
		}
	}
	return out
}

func sortRecords(recs []entity.Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Type != recs[j].Type {
			return recs[i].Type < recs[j].Type
		}
		return recs[i].ID.String() < recs[j].ID.String()
	})
}
