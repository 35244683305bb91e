package entity

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Lookups over the persisted instances of a type, as seen by a session's
// transaction. They hold no state of their own.

// extent returns the persisted models of type t in key order.
func extent(ctx context.Context, s *Session, t Type) ([]Model, error) {
	if s.done {
		return nil, ErrTxDone
	}
	recs, err := s.tx.Extent(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("extent %s: %w", t, err)
	}
	models := make([]Model, 0, len(recs))
	for _, rec := range recs {
		m, ok := s.g.nodes[rec.ID]
		if !ok {
			s.g.logger.Warn("stored entity missing from graph", "type", t, "id", rec.ID, "key", rec.SimpleKey)
			continue
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool {
		return models[i].base().key.Compare(models[j].base().key) < 0
	})
	return models, nil
}

// FindAll returns every persisted T of type t matching pred, in key order.
// A nil pred matches everything.
func FindAll[T Model](ctx context.Context, s *Session, t Type, pred func(T) bool) ([]T, error) {
	models, err := extent(ctx, s, t)
	if err != nil {
		return nil, err
	}
	var out []T
	for _, m := range models {
		v, ok := m.(T)
		if !ok {
			continue
		}
		if pred == nil || pred(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Find returns the first persisted T of type t matching pred.
func Find[T Model](ctx context.Context, s *Session, t Type, pred func(T) bool) (T, bool, error) {
	var zero T
	all, err := FindAll(ctx, s, t, pred)
	if err != nil || len(all) == 0 {
		return zero, false, err
	}
	return all[0], true, nil
}

// Read is like Find but returns ErrNotFound when nothing matches.
func Read[T Model](ctx context.Context, s *Session, t Type, pred func(T) bool) (T, error) {
	v, ok, err := Find(ctx, s, t, pred)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, newError(ErrNotFound, t, "", "")
	}
	return v, nil
}

// FindSingleton returns the only persisted T of type t. It fails with
// ErrNotFound when there is none and ErrNotSingleton when there are several.
func FindSingleton[T Model](ctx context.Context, s *Session, t Type) (T, error) {
	var zero T
	all, err := FindAll[T](ctx, s, t, nil)
	if err != nil {
		return zero, err
	}
	switch len(all) {
	case 0:
		return zero, newError(ErrNotFound, t, "", "")
	case 1:
		return all[0], nil
	default:
		return zero, newError(ErrNotSingleton, t, "", "")
	}
}

// FindByKey returns the persisted entity of type t with exactly key.
func FindByKey(ctx context.Context, s *Session, t Type, key Key) (Model, bool, error) {
	models, err := extent(ctx, s, t)
	if err != nil {
		return nil, false, err
	}
	i := sort.Search(len(models), func(i int) bool {
		return models[i].base().key.Compare(key) >= 0
	})
	if i < len(models) && models[i].base().key.Equal(key) {
		return models[i], true, nil
	}
	return nil, false, nil
}

// FindDuplicate returns another persisted entity of m's type whose simple
// key equals m's, ignoring case. Records written through another graph
// count too: when the match is not loaded here, found is true and the
// returned model is nil.
func FindDuplicate(ctx context.Context, s *Session, m Model) (Model, bool, error) {
	rec, found, err := duplicateRecord(ctx, s, m.base())
	if err != nil || !found {
		return nil, found, err
	}
	return s.g.nodes[rec.ID], true, nil
}

// duplicateRecord scans the stored extent of b's type, not just the models
// this graph holds.
func duplicateRecord(ctx context.Context, s *Session, b *Base) (Record, bool, error) {
	if s.done {
		return Record{}, false, ErrTxDone
	}
	recs, err := s.tx.Extent(ctx, b.typ)
	if err != nil {
		return Record{}, false, fmt.Errorf("extent %s: %w", b.typ, err)
	}
	for _, rec := range recs {
		if rec.ID == b.id || !strings.EqualFold(rec.SimpleKey, b.simple) {
			continue
		}
		if _, ok := s.g.nodes[rec.ID]; !ok {
			s.g.logger.Warn("duplicate key held by an entity missing from graph", "type", b.typ, "id", rec.ID, "key", rec.SimpleKey)
		}
		return rec, true, nil
	}
	return Record{}, false, nil
}
