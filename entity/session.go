package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Mode selects a read-only or read-write transaction.
type Mode int

const (
	// ReadOnly transactions only read.
	ReadOnly Mode = iota
	// ReadWrite transactions may persist and unpersist.
	ReadWrite
)

// Backend is the persistent store the graph is written through.
type Backend interface {
	// Begin starts a transaction. A store allows at most one ReadWrite
	// transaction at a time.
	Begin(ctx context.Context, mode Mode) (Tx, error)
}

// Tx is a store transaction. Reads observe the transaction's own writes.
type Tx interface {
	// Put stores rec, replacing any record with the same ID.
	Put(ctx context.Context, rec Record) error

	// Delete removes the record with the given ID.
	Delete(ctx context.Context, id ID) error

	// Extent returns every stored record of type t.
	Extent(ctx context.Context, t Type) ([]Record, error)

	// Commit makes the transaction's writes durable.
	Commit(ctx context.Context) error

	// Abort discards the transaction's writes.
	Abort(ctx context.Context) error
}

// Session binds a Graph to one store transaction. Persist and Unpersist run
// the graph's validation hooks before anything reaches the store.
type Session struct {
	g       *Graph
	backend Backend
	tx      Tx
	mode    Mode
	done    bool
}

// Begin starts a session on backend.
func (g *Graph) Begin(ctx context.Context, backend Backend, mode Mode) (*Session, error) {
	tx, err := backend.Begin(ctx, mode)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Session{g: g, backend: backend, tx: tx, mode: mode}, nil
}

// Update runs fn in a read-write session. The session is committed if fn
// returns nil and aborted otherwise.
func (g *Graph) Update(ctx context.Context, backend Backend, fn func(*Session) error) error {
	s, err := g.Begin(ctx, backend, ReadWrite)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		if aerr := s.Abort(ctx); aerr != nil {
			return errors.Join(err, aerr)
		}
		return err
	}
	return s.Commit(ctx)
}

// View runs fn in a read-only session. Do not call it from inside Update:
// single-writer backends block readers while the writer is open.
func (g *Graph) View(ctx context.Context, backend Backend, fn func(*Session) error) error {
	s, err := g.Begin(ctx, backend, ReadOnly)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		_ = s.Abort(ctx)
		return err
	}
	return s.Commit(ctx)
}

// Graph returns the session's graph.
func (s *Session) Graph() *Graph {
	return s.g
}

// Mode returns the session's mode.
func (s *Session) Mode() Mode {
	return s.mode
}

// Commit commits the store transaction. If the store rejects the commit the
// graph is reloaded from the store's committed state.
func (s *Session) Commit(ctx context.Context) error {
	if s.done {
		return ErrTxDone
	}
	s.done = true
	if err := s.tx.Commit(ctx); err != nil {
		if s.mode == ReadWrite {
			if lerr := s.g.Load(ctx, s.backend); lerr != nil {
				return errors.Join(err, lerr)
			}
		}
		return err
	}
	return nil
}

// Abort discards the store transaction. For read-write sessions the graph
// is then reloaded from committed state, which invalidates every model
// obtained earlier; look entities up again afterwards.
func (s *Session) Abort(ctx context.Context) error {
	if s.done {
		return ErrTxDone
	}
	s.done = true
	if err := s.tx.Abort(ctx); err != nil {
		return fmt.Errorf("abort: %w", err)
	}
	if s.mode == ReadWrite {
		return s.g.Load(ctx, s.backend)
	}
	return nil
}

func (s *Session) writable() error {
	if s.done {
		return ErrTxDone
	}
	if s.mode != ReadWrite {
		return ErrReadOnly
	}
	return nil
}

// Persist validates m and writes it to the store.
//
// Validation fails with ErrMissingSimpleKey when the key is unset (or blank
// for types that do not allow it), ErrMissingMandatoryParent when a
// mandatory parent slot is empty, ErrParentNotFound when a parent is not
// persisted, and ErrDuplicateTopLevelKey when another persisted root of the
// same type has the same key ignoring case.
func (s *Session) Persist(ctx context.Context, m Model) error {
	if err := s.writable(); err != nil {
		return err
	}
	if isNil(m) {
		return ErrNullChild
	}
	b := m.base()
	if err := b.checkLive(); err != nil {
		return err
	}
	if b.g != s.g {
		return newError(ErrNotFound, b.typ, b.key.String(), "")
	}
	if err := s.validate(ctx, m); err != nil {
		return err
	}
	if err := s.tx.Put(ctx, b.record(m)); err != nil {
		return fmt.Errorf("persist %s %q: %w", b.typ, b.key, err)
	}
	b.state = Persisted
	s.g.observer.Persisted(b.typ)
	s.g.logger.Debug("persisted", "type", b.typ, "key", b.key.String(), "id", b.id)
	return nil
}

func (s *Session) validate(ctx context.Context, m Model) error {
	b := m.base()
	spec := b.spec()
	if !b.hasSimple || (b.simple == "" && !spec.AllowBlankKey) {
		return b.fail(ErrMissingSimpleKey, "")
	}
	for _, rel := range s.g.schema.RelationsForChild(b.typ) {
		pid := b.parentID(rel.ParentType)
		if pid == uuid.Nil {
			if rel.Mandatory {
				return b.fail(ErrMissingMandatoryParent, rel.ParentType)
			}
			continue
		}
		pm, ok := s.g.nodes[pid]
		if !ok || pm.base().state != Persisted {
			return b.fail(ErrParentNotFound, rel.ParentType)
		}
	}
	if spec.IdentifyingParent == "" {
		dup, found, err := duplicateRecord(ctx, s, b)
		if err != nil {
			return err
		}
		if found {
			return b.g.fail(newError(ErrDuplicateTopLevelKey, b.typ, dup.SimpleKey, ""))
		}
	}
	return nil
}

// Unpersist deletes m from the store.
//
// It fails with ErrReferencedByChildren while m is the parent of any child
// in a mandatory relation. Children in optional relations are released and
// re-written. m is then detached from all of its parents, last registered
// relation first, and marked Removed.
func (s *Session) Unpersist(ctx context.Context, m Model) error {
	if err := s.writable(); err != nil {
		return err
	}
	if isNil(m) {
		return ErrNullChild
	}
	b := m.base()
	if err := b.checkLive(); err != nil {
		return err
	}
	if b.g != s.g || b.state != Persisted {
		return newError(ErrNotFound, b.typ, b.key.String(), "")
	}

	// 1. Refuse while mandatory children remain
	rels := s.g.schema.RelationsForParent(b.typ)
	for _, rel := range rels {
		if rel.Mandatory && b.Children(rel.ChildType).Len() > 0 {
			return b.fail(ErrReferencedByChildren, rel.ChildType)
		}
	}

	// 2. Release optional children
	var released []Model
	for _, rel := range rels {
		if rel.Mandatory {
			continue
		}
		for _, child := range b.ChildModels(rel.ChildType) {
			if err := b.detachChild(child.base(), rel); err != nil {
				return err
			}
			if child.base().state == Persisted {
				released = append(released, child)
			}
		}
	}
	for _, child := range released {
		if err := s.tx.Put(ctx, child.base().record(child)); err != nil {
			return fmt.Errorf("release %s %q: %w", child.base().typ, child.base().key, err)
		}
	}

	// 3. Detach from parents and delete
	b.releaseParents()
	if err := s.tx.Delete(ctx, b.id); err != nil {
		return fmt.Errorf("unpersist %s %q: %w", b.typ, b.key, err)
	}
	s.g.forget(b)
	b.state = Removed
	s.g.observer.Unpersisted(b.typ)
	s.g.logger.Debug("unpersisted", "type", b.typ, "key", b.key.String(), "id", b.id, "released", len(released))
	return nil
}
