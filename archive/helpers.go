package archive

import (
	"fmt"
	"strconv"

	"github.com/jacentio/setlist/entity"
)

// modelPtr is satisfied by pointers to archive types.
type modelPtr[T any] interface {
	*T
	entity.Model
}

// attach creates a new T and attaches it to g as type t.
func attach[P modelPtr[T], T any](g *entity.Graph, t entity.Type) (P, error) {
	p := P(new(T))
	if err := g.Attach(p, t); err != nil {
		return nil, err
	}
	return p, nil
}

// keyed attaches a new T and assigns its simple key, discarding it again if
// the key is taken.
func keyed[P modelPtr[T], T any](g *entity.Graph, t entity.Type, key func(P) error) (P, error) {
	p, err := attach[P](g, t)
	if err != nil {
		return nil, err
	}
	if err := key(p); err != nil {
		_ = g.Discard(p)
		return nil, err
	}
	return p, nil
}

// modelOf converts a possibly nil typed pointer to an entity.Model.
func modelOf[P modelPtr[T], T any](p P) entity.Model {
	if p == nil {
		return nil
	}
	return p
}

func parentOf[P entity.Model](b *entity.Base, t entity.Type) P {
	var zero P
	m := b.Parent(t)
	if m == nil {
		return zero
	}
	p, ok := m.(P)
	if !ok {
		return zero
	}
	return p
}

func childrenOf[P entity.Model](b *entity.Base, t entity.Type) []P {
	models := b.ChildModels(t)
	out := make([]P, 0, len(models))
	for _, m := range models {
		if p, ok := m.(P); ok {
			out = append(out, p)
		}
	}
	return out
}

// number formats ordinal numbers so they sort correctly as strings.
func number(n int) string {
	return fmt.Sprintf("%02d", n)
}

func parseNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return n, nil
}

func comments(s string) map[string]string {
	if s == "" {
		return nil
	}
	return map[string]string{"comments": s}
}
