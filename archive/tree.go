package archive

import (
	"fmt"
	"io"
	"strings"

	"github.com/jacentio/setlist/entity"
)

// WriteTree writes the location tree of g to w, one entity per line,
// indented by depth.
func WriteTree(w io.Writer, g *entity.Graph) error {
	tw := &treeWriter{w: w}
	for _, m := range g.RootModels(TypeLocation) {
		loc := m.(*Location)
		tw.line(0, "%s", loc.Name())
		for _, e := range loc.Events() {
			tw.line(1, "%s %s", e.SimpleKey(), describeEvent(e))
			for _, st := range e.Sets() {
				tw.line(2, "set %s %s", st.SimpleKey(), nameOf(st.Act()))
				for _, p := range st.Pieces() {
					tw.line(3, "%s %s", p.SimpleKey(), p.Title)
					for _, c := range p.Credits() {
						tw.line(4, "%s %s (%s)", c.SimpleKey(), nameOf(c.Artist()), nameOf(c.Role()))
					}
				}
			}
		}
	}
	return tw.err
}

// Counts returns the number of keyed root entities per root type and the
// total number of entities in g.
func Counts(g *entity.Graph) (map[entity.Type]int, int) {
	out := make(map[entity.Type]int, len(RootTypes))
	for _, t := range RootTypes {
		out[t] = g.Roots(t).Len()
	}
	return out, g.Len()
}

type treeWriter struct {
	w   io.Writer
	err error
}

func (tw *treeWriter) line(depth int, format string, args ...any) {
	if tw.err != nil {
		return
	}
	_, tw.err = fmt.Fprintf(tw.w, "%s"+format+"\n", append([]any{strings.Repeat("  ", depth)}, args...)...)
}

func describeEvent(e *Event) string {
	var parts []string
	if t := nameOf(e.EventType()); t != "" {
		parts = append(parts, t)
	}
	if s := nameOf(e.Series()); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, " / ")
}

func nameOf[P interface {
	comparable
	SimpleKey() string
}](p P) string {
	var zero P
	if p == zero {
		return ""
	}
	return p.SimpleKey()
}
