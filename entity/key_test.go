package entity_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/jacentio/setlist/entity"
)

func TestKey_Compare(t *testing.T) {
	club := entity.NewKey("Pyramid Club", nil)
	cbgb := entity.NewKey("CBGB", nil)

	tests := []struct {
		name string
		a, b entity.Key
		want int
	}{
		{"roots ordinal", cbgb, club, -1},
		{"roots equal", club, entity.NewKey("Pyramid Club", nil), 0},
		{"roots case sensitive", entity.NewKey("a", nil), entity.NewKey("B", nil), 1},
		{"parent decides first", entity.NewKey("9", &cbgb), entity.NewKey("1", &club), -1},
		{"same parent then simple", entity.NewKey("01", &club), entity.NewKey("02", &club), -1},
		{"same parent equal", entity.NewKey("01", &club), entity.NewKey("01", &club), 0},
		{"no parent before parent", entity.NewKey("z", nil), entity.NewKey("a", &club), -1},
		{"parent after no parent", entity.NewKey("a", &club), entity.NewKey("z", nil), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

// A key without a parent compares lower than any key with one, even when
// both share the same simple component. This is not symmetric with how the
// parents themselves compare; it is relied on only for ordering within a
// single collection, where all keys have the same shape.
func TestKey_CompareMixedDepthIsAsymmetric(t *testing.T) {
	p := entity.NewKey("x", nil)
	withParent := entity.NewKey("x", &p)
	bare := entity.NewKey("x", nil)

	if got := bare.Compare(withParent); got != -1 {
		t.Errorf("expected -1, got %d", got)
	}
	if got := withParent.Compare(bare); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
	if bare.Equal(withParent) {
		t.Error("expected keys of different depth to differ")
	}
}

func TestKey_String(t *testing.T) {
	club := entity.NewKey("Pyramid Club", nil)
	event := entity.NewKey("2020/03/01", &club)
	set := entity.NewKey("01", &event)

	tests := []struct {
		key  entity.Key
		want string
	}{
		{entity.Key{}, ""},
		{club, "Pyramid Club"},
		{event, "2020/03/01 Pyramid Club"},
		{set, "01 2020/03/01 Pyramid Club"},
		{entity.NewKey("", nil), ""},
	}
	for _, tt := range tests {
		if got := tt.key.String(); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}

func TestKey_Depth(t *testing.T) {
	club := entity.NewKey("Pyramid Club", nil)
	event := entity.NewKey("2020/03/01", &club)
	set := entity.NewKey("01", &event)

	if d := club.Depth(); d != 1 {
		t.Errorf("expected 1, got %d", d)
	}
	if d := set.Depth(); d != 3 {
		t.Errorf("expected 3, got %d", d)
	}
}

func TestKey_ParentIsCopied(t *testing.T) {
	parent := entity.NewKey("old", nil)
	child := entity.NewKey("c", &parent)
	parent = entity.NewKey("new", nil)

	got, ok := child.Parent()
	if !ok {
		t.Fatal("expected a parent")
	}
	if got.Simple() != "old" {
		t.Errorf("expected parent %q, got %q", "old", got.Simple())
	}
}

func TestKey_Zero(t *testing.T) {
	var k entity.Key
	if !k.IsZero() {
		t.Error("expected zero key")
	}
	if entity.NewKey("", nil).IsZero() {
		t.Error("expected blank key to be set")
	}
	if _, ok := k.Parent(); ok {
		t.Error("expected zero key to have no parent")
	}
}

func TestKey_UnsetIsNotBlank(t *testing.T) {
	parent := entity.NewKey("inbox", nil)
	var unset entity.Key
	blank := entity.NewKey("", nil)

	if unset.Equal(blank) {
		t.Error("expected unset key to differ from blank key")
	}
	if got := unset.Compare(blank); got != -1 {
		t.Errorf("expected -1, got %d", got)
	}
	if got := blank.Compare(unset); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
	if got := blank.Compare(entity.NewKey("a", nil)); got != -1 {
		t.Errorf("expected -1, got %d", got)
	}

	c := entity.NewCollection()
	if err := c.Add(blank, uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	child := entity.NewKey("", &parent)
	if err := c.Add(child, uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Add(unset, uuid.New()); err != nil {
		t.Errorf("expected unset key to be filed apart from blank, got %v", err)
	}
	if got := c.Len(); got != 3 {
		t.Errorf("expected 3 entries, got %d", got)
	}
}
