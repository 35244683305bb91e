package shard

import (
	"strings"
	"testing"
)

// --- Ref ---

func TestRef_RoundTrip(t *testing.T) {
	ref := Ref("event", "0b6f")
	if ref != "event#0b6f" {
		t.Fatalf("expected 'event#0b6f', got %q", ref)
	}
	typ, id, ok := SplitRef(ref)
	if !ok || typ != "event" || id != "0b6f" {
		t.Errorf("expected (event, 0b6f, true), got (%q, %q, %v)", typ, id, ok)
	}
	if _, _, ok := SplitRef("no-separator"); ok {
		t.Error("expected a ref without separator to be rejected")
	}
}

// --- RelationshipPK ---

func TestRelationshipPK_SingleShard(t *testing.T) {
	tests := []struct {
		parentRef, childRef string
		shards              int
		expected            string
	}{
		{"location#l1", "event#e1", 1, "location#l1#00"},
		{"location#l1", "event#e2", 1, "location#l1#00"},
		{"act#a1", "set#s1", 0, "act#a1#00"},
		{"act#a1", "set#s1", -3, "act#a1#00"},
	}
	for _, tt := range tests {
		if got := RelationshipPK(tt.parentRef, tt.childRef, tt.shards); got != tt.expected {
			t.Errorf("RelationshipPK(%q, %q, %d) = %q, want %q", tt.parentRef, tt.childRef, tt.shards, got, tt.expected)
		}
	}
}

func TestRelationshipPK_MatchesParentShards(t *testing.T) {
	const parentRef = "event#e1"
	for _, n := range []int{1, 2, 16, 256} {
		valid := make(map[string]bool)
		for _, pk := range ParentShards(parentRef, n) {
			valid[pk] = true
		}
		if len(valid) != max(n, 1) {
			t.Errorf("expected %d distinct shards, got %d", n, len(valid))
		}
		for i := 0; i < 200; i++ {
			child := Ref("set", strings.Repeat("x", i%7)+string(rune('a'+i%26)))
			pk := RelationshipPK(parentRef, child, n)
			if !valid[pk] {
				t.Fatalf("shard %q for %d shards not listed by ParentShards", pk, n)
			}
			if pk != RelationshipPK(parentRef, child, n) {
				t.Fatalf("expected deterministic shard for %q", child)
			}
		}
	}
}

func TestRelationshipPK_Distribution(t *testing.T) {
	seen := make(map[string]int)
	for i := 0; i < 1000; i++ {
		seen[RelationshipPK("location#l1", Ref("event", strings.Repeat("e", i%13)+string(rune('0'+i%10))+string(rune('a'+i%26))), 16)]++
	}
	if len(seen) < 8 {
		t.Errorf("expected children to spread over most of 16 shards, got %d", len(seen))
	}
}

// --- UniqueConstraintPK ---

func TestUniqueConstraintPK(t *testing.T) {
	a := UniqueConstraintPK("", "location", "simple_key", "pyramid club")
	if len(a) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(a))
	}
	if a != UniqueConstraintPK("", "location", "simple_key", "pyramid club") {
		t.Error("expected deterministic hash")
	}
	if a == UniqueConstraintPK("", "act", "simple_key", "pyramid club") {
		t.Error("expected entity type to be part of the hash")
	}
	if a == UniqueConstraintPK("scope", "location", "simple_key", "pyramid club") {
		t.Error("expected scope to be part of the hash")
	}
}

func TestTopLevelKeyPK_FoldsCase(t *testing.T) {
	if TopLevelKeyPK("act", "Sonic Youth") != TopLevelKeyPK("act", "SONIC YOUTH") {
		t.Error("expected keys differing in case to collide")
	}
	if TopLevelKeyPK("act", "Sonic Youth") == TopLevelKeyPK("genre", "Sonic Youth") {
		t.Error("expected different types not to collide")
	}
	if TopLevelKeyPK("act", "Swans") == TopLevelKeyPK("act", "Swans ") {
		t.Error("expected whitespace to be significant")
	}
}

func BenchmarkRelationshipPK_256Shards(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RelationshipPK("location#l1", "event#e1", 256)
	}
}
