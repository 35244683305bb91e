// Package shard computes partition keys for the relationship and
// top-level key tables.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strings"
)

// Ref returns the type-qualified reference of an entity, e.g. "event#<uuid>".
func Ref(entityType, id string) string {
	return entityType + "#" + id
}

// SplitRef is the inverse of Ref. ok is false when ref has no separator.
func SplitRef(ref string) (entityType, id string, ok bool) {
	i := strings.IndexByte(ref, '#')
	if i < 0 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}

// RelationshipPK computes the partition key of the row linking childRef to
// parentRef. With numShards <= 1 every row of a parent lands on shard "00";
// otherwise the child reference picks the shard.
func RelationshipPK(parentRef, childRef string, numShards int) string {
	if numShards <= 1 {
		return fmt.Sprintf("%s#00", parentRef)
	}
	h := fnv.New32a()
	h.Write([]byte(childRef))
	return fmt.Sprintf("%s#%02x", parentRef, h.Sum32()%uint32(numShards))
}

// ParentShards lists every relationship partition key of parentRef, in
// shard order. Queries for a parent's children fan out over these.
func ParentShards(parentRef string, numShards int) []string {
	if numShards <= 1 {
		return []string{parentRef + "#00"}
	}
	pks := make([]string, numShards)
	for i := range pks {
		pks[i] = fmt.Sprintf("%s#%02x", parentRef, i)
	}
	return pks
}

// UniqueConstraintPK hashes a constraint into its own partition.
func UniqueConstraintPK(scope, entityType, field, value string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%s#%s#%s", scope, entityType, field, value)))
	return hex.EncodeToString(h[:16])
}

// TopLevelKeyPK is the constraint key reserving a root entity's simple key.
// Keys differing only in case map to the same partition.
func TopLevelKeyPK(entityType, simpleKey string) string {
	return UniqueConstraintPK("", entityType, "simple_key", strings.ToLower(simpleKey))
}
