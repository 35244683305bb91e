// Package store is the DynamoDB backend of the entity graph.
//
// A [Store] implements entity.Backend. Writes made in a transaction are
// buffered and committed as one TransactWriteItems call, so either every
// entity change in a session lands or none does.
//
// # Tables
//
// Three tables are used:
//
//   - EntityTable holds one item per entity, keyed by "id", with a global
//     secondary index on "entity_type" used to read a type's extent.
//   - RelationshipTable links each parent to its children. The partition key
//     is the parent reference plus a shard suffix; the sort key is the child
//     reference.
//   - UniqueTable reserves the case-folded simple key of every root entity.
//
// # Integrity
//
// The graph validates every change before it reaches the store. The store
// guards the same rules against other writers:
//
//   - a new parent link carries a condition that the parent exists
//   - a root's key is claimed with attribute_not_exists(pk)
//   - every update is conditioned on the stored version
//
// Deletes are soft: the item gets a TTL and disappears from reads at once.
// Its own relationship and constraint rows are removed in the same
// transaction. The stream handler in package stream expires any link that
// still names the deleted entity as a parent.
//
// # Configuration
//
// Use [DefaultConfig] for a single archive. Increase NumShards when a parent
// has enough children to make its relationship partition hot:
//
//	cfg := store.DefaultConfig()
//	cfg.NumShards = 16
//
// # Errors
//
// Condition failures map to entity errors where the graph has one:
//
//   - entity.ErrParentNotFound - a linked parent is missing or deleted
//   - entity.ErrDuplicateTopLevelKey - another root holds the key
//   - [ErrConcurrentModification] - optimistic lock failed
//   - [ErrTooManyWrites] - the commit exceeds the transaction item limit
package store
