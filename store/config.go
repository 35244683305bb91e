package store

import "log/slog"

// Config holds configuration for the Store.
type Config struct {
	// EntityTable holds one item per entity, keyed by "id".
	// Default: "setlist_entities"
	EntityTable string

	// TypeIndex is the global secondary index on EntityTable keyed by
	// "entity_type". Extent reads go through it.
	// Default: "entity_type-index"
	TypeIndex string

	// RelationshipTable links parents to children ("pk", "child_ref").
	// Default: "setlist_relationships"
	RelationshipTable string

	// UniqueTable reserves the case-folded simple key of root entities.
	// Default: "setlist_unique_constraints"
	UniqueTable string

	// NumShards is the number of shards for the relationship table.
	// Higher values spread the children of a busy parent (a location with
	// thousands of events) over more partitions at the cost of a fan-out
	// query per shard.
	// Default: 1
	// Max: 256
	NumShards int

	// Logger for store events. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for a single archive.
func DefaultConfig() Config {
	return Config{
		EntityTable:       "setlist_entities",
		TypeIndex:         "entity_type-index",
		RelationshipTable: "setlist_relationships",
		UniqueTable:       "setlist_unique_constraints",
		NumShards:         1,
	}
}

// validate fills in defaults and clamps values into range.
func (c *Config) validate() {
	d := DefaultConfig()
	if c.EntityTable == "" {
		c.EntityTable = d.EntityTable
	}
	if c.TypeIndex == "" {
		c.TypeIndex = d.TypeIndex
	}
	if c.RelationshipTable == "" {
		c.RelationshipTable = d.RelationshipTable
	}
	if c.UniqueTable == "" {
		c.UniqueTable = d.UniqueTable
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
