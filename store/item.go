package store

import (
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/setlist/entity"
	"github.com/jacentio/setlist/internal/shard"
)

// PK represents a DynamoDB primary key.
type PK map[string]types.AttributeValue

// entityKey is the primary key of an item in the entity table.
func entityKey(id entity.ID) PK {
	return PK{"id": &types.AttributeValueMemberS{Value: id.String()}}
}

// Item is the stored form of an entity. Besides the record it carries the
// managed fields the store maintains: version, timestamps, parent references
// and the unique constraint keys it owns.
type Item struct {
	ID         string            `dynamodbav:"id"`
	EntityRef  string            `dynamodbav:"entity_ref"`
	EntityType string            `dynamodbav:"entity_type"`
	SimpleKey  string            `dynamodbav:"simple_key"`
	ParentID   string            `dynamodbav:"parent_id,omitempty"`
	Parents    map[string]string `dynamodbav:"parents,omitempty"`
	Attrs      map[string]string `dynamodbav:"attrs,omitempty"`

	// ParentRefs lists the reference of every parent, identifying first.
	ParentRefs []string `dynamodbav:"parent_refs,omitempty"`

	// UniquePKs are the UniqueTable keys held by this entity.
	UniquePKs []string `dynamodbav:"_unique_pks,omitempty"`

	Version   int64  `dynamodbav:"version"`
	CreatedAt string `dynamodbav:"created_at"`
	UpdatedAt string `dynamodbav:"updated_at"`
	TTL       int64  `dynamodbav:"ttl,omitempty"`
}

// newItem builds the stored form of rec. identifyingType is the type of
// rec.Parent; it is empty for root types.
func newItem(rec entity.Record, identifyingType entity.Type) Item {
	it := Item{
		ID:         rec.ID.String(),
		EntityRef:  shard.Ref(string(rec.Type), rec.ID.String()),
		EntityType: string(rec.Type),
		SimpleKey:  rec.SimpleKey,
		Attrs:      rec.Attrs,
	}
	if rec.Parent != uuid.Nil {
		it.ParentID = rec.Parent.String()
		it.ParentRefs = append(it.ParentRefs, shard.Ref(string(identifyingType), it.ParentID))
	}
	if len(rec.Parents) > 0 {
		it.Parents = make(map[string]string, len(rec.Parents))
		var refs []string
		for t, id := range rec.Parents {
			it.Parents[string(t)] = id.String()
			refs = append(refs, shard.Ref(string(t), id.String()))
		}
		sort.Strings(refs)
		it.ParentRefs = append(it.ParentRefs, refs...)
	}
	return it
}

// deleted reports whether the item carries an expired TTL.
func (it Item) deleted() bool {
	return it.TTL != 0 && it.TTL <= now().Unix()
}

// Record converts the item back to an entity record.
func (it Item) Record() (entity.Record, error) {
	id, err := uuid.Parse(it.ID)
	if err != nil {
		return entity.Record{}, fmt.Errorf("item id %q: %w", it.ID, err)
	}
	rec := entity.Record{
		ID:        id,
		Type:      entity.Type(it.EntityType),
		SimpleKey: it.SimpleKey,
		Attrs:     it.Attrs,
	}
	if it.ParentID != "" {
		if rec.Parent, err = uuid.Parse(it.ParentID); err != nil {
			return entity.Record{}, fmt.Errorf("item %s parent: %w", it.ID, err)
		}
	}
	if len(it.Parents) > 0 {
		rec.Parents = make(map[entity.Type]entity.ID, len(it.Parents))
		for t, raw := range it.Parents {
			pid, err := uuid.Parse(raw)
			if err != nil {
				return entity.Record{}, fmt.Errorf("item %s parent %s: %w", it.ID, t, err)
			}
			rec.Parents[entity.Type(t)] = pid
		}
	}
	return rec, nil
}

// unmarshalItem decodes a raw entity table item.
func unmarshalItem(raw map[string]types.AttributeValue) (Item, error) {
	var it Item
	if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
		return Item{}, fmt.Errorf("unmarshal item: %w", err)
	}
	return it, nil
}

// ChildRef is one row of the relationship table.
type ChildRef struct {
	// Ref is the child's entity reference.
	Ref string `dynamodbav:"child_ref"`

	// ParentRef is the parent's entity reference.
	ParentRef string `dynamodbav:"parent_ref"`

	// Mandatory is set when the child cannot exist without the parent.
	Mandatory bool `dynamodbav:"mandatory"`

	// ShardPK is the relationship table partition key.
	ShardPK string `dynamodbav:"pk"`

	// TTL is set once the link is expired.
	TTL int64 `dynamodbav:"ttl,omitempty"`
}

// relationshipKey is the primary key of a relationship row.
func relationshipKey(shardPK, childRef string) PK {
	return PK{
		"pk":        &types.AttributeValueMemberS{Value: shardPK},
		"child_ref": &types.AttributeValueMemberS{Value: childRef},
	}
}

// uniqueKey is the primary key of a unique constraint row.
func uniqueKey(pk string) PK {
	return PK{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: uniqueConstraintSK},
	}
}
