package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/setlist/entity"
	"github.com/jacentio/setlist/internal/shard"
)

// maxTransactItems is the DynamoDB limit on operations per TransactWriteItems call.
const maxTransactItems = 100

const (
	condNotExists      = "attribute_not_exists(id)"
	condUniqueFree     = "attribute_not_exists(pk)"
	condVersion        = "#version = :expected"
	condLiveLink       = "attribute_exists(pk) AND attribute_not_exists(#ttl)"
	exprSoftDelete     = "SET #ttl = :ttl, #version = #version + :one, #updated = :updated"
	exprExpire         = "SET #ttl = :ttl"
	keyCondType        = "entity_type = :type"
	keyCondPartition   = "pk = :pk"
	reasonCheckFailed  = "ConditionalCheckFailed"
	uniqueConstraintSK = "CONSTRAINT"
)

// Client is the subset of the DynamoDB API the store uses. *dynamodb.Client
// satisfies it.
type Client interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

var (
	_ Client         = (*dynamodb.Client)(nil)
	_ entity.Backend = (*Store)(nil)
)

// Store is a DynamoDB-backed entity.Backend.
//
// Optimistic locking uses the version of each item as this Store first read
// it, so a graph must be loaded through the Store it writes through. A
// commit that loses a version race fails with ErrConcurrentModification and
// the Store forgets every version it holds; the graph's reload reads fresh
// ones.
type Store struct {
	client Client
	schema *entity.Schema
	config Config
	writer sync.Mutex

	mu       sync.Mutex
	versions map[entity.ID]int64
}

// New creates a new Store. schema supplies the identifying parent of each
// type and the mandatory flag recorded on relationship rows.
func New(client Client, schema *entity.Schema, config Config) *Store {
	config.validate()
	return &Store{
		client:   client,
		schema:   schema,
		config:   config,
		versions: make(map[entity.ID]int64),
	}
}

// observe records the version of a read item unless one is already held.
func (s *Store) observe(id entity.ID, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[id]; !ok {
		s.versions[id] = version
	}
}

// expected returns the version a write of id is conditioned on.
func (s *Store) expected(id entity.ID, stored int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.versions[id]; ok {
		return v
	}
	return stored
}

// settle records the outcome of a successful commit.
func (s *Store) settle(written map[entity.ID]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range written {
		if v == 0 {
			delete(s.versions, id)
			continue
		}
		s.versions[id] = v
	}
}

func (s *Store) forgetVersions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions = make(map[entity.ID]int64)
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// relationshipPK computes the sharded partition key for a relationship record.
func (s *Store) relationshipPK(parentRef, childRef string) string {
	return shard.RelationshipPK(parentRef, childRef, s.config.NumShards)
}

// Get retrieves a record by ID, returning ErrNotFound if deleted or missing.
func (s *Store) Get(ctx context.Context, id entity.ID) (entity.Record, error) {
	it, found, err := s.getItem(ctx, id)
	if err != nil {
		return entity.Record{}, err
	}
	if !found || it.deleted() {
		return entity.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return it.Record()
}

// getItem reads an item with a consistent read. Soft-deleted items are
// returned as found.
func (s *Store) getItem(ctx context.Context, id entity.ID) (Item, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.EntityTable),
		Key:            entityKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Item{}, false, fmt.Errorf("get %s: %w", id, err)
	}
	if out.Item == nil {
		return Item{}, false, nil
	}
	it, err := unmarshalItem(out.Item)
	if err != nil {
		return Item{}, false, err
	}
	return it, true, nil
}

// queryType returns every live record of type t through the type index.
func (s *Store) queryType(ctx context.Context, t entity.Type) ([]entity.Record, error) {
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                aws.String(s.config.EntityTable),
		IndexName:                aws.String(s.config.TypeIndex),
		KeyConditionExpression:   aws.String(keyCondType),
		FilterExpression:         aws.String(TTLFilterExpr()),
		ExpressionAttributeNames: TTLFilterNames(),
		ExpressionAttributeValues: mergeExprValues(TTLFilterValues(), map[string]types.AttributeValue{
			":type": &types.AttributeValueMemberS{Value: string(t)},
		}),
	})

	var out []entity.Record
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", t, err)
		}
		for _, raw := range page.Items {
			it, err := unmarshalItem(raw)
			if err != nil {
				return nil, err
			}
			rec, err := it.Record()
			if err != nil {
				return nil, err
			}
			s.observe(rec.ID, it.Version)
			out = append(out, rec)
		}
	}
	return out, nil
}

// QueryAllChildren returns every relationship row under parentRef, expired
// ones included, ordered by child reference.
func (s *Store) QueryAllChildren(ctx context.Context, parentRef string) ([]ChildRef, error) {
	pks := shard.ParentShards(parentRef, s.config.NumShards)
	if len(pks) == 1 {
		return s.queryShard(ctx, pks[0])
	}

	var mu sync.Mutex
	var all []ChildRef
	var wg sync.WaitGroup
	errs := make(chan error, len(pks))

	for _, pk := range pks {
		wg.Add(1)
		go func(pk string) {
			defer wg.Done()
			refs, err := s.queryShard(ctx, pk)
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			all = append(all, refs...)
			mu.Unlock()
		}(pk)
	}

	go func() {
		wg.Wait()
		close(errs)
	}()

	for err := range errs {
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Ref < all[j].Ref })
	return all, nil
}

func (s *Store) queryShard(ctx context.Context, shardPK string) ([]ChildRef, error) {
	var refs []ChildRef
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.config.RelationshipTable),
		KeyConditionExpression: aws.String(keyCondPartition),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: shardPK},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query shard %s: %w", shardPK, err)
		}
		for _, raw := range page.Items {
			var ref ChildRef
			if err := attributevalue.UnmarshalMap(raw, &ref); err != nil {
				return nil, fmt.Errorf("unmarshal relationship: %w", err)
			}
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// ExpireRelationship sets ttl on the row linking childRef to parentRef.
// Missing and already expired rows are left alone.
func (s *Store) ExpireRelationship(ctx context.Context, childRef, parentRef string, ttl int64) error {
	return s.expire(ctx, s.config.RelationshipTable, relationshipKey(s.relationshipPK(parentRef, childRef), childRef), ttl)
}

// ExpireUniqueConstraint sets ttl on a unique constraint row.
func (s *Store) ExpireUniqueConstraint(ctx context.Context, pk string, ttl int64) error {
	return s.expire(ctx, s.config.UniqueTable, uniqueKey(pk), ttl)
}

func (s *Store) expire(ctx context.Context, table string, key PK, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       key,
		UpdateExpression:          aws.String(exprExpire),
		ConditionExpression:       aws.String(condLiveLink),
		ExpressionAttributeNames:  TTLFilterNames(),
		ExpressionAttributeValues: map[string]types.AttributeValue{":ttl": unixAttr(ttl)},
	})

	// Ignore condition failure - gone or already expired
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// Begin starts a transaction. Writes are buffered and sent as a single
// TransactWriteItems call on Commit. ReadWrite transactions block until no
// other read-write transaction on this Store is open; writers in other
// processes are detected through item versions.
func (s *Store) Begin(_ context.Context, mode entity.Mode) (entity.Tx, error) {
	if mode == entity.ReadWrite {
		s.writer.Lock()
	}
	return &tx{store: s, mode: mode, writes: make(map[entity.ID]*write)}, nil
}

type write struct {
	rec     entity.Record
	deleted bool
}

type tx struct {
	store  *Store
	mode   entity.Mode
	writes map[entity.ID]*write
	order  []entity.ID
	done   bool
}

func (t *tx) writable() error {
	if t.done {
		return ErrTxDone
	}
	if t.mode != entity.ReadWrite {
		return entity.ErrReadOnly
	}
	return nil
}

func (t *tx) stage(id entity.ID) *write {
	w, ok := t.writes[id]
	if !ok {
		w = &write{}
		t.writes[id] = w
		t.order = append(t.order, id)
	}
	return w
}

func (t *tx) Put(_ context.Context, rec entity.Record) error {
	if err := t.writable(); err != nil {
		return err
	}
	w := t.stage(rec.ID)
	w.rec, w.deleted = rec, false
	return nil
}

func (t *tx) Delete(_ context.Context, id entity.ID) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.stage(id).deleted = true
	return nil
}

// Extent merges the committed records of type typ with this transaction's
// pending writes. Committed reads go through a secondary index and are
// eventually consistent.
func (t *tx) Extent(ctx context.Context, typ entity.Type) ([]entity.Record, error) {
	if t.done {
		return nil, ErrTxDone
	}
	stored, err := t.store.queryType(ctx, typ)
	if err != nil {
		return nil, err
	}
	out := stored[:0]
	for _, rec := range stored {
		if _, pending := t.writes[rec.ID]; !pending {
			out = append(out, rec)
		}
	}
	for _, id := range t.order {
		if w := t.writes[id]; !w.deleted && w.rec.Type == typ {
			out = append(out, w.rec)
		}
	}
	return out, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	defer t.release()
	if len(t.order) == 0 {
		return nil
	}

	p, err := t.plan(ctx)
	if err != nil {
		return err
	}
	if len(p.items) > maxTransactItems {
		return fmt.Errorf("%w: %d operations", ErrTooManyWrites, len(p.items))
	}
	_, err = t.store.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: p.items,
	})
	if err != nil {
		err = p.mapError(err)
		if errors.Is(err, ErrConcurrentModification) {
			t.store.forgetVersions()
		}
		return err
	}
	t.store.settle(p.written)
	t.store.config.Logger.Debug("dynamodb commit",
		"entities", len(t.order),
		"operations", len(p.items),
	)
	return nil
}

func (t *tx) Abort(context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.release()
	return nil
}

func (t *tx) release() {
	if t.mode == entity.ReadWrite {
		t.store.writer.Unlock()
	}
}

// opKind tells mapError what a failed condition means.
type opKind int

const (
	opOther opKind = iota
	opEntity
	opParent
	opUnique
)

// commitPlan is the list of transaction items for one commit, with the
// meaning of each item's condition.
type commitPlan struct {
	items []types.TransactWriteItem
	kinds []opKind
	refs  []string

	checked  map[string]bool
	claimed  map[string]string
	released map[string]bool

	// written maps each entity to its new version, 0 when deleted.
	written map[entity.ID]int64
}

func (p *commitPlan) add(item types.TransactWriteItem, kind opKind, ref string) {
	p.items = append(p.items, item)
	p.kinds = append(p.kinds, kind)
	p.refs = append(p.refs, ref)
}

// plan diffs every pending write against the stored item and emits the
// entity, relationship and unique constraint operations.
func (t *tx) plan(ctx context.Context) (*commitPlan, error) {
	s := t.store
	ts := now()
	iso := ts.UTC().Format(time.RFC3339)
	p := &commitPlan{
		checked:  make(map[string]bool),
		claimed:  make(map[string]string),
		released: make(map[string]bool),
		written:  make(map[entity.ID]int64),
	}

	for _, id := range t.order {
		w := t.writes[id]
		old, found, err := s.getItem(ctx, id)
		if err != nil {
			return nil, err
		}

		if w.deleted {
			if !found || old.TTL != 0 {
				continue
			}
			p.written[id] = 0
			p.add(types.TransactWriteItem{
				Update: &types.Update{
					TableName:           aws.String(s.config.EntityTable),
					Key:                 entityKey(id),
					UpdateExpression:    aws.String(exprSoftDelete),
					ConditionExpression: aws.String(condVersion),
					ExpressionAttributeNames: mergeExprNames(TTLFilterNames(), map[string]string{
						"#version": "version",
						"#updated": "updated_at",
					}),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":ttl":      unixAttr(ts.Unix()),
						":one":      unixAttr(1),
						":expected": unixAttr(s.expected(id, old.Version)),
						":updated":  &types.AttributeValueMemberS{Value: iso},
					},
				},
			}, opEntity, old.EntityRef)
			for _, ref := range old.ParentRefs {
				s.unlink(p, ref, old.EntityRef)
			}
			for _, pk := range old.UniquePKs {
				p.released[pk] = true
			}
			continue
		}

		spec, ok := s.schema.TypeSpec(w.rec.Type)
		if !ok {
			return nil, fmt.Errorf("%w: type %s", entity.ErrUnsupportedRelation, w.rec.Type)
		}
		it := newItem(w.rec, spec.IdentifyingParent)
		it.Version, it.CreatedAt, it.UpdatedAt = 1, iso, iso
		if spec.IdentifyingParent == "" {
			it.UniquePKs = []string{shard.TopLevelKeyPK(it.EntityType, it.SimpleKey)}
		}

		put := &types.Put{
			TableName:           aws.String(s.config.EntityTable),
			ConditionExpression: aws.String(condNotExists),
		}
		if found {
			expected := s.expected(id, old.Version)
			it.Version = expected + 1
			it.CreatedAt = old.CreatedAt
			put.ConditionExpression = aws.String(condVersion)
			put.ExpressionAttributeNames = map[string]string{"#version": "version"}
			put.ExpressionAttributeValues = map[string]types.AttributeValue{":expected": unixAttr(expected)}
		}
		p.written[id] = it.Version
		if put.Item, err = attributevalue.MarshalMap(it); err != nil {
			return nil, fmt.Errorf("marshal %s: %w", it.EntityRef, err)
		}
		p.add(types.TransactWriteItem{Put: put}, opEntity, it.EntityRef)

		for _, pk := range diff(it.UniquePKs, old.UniquePKs) {
			p.claimed[pk] = it.EntityRef
		}
		for _, pk := range diff(old.UniquePKs, it.UniquePKs) {
			p.released[pk] = true
		}
		for _, ref := range diff(it.ParentRefs, old.ParentRefs) {
			if err := t.link(p, ref, it); err != nil {
				return nil, err
			}
		}
		for _, ref := range diff(old.ParentRefs, it.ParentRefs) {
			s.unlink(p, ref, it.EntityRef)
		}
	}

	s.settleConstraints(p)
	return p, nil
}

// link adds the relationship row for a new parent, guarded by a check that
// the parent exists unless the parent is written in the same commit.
func (t *tx) link(p *commitPlan, parentRef string, child Item) error {
	s := t.store
	parentType, rawID, ok := shard.SplitRef(parentRef)
	if !ok {
		return fmt.Errorf("malformed parent reference %q", parentRef)
	}
	pid, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("parent reference %q: %w", parentRef, err)
	}

	if w, pending := t.writes[pid]; (!pending || w.deleted) && !p.checked[parentRef] {
		p.checked[parentRef] = true
		p.add(types.TransactWriteItem{
			ConditionCheck: &types.ConditionCheck{
				TableName:                 aws.String(s.config.EntityTable),
				Key:                       entityKey(pid),
				ConditionExpression:       aws.String(ParentExistsCondition()),
				ExpressionAttributeNames:  TTLFilterNames(),
				ExpressionAttributeValues: TTLFilterValues(),
			},
		}, opParent, parentRef)
	}

	rel, _ := s.schema.Find(entity.Type(parentType), entity.Type(child.EntityType))
	row, err := attributevalue.MarshalMap(ChildRef{
		Ref:       child.EntityRef,
		ParentRef: parentRef,
		Mandatory: rel.Mandatory,
		ShardPK:   s.relationshipPK(parentRef, child.EntityRef),
	})
	if err != nil {
		return fmt.Errorf("marshal relationship: %w", err)
	}
	p.add(types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(s.config.RelationshipTable),
			Item:      row,
		},
	}, opOther, parentRef)
	return nil
}

func (s *Store) unlink(p *commitPlan, parentRef, childRef string) {
	p.add(types.TransactWriteItem{
		Delete: &types.Delete{
			TableName: aws.String(s.config.RelationshipTable),
			Key:       relationshipKey(s.relationshipPK(parentRef, childRef), childRef),
		},
	}, opOther, parentRef)
}

// settleConstraints emits the unique constraint operations. A key released
// and claimed in the same commit (delete "X", create "x") becomes a single
// unconditional put, since a transaction may touch each item once.
func (s *Store) settleConstraints(p *commitPlan) {
	claimed := make([]string, 0, len(p.claimed))
	for pk := range p.claimed {
		claimed = append(claimed, pk)
	}
	sort.Strings(claimed)
	for _, pk := range claimed {
		put := &types.Put{
			TableName: aws.String(s.config.UniqueTable),
			Item: map[string]types.AttributeValue{
				"pk":         &types.AttributeValueMemberS{Value: pk},
				"sk":         &types.AttributeValueMemberS{Value: uniqueConstraintSK},
				"entity_ref": &types.AttributeValueMemberS{Value: p.claimed[pk]},
			},
		}
		if !p.released[pk] {
			put.ConditionExpression = aws.String(condUniqueFree)
		}
		p.add(types.TransactWriteItem{Put: put}, opUnique, p.claimed[pk])
	}

	released := make([]string, 0, len(p.released))
	for pk := range p.released {
		if _, ok := p.claimed[pk]; !ok {
			released = append(released, pk)
		}
	}
	sort.Strings(released)
	for _, pk := range released {
		p.add(types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(s.config.UniqueTable),
				Key:       uniqueKey(pk),
			},
		}, opOther, pk)
	}
}

// mapError maps DynamoDB transaction errors to entity and store errors.
func (p *commitPlan) mapError(err error) error {
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil || *reason.Code != reasonCheckFailed || i >= len(p.kinds) {
				continue
			}
			switch p.kinds[i] {
			case opParent:
				return fmt.Errorf("%w: %s", entity.ErrParentNotFound, p.refs[i])
			case opUnique:
				return fmt.Errorf("%w: %s", entity.ErrDuplicateTopLevelKey, p.refs[i])
			case opEntity:
				return fmt.Errorf("%w: %s", ErrConcurrentModification, p.refs[i])
			}
		}
	}
	return fmt.Errorf("transact write: %w", err)
}

// diff returns the members of a missing from b, in a's order.
func diff(a, b []string) []string {
	var out []string
	for _, x := range a {
		found := false
		for _, y := range b {
			if x == y {
				found = true
				break
			}
		}
		if !found {
			out = append(out, x)
		}
	}
	return out
}
