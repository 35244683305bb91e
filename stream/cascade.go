// Package stream finishes soft deletes from the entity table's DynamoDB
// stream.
//
// The store removes a deleted entity's own relationship and constraint rows
// in the delete transaction. The handler runs once the TTL lands on the
// item and expires anything left behind: links the entity still holds as a
// child, constraint rows it still owns, and links that name it as a parent.
// The graph never deletes a parent with mandatory children, so such a link
// means another writer bypassed it and is logged as a warning.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/setlist/store"
)

// Handler processes entity table stream events.
type Handler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(s *store.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  s,
		logger: logger,
	}
}

// HandleExpiry processes a batch of stream records. It is designed to be
// used as an AWS Lambda handler; a returned error makes Lambda retry the
// batch.
func (h *Handler) HandleExpiry(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err
		}
	}
	return nil
}

// processRecord handles a single record. Only MODIFY events where the TTL
// was newly set are of interest.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != string(events.DynamoDBOperationTypeModify) {
		return nil
	}

	oldTTL := getNumberAttr(record.Change.OldImage, "ttl")
	newTTL := getNumberAttr(record.Change.NewImage, "ttl")
	if oldTTL != 0 || newTTL == 0 {
		return nil
	}

	entityRef := getStringAttr(record.Change.NewImage, "entity_ref")
	parentRefs := getStringListAttr(record.Change.NewImage, "parent_refs")
	uniquePKs := getStringListAttr(record.Change.NewImage, "_unique_pks")

	h.logger.Info("finishing delete",
		"entityRef", entityRef,
		"key", getStringAttr(record.Change.NewImage, "simple_key"),
		"ttl", newTTL,
	)

	// 1. Links held as a child
	for _, parentRef := range parentRefs {
		if err := h.store.ExpireRelationship(ctx, entityRef, parentRef, newTTL); err != nil {
			h.logger.Warn("failed to expire relationship",
				"entity", entityRef,
				"parent", parentRef,
				"error", err,
			)
		}
	}

	// 2. Constraint rows
	for _, pk := range uniquePKs {
		if err := h.store.ExpireUniqueConstraint(ctx, pk, newTTL); err != nil {
			h.logger.Warn("failed to expire unique constraint",
				"pk", pk,
				"error", err,
			)
		}
	}

	// 3. Links held as a parent
	children, err := h.store.QueryAllChildren(ctx, entityRef)
	if err != nil {
		return fmt.Errorf("query children: %w", err)
	}
	orphaned := 0
	for _, child := range children {
		if child.TTL != 0 {
			continue
		}
		orphaned++
		h.logger.Warn("deleted entity still has children",
			"entityRef", entityRef,
			"child", child.Ref,
			"mandatory", child.Mandatory,
		)
		if err := h.store.ExpireRelationship(ctx, child.Ref, entityRef, newTTL); err != nil {
			h.logger.Warn("failed to expire child relationship",
				"child", child.Ref,
				"error", err,
			)
		}
	}

	h.logger.Info("delete finished",
		"entityRef", entityRef,
		"parents", len(parentRefs),
		"uniqueConstraints", len(uniquePKs),
		"orphanedChildren", orphaned,
	)
	return nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeNumber {
		n, _ := strconv.ParseInt(v.Number(), 10, 64)
		return n
	}
	return 0
}

// getStringListAttr extracts the strings of a list attribute.
func getStringListAttr(image map[string]events.DynamoDBAttributeValue, key string) []string {
	v, ok := image[key]
	if !ok || v.DataType() != events.DataTypeList {
		return nil
	}
	var result []string
	for _, item := range v.List() {
		if item.DataType() == events.DataTypeString {
			result = append(result, item.String())
		}
	}
	return result
}
