// Package stream provides a DynamoDB Streams handler that audits entity
// deletions for dangling references.
package stream

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/reflink/integrity"
	"github.com/jacentio/reflink/internal/orderkey"
	"github.com/jacentio/reflink/store"
)

// Finding is a relationship that still references a removed entity.
type Finding struct {
	EntityType   string
	EntityID     string
	Relationship store.Relationship
	Count        int

	// EventID is the stream record that reported the removal.
	EventID string
}

// Handler processes DynamoDB stream events from entity tables.
type Handler struct {
	finder      *integrity.Finder
	registry    *store.Registry
	tablePrefix string
	logger      *zap.Logger
}

// NewHandler creates a new stream handler. tablePrefix is stripped from the
// source table name to get the collection.
func NewHandler(finder *integrity.Finder, registry *store.Registry, tablePrefix string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		finder:      finder,
		registry:    registry,
		tablePrefix: tablePrefix,
		logger:      logger,
	}
}

// HandleRemovals audits REMOVE records and logs every dangling reference.
// It returns an error only when a dependent lookup fails, so Lambda retries
// the batch. This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleRemovals(ctx context.Context, event events.DynamoDBEvent) error {
	findings, err := h.Audit(ctx, event)
	if err != nil {
		return err
	}
	for _, f := range findings {
		h.logger.Error("dangling references after delete",
			zap.String("eventID", f.EventID),
			zap.String("entityType", f.EntityType),
			zap.String("entityID", f.EntityID),
			zap.String("collection", f.Relationship.DependentCollection),
			zap.String("field", f.Relationship.Field),
			zap.Int("count", f.Count),
		)
	}
	return nil
}

// Audit returns the dangling references left by the removals in event.
func (h *Handler) Audit(ctx context.Context, event events.DynamoDBEvent) ([]Finding, error) {
	var findings []Finding
	for _, record := range event.Records {
		found, err := h.auditRecord(ctx, record)
		if err != nil {
			h.logger.Error("failed to audit record",
				zap.String("eventID", record.EventID),
				zap.Error(err),
			)
			return nil, err
		}
		findings = append(findings, found...)
	}
	return findings, nil
}

// auditRecord counts dependents of the entity removed by record.
func (h *Handler) auditRecord(ctx context.Context, record events.DynamoDBEventRecord) ([]Finding, error) {
	if record.EventName != string(events.DynamoDBOperationTypeRemove) {
		return nil, nil
	}

	collection, ok := h.collectionOf(record.EventSourceArn)
	if !ok {
		return nil, nil
	}
	entityType, ok := h.registry.EntityTypeOf(collection)
	if !ok {
		return nil, nil
	}

	id, err := recordID(record)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", record.EventID, err)
	}

	fields := []zap.Field{
		zap.String("entityType", entityType),
		zap.String("entityID", id),
	}
	if created, _, err := orderkey.Decode(getStringAttr(record.Change.OldImage, orderAttr)); err == nil {
		fields = append(fields, zap.Time("createdAt", created))
	}
	h.logger.Info("auditing removal", fields...)

	rels := h.registry.DependentsOf(entityType)
	counts := make([]int, len(rels))

	g, gctx := errgroup.WithContext(ctx)
	for i, rel := range rels {
		g.Go(func() error {
			n, err := h.finder.CountDependents(gctx, rel, id)
			if err != nil {
				return err
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var findings []Finding
	for i, rel := range rels {
		if counts[i] == 0 {
			continue
		}
		findings = append(findings, Finding{
			EntityType:   entityType,
			EntityID:     id,
			Relationship: rel,
			Count:        counts[i],
			EventID:      record.EventID,
		})
	}
	return findings, nil
}

// collectionOf maps a stream ARN to the collection of its table.
// ARN form: arn:aws:dynamodb:region:account:table/<name>/stream/<label>.
func (h *Handler) collectionOf(arn string) (string, bool) {
	parts := strings.Split(arn, "/")
	if len(parts) < 2 {
		return "", false
	}
	table := parts[1]
	if !strings.HasPrefix(table, h.tablePrefix) {
		return "", false
	}
	collection := strings.TrimPrefix(table, h.tablePrefix)
	return collection, collection != ""
}

// orderAttr is the listing sort key written by store.DynamoStore.
const orderAttr = "_order"

type streamKey struct {
	ID string `dynamodbav:"id"`
}

// recordID reads the document id from the record's keys.
func recordID(record events.DynamoDBEventRecord) (string, error) {
	var key streamKey
	if err := attributevalue.UnmarshalMap(ConvertStreamKey(record.Change.Keys), &key); err != nil {
		return "", fmt.Errorf("decode key: %w", err)
	}
	if key.ID == "" {
		return "", fmt.Errorf("%w: stream key has no %q", integrity.ErrEmptyEntityID, store.AttrID)
	}
	return key.ID, nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// ConvertStreamKey converts a DynamoDB stream key to SDK attribute values.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(streamKey))
	for k, v := range streamKey {
		switch v.DataType() {
		case events.DataTypeString:
			result[k] = &types.AttributeValueMemberS{Value: v.String()}
		case events.DataTypeNumber:
			result[k] = &types.AttributeValueMemberN{Value: v.Number()}
		case events.DataTypeBinary:
			result[k] = &types.AttributeValueMemberB{Value: v.Binary()}
		}
	}
	return result
}

// NewHandlerFromStore builds a Handler over any store implementing the
// dependent lookups, using the console's default relationships.
func NewHandlerFromStore(r integrity.Reader, tablePrefix string, logger *zap.Logger) *Handler {
	return NewHandler(integrity.NewFinder(r, logger), integrity.DefaultRegistry(), tablePrefix, logger)
}
