package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/reflink/internal/orderkey"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore provides document operations on DynamoDB.
type DynamoStore struct {
	client DynamoAPI
	config Config
}

// NewDynamoStore creates a new DynamoStore instance.
func NewDynamoStore(client DynamoAPI, config Config) *DynamoStore {
	config.validate()
	return &DynamoStore{
		client: client,
		config: config,
	}
}

// Config returns the validated store configuration.
func (s *DynamoStore) Config() Config {
	return s.config
}

// MaxBatchSize returns the maximum number of updates accepted by UpdateBatch.
func (s *DynamoStore) MaxBatchSize() int {
	return s.config.BatchLimit
}

// Get retrieves a document by id, returning ErrNotFound if missing.
func (s *DynamoStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.TableName(collection)),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	return unmarshalDocument(collection, result.Item)
}

// Put creates a document, returning ErrAlreadyExists if the id is taken.
// A zero CreatedAt is set to the current time.
func (s *DynamoStore) Put(ctx context.Context, doc *Document) error {
	if err := prepare(doc); err != nil {
		return err
	}
	item, err := marshalDocument(doc)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.config.TableName(doc.Collection)),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return ErrAlreadyExists
	}
	return err
}

// QueryEqual returns every document in collection whose field equals value.
// The GSI named in Config.FieldIndexes must project all attributes.
func (s *DynamoStore) QueryEqual(ctx context.Context, collection, field, value string) ([]*Document, error) {
	var docs []*Document
	err := s.equalPages(ctx, collection, field, value, false, func(items []map[string]types.AttributeValue, _ int32) error {
		for _, raw := range items {
			doc, err := unmarshalDocument(collection, raw)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// CountEqual returns the number of documents in collection whose field equals value.
func (s *DynamoStore) CountEqual(ctx context.Context, collection, field, value string) (int, error) {
	total := 0
	err := s.equalPages(ctx, collection, field, value, true, func(_ []map[string]types.AttributeValue, count int32) error {
		total += int(count)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// equalPages calls fn for every result page of an equality match.
// Uses the configured GSI when there is one, else a consistent filtered scan.
func (s *DynamoStore) equalPages(ctx context.Context, collection, field, value string, countOnly bool, fn func([]map[string]types.AttributeValue, int32) error) error {
	if !validField(field) {
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}

	table := aws.String(s.config.TableName(collection))
	names := map[string]string{"#f": field}
	values := map[string]types.AttributeValue{
		":v": &types.AttributeValueMemberS{Value: value},
	}
	var sel types.Select
	if countOnly {
		sel = types.SelectCount
	}

	if idx, ok := s.config.fieldIndex(collection, field); ok {
		paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
			TableName:                 table,
			IndexName:                 aws.String(idx),
			KeyConditionExpression:    aws.String("#f = :v"),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			Select:                    sel,
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			if err := fn(page.Items, page.Count); err != nil {
				return err
			}
		}
		return nil
	}

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                 table,
		FilterExpression:          aws.String("#f = :v"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConsistentRead:            aws.Bool(true),
		Select:                    sel,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		if err := fn(page.Items, page.Count); err != nil {
			return err
		}
	}
	return nil
}

// UpdateBatch applies all updates in a single transaction: all land or none do.
// Each update must target a distinct existing document. Updates with Expect
// set are also conditioned on the field's current value.
func (s *DynamoStore) UpdateBatch(ctx context.Context, updates []FieldUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	if len(updates) > s.config.BatchLimit {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(updates), s.config.BatchLimit)
	}

	items := make([]types.TransactWriteItem, 0, len(updates))
	for _, u := range updates {
		if err := checkUpdate(u); err != nil {
			return err
		}
		val, err := attributevalue.Marshal(u.Value)
		if err != nil {
			return fmt.Errorf("marshal %s.%s: %w", u.ID, u.Field, err)
		}
		cond := "attribute_exists(id)"
		values := map[string]types.AttributeValue{":v": val}
		if u.Expect != "" {
			cond += " AND (#f = :old OR #f = :v)"
			values[":old"] = &types.AttributeValueMemberS{Value: u.Expect}
		}
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:                 aws.String(s.config.TableName(u.Collection)),
				Key:                       idKey(u.ID),
				UpdateExpression:          aws.String("SET #f = :v"),
				ConditionExpression:       aws.String(cond),
				ExpressionAttributeNames:  map[string]string{"#f": u.Field},
				ExpressionAttributeValues: values,

				// The old item tells a missing document from a changed field.
				ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
			},
		})
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return mapBatchTransactionError(err, updates)
}

// Delete removes a document, returning ErrNotFound if it doesn't exist.
func (s *DynamoStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.config.TableName(collection)),
		Key:                 idKey(id),
		ConditionExpression: aws.String("attribute_exists(id)"),
	})

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return ErrNotFound
	}
	return err
}

// QueryPage returns up to q.Limit documents in (created_at DESC, id DESC)
// order, starting strictly after q.After.
func (s *DynamoStore) QueryPage(ctx context.Context, q PageQuery) ([]*Document, error) {
	if q.Limit < 1 {
		return nil, nil
	}

	keyCond := "#list = :list"
	names := map[string]string{"#list": attrList}
	values := map[string]types.AttributeValue{
		":list": &types.AttributeValueMemberS{Value: q.Collection},
	}
	if q.After != nil {
		keyCond += " AND #order < :after"
		names["#order"] = attrOrder
		values[":after"] = &types.AttributeValueMemberS{
			Value: orderkey.Encode(q.After.CreatedAt, q.After.ID),
		}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.TableName(q.Collection)),
		IndexName:                 aws.String(s.config.OrderIndex),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(false),
	}

	// A page may stop short of Limit at the 1MB response cap.
	var docs []*Document
	for len(docs) < q.Limit {
		input.Limit = aws.Int32(int32(q.Limit - len(docs)))
		page, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			doc, err := unmarshalDocument(q.Collection, raw)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}

	return docs, nil
}

// checkUpdate rejects updates that cannot be applied to a user field.
func checkUpdate(u FieldUpdate) error {
	if u.ID == "" {
		return fmt.Errorf("%w: empty id in %s", ErrNotFound, u.Collection)
	}
	if !validField(u.Field) {
		return fmt.Errorf("%w: %q", ErrInvalidField, u.Field)
	}
	if isManaged(u.Field) {
		return fmt.Errorf("%w: %q", ErrProtectedField, u.Field)
	}
	return nil
}

// mapBatchTransactionError maps DynamoDB transaction errors for UpdateBatch.
func mapBatchTransactionError(err error, updates []FieldUpdate) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil || *reason.Code == "None" {
				continue
			}
			if *reason.Code == "ConditionalCheckFailed" && i < len(updates) {
				u := updates[i]
				if len(reason.Item) > 0 {
					return fmt.Errorf("%w: %s/%s.%s", ErrValueChanged, u.Collection, u.ID, u.Field)
				}
				return fmt.Errorf("%w: %s/%s", ErrNotFound, u.Collection, u.ID)
			}
			return fmt.Errorf("%w: %s", ErrConflict, *reason.Code)
		}
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}

	return err
}

// idKey returns the primary key for a document id.
func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrID: &types.AttributeValueMemberS{Value: id},
	}
}

// marshalDocument converts a prepared Document to a DynamoDB item, adding
// the listing index attributes.
func marshalDocument(doc *Document) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	if item == nil {
		item = map[string]types.AttributeValue{}
	}

	item[AttrID] = &types.AttributeValueMemberS{Value: doc.ID}
	item[AttrCreatedAt] = &types.AttributeValueMemberS{Value: doc.CreatedAt.UTC().Format(time.RFC3339Nano)}
	item[attrList] = &types.AttributeValueMemberS{Value: doc.Collection}
	item[attrOrder] = &types.AttributeValueMemberS{Value: orderkey.Encode(doc.CreatedAt, doc.ID)}

	return item, nil
}

// unmarshalDocument converts a DynamoDB item to a Document.
func unmarshalDocument(collection string, raw map[string]types.AttributeValue) (*Document, error) {
	doc := &Document{Collection: collection}

	if v, ok := raw[AttrID].(*types.AttributeValueMemberS); ok {
		doc.ID = v.Value
	}
	// A zero CreatedAt would sort as the epoch and end a listing early.
	v, ok := raw[AttrCreatedAt].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s has no %s", ErrInvalidTimestamp, collection, doc.ID, AttrCreatedAt)
	}
	created, err := time.Parse(time.RFC3339Nano, v.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %w", ErrInvalidTimestamp, collection, doc.ID, err)
	}
	doc.CreatedAt = created

	rest := make(map[string]types.AttributeValue, len(raw))
	for k, v := range raw {
		if isManaged(k) {
			continue
		}
		rest[k] = v
	}

	doc.Fields = map[string]any{}
	if err := attributevalue.UnmarshalMap(rest, &doc.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal %s/%s: %w", collection, doc.ID, err)
	}
	return doc, nil
}
