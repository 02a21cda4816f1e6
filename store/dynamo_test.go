package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/reflink/internal/orderkey"
)

// fakeDynamo records the last input of each call and returns canned outputs.
type fakeDynamo struct {
	getOut    *dynamodb.GetItemOutput
	putErr    error
	deleteErr error
	txErr     error
	queryOuts []*dynamodb.QueryOutput
	scanOuts  []*dynamodb.ScanOutput

	lastGet    *dynamodb.GetItemInput
	lastPut    *dynamodb.PutItemInput
	lastDelete *dynamodb.DeleteItemInput
	queries    []dynamodb.QueryInput
	scans      []dynamodb.ScanInput
	lastTx     *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGet = in
	if f.getOut == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.getOut, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPut = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.lastDelete = in
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, *in)
	if len(f.queryOuts) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[0]
	f.queryOuts = f.queryOuts[1:]
	return out, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scans = append(f.scans, *in)
	if len(f.scanOuts) == 0 {
		return &dynamodb.ScanOutput{}, nil
	}
	out := f.scanOuts[0]
	f.scanOuts = f.scanOuts[1:]
	return out, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTx = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func str(v string) *types.AttributeValueMemberS { return &types.AttributeValueMemberS{Value: v} }

// item returns a stored item with a valid created_at.
func item(id string, attrs map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := map[string]types.AttributeValue{
		"id":         str(id),
		"created_at": str("2025-06-01T12:00:00Z"),
	}
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// --- Config Tests ---

func TestConfigValidate_Defaults(t *testing.T) {
	c := Config{}
	c.validate()

	assert.Equal(t, "order-index", c.OrderIndex)
	assert.Equal(t, MaxTransactItems, c.BatchLimit)
	assert.NotNil(t, c.FieldIndexes)
}

func TestConfigValidate_ClampsBatchLimit(t *testing.T) {
	c := Config{BatchLimit: 500}
	c.validate()
	assert.Equal(t, MaxTransactItems, c.BatchLimit)

	c = Config{BatchLimit: 25}
	c.validate()
	assert.Equal(t, 25, c.BatchLimit)
}

func TestConfigTableName(t *testing.T) {
	c := Config{TablePrefix: "prod-"}
	assert.Equal(t, "prod-avatars", c.TableName("avatars"))
}

// --- Marshal Tests ---

func TestMarshalDocument_AddsIndexAttributes(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 5, time.UTC)
	doc := &Document{
		ID:         "u1",
		Collection: "users",
		CreatedAt:  created,
		Fields:     map[string]any{"name": "Dana", "seats": 3},
	}

	got, err := marshalDocument(doc)
	require.NoError(t, err)

	assert.Equal(t, str("u1"), got[AttrID])
	assert.Equal(t, str("users"), got[attrList])
	assert.Equal(t, str(orderkey.Encode(created, "u1")), got[attrOrder])
	assert.Equal(t, &types.AttributeValueMemberN{Value: "3"}, got["seats"])
}

func TestPrepare_Rejects(t *testing.T) {
	assert.ErrorIs(t, prepare(&Document{Collection: "users"}), ErrInvalidField)

	doc := &Document{ID: "u1", Fields: map[string]any{"_order": "x"}}
	assert.ErrorIs(t, prepare(doc), ErrProtectedField)

	doc = &Document{ID: "u1", CreatedAt: time.Unix(-1, 0)}
	assert.ErrorIs(t, prepare(doc), ErrInvalidTimestamp)
}

func TestUnmarshalDocument_StripsManagedAttributes(t *testing.T) {
	raw := map[string]types.AttributeValue{
		"id":         str("c1"),
		"created_at": str("2025-06-01T12:00:00.000000005Z"),
		"_list":      str("challenges"),
		"_order":     str("whatever"),
		"avatar":     str("A1"),
		"points":     &types.AttributeValueMemberN{Value: "10"},
	}

	doc, err := unmarshalDocument("challenges", raw)
	require.NoError(t, err)

	assert.Equal(t, "c1", doc.ID)
	assert.Equal(t, "challenges", doc.Collection)
	assert.Equal(t, 5, doc.CreatedAt.Nanosecond(), "nanosecond precision")
	assert.Len(t, doc.Fields, 2)
	assert.Equal(t, "A1", doc.String("avatar"))
	assert.Equal(t, float64(10), doc.Fields["points"])
}

func TestUnmarshalDocument_BadCreatedAt(t *testing.T) {
	_, err := unmarshalDocument("users", map[string]types.AttributeValue{"id": str("u1")})
	assert.ErrorIs(t, err, ErrInvalidTimestamp)

	_, err = unmarshalDocument("users", map[string]types.AttributeValue{
		"id":         str("u1"),
		"created_at": str("last tuesday"),
	})
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
	assert.Contains(t, err.Error(), "users/u1")
}

// --- Operation Tests ---

func TestDynamoGet_NotFound(t *testing.T) {
	fake := &fakeDynamo{}
	s := NewDynamoStore(fake, Config{TablePrefix: "t-"})

	_, err := s.Get(context.Background(), "avatars", "A1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "t-avatars", aws.ToString(fake.lastGet.TableName))
	assert.True(t, aws.ToBool(fake.lastGet.ConsistentRead), "consistent read")
}

func TestDynamoPut_AlreadyExists(t *testing.T) {
	fake := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{}}
	s := NewDynamoStore(fake, DefaultConfig())

	err := s.Put(context.Background(), &Document{ID: "A1", Collection: "avatars"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, "attribute_not_exists(id)", aws.ToString(fake.lastPut.ConditionExpression))
}

func TestDynamoPut_RejectsPreEpoch(t *testing.T) {
	fake := &fakeDynamo{}
	s := NewDynamoStore(fake, DefaultConfig())

	err := s.Put(context.Background(), &Document{
		ID:         "u1",
		Collection: "users",
		CreatedAt:  time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
	assert.Nil(t, fake.lastPut, "no item may be written")
}

func TestDynamoDelete_NotFound(t *testing.T) {
	fake := &fakeDynamo{deleteErr: &types.ConditionalCheckFailedException{}}
	s := NewDynamoStore(fake, DefaultConfig())

	assert.ErrorIs(t, s.Delete(context.Background(), "avatars", "A1"), ErrNotFound)
}

func TestDynamoUpdateBatch_BuildsTransaction(t *testing.T) {
	fake := &fakeDynamo{}
	s := NewDynamoStore(fake, DefaultConfig())

	err := s.UpdateBatch(context.Background(), []FieldUpdate{
		{Collection: "challenges", ID: "c1", Field: "avatar", Value: "A2"},
		{Collection: "challenges", ID: "c2", Field: "avatar", Value: "A2"},
	})
	require.NoError(t, err)

	require.Len(t, fake.lastTx.TransactItems, 2)
	upd := fake.lastTx.TransactItems[1].Update
	require.NotNil(t, upd)
	assert.Equal(t, "SET #f = :v", aws.ToString(upd.UpdateExpression))
	assert.Equal(t, "attribute_exists(id)", aws.ToString(upd.ConditionExpression))
	assert.Equal(t, "avatar", upd.ExpressionAttributeNames["#f"])
	assert.Equal(t, str("A2"), upd.ExpressionAttributeValues[":v"])
	assert.NotContains(t, upd.ExpressionAttributeValues, ":old")
	assert.Equal(t, str("c2"), upd.Key["id"])
}

func TestDynamoUpdateBatch_ConditionsOnExpectedValue(t *testing.T) {
	fake := &fakeDynamo{}
	s := NewDynamoStore(fake, DefaultConfig())

	err := s.UpdateBatch(context.Background(), []FieldUpdate{
		{Collection: "challenges", ID: "c1", Field: "avatar", Value: "A2", Expect: "A1"},
	})
	require.NoError(t, err)

	upd := fake.lastTx.TransactItems[0].Update
	assert.Equal(t, "attribute_exists(id) AND (#f = :old OR #f = :v)", aws.ToString(upd.ConditionExpression))
	assert.Equal(t, str("A1"), upd.ExpressionAttributeValues[":old"])
	assert.Equal(t, types.ReturnValuesOnConditionCheckFailureAllOld, upd.ReturnValuesOnConditionCheckFailure)
}

func TestDynamoUpdateBatch_TooLarge(t *testing.T) {
	fake := &fakeDynamo{}
	s := NewDynamoStore(fake, Config{BatchLimit: 1})

	err := s.UpdateBatch(context.Background(), []FieldUpdate{
		{Collection: "challenges", ID: "c1", Field: "avatar", Value: "A2"},
		{Collection: "challenges", ID: "c2", Field: "avatar", Value: "A2"},
	})
	assert.ErrorIs(t, err, ErrBatchTooLarge)
	assert.Nil(t, fake.lastTx, "no transaction may be sent")
}

func TestMapBatchTransactionError(t *testing.T) {
	updates := []FieldUpdate{
		{Collection: "challenges", ID: "c1", Field: "avatar"},
		{Collection: "challenges", ID: "c2", Field: "avatar"},
	}

	tests := []struct {
		name    string
		err     error
		wantIs  error
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{
			name: "missing document",
			err: &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
				{Code: aws.String("None")},
				{Code: aws.String("ConditionalCheckFailed")},
			}},
			wantIs: ErrNotFound,
		},
		{
			name: "changed field",
			err: &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
				{Code: aws.String("ConditionalCheckFailed"), Item: map[string]types.AttributeValue{
					"id":     str("c1"),
					"avatar": str("A3"),
				}},
			}},
			wantIs: ErrValueChanged,
		},
		{
			name: "conflict",
			err: &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
				{Code: aws.String("TransactionConflict")},
			}},
			wantIs: ErrConflict,
		},
		{name: "passthrough", err: errors.New("network"), wantIs: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapBatchTransactionError(tt.err, updates)
			switch {
			case tt.wantNil:
				assert.NoError(t, got)
			case tt.wantIs == nil:
				assert.Same(t, tt.err, got)
			default:
				assert.ErrorIs(t, got, tt.wantIs)
			}
		})
	}
}

func TestDynamoQueryEqual_UsesIndexWhenConfigured(t *testing.T) {
	fake := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{
			item("c1", map[string]types.AttributeValue{"avatar": str("A1")}),
		},
	}}}
	s := NewDynamoStore(fake, Config{FieldIndexes: map[string]string{"challenges.avatar": "avatar-index"}})

	docs, err := s.QueryEqual(context.Background(), "challenges", "avatar", "A1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "c1", docs[0].ID)
	require.Len(t, fake.queries, 1)
	assert.Equal(t, "avatar-index", aws.ToString(fake.queries[0].IndexName))
	assert.Empty(t, fake.scans)
}

func TestDynamoCountEqual_ScansWithoutIndex(t *testing.T) {
	fake := &fakeDynamo{scanOuts: []*dynamodb.ScanOutput{
		{Count: 2, LastEvaluatedKey: map[string]types.AttributeValue{"id": str("c2")}},
		{Count: 1},
	}}
	s := NewDynamoStore(fake, DefaultConfig())

	n, err := s.CountEqual(context.Background(), "challenges", "category_id", "C9")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, fake.scans, 2)
	assert.Equal(t, types.SelectCount, fake.scans[0].Select)
	assert.True(t, aws.ToBool(fake.scans[0].ConsistentRead), "consistent scan")
}

func TestDynamoQueryPage_KeyConditionAndPaging(t *testing.T) {
	created := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{item("u9", nil)},
			LastEvaluatedKey: map[string]types.AttributeValue{"id": str("u9")},
		},
		{
			Items: []map[string]types.AttributeValue{item("u8", nil)},
		},
	}}
	s := NewDynamoStore(fake, DefaultConfig())

	after := Position{CreatedAt: created, ID: "u10"}
	docs, err := s.QueryPage(context.Background(), PageQuery{Collection: "users", After: &after, Limit: 3})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Len(t, fake.queries, 2)

	first := fake.queries[0]
	assert.Equal(t, "#list = :list AND #order < :after", aws.ToString(first.KeyConditionExpression))
	assert.False(t, aws.ToBool(first.ScanIndexForward), "descending scan")
	assert.Equal(t, int32(3), aws.ToInt32(first.Limit))
	assert.Equal(t, str(orderkey.Encode(created, "u10")), first.ExpressionAttributeValues[":after"])
	assert.Equal(t, int32(2), aws.ToInt32(fake.queries[1].Limit))
}

func TestDynamoQueryPage_MalformedItemFails(t *testing.T) {
	fake := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{{"id": str("u9")}},
	}}}
	s := NewDynamoStore(fake, DefaultConfig())

	_, err := s.QueryPage(context.Background(), PageQuery{Collection: "users", Limit: 2})
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
}

func TestDynamoQueryPage_ZeroLimit(t *testing.T) {
	fake := &fakeDynamo{}
	s := NewDynamoStore(fake, DefaultConfig())

	docs, err := s.QueryPage(context.Background(), PageQuery{Collection: "users"})
	assert.NoError(t, err)
	assert.Nil(t, docs)
	assert.Empty(t, fake.queries)
}
