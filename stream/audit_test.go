package stream_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/reflink/integrity"
	"github.com/jacentio/reflink/internal/orderkey"
	"github.com/jacentio/reflink/store"
	"github.com/jacentio/reflink/stream"
)

const prefix = "dev-"

func arn(table string) string {
	return "arn:aws:dynamodb:eu-west-1:123456789012:table/" + table + "/stream/2025-09-01T08:00:00.000"
}

func removal(eventID, table, id string) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventID:        eventID,
		EventName:      "REMOVE",
		EventSourceArn: arn(table),
		Change: events.DynamoDBStreamRecord{
			Keys: map[string]events.DynamoDBAttributeValue{
				"id": events.NewStringAttribute(id),
			},
			OldImage: map[string]events.DynamoDBAttributeValue{
				"id":     events.NewStringAttribute(id),
				"_order": events.NewStringAttribute(orderkey.Encode(time.Unix(1700000000, 0), id)),
			},
		},
	}
}

func seed(t *testing.T, m *store.MemoryStore, id, field, value string) {
	t.Helper()
	require.NoError(t, m.Put(context.Background(), &store.Document{
		ID:         id,
		Collection: "challenges",
		Fields:     map[string]any{field: value},
	}))
}

func TestAudit_DanglingAvatar(t *testing.T) {
	m := store.NewMemoryStore(0)
	seed(t, m, "c1", "avatar", "A1")
	seed(t, m, "c2", "avatar", "A1")
	seed(t, m, "c3", "avatar", "A2")

	h := stream.NewHandlerFromStore(m, prefix, nil)

	findings, err := h.Audit(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{removal("e1", "dev-avatars", "A1")},
	})
	require.NoError(t, err)
	require.Len(t, findings, 1)

	want := stream.Finding{
		EntityType: integrity.EntityAvatar,
		EntityID:   "A1",
		Relationship: store.Relationship{
			EntityType:          integrity.EntityAvatar,
			EntityCollection:    "avatars",
			DependentCollection: "challenges",
			Field:               "avatar",
		},
		Count:   2,
		EventID: "e1",
	}
	assert.Empty(t, cmp.Diff(want, findings[0]), "finding mismatch (-want +got)")
}

func TestAudit_CleanRemoval(t *testing.T) {
	m := store.NewMemoryStore(0)
	seed(t, m, "c1", "category_id", "C1")

	h := stream.NewHandlerFromStore(m, prefix, nil)

	findings, err := h.Audit(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{removal("e1", "dev-categories", "C9")},
	})
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestAudit_IgnoresOtherRecords(t *testing.T) {
	m := store.NewMemoryStore(0)
	seed(t, m, "c1", "avatar", "A1")
	m.SetHooks(store.MemoryHooks{
		BeforeQuery: func(collection, field, value string) error {
			t.Errorf("unexpected lookup %s.%s=%s", collection, field, value)
			return nil
		},
	})

	modify := removal("e1", "dev-avatars", "A1")
	modify.EventName = "MODIFY"
	users := removal("e2", "dev-users", "u1")
	foreign := removal("e3", "prod-avatars", "A1")
	badArn := removal("e4", "dev-avatars", "A1")
	badArn.EventSourceArn = "not-an-arn"

	h := stream.NewHandlerFromStore(m, prefix, nil)
	findings, err := h.Audit(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{modify, users, foreign, badArn},
	})
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestAudit_MissingKey(t *testing.T) {
	m := store.NewMemoryStore(0)
	rec := removal("e1", "dev-avatars", "A1")
	rec.Change.Keys = map[string]events.DynamoDBAttributeValue{}

	h := stream.NewHandlerFromStore(m, prefix, nil)
	_, err := h.Audit(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{rec}})
	assert.ErrorIs(t, err, integrity.ErrEmptyEntityID)
}

func TestHandleRemovals_LookupFailureRetries(t *testing.T) {
	m := store.NewMemoryStore(0)
	boom := errors.New("throttled")
	m.SetHooks(store.MemoryHooks{
		BeforeQuery: func(string, string, string) error { return boom },
	})

	h := stream.NewHandlerFromStore(m, prefix, nil)
	err := h.HandleRemovals(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{removal("e1", "dev-avatars", "A1")},
	})
	assert.ErrorIs(t, err, integrity.ErrQueryFailed)
	assert.ErrorIs(t, err, boom, "cause must be preserved")
}

func TestHandleRemovals_FindingsDoNotFail(t *testing.T) {
	m := store.NewMemoryStore(0)
	seed(t, m, "c1", "avatar", "A1")

	h := stream.NewHandlerFromStore(m, prefix, nil)
	err := h.HandleRemovals(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{removal("e1", "dev-avatars", "A1")},
	})
	assert.NoError(t, err, "dangling references must not fail the batch")
}

func TestHandleRemovals_EmptyEvent(t *testing.T) {
	h := stream.NewHandlerFromStore(store.NewMemoryStore(0), prefix, nil)
	assert.NoError(t, h.HandleRemovals(context.Background(), events.DynamoDBEvent{}))
}

// --- ConvertStreamKey Tests ---

func TestConvertStreamKey_String(t *testing.T) {
	key := stream.ConvertStreamKey(map[string]events.DynamoDBAttributeValue{
		"id": events.NewStringAttribute("A1"),
	})
	assert.Equal(t, &types.AttributeValueMemberS{Value: "A1"}, key["id"])
}

func TestConvertStreamKey_Nil(t *testing.T) {
	key := stream.ConvertStreamKey(nil)
	require.NotNil(t, key)
	assert.Empty(t, key)
}

func TestConvertStreamKey_MixedTypes(t *testing.T) {
	key := stream.ConvertStreamKey(map[string]events.DynamoDBAttributeValue{
		"id":      events.NewStringAttribute("test-id"),
		"version": events.NewNumberAttribute("42"),
		"data":    events.NewBinaryAttribute([]byte{0x01}),
		"flag":    events.NewBooleanAttribute(true),
	})
	assert.Len(t, key, 3)
	assert.Equal(t, &types.AttributeValueMemberN{Value: "42"}, key["version"])
	assert.IsType(t, &types.AttributeValueMemberB{}, key["data"])
}
