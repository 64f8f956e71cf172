package refreshcache

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/goforj/refreshcache/cachecore"
	"github.com/goforj/refreshcache/cachetest"
)

// dynStub keeps items in memory and evaluates the condition expressions the
// store issues.
type dynStub struct {
	mu      sync.Mutex
	items   map[string]map[string]types.AttributeValue
	tables  int
	getErr  error
	putErr  error
	descErr error
}

func newDynStub() *dynStub { return &dynStub{items: map[string]map[string]types.AttributeValue{}} }

func (d *dynStub) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.getErr != nil {
		return nil, d.getErr
	}
	key := in.Key["k"].(*types.AttributeValueMemberS).Value
	item, ok := d.items[key]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (d *dynStub) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.putErr != nil {
		return nil, d.putErr
	}
	key := in.Item["k"].(*types.AttributeValueMemberS).Value
	if !d.conditionHolds(key, in.ConditionExpression, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	d.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (d *dynStub) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := in.Key["k"].(*types.AttributeValueMemberS).Value
	if !d.conditionHolds(key, in.ConditionExpression, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	delete(d.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (d *dynStub) CreateTable(context.Context, *dynamodb.CreateTableInput, ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables++
	return &dynamodb.CreateTableOutput{}, nil
}

func (d *dynStub) DescribeTable(context.Context, *dynamodb.DescribeTableInput, ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if d.descErr != nil {
		return nil, d.descErr
	}
	return nil, &types.ResourceNotFoundException{}
}

func (d *dynStub) conditionHolds(key string, expr *string, values map[string]types.AttributeValue) bool {
	if expr == nil {
		return true
	}
	item, exists := d.items[key]
	now, _ := strconv.ParseInt(values[":now"].(*types.AttributeValueMemberN).Value, 10, 64)
	var exp int64
	if exists {
		exp, _ = strconv.ParseInt(item["ea"].(*types.AttributeValueMemberN).Value, 10, 64)
	}
	switch *expr {
	case dynamoAbsentCondition:
		return !exists || exp < now
	case dynamoLiveCondition:
		if !exists || exp < now {
			return false
		}
		want := values[":v"].(*types.AttributeValueMemberB).Value
		return bytes.Equal(item["v"].(*types.AttributeValueMemberB).Value, want)
	default:
		return false
	}
}

func newTestDynamoStore(t *testing.T, stub *dynStub) Store {
	t.Helper()
	store, err := newDynamoStore(context.Background(), StoreConfig{
		BaseConfig:   cachecore.BaseConfig{Prefix: "p", DefaultTTL: time.Minute},
		DynamoClient: stub,
		DynamoTable:  "tbl",
	})
	if err != nil {
		t.Fatalf("store create failed: %v", err)
	}
	return store
}

func TestDynamoStoreBasicOperations(t *testing.T) {
	stub := newDynStub()
	store := newTestDynamoStore(t, stub)
	if stub.tables != 1 {
		t.Fatalf("expected table to be created, got %d", stub.tables)
	}

	ctx := context.Background()
	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, ok := stub.items["p:k"]; !ok {
		t.Fatalf("expected prefixed item key")
	}
	body, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || string(body) != "v" {
		t.Fatalf("get failed: ok=%v err=%v val=%s", ok, err, string(body))
	}

	if created, err := store.Add(ctx, "k", []byte("v2"), time.Minute); err != nil || created {
		t.Fatalf("add should fail existing: created=%v err=%v", created, err)
	}
	if deleted, err := store.CompareAndDelete(ctx, "k", []byte("v2")); err != nil || deleted {
		t.Fatalf("mismatched compare-and-delete should keep item: deleted=%v err=%v", deleted, err)
	}
	if extended, err := store.CompareAndExpire(ctx, "k", []byte("v"), time.Hour); err != nil || !extended {
		t.Fatalf("compare-and-expire failed: extended=%v err=%v", extended, err)
	}
	if deleted, err := store.CompareAndDelete(ctx, "k", []byte("v")); err != nil || !deleted {
		t.Fatalf("compare-and-delete failed: deleted=%v err=%v", deleted, err)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
}

func TestDynamoStoreContractWithStub(t *testing.T) {
	cachetest.RunStoreContract(t, newTestDynamoStore(t, newDynStub()), cachetest.Options{})
}

func TestDynamoStoreErrors(t *testing.T) {
	ctx := context.Background()
	stub := newDynStub()
	store := newTestDynamoStore(t, stub)

	boom := errors.New("throttled")
	stub.getErr = boom
	if _, _, err := store.Get(ctx, "k"); !errors.Is(err, boom) {
		t.Fatalf("expected get error, got %v", err)
	}
	stub.putErr = boom
	if _, err := store.Add(ctx, "k", []byte("v"), time.Second); !errors.Is(err, boom) {
		t.Fatalf("expected add error, got %v", err)
	}

	stub.items["p:bad"] = map[string]types.AttributeValue{
		"k":  &types.AttributeValueMemberS{Value: "p:bad"},
		"ea": &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(time.Hour).UnixMilli(), 10)},
	}
	stub.getErr = nil
	if _, _, err := store.Get(ctx, "bad"); err == nil {
		t.Fatalf("expected error for item without value")
	}
}

func TestEnsureDynamoTableStopsOnPermanentError(t *testing.T) {
	stub := newDynStub()
	stub.descErr = errors.New("access denied")
	if err := ensureDynamoTable(context.Background(), stub, "tbl"); err == nil {
		t.Fatalf("expected describe error")
	}
}
