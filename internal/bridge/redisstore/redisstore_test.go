package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cytoscape/jupyter-bridge/internal/bridge"
	"github.com/cytoscape/jupyter-bridge/internal/bridge/redisstore"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available, skipping: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestSetGetDeleteField(t *testing.T) {
	client := newTestClient(t)
	s := redisstore.New(client)
	ctx := context.Background()

	if _, ok, err := s.GetField(ctx, "test:c1", bridge.Request, bridge.FieldMessage); err != nil || ok {
		t.Fatalf("expected absent field, got ok=%v err=%v", ok, err)
	}

	if err := s.SetFields(ctx, "test:c1", bridge.Request, bridge.Fields{bridge.FieldMessage: []byte("hi")}); err != nil {
		t.Fatalf("set_fields: %v", err)
	}

	v, ok, err := s.GetField(ctx, "test:c1", bridge.Request, bridge.FieldMessage)
	if err != nil || !ok || string(v) != "hi" {
		t.Fatalf("got v=%q ok=%v err=%v", v, ok, err)
	}

	n, err := s.DeleteField(ctx, "test:c1", bridge.Request, bridge.FieldMessage, false)
	if err != nil || n != 1 {
		t.Fatalf("delete_field: n=%d err=%v", n, err)
	}
}

func TestExpireAndExists(t *testing.T) {
	client := newTestClient(t)
	s := redisstore.New(client)
	ctx := context.Background()

	if err := s.SetFields(ctx, "test:c2", bridge.Reply, bridge.Fields{bridge.FieldMessage: []byte("x")}); err != nil {
		t.Fatalf("set_fields: %v", err)
	}
	if err := s.Expire(ctx, "test:c2", bridge.Reply, time.Hour); err != nil {
		t.Fatalf("expire: %v", err)
	}

	exists, err := s.Exists(ctx, "test:c2", bridge.Reply)
	if err != nil || !exists {
		t.Fatalf("exists=%v err=%v", exists, err)
	}
}
