package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/cytoscape/jupyter-bridge/internal/bridge"
	"github.com/cytoscape/jupyter-bridge/internal/bridge/memstore"
)

func TestSetGetDeleteField(t *testing.T) {
	s := memstore.New(memstore.WithEvictionInterval(time.Hour))
	defer s.Close()
	ctx := context.Background()

	if _, ok, err := s.GetField(ctx, "c1", bridge.Request, bridge.FieldMessage); err != nil || ok {
		t.Fatalf("expected absent field, got ok=%v err=%v", ok, err)
	}

	if err := s.SetFields(ctx, "c1", bridge.Request, bridge.Fields{bridge.FieldMessage: []byte("hi")}); err != nil {
		t.Fatalf("set_fields: %v", err)
	}

	v, ok, err := s.GetField(ctx, "c1", bridge.Request, bridge.FieldMessage)
	if err != nil || !ok || string(v) != "hi" {
		t.Fatalf("got v=%q ok=%v err=%v", v, ok, err)
	}

	n, err := s.DeleteField(ctx, "c1", bridge.Request, bridge.FieldMessage, false)
	if err != nil || n != 1 {
		t.Fatalf("delete_field: n=%d err=%v", n, err)
	}

	// A second, non-permissive delete on an absent field is an error.
	if _, err := s.DeleteField(ctx, "c1", bridge.Request, bridge.FieldMessage, false); err == nil {
		t.Fatal("expected error deleting already-absent field non-permissively")
	}

	// Permissive delete tolerates the absent field.
	n, err = s.DeleteField(ctx, "c1", bridge.Request, bridge.FieldMessage, true)
	if err != nil || n != 0 {
		t.Fatalf("permissive delete_field: n=%d err=%v", n, err)
	}
}

func TestRequestAndReplySlotsAreIndependent(t *testing.T) {
	s := memstore.New(memstore.WithEvictionInterval(time.Hour))
	defer s.Close()
	ctx := context.Background()

	if err := s.SetFields(ctx, "c1", bridge.Request, bridge.Fields{bridge.FieldMessage: []byte("req")}); err != nil {
		t.Fatalf("set request: %v", err)
	}

	if exists, err := s.Exists(ctx, "c1", bridge.Reply); err != nil || exists {
		t.Fatalf("reply slot should be untouched: exists=%v err=%v", exists, err)
	}

	v, ok, err := s.GetField(ctx, "c1", bridge.Request, bridge.FieldMessage)
	if err != nil || !ok || string(v) != "req" {
		t.Fatalf("got v=%q ok=%v err=%v", v, ok, err)
	}
}

func TestExpireReapsOnlyPastDeadline(t *testing.T) {
	s := memstore.New(memstore.WithEvictionInterval(5 * time.Millisecond))
	defer s.Close()
	ctx := context.Background()

	if err := s.SetFields(ctx, "short", bridge.Request, bridge.Fields{bridge.FieldMessage: []byte("x")}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Expire(ctx, "short", bridge.Request, 20*time.Millisecond); err != nil {
		t.Fatalf("expire: %v", err)
	}

	if err := s.SetFields(ctx, "long", bridge.Request, bridge.Fields{bridge.FieldMessage: []byte("x")}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Expire(ctx, "long", bridge.Request, time.Hour); err != nil {
		t.Fatalf("expire: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		shortExists, err := s.Exists(ctx, "short", bridge.Request)
		if err != nil {
			t.Fatalf("exists: %v", err)
		}
		if !shortExists {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if exists, _ := s.Exists(ctx, "short", bridge.Request); exists {
		t.Fatal("expected short-lived slot to be reaped")
	}
	if exists, _ := s.Exists(ctx, "long", bridge.Request); !exists {
		t.Fatal("expected long-lived slot to survive")
	}
}
