package db

import (
	"context"
	"testing"
)

func TestNewPoolRejectsEmptyConnString(t *testing.T) {
	if _, err := NewPool(context.Background(), "", PoolOptions{}); err == nil {
		t.Fatal("expected error for empty connection string")
	}
}

func TestNewPoolRejectsMalformedConnString(t *testing.T) {
	if _, err := NewPool(context.Background(), "postgres://user@host:notaport/db", PoolOptions{MaxConns: 4}); err == nil {
		t.Fatal("expected parse error")
	}
}
