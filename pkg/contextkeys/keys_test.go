package contextkeys

import (
	"context"
	"testing"
)

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID() on empty context = %q", got)
	}

	ctx = WithRequestID(ctx, "req-1")
	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID() = %q, want req-1", got)
	}
}

func TestWithAuth(t *testing.T) {
	type authValue struct{ id int }
	ctx := WithAuth(context.Background(), &authValue{id: 3})

	got, ok := ctx.Value(AuthKey).(*authValue)
	if !ok || got.id != 3 {
		t.Errorf("AuthKey value = %v", ctx.Value(AuthKey))
	}
}
