package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(logrus.InfoLevel, &bytes.Buffer{}), 0)
	if sm.shutdownTimeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", sm.shutdownTimeout)
	}
}

func TestShutdownManager_Shutdown(t *testing.T) {
	server := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	var calls int32
	sm := NewShutdownManager(NewLogger(logrus.InfoLevel, &bytes.Buffer{}), time.Second, server)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected 2 shutdown funcs to run, got %d", got)
	}
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewLogger(logrus.InfoLevel, &bytes.Buffer{}), time.Second)
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return errors.New("redis close failed") })
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })

	err := sm.Shutdown(context.Background())
	if err == nil || err.Error() != "shutdown completed with 1 errors" {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestShutdownManager_Timeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(logrus.InfoLevel, &bytes.Buffer{}), time.Second)
	release := make(chan struct{})
	defer close(release)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := sm.Shutdown(ctx); err == nil {
		t.Error("Expected timeout error")
	}
}
