package mgo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	mgo "PPDirect/data/database/mgo/mongoutil"
)

func TestWaitReadyBeforeStart(t *testing.T) {
	m := NewManager(&mgo.Config{}, Options{})
	if err := m.WaitReady(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}
	if _, ok := m.TryGetDB(); ok {
		t.Fatalf("TryGetDB should report not ready")
	}
}

func TestStartAsyncStopsOnCancel(t *testing.T) {
	// 无效配置：一直连不上，直到 ctx 取消
	m := NewManager(&mgo.Config{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	m.StartAsync(ctx)

	wctx, wcancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer wcancel()
	if err := m.WaitReady(wctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline", err)
	}
	if m.Err() == nil {
		t.Fatal("connect error not recorded")
	}

	cancel()
	select {
	case <-m.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("manager did not stop")
	}
	if m.Healthy() {
		t.Fatal("stopped manager reports healthy")
	}
}

func TestBackoffBounded(t *testing.T) {
	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		d := backoff(i)
		if d <= 0 || d > maxBackoff {
			t.Fatalf("backoff(%d) = %v", i, d)
		}
		if i < 4 && d < prev {
			t.Fatalf("backoff should grow early on: %v after %v", d, prev)
		}
		prev = d
	}
}

func TestConnectRealMongo(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	m := NewManager(&mgo.Config{Uri: uri, Database: "ppdirect_mgr_test"}, Options{HealthEvery: 100 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartAsync(ctx)

	wctx, wcancel := context.WithTimeout(ctx, 10*time.Second)
	defer wcancel()
	if err := m.WaitReady(wctx); err != nil {
		t.Fatal(err)
	}
	if db, ok := m.TryGetDB(); !ok || db.Name() != "ppdirect_mgr_test" {
		t.Fatalf("db not ready")
	}
}
