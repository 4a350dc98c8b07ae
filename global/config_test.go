package global

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"PPDirect/global/config"
	"PPDirect/module/chat/event"
	"PPDirect/module/chat/model"
	"PPDirect/module/chat/store/memory"
	"PPDirect/module/chat/store/sqlstore"
)

func TestConfigAllDefaultsToLocalComponents(t *testing.T) {
	ctx := context.Background()
	rt, err := ConfigAll(ctx, config.TestConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close(ctx)

	if _, ok := rt.Store.(*memory.Store); !ok {
		t.Fatalf("store = %T, want memory", rt.Store)
	}
	if _, ok := rt.Sink.(event.NopSink); !ok {
		t.Fatalf("sink = %T, want NopSink", rt.Sink)
	}
	if rt.Mirror != nil {
		t.Fatalf("mirror should be off without redis addr")
	}
}

func TestConfigStoreSqlite(t *testing.T) {
	ctx := context.Background()
	c := config.TestConfig().Storage
	c.Backend = config.BackendSqlite
	c.SqlitePath = filepath.Join(t.TempDir(), "direct.db")

	st, err := ConfigStore(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close(ctx)
	if _, ok := st.(*sqlstore.Store); !ok {
		t.Fatalf("store = %T", st)
	}
	if err := st.PutIdentity(ctx, model.Identity{ID: "u1", Name: "One"}); err != nil {
		t.Fatal(err)
	}
	if got, err := st.GetIdentity(ctx, "u1"); err != nil || got.Name != "One" {
		t.Fatalf("GetIdentity = %+v, %v", got, err)
	}
}

func TestServiceConfigCarriesAuth(t *testing.T) {
	cfg := config.TestConfig()
	sc := ServiceConfig(cfg)
	if string(sc.Token.Secret) != cfg.Auth.Secret || sc.MaxContentLen != cfg.Chat.MaxContentLen {
		t.Fatalf("service config = %+v", sc)
	}
}

func TestConfigSinkWrapsOutletsInQueue(t *testing.T) {
	if _, ok := ConfigSink(nil, config.TestConfig().Events).(event.NopSink); !ok {
		t.Fatalf("no outlet should give NopSink")
	}

	got := make(chan string, 2)
	outlet := event.SinkFunc(func(_ context.Context, r event.Record) error {
		got <- r.Key
		return nil
	})
	s := ConfigSink([]event.Sink{outlet, outlet}, config.EventsConfig{Queue: 4, Timeout: time.Second})
	as, ok := s.(*event.AsyncSink)
	if !ok {
		t.Fatalf("sink = %T, want *event.AsyncSink", s)
	}
	if err := s.Emit(context.Background(), event.NewRecord(event.KindMessageRead, "chat-1", nil)); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := as.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("each outlet should get the record once, got %d", len(got))
	}
}
