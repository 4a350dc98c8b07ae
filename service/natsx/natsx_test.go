package natsx

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"PPDirect/module/chat/event"
)

func TestParseMode(t *testing.T) {
	cases := map[string]NatsxMode{
		"core":    Core,
		"CORE":    Core,
		"js_push": JetStream,
		"js":      JetStream,
		"js_pull": JetStream,
		"":        Core,
		"weird":   Core,
	}
	for in, want := range cases {
		if got := ParseMode(in); got != want {
			t.Errorf("ParseMode(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestEventSinkCore(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	mgr, err := NewNatsManager(NatsxConfig{Servers: []string{url}, Name: "ppdirect-test"})
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()

	subject := "ppdirect.test." + time.Now().Format("150405.000000")
	sink, err := NewEventSink(mgr, subject, Core, map[string]string{"app": "ppdirect"})
	if err != nil {
		t.Fatal(err)
	}
	sub, err := mgr.client.nc.SubscribeSync(subject)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()
	// 确保订阅已生效
	if err := mgr.client.nc.Flush(); err != nil {
		t.Fatal(err)
	}

	rec := event.NewRecord(event.KindMessageRead, "chat-1", event.MessageReadPayload{ChatID: "chat-1", ReaderID: "u2", Flipped: 3})
	if err := sink.Emit(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	m, err := sub.NextMsg(3 * time.Second)
	if err != nil {
		t.Fatalf("no message received: %v", err)
	}
	if m.Header.Get("Nats-Msg-Id") != rec.ID || m.Header.Get("Event-Kind") != event.KindMessageRead || m.Header.Get("app") != "ppdirect" {
		t.Fatalf("headers = %v", m.Header)
	}
	var back event.Record
	if err := json.Unmarshal(m.Data, &back); err != nil || back.ID != rec.ID || back.Key != "chat-1" {
		t.Fatalf("payload = %s (%v)", m.Data, err)
	}
}
