package decode

import "testing"

type typingPayload struct {
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
	Count      int64  `json:"count"`
}

func TestDecodeWeaklyTyped(t *testing.T) {
	got, err := Decode[typingPayload](map[string]any{
		"receiverId": float64(1234567),
		"isTyping":   "true",
		"count":      float64(3),
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ReceiverID != "1234567" || !got.IsTyping || got.Count != 3 {
		t.Fatalf("unexpected decode result: %+v", got)
	}
}

func TestDecodeNilMap(t *testing.T) {
	got, err := Decode[typingPayload](nil)
	if err != nil || got == nil {
		t.Fatalf("nil map should decode to zero value, got %v %v", got, err)
	}
}

func TestDecodeStrictUnused(t *testing.T) {
	_, err := Decode[typingPayload](map[string]any{"bogus": 1}, Options{WeaklyTypedInput: true, ErrorUnused: true})
	if err == nil {
		t.Fatalf("expected unused-field error")
	}
}
