package logger

import "testing"

func TestInitLevels(t *testing.T) {
	for _, lvl := range []string{"debug", "INFO", " warn ", "error"} {
		if err := Init(lvl, "json"); err != nil {
			t.Fatalf("Init(%q): %v", lvl, err)
		}
	}
	if err := Init("loud", "console"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if err := Init("debug", "console"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	With().Debug("child logger works")
}
