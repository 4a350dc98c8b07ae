package sqlstore

import (
	"path/filepath"
	"testing"

	"PPDirect/module/chat/store"
	"PPDirect/module/chat/store/storetest"
)

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(filepath.Join(t.TempDir(), "ppdirect.db"))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return s
	})
}
