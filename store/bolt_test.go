package store_test

import (
	"path/filepath"
	"testing"

	"github.com/aster-run/aster-core/store"
)

func TestBoltStoreSatisfiesEventStoreContract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.bolt")
	s, err := store.NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	defer s.Close()

	assertEventStoreContract(t, s)
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.bolt")
	s, err := store.NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	if _, err := s.Append(nil, "wf", store.WorkflowStarted, map[string]any{"k": "v"}, 0, 0, ""); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := store.NewBoltStore(path)
	if err != nil {
		t.Fatalf("reopen NewBoltStore: %v", err)
	}
	defer reopened.Close()

	events, err := reopened.Events(nil, "wf", 0)
	if err != nil {
		t.Fatalf("Events after reopen: %v", err)
	}
	if len(events) != 1 || events[0].Payload["k"] != "v" {
		t.Fatalf("events did not survive reopen: %+v", events)
	}
}
