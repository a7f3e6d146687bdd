package store

import (
	"context"
	"testing"
)

func TestInMemorySaveAndTranscript(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for _, text := range []string{"first", "second", "third"} {
		if err := s.SaveUtterance(ctx, UtteranceRecord{SessionID: "s1", Text: text}); err != nil {
			t.Fatalf("SaveUtterance(%q) error = %v", text, err)
		}
	}
	if err := s.SaveUtterance(ctx, UtteranceRecord{SessionID: "s2", Text: "other"}); err != nil {
		t.Fatalf("SaveUtterance error = %v", err)
	}

	got, err := s.SessionTranscript(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("SessionTranscript() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Text != "first" || got[2].Text != "third" {
		t.Fatalf("transcript out of order: %+v", got)
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("record defaults not applied: %+v", got[0])
	}
}

func TestInMemoryTranscriptLimit(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	for _, text := range []string{"a", "b", "c", "d"} {
		_ = s.SaveUtterance(ctx, UtteranceRecord{SessionID: "s1", Text: text})
	}

	got, err := s.SessionTranscript(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("SessionTranscript() error = %v", err)
	}
	if len(got) != 2 || got[0].Text != "c" || got[1].Text != "d" {
		t.Fatalf("limited transcript = %+v, want last two", got)
	}
}

func TestInMemoryUnknownSession(t *testing.T) {
	s := NewInMemoryStore()
	got, err := s.SessionTranscript(context.Background(), "missing", 10)
	if err != nil {
		t.Fatalf("SessionTranscript() error = %v", err)
	}
	if got != nil {
		t.Fatalf("unknown session should yield nil, got %+v", got)
	}
}

func TestFactoryDefaultsToInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), " ")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("store type = %T, want *InMemoryStore", s)
	}
}
