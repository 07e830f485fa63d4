package usage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/hermitd/internal/llm"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Every pooled connection would get its own :memory: database.
	db.SetMaxOpenConns(1)

	s, err := NewStore(db)
	if err != nil {
		db.Close()
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecord_And_Summary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, RequestID: "r1", SessionID: 0, User: "max", Provider: "anthropic",
			Model: "claude-3-5-sonnet-20240620", InputTokens: 1000, OutputTokens: 50, Duration: 800 * time.Millisecond},
		{Timestamp: now, RequestID: "r2", SessionID: 1, User: "ada", Provider: "ollama",
			Model: "llama3", InputTokens: 2000, OutputTokens: 100, Duration: 2 * time.Second},
		{Timestamp: now, RequestID: "r3", SessionID: 0, User: "max", Provider: "ollama",
			Model: "llama3", InputTokens: 500, OutputTokens: 10, Duration: 200 * time.Millisecond},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	start, end := now.Add(-time.Minute), now.Add(time.Minute)
	sum, err := s.Summary(ctx, start, end)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 3 || sum.TotalInputTokens != 3500 || sum.TotalOutputTokens != 160 {
		t.Errorf("Summary = %+v", sum)
	}
	if sum.TotalDuration != 3*time.Second {
		t.Errorf("TotalDuration = %v, want 3s", sum.TotalDuration)
	}

	byModel, err := s.SummaryByModel(ctx, start, end)
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if got := byModel["llama3"]; got == nil || got.TotalRecords != 2 || got.TotalInputTokens != 2500 {
		t.Errorf("llama3 = %+v", got)
	}

	byUser, err := s.SummaryByUser(ctx, start, end)
	if err != nil {
		t.Fatalf("SummaryByUser: %v", err)
	}
	if got := byUser["max"]; got == nil || got.TotalRecords != 2 || got.TotalOutputTokens != 60 {
		t.Errorf("max = %+v", got)
	}
}

func TestSummary_Empty(t *testing.T) {
	s := testStore(t)
	now := time.Now()

	sum, err := s.Summary(context.Background(), now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 0 || sum.TotalInputTokens != 0 {
		t.Errorf("Summary on empty store = %+v", sum)
	}
}

func TestSummary_Window(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = s.Record(ctx, Record{Timestamp: now.Add(-2 * time.Hour), RequestID: "old", User: "max", Provider: "ollama", Model: "llama3", InputTokens: 1})
	_ = s.Record(ctx, Record{Timestamp: now, RequestID: "new", User: "max", Provider: "ollama", Model: "llama3", InputTokens: 2})

	sum, err := s.Summary(ctx, now.Add(-time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalRecords != 1 || sum.TotalInputTokens != 2 {
		t.Errorf("windowed Summary = %+v, want only the recent record", sum)
	}
}

func TestRecord_GeneratesID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for range 2 {
		if err := s.Record(ctx, Record{RequestID: "r", User: "max", Provider: "ollama", Model: "llama3"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(DISTINCT id) FROM usage_records`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("distinct ids = %d, want 2", n)
	}
}

func TestHook_UsesAttribution(t *testing.T) {
	s := testStore(t)
	hook := s.Hook(nil)

	ctx := WithAttribution(context.Background(), Attribution{RequestID: "req-7", SessionID: 4, User: "ada"})
	hook(ctx, llm.Usage{Provider: "openai", Model: "gpt-4o-mini-2024-07-18", InputTokens: 30, OutputTokens: 5})

	var (
		reqID, user, model string
		sessionID          int
	)
	err := s.db.QueryRow(`SELECT request_id, session_id, user, model FROM usage_records`).
		Scan(&reqID, &sessionID, &user, &model)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if reqID != "req-7" || sessionID != 4 || user != "ada" || model != "gpt-4o-mini-2024-07-18" {
		t.Errorf("stored = %s %d %s %s", reqID, sessionID, user, model)
	}
}

func TestAttributionFrom_Missing(t *testing.T) {
	if got := AttributionFrom(context.Background()); got != (Attribution{}) {
		t.Errorf("AttributionFrom(empty) = %+v", got)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hermitd.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	defer s.Close()

	if err := s.Record(context.Background(), Record{RequestID: "r", User: "max", Provider: "ollama", Model: "llama3"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
}
