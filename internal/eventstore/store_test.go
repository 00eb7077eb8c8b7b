package eventstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if es.db != nil {
		t.Fatal("ephemeral store should not open a database")
	}
	if err := es.Append(ctx, Record{RequestID: "r1", Text: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	records, err := es.List(ctx, 10)
	if err != nil || len(records) != 0 {
		t.Fatalf("expected nothing kept, got %v (%v)", records, err)
	}
	if _, err := es.Get(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "history.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	ctx := context.Background()
	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	first := Record{
		RequestID:          "req-1",
		Text:               "こんにちは。",
		Voice:              "zundamon",
		Language:           "japanese",
		Backend:            "remote",
		AudioLengthSeconds: 1.5,
		CaptionCount:       1,
		Captions:           []byte(`[{"text":"こんにちは。","start_ms":200,"end_ms":1200}]`),
		Elapsed:            120 * time.Millisecond,
	}
	if err := es.Append(ctx, first); err != nil {
		t.Fatalf("append: %v", err)
	}
	es.clock = func() time.Time { return time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC) }
	if err := es.Append(ctx, Record{RequestID: "req-2", Text: "hello", Error: "no synthesis backend available"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	records, err := es.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 || records[0].RequestID != "req-2" {
		t.Fatalf("expected newest first, got %+v", records)
	}

	got, err := es.Get(ctx, "req-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Backend != "remote" || got.AudioLengthSeconds != 1.5 || got.CaptionCount != 1 {
		t.Fatalf("unexpected record %+v", got)
	}
	if string(got.Captions) != string(first.Captions) {
		t.Fatalf("unexpected captions %s", got.Captions)
	}
	if got.Elapsed != 120*time.Millisecond {
		t.Fatalf("unexpected elapsed %v", got.Elapsed)
	}
	if !got.CreatedAt.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected created at %v", got.CreatedAt)
	}

	if _, err := es.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := es.Append(ctx, Record{Text: "no id"}); err == nil {
		t.Fatal("expected error for missing request id")
	}
}

func TestPruneByDaysAndRecords(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "history.db"), RetentionMode: "persistent", RetentionDays: 1, MaxRecords: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	ctx := context.Background()
	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.Append(ctx, Record{RequestID: "old", Text: "old"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for _, id := range []string{"newer", "newest"} {
		if err := es.Append(ctx, Record{RequestID: id, Text: id, CreatedAt: es.clock().Add(time.Duration(len(id)) * time.Second)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	records, err := es.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].RequestID != "newest" {
		t.Fatalf("expected only newest record kept, got %+v", records)
	}
}

func TestAppendReplacesReusedRequestID(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "history.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	ctx := context.Background()
	first := Record{
		RequestID:          "dup",
		Text:               "こんにちは。",
		Voice:              "zundamon",
		Language:           "japanese",
		Backend:            "remote",
		AudioLengthSeconds: 1.5,
		CaptionCount:       1,
		Captions:           []byte(`[{"text":"こんにちは。","start_ms":200,"end_ms":1200}]`),
		Elapsed:            time.Second,
		CreatedAt:          time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	second := Record{
		RequestID: "dup",
		Text:      "hello",
		Voice:     "af_sky",
		Language:  "other",
		Error:     "no synthesis backend available",
		Elapsed:   time.Millisecond,
		CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	if err := es.Append(ctx, first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := es.Append(ctx, second); err != nil {
		t.Fatalf("append again: %v", err)
	}

	got, err := es.Get(ctx, "dup")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Text != second.Text || got.Voice != second.Voice || got.Language != second.Language || got.Backend != "" {
		t.Fatalf("expected request fields of the later record, got %+v", got)
	}
	if got.AudioLengthSeconds != 0 || got.CaptionCount != 0 || len(got.Captions) != 0 {
		t.Fatalf("expected result fields of the later record, got %+v", got)
	}
	if got.Error != second.Error || got.Elapsed != second.Elapsed || !got.CreatedAt.Equal(second.CreatedAt) {
		t.Fatalf("unexpected record %+v", got)
	}
	records, err := es.List(ctx, 10)
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one record, got %d (%v)", len(records), err)
	}
}
