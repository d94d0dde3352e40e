package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"invest-calendar/internal/calendar/model"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 5, 9, 30, 0, 0, time.FixedZone("CST", 8*3600))
}

func newFileStore(t *testing.T) *SnapshotStore {
	t.Helper()
	b, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("new file backend: %v", err)
	}
	s := New(zap.NewNop(), b)
	s.Now = fixedNow
	return s
}

func newSQLiteStore(t *testing.T) *SnapshotStore {
	t.Helper()
	b, err := OpenSQLite(filepath.Join(t.TempDir(), "calendar.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	s := New(zap.NewNop(), b)
	s.Now = fixedNow
	return s
}

func sampleEvent(id, date, title string) model.Event {
	e := model.NewEvent(model.CLS, id, id, date, fixedNow())
	e.Title = title
	e.EventTime = model.Str("10:00:00")
	e.Importance = model.Int(4)
	e.Category = model.Str("经济数据")
	e.Stocks = []string{"600000"}
	e.Concepts = []model.Concept{{Code: "300001", Name: "芯片"}}
	e.RawData = map[string]any{"star": "4"}
	return e
}

func testRoundTrip(t *testing.T, s *SnapshotStore) {
	ctx := context.Background()
	events := []model.Event{
		sampleEvent("cls_1_20250610_1", "2025-06-10", "CPI"),
		sampleEvent("cls_2_20250611_1", "2025-06-11", "PMI <初值>"),
	}
	if err := s.Save(ctx, model.CLS, model.Current(), events); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Read(ctx, model.CLS, model.Current())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, events) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, events)
	}

	snap, err := s.ReadSnapshot(ctx, model.CLS, model.Current())
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.TotalEvents != 2 || snap.DataStatus != model.StatusActive || snap.DateType != model.DateTypeFuture || snap.Immutable {
		t.Fatalf("unexpected snapshot header: %+v", snap)
	}
	if snap.LastUpdated == "" || snap.LastUpdate != "" {
		t.Fatalf("active snapshot should carry last_updated only: %+v", snap)
	}
}

func TestRoundTripFile(t *testing.T) {
	testRoundTrip(t, newFileStore(t))
}

func TestRoundTripSQLite(t *testing.T) {
	testRoundTrip(t, newSQLiteStore(t))
}

func TestRawDataNumbersRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	e := sampleEvent("inv_1", "2025-06-10", "非农")
	e.RawData = map[string]any{
		"importance": json.Number("3"),
		"big_id":     json.Number("9007199254740993"),
		"ratio":      json.Number("0.25"),
		"nested":     map[string]any{"count": json.Number("7")},
		"list":       []any{json.Number("1"), "a"},
	}
	if err := s.Save(ctx, model.Investing, model.Current(), []model.Event{e}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Read(ctx, model.Investing, model.Current())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || !reflect.DeepEqual(got[0].RawData, e.RawData) {
		t.Fatalf("raw_data changed after reload: %#v", got[0].RawData)
	}
}

func TestLoadMissingAndMalformed(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	if got := s.Load(ctx, model.Investing, model.Previous()); len(got) != 0 || got == nil {
		t.Fatalf("missing snapshot should load as empty non-nil list, got %v", got)
	}

	if err := s.Backend.Put(ctx, model.Previous().Path(), string(model.Investing), []byte("{not json")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Read(ctx, model.Investing, model.Previous()); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if got := s.Load(ctx, model.Investing, model.Previous()); len(got) != 0 {
		t.Fatalf("malformed snapshot should load as empty, got %d events", len(got))
	}
}

func TestSaveRejectsArchive(t *testing.T) {
	s := newFileStore(t)
	err := s.Save(context.Background(), model.CLS, model.Archive(2025, 6), nil)
	if !errors.Is(err, ErrImmutable) {
		t.Fatalf("expected ErrImmutable, got %v", err)
	}
}

func TestAppendMergeDedup(t *testing.T) {
	for name, s := range map[string]*SnapshotStore{
		"file":   newFileStore(t),
		"sqlite": newSQLiteStore(t),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			x := sampleEvent("X", "2025-06-04", "first")
			x.DataStatus = model.StatusArchived

			for i := 0; i < 2; i++ {
				if _, err := s.AppendMerge(ctx, model.CLS, 2025, 6, []model.Event{x}); err != nil {
					t.Fatalf("append %d: %v", i, err)
				}
			}

			dup := x
			dup.Title = "second"
			y := sampleEvent("Y", "2025-06-04", "other")
			n, err := s.AppendMerge(ctx, model.CLS, 2025, 6, []model.Event{dup, y})
			if err != nil {
				t.Fatalf("append: %v", err)
			}
			if n != 2 {
				t.Fatalf("expected 2 merged events, got %d", n)
			}

			snap, err := s.ReadSnapshot(ctx, model.CLS, model.Archive(2025, 6))
			if err != nil {
				t.Fatalf("read archive: %v", err)
			}
			if !snap.Immutable || snap.Year != 2025 || snap.Month != 6 || snap.LastUpdate == "" {
				t.Fatalf("unexpected archive header: %+v", snap)
			}
			if snap.Events[0].EventID != "X" || snap.Events[0].Title != "first" || snap.Events[1].EventID != "Y" {
				t.Fatalf("first occurrence should win, got %+v", snap.Events)
			}
		})
	}
}

func TestClearPartitionAndArchivedMonths(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	if err := s.Save(ctx, model.CLS, model.Previous(), []model.Event{sampleEvent("a", "2025-06-10", "a")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.ClearPartition(ctx, model.Previous()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n, _ := s.Size(ctx, model.Previous(), string(model.CLS)); n != 0 {
		t.Fatalf("previous should be empty after clear, size=%d", n)
	}
	if err := s.ClearPartition(ctx, model.Archive(2025, 6)); !errors.Is(err, ErrImmutable) {
		t.Fatalf("clearing an archive should fail, got %v", err)
	}

	for _, m := range []int{11, 2} {
		if _, err := s.AppendMerge(ctx, model.CLS, 2024, m, []model.Event{sampleEvent("a", "2024-02-01", "a")}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	months, err := s.ArchivedMonths(ctx)
	if err != nil {
		t.Fatalf("archived months: %v", err)
	}
	want := []model.Partition{model.Archive(2024, 2), model.Archive(2024, 11)}
	if !reflect.DeepEqual(months, want) {
		t.Fatalf("archived months = %v, want %v", months, want)
	}
}

func TestMarkerAndMetadata(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	if _, err := s.ReadMarker(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before marker, got %v", err)
	}
	if err := s.WriteMarker(ctx); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	m, err := s.ReadMarker(ctx)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if m.FirstRunDate != "2025-06-05" || m.Status != "completed" {
		t.Fatalf("unexpected marker: %+v", m)
	}

	md := model.BuildMetadata(map[model.Platform][]model.Event{
		model.CLS: {sampleEvent("a", "2025-06-10", "a"), sampleEvent("b", "2025-06-08", "b")},
	}, fixedNow())
	if err := s.SaveMetadata(ctx, md); err != nil {
		t.Fatalf("save metadata: %v", err)
	}
	got, err := s.ReadMetadata(ctx)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if got.TotalEvents != 2 || *got.DateRange.Start != "2025-06-08" || *got.DateRange.End != "2025-06-10" {
		t.Fatalf("unexpected metadata: %+v", got)
	}
}
