package query

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"invest-calendar/internal/calendar/model"
	"invest-calendar/internal/calendar/store"
)

var cst = time.FixedZone("CST", 8*3600)

func event(p model.Platform, id, date, clock string) model.Event {
	e := model.NewEvent(p, string(p)+"_"+id, id, date, time.Date(2025, 6, 1, 0, 0, 0, 0, cst))
	e.Title = id
	if clock != "" {
		e.EventTime = model.Str(clock)
	}
	return e
}

// seed: 6 月归档两条，current 三条，其中一条与归档重复
func seed(t *testing.T) (*Service, *store.SnapshotStore) {
	t.Helper()
	ctx := context.Background()
	b, err := store.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	s := store.New(zap.NewNop(), b)

	if _, err := s.AppendMerge(ctx, model.CLS, 2025, 6, []model.Event{
		event(model.CLS, "a", "2025-06-03", "09:30:00"),
		event(model.CLS, "z", "2025-06-03", "08:00:00"),
	}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := s.AppendMerge(ctx, model.Eastmoney, 2025, 5, []model.Event{
		event(model.Eastmoney, "m", "2025-05-28", ""),
	}); err != nil {
		t.Fatalf("archive: %v", err)
	}

	fresh := event(model.CLS, "b", "2025-06-12", "")
	fresh.IsNew = true
	fresh.DiscoveryDate = "2025-06-10"
	stale := event(model.CLS, "c", "2025-06-15", "")
	stale.IsNew = true
	stale.DiscoveryDate = "2025-06-08"
	if err := s.Save(ctx, model.CLS, model.Current(), []model.Event{
		stale,
		fresh,
		event(model.CLS, "a", "2025-06-03", "09:30:00"),
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, model.Investing, model.Current(), []model.Event{
		event(model.Investing, "i", "2025-06-12", "20:30:00"),
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	q := New(zap.NewNop(), s, nil)
	q.Now = func() time.Time { return time.Date(2025, 6, 10, 9, 0, 0, 0, cst) }
	return q, s
}

func ids(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.OriginalID)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestByDatePastReadsArchive(t *testing.T) {
	q, _ := seed(t)
	got, err := q.ByDate(context.Background(), "2025-06-03")
	if err != nil {
		t.Fatalf("by date: %v", err)
	}
	// 归档与 current 重复的 a 只出现一次，按时间排序
	if want := []string{"z", "a"}; !equal(ids(got), want) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}
}

func TestByDateFuture(t *testing.T) {
	q, _ := seed(t)
	got, err := q.ByDate(context.Background(), "2025-06-12")
	if err != nil {
		t.Fatalf("by date: %v", err)
	}
	if want := []string{"b", "i"}; !equal(ids(got), want) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}
}

func TestByDateInvalid(t *testing.T) {
	q, _ := seed(t)
	if _, err := q.ByDate(context.Background(), "2025/06/12"); err == nil {
		t.Fatalf("expected error for malformed date")
	}
}

func TestByDateRange(t *testing.T) {
	q, _ := seed(t)
	ctx := context.Background()

	got, err := q.ByDateRange(ctx, "2025-05-01", "2025-06-12")
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if want := []string{"m", "z", "a", "b", "i"}; !equal(ids(got), want) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}

	if _, err := q.ByDateRange(ctx, "2025-06-12", "2025-06-01"); err == nil {
		t.Fatalf("expected error when start after end")
	}
}

func TestByPlatform(t *testing.T) {
	q, _ := seed(t)
	got, err := q.ByPlatform(context.Background(), model.CLS)
	if err != nil {
		t.Fatalf("by platform: %v", err)
	}
	if want := []string{"a", "b", "c"}; !equal(ids(got), want) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}
	if _, err := q.ByPlatform(context.Background(), model.Platform("weibo")); err == nil {
		t.Fatalf("expected error for unknown platform")
	}
}

func TestNewSince(t *testing.T) {
	q, _ := seed(t)
	got, err := q.NewSince(context.Background(), "2025-06-09")
	if err != nil {
		t.Fatalf("new since: %v", err)
	}
	if want := []string{"b"}; !equal(ids(got), want) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}
}

func TestStatus(t *testing.T) {
	q, s := seed(t)
	ctx := context.Background()
	if err := s.WriteMarker(ctx); err != nil {
		t.Fatalf("marker: %v", err)
	}

	st, err := q.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.ActiveTotal != 4 || st.NewTotal != 2 {
		t.Fatalf("unexpected active counts: %+v", st)
	}
	if len(st.Active) != 2 {
		t.Fatalf("expected two active platforms, got %+v", st.Active)
	}
	if st.ActiveRange.Start == nil || *st.ActiveRange.Start != "2025-06-03" || *st.ActiveRange.End != "2025-06-15" {
		t.Fatalf("unexpected range: %+v", st.ActiveRange)
	}
	if len(st.ArchivedMonths) != 2 || st.ArchivedTotal != 3 {
		t.Fatalf("unexpected archive stats: %+v", st.ArchivedMonths)
	}
	if st.FirstRun == nil {
		t.Fatalf("marker should be reported")
	}
}
