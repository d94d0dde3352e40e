package query

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"invest-calendar/internal/calendar/helper"
	"invest-calendar/internal/calendar/model"
	"invest-calendar/internal/calendar/store"
)

// Service 只读查询，结果按 (platform, event_id) 去重
type Service struct {
	Log       *zap.Logger
	Store     *store.SnapshotStore
	Platforms []model.Platform
	Now       func() time.Time
}

func New(log *zap.Logger, s *store.SnapshotStore, platforms []model.Platform) *Service {
	if len(platforms) == 0 {
		platforms = model.Platforms()
	}
	return &Service{Log: log, Store: s, Platforms: platforms, Now: time.Now}
}

// Today 配置时区下的今天
func (q *Service) Today() string {
	if q.Now == nil {
		return helper.DateOf(time.Now())
	}
	return helper.DateOf(q.Now())
}

func (q *Service) load(ctx context.Context, part model.Partition, keep func(model.Event) bool) []model.Event {
	var out []model.Event
	for _, p := range q.Platforms {
		for _, e := range q.Store.Load(ctx, p, part) {
			if keep(e) {
				out = append(out, e)
			}
		}
	}
	return out
}

// dedup 同一平台同一 event_id 只保留第一次出现
func dedup(events []model.Event) []model.Event {
	seen := make(map[string]struct{}, len(events))
	out := make([]model.Event, 0, len(events))
	for _, e := range events {
		k := string(e.Platform) + "\x00" + e.EventID
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

func validate(dates ...string) error {
	for _, d := range dates {
		if !model.ValidDate(d) {
			return fmt.Errorf("invalid date %q, want YYYY-MM-DD", d)
		}
	}
	return nil
}

// ByDate 某天的全部事件；过去的日期先查当月归档
func (q *Service) ByDate(ctx context.Context, date string) ([]model.Event, error) {
	if err := validate(date); err != nil {
		return nil, err
	}
	match := func(e model.Event) bool { return e.EventDate == date }

	var events []model.Event
	if date < q.Today() {
		part, _ := model.ArchiveOf(date)
		events = q.load(ctx, part, match)
	}
	events = append(events, q.load(ctx, model.Current(), match)...)
	events = dedup(events)
	model.SortEvents(events)
	return events, nil
}

// ByDateRange 闭区间内的事件，按日期时间排序；涉及过去的月份同样查归档
func (q *Service) ByDateRange(ctx context.Context, start, end string) ([]model.Event, error) {
	if err := validate(start, end); err != nil {
		return nil, err
	}
	if start > end {
		return nil, fmt.Errorf("start %s after end %s", start, end)
	}
	match := func(e model.Event) bool { return e.EventDate >= start && e.EventDate <= end }

	var events []model.Event
	if start < q.Today() {
		months, err := helper.MonthsBetween(start, end)
		if err != nil {
			return nil, err
		}
		for _, m := range months {
			events = append(events, q.load(ctx, model.Archive(m.Year, m.Month), match)...)
		}
	}
	events = append(events, q.load(ctx, model.Current(), match)...)
	events = dedup(events)
	model.SortEvents(events)
	return events, nil
}

// ByPlatform 平台 current 快照中的全部事件
func (q *Service) ByPlatform(ctx context.Context, p model.Platform) ([]model.Event, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("unknown platform %q", p)
	}
	events := dedup(q.Store.Load(ctx, p, model.Current()))
	model.SortEvents(events)
	return events, nil
}

// NewSince is_new 且 discovery_date >= since 的事件
func (q *Service) NewSince(ctx context.Context, since string) ([]model.Event, error) {
	if err := validate(since); err != nil {
		return nil, err
	}
	events := q.load(ctx, model.Current(), func(e model.Event) bool {
		return e.IsNew && e.DiscoveryDate >= since
	})
	events = dedup(events)
	model.SortEvents(events)
	return events, nil
}
