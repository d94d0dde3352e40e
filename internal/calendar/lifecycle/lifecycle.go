package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"invest-calendar/internal/calendar/model"
	"invest-calendar/internal/calendar/store"
)

// Manager 管理 current -> previous 轮转和按月归档
type Manager struct {
	Log       *zap.Logger
	Store     *store.SnapshotStore
	Platforms []model.Platform
}

func New(log *zap.Logger, s *store.SnapshotStore, platforms []model.Platform) *Manager {
	if len(platforms) == 0 {
		platforms = model.Platforms()
	}
	return &Manager{Log: log, Store: s, Platforms: platforms}
}

// ArchiveDate 把 current 中 event_date == date 的事件追加到当月归档，返回归档条数
func (m *Manager) ArchiveDate(ctx context.Context, date string) (int, error) {
	part, err := model.ArchiveOf(date)
	if err != nil {
		return 0, err
	}
	m.Log.Info("Archiving events", zap.String("date", date), zap.String("partition", part.Path()))

	total := 0
	for _, p := range m.Platforms {
		current := m.Store.Load(ctx, p, model.Current())
		var hits []model.Event
		for _, e := range current {
			if e.EventDate != date {
				continue
			}
			a := e.Clone()
			a.DataStatus = model.StatusArchived
			hits = append(hits, a)
		}
		if len(hits) == 0 {
			continue
		}
		merged, err := m.Store.AppendMerge(ctx, p, part.Year, part.Month, hits)
		if err != nil {
			return total, fmt.Errorf("archive %s %s: %w", p, date, err)
		}
		total += len(hits)
		m.Log.Info("Archived platform events",
			zap.String("platform", string(p)),
			zap.Int("events", len(hits)),
			zap.Int("archive_total", merged),
		)
	}
	m.Log.Info("Archive done", zap.String("date", date), zap.Int("events", total))
	return total, nil
}

// RotatePrevious 清空 previous 后从 current 重建，只保留 event_date > boundary 的事件
func (m *Manager) RotatePrevious(ctx context.Context, boundary string) error {
	if !model.ValidDate(boundary) {
		return fmt.Errorf("invalid boundary date %q", boundary)
	}

	filtered := make(map[model.Platform][]model.Event, len(m.Platforms))
	for _, p := range m.Platforms {
		var keep []model.Event
		for _, e := range m.Store.Load(ctx, p, model.Current()) {
			if e.EventDate > boundary {
				keep = append(keep, e)
			}
		}
		filtered[p] = keep
	}

	if err := m.Store.ClearPartition(ctx, model.Previous()); err != nil {
		return fmt.Errorf("clear previous: %w", err)
	}

	for _, p := range m.Platforms {
		events := filtered[p]
		if len(events) == 0 {
			continue
		}
		if err := m.Store.Save(ctx, p, model.Previous(), events); err != nil {
			return fmt.Errorf("rotate %s: %w", p, err)
		}
		m.Log.Info("Rotated to previous",
			zap.String("platform", string(p)),
			zap.Int("events", len(events)),
		)
	}
	return nil
}

// Daily 归档 D 再轮转 previous
func (m *Manager) Daily(ctx context.Context, boundary string) error {
	if _, err := m.ArchiveDate(ctx, boundary); err != nil {
		return err
	}
	return m.RotatePrevious(ctx, boundary)
}
