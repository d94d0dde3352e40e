package query

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"invest-calendar/internal/calendar/model"
	"invest-calendar/internal/calendar/store"
)

type PlatformStatus struct {
	Platform    model.Platform `json:"platform"`
	DisplayName string         `json:"display_name"`
	Events      int            `json:"events"`
	NewEvents   int            `json:"new_events"`
	LastUpdated string         `json:"last_updated,omitempty"`
}

type ArchiveStatus struct {
	Partition string `json:"partition"`
	Files     int    `json:"files"`
	Events    int    `json:"events"`
}

// Status 各分区的事件统计
type Status struct {
	Active         []PlatformStatus      `json:"active"`
	ActiveTotal    int                   `json:"active_total"`
	NewTotal       int                   `json:"new_total"`
	ActiveRange    model.DateRange       `json:"active_range"`
	PreviousFiles  int                   `json:"previous_files"`
	PreviousEvents int                   `json:"previous_events"`
	ArchivedMonths []ArchiveStatus       `json:"archived_months"`
	ArchivedTotal  int                   `json:"archived_total"`
	FirstRun       *model.FirstRunMarker `json:"first_run,omitempty"`
}

func (q *Service) Status(ctx context.Context) (Status, error) {
	st := Status{Active: []PlatformStatus{}, ArchivedMonths: []ArchiveStatus{}}

	var minDate, maxDate string
	for _, p := range q.Platforms {
		snap, err := q.Store.ReadSnapshot(ctx, p, model.Current())
		if err != nil {
			if !isNotFound(err) {
				q.Log.Warn("Failed to read snapshot", zap.String("platform", string(p)), zap.Error(err))
			}
			continue
		}
		ps := PlatformStatus{
			Platform:    p,
			DisplayName: p.DisplayName(),
			Events:      len(snap.Events),
			LastUpdated: snap.UpdatedAt(),
		}
		for _, e := range snap.Events {
			if e.IsNew {
				ps.NewEvents++
			}
			if e.EventDate == "" {
				continue
			}
			if minDate == "" || e.EventDate < minDate {
				minDate = e.EventDate
			}
			if e.EventDate > maxDate {
				maxDate = e.EventDate
			}
		}
		st.Active = append(st.Active, ps)
		st.ActiveTotal += ps.Events
		st.NewTotal += ps.NewEvents
	}
	st.ActiveRange = model.DateRange{Start: model.OptStr(minDate), End: model.OptStr(maxDate)}

	for _, p := range q.Platforms {
		events, err := q.Store.Read(ctx, p, model.Previous())
		if err != nil {
			continue
		}
		if size, _ := q.Store.Size(ctx, model.Previous(), string(p)); size > 0 {
			st.PreviousFiles++
		}
		st.PreviousEvents += len(events)
	}

	months, err := q.Store.ArchivedMonths(ctx)
	if err != nil {
		return st, err
	}
	for _, part := range months {
		as := ArchiveStatus{Partition: part.Path()}
		for _, p := range model.Platforms() {
			events, err := q.Store.Read(ctx, p, part)
			if err != nil {
				continue
			}
			if size, _ := q.Store.Size(ctx, part, string(p)); size > 0 {
				as.Files++
			}
			as.Events += len(events)
		}
		st.ArchivedMonths = append(st.ArchivedMonths, as)
		st.ArchivedTotal += as.Events
	}

	if marker, err := q.Store.ReadMarker(ctx); err == nil {
		st.FirstRun = &marker
	}
	return st, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
