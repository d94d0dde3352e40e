package scheduler

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"invest-calendar/internal/calendar/helper"
	"invest-calendar/internal/calendar/model"
)

// Backfill 采集 [start, 昨天] 的历史事件，按月追加到归档并写 historical_summary
// 单个平台失败只记录在汇总中，写归档失败则整体失败
func (w *Worker) Backfill(ctx context.Context, start string) (model.HistoricalSummary, bool) {
	if !w.lock("backfill") {
		return model.HistoricalSummary{}, false
	}
	defer w.mu.Unlock()

	end := helper.Yesterday(w.now())
	if !model.ValidDate(start) || start > end {
		w.Log.Error("Invalid backfill start", zap.String("start", start), zap.String("end", end))
		return model.HistoricalSummary{}, false
	}
	w.Log.Info("Backfill started", zap.String("start", start), zap.String("end", end))

	sum := model.HistoricalSummary{
		CollectionType:  model.DateTypeHistorical,
		HistoricalRange: fmt.Sprintf("%s 至 %s", start, end),
		Start:           start,
		End:             end,
		Platforms:       make(map[model.Platform]model.BackfillResult, len(w.Adapters)),
	}

	for _, a := range w.Adapters {
		p := a.Platform()
		w.Log.Info("Backfilling platform",
			zap.String("platform", string(p)),
			zap.String("name", p.DisplayName()),
		)

		events, err := w.collectOne(ctx, a, start, end)
		if err != nil {
			w.Log.Error("Backfill collection failed", zap.String("platform", string(p)), zap.Error(err))
			sum.Platforms[p] = model.BackfillResult{Status: model.BackfillFailed, Error: err.Error()}
			continue
		}

		n, err := w.archiveByMonth(ctx, p, events, start, end)
		if err != nil {
			w.Log.Error("Backfill failed at archive", zap.String("platform", string(p)), zap.Error(err))
			return sum, false
		}
		res := model.BackfillResult{TotalEvents: n, Status: model.BackfillSuccess}
		if n == 0 {
			res.Status = model.BackfillNoData
		}
		sum.Platforms[p] = res
		sum.TotalEvents += n
		w.Log.Info("Backfilled platform", zap.String("platform", string(p)), zap.Int("events", n))
	}

	sum.CollectionTime = w.now().Format("2006-01-02T15:04:05.000000")
	sum.Status = "completed"
	if err := w.Store.SaveHistoricalSummary(ctx, sum); err != nil {
		w.Log.Error("Failed to save historical summary", zap.Error(err))
		return sum, false
	}
	w.Log.Info("Backfill completed", zap.Int("events", sum.TotalEvents))
	return sum, true
}

// archiveByMonth 区间内的事件标记为 ARCHIVED 后按月追加合并，返回区间内事件数
func (w *Worker) archiveByMonth(ctx context.Context, p model.Platform, events []model.Event, start, end string) (int, error) {
	byMonth := map[string][]model.Event{}
	total := 0
	for _, e := range events {
		if e.EventDate < start || e.EventDate > end {
			continue
		}
		part, err := model.ArchiveOf(e.EventDate)
		if err != nil {
			continue
		}
		a := e.Clone()
		a.DataStatus = model.StatusArchived
		a.IsNew = false
		byMonth[part.Path()] = append(byMonth[part.Path()], a)
		total++
	}

	months := make([]string, 0, len(byMonth))
	for k := range byMonth {
		months = append(months, k)
	}
	sort.Strings(months)
	for _, k := range months {
		batch := byMonth[k]
		part, _ := model.ArchiveOf(batch[0].EventDate)
		merged, err := w.Store.AppendMerge(ctx, p, part.Year, part.Month, batch)
		if err != nil {
			return total, err
		}
		w.Log.Info("Archived month",
			zap.String("platform", string(p)),
			zap.String("partition", k),
			zap.Int("events", len(batch)),
			zap.Int("archive_total", merged),
		)
	}
	return total, nil
}
