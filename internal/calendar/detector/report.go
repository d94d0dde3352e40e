package detector

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"invest-calendar/internal/calendar/model"
	"invest-calendar/internal/calendar/store"
)

const (
	topNewLimit    = 10
	sampleLimit    = 3
	sampleTitleLen = 50
)

type Summary struct {
	TotalNew       int `json:"total_new"`
	TotalUpdated   int `json:"total_updated"`
	TotalCancelled int `json:"total_cancelled"`
}

// PlatformReport 单平台计数与新增样例标题
type PlatformReport struct {
	DisplayName     string   `json:"display_name"`
	NewEvents       int      `json:"new_events"`
	UpdatedEvents   int      `json:"updated_events"`
	CancelledEvents int      `json:"cancelled_events"`
	SampleNewTitles []string `json:"sample_new_titles"`
}

// TopEvent 重要性未评级时为 null
type TopEvent struct {
	Platform   model.Platform `json:"platform"`
	Date       string         `json:"date"`
	Title      string         `json:"title"`
	Importance *int           `json:"importance"`
	Country    *string        `json:"country"`
}

// Report 变更报告，按日期存入 current 分区
type Report struct {
	RunID         string                            `json:"run_id"`
	DetectionTime string                            `json:"detection_time"`
	Summary       Summary                           `json:"summary"`
	Platforms     map[model.Platform]PlatformReport `json:"platforms"`
	TopNewEvents  []TopEvent                        `json:"top_new_events"`
}

// BuildReport 汇总各平台变更（无变更的平台计数为 0），新增事件按重要性降序取前 10
func BuildReport(changes map[model.Platform]Changes, detectionTime string) Report {
	r := Report{
		RunID:         uuid.NewString(),
		DetectionTime: detectionTime,
		Platforms:     make(map[model.Platform]PlatformReport, len(changes)),
		TopNewEvents:  []TopEvent{},
	}

	var allNew []model.Event
	for _, p := range model.Platforms() {
		c, ok := changes[p]
		if !ok {
			continue
		}
		r.Summary.TotalNew += len(c.New)
		r.Summary.TotalUpdated += len(c.Updated)
		r.Summary.TotalCancelled += len(c.Cancelled)
		r.Platforms[p] = PlatformReport{
			DisplayName:     p.DisplayName(),
			NewEvents:       len(c.New),
			UpdatedEvents:   len(c.Updated),
			CancelledEvents: len(c.Cancelled),
			SampleNewTitles: samples(c.New),
		}
		allNew = append(allNew, c.New...)
	}

	sort.SliceStable(allNew, func(i, j int) bool {
		return allNew[i].ImportanceOrZero() > allNew[j].ImportanceOrZero()
	})
	if len(allNew) > topNewLimit {
		allNew = allNew[:topNewLimit]
	}
	for _, e := range allNew {
		r.TopNewEvents = append(r.TopNewEvents, TopEvent{
			Platform:   e.Platform,
			Date:       e.EventDate,
			Title:      e.Title,
			Importance: cloneInt(e.Importance),
			Country:    e.Country,
		})
	}
	return r
}

func samples(events []model.Event) []string {
	out := []string{}
	for i, e := range events {
		if i >= sampleLimit {
			break
		}
		out = append(out, truncate(e.Title, sampleTitleLen))
	}
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// truncate 按字符截断
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// SaveReport 写 change_report_{today}，失败只记日志
func (d *Detector) SaveReport(ctx context.Context, today string, r Report) {
	if err := d.Store.SaveReport(ctx, today, r); err != nil {
		d.Log.Error("Failed to save change report", zap.String("date", today), zap.Error(err))
		return
	}
	d.Log.Info("Change report saved",
		zap.String("date", today),
		zap.String("run_id", r.RunID),
		zap.Int("new", r.Summary.TotalNew),
		zap.Int("updated", r.Summary.TotalUpdated),
		zap.Int("cancelled", r.Summary.TotalCancelled),
	)
}

func isMalformed(err error) bool {
	return errors.Is(err, store.ErrMalformed)
}
