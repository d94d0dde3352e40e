package processor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"invest-calendar/internal/calendar/helper"
	"invest-calendar/internal/calendar/model"
)

const jiuyanURL = "https://app.jiuyangongshe.com/jystock-app/api/v1/timeline/list"

// Jiuyan 韭研公社时间线，按月请求
type Jiuyan struct {
	fetcher *Fetcher
	URL     string
	Token   string
	Delay   time.Duration
}

func NewJiuyan(f *Fetcher, token string, delay time.Duration) *Jiuyan {
	return &Jiuyan{fetcher: f, URL: jiuyanURL, Token: token, Delay: delay}
}

func (j *Jiuyan) Platform() model.Platform { return model.Jiuyangongshe }

func (j *Jiuyan) Collect(ctx context.Context, start, end string) ([]model.Event, error) {
	var all []model.Event
	err := forEachMonth(start, end, func(year, month int) error {
		events, err := j.collectMonth(ctx, year, month, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// 单月失败不影响其他月份
			j.fetcher.Log.Warn("Month collection failed",
				zap.String("platform", string(model.Jiuyangongshe)),
				zap.String("month", fmt.Sprintf("%d-%02d", year, month)),
				zap.Error(err),
			)
		} else {
			all = append(all, events...)
		}
		return sleepCtx(ctx, j.Delay)
	})
	if err != nil {
		return all, err
	}
	j.fetcher.Log.Info("Collected platform events",
		zap.String("platform", string(model.Jiuyangongshe)),
		zap.Int("events", len(all)),
	)
	return all, nil
}

func (j *Jiuyan) collectMonth(ctx context.Context, year, month int, start, end string) ([]model.Event, error) {
	body, err := j.fetcher.Fetch(ctx, Request{
		Platform: string(model.Jiuyangongshe),
		Method:   MethodPostJSON,
		URL:      j.URL,
		JSON:     map[string]string{"date": fmt.Sprintf("%d-%02d", year, month)},
		Headers: map[string]string{
			"timestamp": strconv.FormatInt(time.Now().UnixMilli(), 10),
			"platform":  "3",
			"token":     j.Token,
			"Origin":    "https://www.jiuyangongshe.com",
			"Referer":   "https://www.jiuyangongshe.com/",
		},
	})
	if err != nil {
		return nil, err
	}
	resp, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	now := time.Now().In(helper.Location())
	var events []model.Event
	for _, d := range list(resp["data"]) {
		day := obj(d)
		date := str(day["date"])
		if !inRange(date, start, end) || !model.ValidDate(date) {
			continue
		}
		for _, it := range list(day["list"]) {
			if item := obj(it); item != nil {
				events = append(events, buildJiuyanEvent(item, date, now))
			}
		}
	}
	return events, nil
}

func buildJiuyanEvent(item map[string]any, date string, now time.Time) model.Event {
	timeline := obj(item["timeline"])
	articleID := str(item["article_id"])
	e := model.NewEvent(model.Jiuyangongshe,
		fmt.Sprintf("jygs_%s_%s_%s", articleID, str(timeline["timeline_id"]), compactDate(date)),
		articleID, date, now)

	e.Title = str(item["title"])
	e.Content = model.Str(str(item["content"]))
	grade, ok := num(timeline["grade"])
	if !ok {
		grade = 6
	}
	e.Importance = model.Int(max(1, min(5, 7-grade)))
	e.Country = model.Str("中国")
	for _, t := range list(timeline["theme_list"]) {
		e.Themes = append(e.Themes, str(obj(t)["name"]))
	}
	e.RawData = item
	return e
}
