package processor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"invest-calendar/internal/calendar/helper"
	"invest-calendar/internal/calendar/model"
)

const (
	tonghuashunURL      = "https://comment.10jqka.com.cn/tzrl/getTzrlData.php"
	tonghuashunCallback = "callback_dt"
)

// Tonghuashun 同花顺投资日历，JSONP 接口，按月请求
type Tonghuashun struct {
	fetcher *Fetcher
	URL     string
	Delay   time.Duration
}

func NewTonghuashun(f *Fetcher, delay time.Duration) *Tonghuashun {
	return &Tonghuashun{fetcher: f, URL: tonghuashunURL, Delay: delay}
}

func (t *Tonghuashun) Platform() model.Platform { return model.Tonghuashun }

func (t *Tonghuashun) Collect(ctx context.Context, start, end string) ([]model.Event, error) {
	var all []model.Event
	err := forEachMonth(start, end, func(year, month int) error {
		events, err := t.collectMonth(ctx, year, month, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.fetcher.Log.Warn("Month collection failed",
				zap.String("platform", string(model.Tonghuashun)),
				zap.String("month", fmt.Sprintf("%d-%02d", year, month)),
				zap.Error(err),
			)
		} else {
			all = append(all, events...)
		}
		return sleepCtx(ctx, t.Delay)
	})
	if err != nil {
		return all, err
	}
	t.fetcher.Log.Info("Collected platform events",
		zap.String("platform", string(model.Tonghuashun)),
		zap.Int("events", len(all)),
	)
	return all, nil
}

// unwrapJSONP callback_dt({...}); -> {...}
func unwrapJSONP(body []byte, callback string) ([]byte, error) {
	s := strings.TrimSpace(string(body))
	i := strings.Index(s, callback+"(")
	if i < 0 {
		return nil, errors.New("jsonp callback not found")
	}
	s = strings.TrimSuffix(s[i+len(callback)+1:], ";")
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, ")") {
		return nil, errors.New("jsonp not terminated")
	}
	return []byte(s[:len(s)-1]), nil
}

func (t *Tonghuashun) collectMonth(ctx context.Context, year, month int, start, end string) ([]model.Event, error) {
	body, err := t.fetcher.Fetch(ctx, Request{
		Platform: string(model.Tonghuashun),
		Method:   MethodGet,
		URL:      t.URL,
		Query: url.Values{
			"callback": {tonghuashunCallback},
			"type":     {"data"},
			"date":     {fmt.Sprintf("%d%02d", year, month)},
		},
		Headers: map[string]string{
			"Referer": "https://stock.10jqka.com.cn/",
			"Accept":  "*/*",
		},
	})
	if err != nil {
		return nil, err
	}
	payload, err := unwrapJSONP(body, tonghuashunCallback)
	if err != nil {
		return nil, err
	}
	resp, err := decodeObject(payload)
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
		concepts := list(day["concept"])
		for i, raw := range list(day["events"]) {
			fields := list(raw)
			if len(fields) == 0 {
				continue
			}
			var conceptInfo []any
			if i < len(concepts) {
				conceptInfo = list(concepts[i])
			}
			events = append(events, buildTonghuashunEvent(date, i, fields, conceptInfo, now))
		}
	}
	return events, nil
}

func buildTonghuashunEvent(date string, i int, fields, conceptInfo []any, now time.Time) model.Event {
	title := str(fields[0])
	sum := md5.Sum([]byte(title))
	e := model.NewEvent(model.Tonghuashun,
		fmt.Sprintf("ths_%s_%d_%s", compactDate(date), i, hex.EncodeToString(sum[:])[:8]),
		fmt.Sprintf("%s_%d", date, i), date, now)

	e.Title = title
	e.Importance = model.Int(3)
	e.Country = model.Str("中国")
	for _, c := range conceptInfo {
		m := obj(c)
		if m == nil {
			continue
		}
		e.Concepts = append(e.Concepts, model.Concept{Code: str(m["code"]), Name: str(m["name"])})
	}
	if conceptInfo == nil {
		conceptInfo = []any{}
	}
	e.RawData = map[string]any{"event": fields, "concept": conceptInfo}
	return e
}
