package processor

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"invest-calendar/internal/calendar/helper"
	"invest-calendar/internal/calendar/model"
)

const clsURL = "https://www.cls.cn/api/calendar/web/list"

var clsCategories = map[int]string{1: "经济数据", 2: "事件公告", 3: "假日"}

// CLS 财联社投资日历，一次请求返回今天起的全部数据
type CLS struct {
	fetcher *Fetcher
	URL     string
	Token   string
	UID     string
}

func NewCLS(f *Fetcher, token, uid string) *CLS {
	return &CLS{fetcher: f, URL: clsURL, Token: token, UID: uid}
}

func (c *CLS) Platform() model.Platform { return model.CLS }

// clsSign md5(sha1(按键排序的 urlencode 参数))
func clsSign(params url.Values) string {
	s1 := sha1.Sum([]byte(params.Encode()))
	s2 := md5.Sum([]byte(hex.EncodeToString(s1[:])))
	return hex.EncodeToString(s2[:])
}

func (c *CLS) Collect(ctx context.Context, start, end string) ([]model.Event, error) {
	params := url.Values{
		"app":   {"CailianpressWeb"},
		"flag":  {"0"},
		"os":    {"web"},
		"sv":    {"8.4.6"},
		"token": {c.Token},
		"type":  {"0"},
		"uid":   {c.UID},
	}
	params.Set("sign", clsSign(params))

	body, err := c.fetcher.Fetch(ctx, Request{
		Platform: string(model.CLS),
		Method:   MethodGet,
		URL:      c.URL,
		Query:    params,
		Headers: map[string]string{
			"Accept":  "application/json, text/plain, */*",
			"Referer": "https://www.cls.cn/investKalendar",
		},
	})
	if err != nil {
		return nil, err
	}
	resp, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("cls: %w", err)
	}

	now := time.Now().In(helper.Location())
	var events []model.Event
	for _, d := range list(resp["data"]) {
		day := obj(d)
		date := str(day["calendar_day"])
		if !inRange(date, start, end) || !model.ValidDate(date) {
			continue
		}
		for _, it := range list(day["items"]) {
			item := obj(it)
			if item == nil {
				continue
			}
			events = append(events, buildCLSEvent(item, date, now))
		}
	}
	c.fetcher.Log.Info("Collected platform events",
		zap.String("platform", string(model.CLS)),
		zap.Int("events", len(events)),
	)
	return events, nil
}

func buildCLSEvent(item map[string]any, date string, now time.Time) model.Event {
	id := str(item["id"])
	typ, _ := num(item["type"])
	e := model.NewEvent(model.CLS,
		fmt.Sprintf("cls_%s_%s_%d", id, compactDate(date), typ),
		id, date, now)

	calendarTime := str(item["calendar_time"])
	e.EventTime = clsTime(calendarTime)
	e.EventDatetime = model.OptStr(calendarTime)
	e.Title = str(item["title"])
	category, ok := clsCategories[typ]
	if !ok {
		category = "其他"
	}
	e.Category = model.Str(category)
	e.Importance = model.Int(clsImportance(item, typ))
	e.Country = clsCountry(item)
	e.RawData = item
	return e
}

// clsTime 兼容空格和 T 分隔的时间串
func clsTime(s string) *string {
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", time.RFC3339, "2006-01-02 15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return model.Str(t.Format(model.TimeLayout))
		}
	}
	return nil
}

// clsImportance 经济数据取 economic.star，事件取 event.star，缺省 3
func clsImportance(item map[string]any, typ int) int {
	var detail map[string]any
	switch typ {
	case 1:
		detail = obj(item["economic"])
	case 2:
		detail = obj(item["event"])
	}
	if detail != nil {
		if star, ok := num(detail["star"]); ok {
			return star
		}
	}
	return 3
}

func clsCountry(item map[string]any) *string {
	if eco := obj(item["economic"]); eco != nil {
		return model.OptStr(str(eco["country"]))
	}
	if ev := obj(item["event"]); ev != nil {
		return model.OptStr(str(ev["country"]))
	}
	return nil
}
