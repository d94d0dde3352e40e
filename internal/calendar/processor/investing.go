package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"invest-calendar/internal/calendar/helper"
	"invest-calendar/internal/calendar/model"
)

const investingURL = "https://cn.investing.com/economic-calendar/Service/getCalendarFilteredData"

var investingCountries = []int{37, 46, 6, 110, 14, 48, 32, 17, 10, 36, 43, 35, 72, 22, 41, 25, 12, 5, 4, 26, 178, 11, 39, 42}

// Investing 英为财情经济日历：没有区间查询，按天并发请求
type Investing struct {
	fetcher   *Fetcher
	URL       string
	Workers   int
	JitterMin time.Duration
	JitterMax time.Duration
}

func NewInvesting(f *Fetcher, workers int, jitterMin, jitterMax time.Duration) *Investing {
	if workers <= 0 {
		workers = 5
	}
	return &Investing{fetcher: f, URL: investingURL, Workers: workers, JitterMin: jitterMin, JitterMax: jitterMax}
}

func (inv *Investing) Platform() model.Platform { return model.Investing }

// Collect 每天一个任务，单日失败记为零事件，结果顺序不保证
func (inv *Investing) Collect(ctx context.Context, start, end string) ([]model.Event, error) {
	days, err := helper.DaysBetween(start, end)
	if err != nil {
		return nil, err
	}

	var (
		mu  sync.Mutex
		all []model.Event
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inv.Workers)
	for _, day := range days {
		g.Go(func() error {
			if err := sleepCtx(gctx, jitter(inv.JitterMin, inv.JitterMax)); err != nil {
				return nil
			}
			events, err := inv.collectDay(gctx, day)
			if err != nil {
				inv.fetcher.Log.Warn("Day collection failed",
					zap.String("platform", string(model.Investing)),
					zap.String("date", day),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			all = append(all, events...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return all, err
	}

	inv.fetcher.Log.Info("Collected platform events",
		zap.String("platform", string(model.Investing)),
		zap.Int("days", len(days)),
		zap.Int("events", len(all)),
	)
	return all, nil
}

func (inv *Investing) collectDay(ctx context.Context, date string) ([]model.Event, error) {
	form := url.Values{}
	for _, c := range investingCountries {
		form.Add("country[]", strconv.Itoa(c))
	}
	form.Set("dateFrom", date)
	form.Set("dateTo", date)
	form.Set("timeZone", "28")
	form.Set("timeFilter", "timeRemain")
	form.Set("currentTab", "custom")
	form.Set("limit_from", "0")

	body, err := inv.fetcher.Fetch(ctx, Request{
		Platform: string(model.Investing),
		Method:   MethodPostForm,
		URL:      inv.URL,
		Form:     form,
		Headers: map[string]string{
			"Accept":           "*/*",
			"X-Requested-With": "XMLHttpRequest",
			"Origin":           "https://cn.investing.com",
			"Referer":          "https://cn.investing.com/economic-calendar/",
			"Accept-Language":  "zh-CN,zh;q=0.9",
		},
	})
	if err != nil {
		return nil, err
	}

	markup := investingMarkup(body)
	if !strings.Contains(markup, "js-event-item") && !strings.Contains(markup, "eventRowId_") {
		return nil, nil
	}
	return parseInvestingRows(markup, date, time.Now().In(helper.Location()))
}

// investingMarkup 响应可能是 {"data": "<tr>..."}，也可能直接是 HTML
func investingMarkup(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Data string `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err == nil {
			return wrapped.Data
		}
	}
	return string(trimmed)
}

// investingRow 一行日历的原始字段
type investingRow struct {
	ID         string
	AttrID     string
	Datetime   string
	Time       string
	Country    string
	Importance int
	Name       string
	Actual     string
	Forecast   string
	Previous   string
}

func (r investingRow) raw() map[string]any {
	m := map[string]any{
		"event_id":      r.ID,
		"event_attr_id": r.AttrID,
		"datetime":      r.Datetime,
		"time":          r.Time,
		"country":       r.Country,
		"importance":    json.Number(strconv.Itoa(r.Importance)),
		"event_name":    r.Name,
	}
	if r.Actual != "" {
		m["actual"] = r.Actual
	}
	if r.Forecast != "" {
		m["forecast"] = r.Forecast
	}
	if r.Previous != "" {
		m["previous"] = r.Previous
	}
	return m
}

// parseInvestingRows 解析表格行，只保留 date 当天的事件
func parseInvestingRows(markup, date string, now time.Time) ([]model.Event, error) {
	// 行片段需要放在 table 里解析，否则 tr/td 会被丢弃
	if !strings.Contains(markup, "<table") {
		markup = "<table>" + markup + "</table>"
	}
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}

	var rows []*html.Node
	collectRows(doc, &rows)

	var events []model.Event
	for _, tr := range rows {
		row, ok := extractInvestingRow(tr)
		if !ok || row.Name == "" {
			continue
		}
		eventDate := strings.ReplaceAll(datePart(row.Datetime), "/", "-")
		if eventDate != date {
			continue
		}
		events = append(events, buildInvestingEvent(row, eventDate, now))
	}
	return events, nil
}

func collectRows(n *html.Node, out *[]*html.Node) {
	if n.Type == html.ElementNode && n.Data == "tr" {
		if hasClass(n, "js-event-item") || strings.HasPrefix(attr(n, "id"), "eventRowId_") {
			*out = append(*out, n)
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectRows(c, out)
	}
}

func extractInvestingRow(tr *html.Node) (investingRow, bool) {
	var cells []*html.Node
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "td" {
			cells = append(cells, c)
		}
	}
	if len(cells) < 4 {
		return investingRow{}, false
	}

	row := investingRow{
		ID: attr(tr, "id"),
		// 解析器会把属性名转成小写 event_attr_id
		AttrID:   attr(tr, "event_attr_id"),
		Datetime: attr(tr, "data-event-datetime"),
		Time:     text(cells[0]),
	}
	if flag := find(cells[1], func(n *html.Node) bool { return n.Data == "span" && hasClassPrefix(n, "ceFlags") }); flag != nil {
		row.Country = attr(flag, "title")
	}
	bulls := 0
	walk(cells[2], func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "i" && hasClass(n, "grayFullBullishIcon") {
			bulls++
		}
	})
	row.Importance = max(bulls, 1)
	if link := find(cells[3], func(n *html.Node) bool { return n.Data == "a" }); link != nil {
		row.Name = text(link)
	} else {
		row.Name = text(cells[3])
	}
	values := []*string{&row.Actual, &row.Forecast, &row.Previous}
	for i, dst := range values {
		if len(cells) > 4+i {
			if v := text(cells[4+i]); v != "--" {
				*dst = v
			}
		}
	}
	return row, true
}

func buildInvestingEvent(row investingRow, date string, now time.Time) model.Event {
	compact := strings.NewReplacer("/", "", " ", "", ":", "").Replace(row.Datetime)
	e := model.NewEvent(model.Investing,
		fmt.Sprintf("inv_%s_%s", row.AttrID, compact),
		row.ID, date, now)

	e.EventTime = model.OptStr(row.Time)
	e.EventDatetime = model.OptStr(row.Datetime)
	e.Title = row.Name
	var parts []string
	if row.Actual != "" {
		parts = append(parts, "实际值: "+row.Actual)
	}
	if row.Forecast != "" {
		parts = append(parts, "预测值: "+row.Forecast)
	}
	if row.Previous != "" {
		parts = append(parts, "前值: "+row.Previous)
	}
	if len(parts) > 0 {
		e.Content = model.Str(strings.Join(parts, " | "))
	}
	e.Importance = model.Int(row.Importance)
	e.Country = model.OptStr(row.Country)
	e.RawData = row.raw()
	return e
}

// -------- html 节点工具 --------

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func hasClassPrefix(n *html.Node, prefix string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	var hit *html.Node
	walk(n, func(c *html.Node) {
		if hit == nil && c.Type == html.ElementNode && match(c) {
			hit = c
		}
	})
	return hit
}

// text 拼接所有去掉首尾空白的文本节点
func text(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(strings.TrimSpace(c.Data))
		}
	})
	return b.String()
}
