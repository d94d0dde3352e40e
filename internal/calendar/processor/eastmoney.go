package processor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"invest-calendar/internal/calendar/helper"
	"invest-calendar/internal/calendar/model"
)

const eastmoneyURL = "https://data.eastmoney.com/dataapi/dcrl/dstx"

// eastmoneySection 一个数据分区及其构建函数
type eastmoneySection struct {
	Key   string
	Name  string
	Build func(items []any, start, end string, now time.Time) []model.Event
}

var eastmoneySections = []eastmoneySection{
	{"xsap", "休市安排", buildXSAP},
	{"xgsg", "新股申购", buildXGSG},
	{"tfpxx", "停复牌信息", buildTFPXX},
	{"hsgg", "A股公告", buildHSGG},
	{"nbjb", "年报季报", buildNBJB},
	{"jjsj", "经济数据", buildJJSJ},
	{"hyhy", "行业会议", buildHYHY},
	{"gddh", "股东大会", buildGDDH},
}

// Eastmoney 东方财富大事提醒，一次请求返回八类数据
type Eastmoney struct {
	fetcher *Fetcher
	URL     string
}

func NewEastmoney(f *Fetcher) *Eastmoney {
	return &Eastmoney{fetcher: f, URL: eastmoneyURL}
}

func (em *Eastmoney) Platform() model.Platform { return model.Eastmoney }

func (em *Eastmoney) Collect(ctx context.Context, start, end string) ([]model.Event, error) {
	keys := make([]string, 0, len(eastmoneySections))
	for _, s := range eastmoneySections {
		keys = append(keys, s.Key)
	}
	body, err := em.fetcher.Fetch(ctx, Request{
		Platform: string(model.Eastmoney),
		Method:   MethodGet,
		URL:      em.URL,
		Query: url.Values{
			"fromdate": {start},
			"todate":   {end},
			"option":   {strings.Join(keys, ",")},
		},
		Headers: map[string]string{
			"Accept":           "application/json, text/javascript, */*; q=0.01",
			"X-Requested-With": "XMLHttpRequest",
			"Referer":          "https://data.eastmoney.com/dcrl/dashi.html",
		},
	})
	if err != nil {
		return nil, err
	}
	resp, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("eastmoney: %w", err)
	}

	now := time.Now().In(helper.Location())
	var events []model.Event
	for _, s := range eastmoneySections {
		built := em.buildSection(s, list(resp[s.Key]), start, end, now)
		events = append(events, built...)
	}
	em.fetcher.Log.Info("Collected platform events",
		zap.String("platform", string(model.Eastmoney)),
		zap.Int("events", len(events)),
	)
	return events, nil
}

// buildSection 单个分区解析出错只丢弃该分区
func (em *Eastmoney) buildSection(s eastmoneySection, items []any, start, end string, now time.Time) (events []model.Event) {
	defer func() {
		if r := recover(); r != nil {
			em.fetcher.Log.Warn("Section build failed",
				zap.String("section", s.Key),
				zap.Any("panic", r),
			)
			events = nil
		}
	}()
	events = s.Build(items, start, end, now)
	em.fetcher.Log.Debug("Section built",
		zap.String("section", s.Key),
		zap.String("name", s.Name),
		zap.Int("input", len(items)),
		zap.Int("events", len(events)),
	)
	return events
}

func newEastmoneyEvent(id, originalID, date, category string, importance int, now time.Time) model.Event {
	e := model.NewEvent(model.Eastmoney, id, originalID, date, now)
	e.Category = model.Str(category)
	e.Importance = model.Int(importance)
	e.Country = model.Str("中国")
	return e
}

func stocksOf(code string) []string {
	if code == "" {
		return []string{}
	}
	return []string{code}
}

func buildXSAP(items []any, start, end string, now time.Time) []model.Event {
	var out []model.Event
	for _, it := range items {
		item := obj(it)
		if item == nil {
			continue
		}
		sdate := str(item["SDATE"])
		date := datePart(sdate)
		if !inRange(date, start, end) {
			continue
		}
		holiday, mkt := str(item["HOLIDAY"]), str(item["MKT"])
		e := newEastmoneyEvent(
			fmt.Sprintf("em_xsap_%s_%s", compactDate(date), textHash(holiday)),
			fmt.Sprintf("xsap_%s_%s", mkt, date), date, "休市安排", 2, now)
		e.EventTime = timePart(sdate)
		e.EventDatetime = model.OptStr(sdate)
		e.Title = fmt.Sprintf("%s - %s", mkt, holiday)
		e.RawData = item
		out = append(out, e)
	}
	return out
}

func buildXGSG(items []any, start, end string, now time.Time) []model.Event {
	var out []model.Event
	for _, it := range items {
		item := obj(it)
		if item == nil {
			continue
		}
		date := datePart(str(item["APPLY_DATE"]))
		if !inRange(date, start, end) {
			continue
		}
		code := str(item["SECURITY_CODE"])
		e := newEastmoneyEvent(
			fmt.Sprintf("em_xgsg_%s_%s", code, compactDate(date)),
			code, date, "新股申购", 3, now)
		e.Title = str(item["SECURITY_NAME_ABBR"]) + "新股申购"
		e.Content = model.Str(fmt.Sprintf("申购代码: %s, 发行价: %s, 发行量: %s万股",
			str(item["APPLY_CODE"]), str(item["ISSUE_PRICE"]), str(item["ONLINE_ISSUE_LWR"])))
		e.Stocks = stocksOf(code)
		e.RawData = item
		out = append(out, e)
	}
	return out
}

// buildStockList 停复牌和公告的结构相同：{Date, Data:[{Scode, Sname}]}
func buildStockList(items []any, start, end string, now time.Time, key, category, titleSuffix string, importance int) []model.Event {
	var out []model.Event
	for _, it := range items {
		group := obj(it)
		if group == nil {
			continue
		}
		date := datePart(str(group["Date"]))
		if !inRange(date, start, end) {
			continue
		}
		total, hasTotal := num(group["TotalCount"])
		for i, s := range list(group["Data"]) {
			stock := obj(s)
			if stock == nil {
				continue
			}
			code, name := str(stock["Scode"]), str(stock["Sname"])
			e := newEastmoneyEvent(
				fmt.Sprintf("em_%s_%s_%s_%d", key, code, compactDate(date), i),
				code, date, category, importance, now)
			e.Title = name + titleSuffix
			e.Content = model.Str(fmt.Sprintf("股票代码: %s, 股票名称: %s", code, name))
			e.Stocks = stocksOf(code)
			e.RawData = map[string]any{"stock_code": code, "stock_name": name, "date": date}
			if hasTotal {
				e.RawData["total_count"] = total
			}
			out = append(out, e)
		}
	}
	return out
}

func buildTFPXX(items []any, start, end string, now time.Time) []model.Event {
	return buildStockList(items, start, end, now, "tfpxx", "停复牌信息", "停复牌", 2)
}

func buildHSGG(items []any, start, end string, now time.Time) []model.Event {
	return buildStockList(items, start, end, now, "hsgg", "A股公告", "发布公告", 3)
}

func buildNBJB(items []any, start, end string, now time.Time) []model.Event {
	var out []model.Event
	for _, it := range items {
		item := obj(it)
		if item == nil {
			continue
		}
		date := datePart(str(item["REPORT_DATE"]))
		if !inRange(date, start, end) {
			continue
		}
		code, reportType := str(item["SECURITY_CODE"]), str(item["REPORT_TYPE"])
		e := newEastmoneyEvent(
			fmt.Sprintf("em_nbjb_%s_%s", code, compactDate(date)),
			code, date, "年报季报", 4, now)
		e.Title = fmt.Sprintf("%s %s", str(item["SECURITY_NAME_ABBR"]), reportType)
		e.Content = model.Str(fmt.Sprintf("报告类型: %s, 报告期: %s", reportType, str(item["REPORT_PERIOD"])))
		e.Stocks = stocksOf(code)
		e.RawData = item
		out = append(out, e)
	}
	return out
}

func buildJJSJ(items []any, start, end string, now time.Time) []model.Event {
	var out []model.Event
	for _, it := range items {
		group := obj(it)
		if group == nil {
			continue
		}
		raw := str(group["Date"])
		date := datePart(raw)
		if !inRange(date, start, end) {
			continue
		}
		stamp := strings.NewReplacer("-", "", " ", "", ":", "").Replace(raw)
		for _, d := range list(group["Data"]) {
			item := obj(d)
			if item == nil {
				continue
			}
			name := str(item["Name"])
			e := newEastmoneyEvent(
				fmt.Sprintf("em_jjsj_%s_%s", stamp, textHash(name)),
				fmt.Sprintf("%s_%s", raw, name), date, "经济数据", 4, now)
			e.EventTime = timePart(raw)
			e.EventDatetime = model.OptStr(raw)
			e.Title = name
			e.Country = model.Str(str(group["City"]))
			e.RawData = item
			out = append(out, e)
		}
	}
	return out
}

// buildHYHY 会议区间与查询区间有交集即保留，日期取开始日
func buildHYHY(items []any, start, end string, now time.Time) []model.Event {
	var out []model.Event
	for _, it := range items {
		item := obj(it)
		if item == nil {
			continue
		}
		from := datePart(str(item["START_DATE"]))
		to := datePart(str(item["END_DATE"]))
		if from == "" {
			continue
		}
		overlap := inRange(from, start, end) ||
			inRange(to, start, end) ||
			(from <= start && to != "" && to >= end)
		if !overlap {
			continue
		}
		code := str(item["FE_CODE"])
		e := newEastmoneyEvent("em_hyhy_"+code, code, from, "行业会议", 3, now)
		e.Title = str(item["FE_NAME"])
		e.Content = model.Str(str(item["CONTENT"]))
		e.City = model.OptStr(str(item["CITY"]))
		e.RawData = map[string]any{
			"fe_code":    item["FE_CODE"],
			"fe_name":    item["FE_NAME"],
			"start_date": from,
			"end_date":   to,
			"fe_type":    item["FE_TYPE"],
			"sponsor":    item["SPONSOR_NAME"],
			"city":       item["CITY"],
			"content":    item["CONTENT"],
		}
		out = append(out, e)
	}
	return out
}

func buildGDDH(items []any, start, end string, now time.Time) []model.Event {
	var out []model.Event
	for _, it := range items {
		item := obj(it)
		if item == nil {
			continue
		}
		raw := str(item["MEETING_DATE"])
		date := datePart(raw)
		if !inRange(date, start, end) {
			continue
		}
		code := str(item["SECURITY_CODE"])
		place := str(item["MEETING_PLACE"])
		e := newEastmoneyEvent(
			fmt.Sprintf("em_gddh_%s_%s", code, compactDate(date)),
			code, date, "股东大会", 3, now)
		e.EventTime = timePart(raw)
		e.EventDatetime = model.OptStr(raw)
		e.Title = str(item["SECURITY_NAME_ABBR"]) + "股东大会"
		e.Content = model.Str(fmt.Sprintf("会议类型: %s, 地点: %s", str(item["MEETING_TYPE"]), place))
		e.City = model.OptStr(place)
		e.Stocks = stocksOf(code)
		e.RawData = item
		out = append(out, e)
	}
	return out
}
