package processor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"invest-calendar/internal/calendar/model"
)

func testFetcher(retries int) *Fetcher {
	f := NewFetcher(zap.NewNop(), 2*time.Second, retries)
	f.RetryBase = 0
	return f
}

func TestFetcherRetries(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	body, err := testFetcher(3).Fetch(context.Background(), Request{Platform: "test", URL: srv.URL})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(body) != `{"ok":true}` || calls != 3 {
		t.Fatalf("body=%s calls=%d", body, calls)
	}

	calls = 0
	if _, err := testFetcher(2).Fetch(context.Background(), Request{Platform: "test", URL: srv.URL}); err == nil {
		t.Fatalf("expected failure after 2 attempts")
	}
}

func TestCLSCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		sign := q.Get("sign")
		q.Del("sign")
		if sign == "" || sign != clsSign(q) {
			t.Errorf("bad sign %q", sign)
		}
		fmt.Fprint(w, `{"data":[
			{"calendar_day":"2025-06-09","items":[{"id":1,"type":1,"title":"old"}]},
			{"calendar_day":"2025-06-10","items":[
				{"id":123456,"type":1,"title":"CPI","calendar_time":"2025-06-10 09:30:00","economic":{"star":5,"country":"美国"}},
				{"id":1000000,"type":3,"title":"端午节"}
			]}
		]}`)
	}))
	defer srv.Close()

	c := NewCLS(testFetcher(1), "tok", "42")
	c.URL = srv.URL
	events, err := c.Collect(context.Background(), "2025-06-10", "2025-06-30")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	cpi, holiday := events[0], events[1]
	if cpi.EventID != "cls_123456_20250610_1" || *cpi.EventTime != "09:30:00" || *cpi.Importance != 5 ||
		*cpi.Country != "美国" || *cpi.Category != "经济数据" {
		t.Fatalf("unexpected cpi event: %+v", cpi)
	}
	if holiday.EventID != "cls_1000000_20250610_3" || *holiday.Category != "假日" || *holiday.Importance != 3 || holiday.Country != nil {
		t.Fatalf("unexpected holiday event: %+v", holiday)
	}
}

func TestJiuyanCollect(t *testing.T) {
	var mu sync.Mutex
	var months []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Date string `json:"date"`
		}
		if r.Method != http.MethodPost || json.NewDecoder(r.Body).Decode(&req) != nil {
			t.Errorf("bad request %s", r.Method)
		}
		mu.Lock()
		months = append(months, req.Date)
		mu.Unlock()
		if req.Date != "2025-06" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"data":[
			{"date":"2025-06-01","list":[{"article_id":"old","title":"old"}]},
			{"date":"2025-06-15","list":[
				{"article_id":"a1","title":"算力大会","content":"c","timeline":{"timeline_id":7,"grade":1,"theme_list":[{"name":"AI"},{"name":"算力"}]}},
				{"article_id":"a2","title":"无评级","timeline":{"timeline_id":8}}
			]}
		]}`)
	}))
	defer srv.Close()

	j := NewJiuyan(testFetcher(1), "", 0)
	j.URL = srv.URL
	events, err := j.Collect(context.Background(), "2025-06-10", "2025-07-20")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if strings.Join(months, ",") != "2025-06,2025-07" {
		t.Fatalf("requested months %v", months)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventID != "jygs_a1_7_20250615" || *events[0].Importance != 5 || strings.Join(events[0].Themes, "|") != "AI|算力" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
	if *events[1].Importance != 1 {
		t.Fatalf("missing grade should map to importance 1, got %d", *events[1].Importance)
	}
}

func TestTonghuashunCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("callback") != "callback_dt" || r.URL.Query().Get("date") != "202506" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `callback_dt({"data":[{"date":"2025-06-12","events":[["央行会议","x"],["新品发布"]],"concept":[[{"code":"301","name":"银行"}]]}]});`)
	}))
	defer srv.Close()

	th := NewTonghuashun(testFetcher(1), 0)
	th.URL = srv.URL
	events, err := th.Collect(context.Background(), "2025-06-10", "2025-06-30")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	sum := md5.Sum([]byte("央行会议"))
	wantID := "ths_20250612_0_" + hex.EncodeToString(sum[:])[:8]
	if events[0].EventID != wantID || events[0].OriginalID != "2025-06-12_0" {
		t.Fatalf("unexpected ids: %s %s", events[0].EventID, events[0].OriginalID)
	}
	if len(events[0].Concepts) != 1 || events[0].Concepts[0].Name != "银行" || len(events[1].Concepts) != 0 {
		t.Fatalf("unexpected concepts: %+v / %+v", events[0].Concepts, events[1].Concepts)
	}
}

func TestUnwrapJSONP(t *testing.T) {
	got, err := unwrapJSONP([]byte("  callback_dt({\"a\":1})\n"), "callback_dt")
	if err != nil || string(got) != `{"a":1}` {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := unwrapJSONP([]byte("<html>"), "callback_dt"); err == nil {
		t.Fatalf("expected error")
	}
}

const investingRowTmpl = `<tr id="eventRowId_%[1]d" class="js-event-item" event_attr_ID="733" data-event-datetime="%[2]s 20:30:00">` +
	`<td class="first left time">20:30</td>` +
	`<td class="flagCur"><span title="美国" class="ceFlags United_States"></span> USD</td>` +
	`<td class="sentiment"><i class="grayFullBullishIcon"></i><i class="grayFullBullishIcon"></i><i class="grayFullBullishIcon"></i><i class="grayEmptyBullishIcon"></i></td>` +
	`<td class="event"><a href="/x"> CPI月率 </a></td>` +
	`<td class="act">--</td><td class="fore">0.2%%</td><td class="prev">0.1%%</td></tr>`

func TestInvestingCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if len(r.PostForm["country[]"]) != len(investingCountries) {
			t.Errorf("countries not sent")
		}
		day := r.PostForm.Get("dateFrom")
		if day == "2025-06-11" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var n int
		fmt.Sscanf(strings.ReplaceAll(day, "-", ""), "%d", &n)
		row := fmt.Sprintf(investingRowTmpl, n, strings.ReplaceAll(day, "-", "/"))
		_ = json.NewEncoder(w).Encode(map[string]string{"data": row})
	}))
	defer srv.Close()

	inv := NewInvesting(testFetcher(2), 3, 0, 0)
	inv.URL = srv.URL
	events, err := inv.Collect(context.Background(), "2025-06-10", "2025-06-13")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("failed day should degrade to zero events, got %d events", len(events))
	}
	model.SortEvents(events)
	e := events[0]
	if e.EventID != "inv_733_20250610203000" || e.OriginalID != "eventRowId_20250610" {
		t.Fatalf("unexpected ids: %s %s", e.EventID, e.OriginalID)
	}
	if e.Title != "CPI月率" || *e.Importance != 3 || *e.Country != "美国" || *e.EventTime != "20:30" {
		t.Fatalf("unexpected fields: %+v", e)
	}
	if *e.Content != "预测值: 0.2% | 前值: 0.1%" {
		t.Fatalf("unexpected content %q", *e.Content)
	}
	if model.IdentityKey(e) != "733_2025-06-10_20:30" {
		t.Fatalf("unexpected identity key %q", model.IdentityKey(e))
	}
	if e.RawData["importance"] != json.Number("3") {
		t.Fatalf("raw importance should be json.Number, got %#v", e.RawData["importance"])
	}
}

func TestInvestingWorkerLimit(t *testing.T) {
	var inflight, peak, calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		fmt.Fprint(w, `{"data":""}`)
	}))
	defer srv.Close()

	inv := NewInvesting(testFetcher(1), 3, 0, 0)
	inv.URL = srv.URL
	if _, err := inv.Collect(context.Background(), "2025-06-01", "2025-06-10"); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if calls.Load() != 10 {
		t.Fatalf("expected one request per day, got %d", calls.Load())
	}
	if got := peak.Load(); got > 3 {
		t.Fatalf("in-flight requests peaked at %d, limit is 3", got)
	}
	if peak.Load() < 2 {
		t.Fatalf("days should be fetched concurrently, peak %d", peak.Load())
	}
}

const eastmoneyPayload = `{
	"xsap":[{"SDATE":"2025-06-10 00:00:00","MKT":"上交所","HOLIDAY":"端午节"}],
	"xgsg":[{"APPLY_DATE":"2025-06-11 00:00:00","SECURITY_CODE":"688001","SECURITY_NAME_ABBR":"新股A","APPLY_CODE":"787001","ISSUE_PRICE":12.5,"ONLINE_ISSUE_LWR":800}],
	"tfpxx":[{"Date":"2025-06-12","Data":[{"Scode":"000001","Sname":"平安银行"},{"Scode":"000002","Sname":"万科A"}]}],
	"hsgg":[{"Date":"2025-06-12","TotalCount":1,"Data":[{"Scode":"600000","Sname":"浦发银行"}]}],
	"nbjb":[{"REPORT_DATE":"2025-06-20","SECURITY_CODE":"600519","SECURITY_NAME_ABBR":"贵州茅台","REPORT_TYPE":"一季报","REPORT_PERIOD":"2025Q1"}],
	"jjsj":[{"Date":"2025-06-13 20:30:00","City":"美国","Data":[{"Name":"非农就业"},{"Name":"失业率"}]}],
	"hyhy":[{"START_DATE":"2025-06-01","END_DATE":"2025-06-12","FE_CODE":"FE1","FE_NAME":"半导体大会","CITY":"上海"},
	        {"START_DATE":"2025-05-01","END_DATE":"2025-05-03","FE_CODE":"FE2","FE_NAME":"过期会议"}],
	"gddh":[{"MEETING_DATE":"2025-06-18 14:30:00","SECURITY_CODE":"600036","SECURITY_NAME_ABBR":"招商银行","MEETING_TYPE":"年度股东大会","MEETING_PLACE":"深圳"}],
	"extra":null
}`

func TestEastmoneyCollectDeterministic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("option") != "xsap,xgsg,tfpxx,hsgg,nbjb,jjsj,hyhy,gddh" {
			t.Errorf("unexpected option %q", r.URL.Query().Get("option"))
		}
		fmt.Fprint(w, eastmoneyPayload)
	}))
	defer srv.Close()

	em := NewEastmoney(testFetcher(1))
	em.URL = srv.URL

	collect := func() []string {
		events, err := em.Collect(context.Background(), "2025-06-10", "2025-06-30")
		if err != nil {
			t.Fatalf("collect: %v", err)
		}
		var ids []string
		for _, e := range events {
			ids = append(ids, e.EventID)
		}
		return ids
	}
	first, second := collect(), collect()
	if strings.Join(first, ",") != strings.Join(second, ",") {
		t.Fatalf("ids are not deterministic:\n%v\n%v", first, second)
	}
	if len(first) != 10 {
		t.Fatalf("expected 10 events, got %d: %v", len(first), first)
	}

	byID := map[string]bool{}
	for _, id := range first {
		byID[id] = true
	}
	for _, want := range []string{
		"em_xgsg_688001_20250611",
		"em_tfpxx_000002_20250612_1",
		"em_hsgg_600000_20250612_0",
		"em_nbjb_600519_20250620",
		"em_hyhy_FE1",
		"em_gddh_600036_20250618",
	} {
		if !byID[want] {
			t.Fatalf("missing %s in %v", want, first)
		}
	}
	if byID["em_hyhy_FE2"] {
		t.Fatalf("meeting outside range should be dropped")
	}
}

func TestEastmoneyBuilders(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	resp, err := decodeObject([]byte(eastmoneyPayload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	jj := buildJJSJ(list(resp["jjsj"]), "2025-06-10", "2025-06-30", now)
	if len(jj) != 2 || *jj[0].EventTime != "20:30:00" || *jj[0].Country != "美国" || jj[0].Title != "非农就业" {
		t.Fatalf("unexpected jjsj: %+v", jj)
	}
	if jj[0].EventID == jj[1].EventID {
		t.Fatalf("jjsj ids should differ per name")
	}

	xs := buildXSAP(list(resp["xsap"]), "2025-06-10", "2025-06-30", now)
	if len(xs) != 1 || xs[0].EventTime != nil || xs[0].Title != "上交所 - 端午节" {
		t.Fatalf("unexpected xsap: %+v", xs)
	}

	xg := buildXGSG(list(resp["xgsg"]), "2025-06-10", "2025-06-30", now)
	if *xg[0].Content != "申购代码: 787001, 发行价: 12.5, 发行量: 800万股" {
		t.Fatalf("unexpected xgsg content %q", *xg[0].Content)
	}
}

func TestNewAdaptersOrder(t *testing.T) {
	adapters := NewAdapters(testFetcher(1), Options{}, []model.Platform{model.Eastmoney, model.CLS})
	var got []string
	for _, a := range adapters {
		got = append(got, string(a.Platform()))
	}
	if strings.Join(got, ",") != "eastmoney,cls" {
		t.Fatalf("unexpected adapters %v", got)
	}
	if len(NewAdapters(testFetcher(1), Options{}, nil)) != 5 {
		t.Fatalf("all platforms should be enabled by default")
	}
}

func TestHorizonResolver(t *testing.T) {
	h := NewHorizonResolver(map[model.Platform]int{model.Investing: 30})
	cases := map[model.Platform]string{
		model.CLS:       "2025-12-07",
		model.Eastmoney: "2025-12-31",
		model.Investing: "2025-07-10",
	}
	var keys []string
	for p := range cases {
		keys = append(keys, string(p))
	}
	sort.Strings(keys)
	for _, k := range keys {
		p := model.Platform(k)
		if got := h.MaxDate(p, "2025-06-10"); got != cases[p] {
			t.Fatalf("%s horizon = %s, want %s", p, got, cases[p])
		}
	}
	// 年末仍保留最少 60 天的窗口
	late := map[string]string{
		"2025-11-01": "2025-12-31",
		"2025-11-15": "2026-01-14",
		"2025-12-31": "2026-03-01",
	}
	for start, want := range late {
		if got := h.MaxDate(model.Eastmoney, start); got != want {
			t.Fatalf("eastmoney horizon from %s = %s, want %s", start, got, want)
		}
	}
}
