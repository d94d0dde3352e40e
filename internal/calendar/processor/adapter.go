package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"invest-calendar/internal/calendar/helper"
	"invest-calendar/internal/calendar/model"
)

// Adapter 平台采集器：给定闭区间 [start, end]，返回标准化事件
type Adapter interface {
	Platform() model.Platform
	Collect(ctx context.Context, start, end string) ([]model.Event, error)
}

// Options 采集器公共参数
type Options struct {
	RequestDelay     time.Duration
	InvestingWorkers int
	JitterMin        time.Duration
	JitterMax        time.Duration
	CLSToken         string
	CLSUID           string
	JiuyanToken      string
}

// NewAdapters 按平台顺序创建启用的采集器
func NewAdapters(f *Fetcher, opts Options, enabled []model.Platform) []Adapter {
	all := map[model.Platform]Adapter{
		model.CLS:           NewCLS(f, opts.CLSToken, opts.CLSUID),
		model.Jiuyangongshe: NewJiuyan(f, opts.JiuyanToken, opts.RequestDelay),
		model.Tonghuashun:   NewTonghuashun(f, opts.RequestDelay),
		model.Investing:     NewInvesting(f, opts.InvestingWorkers, opts.JitterMin, opts.JitterMax),
		model.Eastmoney:     NewEastmoney(f),
	}
	if len(enabled) == 0 {
		enabled = model.Platforms()
	}
	out := make([]Adapter, 0, len(enabled))
	for _, p := range enabled {
		if a, ok := all[p]; ok {
			out = append(out, a)
		}
	}
	return out
}

// -------- 原始字段取值 --------

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func num(v any) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		if f, err := t.Float64(); err == nil {
			return int(f), true
		}
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n, true
		}
	}
	return 0, false
}

func obj(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}

func inRange(date, start, end string) bool {
	return date != "" && date >= start && date <= end
}

func compactDate(date string) string {
	return strings.ReplaceAll(date, "-", "")
}

// datePart "2025-06-10 10:00:00" -> "2025-06-10"
func datePart(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

// timePart 取时间部分，00:00:00 视为全天
func timePart(s string) *string {
	parts := strings.SplitN(s, " ", 2)
	if len(parts) < 2 || parts[1] == "" || parts[1] == "00:00:00" {
		return nil
	}
	return model.Str(parts[1])
}

// textHash 稳定的短哈希，用于没有原生 ID 的条目
func textHash(s string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return strconv.FormatUint(uint64(h.Sum32()), 16)
}

// forEachMonth 遍历覆盖 [start, end] 的每个月
func forEachMonth(start, end string, fn func(year, month int) error) error {
	months, err := helper.MonthsBetween(start, end)
	if err != nil {
		return err
	}
	for _, m := range months {
		if err := fn(m.Year, m.Month); err != nil {
			return err
		}
	}
	return nil
}
