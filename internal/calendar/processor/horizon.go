package processor

import (
	"sync"

	"invest-calendar/internal/calendar/helper"
	"invest-calendar/internal/calendar/model"
)

// HorizonResolver 平台能提供数据的最远日期，按 平台+起始日 缓存
type HorizonResolver struct {
	Overrides map[model.Platform]int // 配置的天数，覆盖平台默认值

	mu    sync.Mutex
	cache map[string]string
}

func NewHorizonResolver(overrides map[model.Platform]int) *HorizonResolver {
	return &HorizonResolver{Overrides: overrides, cache: map[string]string{}}
}

// MaxDate 返回 YYYY-MM-DD；起始日无效时原样返回
func (h *HorizonResolver) MaxDate(p model.Platform, start string) string {
	key := string(p) + "_" + start

	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.cache[key]; ok {
		return v
	}

	t, err := helper.ParseDate(start)
	if err != nil {
		return start
	}
	var limit string
	if days, ok := h.Overrides[p]; ok && days > 0 {
		limit = t.AddDate(0, 0, days).Format(model.DateLayout)
	} else {
		limit = p.DefaultHorizon(t).Format(model.DateLayout)
	}
	if limit < start {
		limit = start
	}
	if h.cache == nil {
		h.cache = map[string]string{}
	}
	h.cache[key] = limit
	return limit
}
