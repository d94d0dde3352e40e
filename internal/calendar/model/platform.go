package model

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// Platform 数据来源平台
type Platform string

const (
	CLS           Platform = "cls"
	Jiuyangongshe Platform = "jiuyangongshe"
	Tonghuashun   Platform = "tonghuashun"
	Investing     Platform = "investing"
	Eastmoney     Platform = "eastmoney"
)

// platformSpec 每个平台的策略：展示名、身份键、默认数据范围
type platformSpec struct {
	DisplayName string
	Key         func(e Event) string
	Horizon     func(start time.Time) time.Time
}

var platformOrder = []Platform{CLS, Jiuyangongshe, Tonghuashun, Investing, Eastmoney}

var platformSpecs = map[Platform]platformSpec{
	CLS: {
		DisplayName: "财联社",
		Key: func(e Event) string {
			return fmt.Sprintf("%s_%s_%s", e.OriginalID, e.EventDate, deref(e.Category))
		},
		// 财联社通常提供未来 6 个月
		Horizon: func(start time.Time) time.Time { return start.AddDate(0, 0, 180) },
	},
	Jiuyangongshe: {
		DisplayName: "韭研公社",
		Key: func(e Event) string {
			return fmt.Sprintf("%s_%s", e.OriginalID, e.EventDate)
		},
		Horizon: endOfYear,
	},
	Tonghuashun: {
		DisplayName: "同花顺",
		// 同花顺没有稳定的原生ID，用标题哈希
		Key: func(e Event) string {
			sum := md5.Sum([]byte(e.Title))
			return fmt.Sprintf("%s_%s", e.EventDate, hex.EncodeToString(sum[:])[:8])
		},
		Horizon: endOfYear,
	},
	Investing: {
		DisplayName: "英为财情",
		// event_attr_id 是页面属性，改版后可能不稳定
		Key: func(e Event) string {
			attr := ""
			if v, ok := e.RawData["event_attr_id"]; ok && v != nil {
				attr = fmt.Sprint(v)
			}
			return fmt.Sprintf("%s_%s_%s", attr, e.EventDate, deref(e.EventTime))
		},
		Horizon: endOfYear,
	},
	Eastmoney: {
		DisplayName: "东方财富",
		Key: func(e Event) string {
			return fmt.Sprintf("%s_%s", e.OriginalID, e.EventDate)
		},
		Horizon: endOfYear,
	},
}

// Platforms 规范顺序的全部平台
func Platforms() []Platform {
	return append([]Platform{}, platformOrder...)
}

// ParsePlatform 字符串转平台，未知平台返回 false
func ParsePlatform(s string) (Platform, bool) {
	p := Platform(s)
	_, ok := platformSpecs[p]
	return p, ok
}

func (p Platform) Valid() bool {
	_, ok := platformSpecs[p]
	return ok
}

func (p Platform) String() string { return string(p) }

// DisplayName 中文展示名，未知平台返回原值
func (p Platform) DisplayName() string {
	if s, ok := platformSpecs[p]; ok {
		return s.DisplayName
	}
	return string(p)
}

// DefaultHorizon 平台默认能提供数据的最远日期
func (p Platform) DefaultHorizon(start time.Time) time.Time {
	if s, ok := platformSpecs[p]; ok {
		return s.Horizon(start)
	}
	return start
}

// IdentityKey 跨快照匹配同一事件的键，未知平台退回 event_id
func IdentityKey(e Event) string {
	if s, ok := platformSpecs[e.Platform]; ok {
		return s.Key(e)
	}
	return e.EventID
}

// MinHorizonDays 年末时采集窗口的最少天数
const MinHorizonDays = 60

// endOfYear 当年 12 月 31 日，但至少覆盖 start 之后 MinHorizonDays 天
func endOfYear(start time.Time) time.Time {
	end := time.Date(start.Year(), time.December, 31, 0, 0, 0, 0, start.Location())
	if floor := start.AddDate(0, 0, MinHorizonDays); floor.After(end) {
		return floor
	}
	return end
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
