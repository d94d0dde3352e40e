package model

import (
	"sort"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"

	StatusActive   = "ACTIVE"
	StatusArchived = "ARCHIVED"
)

// Concept 同花顺等平台给出的概念标签
type Concept struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Event 标准化后的日历事件，所有平台共用
type Event struct {
	Platform      Platform       `json:"platform"`
	EventID       string         `json:"event_id"`    // 确定性ID，归档去重键
	OriginalID    string         `json:"original_id"` // 平台原始ID
	EventDate     string         `json:"event_date"`  // YYYY-MM-DD
	EventTime     *string        `json:"event_time"`
	EventDatetime *string        `json:"event_datetime"`
	Title         string         `json:"title"`
	Content       *string        `json:"content"`
	Category      *string        `json:"category"`
	Importance    *int           `json:"importance"` // 1-5，nil 表示未评级
	Country       *string        `json:"country"`
	City          *string        `json:"city"`
	Stocks        []string       `json:"stocks"`
	Concepts      []Concept      `json:"concepts"`
	Themes        []string       `json:"themes"`
	DataStatus    string         `json:"data_status"` // ACTIVE | ARCHIVED
	IsNew         bool           `json:"is_new"`
	DiscoveryDate string         `json:"discovery_date"`
	RawData       map[string]any `json:"raw_data"` // 原始字段透传，不参与比较
	CreatedAt     string         `json:"created_at"`
}

// NewEvent 构造事件并补齐默认值
func NewEvent(platform Platform, eventID, originalID, eventDate string, now time.Time) Event {
	e := Event{
		Platform:   platform,
		EventID:    eventID,
		OriginalID: originalID,
		EventDate:  eventDate,
		CreatedAt:  now.Format("2006-01-02T15:04:05.000000"),
	}
	e.DiscoveryDate = now.Format(DateLayout)
	e.Normalize()
	return e
}

// Normalize 保证容器字段非 nil，状态字段有值
func (e *Event) Normalize() {
	if e.Stocks == nil {
		e.Stocks = []string{}
	}
	if e.Concepts == nil {
		e.Concepts = []Concept{}
	}
	if e.Themes == nil {
		e.Themes = []string{}
	}
	if e.RawData == nil {
		e.RawData = map[string]any{}
	}
	if e.DataStatus == "" {
		e.DataStatus = StatusActive
	}
}

// Clone 深拷贝，RawData 只拷贝第一层
func (e Event) Clone() Event {
	out := e
	out.EventTime = cloneStr(e.EventTime)
	out.EventDatetime = cloneStr(e.EventDatetime)
	out.Content = cloneStr(e.Content)
	out.Category = cloneStr(e.Category)
	out.Country = cloneStr(e.Country)
	out.City = cloneStr(e.City)
	if e.Importance != nil {
		v := *e.Importance
		out.Importance = &v
	}
	out.Stocks = append([]string{}, e.Stocks...)
	out.Concepts = append([]Concept{}, e.Concepts...)
	out.Themes = append([]string{}, e.Themes...)
	out.RawData = make(map[string]any, len(e.RawData))
	for k, v := range e.RawData {
		out.RawData[k] = v
	}
	return out
}

// ImportanceOrZero 未评级按 0 处理
func (e Event) ImportanceOrZero() int {
	if e.Importance == nil {
		return 0
	}
	return *e.Importance
}

// SortKeyTime 缺省时间按 00:00:00 排序
func (e Event) SortKeyTime() string {
	if e.EventTime == nil || *e.EventTime == "" {
		return "00:00:00"
	}
	return *e.EventTime
}

// SortEvents 按 (event_date, event_time) 稳定排序
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].EventDate != events[j].EventDate {
			return events[i].EventDate < events[j].EventDate
		}
		return events[i].SortKeyTime() < events[j].SortKeyTime()
	})
}

// ValidDate 校验 YYYY-MM-DD
func ValidDate(s string) bool {
	if len(s) != len(DateLayout) {
		return false
	}
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

func Str(s string) *string { return &s }

// OptStr 空串视为缺失
func OptStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func Int(v int) *int { return &v }

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func equalStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ContentChanged 比较 title / event_datetime / importance / content / country
func ContentChanged(prev, curr Event) bool {
	return prev.Title != curr.Title ||
		!equalStr(prev.EventDatetime, curr.EventDatetime) ||
		!equalInt(prev.Importance, curr.Importance) ||
		!equalStr(prev.Content, curr.Content) ||
		!equalStr(prev.Country, curr.Country)
}
