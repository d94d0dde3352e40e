package model

import (
	"fmt"
	"time"
)

const (
	DateTypeFuture     = "FUTURE"
	DateTypeHistorical = "HISTORICAL"
)

// PartitionKind 分区类型
type PartitionKind int

const (
	PartitionCurrent PartitionKind = iota
	PartitionPrevious
	PartitionArchive
)

// Partition 存储分区：current / previous / archived/{year}/{month}月
type Partition struct {
	Kind  PartitionKind
	Year  int
	Month int
}

func Current() Partition  { return Partition{Kind: PartitionCurrent} }
func Previous() Partition { return Partition{Kind: PartitionPrevious} }

func Archive(year, month int) Partition {
	return Partition{Kind: PartitionArchive, Year: year, Month: month}
}

// ArchiveOf 日期所在月份的归档分区
func ArchiveOf(date string) (Partition, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return Partition{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return Archive(t.Year(), int(t.Month())), nil
}

// Path 分区在存储中的相对路径
func (p Partition) Path() string {
	switch p.Kind {
	case PartitionCurrent:
		return "active/current"
	case PartitionPrevious:
		return "active/previous"
	default:
		return fmt.Sprintf("archived/%d/%02d月", p.Year, p.Month)
	}
}

func (p Partition) Immutable() bool { return p.Kind == PartitionArchive }

func (p Partition) String() string { return p.Path() }

// Snapshot 单个平台在某分区下的文件内容
type Snapshot struct {
	Platform    Platform `json:"platform"`
	Year        int      `json:"year,omitempty"`
	Month       int      `json:"month,omitempty"`
	TotalEvents int      `json:"total_events"`
	DataStatus  string   `json:"data_status"`
	DateType    string   `json:"date_type"`
	LastUpdated string   `json:"last_updated,omitempty"`
	LastUpdate  string   `json:"last_update,omitempty"` // 归档文件使用该字段名
	Immutable   bool     `json:"immutable"`
	Events      []Event  `json:"events"`
}

// NewSnapshot 按分区类型填充元数据
func NewSnapshot(platform Platform, part Partition, events []Event, now time.Time) Snapshot {
	if events == nil {
		events = []Event{}
	}
	s := Snapshot{
		Platform:    platform,
		TotalEvents: len(events),
		Events:      events,
	}
	ts := now.Format("2006-01-02T15:04:05.000000")
	if part.Immutable() {
		s.Year, s.Month = part.Year, part.Month
		s.DataStatus = StatusArchived
		s.DateType = DateTypeHistorical
		s.LastUpdate = ts
		s.Immutable = true
	} else {
		s.DataStatus = StatusActive
		s.DateType = DateTypeFuture
		s.LastUpdated = ts
	}
	return s
}

// UpdatedAt 兼容 last_updated / last_update 两种字段
func (s Snapshot) UpdatedAt() string {
	if s.LastUpdated != "" {
		return s.LastUpdated
	}
	return s.LastUpdate
}

// DateRange 起止日期
type DateRange struct {
	Start *string `json:"start"`
	End   *string `json:"end"`
}

// PlatformSummary metadata 中单个平台的汇总
type PlatformSummary struct {
	EventCount int       `json:"event_count"`
	DateRange  DateRange `json:"date_range"`
}

// Metadata current 分区的跨平台汇总
type Metadata struct {
	CollectionType string                       `json:"collection_type"`
	CollectionTime string                       `json:"collection_time"`
	Platforms      map[Platform]PlatformSummary `json:"platforms"`
	TotalEvents    int                          `json:"total_events"`
	DateRange      DateRange                    `json:"date_range"`
}

// BuildMetadata 统计总数与各平台日期范围
func BuildMetadata(data map[Platform][]Event, now time.Time) Metadata {
	md := Metadata{
		CollectionType: StatusActive,
		CollectionTime: now.Format("2006-01-02T15:04:05.000000"),
		Platforms:      make(map[Platform]PlatformSummary, len(data)),
	}
	var allMin, allMax string
	for p, events := range data {
		var pMin, pMax string
		for _, e := range events {
			if e.EventDate == "" {
				continue
			}
			if pMin == "" || e.EventDate < pMin {
				pMin = e.EventDate
			}
			if pMax == "" || e.EventDate > pMax {
				pMax = e.EventDate
			}
		}
		md.Platforms[p] = PlatformSummary{
			EventCount: len(events),
			DateRange:  DateRange{Start: OptStr(pMin), End: OptStr(pMax)},
		}
		md.TotalEvents += len(events)
		if pMin != "" && (allMin == "" || pMin < allMin) {
			allMin = pMin
		}
		if pMax != "" && pMax > allMax {
			allMax = pMax
		}
	}
	md.DateRange = DateRange{Start: OptStr(allMin), End: OptStr(allMax)}
	return md
}

// FirstRunMarker 首次运行完成标记
type FirstRunMarker struct {
	FirstRunDate string `json:"first_run_date"`
	FirstRunTime string `json:"first_run_time"`
	Status       string `json:"status"`
}

const (
	BackfillSuccess = "success"
	BackfillNoData  = "no_data"
	BackfillFailed  = "failed"
)

// BackfillResult 历史回补中单个平台的结果
type BackfillResult struct {
	TotalEvents int    `json:"total_events"`
	Status      string `json:"status"` // success | no_data | failed
	Error       string `json:"error,omitempty"`
}

// HistoricalSummary archived/historical_summary 的内容
type HistoricalSummary struct {
	CollectionType  string                      `json:"collection_type"`
	CollectionTime  string                      `json:"collection_time"`
	HistoricalRange string                      `json:"historical_range"`
	Start           string                      `json:"start"`
	End             string                      `json:"end"`
	TotalEvents     int                         `json:"total_events"`
	Platforms       map[Platform]BackfillResult `json:"platforms"`
	Status          string                      `json:"status"`
}
