package helper

import (
	"time"

	"invest-calendar/internal/calendar/model"
)

// -------- 时区与日期工具 --------

var shanghai *time.Location

// ConfigureTimeLocation 设置时区，默认 Asia/Shanghai
func ConfigureTimeLocation(name string) error {
	if name == "" {
		name = "Asia/Shanghai"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		// tzdata 缺失时退回 UTC+8
		loc = time.FixedZone("CST", 8*3600)
	}
	shanghai = loc
	return nil
}

// Location 当前配置的时区
func Location() *time.Location {
	if shanghai == nil {
		return time.FixedZone("CST", 8*3600)
	}
	return shanghai
}

// DateOf 指定时间在配置时区下的日期 YYYY-MM-DD
func DateOf(t time.Time) string {
	return t.In(Location()).Format(model.DateLayout)
}

// Yesterday 前一天
func Yesterday(t time.Time) string {
	return DateOf(t.In(Location()).AddDate(0, 0, -1))
}

// ParseDate 在配置时区下解析 YYYY-MM-DD
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(model.DateLayout, s, Location())
}

// DaysBetween 闭区间 [start, end] 的每一天
func DaysBetween(start, end string) ([]string, error) {
	s, err := ParseDate(start)
	if err != nil {
		return nil, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return nil, err
	}
	var out []string
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(model.DateLayout))
	}
	return out, nil
}

// Month 年月
type Month struct {
	Year  int
	Month int
}

// MonthsBetween 覆盖 [start, end] 的所有月份
func MonthsBetween(start, end string) ([]Month, error) {
	s, err := ParseDate(start)
	if err != nil {
		return nil, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return nil, err
	}
	var out []Month
	cur := time.Date(s.Year(), s.Month(), 1, 0, 0, 0, 0, s.Location())
	for !cur.After(e) {
		out = append(out, Month{Year: cur.Year(), Month: int(cur.Month())})
		cur = cur.AddDate(0, 1, 0)
	}
	return out, nil
}
