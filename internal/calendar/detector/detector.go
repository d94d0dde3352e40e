package detector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"invest-calendar/internal/calendar/model"
	"invest-calendar/internal/calendar/store"
)

// Changes 单个平台的变更集合
type Changes struct {
	New       []model.Event `json:"new"`
	Updated   []model.Event `json:"updated"`
	Cancelled []model.Event `json:"cancelled"`
}

func emptyChanges() Changes {
	return Changes{New: []model.Event{}, Updated: []model.Event{}, Cancelled: []model.Event{}}
}

// Empty 三类变更都为空
func (c Changes) Empty() bool {
	return len(c.New) == 0 && len(c.Updated) == 0 && len(c.Cancelled) == 0
}

// keyed 按身份键建索引，重复键后者覆盖前者，顺序保持首次出现
type keyed struct {
	order  []string
	events map[string]model.Event
}

func index(events []model.Event) keyed {
	k := keyed{events: make(map[string]model.Event, len(events))}
	for _, e := range events {
		key := model.IdentityKey(e)
		if _, ok := k.events[key]; !ok {
			k.order = append(k.order, key)
		}
		k.events[key] = e
	}
	return k
}

// DetectPlatform 比较 previous 与 current，返回变更集合和标注后的 current 副本
// 只有 event_date >= today 的键参与分类；输入切片不会被修改
func DetectPlatform(platform model.Platform, previous, current []model.Event, today string) (Changes, []model.Event) {
	changes := emptyChanges()
	prev := index(previous)
	curr := index(current)

	// 按身份键记录需要标注的事件
	marks := map[string]bool{} // key -> isNew

	for _, key := range curr.order {
		e := curr.events[key]
		if e.EventDate < today {
			continue
		}
		old, ok := prev.events[key]
		switch {
		case !ok:
			marks[key] = true
			changes.New = append(changes.New, annotate(e, true, today))
		case model.ContentChanged(old, e):
			marks[key] = false
			changes.Updated = append(changes.Updated, annotate(e, false, today))
		}
	}

	for _, key := range prev.order {
		e := prev.events[key]
		if e.EventDate < today {
			continue
		}
		if _, ok := curr.events[key]; !ok {
			changes.Cancelled = append(changes.Cancelled, e.Clone())
		}
	}

	annotated := make([]model.Event, 0, len(current))
	for _, e := range current {
		c := e.Clone()
		if isNew, ok := marks[model.IdentityKey(e)]; ok {
			c = annotate(c, isNew, today)
		}
		annotated = append(annotated, c)
	}
	return changes, annotated
}

func annotate(e model.Event, isNew bool, today string) model.Event {
	c := e.Clone()
	if isNew {
		c.IsNew = true
	}
	c.DiscoveryDate = today
	return c
}

// Detector 跨平台检测，previous 分区作为基线
type Detector struct {
	Log   *zap.Logger
	Store *store.SnapshotStore
}

func New(log *zap.Logger, s *store.SnapshotStore) *Detector {
	return &Detector{Log: log, Store: s}
}

// Result 一次检测的全部输出
type Result struct {
	Changes   map[model.Platform]Changes
	Annotated map[model.Platform][]model.Event
}

// DetectAll 对每个平台独立检测，单平台失败只影响自身
func (d *Detector) DetectAll(ctx context.Context, current map[model.Platform][]model.Event, today string) Result {
	res := Result{
		Changes:   make(map[model.Platform]Changes, len(current)),
		Annotated: make(map[model.Platform][]model.Event, len(current)),
	}
	for _, p := range model.Platforms() {
		events, ok := current[p]
		if !ok {
			continue
		}
		changes, annotated, err := d.detectOne(ctx, p, events, today)
		if err != nil {
			d.Log.Error("Change detection failed",
				zap.String("platform", string(p)),
				zap.Error(err),
			)
			res.Changes[p] = emptyChanges()
			res.Annotated[p] = events
			continue
		}
		res.Changes[p] = changes
		res.Annotated[p] = annotated
		d.Log.Info("Change detection done",
			zap.String("platform", string(p)),
			zap.Int("new", len(changes.New)),
			zap.Int("updated", len(changes.Updated)),
			zap.Int("cancelled", len(changes.Cancelled)),
		)
	}
	return res
}

func (d *Detector) detectOne(ctx context.Context, p model.Platform, events []model.Event, today string) (changes Changes, annotated []model.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	previous, err := d.Store.Read(ctx, p, model.Previous())
	if err != nil {
		if !isMalformed(err) {
			return Changes{}, nil, err
		}
		// 基线损坏时按空基线处理，当前事件全部视为新增
		d.Log.Warn("Previous snapshot malformed, treat as empty",
			zap.String("platform", string(p)),
			zap.Error(err),
		)
		previous = []model.Event{}
	}
	changes, annotated = DetectPlatform(p, previous, events, today)
	return changes, annotated, nil
}
