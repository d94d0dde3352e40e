package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"invest-calendar/internal/calendar/detector"
	"invest-calendar/internal/calendar/helper"
	"invest-calendar/internal/calendar/lifecycle"
	"invest-calendar/internal/calendar/model"
	"invest-calendar/internal/calendar/processor"
	"invest-calendar/internal/calendar/store"
)

// FirstRunPolicy current 分区中 Platforms 至少 MinValid 个快照大于 MinBytes 才算已初始化
type FirstRunPolicy struct {
	Platforms []model.Platform
	MinValid  int
	MinBytes  int64
}

func DefaultFirstRunPolicy() FirstRunPolicy {
	return FirstRunPolicy{
		Platforms: []model.Platform{model.CLS, model.Jiuyangongshe, model.Tonghuashun},
		MinValid:  2,
		MinBytes:  100,
	}
}

// Worker 串联 采集 -> 检测 -> 存储 -> 生命周期
type Worker struct {
	Log       *zap.Logger
	Store     *store.SnapshotStore
	Adapters  []processor.Adapter
	Horizons  *processor.HorizonResolver
	Detector  *detector.Detector
	Lifecycle *lifecycle.Manager
	FirstRun  FirstRunPolicy
	Now       func() time.Time

	mu sync.Mutex // 同一时刻只允许一个批次
}

func NewWorker(log *zap.Logger, s *store.SnapshotStore, adapters []processor.Adapter, horizons *processor.HorizonResolver, policy FirstRunPolicy) *Worker {
	platforms := make([]model.Platform, 0, len(adapters))
	for _, a := range adapters {
		platforms = append(platforms, a.Platform())
	}
	if horizons == nil {
		horizons = processor.NewHorizonResolver(nil)
	}
	return &Worker{
		Log:       log,
		Store:     s,
		Adapters:  adapters,
		Horizons:  horizons,
		Detector:  detector.New(log, s),
		Lifecycle: lifecycle.New(log, s, platforms),
		FirstRun:  policy,
		Now:       time.Now,
	}
}

func (w *Worker) now() time.Time {
	if w.Now == nil {
		return time.Now()
	}
	return w.Now()
}

func (w *Worker) today() string { return helper.DateOf(w.now()) }

// lock 单飞保护，已有批次在跑时返回 false
func (w *Worker) lock(mode string) bool {
	if !w.mu.TryLock() {
		w.Log.Warn("Another run is in progress, skip", zap.String("mode", mode))
		return false
	}
	return true
}

// IsFirstRun current 中有效快照数量不足时视为首次运行
func (w *Worker) IsFirstRun(ctx context.Context) bool {
	valid := 0
	for _, p := range w.FirstRun.Platforms {
		size, err := w.Store.Size(ctx, model.Current(), string(p))
		if err != nil {
			w.Log.Warn("Failed to stat snapshot", zap.String("platform", string(p)), zap.Error(err))
			continue
		}
		if size > w.FirstRun.MinBytes {
			valid++
		}
	}
	return valid < w.FirstRun.MinValid
}

// Collected 一次采集的结果，Failed 记录整体失败的平台
type Collected struct {
	Events map[model.Platform][]model.Event
	Failed map[model.Platform]error
}

// CollectAll 依次调用各平台采集器，区间为 [today, 平台最远日期]
func (w *Worker) CollectAll(ctx context.Context, today string) Collected {
	res := Collected{
		Events: make(map[model.Platform][]model.Event, len(w.Adapters)),
		Failed: map[model.Platform]error{},
	}
	total := 0
	for _, a := range w.Adapters {
		p := a.Platform()
		end := w.Horizons.MaxDate(p, today)
		w.Log.Info("Collecting platform",
			zap.String("platform", string(p)),
			zap.String("name", p.DisplayName()),
			zap.String("start", today),
			zap.String("end", end),
		)

		events, err := w.collectOne(ctx, a, today, end)
		if err != nil {
			w.Log.Error("Platform collection failed",
				zap.String("platform", string(p)),
				zap.Error(err),
			)
			res.Failed[p] = err
			events = []model.Event{}
		}
		if events == nil {
			events = []model.Event{}
		}
		res.Events[p] = events
		total += len(events)
	}
	w.Log.Info("Collection finished", zap.Int("events", total), zap.Int("failed", len(res.Failed)))
	return res
}

func (w *Worker) collectOne(ctx context.Context, a processor.Adapter, start, end string) (events []model.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.Collect(ctx, start, end)
}

// Persist 覆盖写 current 并生成 metadata
func (w *Worker) Persist(ctx context.Context, data map[model.Platform][]model.Event) error {
	for _, p := range model.Platforms() {
		events, ok := data[p]
		if !ok {
			continue
		}
		if err := w.Store.Save(ctx, p, model.Current(), events); err != nil {
			return err
		}
		w.Log.Info("Saved current snapshot", zap.String("platform", string(p)), zap.Int("events", len(events)))
	}
	if err := w.Store.SaveMetadata(ctx, model.BuildMetadata(data, w.now())); err != nil {
		return err
	}
	return nil
}

// detect 只对采集成功的平台做检测，失败平台变更集为空
func (w *Worker) detect(ctx context.Context, c Collected, today string) (map[model.Platform][]model.Event, detector.Report) {
	ok := make(map[model.Platform][]model.Event, len(c.Events))
	for p, events := range c.Events {
		if _, failed := c.Failed[p]; !failed {
			ok[p] = events
		}
	}
	res := w.Detector.DetectAll(ctx, ok, today)

	annotated := make(map[model.Platform][]model.Event, len(c.Events))
	changes := res.Changes
	for p, events := range c.Events {
		if a, found := res.Annotated[p]; found {
			annotated[p] = a
			continue
		}
		annotated[p] = events
		changes[p] = detector.Changes{New: []model.Event{}, Updated: []model.Event{}, Cancelled: []model.Event{}}
	}

	report := detector.BuildReport(changes, w.now().Format("2006-01-02T15:04:05.000000"))
	w.Detector.SaveReport(ctx, today, report)
	return annotated, report
}

// RunFirstTime 首次运行：只采集并保存，然后写标记
func (w *Worker) RunFirstTime(ctx context.Context) bool {
	if !w.lock("first-run") {
		return false
	}
	defer w.mu.Unlock()

	if !w.IsFirstRun(ctx) {
		w.Log.Error("Active data already exists, use daily mode")
		return false
	}
	return w.firstTime(ctx)
}

func (w *Worker) firstTime(ctx context.Context) bool {
	today := w.today()
	w.Log.Info("First run started", zap.String("today", today))

	collected := w.CollectAll(ctx, today)
	if err := w.Persist(ctx, collected.Events); err != nil {
		w.Log.Error("First run failed", zap.Error(err))
		return false
	}
	if err := w.Store.WriteMarker(ctx); err != nil {
		w.Log.Error("Failed to write first run marker", zap.Error(err))
		return false
	}
	w.Log.Info("First run completed")
	return true
}

// RunDaily 归档昨天 -> 轮转 previous -> 采集 -> 检测 -> 保存
func (w *Worker) RunDaily(ctx context.Context) bool {
	if !w.lock("daily") {
		return false
	}
	defer w.mu.Unlock()
	return w.daily(ctx)
}

func (w *Worker) daily(ctx context.Context) bool {
	today := w.today()
	boundary := helper.Yesterday(w.now())
	w.Log.Info("Daily update started", zap.String("today", today), zap.String("archive_date", boundary))

	w.Log.Info("Step 1: archive", zap.String("date", boundary))
	if _, err := w.Lifecycle.ArchiveDate(ctx, boundary); err != nil {
		w.Log.Error("Daily update failed at archive", zap.Error(err))
		return false
	}

	w.Log.Info("Step 2: rotate previous", zap.String("boundary", boundary))
	if err := w.Lifecycle.RotatePrevious(ctx, boundary); err != nil {
		w.Log.Error("Daily update failed at rotate", zap.Error(err))
		return false
	}

	w.Log.Info("Step 3: collect", zap.String("start", today))
	collected := w.CollectAll(ctx, today)

	w.Log.Info("Step 4: detect changes")
	annotated, report := w.detect(ctx, collected, today)

	w.Log.Info("Step 5: persist")
	if err := w.Persist(ctx, annotated); err != nil {
		w.Log.Error("Daily update failed at persist", zap.Error(err))
		return false
	}

	w.Log.Info("Daily update completed",
		zap.String("run_id", report.RunID),
		zap.Int("new", report.Summary.TotalNew),
		zap.Int("updated", report.Summary.TotalUpdated),
		zap.Int("cancelled", report.Summary.TotalCancelled),
	)
	return true
}

// RunAuto 未初始化时走首次运行，否则走日常更新
func (w *Worker) RunAuto(ctx context.Context) bool {
	if !w.lock("auto") {
		return false
	}
	defer w.mu.Unlock()

	if w.IsFirstRun(ctx) {
		w.Log.Info("No baseline found, running first run")
		return w.firstTime(ctx)
	}
	return w.daily(ctx)
}

// CollectOnly 采集并覆盖 current，不做检测
func (w *Worker) CollectOnly(ctx context.Context) bool {
	if !w.lock("collect") {
		return false
	}
	defer w.mu.Unlock()

	collected := w.CollectAll(ctx, w.today())
	if err := w.Persist(ctx, collected.Events); err != nil {
		w.Log.Error("Collect failed", zap.Error(err))
		return false
	}
	return true
}

// DetectOnly 采集并与 previous 比较，只写报告不覆盖 current
func (w *Worker) DetectOnly(ctx context.Context) (detector.Report, bool) {
	if !w.lock("detect") {
		return detector.Report{}, false
	}
	defer w.mu.Unlock()

	today := w.today()
	collected := w.CollectAll(ctx, today)
	_, report := w.detect(ctx, collected, today)
	return report, true
}

// ArchiveDate 手动归档指定日期
func (w *Worker) ArchiveDate(ctx context.Context, date string) bool {
	if !w.lock("archive") {
		return false
	}
	defer w.mu.Unlock()

	if _, err := w.Lifecycle.ArchiveDate(ctx, date); err != nil {
		w.Log.Error("Archive failed", zap.String("date", date), zap.Error(err))
		return false
	}
	return true
}
