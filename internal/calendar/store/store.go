package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"invest-calendar/internal/calendar/model"
)

const (
	MetadataName          = "metadata"
	MarkerName            = "first_run_marker"
	HistoricalSummaryName = "historical_summary"
	reportPrefix          = "change_report_"

	archiveRoot = "archived"
)

// ErrMalformed 快照内容无法解析
var ErrMalformed = errors.New("malformed snapshot")

// ErrImmutable 归档分区只能追加合并
var ErrImmutable = errors.New("archive partition is append-only")

// SnapshotStore 平台快照的读写，底层后端可替换
type SnapshotStore struct {
	Log     *zap.Logger
	Backend Backend
	Now     func() time.Time
}

func New(log *zap.Logger, backend Backend) *SnapshotStore {
	return &SnapshotStore{Log: log, Backend: backend, Now: time.Now}
}

func (s *SnapshotStore) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// ReadSnapshot 严格读取：不存在返回 ErrNotFound，解析失败返回 ErrMalformed
func (s *SnapshotStore) ReadSnapshot(ctx context.Context, p model.Platform, part model.Partition) (model.Snapshot, error) {
	data, err := s.Backend.Get(ctx, part.Path(), string(p))
	if err != nil {
		return model.Snapshot{}, err
	}
	var snap model.Snapshot
	if err := decodeJSON(data, &snap); err != nil {
		return model.Snapshot{}, fmt.Errorf("%w: %s/%s: %v", ErrMalformed, part.Path(), p, err)
	}
	for i := range snap.Events {
		snap.Events[i].Normalize()
	}
	if snap.Events == nil {
		snap.Events = []model.Event{}
	}
	return snap, nil
}

// Read 不存在时返回空列表，其余错误原样返回
func (s *SnapshotStore) Read(ctx context.Context, p model.Platform, part model.Partition) ([]model.Event, error) {
	snap, err := s.ReadSnapshot(ctx, p, part)
	if errors.Is(err, ErrNotFound) {
		return []model.Event{}, nil
	}
	if err != nil {
		return nil, err
	}
	return snap.Events, nil
}

// Load 宽松读取：任何失败都记录日志并返回空列表
func (s *SnapshotStore) Load(ctx context.Context, p model.Platform, part model.Partition) []model.Event {
	events, err := s.Read(ctx, p, part)
	if err != nil {
		s.Log.Warn("Failed to load snapshot, treat as empty",
			zap.String("platform", string(p)),
			zap.String("partition", part.Path()),
			zap.Error(err),
		)
		return []model.Event{}
	}
	return events
}

// Save 整体覆盖 current / previous 分区中的平台快照
func (s *SnapshotStore) Save(ctx context.Context, p model.Platform, part model.Partition, events []model.Event) error {
	if part.Immutable() {
		return fmt.Errorf("save %s/%s: %w", part.Path(), p, ErrImmutable)
	}
	return s.write(ctx, p, part, events)
}

// AppendMerge 归档追加：旧数据在前，按 event_id 去重，先出现者保留
func (s *SnapshotStore) AppendMerge(ctx context.Context, p model.Platform, year, month int, events []model.Event) (int, error) {
	part := model.Archive(year, month)
	existing, err := s.Read(ctx, p, part)
	if err != nil {
		if !errors.Is(err, ErrMalformed) {
			return 0, err
		}
		s.Log.Warn("Archive snapshot malformed, rebuilding from new events",
			zap.String("platform", string(p)),
			zap.String("partition", part.Path()),
			zap.Error(err),
		)
		existing = nil
	}

	merged := DedupByEventID(append(existing, events...))
	if err := s.write(ctx, p, part, merged); err != nil {
		return 0, err
	}
	return len(merged), nil
}

// DedupByEventID 保持顺序去重
func DedupByEventID(events []model.Event) []model.Event {
	seen := make(map[string]struct{}, len(events))
	out := make([]model.Event, 0, len(events))
	for _, e := range events {
		if _, ok := seen[e.EventID]; ok {
			continue
		}
		seen[e.EventID] = struct{}{}
		out = append(out, e)
	}
	return out
}

func (s *SnapshotStore) write(ctx context.Context, p model.Platform, part model.Partition, events []model.Event) error {
	for i := range events {
		events[i].Normalize()
	}
	snap := model.NewSnapshot(p, part, events, s.now())
	data, err := encodeJSON(snap)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", part.Path(), p, err)
	}
	if err := s.Backend.Put(ctx, part.Path(), string(p), data); err != nil {
		return fmt.Errorf("write %s/%s: %w", part.Path(), p, err)
	}
	s.Log.Debug("Snapshot saved",
		zap.String("platform", string(p)),
		zap.String("partition", part.Path()),
		zap.Int("events", len(events)),
	)
	return nil
}

// ClearPartition 删除分区内全部记录（previous 轮转用）
func (s *SnapshotStore) ClearPartition(ctx context.Context, part model.Partition) error {
	if part.Immutable() {
		return fmt.Errorf("clear %s: %w", part.Path(), ErrImmutable)
	}
	return s.Backend.DropPartition(ctx, part.Path())
}

// Size 记录的字节数，不存在返回 0
func (s *SnapshotStore) Size(ctx context.Context, part model.Partition, name string) (int64, error) {
	n, err := s.Backend.Size(ctx, part.Path(), name)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	return n, err
}

// SaveMetadata 写 current/metadata
func (s *SnapshotStore) SaveMetadata(ctx context.Context, md model.Metadata) error {
	return s.putJSON(ctx, model.Current(), MetadataName, md)
}

func (s *SnapshotStore) ReadMetadata(ctx context.Context) (model.Metadata, error) {
	var md model.Metadata
	err := s.getJSON(ctx, model.Current(), MetadataName, &md)
	return md, err
}

// WriteMarker 写首次运行标记
func (s *SnapshotStore) WriteMarker(ctx context.Context) error {
	now := s.now()
	return s.putJSON(ctx, model.Current(), MarkerName, model.FirstRunMarker{
		FirstRunDate: now.Format(model.DateLayout),
		FirstRunTime: now.Format("2006-01-02T15:04:05.000000"),
		Status:       "completed",
	})
}

func (s *SnapshotStore) ReadMarker(ctx context.Context) (model.FirstRunMarker, error) {
	var m model.FirstRunMarker
	err := s.getJSON(ctx, model.Current(), MarkerName, &m)
	return m, err
}

// SaveReport 按日期写变更报告
func (s *SnapshotStore) SaveReport(ctx context.Context, date string, report any) error {
	return s.putJSON(ctx, model.Current(), reportPrefix+date, report)
}

// ReadReport 读取某天的变更报告
func (s *SnapshotStore) ReadReport(ctx context.Context, date string, out any) error {
	return s.getJSON(ctx, model.Current(), reportPrefix+date, out)
}

// SaveHistoricalSummary 写 archived/historical_summary
func (s *SnapshotStore) SaveHistoricalSummary(ctx context.Context, sum model.HistoricalSummary) error {
	data, err := encodeJSON(sum)
	if err != nil {
		return fmt.Errorf("encode %s: %w", HistoricalSummaryName, err)
	}
	if err := s.Backend.Put(ctx, archiveRoot, HistoricalSummaryName, data); err != nil {
		return fmt.Errorf("write %s/%s: %w", archiveRoot, HistoricalSummaryName, err)
	}
	return nil
}

func (s *SnapshotStore) ReadHistoricalSummary(ctx context.Context) (model.HistoricalSummary, error) {
	var sum model.HistoricalSummary
	data, err := s.Backend.Get(ctx, archiveRoot, HistoricalSummaryName)
	if err != nil {
		return sum, err
	}
	if err := decodeJSON(data, &sum); err != nil {
		return sum, fmt.Errorf("%w: %s/%s: %v", ErrMalformed, archiveRoot, HistoricalSummaryName, err)
	}
	return sum, nil
}

// ArchivedMonths 所有已存在的归档分区，按时间升序
func (s *SnapshotStore) ArchivedMonths(ctx context.Context) ([]model.Partition, error) {
	paths, err := s.Backend.Partitions(ctx, archiveRoot+"/")
	if err != nil {
		return nil, err
	}
	out := make([]model.Partition, 0, len(paths))
	for _, p := range paths {
		part, ok := parseArchivePath(p)
		if !ok {
			continue
		}
		out = append(out, part)
	}
	return out, nil
}

// parseArchivePath 解析 archived/{year}/{month}月
func parseArchivePath(p string) (model.Partition, bool) {
	parts := strings.Split(p, "/")
	if len(parts) != 3 || parts[0] != archiveRoot {
		return model.Partition{}, false
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return model.Partition{}, false
	}
	month, err := strconv.Atoi(strings.TrimSuffix(parts[2], "月"))
	if err != nil || month < 1 || month > 12 {
		return model.Partition{}, false
	}
	return model.Archive(year, month), true
}

func (s *SnapshotStore) putJSON(ctx context.Context, part model.Partition, name string, v any) error {
	data, err := encodeJSON(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", part.Path(), name, err)
	}
	if err := s.Backend.Put(ctx, part.Path(), name, data); err != nil {
		return fmt.Errorf("write %s/%s: %w", part.Path(), name, err)
	}
	return nil
}

func (s *SnapshotStore) getJSON(ctx context.Context, part model.Partition, name string, out any) error {
	data, err := s.Backend.Get(ctx, part.Path(), name)
	if err != nil {
		return err
	}
	if err := decodeJSON(data, out); err != nil {
		return fmt.Errorf("%w: %s/%s: %v", ErrMalformed, part.Path(), name, err)
	}
	return nil
}

// decodeJSON raw_data 中的数字保留为 json.Number，与采集时一致
func decodeJSON(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

// encodeJSON 缩进输出，不转义 HTML 字符
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
