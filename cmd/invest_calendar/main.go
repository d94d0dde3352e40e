package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"invest-calendar/internal/calendar/api"
	"invest-calendar/internal/calendar/helper"
	"invest-calendar/internal/calendar/model"
	"invest-calendar/internal/calendar/processor"
	"invest-calendar/internal/calendar/query"
	"invest-calendar/internal/calendar/scheduler"
	"invest-calendar/internal/calendar/store"
	"invest-calendar/internal/middleware/logger"
	"invest-calendar/pkg/config"
)

const usage = `invest_calendar -mode <mode> [flags]

modes:
  first-run  首次运行，只采集并保存
  daily      归档 -> 轮转 -> 采集 -> 检测 -> 保存
  auto       根据已有数据自动选择 first-run 或 daily
  collect    只采集并覆盖 current
  detect     采集并生成变更报告，不覆盖 current
  archive    归档指定日期 (-date)
  backfill   回补 [-start, 昨天] 的历史事件到月度归档，缺省从当年 1 月 1 日开始
  status     各分区统计
  query      查询 (-date | -start/-end | -platform | -since)
  serve      定时任务 + HTTP 查询接口
`

func main() {
	var (
		cfgPath  = flag.String("config", "config/1-config.yaml", "配置文件路径")
		mode     = flag.String("mode", "auto", "运行模式")
		date     = flag.String("date", "", "日期 YYYY-MM-DD")
		start    = flag.String("start", "", "区间开始日期")
		end      = flag.String("end", "", "区间结束日期")
		platform = flag.String("platform", "", "平台")
		since    = flag.String("since", "", "发现日期下限")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := helper.ConfigureTimeLocation(cfg.Timezone); err != nil {
		log.Fatal("configure timezone", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := store.Open(ctx, store.Options{
		Kind:       cfg.Storage.Backend,
		DataDir:    cfg.DataDir,
		SQLitePath: cfg.Storage.SQLitePath,
		Mongo: store.MongoOptions{
			Host:       cfg.Storage.Mongo.Host,
			DBName:     cfg.Storage.Mongo.DBName,
			Username:   cfg.Storage.Mongo.Username,
			Password:   cfg.Storage.Mongo.Password,
			AuthSource: cfg.Storage.Mongo.AuthSource,
		},
	})
	if err != nil {
		log.Error("Failed to open storage", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
		os.Exit(1)
	}
	defer func() { _ = backend.Close() }()

	snapshots := store.New(log, backend)
	enabled := cfg.EnabledPlatforms()

	fetcher := processor.NewFetcher(log, cfg.HTTP.Timeout, cfg.HTTP.MaxRetries)
	adapters := processor.NewAdapters(fetcher, processor.Options{
		RequestDelay:     cfg.HTTP.RequestDelay,
		InvestingWorkers: cfg.Investing.Workers,
		JitterMin:        cfg.Investing.JitterMin,
		JitterMax:        cfg.Investing.JitterMax,
		CLSToken:         cfg.Tokens.CLS,
		CLSUID:           cfg.Tokens.CLSUID,
		JiuyanToken:      cfg.Tokens.Jiuyangongshe,
	}, enabled)

	worker := scheduler.NewWorker(log, snapshots, adapters,
		processor.NewHorizonResolver(cfg.Horizons()),
		scheduler.FirstRunPolicy{
			Platforms: cfg.FirstRunPlatforms(),
			MinValid:  cfg.FirstRun.MinValid,
			MinBytes:  cfg.FirstRun.MinBytes,
		},
	)
	queries := query.New(log, snapshots, enabled)

	log.Info("Invest calendar starting",
		zap.String("mode", *mode),
		zap.String("backend", cfg.Storage.Backend),
		zap.Int("platforms", len(adapters)),
	)

	ok := true
	switch *mode {
	case "first-run":
		ok = worker.RunFirstTime(ctx)
	case "daily":
		ok = worker.RunDaily(ctx)
	case "auto":
		ok = worker.RunAuto(ctx)
	case "collect":
		ok = worker.CollectOnly(ctx)
	case "detect":
		var report any
		report, ok = worker.DetectOnly(ctx)
		if ok {
			ok = printJSON(report)
		}
	case "archive":
		d := *date
		if d == "" {
			d = helper.Yesterday(time.Now())
		}
		ok = worker.ArchiveDate(ctx, d)
	case "backfill":
		from := *start
		if from == "" {
			from = fmt.Sprintf("%d-01-01", time.Now().In(helper.Location()).Year())
		}
		var sum any
		sum, ok = worker.Backfill(ctx, from)
		if ok {
			ok = printJSON(sum)
		}
	case "status":
		st, err := queries.Status(ctx)
		if err != nil {
			log.Error("Status failed", zap.Error(err))
			ok = false
			break
		}
		ok = printJSON(st)
	case "query":
		ok = runQuery(ctx, log, queries, *date, *start, *end, *platform, *since)
	case "serve":
		ok = serve(ctx, log, cfg, worker, queries)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if !ok {
		log.Error("Run failed", zap.String("mode", *mode))
		_ = log.Sync()
		os.Exit(1)
	}
}

func runQuery(ctx context.Context, log *zap.Logger, q *query.Service, date, start, end, platform, since string) bool {
	var (
		events []model.Event
		err    error
	)
	switch {
	case start != "" || end != "":
		events, err = q.ByDateRange(ctx, start, end)
	case platform != "":
		p, found := model.ParsePlatform(platform)
		if !found {
			err = fmt.Errorf("unknown platform: %s", platform)
			break
		}
		events, err = q.ByPlatform(ctx, p)
	case since != "":
		events, err = q.NewSince(ctx, since)
	default:
		if date == "" {
			date = q.Today()
		}
		events, err = q.ByDate(ctx, date)
	}
	if err != nil {
		log.Error("Query failed", zap.Error(err))
		return false
	}
	return printJSON(events)
}

// serve 定时跑 RunAuto，同时提供查询接口，收到信号后退出
func serve(ctx context.Context, log *zap.Logger, cfg *config.Config, w *scheduler.Worker, q *query.Service) bool {
	runner := scheduler.NewRunner(log, ctx)
	if err := runner.Schedule(cfg.Schedule, w); err != nil {
		log.Error("Invalid schedule", zap.String("schedule", cfg.Schedule), zap.Error(err))
		return false
	}
	runner.Start()
	defer runner.Stop()

	srv := &api.Server{Log: log, Query: q}
	r := srv.Router()
	_ = r.SetTrustedProxies(nil)
	httpSrv := &http.Server{Addr: cfg.HTTP.Listen, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Invest calendar API is running", zap.String("address", cfg.HTTP.Listen))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server stopped", zap.Error(err))
			return false
		}
	case <-ctx.Done():
		log.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown", zap.Error(err))
	}
	return true
}

func printJSON(v any) bool {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		return false
	}
	return true
}
