package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	MethodGet      = "GET"
	MethodPostJSON = "POST/JSON"
	MethodPostForm = "POST/FORM"
)

// Request 一次平台请求的描述
type Request struct {
	Platform string
	Method   string
	URL      string
	Query    url.Values // GET 参数
	Form     url.Values // POST/FORM 表单，允许重复键
	JSON     any        // POST/JSON 请求体
	Headers  map[string]string
}

// Fetcher 带超时和有限重试的 HTTP 客户端
type Fetcher struct {
	Log        *zap.Logger
	HTTPClient *http.Client
	MaxRetries int
	RetryBase  time.Duration // 第 n 次重试等待 RetryBase * 2^(n-1) 加随机抖动
}

// NewFetcher 创建请求器，timeout 作用于单次请求
func NewFetcher(log *zap.Logger, timeout time.Duration, maxRetries int) *Fetcher {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &Fetcher{
		Log:        log,
		HTTPClient: &http.Client{Timeout: timeout},
		MaxRetries: maxRetries,
		RetryBase:  time.Second,
	}
}

// calculateRetryDelay RetryBase * 2^(n-1)，再加不超过一半的抖动
func (f *Fetcher) calculateRetryDelay(retryCount int) time.Duration {
	if f.RetryBase <= 0 {
		return 0
	}
	delay := f.RetryBase
	for i := 1; i < retryCount; i++ {
		delay *= 2
	}
	return delay + time.Duration(rand.Int64N(int64(delay)/2+1))
}

// Fetch 执行请求，失败按退避重试，全部失败返回最后一次错误
func (f *Fetcher) Fetch(ctx context.Context, r Request) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := f.calculateRetryDelay(attempt - 1)
			f.Log.Debug("Retry scheduled",
				zap.String("platform", r.Platform),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}
		body, err := f.fetchOnce(ctx, r, attempt)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%s: %d attempts failed: %w", r.Platform, f.MaxRetries, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, r Request, attempt int) ([]byte, error) {
	req, err := f.buildHTTPRequest(ctx, r)
	if err != nil {
		return nil, err
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		f.Log.Warn("Request failed",
			zap.String("platform", r.Platform),
			zap.String("url", r.URL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return nil, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			f.Log.Warn("Failed to close response body", zap.Error(err))
		}
	}(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		f.Log.Warn("Failed to read response body",
			zap.String("platform", r.Platform),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		f.Log.Warn("Unexpected status",
			zap.String("platform", r.Platform),
			zap.String("url", r.URL),
			zap.Int("status", resp.StatusCode),
			zap.Int("attempt", attempt),
		)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	f.Log.Debug("Fetched response",
		zap.String("platform", r.Platform),
		zap.Int("attempt", attempt),
		zap.Int("bodySize", len(body)),
	)
	return body, nil
}

// buildHTTPRequest 按方法组装请求
func (f *Fetcher) buildHTTPRequest(ctx context.Context, r Request) (*http.Request, error) {
	var req *http.Request
	var err error

	switch strings.ToUpper(r.Method) {
	case MethodGet, "":
		u, perr := url.Parse(r.URL)
		if perr != nil {
			return nil, perr
		}
		q := u.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)

	case MethodPostJSON:
		data, merr := json.Marshal(r.JSON)
		if merr != nil {
			return nil, merr
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(data))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}

	case MethodPostForm:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, r.URL, strings.NewReader(r.Form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

	default:
		return nil, fmt.Errorf("unsupported method: %s", r.Method)
	}

	if err != nil {
		f.Log.Error("Failed to create HTTP request",
			zap.String("method", r.Method),
			zap.String("platform", r.Platform),
			zap.Error(err),
		)
		return nil, err
	}

	req.Header.Set("User-Agent", defaultUserAgent)
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

// decodeObject 解析 JSON 对象，数字保留为 json.Number
func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return nil, err
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top-level is not JSON object")
	}
	return obj, nil
}

// sleepCtx 可被取消的等待
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// jitter [min, max) 之间的随机时长
func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)))
}
