// Package streamclient 驱动对计划生成流式接口的调用：
// 解析 SSE 帧、维护进度估算、提供续作/取消/重置控制。
package streamclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"fitplan-ai-api/pkg/genstore"
)

// State 状态机取值
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateStreaming State = "streaming"
	StateComplete  State = "complete"
	StateFailed    State = "failed"
)

// ErrCanceled 用户主动取消，区别于服务端错误，不进入 failed 态
var ErrCanceled = errors.New("stream canceled by caller")

// event 服务端 SSE 数据帧，按字段区分类型
type event struct {
	Chunk  string          `json:"chunk"`
	Retry  int             `json:"retry"`
	Reason string          `json:"reason"`
	Done   bool            `json:"done"`
	Plan   json.RawMessage `json:"plan"`
	Error  string          `json:"error"`
}

// cachedResponse 缓存命中时的普通 JSON 响应
type cachedResponse struct {
	Plan   json.RawMessage `json:"plan"`
	Cached bool            `json:"cached"`
}

// ProgressEstimator 从已收到的 chunk 数推算进度（0-99）。
// chunk 计数法只是启发式，换成基于期望 token 数的实现不需要动状态机。
type ProgressEstimator interface {
	Estimate(chunks int) int
}

// ChunkCountEstimator 按预期 chunk 总数线性推算，封顶 99
type ChunkCountEstimator struct {
	// ExpectedChunks 预期总 chunk 数，0 时使用默认值
	ExpectedChunks int
}

func (e ChunkCountEstimator) Estimate(chunks int) int {
	expected := e.ExpectedChunks
	if expected <= 0 {
		expected = 200
	}
	p := chunks * 100 / expected
	if p > 99 {
		p = 99
	}
	return p
}

// Callbacks 各阶段的观察回调，均可为 nil
type Callbacks struct {
	OnChunk    func(text string)
	OnProgress func(progress int)
	// OnRetry 服务端丢弃已收到的内容并重新生成，属于过渡阶段而非失败
	OnRetry    func(attempt int, reason string)
	OnComplete func(plan json.RawMessage)
	OnError    func(err error)
}

// Options 客户端配置
type Options struct {
	// HTTPClient 为 nil 时使用 http.DefaultClient
	HTTPClient *http.Client
	// Timeout 单次生成的最长等待时间，0 表示不限制
	Timeout   time.Duration
	Estimator ProgressEstimator
	Callbacks Callbacks
}

// Client 单实例单飞的流式获取状态机。
// 新的 FetchStream 会先取消上一次在途请求。
type Client struct {
	store     *genstore.Store
	http      *http.Client
	timeout   time.Duration
	estimator ProgressEstimator
	cb        Callbacks

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	recordID string
}

// New 创建客户端。store 承载跨重启的续作状态。
func New(store *genstore.Store, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	estimator := opts.Estimator
	if estimator == nil {
		estimator = ChunkCountEstimator{}
	}
	return &Client{
		store:     store,
		http:      httpClient,
		timeout:   opts.Timeout,
		estimator: estimator,
		cb:        opts.Callbacks,
		state:     StateIdle,
	}
}

// State 返回当前状态
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FetchStream 发起一次生成。返回最终已校验的计划。
// params 会被持久化到 genstore，续作时原样重发。
func (c *Client) FetchStream(ctx context.Context, url, kind string, params any) (json.RawMessage, error) {
	recordID, err := c.begin(kind, params)
	if err != nil {
		return nil, err
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if c.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	plan, err := c.run(runCtx, url, kind, params, recordID)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			// 被新请求或 Cancel() 取消：不标记失败
			c.setStateIfCurrent(recordID, StateIdle)
			return nil, ErrCanceled
		}
		_ = c.store.Fail(recordID, err.Error())
		c.setStateIfCurrent(recordID, StateFailed)
		if c.cb.OnError != nil {
			c.cb.OnError(err)
		}
		return nil, err
	}

	if err := c.store.Complete(recordID, plan); err != nil {
		return nil, err
	}
	c.setStateIfCurrent(recordID, StateComplete)
	if c.cb.OnComplete != nil {
		c.cb.OnComplete(plan)
	}
	return plan, nil
}

// Resume 续作：查找该 kind 未完成的记录，用原始参数重新发起请求。
// 续作是一次全新请求，服务端不保留会话，不做字节级续传。
func (c *Client) Resume(ctx context.Context, url, kind string) (json.RawMessage, error) {
	rec := c.store.GetIncomplete(kind)
	if rec == nil {
		return nil, fmt.Errorf("no incomplete %s generation to resume", kind)
	}
	return c.FetchStream(ctx, url, kind, rec.Params)
}

// Cancel 中止在途请求。用户主动取消不把记录标记为失败。
func (c *Client) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Reset 丢弃该 kind 的记录并回到 idle
func (c *Client) Reset(kind string) error {
	if err := c.store.Clear(kind); err != nil {
		return err
	}
	c.setState(StateIdle)
	return nil
}

// begin 取消上一次在途请求并登记新记录
func (c *Client) begin(kind string, params any) (string, error) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	recordID, err := c.store.Start(kind, params)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.recordID = recordID
	c.state = StateLoading
	c.mu.Unlock()
	return recordID, nil
}

// run 发出 HTTP 请求并按响应类型分流
func (c *Client) run(ctx context.Context, url, kind string, params any, recordID string) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream, application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")

	// 缓存命中等快速路径返回普通 JSON，完全跳过 streaming 态
	if !strings.HasPrefix(contentType, "text/event-stream") {
		return c.consumeJSON(resp)
	}

	c.setStateIfCurrent(recordID, StateStreaming)
	return c.consumeStream(resp.Body, recordID)
}

// consumeJSON 非流式响应：2xx 携带计划，其余为结构化错误
func (c *Client) consumeJSON(resp *http.Response) (json.RawMessage, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &body) == nil && body.Message != "" {
			return nil, fmt.Errorf("server rejected request (%d): %s", resp.StatusCode, body.Message)
		}
		return nil, fmt.Errorf("server rejected request (%d)", resp.StatusCode)
	}

	var cached cachedResponse
	if err := json.Unmarshal(data, &cached); err != nil || len(cached.Plan) == 0 {
		return nil, fmt.Errorf("unexpected non-stream response body")
	}
	return cached.Plan, nil
}

// consumeStream 逐行解析 data: 帧直到终帧
func (c *Client) consumeStream(body io.Reader, recordID string) (json.RawMessage, error) {
	var accumulated strings.Builder
	chunks := 0
	lastProgress := 0

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var evt event
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			// 坏帧跳过，终帧缺失最终会在流结束时报错
			continue
		}

		switch {
		case evt.Error != "":
			return nil, errors.New(evt.Error)

		case evt.Done:
			return evt.Plan, nil

		case evt.Retry > 0:
			// 服务端重新生成，丢弃已累积的内容，进度保持不回退
			accumulated.Reset()
			chunks = 0
			if c.cb.OnRetry != nil {
				c.cb.OnRetry(evt.Retry, evt.Reason)
			}

		case evt.Chunk != "":
			accumulated.WriteString(evt.Chunk)
			chunks++
			if p := c.estimator.Estimate(chunks); p > lastProgress {
				lastProgress = p
			}
			_ = c.store.UpdateProgress(recordID, lastProgress, accumulated.String())
			if c.cb.OnChunk != nil {
				c.cb.OnChunk(evt.Chunk)
			}
			if c.cb.OnProgress != nil {
				c.cb.OnProgress(lastProgress)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("stream ended without a terminal event")
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// setStateIfCurrent 只在记录未被新请求顶掉时更新状态，
// 避免被取消的旧请求覆盖新请求的状态。
func (c *Client) setStateIfCurrent(recordID string, s State) {
	c.mu.Lock()
	if c.recordID == recordID {
		c.state = s
	}
	c.mu.Unlock()
}
