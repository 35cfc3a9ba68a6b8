package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkoutRequest(t *testing.T, days int) *Request {
	t.Helper()
	params := WorkoutParams{Goal: "strength", DaysPerWeek: days, Level: "beginner", Equipment: "dumbbells"}
	fp, err := Fingerprint(KindWorkout, params)
	require.NoError(t, err)
	return &Request{Kind: KindWorkout, Params: params, Fingerprint: fp, Days: days}
}

func workoutPlanJSON(days int) string {
	p := WorkoutPlan{
		Summary:  WorkoutSummary{Goal: "strength", DaysPerWeek: days, Level: "beginner"},
		Workouts: map[string]WorkoutDay{},
	}
	for i := 1; i <= days; i++ {
		p.Workouts[fmt.Sprintf("day%d", i)] = WorkoutDay{
			Focus:     "full body",
			Exercises: []Exercise{{Name: "squat", Sets: 3, Reps: "8-12", RestSeconds: 90}},
		}
	}
	raw, _ := json.Marshal(&p)
	return string(raw)
}

func splitChunks(s string, size int) []string {
	var chunks []string
	for len(s) > size {
		chunks = append(chunks, s[:size])
		s = s[size:]
	}
	return append(chunks, s)
}

type scriptedStream struct {
	tokens []string
	i      int
}

func (s *scriptedStream) Recv() (string, error) {
	if s.i >= len(s.tokens) {
		return "", io.EOF
	}
	tok := s.tokens[s.i]
	s.i++
	return tok, nil
}

func (s *scriptedStream) Close() {}

// blockingStream 在 Recv 中阻塞直到上下文取消，用于模拟在途的慢生成
type blockingStream struct {
	ctx     context.Context
	started chan struct{}
	once    sync.Once
}

func (s *blockingStream) Recv() (string, error) {
	s.once.Do(func() { close(s.started) })
	<-s.ctx.Done()
	return "", s.ctx.Err()
}

func (s *blockingStream) Close() {}

// gatedStream 在首次 Recv 时阻塞到放行信号，之后照常回放脚本
type gatedStream struct {
	scriptedStream
	gate    <-chan struct{}
	started chan struct{}
	once    sync.Once
}

func (s *gatedStream) Recv() (string, error) {
	s.once.Do(func() {
		close(s.started)
		<-s.gate
	})
	return s.scriptedStream.Recv()
}

type stubGenerator struct {
	mu          sync.Mutex
	streamCalls int
	genCalls    int
	streamFn    func(ctx context.Context, call int) (TokenStream, error)
	generateFn  func(ctx context.Context, call int) (string, error)
}

func (g *stubGenerator) Stream(ctx context.Context, _ *Request) (TokenStream, error) {
	g.mu.Lock()
	g.streamCalls++
	call := g.streamCalls
	g.mu.Unlock()
	return g.streamFn(ctx, call)
}

func (g *stubGenerator) Generate(ctx context.Context, _ *Request) (string, error) {
	g.mu.Lock()
	g.genCalls++
	call := g.genCalls
	g.mu.Unlock()
	if g.generateFn == nil {
		return "", errors.New("unexpected Generate call")
	}
	return g.generateFn(ctx, call)
}

func (g *stubGenerator) calls() (streams, generates int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.streamCalls, g.genCalls
}

type retryEvent struct {
	attempt int
	reason  string
}

type sinkRecorder struct {
	mu      sync.Mutex
	chunks  []string
	retries []retryEvent
}

func (s *sinkRecorder) Chunk(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, text)
}

func (s *sinkRecorder) Retry(attempt int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries = append(s.retries, retryEvent{attempt: attempt, reason: reason})
}

func (s *sinkRecorder) Chunks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.chunks...)
}

func (s *sinkRecorder) Retries() []retryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]retryEvent(nil), s.retries...)
}

func TestPipelineStreamSuccess(t *testing.T) {
	full := workoutPlanJSON(3)
	gen := &stubGenerator{
		streamFn: func(_ context.Context, _ int) (TokenStream, error) {
			return &scriptedStream{tokens: splitChunks(full, 16)}, nil
		},
	}
	cache := NewMemoryCache()
	p := NewPipeline(gen, cache, Options{MaxRetries: 2, CacheTTL: time.Hour})

	req := newWorkoutRequest(t, 3)
	sink := &sinkRecorder{}
	result, err := p.Run(context.Background(), req, sink)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Retries)
	assert.Empty(t, sink.Retries())

	var joined string
	for _, c := range sink.Chunks() {
		joined += c
	}
	assert.Equal(t, full, joined)

	var plan WorkoutPlan
	require.NoError(t, json.Unmarshal(result.Payload, &plan))
	assert.Len(t, plan.Workouts, 3)

	streams, generates := gen.calls()
	assert.Equal(t, 1, streams)
	assert.Equal(t, 0, generates)

	cached, ok := p.Lookup(context.Background(), req)
	require.True(t, ok)
	assert.JSONEq(t, string(result.Payload), string(cached))
}

func TestPipelineRetryAfterTruncatedStream(t *testing.T) {
	truncated := workoutPlanJSON(2)
	full := workoutPlanJSON(3)
	gen := &stubGenerator{
		streamFn: func(_ context.Context, _ int) (TokenStream, error) {
			return &scriptedStream{tokens: splitChunks(truncated, 16)}, nil
		},
		generateFn: func(_ context.Context, _ int) (string, error) {
			return full, nil
		},
	}
	p := NewPipeline(gen, NewMemoryCache(), Options{MaxRetries: 2, CacheTTL: time.Hour})

	req := newWorkoutRequest(t, 3)
	sink := &sinkRecorder{}
	result, err := p.Run(context.Background(), req, sink)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Retries)
	retries := sink.Retries()
	require.Len(t, retries, 1)
	assert.Equal(t, 1, retries[0].attempt)
	assert.Contains(t, retries[0].reason, "day3")

	var plan WorkoutPlan
	require.NoError(t, json.Unmarshal(result.Payload, &plan))
	assert.Len(t, plan.Workouts, 3)

	streams, generates := gen.calls()
	assert.Equal(t, 1, streams)
	assert.Equal(t, 1, generates)
}

func TestPipelineRetriesExhausted(t *testing.T) {
	truncated := workoutPlanJSON(2)
	gen := &stubGenerator{
		streamFn: func(_ context.Context, _ int) (TokenStream, error) {
			return &scriptedStream{tokens: splitChunks(truncated, 16)}, nil
		},
		generateFn: func(_ context.Context, _ int) (string, error) {
			return truncated, nil
		},
	}
	cache := NewMemoryCache()
	p := NewPipeline(gen, cache, Options{MaxRetries: 2, CacheTTL: time.Hour})

	req := newWorkoutRequest(t, 3)
	sink := &sinkRecorder{}
	_, err := p.Run(context.Background(), req, sink)
	require.Error(t, err)
	assert.True(t, IsIncomplete(err))

	// 初始流式一次 + 两次重新生成，重试事件编号从 1 开始递增
	streams, generates := gen.calls()
	assert.Equal(t, 1, streams)
	assert.Equal(t, 2, generates)

	retries := sink.Retries()
	require.Len(t, retries, 2)
	assert.Equal(t, 1, retries[0].attempt)
	assert.Equal(t, 2, retries[1].attempt)

	// 失败结果不得进入缓存
	_, ok := p.Lookup(context.Background(), req)
	assert.False(t, ok)
}

func TestPipelineNoRetryWhenDisabled(t *testing.T) {
	truncated := workoutPlanJSON(2)
	gen := &stubGenerator{
		streamFn: func(_ context.Context, _ int) (TokenStream, error) {
			return &scriptedStream{tokens: splitChunks(truncated, 16)}, nil
		},
	}
	p := NewPipeline(gen, NewMemoryCache(), Options{MaxRetries: 0, CacheTTL: time.Hour})

	req := newWorkoutRequest(t, 3)
	sink := &sinkRecorder{}
	_, err := p.Run(context.Background(), req, sink)
	require.Error(t, err)
	assert.True(t, IsIncomplete(err))

	assert.Empty(t, sink.Retries())
	_, generates := gen.calls()
	assert.Equal(t, 0, generates)
}

func TestPipelineCancelAndReplace(t *testing.T) {
	full := workoutPlanJSON(3)
	firstStarted := make(chan struct{})
	gen := &stubGenerator{
		streamFn: func(ctx context.Context, call int) (TokenStream, error) {
			if call == 1 {
				return &blockingStream{ctx: ctx, started: firstStarted}, nil
			}
			return &scriptedStream{tokens: splitChunks(full, 16)}, nil
		},
		generateFn: func(_ context.Context, _ int) (string, error) {
			return full, nil
		},
	}
	p := NewPipeline(gen, NewMemoryCache(), Options{
		MaxRetries:  2,
		CacheTTL:    time.Hour,
		DedupPolicy: DedupCancelAndReplace,
	})
	req := newWorkoutRequest(t, 3)

	firstSink := &sinkRecorder{}
	firstErr := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), req, firstSink)
		firstErr <- err
	}()

	select {
	case <-firstStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("first generation never started")
	}
	assert.True(t, p.Pending().Has(req.Fingerprint))

	result, err := p.Run(context.Background(), req, &sinkRecorder{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Payload)

	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded generation never returned")
	}

	assert.False(t, p.Pending().Has(req.Fingerprint))

	// 被顶掉的请求不进入重试：不发 retry 事件，也不再调上游
	assert.Empty(t, firstSink.Retries())
	_, generates := gen.calls()
	assert.Equal(t, 0, generates)
}

func TestPipelineJoinSharesResult(t *testing.T) {
	full := workoutPlanJSON(3)
	gate := make(chan struct{})
	started := make(chan struct{})
	gen := &stubGenerator{
		streamFn: func(_ context.Context, call int) (TokenStream, error) {
			if call == 1 {
				return &gatedStream{
					scriptedStream: scriptedStream{tokens: splitChunks(full, 16)},
					gate:           gate,
					started:        started,
				}, nil
			}
			return &scriptedStream{tokens: splitChunks(full, 16)}, nil
		},
	}
	p := NewPipeline(gen, NewMemoryCache(), Options{
		MaxRetries:  0,
		CacheTTL:    time.Hour,
		DedupPolicy: DedupJoin,
	})
	req := newWorkoutRequest(t, 3)

	type outcome struct {
		result *Result
		err    error
	}
	results := make(chan outcome, 2)
	run := func() {
		r, err := p.Run(context.Background(), req, &sinkRecorder{})
		results <- outcome{result: r, err: err}
	}

	go run()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("generation never started")
	}

	go run()
	time.Sleep(100 * time.Millisecond)
	close(gate)

	for i := 0; i < 2; i++ {
		select {
		case out := <-results:
			require.NoError(t, out.err)
			var plan WorkoutPlan
			require.NoError(t, json.Unmarshal(out.result.Payload, &plan))
			assert.Len(t, plan.Workouts, 3)
		case <-time.After(2 * time.Second):
			t.Fatal("generation never finished")
		}
	}
}

func TestPipelineLookupMissThenHit(t *testing.T) {
	cache := NewMemoryCache()
	p := NewPipeline(&stubGenerator{}, cache, Options{CacheTTL: time.Hour})
	req := newWorkoutRequest(t, 3)

	_, ok := p.Lookup(context.Background(), req)
	assert.False(t, ok)

	payload := json.RawMessage(workoutPlanJSON(3))
	require.NoError(t, cache.Set(context.Background(), req.Fingerprint, payload, time.Hour))

	got, ok := p.Lookup(context.Background(), req)
	require.True(t, ok)
	assert.JSONEq(t, string(payload), string(got))
}

type failingSetCache struct {
	*MemoryCache
}

func (c *failingSetCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache unavailable")
}

func TestPipelineCacheWriteFailureDoesNotFailRun(t *testing.T) {
	full := workoutPlanJSON(3)
	gen := &stubGenerator{
		streamFn: func(_ context.Context, _ int) (TokenStream, error) {
			return &scriptedStream{tokens: splitChunks(full, 16)}, nil
		},
	}
	p := NewPipeline(gen, &failingSetCache{MemoryCache: NewMemoryCache()}, Options{CacheTTL: time.Hour})

	req := newWorkoutRequest(t, 3)
	result, err := p.Run(context.Background(), req, &sinkRecorder{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Payload)
}
