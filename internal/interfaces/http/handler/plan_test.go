package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitplan-ai-api/internal/application/plan"
	"fitplan-ai-api/internal/application/quota"
	"fitplan-ai-api/internal/config"
	"fitplan-ai-api/internal/domain/entity"
	"fitplan-ai-api/pkg/genstore"
	"fitplan-ai-api/pkg/streamclient"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{
			DefaultProvider: "groq",
			Providers: map[string]config.ProviderConfig{
				"groq": {Model: "llama-3.3-70b-versatile"},
			},
		},
	}
}

type fakeCounterStore struct {
	mu     sync.Mutex
	counts map[string]int64
	// preset 非零时所有 Get 返回该值，模拟已耗尽的配额
	preset int64
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{counts: map[string]int64{}}
}

func (s *fakeCounterStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.preset > 0 {
		return s.preset, nil
	}
	return s.counts[key], nil
}

func (s *fakeCounterStore) Incr(_ context.Context, key string, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key], nil
}

func (s *fakeCounterStore) total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, v := range s.counts {
		n += v
	}
	return n
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

type stubGenerator struct {
	streamText   string
	generateText string
}

func (g *stubGenerator) Stream(context.Context, *plan.Request) (plan.TokenStream, error) {
	var tokens []string
	text := g.streamText
	for len(text) > 16 {
		tokens = append(tokens, text[:16])
		text = text[16:]
	}
	tokens = append(tokens, text)
	return &scriptedStream{tokens: tokens}, nil
}

func (g *stubGenerator) Generate(context.Context, *plan.Request) (string, error) {
	return g.generateText, nil
}

func workoutJSON(days int) string {
	p := plan.WorkoutPlan{
		Summary:  plan.WorkoutSummary{Goal: "strength", DaysPerWeek: days, Level: "beginner"},
		Workouts: map[string]plan.WorkoutDay{},
	}
	for i := 1; i <= days; i++ {
		p.Workouts[fmt.Sprintf("day%d", i)] = plan.WorkoutDay{
			Focus:     "full body",
			Exercises: []plan.Exercise{{Name: "squat", Sets: 3, Reps: "8-12"}},
		}
	}
	raw, _ := json.Marshal(&p)
	return string(raw)
}

func mealJSON() string {
	p := plan.MealPlan{
		Summary: plan.MealSummary{Goal: "cutting", DailyCalories: 1800, Diet: "balanced", MealsPerDay: 3},
		Meals:   map[string][]plan.Meal{},
	}
	for i := 1; i <= 7; i++ {
		p.Meals[fmt.Sprintf("day%d", i)] = []plan.Meal{{
			Name:  "breakfast",
			Foods: []plan.FoodItem{{Name: "oats", Grams: 80, Calories: 300}},
		}}
	}
	raw, _ := json.Marshal(&p)
	return string(raw)
}

func newTestServer(t *testing.T, gen plan.Generator, counter *fakeCounterStore) *httptest.Server {
	t.Helper()

	pipeline := plan.NewPipeline(gen, plan.NewMemoryCache(), plan.Options{
		MaxRetries: 2,
		CacheTTL:   time.Hour,
	})
	limiter := quota.NewUsageLimiter(counter, quota.Limits{AnonymousDaily: 3, AuthenticatedDaily: 20}, false)
	h := NewPlanHandler(testConfig(), pipeline, limiter, nil, nil)

	engine := gin.New()
	plans := engine.Group("/v1/plans")
	plans.GET("", h.History)
	plans.GET("/:id", h.HistoryDetail)
	plans.POST("/workout/stream", h.GenerateWorkout)
	plans.POST("/meal/stream", h.GenerateMeal)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv
}

func validWorkoutBody() map[string]any {
	return map[string]any{
		"goal":          "strength",
		"days_per_week": 3,
		"level":         "beginner",
		"equipment":     "dumbbells",
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestGenerateWorkoutStreamEndToEnd(t *testing.T) {
	counter := newFakeCounterStore()
	srv := newTestServer(t, &stubGenerator{streamText: workoutJSON(3)}, counter)

	store, err := genstore.Open(filepath.Join(t.TempDir(), "generations.json"))
	require.NoError(t, err)

	var chunks int
	client := streamclient.New(store, streamclient.Options{
		Callbacks: streamclient.Callbacks{
			OnChunk: func(string) { chunks++ },
		},
	})

	got, err := client.FetchStream(context.Background(), srv.URL+"/v1/plans/workout/stream", "workout", validWorkoutBody())
	require.NoError(t, err)
	assert.Equal(t, streamclient.StateComplete, client.State())
	assert.Greater(t, chunks, 1)

	var p plan.WorkoutPlan
	require.NoError(t, json.Unmarshal(got, &p))
	assert.Len(t, p.Workouts, 3)

	// 成功下发消耗一次配额
	assert.Equal(t, int64(1), counter.total())
}

func TestGenerateWorkoutRetryAfterTruncatedStream(t *testing.T) {
	gen := &stubGenerator{
		streamText:   workoutJSON(2),
		generateText: workoutJSON(3),
	}
	srv := newTestServer(t, gen, newFakeCounterStore())

	resp := postJSON(t, srv.URL+"/v1/plans/workout/stream", validWorkoutBody())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `"retry":1`)
	assert.Contains(t, text, "day3")
	assert.Contains(t, text, `"done":true`)
}

func TestGenerateWorkoutCacheHitSkipsStream(t *testing.T) {
	counter := newFakeCounterStore()
	srv := newTestServer(t, &stubGenerator{streamText: workoutJSON(3)}, counter)
	url := srv.URL + "/v1/plans/workout/stream"

	first := postJSON(t, url, validWorkoutBody())
	_, err := io.ReadAll(first.Body)
	require.NoError(t, err)
	require.Equal(t, "MISS", first.Header.Get("X-Cache"))

	second := postJSON(t, url, validWorkoutBody())
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "HIT", second.Header.Get("X-Cache"))
	assert.True(t, strings.HasPrefix(second.Header.Get("Content-Type"), "application/json"))

	var cached struct {
		Plan   json.RawMessage `json:"plan"`
		Cached bool            `json:"cached"`
	}
	require.NoError(t, json.NewDecoder(second.Body).Decode(&cached))
	assert.True(t, cached.Cached)
	assert.NotEmpty(t, cached.Plan)

	// 缓存命中不消耗配额
	assert.Equal(t, int64(1), counter.total())
}

func TestGenerateWorkoutEquivalentRequestsShareCache(t *testing.T) {
	srv := newTestServer(t, &stubGenerator{streamText: workoutJSON(3)}, newFakeCounterStore())
	url := srv.URL + "/v1/plans/workout/stream"

	first := postJSON(t, url, map[string]any{
		"goal":          "strength",
		"days_per_week": 3,
		"level":         "Beginner",
		"restrictions":  []string{"knee injury", "shoulder"},
	})
	_, err := io.ReadAll(first.Body)
	require.NoError(t, err)

	// 大小写与列表顺序不同的同义请求命中同一缓存
	second := postJSON(t, url, map[string]any{
		"goal":          "  strength ",
		"days_per_week": 3,
		"level":         "beginner",
		"restrictions":  []string{"shoulder", "knee injury"},
	})
	assert.Equal(t, "HIT", second.Header.Get("X-Cache"))
}

func TestGenerateWorkoutRejectsInvalidBody(t *testing.T) {
	srv := newTestServer(t, &stubGenerator{streamText: workoutJSON(3)}, newFakeCounterStore())
	url := srv.URL + "/v1/plans/workout/stream"

	resp := postJSON(t, url, map[string]any{"goal": "strength", "days_per_week": 9, "level": "beginner"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, url, map[string]any{"goal": "strength", "days_per_week": 3, "level": "expert"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "level")
}

func TestGenerateWorkoutUnknownProvider(t *testing.T) {
	srv := newTestServer(t, &stubGenerator{streamText: workoutJSON(3)}, newFakeCounterStore())

	body := validWorkoutBody()
	body["provider"] = "does-not-exist"
	resp := postJSON(t, srv.URL+"/v1/plans/workout/stream", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateWorkoutQuotaExhausted(t *testing.T) {
	counter := newFakeCounterStore()
	counter.preset = 3
	srv := newTestServer(t, &stubGenerator{streamText: workoutJSON(3)}, counter)

	resp := postJSON(t, srv.URL+"/v1/plans/workout/stream", validWorkoutBody())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var out struct {
		Message string `json:"message"`
		Error   struct {
			ErrorCode    string `json:"error_code"`
			Remaining    *int   `json:"remaining"`
			ResetIn      int    `json:"reset_in"`
			RequiresAuth bool   `json:"requires_auth"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	// 匿名调用方提示登录可获得更高额度
	assert.Contains(t, out.Message, "sign in")
	assert.True(t, out.Error.RequiresAuth)
	require.NotNil(t, out.Error.Remaining)
	assert.Equal(t, 0, *out.Error.Remaining)
	// 距离 UTC 午夜重置的秒数
	assert.Greater(t, out.Error.ResetIn, 0)
}

func TestGenerateWorkoutQuotaCheckedBeforeBodyValidation(t *testing.T) {
	counter := newFakeCounterStore()
	counter.preset = 3
	srv := newTestServer(t, &stubGenerator{streamText: workoutJSON(3)}, counter)

	// 额度耗尽时即使请求体不合法也返回 403，而不是 400
	resp := postJSON(t, srv.URL+"/v1/plans/workout/stream", map[string]any{
		"goal": "strength", "days_per_week": 9, "level": "expert",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGenerateMealStreamEndToEnd(t *testing.T) {
	srv := newTestServer(t, &stubGenerator{streamText: mealJSON()}, newFakeCounterStore())

	resp := postJSON(t, srv.URL+"/v1/plans/meal/stream", map[string]any{
		"goal":           "cutting",
		"daily_calories": 1800,
		"diet":           "balanced",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `"done":true`)
	assert.NotContains(t, text, `"error"`)
}

func TestHistoryRequiresAuth(t *testing.T) {
	srv := newTestServer(t, &stubGenerator{streamText: workoutJSON(3)}, newFakeCounterStore())

	resp, err := http.Get(srv.URL + "/v1/plans")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	detail, err := http.Get(srv.URL + "/v1/plans/some-id")
	require.NoError(t, err)
	defer detail.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, detail.StatusCode)
}

type fakePlanRepo struct {
	records map[string]*entity.PlanRecord
}

func (r *fakePlanRepo) Create(_ context.Context, rec *entity.PlanRecord) error {
	r.records[rec.ID] = rec
	return nil
}

func (r *fakePlanRepo) GetByID(_ context.Context, id string) (*entity.PlanRecord, error) {
	return r.records[id], nil
}

func (r *fakePlanRepo) ListByUser(_ context.Context, userID string, kind entity.PlanKind, _ int) ([]*entity.PlanRecord, error) {
	var out []*entity.PlanRecord
	for _, rec := range r.records {
		if rec.UserID == userID && (kind == "" || rec.Kind == kind) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func TestHistoryDetailOwnerOnly(t *testing.T) {
	now := time.Now().UTC()
	repo := &fakePlanRepo{records: map[string]*entity.PlanRecord{
		"p1": {ID: "p1", UserID: "user-1", Kind: entity.PlanKindWorkout, Payload: json.RawMessage(workoutJSON(3)), CreatedAt: now},
		"p2": {ID: "p2", UserID: "user-2", Kind: entity.PlanKindMeal, Payload: json.RawMessage(mealJSON()), CreatedAt: now},
	}}
	pipeline := plan.NewPipeline(&stubGenerator{streamText: workoutJSON(3)}, plan.NewMemoryCache(), plan.Options{CacheTTL: time.Hour})
	limiter := quota.NewUsageLimiter(newFakeCounterStore(), quota.Limits{AnonymousDaily: 3, AuthenticatedDaily: 20}, false)
	h := NewPlanHandler(testConfig(), pipeline, limiter, repo, nil)

	engine := gin.New()
	engine.Use(func(c *gin.Context) { c.Set("user_id", "user-1") })
	engine.GET("/v1/plans/:id", h.HistoryDetail)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/plans/p1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Data struct {
			ID      string          `json:"id"`
			Kind    string          `json:"kind"`
			Payload json.RawMessage `json:"payload"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "p1", out.Data.ID)
	assert.Equal(t, "workout", out.Data.Kind)
	assert.JSONEq(t, workoutJSON(3), string(out.Data.Payload))

	// 他人的计划视同不存在
	other, err := http.Get(srv.URL + "/v1/plans/p2")
	require.NoError(t, err)
	other.Body.Close()
	assert.Equal(t, http.StatusNotFound, other.StatusCode)

	missing, err := http.Get(srv.URL + "/v1/plans/nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
