package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"scene-forge/internal/api"
	"scene-forge/internal/execution"
	"scene-forge/internal/mocks"
	"scene-forge/internal/model"
	"scene-forge/internal/policy"
	"scene-forge/internal/synthesis"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const cleanFragment = "with self.voiceover(text=\"One idea.\") as tracker:\n" +
	"    dot = Dot(color=BLUE)\n" +
	"    self.play(FadeIn(dot), run_time=tracker.duration)"

func oneBeatScene() model.SceneSpecification {
	return model.SceneSpecification{Title: "Intro", Beats: []model.Beat{{Narration: "One idea.", Visual: "a dot"}}}
}

func newTestRouter(t *testing.T, repo *mocks.MockResultRepository) *gin.Engine {
	t.Helper()
	return newRouterWithOrigins(t, repo, []string{"*"})
}

func newRouterWithOrigins(t *testing.T, repo *mocks.MockResultRepository, origins []string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rs, err := policy.Default()
	require.NoError(t, err)
	prompts, err := synthesis.LoadPrompts()
	require.NoError(t, err)
	assembler, err := execution.NewAssembler(execution.DefaultShellConfig())
	require.NoError(t, err)

	h := api.NewHandler(policy.NewStatic(rs), prompts, synthesis.TreeSitterChecker{}, assembler, repo, zap.NewNop())
	return api.NewRouter(h, api.RouterConfig{AllowedOrigins: origins}, zap.NewNop())
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type validateResponse struct {
	PolicyVersion string                 `json:"policy_version"`
	Fragment      string                 `json:"fragment"`
	Clean         bool                   `json:"clean"`
	Report        model.ValidationReport `json:"report"`
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, mocks.NewMockResultRepository(t))

	rec := doJSON(t, router, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRequestIDIsPropagated(t *testing.T) {
	router := newTestRouter(t, mocks.NewMockResultRepository(t))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestGetPolicy(t *testing.T) {
	router := newTestRouter(t, mocks.NewMockResultRepository(t))

	rec := doJSON(t, router, http.MethodGet, "/api/v1/policy", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var def policy.Definition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &def))
	assert.NotEmpty(t, def.Version)
	assert.NotEmpty(t, def.Forbidden)
}

func TestValidateFragment(t *testing.T) {
	router := newTestRouter(t, mocks.NewMockResultRepository(t))

	t.Run("clean", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/validate", map[string]any{
			"fragment": cleanFragment,
			"scene":    oneBeatScene(),
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp validateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Clean)
		assert.True(t, resp.Report.IsClean())
		assert.NotEmpty(t, resp.PolicyVersion)
	})

	t.Run("dirty", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/validate", map[string]any{
			"fragment": cleanFragment + "\n    self.play(self.camera.frame.animate.scale(0.5))",
			"scene":    oneBeatScene(),
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp validateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Clean)
		assert.GreaterOrEqual(t, resp.Report.CountKind(model.IssueForbidden), 1)
	})

	t.Run("sanitize before validation", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/validate", map[string]any{
			"fragment": "```python\n" + cleanFragment + "\n```",
			"scene":    oneBeatScene(),
			"sanitize": true,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp validateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotContains(t, resp.Fragment, "```")
		assert.True(t, resp.Clean, resp.Report.Summary())
	})

	t.Run("empty fragment", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/validate", map[string]any{"fragment": "  "})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/validate", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSanitizeFragment(t *testing.T) {
	router := newTestRouter(t, mocks.NewMockResultRepository(t))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/sanitize", map[string]any{
		"fragment": "```python\nfrom manim import *\nx = 1\n```",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Fragment string `json:"fragment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Fragment, "x = 1")
	assert.NotContains(t, resp.Fragment, "```")
	assert.NotContains(t, resp.Fragment, "from manim")
}

func TestAssembleFragment(t *testing.T) {
	router := newTestRouter(t, mocks.NewMockResultRepository(t))
	video := model.Video{Number: 1, Scenes: []model.SceneSpecification{oneBeatScene()}}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/assemble", map[string]any{
		"video": video, "index": 0, "fragment": cleanFragment,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var program model.Program
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &program))
	assert.Equal(t, "video1_scene1.py", program.FileName)
	assert.Contains(t, program.Source, "dot = Dot(color=BLUE)")

	rec = doJSON(t, router, http.MethodPost, "/api/v1/assemble", map[string]any{
		"video": video, "index": 3, "fragment": cleanFragment,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetResult(t *testing.T) {
	repo := mocks.NewMockResultRepository(t)
	router := newTestRouter(t, repo)

	found := uuid.New()
	missing := uuid.New()
	repo.On("GetByID", mock.Anything, found).Return(&model.SceneResult{ID: found, TaskID: "t1", Status: model.SceneStatusRendered}, nil).Once()
	repo.On("GetByID", mock.Anything, missing).Return(nil, model.ErrNotFound).Once()

	rec := doJSON(t, router, http.MethodGet, "/api/v1/results/"+found.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.SceneResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, found, got.ID)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/results/"+missing.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/results/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTaskResults(t *testing.T) {
	repo := mocks.NewMockResultRepository(t)
	router := newTestRouter(t, repo)

	repo.On("ListByTask", mock.Anything, "t1").Return([]*model.SceneResult{{TaskID: "t1", SceneIndex: 0}, {TaskID: "t1", SceneIndex: 1}}, nil).Once()
	repo.On("ListByTask", mock.Anything, "empty").Return(nil, nil).Once()
	repo.On("ListByTask", mock.Anything, "broken").Return(nil, errors.New("db down")).Once()

	rec := doJSON(t, router, http.MethodGet, "/api/v1/tasks/t1/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data []model.SceneResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/tasks/empty/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/v1/tasks/broken/results", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetTaskProgram(t *testing.T) {
	repo := mocks.NewMockResultRepository(t)
	router := newTestRouter(t, repo)

	repo.On("GetProgram", mock.Anything, "t1").Return(&model.VideoProgram{TaskID: "t1", FileName: "video1.py", ScenesTotal: 3}, nil).Once()
	repo.On("GetProgram", mock.Anything, "t2").Return(nil, model.ErrNotFound).Once()

	rec := doJSON(t, router, http.MethodGet, "/api/v1/tasks/t1/program", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.VideoProgram
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "video1.py", got.FileName)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/tasks/t2/program", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// frontendOrigin отличается от хоста httptest (example.com), иначе cors считает запрос same-origin.
const frontendOrigin = "http://frontend.test"

func corsRequest(method, origin string) *http.Request {
	req := httptest.NewRequest(method, "/api/v1/policy", nil)
	req.Header.Set("Origin", origin)
	if method == http.MethodOptions {
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	}
	return req
}

func TestCORS(t *testing.T) {
	t.Run("preflight allows any origin", func(t *testing.T) {
		router := newTestRouter(t, mocks.NewMockResultRepository(t))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, corsRequest(http.MethodOptions, frontendOrigin))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("simple request carries allow origin", func(t *testing.T) {
		router := newTestRouter(t, mocks.NewMockResultRepository(t))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, corsRequest(http.MethodGet, frontendOrigin))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("explicit origins allow credentials", func(t *testing.T) {
		router := newRouterWithOrigins(t, mocks.NewMockResultRepository(t), []string{frontendOrigin})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, corsRequest(http.MethodOptions, frontendOrigin))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, frontendOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, corsRequest(http.MethodGet, frontendOrigin))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, frontendOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("unknown origin is rejected", func(t *testing.T) {
		router := newRouterWithOrigins(t, mocks.NewMockResultRepository(t), []string{frontendOrigin})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, corsRequest(http.MethodGet, "http://evil.test"))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestUnknownRoute(t *testing.T) {
	router := newTestRouter(t, mocks.NewMockResultRepository(t))
	rec := doJSON(t, router, http.MethodGet, "/api/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
