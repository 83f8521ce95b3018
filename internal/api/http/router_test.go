package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/hiccup-service/internal/api/http/handlers"
	"github.com/spec-kit/hiccup-service/internal/auth"
	"github.com/spec-kit/hiccup-service/internal/config"
	"github.com/spec-kit/hiccup-service/internal/domain"
	"github.com/spec-kit/hiccup-service/internal/events"
	"github.com/spec-kit/hiccup-service/internal/observability"
	"github.com/spec-kit/hiccup-service/internal/repository"
	"github.com/spec-kit/hiccup-service/internal/service"
	"github.com/spec-kit/hiccup-service/internal/storage"
)

const internalToken = "lab-module.s3cret"

type testServer struct {
	app    *fiber.App
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	store := repository.NewMemoryStore()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	dispatcher := events.NewInMemoryDispatcher(logger)

	authCfg := config.AuthConfig{
		JWTSecret:             "router-test",
		Issuer:                "arpra",
		Audience:              "arpra",
		AccessTokenTTLMinutes: 5,
		BcryptCost:            bcrypt.MinCost,
	}
	tokens := auth.NewTokenManager(authCfg)
	systemTokens := auth.NewSystemTokens(store.SystemTokens(), authCfg.BcryptCost)
	_, err := systemTokens.Register(context.Background(), internalToken, "lab module")
	require.NoError(t, err)

	cases := service.NewCaseService(service.CaseDependencies{
		CaseRepo:    store.Cases(),
		StaffRepo:   store.Staff(),
		Attachments: storage.NewLocalStore(config.StorageConfig{UploadDir: t.TempDir(), MaxUploadBytes: 1024}),
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
		Config:      config.CaseConfig{IDPrefix: "HCP", ResponseSLAHours: 24, ClosureSLAHours: 72, FollowupDays: 7, SystemUnit: "System"},
	})
	reports := service.NewReportService(store.Cases(), time.UTC)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger)})
	RegisterMiddlewares(app, logger, metrics, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("hiccup-service", "test", nil, nil),
		Cases:          handlers.NewCasesHandler(cases, 1024),
		Reports:        handlers.NewReportsHandler(reports, nil, logger),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, store.Staff(), logger),
		SystemTokens:   systemTokens,
		Metrics:        metrics,
	})
	return &testServer{app: app, tokens: tokens}
}

func (s *testServer) bearer(t *testing.T, actor domain.Actor) string {
	t.Helper()
	token, _, err := s.tokens.GenerateToken(actor)
	require.NoError(t, err)
	return "Bearer " + token
}

func (s *testServer) do(t *testing.T, method, path, authz string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if authz != "" {
		req.Header.Set(fiber.HeaderAuthorization, authz)
	}
	return s.send(t, req)
}

func (s *testServer) send(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func dataMap(body map[string]any) map[string]any {
	d, _ := body["data"].(map[string]any)
	return d
}

var (
	alice   = domain.Actor{ID: "alice", Name: "Alice", Role: domain.RoleStaff, Unit: "ICU"}
	bob     = domain.Actor{ID: "bob", Name: "Bob", Role: domain.RoleStaff, Unit: "Pharmacy"}
	carol   = domain.Actor{ID: "carol", Name: "Carol", Role: domain.RoleStaff, Unit: "Lab"}
	manager = domain.Actor{ID: "mgr", Name: "Manager", Role: domain.RoleManagement, Unit: "Admin"}
)

func TestCaseEndpoints_Lifecycle(t *testing.T) {
	s := newTestServer(t)

	// Bob's first authenticated request registers him in the staff directory.
	status, _ := s.do(t, fiber.MethodGet, "/api/cases", s.bearer(t, bob), nil)
	require.Equal(t, fiber.StatusOK, status)

	status, body := s.do(t, fiber.MethodPost, "/api/cases", s.bearer(t, alice), map[string]any{
		"kind": "PERSON", "target": "bob", "description": "wrong dose",
	})
	require.Equal(t, fiber.StatusCreated, status, body)
	created := dataMap(body)
	id, _ := created["id"].(string)
	assert.Equal(t, "HCP-"+time.Now().UTC().Format("06")+"-001", id)
	assert.Equal(t, "Pharmacy", created["target_unit"])
	assert.Equal(t, "Open", created["status"])

	status, body = s.do(t, fiber.MethodGet, "/api/cases/"+id, s.bearer(t, carol), nil)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	status, body = s.do(t, fiber.MethodPatch, "/api/cases/"+id+"/respond", s.bearer(t, bob), map[string]any{"response_text": "fixed the order"})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "Responded", dataMap(body)["status"])

	status, body = s.do(t, fiber.MethodPatch, "/api/cases/"+id+"/status", s.bearer(t, bob), map[string]any{"status": "Closed", "closure_notes": "x"})
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	status, body = s.do(t, fiber.MethodPatch, "/api/cases/"+id+"/status", s.bearer(t, manager), map[string]any{"status": "Closed"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, body = s.do(t, fiber.MethodPatch, "/api/cases/"+id+"/status", s.bearer(t, manager), map[string]any{
		"status": "Closed", "closure_notes": "counselled", "root_cause_category": "Training Need",
	})
	require.Equal(t, fiber.StatusOK, status, body)
	closed := dataMap(body)
	assert.NotNil(t, closed["closed_at"])
	followup, _ := closed["followup"].(map[string]any)
	assert.Equal(t, "Pending", followup["status"])

	status, body = s.do(t, fiber.MethodPatch, "/api/cases/"+id+"/followup", s.bearer(t, alice), map[string]any{"status": "Resolved"})
	require.Equal(t, fiber.StatusOK, status, body)

	status, body = s.do(t, fiber.MethodGet, "/api/cases/"+id, s.bearer(t, alice), nil)
	require.Equal(t, fiber.StatusOK, status)
	audit, _ := dataMap(body)["audit"].([]any)
	assert.Len(t, audit, 4)
	overdue, _ := dataMap(body)["overdue"].(map[string]any)
	assert.Equal(t, false, overdue["response_overdue"])

	status, body = s.do(t, fiber.MethodGet, "/api/cases", s.bearer(t, alice), nil)
	require.Equal(t, fiber.StatusOK, status)
	items, _ := body["data"].([]any)
	require.Len(t, items, 1)
	item, _ := items[0].(map[string]any)
	assert.Equal(t, id, item["id"])
	listed, _ := item["audit"].([]any)
	assert.Len(t, listed, 4)
	assert.NotNil(t, item["overdue"])

	status, body = s.do(t, fiber.MethodGet, "/api/reports/monthly", s.bearer(t, manager), nil)
	require.Equal(t, fiber.StatusOK, status, body)
	monthly := dataMap(body)
	assert.Equal(t, float64(1), monthly["total"])
	assert.Equal(t, float64(1), monthly["closed"])
	causes, _ := monthly["by_root_cause"].([]any)
	require.Len(t, causes, 1)
	assert.Equal(t, "Training Need", causes[0].(map[string]any)["root_cause_category"])
}

func TestCaseEndpoints_Errors(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, fiber.MethodGet, "/api/cases", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	status, _ = s.do(t, fiber.MethodGet, "/api/cases", "Bearer not-a-jwt", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body = s.do(t, fiber.MethodGet, "/api/cases/HCP-26-999", s.bearer(t, manager), nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	status, body = s.do(t, fiber.MethodPost, "/api/cases", s.bearer(t, alice), map[string]any{"kind": "TEAM", "target": "x", "description": "y"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	details, _ := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, "oneof", details["Kind"])

	status, body = s.do(t, fiber.MethodGet, "/api/cases?status=Lost", s.bearer(t, alice), nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, body = s.do(t, fiber.MethodGet, "/api/reports/daily", s.bearer(t, alice), nil)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	status, _ = s.do(t, fiber.MethodGet, "/api/reports/monthly", s.bearer(t, alice), nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body = s.do(t, fiber.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestAutoCaseEndpoint(t *testing.T) {
	s := newTestServer(t)
	payload := map[string]any{"target": "Lab", "description": "TAT breach", "source_module": "lab-tat"}

	status, _ := s.do(t, fiber.MethodPost, "/api/cases/auto", s.bearer(t, manager), payload)
	assert.Equal(t, fiber.StatusUnauthorized, status, "bearer tokens are not internal credentials")

	raw, _ := json.Marshal(payload)
	req := httptest.NewRequest(fiber.MethodPost, "/api/cases/auto", bytes.NewReader(raw))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(auth.InternalTokenHeader, "lab-module.wrong")
	status, _ = s.send(t, req)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	req = httptest.NewRequest(fiber.MethodPost, "/api/cases/auto", bytes.NewReader(raw))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(auth.InternalTokenHeader, internalToken)
	status, body := s.send(t, req)
	require.Equal(t, fiber.StatusCreated, status, body)
	created := dataMap(body)
	assert.Equal(t, true, created["auto_generated"])
	assert.Equal(t, "system", created["creator_id"])
	assert.Equal(t, "SYSTEM", created["kind"])

	id, _ := created["id"].(string)
	status, body = s.do(t, fiber.MethodGet, "/api/cases/"+id, s.bearer(t, manager), nil)
	require.Equal(t, fiber.StatusOK, status, body)
	audit, _ := dataMap(body)["audit"].([]any)
	require.Len(t, audit, 1)
	assert.Equal(t, "raised via token lab-module", audit[0].(map[string]any)["remarks"])
}

func multipartCase(t *testing.T, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	require.NoError(t, w.WriteField("kind", "SYSTEM"))
	require.NoError(t, w.WriteField("target", "EMR"))
	require.NoError(t, w.WriteField("description", "see screenshot"))
	require.NoError(t, w.WriteField("confidential", "true"))
	if file != nil {
		part, err := w.CreateFormFile("attachment", "shot.png")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func TestCreateCase_Multipart(t *testing.T) {
	s := newTestServer(t)
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

	body, contentType := multipartCase(t, png)
	req := httptest.NewRequest(fiber.MethodPost, "/api/cases", body)
	req.Header.Set(fiber.HeaderContentType, contentType)
	req.Header.Set(fiber.HeaderAuthorization, s.bearer(t, alice))
	status, resp := s.send(t, req)
	require.Equal(t, fiber.StatusCreated, status, resp)
	assert.Equal(t, true, dataMap(resp)["has_attachment"])
	assert.Equal(t, true, dataMap(resp)["confidential"])

	body, contentType = multipartCase(t, bytes.Repeat([]byte{0xff}, 2048))
	req = httptest.NewRequest(fiber.MethodPost, "/api/cases", body)
	req.Header.Set(fiber.HeaderContentType, contentType)
	req.Header.Set(fiber.HeaderAuthorization, s.bearer(t, alice))
	status, resp = s.send(t, req)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(resp))

	body, contentType = multipartCase(t, nil)
	req = httptest.NewRequest(fiber.MethodPost, "/api/cases", body)
	req.Header.Set(fiber.HeaderContentType, contentType)
	req.Header.Set(fiber.HeaderAuthorization, s.bearer(t, alice))
	status, resp = s.send(t, req)
	require.Equal(t, fiber.StatusCreated, status, resp)
	assert.Equal(t, false, dataMap(resp)["has_attachment"])
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, fiber.MethodGet, "/health/ready", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	deps, _ := body["dependencies"].(map[string]any)
	assert.Equal(t, "memory", deps["postgres"])
	assert.Equal(t, "disabled", deps["redis"])

	s.do(t, fiber.MethodGet, "/health/live", "", nil)
	req := httptest.NewRequest(fiber.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `hiccup_http_requests_total{method="GET",route="/health/live",status="200"} 1`)
}
