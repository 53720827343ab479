package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"helpdesk-smart-go/internal/model"
	"helpdesk-smart-go/internal/repository"
	"helpdesk-smart-go/internal/service"
	"helpdesk-smart-go/pkg/log"

	"github.com/gin-gonic/gin"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// stubTriageService 按预设返回值实现 service.TriageService。
type stubTriageService struct {
	classifyResult *service.ClassifyResult
	classifyErr    error
	resolveResult  *model.UnknownQuery
	resolveErr     error
	retrainOutcome *service.RetrainOutcome
	retrainErr     error
}

func (s *stubTriageService) Classify(ctx context.Context, query string, user *model.User) (*service.ClassifyResult, error) {
	return s.classifyResult, s.classifyErr
}

func (s *stubTriageService) SearchIssues(ctx context.Context, filter repository.IssueFilter) ([]model.Issue, error) {
	return nil, nil
}

func (s *stubTriageService) ListUnknownQueries(ctx context.Context, resolved bool) ([]model.UnknownQuery, error) {
	return nil, nil
}

func (s *stubTriageService) Resolve(ctx context.Context, id uint, adminResponse string) (*model.UnknownQuery, error) {
	return s.resolveResult, s.resolveErr
}

func (s *stubTriageService) Retrain(ctx context.Context) (*service.RetrainOutcome, error) {
	return s.retrainOutcome, s.retrainErr
}

func (s *stubTriageService) ListModelVersions(ctx context.Context) ([]service.ModelVersionItem, error) {
	return nil, nil
}

// injectUser 在请求上下文中预置一个已认证用户，替代 AuthMiddleware。
func injectUser(user *model.User) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user", user)
		c.Next()
	}
}

func newIssueRouter(svc service.TriageService) *gin.Engine {
	r := gin.New()
	h := NewIssueHandler(svc)
	user := &model.User{ID: 1, Username: "alice", Role: "USER"}
	r.POST("/api/v1/issues/classify", injectUser(user), h.Classify)
	r.PUT("/api/v1/admin/issues/unknown/:id", h.ResolveUnknownQuery)
	r.POST("/api/v1/admin/issues/retrain", h.Retrain)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestClassifyStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		stub       *stubTriageService
		body       string
		wantStatus int
	}{
		{
			name: "success",
			stub: &stubTriageService{classifyResult: &service.ClassifyResult{
				IssueID: 1, Response: "This appears to be a Printer related issue",
			}},
			body:       `{"query":"printer is jammed"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing query",
			stub:       &stubTriageService{},
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "blank query",
			stub:       &stubTriageService{classifyErr: service.ErrInvalidInput},
			body:       `{"query":"   "}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "classifier down",
			stub:       &stubTriageService{classifyErr: service.ErrClassifierUnavailable},
			body:       `{"query":"printer is jammed"}`,
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newIssueRouter(tc.stub)
			w := doJSON(t, r, http.MethodPost, "/api/v1/issues/classify", tc.body)
			if w.Code != tc.wantStatus {
				t.Fatalf("状态码不符: got %d, want %d, body: %s", w.Code, tc.wantStatus, w.Body.String())
			}
		})
	}
}

func TestClassifyHidesInternalError(t *testing.T) {
	r := newIssueRouter(&stubTriageService{classifyErr: service.ErrClassifierUnavailable})
	w := doJSON(t, r, http.MethodPost, "/api/v1/issues/classify", `{"query":"printer is jammed"}`)

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	// 面向客户的响应不得泄露内部错误细节
	msg, _ := resp["message"].(string)
	if strings.Contains(msg, "classifier") {
		t.Fatalf("对客户暴露了内部错误: %q", msg)
	}
}

func TestResolveStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		stub       *stubTriageService
		path       string
		body       string
		wantStatus int
	}{
		{
			name:       "success",
			stub:       &stubTriageService{resolveResult: &model.UnknownQuery{ID: 5, Resolved: true}},
			path:       "/api/v1/admin/issues/unknown/5",
			body:       `{"admin_response":"Printer"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "bad id",
			stub:       &stubTriageService{},
			path:       "/api/v1/admin/issues/unknown/abc",
			body:       `{"admin_response":"Printer"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not found",
			stub:       &stubTriageService{resolveErr: service.ErrNotFound},
			path:       "/api/v1/admin/issues/unknown/404",
			body:       `{"admin_response":"Printer"}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "already resolved",
			stub:       &stubTriageService{resolveErr: service.ErrAlreadyResolved},
			path:       "/api/v1/admin/issues/unknown/5",
			body:       `{"admin_response":"Printer"}`,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "store corrupted",
			stub:       &stubTriageService{resolveErr: service.ErrStoreCorrupted},
			path:       "/api/v1/admin/issues/unknown/5",
			body:       `{"admin_response":"Printer"}`,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newIssueRouter(tc.stub)
			w := doJSON(t, r, http.MethodPut, tc.path, tc.body)
			if w.Code != tc.wantStatus {
				t.Fatalf("状态码不符: got %d, want %d, body: %s", w.Code, tc.wantStatus, w.Body.String())
			}
		})
	}
}

func TestRetrainStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		stub       *stubTriageService
		wantStatus int
	}{
		{
			name:       "success",
			stub:       &stubTriageService{retrainOutcome: &service.RetrainOutcome{ModelVersion: "v1", TrainedCount: 3}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "in progress",
			stub:       &stubTriageService{retrainErr: service.ErrRetrainInProgress},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "failed",
			stub:       &stubTriageService{retrainErr: service.ErrRetrainFailed},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newIssueRouter(tc.stub)
			w := doJSON(t, r, http.MethodPost, "/api/v1/admin/issues/retrain", "")
			if w.Code != tc.wantStatus {
				t.Fatalf("状态码不符: got %d, want %d, body: %s", w.Code, tc.wantStatus, w.Body.String())
			}
		})
	}
}
