package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobomo/C2/internal/application/dispatcher"
	"github.com/mobomo/C2/internal/application/history"
	"github.com/mobomo/C2/internal/application/port/porttest"
	"github.com/mobomo/C2/internal/application/service"
	"github.com/mobomo/C2/internal/domain/clientdata"
	"github.com/mobomo/C2/internal/domain/entity"
	"github.com/mobomo/C2/internal/domain/event"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

type syncBus struct{ d *dispatcher.Dispatcher }

func (b syncBus) Dispatch(ctx context.Context, evt *event.Event) error {
	return b.d.Handle(ctx, evt)
}

type testEnv struct {
	store  *porttest.Store
	router *gin.Engine
}

func newTestEnv(t *testing.T, health HealthFunc) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := porttest.NewStore()
	logger := nopLogger{}
	issuer := &porttest.Issuer{Now: store.Now}
	registry := clientdata.DefaultRegistry()

	d := dispatcher.New(store.Proposals(), store.Steps(), store.Tokens(), issuer, store.Mailer(), logger,
		dispatcher.WithClientData(registry), dispatcher.WithClock(store.Now))
	linker := history.NewLinker(store.Steps(), d, logger)

	svc := service.NewProposalService(service.Repositories{
		Proposals: store.Proposals(),
		Steps:     store.Steps(),
		Comments:  store.Comments(),
		Users:     store.Users(),
		Groups:    store.Groups(),
		Tokens:    store.Tokens(),
	}, porttest.Tx{}, &porttest.Locker{}, issuer, linker, registry, syncBus{d}, logger)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("c2_up 1\n"))
	})
	server := NewServer(DefaultServerConfig(), Dependencies{Proposals: svc, Health: health, Metrics: metrics}, logger)
	return &testEnv{store: store, router: server.Router()}
}

func (e *testEnv) do(t *testing.T, method, path, actor string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var resp Response
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") != "text/plain" {
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	}
	return rec, resp
}

type submitted struct {
	Proposal      entity.Proposal `json:"proposal"`
	Steps         []entity.Step   `json:"steps"`
	ActionableIDs []int64         `json:"actionable_step_ids"`
}

func (e *testEnv) submit(t *testing.T, name, flow string, approvers ...string) submitted {
	t.Helper()
	rec, _ := e.do(t, http.MethodPost, "/api/proposals", "req@example.com", SubmitRequest{
		Name:      name,
		Flow:      flow,
		Approvers: approvers,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out struct {
		Data submitted `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Data
}

func stepFor(t *testing.T, s submitted, email string) entity.Step {
	t.Helper()
	for _, st := range s.Steps {
		if st.UserEmail == email && st.Role == entity.RoleApprover {
			return st
		}
	}
	t.Fatalf("no approver step for %s", email)
	return entity.Step{}
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, nil)
	rec, resp := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	degraded := newTestEnv(t, func(ctx context.Context) (bool, interface{}) {
		return false, map[string]string{"database": "down"}
	})
	rec, resp = degraded.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, resp.Success)
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "c2_up 1")
}

func TestSubmitAndGet(t *testing.T) {
	env := newTestEnv(t, nil)
	s := env.submit(t, "CART1", "linear", "alice@example.com", "bob@example.com")

	assert.Equal(t, entity.ProposalStatusPending, s.Proposal.Status)
	assert.Equal(t, entity.FlowLinear, s.Proposal.Flow)
	require.Len(t, s.ActionableIDs, 1)
	assert.Equal(t, stepFor(t, s, "alice@example.com").ID, s.ActionableIDs[0])

	rec, resp := env.do(t, http.MethodGet, "/api/proposals/"+itoa(s.Proposal.ID), "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, _ = env.do(t, http.MethodGet, "/api/proposals/999", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/proposals/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = env.do(t, http.MethodGet, "/api/proposals?status=pending", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data, 1)
}

func TestSubmit_Errors(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := env.do(t, http.MethodPost, "/api/proposals", "", SubmitRequest{Name: "X", Approvers: []string{"a@example.com"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/proposals", "not-an-email", SubmitRequest{Name: "X", Approvers: []string{"a@example.com"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/proposals", "req@example.com", map[string]string{"flow": "linear"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp := env.do(t, http.MethodPost, "/api/proposals", "req@example.com", SubmitRequest{
		Name:           "X",
		Approvers:      []string{"a@example.com"},
		ClientDataType: "spaceships",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, resp.Data, "client_data_type")

	rec, _ = env.do(t, http.MethodPost, "/api/proposals", "req@example.com", SubmitRequest{
		Name:          "X",
		ApprovalGroup: "nobody",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordAction_LinearFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	s := env.submit(t, "CART2", "linear", "alice@example.com", "bob@example.com")
	alice := stepFor(t, s, "alice@example.com")
	bob := stepFor(t, s, "bob@example.com")
	base := "/api/proposals/" + itoa(s.Proposal.ID) + "/steps/"

	// bob is not up yet
	rec, _ := env.do(t, http.MethodPost, base+itoa(bob.ID)+"/actions", "bob@example.com", ActionRequest{Status: "approved"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// only alice may act on her step
	rec, _ = env.do(t, http.MethodPost, base+itoa(alice.ID)+"/actions", "bob@example.com", ActionRequest{Status: "approved"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.do(t, http.MethodPost, base+itoa(alice.ID)+"/actions", "alice@example.com", ActionRequest{Status: "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/proposals/999/steps/"+itoa(alice.ID)+"/actions", "alice@example.com", ActionRequest{Status: "approved"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp := env.do(t, http.MethodPost, base+itoa(alice.ID)+"/actions", "alice@example.com", ActionRequest{Status: "approved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]interface{}{"transition": "none"}, resp.Data)

	rec, resp = env.do(t, http.MethodPost, base+itoa(bob.ID)+"/actions", "bob@example.com", ActionRequest{Status: "approved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]interface{}{"transition": "approved"}, resp.Data)
}

func TestActWithToken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.submit(t, "CART3", "parallel", "alice@example.com")

	var token string
	for _, m := range env.store.MessagesFor("alice@example.com") {
		if m.Token != "" {
			token = m.Token
		}
	}
	require.NotEmpty(t, token)

	q := url.Values{"token": {token}, "status": {"rejected"}}
	rec, resp := env.do(t, http.MethodGet, "/api/actions?"+q.Encode(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]interface{}{"transition": "rejected"}, resp.Data)

	// single use
	rec, _ = env.do(t, http.MethodPost, "/api/actions", "", TokenActionRequest{Token: token, Status: "approved"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/actions", "", map[string]string{"status": "approved"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommentsObserversAndRestart(t *testing.T) {
	env := newTestEnv(t, nil)
	s := env.submit(t, "CART4", "parallel", "alice@example.com")
	base := "/api/proposals/" + itoa(s.Proposal.ID)

	rec, _ := env.do(t, http.MethodPost, base+"/comments", "alice@example.com", CommentRequest{Body: "looks fine"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = env.do(t, http.MethodPost, base+"/comments", "alice@example.com", CommentRequest{Body: "  "})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = env.do(t, http.MethodPost, base+"/observers", "req@example.com", ObserverRequest{Email: "watcher@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var added struct {
		Data entity.Step `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	assert.Equal(t, entity.RoleObserver, added.Data.Role)

	off := false
	rec, _ = env.do(t, http.MethodPut, base+"/observers/"+itoa(added.Data.ID), "req@example.com", ObserverActiveRequest{Active: &off})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodPut, base+"/observers/"+itoa(stepFor(t, s, "alice@example.com").ID), "req@example.com", ObserverActiveRequest{Active: &off})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodPost, base+"/restart", "req@example.com", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/proposals/999/restart", "req@example.com", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
