package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/parleychat/parley/internal/metrics"
	"github.com/parleychat/parley/internal/models"
	"github.com/parleychat/parley/internal/scheduler"
	"github.com/parleychat/parley/internal/service"
	"github.com/parleychat/parley/internal/store"
	"github.com/parleychat/parley/internal/token"
)

// memStore backs both the chat path and the admin surface in tests. It
// implements service.ConversationStore, the server's Store, and the
// scheduler's ConversationSource.
type memStore struct {
	mu    sync.Mutex
	convs map[string]*models.Conversation
	ttls  map[string]time.Duration
}

func newMemStore() *memStore {
	return &memStore{
		convs: make(map[string]*models.Conversation),
		ttls:  make(map[string]time.Duration),
	}
}

func (m *memStore) Create(ctx context.Context, conversationID, organizationID, seedContent string) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := models.NowMs()
	conv := &models.Conversation{
		ConversationID: conversationID,
		OrganizationID: organizationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if seedContent != "" {
		conv.Messages = []models.Message{{Role: models.RoleSystem, Content: seedContent, Timestamp: now}}
	}
	m.convs[conversationID] = conv
	m.ttls[conversationID] = time.Hour
	return conv, nil
}

func (m *memStore) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrConversationNotFound, conversationID)
	}
	return conv, nil
}

func (m *memStore) AppendMessage(ctx context.Context, conversationID string, msg models.Message) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrConversationNotFound, conversationID)
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = models.NowMs()
	return conv, nil
}

func (m *memStore) Delete(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.convs, conversationID)
	delete(m.ttls, conversationID)
	return nil
}

func (m *memStore) Ping(ctx context.Context) error { return nil }

func (m *memStore) ScanConversations(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.convs))
	for id := range m.convs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore) RemainingTTL(ctx context.Context, conversationID string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ttl, ok := m.ttls[conversationID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", store.ErrConversationNotFound, conversationID)
	}
	return ttl, nil
}

func (m *memStore) IsArchived(ctx context.Context, conversationID string) (bool, error) {
	return false, nil
}

func (m *memStore) MarkArchived(ctx context.Context, conversationID string, ttl time.Duration) error {
	return nil
}

func (m *memStore) Counts(ctx context.Context) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.convs), 0, nil
}

type nopArchiver struct{}

func (nopArchiver) Archive(ctx context.Context, conv *models.Conversation) error { return nil }

type staticReplier struct{}

func (staticReplier) GenerateReply(ctx context.Context, messages []models.Message) (string, error) {
	return "canned reply", nil
}

func newTestServer(t *testing.T) (*Server, *memStore) {
	t.Helper()

	st := newMemStore()
	codec, err := token.NewCodec("test-secret", "parley-test", time.Hour)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	orgs, err := service.NewOrgDirectory([]service.Organization{
		{
			ID:           "acme",
			Name:         "Acme Corp",
			Domains:      []string{"acme.example.com"},
			SystemPrompt: "You are Acme's support assistant.",
		},
	})
	if err != nil {
		t.Fatalf("NewOrgDirectory failed: %v", err)
	}

	stats := metrics.NewCollector()
	chat := service.NewChatService(st, codec, staticReplier{}, orgs, stats, nil)
	sched := scheduler.New(scheduler.Config{
		Interval:  time.Minute,
		Threshold: 2 * time.Minute,
	}, st, nopArchiver{}, stats, nil)

	return New(chat, st, sched, stats, nil), st
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	raw := rec.Body.Bytes()
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decoding envelope failed: %v (%s)", err, raw)
	}
	if data != nil && env.Data != nil {
		inner, err := json.Marshal(env.Data)
		if err != nil {
			t.Fatalf("re-marshaling data failed: %v", err)
		}
		if err := json.Unmarshal(inner, data); err != nil {
			t.Fatalf("decoding data failed: %v", err)
		}
	}
	return env
}

func TestChatEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	handler := srv.Handler()

	rec := postJSON(t, handler, "/chat", map[string]string{
		"message": "Hi",
		"domain":  "acme.example.com",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp service.ChatResponse
	env := decodeEnvelope(t, rec, &resp)
	if !env.Success {
		t.Errorf("expected success envelope, got %+v", env)
	}
	if resp.Reply != "canned reply" {
		t.Errorf("unexpected reply %q", resp.Reply)
	}
	if !resp.IsNewConversation || resp.Token == "" {
		t.Errorf("expected new session with token, got %+v", resp)
	}
	if _, ok := st.convs[resp.ConversationID]; !ok {
		t.Error("conversation not created in store")
	}

	// Second exchange on the returned token continues the conversation.
	rec = postJSON(t, handler, "/chat", map[string]string{
		"message": "More",
		"domain":  "acme.example.com",
		"token":   resp.Token,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resumed service.ChatResponse
	decodeEnvelope(t, rec, &resumed)
	if resumed.IsNewConversation || resumed.ConversationID != resp.ConversationID {
		t.Errorf("expected resumed conversation, got %+v", resumed)
	}
}

func TestChatDomainFromOrigin(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	payload, _ := json.Marshal(map[string]string{"message": "Hi"})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(payload))
	req.Header.Set("Origin", "https://acme.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestChatValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"empty message", map[string]string{"message": "", "domain": "acme.example.com"}, http.StatusBadRequest},
		{"no domain", map[string]string{"message": "Hi"}, http.StatusBadRequest},
		{"unknown domain", map[string]string{"message": "Hi", "domain": "nobody.example.com"}, http.StatusNotFound},
		{"bad token", map[string]string{"message": "Hi", "domain": "acme.example.com", "token": "garbage"}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		rec := postJSON(t, handler, "/chat", tc.body)
		if rec.Code != tc.want {
			t.Errorf("%s: expected %d, got %d: %s", tc.name, tc.want, rec.Code, rec.Body.String())
		}
		env := decodeEnvelope(t, rec, nil)
		if env.Success || env.Error == "" {
			t.Errorf("%s: expected error envelope, got %+v", tc.name, env)
		}
	}
}

func TestChatExpiredToken(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	expiredCodec, err := token.NewCodec("test-secret", "parley-test", -time.Minute)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	expired, _, err := expiredCodec.Issue()
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	rec := postJSON(t, handler, "/chat", map[string]string{
		"message": "Hi",
		"domain":  "acme.example.com",
		"token":   expired,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var health scheduler.Health
	decodeEnvelope(t, rec, &health)
	if !health.StoreConnected {
		t.Error("expected store connected")
	}
}

func TestSchedulerEndpoints(t *testing.T) {
	srv, st := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/scheduler/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status scheduler.Status
	decodeEnvelope(t, rec, &status)
	if status.Running {
		t.Error("scheduler should not be running in tests")
	}

	// A conversation inside the threshold gets archived by a manual sweep.
	st.Create(context.Background(), "c1", "acme", "Welcome")
	st.mu.Lock()
	st.ttls["c1"] = 90 * time.Second
	st.mu.Unlock()

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scheduler/sweep", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats scheduler.TickStats
	decodeEnvelope(t, rec, &stats)
	if stats.Checked != 1 || stats.Archived != 1 {
		t.Errorf("expected one checked and archived, got %+v", stats)
	}
}

func TestDeleteConversation(t *testing.T) {
	srv, st := newTestServer(t)
	handler := srv.Handler()

	st.Create(context.Background(), "doomed", "acme", "Welcome")

	req := httptest.NewRequest(http.MethodDelete, "/conversations/doomed", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := st.convs["doomed"]; ok {
		t.Error("conversation not deleted")
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	postJSON(t, handler, "/chat", map[string]string{
		"message": "Hi",
		"domain":  "acme.example.com",
	})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var snapshot map[string]any
	decodeEnvelope(t, rec, &snapshot)
	if _, ok := snapshot["uptimeSeconds"]; !ok {
		t.Errorf("expected uptimeSeconds in snapshot, got %v", snapshot)
	}
}

func TestOriginDomain(t *testing.T) {
	cases := []struct {
		origin, referer, want string
	}{
		{"https://acme.example.com", "", "acme.example.com"},
		{"https://acme.example.com:8443", "", "acme.example.com"},
		{"", "https://acme.example.com/support/widget", "acme.example.com"},
		{"", "", ""},
		{"::bad::", "", ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/chat", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		if tc.referer != "" {
			req.Header.Set("Referer", tc.referer)
		}
		if got := originDomain(req); got != tc.want {
			t.Errorf("originDomain(origin=%q, referer=%q) = %q, want %q", tc.origin, tc.referer, got, tc.want)
		}
	}
}
