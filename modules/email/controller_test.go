package email

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thenasky/mail-delivery/modules/email/delivery"
	"github.com/thenasky/mail-delivery/modules/email/models"
	"github.com/thenasky/mail-delivery/modules/email/queue"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
}

func newTestServer(t *testing.T, withProvider bool) (*httptest.Server, *delivery.Manager) {
	t.Helper()
	manager, err := delivery.NewManager(queue.New(queue.NewMemoryStore(), testLog), delivery.Config{}, testLog)
	require.NoError(t, err)
	if withProvider {
		require.NoError(t, manager.RegisterProviderConfig(models.ProviderConfig{
			ID: "log", Kind: models.KindLog, Priority: 1, Enabled: true,
		}))
	}
	t.Cleanup(manager.Stop)

	r := mux.NewRouter()
	NewModule(NewEmailService(manager, testLog)).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, manager
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func validMessage() map[string]any {
	return map[string]any{
		"to":       []string{"someone@example.com"},
		"from":     "Sender <sender@example.com>",
		"subject":  "Hello",
		"html":     "<p>hi</p>",
		"metadata": map[string]string{"tenantId": "tenant-1"},
	}
}

func TestSendEmail(t *testing.T) {
	srv, _ := newTestServer(t, true)

	code, env := do(t, srv, http.MethodPost, "/api/v1/emails/send", validMessage())
	require.Equal(t, http.StatusOK, code)

	var res models.SendResult
	require.NoError(t, json.Unmarshal(env.Payload, &res))
	assert.True(t, res.Success)
	assert.Equal(t, "log", res.ProviderID)
	assert.NotEmpty(t, res.ProviderMessageID)
}

func TestSendEmail_NoProviders(t *testing.T) {
	srv, _ := newTestServer(t, false)

	code, env := do(t, srv, http.MethodPost, "/api/v1/emails/send", validMessage())
	require.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "fail", env.Status)
}

func TestSendEmail_Invalid(t *testing.T) {
	srv, _ := newTestServer(t, true)

	msg := validMessage()
	delete(msg, "subject")
	code, _ := do(t, srv, http.MethodPost, "/api/v1/emails/send", msg)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestQueueEmail_IsDelivered(t *testing.T) {
	srv, _ := newTestServer(t, true)

	code, env := do(t, srv, http.MethodPost, "/api/v1/emails/queue", validMessage())
	require.Equal(t, http.StatusCreated, code)

	var queued models.EmailResponse
	require.NoError(t, json.Unmarshal(env.Payload, &queued))
	require.NotEmpty(t, queued.ID)

	require.Eventually(t, func() bool {
		code, env := do(t, srv, http.MethodGet, "/api/v1/emails/"+queued.ID+"/status", nil)
		if code != http.StatusOK {
			return false
		}
		var status models.EmailStatus
		return json.Unmarshal(env.Payload, &status) == nil && status.Status == models.StatusSent
	}, 2*time.Second, 20*time.Millisecond)
}

func TestScheduleUpdateAndRemove(t *testing.T) {
	srv, _ := newTestServer(t, true)

	body := validMessage()
	body["run_at"] = time.Now().Add(time.Hour)
	code, env := do(t, srv, http.MethodPost, "/api/v1/emails/schedule", body)
	require.Equal(t, http.StatusCreated, code)

	var queued models.EmailResponse
	require.NoError(t, json.Unmarshal(env.Payload, &queued))
	assert.Equal(t, models.StatusRetrying, queued.Status)
	require.NotNil(t, queued.ScheduledAt)

	code, env = do(t, srv, http.MethodGet, "/api/v1/emails/queue/status", nil)
	require.Equal(t, http.StatusOK, code)
	var qs models.QueueStatus
	require.NoError(t, json.Unmarshal(env.Payload, &qs))
	assert.Equal(t, 1, qs.Retrying)

	later := time.Now().Add(2 * time.Hour).UTC()
	code, _ = do(t, srv, http.MethodPatch, "/api/v1/emails/"+queued.ID, map[string]any{"next_retry_at": later})
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, srv, http.MethodPatch, "/api/v1/emails/"+queued.ID, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, srv, http.MethodDelete, "/api/v1/emails/"+queued.ID, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, srv, http.MethodGet, "/api/v1/emails/"+queued.ID+"/status", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSchedule_RequiresRunAt(t *testing.T) {
	srv, _ := newTestServer(t, true)

	code, _ := do(t, srv, http.MethodPost, "/api/v1/emails/schedule", validMessage())
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCleanup(t *testing.T) {
	srv, _ := newTestServer(t, true)

	code, env := do(t, srv, http.MethodPost, "/api/v1/emails/cleanup", map[string]int{"older_than_hours": 1})
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"removed":0}`, string(env.Payload))

	code, _ = do(t, srv, http.MethodPost, "/api/v1/emails/cleanup", map[string]int{"older_than_hours": -1})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCleanup_ZeroHoursRemovesDeliveredEmail(t *testing.T) {
	srv, _ := newTestServer(t, true)

	code, env := do(t, srv, http.MethodPost, "/api/v1/emails/queue", validMessage())
	require.Equal(t, http.StatusCreated, code)
	var queued models.EmailResponse
	require.NoError(t, json.Unmarshal(env.Payload, &queued))

	require.Eventually(t, func() bool {
		code, env := do(t, srv, http.MethodGet, "/api/v1/emails/"+queued.ID+"/status", nil)
		var status models.EmailStatus
		return code == http.StatusOK && json.Unmarshal(env.Payload, &status) == nil && status.Status == models.StatusSent
	}, 2*time.Second, 20*time.Millisecond)

	code, env = do(t, srv, http.MethodPost, "/api/v1/emails/cleanup", map[string]int{"older_than_hours": 0})
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"removed":1}`, string(env.Payload))

	code, _ = do(t, srv, http.MethodGet, "/api/v1/emails/"+queued.ID+"/status", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthAndProviders(t *testing.T) {
	srv, _ := newTestServer(t, true)

	code, _ := do(t, srv, http.MethodGet, "/api/v1/emails/health", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, srv, http.MethodPatch, "/api/v1/emails/providers/log", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, code)

	code, env := do(t, srv, http.MethodGet, "/api/v1/emails/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "fail", env.Status)

	code, env = do(t, srv, http.MethodGet, "/api/v1/emails/providers", nil)
	require.Equal(t, http.StatusOK, code)
	var statuses []models.ProviderStatus
	require.NoError(t, json.Unmarshal(env.Payload, &statuses))
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Enabled)

	code, _ = do(t, srv, http.MethodPatch, "/api/v1/emails/providers/missing", map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, srv, http.MethodPatch, "/api/v1/emails/providers/log", map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}
