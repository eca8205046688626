package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readyz(t *testing.T, h *LedgerHealth) (int, healthBody) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body healthBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return rec.Code, body
}

func TestLedgerHealth_ReadyAfterEveryStage(t *testing.T) {
	h := NewLedgerHealth(StageRecovered, StageDispatcher, StageIngress)

	code, body := readyz(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "starting", body.Status)
	assert.Equal(t, []Stage{StageRecovered, StageDispatcher, StageIngress}, body.Waiting)

	h.Complete(StageRecovered)
	h.Complete(StageIngress)
	_, body = readyz(t, h)
	assert.Equal(t, []Stage{StageDispatcher}, body.Waiting)

	h.Complete(StageDispatcher)
	code, body = readyz(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body.Status)
}

func TestLedgerHealth_DrainWins(t *testing.T) {
	h := NewLedgerHealth(StageRecovered)
	h.Complete(StageRecovered)
	h.Drain()

	code, body := readyz(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "draining", body.Status)

	ready, waiting := h.Ready()
	assert.False(t, ready)
	assert.Empty(t, waiting)
}

func TestLedgerHealth_WatchSeesOnlyChanges(t *testing.T) {
	h := NewLedgerHealth(StageRecovered, StageDispatcher)
	var seen []bool
	h.Watch(func(ready bool) { seen = append(seen, ready) })

	h.Complete(StageRecovered)
	h.Complete(StageRecovered)
	h.Complete(StageDispatcher)
	h.Drain()
	h.Drain()

	assert.Equal(t, []bool{false, true, false}, seen)
}

func TestLedgerHealth_Liveness(t *testing.T) {
	h := NewLedgerHealth(StageRecovered)
	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"alive"`)
}
