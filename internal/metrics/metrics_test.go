package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	ConnectionsAccepted.Inc()
	Commands("get").Inc()
	CommandDuration("get").Update(0.001)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "pollkv_connections_accepted_total")
	assert.Contains(t, body, `pollkv_commands_total{command="get"}`)
	assert.Contains(t, body, "pollkv_command_duration_seconds_bucket")
}

func TestCommandsIsIdempotent(t *testing.T) {
	assert.Same(t, Commands("set"), Commands("set"))
}
