package wsmetrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(b)
}

func TestHandler_ExposesSessionMetrics(t *testing.T) {
	OnOpen()
	ObserveFrame(42)
	ObserveWrite("ping", time.Millisecond, nil)
	ObserveWrite("pong", time.Millisecond, errors.New("broken pipe"))
	OnClose("ping_timeout")

	out := scrape(t)
	assert.Contains(t, out, "ws_conn_open_total")
	assert.Contains(t, out, `ws_conn_close_total{reason="ping_timeout"}`)
	assert.Contains(t, out, `ws_msgs_out_total{kind="ping"}`)
	assert.Contains(t, out, "ws_write_errors_total")
	assert.Contains(t, out, "ws_write_duration_seconds_bucket")
	assert.Contains(t, out, "ws_bytes_in_total")
}
