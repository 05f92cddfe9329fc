package requestid_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/usagegate/pkg/logger"
	"github.com/dmitrymomot/usagegate/pkg/requestid"
)

func TestMiddleware(t *testing.T) {
	t.Parallel()

	serve := func(header string) (string, *httptest.ResponseRecorder) {
		var seen string
		h := requestid.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = requestid.FromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set(requestid.Header, header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return seen, rec
	}

	t.Run("generates when absent", func(t *testing.T) {
		t.Parallel()
		id, rec := serve("")
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, id, rec.Header().Get(requestid.Header))
	})

	t.Run("reuses valid header", func(t *testing.T) {
		t.Parallel()
		id, rec := serve("req_abc-123")
		assert.Equal(t, "req_abc-123", id)
		assert.Equal(t, "req_abc-123", rec.Header().Get(requestid.Header))
	})

	t.Run("replaces malformed header", func(t *testing.T) {
		t.Parallel()
		for _, bad := range []string{"has space", "<script>", strings.Repeat("a", 129)} {
			id, _ := serve(bad)
			assert.NotEqual(t, bad, id)
			_, err := uuid.Parse(id)
			assert.NoError(t, err)
		}
	})
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	assert.Empty(t, requestid.FromContext(context.Background()))
	assert.Equal(t, "abc", requestid.FromContext(requestid.WithContext(context.Background(), "abc")))
}

func TestLoggerExtractor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithOutput(&buf),
		logger.WithFormat(logger.FormatJSON),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)

	log.InfoContext(requestid.WithContext(context.Background(), "req-1"), "hello")
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)

	buf.Reset()
	log.InfoContext(context.Background(), "hello")
	assert.NotContains(t, buf.String(), "request_id")
}
