package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAuth(t *testing.T) {
	AuthTotal.Reset()

	RecordAuth(FlowLogin, OutcomeSuccess)
	RecordAuth(FlowLogin, OutcomeSuccess)
	RecordAuth(FlowLogin, OutcomeRejected)

	assert.Equal(t, 2.0, testutil.ToFloat64(AuthTotal.WithLabelValues(FlowLogin, OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(AuthTotal.WithLabelValues(FlowLogin, OutcomeRejected)))
}

func TestRecordAppends(t *testing.T) {
	LogAppendsTotal.Reset()

	RecordAppends(3, 0)
	RecordAppends(1, 2)

	assert.Equal(t, 4.0, testutil.ToFloat64(LogAppendsTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(LogAppendsTotal.WithLabelValues(OutcomeFailure)))
}

func TestRecordAuditFailure(t *testing.T) {
	before := testutil.ToFloat64(AuditFailuresTotal)
	RecordAuditFailure()
	assert.Equal(t, before+1, testutil.ToFloat64(AuditFailuresTotal))
}

func TestHTTPMiddleware(t *testing.T) {
	HTTPRequestDuration.Reset()

	r := chi.NewRouter()
	r.Use(HTTPMiddleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, 1, testutil.CollectAndCount(HTTPRequestDuration))
}

func TestHandler(t *testing.T) {
	RecordAuth(FlowRegistration, OutcomeFailure)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "passkeygate_auth_total"))
}
