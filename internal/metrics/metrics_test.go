package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected scrape status %d", recorder.Code)
	}
	return recorder.Body.String()
}

func requireSeries(t *testing.T, exposition string, series string) {
	t.Helper()
	if !strings.Contains(exposition, series) {
		t.Fatalf("expected series %q in exposition:\n%s", series, exposition)
	}
}

func TestMiddlewareRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/api/pastes/:id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	for _, path := range []string{"/api/pastes/a", "/api/pastes/b", "/nope"} {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
	}

	exposition := scrape(t, m)
	requireSeries(t, exposition, `pastebin_http_requests_total{method="GET",route="/api/pastes/:id",status="404"} 2`)
	requireSeries(t, exposition, `pastebin_http_requests_total{method="GET",route="unmatched",status="404"} 1`)
	requireSeries(t, exposition, `pastebin_http_request_duration_seconds_count{method="GET",route="/api/pastes/:id"} 2`)
}

func TestDomainCounters(t *testing.T) {
	m := New()
	m.PasteCreated()
	m.PasteCreated()
	m.ObserveRead(ReadServed)
	m.ObserveRead(ReadNotFound)
	m.ObserveRead(ReadNotFound)
	m.PastesPurged(3)
	m.PastesPurged(0)

	exposition := scrape(t, m)
	requireSeries(t, exposition, "pastebin_pastes_created_total 2")
	requireSeries(t, exposition, `pastebin_paste_reads_total{outcome="served"} 1`)
	requireSeries(t, exposition, `pastebin_paste_reads_total{outcome="not_found"} 2`)
	requireSeries(t, exposition, "pastebin_pastes_purged_total 3")
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.PasteCreated()
	m.ObserveRead(ReadError)
	m.PastesPurged(1)
}
