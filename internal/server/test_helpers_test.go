package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/pastebin/internal/database"
	"github.com/MarcoPoloResearchLab/pastebin/internal/metrics"
	"github.com/MarcoPoloResearchLab/pastebin/internal/pastes"
)

var testEpoch = time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC)

var errStorageDown = errors.New("storage down")

type sequentialIDProvider struct {
	next atomic.Int64
}

func (p *sequentialIDProvider) NewID() (string, error) {
	return fmt.Sprintf("paste-%d", p.next.Add(1)), nil
}

// failingStore reports every call as a storage failure.
type failingStore struct{}

func (failingStore) Insert(context.Context, *pastes.Paste) error { return errStorageDown }
func (failingStore) Get(context.Context, pastes.PasteID) (*pastes.Paste, error) {
	return nil, errStorageDown
}
func (failingStore) ConsumeView(context.Context, pastes.PasteID, time.Time) (*pastes.Paste, error) {
	return nil, errStorageDown
}
func (failingStore) Ping(context.Context) error { return errStorageDown }
func (failingStore) Close() error               { return nil }

type routerOptions struct {
	store             pastes.Store
	publicBaseURL     string
	deterministicTime bool
	maxContentBytes   int
	metrics           *metrics.Metrics
	allowedOrigins    []string
}

func openSQLiteStore(t *testing.T) pastes.Store {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "pastes.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	store, err := pastes.NewSQLStore(db)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func newTestRouter(t *testing.T, options routerOptions) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := options.store
	if store == nil {
		store = openSQLiteStore(t)
	}
	service, err := pastes.NewService(pastes.ServiceConfig{
		Store:           store,
		Clock:           func() time.Time { return testEpoch },
		IDProvider:      &sequentialIDProvider{},
		Logger:          zap.NewNop(),
		MaxContentBytes: options.maxContentBytes,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		PasteService:      service,
		Logger:            zap.NewNop(),
		Metrics:           options.metrics,
		PublicBaseURL:     options.publicBaseURL,
		AllowedOrigins:    options.allowedOrigins,
		DeterministicTime: options.deterministicTime,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func performRequest(handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, http.NoBody)
	} else {
		request = httptest.NewRequest(method, path, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func atMillis(instant time.Time) map[string]string {
	return map[string]string{testNowHeader: strconv.FormatInt(instant.UnixMilli(), 10)}
}
