package server

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/pastebin/internal/metrics"
	"github.com/MarcoPoloResearchLab/pastebin/internal/pastes"
)

const (
	testNowHeader        = "X-Test-Now-Ms"
	forwardedProtoHeader = "X-Forwarded-Proto"
	defaultScheme        = "https"
	// Extra body allowance for the JSON envelope and escaping around content.
	bodyEnvelopeBytes = 64 << 10
	wireTimeLayout    = "2006-01-02T15:04:05.000Z07:00"
)

var errMissingPasteService = errors.New("paste service dependency required")

//go:embed templates/*.html
var templateFS embed.FS

type Dependencies struct {
	PasteService      *pastes.Service
	Logger            *zap.Logger
	Metrics           *metrics.Metrics
	PublicBaseURL     string
	AllowedOrigins    []string
	DeterministicTime bool
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.PasteService == nil {
		return nil, errMissingPasteService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.SetHTMLTemplate(templates)
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		pastes:            deps.PasteService,
		logger:            logger,
		metrics:           deps.Metrics,
		publicBaseURL:     strings.TrimSuffix(deps.PublicBaseURL, "/"),
		deterministicTime: deps.DeterministicTime,
	}

	router.GET("/", handler.handleIndex)
	router.GET("/p/:id", handler.handleViewPage)

	api := router.Group("/api")
	api.GET("/healthz", handler.handleHealth)
	api.POST("/pastes", handler.handleCreate)
	api.GET("/pastes/:id", handler.handleRead)

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", testNowHeader},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || containsWildcard(allowedOrigins) {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if strings.TrimSpace(origin) == "*" {
			return true
		}
	}
	return false
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

type httpHandler struct {
	pastes            *pastes.Service
	logger            *zap.Logger
	metrics           *metrics.Metrics
	publicBaseURL     string
	deterministicTime bool
}

// requestNow returns the instant a request is evaluated at.
// With deterministic time enabled a valid X-Test-Now-Ms header overrides the clock.
func (h *httpHandler) requestNow(c *gin.Context) time.Time {
	if h.deterministicTime {
		if raw := strings.TrimSpace(c.GetHeader(testNowHeader)); raw != "" {
			if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return time.UnixMilli(millis).UTC()
			}
		}
	}
	return h.pastes.Now()
}

func (h *httpHandler) baseURL(c *gin.Context) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL
	}
	scheme := strings.TrimSpace(strings.Split(c.GetHeader(forwardedProtoHeader), ",")[0])
	if scheme == "" {
		scheme = defaultScheme
	}
	return scheme + "://" + c.Request.Host
}

func (h *httpHandler) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{"Title": "Pastebin"})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if err := h.pastes.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *httpHandler) handleRead(c *gin.Context) {
	view, err := h.pastes.ConsumeView(c.Request.Context(), c.Param("id"), h.requestNow(c))
	if err != nil {
		h.observeReadFailure(err)
		status, payload := errorResponse(err)
		c.JSON(status, payload)
		return
	}
	h.metrics.ObserveRead(metrics.ReadServed)

	c.JSON(http.StatusOK, readResponsePayload{
		Content:        view.Content,
		RemainingViews: view.RemainingViews,
		ExpiresAt:      formatWireTime(view.ExpiresAt),
	})
}

func (h *httpHandler) handleViewPage(c *gin.Context) {
	view, err := h.pastes.ConsumeView(c.Request.Context(), c.Param("id"), h.requestNow(c))
	if err != nil {
		h.observeReadFailure(err)
		if errors.Is(err, pastes.ErrNotFound) {
			c.HTML(http.StatusNotFound, "not_found.html", gin.H{"Title": "Not found"})
			return
		}
		c.HTML(http.StatusServiceUnavailable, "unavailable.html", gin.H{"Title": "Unavailable"})
		return
	}
	h.metrics.ObserveRead(metrics.ReadServed)

	remaining := ""
	if view.RemainingViews != nil {
		remaining = strconv.FormatInt(*view.RemainingViews, 10)
	}
	expiresAt := ""
	if formatted := formatWireTime(view.ExpiresAt); formatted != nil {
		expiresAt = *formatted
	}
	c.HTML(http.StatusOK, "paste.html", gin.H{
		"Title":          "Paste",
		"Content":        view.Content,
		"RemainingViews": remaining,
		"ExpiresAt":      expiresAt,
	})
}

func (h *httpHandler) observeReadFailure(err error) {
	if errors.Is(err, pastes.ErrNotFound) {
		h.metrics.ObserveRead(metrics.ReadNotFound)
		return
	}
	h.metrics.ObserveRead(metrics.ReadError)
}

func formatWireTime(value *time.Time) *string {
	if value == nil {
		return nil
	}
	formatted := value.UTC().Format(wireTimeLayout)
	return &formatted
}
