package server

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/botminter/internal/metrics"
)

const (
	// MaxBodySize caps a webhook payload.
	MaxBodySize = 10 << 20

	SignatureHeader = "X-Hub-Signature-256"
	EventHeader     = "X-GitHub-Event"
)

// Verifier checks a signature header over the raw body.
type Verifier func(secret string, body []byte, header string) bool

// Dispatcher receives the event type of every accepted request, after the
// response has been written. It must not block.
type Dispatcher func(eventType string)

// WebhookRouter accepts GitHub deliveries on one endpoint:
//
//	POST /webhook   headers: X-GitHub-Event, X-Hub-Signature-256 (when a secret is set)
//
// Every other method or path is 404. An unreadable or oversized body is 400,
// a bad signature 403, anything else 200 "ok".
type WebhookRouter struct {
	secret   string
	verify   Verifier
	dispatch Dispatcher
}

func NewWebhookRouter(secret string, verify Verifier, dispatch Dispatcher) *WebhookRouter {
	return &WebhookRouter{secret: secret, verify: verify, dispatch: dispatch}
}

// Handler returns an http.Handler powered by gin.
func (r *WebhookRouter) Handler() http.Handler {
	g := newEngine()
	g.POST("/webhook", r.handleWebhook)
	return g
}

func (r *WebhookRouter) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxBodySize+1))
	if err != nil || len(body) > MaxBodySize {
		r.respond(c, http.StatusBadRequest, "bad request")
		return
	}
	if r.secret != "" && (r.verify == nil || !r.verify(r.secret, body, c.GetHeader(SignatureHeader))) {
		r.respond(c, http.StatusForbidden, "forbidden")
		return
	}
	r.respond(c, http.StatusOK, "ok")
	c.Writer.Flush()

	if r.dispatch != nil {
		r.dispatch(c.GetHeader(EventHeader))
	}
}

func (r *WebhookRouter) respond(c *gin.Context, code int, msg string) {
	metrics.IncWebhookRequest(code)
	c.String(code, msg)
}

// MetricsHandler serves GET /metrics from the default Prometheus registry.
func MetricsHandler() http.Handler {
	g := newEngine()
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// newEngine returns a gin engine with panic recovery. Gin's debug mode prints
// banners and route tables to stdout, which is the daemon log, so release
// mode is selected unless GIN_MODE or an earlier SetMode chose otherwise.
func newEngine() *gin.Engine {
	if gin.Mode() == gin.DebugMode && os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	g.Use(gin.Recovery())
	return g
}

// NewServer wraps h in an http.Server with conservative timeouts. The caller
// runs ListenAndServe (or Serve) and Shutdown.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
