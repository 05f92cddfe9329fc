package metering

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/usagegate/core"
	"github.com/dmitrymomot/usagegate/pkg/clientip"
	"github.com/dmitrymomot/usagegate/pkg/httpserver"
	"github.com/dmitrymomot/usagegate/pkg/logger"
	"github.com/dmitrymomot/usagegate/pkg/metrics"
	"github.com/dmitrymomot/usagegate/pkg/ratelimiter"
	"github.com/dmitrymomot/usagegate/pkg/requestid"
	"github.com/dmitrymomot/usagegate/pkg/subscription"
	"github.com/dmitrymomot/usagegate/pkg/textai"
)

// Config holds the HTTP-facing settings of the module.
type Config struct {
	UserIDHeader       string `env:"USER_ID_HEADER" envDefault:"X-User-ID"`
	CheckoutSuccessURL string `env:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL  string `env:"CHECKOUT_CANCEL_URL"`
	PortalReturnURL    string `env:"PORTAL_RETURN_URL"`
	MaxWebhookBytes    int64  `env:"WEBHOOK_MAX_BYTES" envDefault:"1048576"`
	MaxBodyBytes       int64  `env:"HTTP_MAX_BODY_BYTES" envDefault:"1048576"`

	// TrustedIPHeaders lists proxy headers that carry the client address,
	// in priority order. Empty means the TCP peer address is used.
	TrustedIPHeaders []string `env:"TRUSTED_IP_HEADERS" envSeparator:","`
}

// Options wires the module's collaborators. Meter, Resetter and Gate are
// required; every other field switches a group of routes on when set.
type Options struct {
	Meter    *subscription.Meter
	Resetter *subscription.Resetter
	Gate     *subscription.Gate

	// Reconciler and Provider enable /webhook; Provider with Prices enables
	// /checkout and /portal.
	Reconciler *subscription.Reconciler
	Provider   subscription.BillingProvider
	Prices     subscription.PriceMap

	Text         textai.Service          // enables /detect and /humanize
	RateLimiter  ratelimiter.RateLimiter // limits /detect and /humanize per caller
	Metrics      *metrics.Metrics        // enables /metrics
	HealthChecks map[string]httpserver.Check

	Config Config
	Logger *slog.Logger
}

var ErrMissingDependency = errors.New("metering: missing required dependency")

// Module serves the usage and billing HTTP API.
type Module struct {
	opts Options
	ips  *clientip.Resolver
	log  *slog.Logger
}

// New validates opts and returns a Module.
func New(opts Options) (*Module, error) {
	if opts.Meter == nil || opts.Resetter == nil || opts.Gate == nil {
		return nil, ErrMissingDependency
	}
	if opts.Reconciler != nil && opts.Provider == nil {
		return nil, errors.Join(ErrMissingDependency, errors.New("reconciler requires a billing provider"))
	}
	if opts.Config.UserIDHeader == "" {
		opts.Config.UserIDHeader = "X-User-ID"
	}
	if opts.Config.MaxWebhookBytes <= 0 {
		opts.Config.MaxWebhookBytes = 1 << 20
	}
	if opts.Config.MaxBodyBytes <= 0 {
		opts.Config.MaxBodyBytes = 1 << 20
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Module{
		opts: opts,
		ips:  clientip.New(opts.Config.TrustedIPHeaders...),
		log:  log.With(logger.Component("metering")),
	}, nil
}

// Handle returns the module router.
func (m *Module) Handle() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(m.accessLog)

	r.Get("/healthz", httpserver.HealthCheckHandler(m.log, 2*time.Second, m.opts.HealthChecks))
	if m.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", m.opts.Metrics.Handler())
	}

	r.Get("/subscription/{userId}", m.getSubscription)
	r.Post("/update-usage", m.updateUsage)
	r.Post("/reset-usage", m.resetUsage)

	if m.opts.Reconciler != nil {
		r.Post("/webhook", m.webhook)
	}
	if m.opts.Provider != nil {
		r.Post("/checkout", m.checkout)
		r.Post("/portal", m.portal)
	}

	if m.opts.Text != nil {
		r.Group(func(r chi.Router) {
			if m.opts.RateLimiter != nil {
				r.Use(ratelimiter.Middleware(m.opts.RateLimiter, m.callerKey,
					ratelimiter.WithErrorResponder(m.rateLimitResponder)))
			}
			userID := subscription.HeaderUserID(m.opts.Config.UserIDHeader)
			r.With(m.opts.Gate.Middleware(subscription.FeatureDetection, userID)).Post("/detect", m.detect)
			r.With(m.opts.Gate.Middleware(subscription.FeatureHumanization, userID)).Post("/humanize", m.humanize)
		})
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		core.Render(w, r, core.JSONError(core.ErrNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		core.Render(w, r, core.JSONError(core.ErrMethodNotAllowed))
	})

	return r
}

// callerKey limits identified callers by user ID and anonymous ones by IP.
func (m *Module) callerKey(r *http.Request) string {
	if id := r.Header.Get(m.opts.Config.UserIDHeader); id != "" {
		return "user:" + id
	}
	if ip := m.ips.IP(r); ip != "" {
		return "ip:" + ip
	}
	return ""
}

func (m *Module) rateLimitResponder(w http.ResponseWriter, r *http.Request, _ *ratelimiter.Result, err error) {
	if err != nil {
		m.log.ErrorContext(r.Context(), "rate limiter unavailable", logger.Error(err))
		core.Render(w, r, core.JSONError(core.ErrServiceUnavailable))
		return
	}
	core.Render(w, r, core.JSONError(core.ErrTooManyRequests))
}

func (m *Module) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		m.log.DebugContext(r.Context(), "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			logger.Duration(time.Since(start)),
		)
	})
}
