package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"payline.org/internal/auth"
	"payline.org/internal/obs"
	"payline.org/internal/org"
	"payline.org/internal/payroll"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings whichever backing stores are configured.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Deps are the collaborators of API. Rate limit values apply to the
// unauthenticated auth endpoints.
type Deps struct {
	Auth       *auth.Service
	Orgs       *org.Service
	Payroll    *payroll.Service
	Ready      readinessChecker
	Version    string
	RateBurst  int
	RatePerSec float64

	// TrustedProxies are peers whose X-Forwarded-For is believed by the rate limiter.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	mux       *http.ServeMux
	auth      *auth.Service
	orgs      *org.Service
	payroll   *payroll.Service
	ready     readinessChecker
	version   string
	validator *validator.Validate
	limiter   *limiterSet
	trusted   []netip.Prefix
}

func New(d Deps) *API {
	if d.Ready == nil {
		d.Ready = ReadyProbe{}
	}
	if d.RateBurst <= 0 {
		d.RateBurst = 10
	}
	if d.RatePerSec <= 0 {
		d.RatePerSec = 5
	}
	a := &API{
		mux:       http.NewServeMux(),
		auth:      d.Auth,
		orgs:      d.Orgs,
		payroll:   d.Payroll,
		ready:     d.Ready,
		version:   d.Version,
		validator: newValidator(),
		limiter:   newLimiterSet(d.RatePerSec, d.RateBurst),
		trusted:   d.TrustedProxies,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.Handle("POST /v1/auth/challenge", a.limited(a.handleChallenge))
	a.mux.Handle("POST /v1/auth/verify", a.limited(a.handleVerify))
	a.mux.Handle("POST /v1/auth/refresh", a.limited(a.handleRefresh))
	a.mux.Handle("POST /v1/auth/logout", a.withAuth(a.handleLogout))
	a.mux.Handle("GET /v1/me", a.withAuth(a.handleMe))

	a.mux.Handle("POST /v1/organizations", a.withAuth(a.handleCreateOrganization))
	a.mux.Handle("GET /v1/organizations", a.withAuth(a.handleListOrganizations))
	a.mux.Handle("GET /v1/organizations/{orgID}", a.scoped(a.handleGetOrganization))
	a.mux.Handle("PATCH /v1/organizations/{orgID}", a.scoped(a.handleUpdateOrganization))
	a.mux.Handle("GET /v1/organizations/{orgID}/members", a.scoped(a.handleListMembers))
	a.mux.Handle("POST /v1/organizations/{orgID}/members", a.scoped(a.handleAddMember))
	a.mux.Handle("PATCH /v1/organizations/{orgID}/members/{userID}", a.scoped(a.handleChangeRole))
	a.mux.Handle("DELETE /v1/organizations/{orgID}/members/{userID}", a.scoped(a.handleRemoveMember))

	a.mux.Handle("GET /v1/organizations/{orgID}/recipients", a.scoped(a.handleListRecipients))
	a.mux.Handle("POST /v1/organizations/{orgID}/recipients", a.scoped(a.handleCreateRecipient))
	a.mux.Handle("GET /v1/organizations/{orgID}/recipients/{recipientID}", a.scoped(a.handleGetRecipient))
	a.mux.Handle("PATCH /v1/organizations/{orgID}/recipients/{recipientID}", a.scoped(a.handleUpdateRecipient))
	a.mux.Handle("POST /v1/organizations/{orgID}/recipients/{recipientID}/archive", a.scoped(a.handleArchiveRecipient))

	a.mux.Handle("GET /v1/organizations/{orgID}/payroll/preview", a.scoped(a.handlePreview))
	a.mux.Handle("GET /v1/organizations/{orgID}/payroll/runs", a.scoped(a.handleListRuns))
	a.mux.Handle("POST /v1/organizations/{orgID}/payroll/runs", a.scoped(a.handleRecordRun))
	a.mux.Handle("GET /v1/organizations/{orgID}/payroll/runs/{runID}", a.scoped(a.handleGetRun))
	a.mux.Handle("POST /v1/organizations/{orgID}/payroll/runs/{runID}/status", a.scoped(a.handleSettleRun))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
}

// Handler returns the mux wrapped with metrics, request ids, access logs and headers.
func (a *API) Handler() http.Handler {
	return obs.Instrument(RequestID(LoggingJSON(SecurityHeaders(CORS(MaxBodyBytes(a.mux, maxBodyBytes))))))
}

func (a *API) limited(h http.HandlerFunc) http.Handler {
	return limitWith(a.limiter, a.trusted, h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": obs.ServiceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    obs.ServiceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
