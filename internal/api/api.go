// Package api implements HTTP service reporting on-chain subscription state
// of users.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/subscription-contract/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RequestIDHeader carries request identifier. Incoming values are kept,
// missing ones are generated.
const RequestIDHeader = "X-Request-ID"

// Prm groups Server parameters.
type Prm struct {
	Logger  *zap.Logger
	Chain   Chain
	Metrics *metrics.Metrics
	// Source of /metrics data.
	Gatherer prometheus.Gatherer

	Network  string
	Contract util.Uint160

	EventBlocks    uint32
	EventLimit     int
	RequestTimeout time.Duration
	AllowedOrigins []string

	// Defaults to time.Now.
	Now func() time.Time
}

// Server serves subscription state over HTTP.
type Server struct {
	Prm
}

// New returns Server with the given parameters.
func New(prm Prm) *Server {
	if prm.Now == nil {
		prm.Now = time.Now
	}
	return &Server{prm}
}

// Handler returns HTTP handler of the service.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestID)
	r.Use(s.Metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.health)
	r.Get("/api/state", s.state)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))

	return r
}

type ctxKey struct{}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)
		l := s.Logger.With(zap.String("request_id", id))

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, l)))
	})
}

func (s *Server) log(r *http.Request) *zap.Logger {
	if l, ok := r.Context().Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return s.Logger
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// SubscriptionState is a JSON view of a subscription record.
type SubscriptionState struct {
	PlanID    *big.Int `json:"planId"`
	ExpiresAt *big.Int `json:"expiresAt"`
}

// StateResponse is a body of the successful /api/state response.
type StateResponse struct {
	User                 string             `json:"user"`
	Subscription         *SubscriptionState `json:"subscription"`
	Active               bool               `json:"active"`
	Initialized          bool               `json:"initialized"`
	TokenBalance         string             `json:"tokenBalance"`
	RecentEvents         []Event            `json:"recentEvents"`
	ObservedAt           string             `json:"observedAt"`
	Network              string             `json:"network"`
	SubscriptionContract string             `json:"subscriptionContract"`
	PaymentToken         string             `json:"paymentToken"`
}

var errMissingUser = errors.New("missing user query parameter")

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	l := s.log(r)

	user, err := parseUser(r.URL.Query().Get("user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.RequestTimeout)
	defer cancel()

	resp, op, err := s.collectState(ctx, user)
	if err != nil {
		s.Metrics.ChainError(op)
		l.Warn("failed to read chain state",
			zap.String("operation", op), zap.Stringer("user", user), zap.Error(err))
		writeError(w, http.StatusBadGateway, err)
		return
	}

	l.Debug("state served", zap.Stringer("user", user), zap.Bool("active", resp.Active))
	writeJSON(w, http.StatusOK, resp)
}

// collectState reads the state of the user. On failure it returns the name
// of the failed operation. Payment token and balance are left empty while the
// contract is not initialized.
//
// ctx is checked between the calls, each call is limited by the RPC client.
func (s *Server) collectState(ctx context.Context, user util.Uint160) (StateResponse, string, error) {
	resp := StateResponse{
		User:                 address.Uint160ToString(user),
		ObservedAt:           s.Now().UTC().Format(time.RFC3339),
		Network:              s.Network,
		SubscriptionContract: s.Contract.StringLE(),
		RecentEvents:         []Event{},
	}

	if err := ctx.Err(); err != nil {
		return resp, "config", err
	}

	cfg, err := s.Chain.Config()
	switch {
	case err == nil:
		resp.Initialized = true
		resp.PaymentToken = cfg.PaymentToken.StringLE()
	case !errors.Is(err, ErrNotInitialized):
		return resp, "config", err
	}

	if err := ctx.Err(); err != nil {
		return resp, "subscription", err
	}

	sub, err := s.Chain.Subscription(user)
	if err != nil {
		return resp, "subscription", err
	}
	if sub != nil {
		resp.Subscription = &SubscriptionState{
			PlanID:    sub.PlanID,
			ExpiresAt: sub.ExpiresAt,
		}
	}

	if err := ctx.Err(); err != nil {
		return resp, "active", err
	}

	resp.Active, err = s.Chain.IsActive(user)
	if err != nil {
		return resp, "active", err
	}

	if resp.Initialized {
		if err := ctx.Err(); err != nil {
			return resp, "balance", err
		}

		balance, err := s.Chain.Balance(cfg.PaymentToken, user)
		if err != nil {
			return resp, "balance", err
		}
		resp.TokenBalance = balance.String()
	}

	if s.EventLimit > 0 {
		events, err := s.Chain.RecentEvents(ctx, s.EventBlocks, s.EventLimit)
		if err != nil {
			return resp, "events", err
		}
		if events != nil {
			resp.RecentEvents = events
		}
	}

	return resp, "", nil
}

// parseUser accepts Neo addresses and LE script hashes.
func parseUser(s string) (util.Uint160, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return util.Uint160{}, errMissingUser
	}

	h, err := address.StringToUint160(s)
	if err == nil {
		return h, nil
	}

	h, err = util.Uint160DecodeStringLE(s)
	if err != nil {
		return util.Uint160{}, errors.New("invalid user: neither Neo address nor script hash")
	}

	return h, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
