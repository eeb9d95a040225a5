package server

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"StakeVault/internal/authz"
	"StakeVault/internal/custody"
	"StakeVault/internal/engine"
	"StakeVault/internal/ledger"
	"StakeVault/internal/observability"
	"StakeVault/internal/query"
)

// HTTPServer serves the operation and query API as HTTP/JSON.
// Operations go straight to the engine; history reads go to the
// projection-backed query service.
type HTTPServer struct {
	engine  *engine.Engine
	queries *query.QueryService
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger

	srv *http.Server
}

func NewHTTPServer(
	addr string,
	eng *engine.Engine,
	queries *query.QueryService,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *HTTPServer {
	s := &HTTPServer{
		engine:  eng,
		queries: queries,
		health:  health,
		metrics: metrics,
		log:     log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/initialize", s.handleInitialize).Methods(http.MethodPost)
	r.HandleFunc("/v1/stake", s.handleStake).Methods(http.MethodPost)
	r.HandleFunc("/v1/unstake", s.handleUnstake).Methods(http.MethodPost)
	r.HandleFunc("/v1/unstake/authorized", s.handleAuthorizedUnstake).Methods(http.MethodPost)
	r.HandleFunc("/v1/rewards", s.handleDepositRewards).Methods(http.MethodPost)
	r.HandleFunc("/v1/entitlement", s.handleSetEntitlement).Methods(http.MethodPost)
	r.HandleFunc("/v1/stake/{user}/{asset}", s.handleGetStakeInfo).Methods(http.MethodGet)
	r.HandleFunc("/v1/global", s.handleGetGlobal).Methods(http.MethodGet)
	r.HandleFunc("/v1/history/{user}", s.handleGetHistory).Methods(http.MethodGet)

	if health != nil {
		r.HandleFunc("/healthz", health.LivenessHandler).Methods(http.MethodGet)
		r.HandleFunc("/readyz", health.ReadinessHandler).Methods(http.MethodGet)
	}

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Router exposes the handler for tests.
func (s *HTTPServer) Router() http.Handler {
	return s.srv.Handler
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// --- operation handlers ---

type initializeRequest struct {
	Authority string `json:"authority"`
}

func (s *HTTPServer) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Authority == "" {
		s.writeError(w, http.StatusBadRequest, "empty authority")
		return
	}

	if err := s.engine.Initialize(r.Context(), req.Authority); err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"authority": req.Authority})
}

type stakeRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

func (s *HTTPServer) handleStake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if !s.decode(w, r, &req) {
		return
	}

	info, err := s.engine.Stake(r.Context(), req.User, req.Asset, req.Amount)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeStakeInfo(w, info)
}

func (s *HTTPServer) handleUnstake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if !s.decode(w, r, &req) {
		return
	}

	info, err := s.engine.Unstake(r.Context(), req.User, req.Asset, req.Amount)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeStakeInfo(w, info)
}

type authorizedUnstakeRequest struct {
	User       string `json:"user"`
	Asset      string `json:"asset"`
	Amount     uint64 `json:"amount"`
	BackendKey string `json:"backend_key"` // hex
	Signature  string `json:"signature"`   // hex
	Message    string `json:"message"`
}

func (s *HTTPServer) handleAuthorizedUnstake(w http.ResponseWriter, r *http.Request) {
	var req authorizedUnstakeRequest
	if !s.decode(w, r, &req) {
		return
	}

	backendKey, err := hex.DecodeString(req.BackendKey)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "backend_key is not valid hex")
		return
	}
	signature, err := hex.DecodeString(req.Signature)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "signature is not valid hex")
		return
	}

	info, err := s.engine.AuthorizedUnstake(
		r.Context(), req.User, req.Asset, req.Amount,
		backendKey, signature, []byte(req.Message),
	)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeStakeInfo(w, info)
}

type rewardsRequest struct {
	Authority string `json:"authority"`
	Asset     string `json:"asset"`
	Amount    uint64 `json:"amount"`
}

func (s *HTTPServer) handleDepositRewards(w http.ResponseWriter, r *http.Request) {
	var req rewardsRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.engine.DepositRewards(r.Context(), req.Authority, req.Asset, req.Amount); err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":  req.Asset,
		"amount": req.Amount,
	})
}

type entitlementRequest struct {
	Authority string `json:"authority"`
	User      string `json:"user"`
	Asset     string `json:"asset"`
	Balance   uint64 `json:"balance"`
}

func (s *HTTPServer) handleSetEntitlement(w http.ResponseWriter, r *http.Request) {
	var req entitlementRequest
	if !s.decode(w, r, &req) {
		return
	}

	info, err := s.engine.SetEntitlement(r.Context(), req.Authority, req.User, req.Asset, req.Balance)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeStakeInfo(w, info)
}

// --- query handlers ---

func (s *HTTPServer) handleGetStakeInfo(w http.ResponseWriter, r *http.Request) {
	defer s.observeQuery("stake_info", time.Now())
	vars := mux.Vars(r)

	info, err := s.engine.StakeInfo(vars["user"], vars["asset"])
	if err != nil {
		s.countQuery("stake_info", "error")
		s.writeOpError(w, err)
		return
	}
	s.countQuery("stake_info", "ok")
	s.writeStakeInfo(w, info)
}

func (s *HTTPServer) handleGetGlobal(w http.ResponseWriter, r *http.Request) {
	defer s.observeQuery("global", time.Now())

	global, err := s.engine.Global()
	if err != nil {
		s.countQuery("global", "error")
		s.writeOpError(w, err)
		return
	}
	s.countQuery("global", "ok")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"authority":    global.Authority,
		"total_staked": global.TotalStaked,
	})
}

func (s *HTTPServer) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	defer s.observeQuery("history", time.Now())

	if s.queries == nil {
		s.writeError(w, http.StatusNotImplemented, "operation history not available")
		return
	}

	user := mux.Vars(r)["user"]
	var asset *string
	if a := r.URL.Query().Get("asset"); a != "" {
		asset = &a
	}

	entries, err := s.queries.GetOperationHistory(r.Context(), user, asset, 100, nil)
	if err != nil && err != sql.ErrNoRows {
		s.countQuery("history", "error")
		s.writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	s.countQuery("history", "ok")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":       user,
		"operations": entries,
	})
}

// --- helpers ---

func (s *HTTPServer) observeQuery(endpoint string, start time.Time) {
	if s.metrics != nil {
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func (s *HTTPServer) countQuery(endpoint, status string) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	}
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func (s *HTTPServer) writeStakeInfo(w http.ResponseWriter, info ledger.StakeInfo) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":            info.User,
		"asset":           info.Asset,
		"total_staked":    info.TotalStaked,
		"in_game_balance": info.InGameBalance,
		"last_update":     info.LastUpdate,
	})
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeOpError maps engine errors onto HTTP statuses.
func (s *HTTPServer) writeOpError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, ledger.ErrAlreadyInitialized):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrNotInitialized):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrNoStakeFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInsufficientBalance),
		errors.Is(err, custody.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrUnauthorized),
		errors.Is(err, authz.ErrUntrustedBackend),
		errors.Is(err, authz.ErrInvalidSignature),
		errors.Is(err, authz.ErrApprovalMismatch),
		errors.Is(err, authz.ErrMalformedApproval):
		status = http.StatusForbidden
	case errors.Is(err, authz.ErrStaleApproval),
		errors.Is(err, authz.ErrReplayedApproval):
		status = http.StatusConflict
	case errors.Is(err, custody.ErrUnknownAsset):
		status = http.StatusNotFound
	}

	s.log.Debug().Err(err).Int("status", status).Msg("operation rejected")
	s.writeError(w, status, err.Error())
}
