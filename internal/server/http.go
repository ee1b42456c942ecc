package server

import (
	"StableVault/internal/engine"
	"StableVault/internal/ledger"
	"StableVault/internal/observability"
	"StableVault/internal/oracle"
	"StableVault/internal/query"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultHistoryLimit = 50

// Server is the HTTP/JSON API over the engine and query service.
type Server struct {
	eng     *engine.Engine
	queries *query.Service
	health  *observability.HealthChecker
	log     zerolog.Logger
	metrics *observability.Metrics
}

func New(eng *engine.Engine, queries *query.Service, health *observability.HealthChecker, log zerolog.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		eng:     eng,
		queries: queries,
		health:  health,
		log:     log,
		metrics: metrics,
	}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.instrument)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/operations", func(r chi.Router) {
			r.Post("/deposit", s.handleDeposit)
			r.Post("/mint", s.handleMint)
			r.Post("/deposit-and-mint", s.handleDepositAndMint)
			r.Post("/redeem", s.handleRedeem)
			r.Post("/burn", s.handleBurn)
			r.Post("/redeem-for-debt", s.handleRedeemForDebt)
			r.Post("/liquidate", s.handleLiquidate)
			r.Get("/", s.handleRecentOperations)
		})
		r.Route("/accounts/{userID}", func(r chi.Router) {
			r.Get("/", s.handleAccount)
			r.Get("/health-factor", s.handleHealthFactor)
			r.Get("/collateral/{asset}", s.handleCollateralBalance)
			r.Get("/operations", s.handleAccountOperations)
		})
		r.Get("/constants", s.handleConstants)
	})

	return r
}

// --- mutating handlers ---

type collateralRequest struct {
	UserID string `json:"user_id"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type debtRequest struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

type combinedRequest struct {
	UserID           string `json:"user_id"`
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateral_amount"`
	DebtAmount       string `json:"debt_amount"`
}

type liquidateRequest struct {
	LiquidatorID string `json:"liquidator_id"`
	UserID       string `json:"user_id"`
	Asset        string `json:"asset"`
	DebtToCover  string `json:"debt_to_cover"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	user, amount, ok := s.decodeUserAmount(w, r, &req, func() (string, string) { return req.UserID, req.Amount })
	if !ok {
		return
	}
	s.respondOp(w, s.eng.DepositCollateral(user, req.Asset, amount))
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req debtRequest
	user, amount, ok := s.decodeUserAmount(w, r, &req, func() (string, string) { return req.UserID, req.Amount })
	if !ok {
		return
	}
	s.respondOp(w, s.eng.MintDebt(user, amount))
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	user, amount, ok := s.decodeUserAmount(w, r, &req, func() (string, string) { return req.UserID, req.Amount })
	if !ok {
		return
	}
	s.respondOp(w, s.eng.RedeemCollateral(user, req.Asset, amount))
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req debtRequest
	user, amount, ok := s.decodeUserAmount(w, r, &req, func() (string, string) { return req.UserID, req.Amount })
	if !ok {
		return
	}
	s.respondOp(w, s.eng.BurnDebt(user, amount))
}

func (s *Server) handleDepositAndMint(w http.ResponseWriter, r *http.Request) {
	user, asset, collateral, debt, ok := s.decodeCombined(w, r)
	if !ok {
		return
	}
	s.respondOp(w, s.eng.DepositCollateralAndMintDebt(user, asset, collateral, debt))
}

func (s *Server) handleRedeemForDebt(w http.ResponseWriter, r *http.Request) {
	user, asset, collateral, debt, ok := s.decodeCombined(w, r)
	if !ok {
		return
	}
	s.respondOp(w, s.eng.RedeemCollateralForDebt(user, asset, collateral, debt))
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	liquidator, err := uuid.Parse(req.LiquidatorID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("liquidator_id: %v", err))
		return
	}
	user, err := uuid.Parse(req.UserID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("user_id: %v", err))
		return
	}
	debtToCover, err := ParseAmount(req.DebtToCover)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.respondOp(w, s.eng.Liquidate(liquidator, user, req.Asset, debtToCover))
}

// --- read handlers ---

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := s.pathUser(w, r)
	if !ok {
		return
	}
	resp, err := s.queries.GetAccount(user)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthFactor(w http.ResponseWriter, r *http.Request) {
	user, ok := s.pathUser(w, r)
	if !ok {
		return
	}
	factor, err := s.eng.HealthFactor(user)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"health_factor": factor.String()})
}

func (s *Server) handleCollateralBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := s.pathUser(w, r)
	if !ok {
		return
	}
	asset := chi.URLParam(r, "asset")
	balance := s.eng.CollateralBalance(user, asset)
	s.writeJSON(w, http.StatusOK, map[string]string{
		"asset":   asset,
		"balance": balance.String(),
		"amount":  FormatAmount(balance),
	})
}

func (s *Server) handleAccountOperations(w http.ResponseWriter, r *http.Request) {
	user, ok := s.pathUser(w, r)
	if !ok {
		return
	}
	ops, err := s.queries.GetOperations(r.Context(), user, queryLimit(r))
	if err != nil {
		s.log.Error().Err(err).Msg("operation history query failed")
		s.writeError(w, http.StatusInternalServerError, "internal_error", "operation history unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"operations": ops})
}

func (s *Server) handleRecentOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := s.queries.GetRecentOperations(r.Context(), queryLimit(r))
	if err != nil {
		s.log.Error().Err(err).Msg("operation history query failed")
		s.writeError(w, http.StatusInternalServerError, "internal_error", "operation history unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"operations": ops})
}

func (s *Server) handleConstants(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.queries.Constants())
}

// --- request plumbing ---

func (s *Server) decodeUserAmount(w http.ResponseWriter, r *http.Request, req interface{}, fields func() (userID, amount string)) (uuid.UUID, *big.Int, bool) {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return uuid.Nil, nil, false
	}
	userID, amountStr := fields()
	user, err := uuid.Parse(userID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("user_id: %v", err))
		return uuid.Nil, nil, false
	}
	amount, err := ParseAmount(amountStr)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return uuid.Nil, nil, false
	}
	return user, amount, true
}

func (s *Server) decodeCombined(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, *big.Int, *big.Int, bool) {
	var req combinedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return uuid.Nil, "", nil, nil, false
	}
	user, err := uuid.Parse(req.UserID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("user_id: %v", err))
		return uuid.Nil, "", nil, nil, false
	}
	collateral, err := ParseAmount(req.CollateralAmount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return uuid.Nil, "", nil, nil, false
	}
	debt, err := ParseAmount(req.DebtAmount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return uuid.Nil, "", nil, nil, false
	}
	return user, req.Asset, collateral, debt, true
}

func (s *Server) pathUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	user, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("user id: %v", err))
		return uuid.Nil, false
	}
	return user, true
}

func queryLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return defaultHistoryLimit
}

// --- response plumbing ---

func (s *Server) respondOp(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "committed"})
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var hfErr *engine.BreaksHealthFactorError
	switch {
	case errors.As(err, &hfErr):
		s.writeError(w, http.StatusConflict, "health_factor_violation", err.Error())
	case errors.Is(err, engine.ErrHealthFactorOk):
		s.writeError(w, http.StatusConflict, "target_healthy", err.Error())
	case errors.Is(err, engine.ErrHealthFactorNotImproved):
		s.writeError(w, http.StatusConflict, "liquidation_ineffective", err.Error())
	case errors.Is(err, ledger.ErrNonPositiveAmount), errors.Is(err, ledger.ErrUnsupportedAsset):
		s.writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, ledger.ErrInsufficientCollateral), errors.Is(err, ledger.ErrInsufficientDebt):
		s.writeError(w, http.StatusUnprocessableEntity, "insufficient_balance", err.Error())
	case errors.Is(err, engine.ErrTransferFailed), errors.Is(err, engine.ErrMintFailed), errors.Is(err, engine.ErrBurnFailed):
		s.writeError(w, http.StatusUnprocessableEntity, "transfer_failure", err.Error())
	case errors.Is(err, oracle.ErrStalePrice), errors.Is(err, oracle.ErrNoPrice):
		s.writeError(w, http.StatusServiceUnavailable, "stale_price", err.Error())
	case errors.Is(err, engine.ErrBusy):
		s.writeError(w, http.StatusServiceUnavailable, "busy", err.Error())
	default:
		s.log.Error().Err(err).Msg("unexpected engine error")
		s.writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("write response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, desc string) {
	s.writeJSON(w, status, map[string]string{"error": code, "error_description": desc})
}

// instrument records request counts and latency per route.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		s.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
