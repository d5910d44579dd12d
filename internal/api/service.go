// Package api provides the HTTP handlers that expose the rebalance engine.
//
// Handlers decode requests, take the authenticated principal from the
// request context, call exactly one engine operation, and map classified
// engine errors onto HTTP status codes.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xliquidity/rebalance-engine/internal/auth"
	"github.com/xliquidity/rebalance-engine/internal/engine"
	"github.com/xliquidity/rebalance-engine/internal/model"
	"github.com/xliquidity/rebalance-engine/internal/modelref"
	"github.com/xliquidity/rebalance-engine/internal/risk"
)

// Service serves the engine over HTTP.
type Service struct {
	eng  *engine.Engine
	gate AccessGate
}

// NewService creates a new HTTP service. A nil gate allows every read.
func NewService(eng *engine.Engine, gate AccessGate) *Service {
	if gate == nil {
		gate = AllowAll{}
	}
	return &Service{eng: eng, gate: gate}
}

// Routes registers the engine endpoints on r. Mount under /api/v1.
func (s *Service) Routes(r chi.Router) {
	r.Post("/config", s.InitConfig)
	r.Get("/config", s.GetConfig)

	r.Post("/positions", s.CreatePosition)
	r.Get("/positions/{owner}", s.ListPositions)

	r.Route("/positions/{owner}/{index}", func(r chi.Router) {
		r.With(s.gated).Get("/", s.GetPosition)
		r.Patch("/", s.UpdateSettings)

		r.Post("/decisions", s.CreateDecision)
		r.Get("/decisions", s.ListDecisions)
		r.With(s.gated).Get("/decisions/{decision}", s.GetDecision)
		r.Post("/decisions/{decision}/approve", s.Approve)
		r.Post("/decisions/{decision}/execute", s.Execute)

		r.Post("/fees/accrue", s.Accrue)
		r.Post("/fees/collect", s.CollectFees)
		r.Get("/payouts", s.ListPayouts)
	})
}

// --- Request/Response types ---

// InitConfigRequest is the JSON body for POST /config. Unset booleans
// default to true; an empty interval defaults to one hour.
type InitConfigRequest struct {
	FeeRecipient         string          `json:"fee_recipient"`
	PerformanceFeeBps    uint16          `json:"performance_fee_bps"`
	ProtocolFeeBps       uint16          `json:"protocol_fee_bps"`
	MinPayment           decimal.Decimal `json:"min_payment"`
	AuditLogEnabled      *bool           `json:"audit_log_enabled"`
	GlobalPositionCap    decimal.Decimal `json:"global_position_cap"`
	GlobalTradeCap       decimal.Decimal `json:"global_trade_cap"`
	MinRebalanceInterval string          `json:"min_rebalance_interval"` // e.g. "1h"
	MaxSlippageBps       uint16          `json:"max_slippage_bps"`
	ApproverMayBeOwner   *bool           `json:"approver_may_be_owner"`
}

// CreatePositionRequest is the JSON body for POST /positions.
type CreatePositionRequest struct {
	Owner           string          `json:"owner"`
	Index           uint8           `json:"position_index"`
	TokenA          string          `json:"token_a"`
	TokenB          string          `json:"token_b"`
	VaultA          string          `json:"token_a_vault"`
	VaultB          string          `json:"token_b_vault"`
	Pool            string          `json:"pool"`
	Dex             string          `json:"dex"` // empty → raydium
	TickLower       int32           `json:"tick_lower"`
	TickUpper       int32           `json:"tick_upper"`
	PriceLower      decimal.Decimal `json:"price_lower"`
	PriceUpper      decimal.Decimal `json:"price_upper"`
	MaxPositionSize decimal.Decimal `json:"max_position_size"`
	MaxSingleTrade  decimal.Decimal `json:"max_single_trade"`
}

// UpdateSettingsRequest is the JSON body for PATCH /positions/{owner}/{index}.
type UpdateSettingsRequest struct {
	Status        *model.PositionStatus `json:"status"`
	AutoRebalance *bool                 `json:"auto_rebalance_enabled"`
}

// CreateDecisionRequest is the JSON body for POST .../decisions.
type CreateDecisionRequest struct {
	Index         uint32          `json:"decision_index"`
	NewTickLower  int32           `json:"new_tick_lower"`
	NewTickUpper  int32           `json:"new_tick_upper"`
	NewPriceLower decimal.Decimal `json:"new_price_lower"`
	NewPriceUpper decimal.Decimal `json:"new_price_upper"`
	ModelVersion  string          `json:"model_version"`
	ModelHash     string          `json:"model_hash"` // 32 bytes hex
	Confidence    uint16          `json:"confidence"`
	Sentiment     uint16          `json:"sentiment"`
	Volatility    uint16          `json:"volatility"`
	WhaleActivity uint16          `json:"whale_activity"`
	Reason        string          `json:"reason"`
}

// ExecuteRequest is the JSON body for POST .../execute.
type ExecuteRequest struct {
	SlippageBps uint16 `json:"slippage_bps"`
}

// ExecuteResponse is returned from POST .../execute.
type ExecuteResponse struct {
	Position *model.LiquidityPosition `json:"position"`
	Decision *model.RebalanceDecision `json:"decision"`
}

// AccrueRequest is the JSON body for POST .../fees/accrue.
type AccrueRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// --- HTTP Handlers ---

// InitConfig handles POST /api/v1/config
func (s *Service) InitConfig(w http.ResponseWriter, r *http.Request) {
	var req InitConfigRequest
	if !decode(w, r, &req) {
		return
	}

	interval := engine.DefaultMinRebalanceInterval
	if req.MinRebalanceInterval != "" {
		d, err := time.ParseDuration(req.MinRebalanceInterval)
		if err != nil {
			writeError(w, "invalid min_rebalance_interval", http.StatusBadRequest)
			return
		}
		interval = d
	}

	cfg, err := s.eng.Protocol.Init(r.Context(), auth.FromContext(r.Context()), engine.ProtocolParams{
		FeeRecipient:         req.FeeRecipient,
		PerformanceFeeBps:    req.PerformanceFeeBps,
		ProtocolFeeBps:       req.ProtocolFeeBps,
		MinPayment:           req.MinPayment,
		AuditLogEnabled:      boolOr(req.AuditLogEnabled, true),
		GlobalPositionCap:    decimalOr(req.GlobalPositionCap, engine.DefaultGlobalPositionCap),
		GlobalTradeCap:       decimalOr(req.GlobalTradeCap, engine.DefaultGlobalTradeCap),
		MinRebalanceInterval: interval,
		MaxSlippageBps:       req.MaxSlippageBps,
		ApproverMayBeOwner:   boolOr(req.ApproverMayBeOwner, true),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

// GetConfig handles GET /api/v1/config
func (s *Service) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.eng.Protocol.Get(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// CreatePosition handles POST /api/v1/positions
func (s *Service) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req CreatePositionRequest
	if !decode(w, r, &req) {
		return
	}

	pos, err := s.eng.Positions.CreatePosition(r.Context(), auth.FromContext(r.Context()), engine.PositionParams{
		Owner:           req.Owner,
		Index:           req.Index,
		TokenA:          req.TokenA,
		TokenB:          req.TokenB,
		VaultA:          req.VaultA,
		VaultB:          req.VaultB,
		Pool:            req.Pool,
		Dex:             req.Dex,
		TickLower:       req.TickLower,
		TickUpper:       req.TickUpper,
		PriceLower:      req.PriceLower,
		PriceUpper:      req.PriceUpper,
		MaxPositionSize: req.MaxPositionSize,
		MaxSingleTrade:  req.MaxSingleTrade,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

// ListPositions handles GET /api/v1/positions/{owner}
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.eng.Positions.ListPositions(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if positions == nil {
		positions = []model.LiquidityPosition{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetPosition handles GET /api/v1/positions/{owner}/{index}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	key, ok := positionKey(w, r)
	if !ok {
		return
	}
	pos, err := s.eng.Positions.GetPosition(r.Context(), key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// UpdateSettings handles PATCH /api/v1/positions/{owner}/{index}
func (s *Service) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	key, ok := positionKey(w, r)
	if !ok {
		return
	}
	var req UpdateSettingsRequest
	if !decode(w, r, &req) {
		return
	}
	pos, err := s.eng.Positions.UpdateSettings(r.Context(), auth.FromContext(r.Context()), key, engine.SettingsUpdate{
		Status:        req.Status,
		AutoRebalance: req.AutoRebalance,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// CreateDecision handles POST /api/v1/positions/{owner}/{index}/decisions
func (s *Service) CreateDecision(w http.ResponseWriter, r *http.Request) {
	key, ok := positionKey(w, r)
	if !ok {
		return
	}
	var req CreateDecisionRequest
	if !decode(w, r, &req) {
		return
	}
	hash, err := modelref.ParseHash(req.ModelHash)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	dec, err := s.eng.Decisions.CreateDecision(r.Context(), auth.FromContext(r.Context()), engine.DecisionParams{
		Position:      key,
		Index:         req.Index,
		NewTickLower:  req.NewTickLower,
		NewTickUpper:  req.NewTickUpper,
		NewPriceLower: req.NewPriceLower,
		NewPriceUpper: req.NewPriceUpper,
		ModelVersion:  req.ModelVersion,
		ModelHash:     hash,
		Scores: risk.Scores{
			Confidence:    req.Confidence,
			Sentiment:     req.Sentiment,
			Volatility:    req.Volatility,
			WhaleActivity: req.WhaleActivity,
		},
		Reason: req.Reason,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dec)
}

// ListDecisions handles GET /api/v1/positions/{owner}/{index}/decisions
func (s *Service) ListDecisions(w http.ResponseWriter, r *http.Request) {
	key, ok := positionKey(w, r)
	if !ok {
		return
	}
	decisions, err := s.eng.Decisions.ListDecisions(r.Context(), key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if decisions == nil {
		decisions = []model.RebalanceDecision{}
	}
	writeJSON(w, http.StatusOK, decisions)
}

// GetDecision handles GET /api/v1/positions/{owner}/{index}/decisions/{decision}
func (s *Service) GetDecision(w http.ResponseWriter, r *http.Request) {
	key, ok := decisionKey(w, r)
	if !ok {
		return
	}
	dec, err := s.eng.Decisions.GetDecision(r.Context(), key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

// Approve handles POST .../decisions/{decision}/approve
func (s *Service) Approve(w http.ResponseWriter, r *http.Request) {
	key, ok := decisionKey(w, r)
	if !ok {
		return
	}
	dec, err := s.eng.Approvals.Approve(r.Context(), auth.FromContext(r.Context()), key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

// Execute handles POST .../decisions/{decision}/execute
func (s *Service) Execute(w http.ResponseWriter, r *http.Request) {
	key, ok := decisionKey(w, r)
	if !ok {
		return
	}
	var req ExecuteRequest
	if !decode(w, r, &req) {
		return
	}
	pos, dec, err := s.eng.Executor.Execute(r.Context(), auth.FromContext(r.Context()), key.Position, key, req.SlippageBps)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ExecuteResponse{Position: pos, Decision: dec})
}

// Accrue handles POST /api/v1/positions/{owner}/{index}/fees/accrue
func (s *Service) Accrue(w http.ResponseWriter, r *http.Request) {
	key, ok := positionKey(w, r)
	if !ok {
		return
	}
	var req AccrueRequest
	if !decode(w, r, &req) {
		return
	}
	pos, err := s.eng.Fees.Accrue(r.Context(), auth.FromContext(r.Context()), key, req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// CollectFees handles POST /api/v1/positions/{owner}/{index}/fees/collect
func (s *Service) CollectFees(w http.ResponseWriter, r *http.Request) {
	key, ok := positionKey(w, r)
	if !ok {
		return
	}
	dist, err := s.eng.Fees.CollectFees(r.Context(), auth.FromContext(r.Context()), key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

// ListPayouts handles GET /api/v1/positions/{owner}/{index}/payouts
func (s *Service) ListPayouts(w http.ResponseWriter, r *http.Request) {
	key, ok := positionKey(w, r)
	if !ok {
		return
	}
	payouts, err := s.eng.Fees.ListPayouts(r.Context(), key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if payouts == nil {
		payouts = []model.FeePayout{}
	}
	writeJSON(w, http.StatusOK, payouts)
}

// --- helpers ---

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func positionKey(w http.ResponseWriter, r *http.Request) (model.PositionKey, bool) {
	idx, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 8)
	if err != nil {
		writeError(w, "invalid position index", http.StatusBadRequest)
		return model.PositionKey{}, false
	}
	return model.PositionKey{Owner: chi.URLParam(r, "owner"), Index: uint8(idx)}, true
}

func decisionKey(w http.ResponseWriter, r *http.Request) (model.DecisionKey, bool) {
	pos, ok := positionKey(w, r)
	if !ok {
		return model.DecisionKey{}, false
	}
	idx, err := strconv.ParseUint(chi.URLParam(r, "decision"), 10, 32)
	if err != nil {
		writeError(w, "invalid decision index", http.StatusBadRequest)
		return model.DecisionKey{}, false
	}
	return model.DecisionKey{Position: pos, Index: uint32(idx)}, true
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// decimalOr treats an omitted or zero cap as unset.
func decimalOr(v, def decimal.Decimal) decimal.Decimal {
	if v.IsZero() {
		return def
	}
	return v
}

// StatusFor maps an engine error to an HTTP status code.
func StatusFor(err error) int {
	e, ok := engine.AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Class {
	case engine.ClassValidation:
		return http.StatusBadRequest
	case engine.ClassThrottle:
		return http.StatusTooManyRequests
	case engine.ClassAuth:
		if e == engine.ErrUnauthenticated {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	default:
		if errors.Is(err, engine.ErrReferencedPositionMissing) ||
			errors.Is(err, engine.ErrDecisionNotFound) ||
			errors.Is(err, engine.ErrConfigMissing) {
			return http.StatusNotFound
		}
		return http.StatusConflict
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  engine.CodeOf(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
