package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/franciscozunigap/sofinance/internal/auth"
	"github.com/franciscozunigap/sofinance/internal/balance"
	"github.com/franciscozunigap/sofinance/internal/core"
	"github.com/franciscozunigap/sofinance/internal/log"
	"github.com/franciscozunigap/sofinance/internal/offline"
)

const defaultHistoryLimit = 50

// registerRequest keeps the amount as the raw client string so separator
// normalization happens in one place.
type registerRequest struct {
	Kind        core.Kind `json:"type"`
	Description string    `json:"description"`
	Amount      string    `json:"amount"`
	Category    string    `json:"category"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	input := balance.RegisterInput{
		Kind:        req.Kind,
		Description: req.Description,
		Amount:      amount,
		Category:    req.Category,
	}

	result := s.balance.Register(r.Context(), input)
	if result.Success {
		respondJSON(w, http.StatusCreated, result.Registration)
		return
	}

	// A retryable failure is parked in the offline queue so a later sweep
	// can complete the write.
	if result.Error != nil && result.Error.Retryable && s.queue != nil {
		u, _ := auth.FromContext(r.Context())
		pending := balance.PendingRegistration{UserID: u.ID, Input: input}
		if op, err := s.queue.Save(r.Context(), offline.OpRegisterBalance, pending); err != nil {
			s.logger.ErrorContext(r.Context(), "failed to enqueue registration",
				log.FieldError, err)
		} else {
			s.logger.InfoContext(r.Context(), "registration queued for replay",
				log.FieldOpID, op.ID)
			respondJSON(w, http.StatusAccepted, errorResponse{
				Error:     result.Error.UserMessage,
				Retryable: true,
				Queued:    true,
			})
			return
		}
	}

	if result.Error != nil {
		respondClassified(w, *result.Error)
		return
	}
	respondError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleCurrentBalance(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.FromContext(r.Context())
	bal := s.balance.CurrentBalance(r.Context(), u.ID)
	respondJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": bal})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.FromContext(r.Context())

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	history, err := s.balance.History(r.Context(), u.ID, limit)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "history read failed",
			log.FieldUserID, u.ID, log.FieldError, err)
		respondError(w, http.StatusServiceUnavailable, "history unavailable")
		return
	}
	respondJSON(w, http.StatusOK, history)
}

func (s *Server) handleMonthStats(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.FromContext(r.Context())

	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid year")
		return
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 1 || month > 12 {
		respondError(w, http.StatusBadRequest, "invalid month")
		return
	}

	stats, found, err := s.balance.MonthStats(r.Context(), u.ID, year, month)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "stats read failed",
			log.FieldUserID, u.ID, log.FieldYear, year, log.FieldMonth, month,
			log.FieldError, err)
		respondError(w, http.StatusServiceUnavailable, "stats unavailable")
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "no stats for that month")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.FromContext(r.Context())

	summary, err := s.balance.CurrentSummary(r.Context(), u.ID)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "summary read failed",
			log.FieldUserID, u.ID, log.FieldError, err)
		respondError(w, http.StatusServiceUnavailable, "summary unavailable")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

type validateRecordsRequest struct {
	Records []core.BalanceRecord `json:"records"`
	Delta   decimal.Decimal      `json:"delta"`
}

type validateRecordsResponse struct {
	IsValid   bool                `json:"is_valid"`
	Message   string              `json:"message,omitempty"`
	Suggested *core.BalanceRecord `json:"suggested,omitempty"`
}

func (s *Server) handleValidateRecords(w http.ResponseWriter, r *http.Request) {
	var req validateRecordsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result := core.ValidateRecords(req.Records, req.Delta)
	resp := validateRecordsResponse{
		IsValid: result.IsValid,
		Message: result.Message,
	}
	if !result.IsValid && !req.Delta.IsZero() {
		suggested := core.SuggestedRecord(req.Delta.Sub(core.NetTotal(req.Records)))
		resp.Suggested = &suggested
	}
	respondJSON(w, http.StatusOK, resp)
}
