package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"delegated-billing/internal/domain"
	"delegated-billing/internal/domain/model"
	"delegated-billing/internal/infra/metrics"
	"delegated-billing/internal/usecase"
)

type grantCreateRequest struct {
	OwnerAccount  string `json:"owner_account"`
	SourceAccount string `json:"source_account"`
	Periods       int    `json:"periods"`
	PeriodAmount  int64  `json:"period_amount"`
}

type grantCreateResponse struct {
	SubscriptionID string `json:"subscription_id"`
	DelegatePublic string `json:"delegate_public"`
}

// subscriptionView is the external shape of a subscription record. The
// delegate secret has no field here on purpose: it must never cross the API
// boundary.
type subscriptionView struct {
	ID                 string                `json:"id"`
	OwnerAccount       string                `json:"owner_account"`
	OwnerSourceAccount string                `json:"owner_source_account"`
	DelegatePublic     string                `json:"delegate_public"`
	PeriodsRemaining   int                   `json:"periods_remaining"`
	PeriodAmount       int64                 `json:"period_amount"`
	ApprovedCeiling    int64                 `json:"approved_ceiling"`
	CreatedAt          time.Time             `json:"created_at"`
	NextChargeAt       *time.Time            `json:"next_charge_at,omitempty"`
	Status             string                `json:"status"`
	ChargeHistory      []model.ChargeAttempt `json:"charge_history"`
}

func viewOf(s *model.Subscription) subscriptionView {
	v := subscriptionView{
		ID:                 s.ID,
		OwnerAccount:       s.OwnerAccount,
		OwnerSourceAccount: s.OwnerSourceAccount,
		DelegatePublic:     s.DelegatePublic,
		PeriodsRemaining:   s.PeriodsRemaining,
		PeriodAmount:       s.PeriodAmount,
		ApprovedCeiling:    s.ApprovedCeiling,
		CreatedAt:          s.CreatedAt,
		Status:             string(s.Status),
		ChargeHistory:      s.ChargeHistory,
	}
	if !s.NextChargeAt.IsZero() {
		t := s.NextChargeAt
		v.NextChargeAt = &t
	}
	if v.ChargeHistory == nil {
		v.ChargeHistory = []model.ChargeAttempt{}
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var code int
	switch {
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotDue), errors.Is(err, domain.ErrAlreadyInProgress):
		code = http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		code = http.StatusServiceUnavailable
	default:
		code = http.StatusBadGateway
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func grantCreateHandler(grantUC usecase.GrantUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req grantCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		sub, delegatePub, err := grantUC.Issue(r.Context(), req.OwnerAccount, req.SourceAccount, req.PeriodAmount, req.Periods)
		if err != nil {
			writeError(w, err)
			return
		}
		metrics.IncGrantsIssued()
		writeJSON(w, http.StatusCreated, grantCreateResponse{
			SubscriptionID: sub.ID,
			DelegatePublic: delegatePub,
		})
	}
}

func grantActivateHandler(grantUC usecase.GrantUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sub, err := grantUC.Activate(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		metrics.IncGrantsActivated()
		writeJSON(w, http.StatusOK, viewOf(sub))
	}
}

func grantRevokeHandler(grantUC usecase.GrantUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sub, err := grantUC.Revoke(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(sub))
	}
}

func grantGetHandler(grantUC usecase.GrantUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sub, err := grantUC.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(sub))
	}
}

type chargeResponse struct {
	OK               bool       `json:"ok"`
	AmountCharged    int64      `json:"amount_charged,omitempty"`
	PeriodsRemaining int        `json:"periods_remaining"`
	NextChargeAt     *time.Time `json:"next_charge_at,omitempty"`
	TxRef            string     `json:"tx_ref,omitempty"`
	Reason           string     `json:"reason,omitempty"`
}

func chargeHandler(chargeUC usecase.ChargeUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		res, err := chargeUC.Charge(r.Context(), id, time.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		resp := chargeResponse{
			OK:               res.OK,
			AmountCharged:    res.AmountCharged,
			PeriodsRemaining: res.PeriodsRemaining,
			TxRef:            res.TxRef,
			Reason:           res.Reason,
		}
		if !res.NextChargeAt.IsZero() {
			t := res.NextChargeAt
			resp.NextChargeAt = &t
		}
		if res.OK {
			metrics.IncCharge("settled")
			writeJSON(w, http.StatusOK, resp)
			return
		}
		metrics.IncCharge("failed")
		if res.Reason == domain.ErrVerificationMismatch.Error() {
			metrics.IncVerificationMismatch()
		}
		// The attempt is recorded; the request itself succeeded.
		writeJSON(w, http.StatusOK, resp)
	}
}

func ceilingAuditHandler(grantUC usecase.GrantUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		audit, err := grantUC.VerifyCeiling(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, audit)
	}
}

func statsHandler(statsUC usecase.StatsUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := statsUC.Totals(r.Context())
		if err != nil {
			http.Error(w, "Failed to get totals", http.StatusInternalServerError)
			return
		}
		metrics.SetSubscriptionsTotal(counts)
		writeJSON(w, http.StatusOK, counts)
	}
}
