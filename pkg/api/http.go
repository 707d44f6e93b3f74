package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	apperrors "github.com/chainsafe/liquid-stake/pkg/app/errors"
	apphttp "github.com/chainsafe/liquid-stake/pkg/app/http"
	"github.com/chainsafe/liquid-stake/pkg/auth"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
	"github.com/chainsafe/liquid-stake/pkg/saga"
)

const (
	maxBodySize      = 1 << 20
	defaultSagaLimit = 100
	// IdempotencyHeader carries the client chosen call ID.
	IdempotencyHeader = "Idempotency-Key"
)

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service  Service
	validate *validator.Validate
	logger   *zap.Logger
}

type createAccountRequest struct {
	Name asset.Name `json:"name" validate:"required,max=64"`
}

type supplyResponse struct {
	Code      string      `json:"code"`
	Supply    asset.Asset `json:"supply"`
	MaxSupply asset.Asset `json:"max_supply"`
	Issuer    asset.Name  `json:"issuer"`
}

type balanceResponse struct {
	Owner   asset.Name  `json:"owner"`
	Balance asset.Asset `json:"balance"`
}

type sagasResponse struct {
	Sagas []*saga.Saga `json:"sagas"`
}

// RegisterRoutes registers the ledger endpoints on the given chi router.
// Reads are public; writes pass through authn, which must store the caller
// in the request context.
func RegisterRoutes(r chi.Router, service Service, authn func(http.Handler) http.Handler, logger *zap.Logger) {
	h := &HTTP{
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stat/{code}", apphttp.HandleError(h.getSupply))
		r.Get("/accounts/{owner}/balances/{code}", apphttp.HandleError(h.getBalance))
		r.Get("/sagas", apphttp.HandleError(h.listSagas))
		r.Get("/sagas/{id}", apphttp.HandleError(h.getSaga))

		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Post("/actions/{action}", apphttp.HandleError(h.submitAction))
			r.Post("/notifications/base-transfer", apphttp.HandleError(h.notifyBaseTransfer))
			r.Post("/accounts", apphttp.HandleError(h.createAccount))
		})
	})
}

func callerFrom(r *http.Request) (ledger.Caller, error) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		return ledger.Caller{}, apperrors.UnAuthorizedError(nil, "caller not authenticated")
	}
	return caller, nil
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, apperrors.BadRequestError(err, "failed to read request")
	}
	return body, nil
}

func (h *HTTP) decode(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON")
	}
	if err := h.validate.Struct(v); err != nil {
		return apperrors.BadRequestError(err, err.Error())
	}
	return nil
}

func (h *HTTP) submitAction(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if !json.Valid(body) {
		return apperrors.BadRequestError(nil, "invalid JSON")
	}

	req := &ActionRequest{
		ID:     r.Header.Get(IdempotencyHeader),
		Action: chi.URLParam(r, "action"),
		Caller: caller,
		Args:   body,
	}
	if err := h.service.SubmitAction(r.Context(), req); err != nil {
		return toServiceError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *HTTP) notifyBaseTransfer(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	var tr BaseTransfer
	if err := h.decode(r, &tr); err != nil {
		return err
	}
	if err := h.service.NotifyBaseTransfer(r.Context(), caller, &tr); err != nil {
		return toServiceError(err)
	}
	w.WriteHeader(http.StatusAccepted)
	return nil
}

func (h *HTTP) createAccount(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	var req createAccountRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	if err := h.service.CreateAccount(r.Context(), caller, req.Name); err != nil {
		return toServiceError(err)
	}
	w.WriteHeader(http.StatusCreated)
	return nil
}

func (h *HTTP) getSupply(w http.ResponseWriter, r *http.Request) error {
	code := chi.URLParam(r, "code")
	sup, err := h.service.GetSupply(r.Context(), code)
	if err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, supplyResponse{
		Code:      code,
		Supply:    sup.Supply,
		MaxSupply: sup.MaxSupply,
		Issuer:    sup.Issuer,
	})
	return nil
}

func (h *HTTP) getBalance(w http.ResponseWriter, r *http.Request) error {
	owner := asset.Name(chi.URLParam(r, "owner"))
	bal, err := h.service.GetBalance(r.Context(), owner, chi.URLParam(r, "code"))
	if err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, balanceResponse{Owner: owner, Balance: bal})
	return nil
}

func (h *HTTP) getSaga(w http.ResponseWriter, r *http.Request) error {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return apperrors.BadRequestError(err, "invalid saga id")
	}
	s, err := h.service.GetSaga(r.Context(), id)
	if err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, s)
	return nil
}

func (h *HTTP) listSagas(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	f := saga.Filter{Kind: saga.Kind(q.Get("kind")), Limit: defaultSagaLimit}
	for _, st := range q["state"] {
		f.States = append(f.States, saga.State(st))
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return apperrors.BadRequestError(err, "invalid limit")
		}
		f.Limit = limit
	}

	sagas, err := h.service.ListSagas(r.Context(), f)
	if err != nil {
		return toServiceError(err)
	}
	if sagas == nil {
		sagas = []*saga.Saga{}
	}
	h.writeJSON(w, http.StatusOK, sagasResponse{Sagas: sagas})
	return nil
}

func (h *HTTP) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("Failed to encode response", zap.Error(err))
	}
}
