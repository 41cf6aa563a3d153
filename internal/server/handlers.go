package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sabtedu/counterd/internal/auth"
	"github.com/sabtedu/counterd/internal/counter"
)

type handlers struct {
	db         Pinger
	service    *counter.Service
	years      counter.YearProvider
	apiKeyHash string
	verified   *auth.VerifyCache
	logger     *slog.Logger
}

// allocationRequest is the body of POST /v1/allocations. The caller supplies
// the year code it believes is current; the server rejects divergence from
// the authoritative provider so stale clients cannot mint counters for the
// wrong year.
type allocationRequest struct {
	NationalID string `json:"national_id"`
	Gender     int    `json:"gender"`
	YearCode   string `json:"year_code"`
}

type allocationResponse struct {
	Counter string `json:"counter"`
}

func (h *handlers) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, counter.NewError(
			counter.CodeInvalidNationalID,
			"بدنهٔ درخواست نامعتبر است.",
			nil,
		))
		return
	}

	if !counter.ValidYearCode(req.YearCode) {
		writeError(w, http.StatusBadRequest, counter.NewError(
			counter.CodeInvalidYearCode,
			"کد سال تحصیلی باید شامل دو رقم باشد.",
			map[string]string{"year_code": req.YearCode},
		))
		return
	}
	if authoritative := h.years.CurrentYearCode(); authoritative != req.YearCode {
		writeError(w, http.StatusBadRequest, counter.NewError(
			counter.CodeInvalidYearCode,
			"کد سال تحصیلی با منبع معتبر همخوانی ندارد.",
			map[string]string{"expected": authoritative, "received": req.YearCode},
		))
		return
	}

	minted, err := h.service.GetOrCreate(r.Context(), req.NationalID, req.Gender)
	if err != nil {
		svcErr := counter.AsError(err)
		if svcErr == nil {
			h.logger.Error("allocation failed", "error", err)
			svcErr = counter.NewError(counter.CodeDBConflict, "خطای داخلی سرویس.", nil)
		}
		writeError(w, statusFor(svcErr.Code), svcErr)
		return
	}
	writeJSON(w, http.StatusOK, allocationResponse{Counter: minted})
}

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAPIKey verifies the bearer token against the configured Argon2id
// hash. With no hash configured the check is disabled.
func (h *handlers) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.apiKeyHash == "" {
			next(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, counter.NewError(
				"E_UNAUTHORIZED", "کلید دسترسی ارائه نشده است.", nil))
			return
		}
		if h.verified.Seen(token) {
			next(w, r)
			return
		}
		valid, err := auth.VerifyKey(token, h.apiKeyHash)
		if err != nil || !valid {
			writeError(w, http.StatusUnauthorized, counter.NewError(
				"E_UNAUTHORIZED", "کلید دسترسی نامعتبر است.", nil))
			return
		}
		h.verified.Remember(token)
		next(w, r)
	}
}

func statusFor(code string) int {
	switch code {
	case counter.CodeInvalidNationalID, counter.CodeInvalidGender, counter.CodeInvalidYearCode:
		return http.StatusBadRequest
	case counter.CodeExhausted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the wire payload {code, message_fa, details?}.
func writeError(w http.ResponseWriter, status int, e *counter.Error) {
	writeJSON(w, status, e)
}
