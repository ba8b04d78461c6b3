package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/show-association/backend/internal/checkout"
	"github.com/PortNumber53/show-association/backend/internal/middleware"
	"github.com/PortNumber53/show-association/backend/internal/store"
	"github.com/PortNumber53/show-association/backend/internal/validate"
)

const (
	maxBodyBytes     = 1 << 20
	genericErrorText = "something went wrong, please try again"
	providerText     = "payment provider is unavailable, please try again"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[http] failed to encode response: %v", err)
	}
}

func writeErrorText(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads a bounded JSON body into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "invalid JSON payload"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		writeErrorText(w, http.StatusBadRequest, msg)
		return false
	}
	return true
}

// decodeValid decodes the body and runs struct-tag validation on it.
func decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !decodeJSON(w, r, dst) {
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, r, err)
		return false
	}
	return true
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeErrorText(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

var notFoundErrors = []error{
	store.ErrMemberNotFound,
	store.ErrMembershipTypeNotFound,
	store.ErrShowNotFound,
	store.ErrShowClassNotFound,
	store.ErrSponsorNotFound,
	store.ErrFeeTypeNotFound,
	store.ErrEntryNotFound,
	store.ErrPaymentNotFound,
	store.ErrJobNotFound,
}

// writeError maps domain errors to sanitized HTTP responses. Provider messages
// are only shown to admins; unexpected errors are logged and replaced with a
// generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *validate.Error
	var pErr *checkout.ProviderError
	var fErr *checkout.FulfillmentError

	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: vErr.Message, Field: vErr.Field})
		return
	case errors.Is(err, checkout.ErrEntriesUnavailable):
		writeErrorText(w, http.StatusConflict, checkout.ErrEntriesUnavailable.Error())
		return
	case errors.Is(err, checkout.ErrRefundNotAllowed):
		writeErrorText(w, http.StatusConflict, checkout.ErrRefundNotAllowed.Error())
		return
	case errors.Is(err, checkout.ErrMissingPaymentIntent):
		writeErrorText(w, http.StatusConflict, checkout.ErrMissingPaymentIntent.Error())
		return
	case errors.Is(err, store.ErrEntryNotEditable):
		writeErrorText(w, http.StatusConflict, store.ErrEntryNotEditable.Error())
		return
	case errors.Is(err, store.ErrCatalogConflict):
		writeErrorText(w, http.StatusConflict, store.ErrCatalogConflict.Error())
		return
	case errors.Is(err, store.ErrJobNotCancellable):
		writeErrorText(w, http.StatusConflict, store.ErrJobNotCancellable.Error())
		return
	case errors.As(err, &pErr):
		log.Printf("[http] %s %s: %v", r.Method, r.URL.Path, err)
		msg := providerText
		if m, ok := middleware.MemberFromContext(r.Context()); ok && m.IsAdmin() {
			msg = pErr.Error()
		}
		writeErrorText(w, http.StatusBadGateway, msg)
		return
	case errors.As(err, &fErr):
		log.Printf("[http] %s %s: %v", r.Method, r.URL.Path, err)
		writeErrorText(w, http.StatusInternalServerError, genericErrorText)
		return
	}

	for _, nf := range notFoundErrors {
		if errors.Is(err, nf) {
			writeErrorText(w, http.StatusNotFound, nf.Error())
			return
		}
	}

	log.Printf("[http] %s %s: %v", r.Method, r.URL.Path, err)
	writeErrorText(w, http.StatusInternalServerError, genericErrorText)
}

func currentMember(w http.ResponseWriter, r *http.Request) (int64, bool) {
	m, ok := middleware.MemberFromContext(r.Context())
	if !ok {
		writeErrorText(w, http.StatusUnauthorized, "unauthorized")
		return 0, false
	}
	return m.ID, true
}
