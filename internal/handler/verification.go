package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// VerificationService is the slice of the verification service this handler
// uses.
type VerificationService interface {
	Send(ctx context.Context, email string) error
	Confirm(ctx context.Context, email, code string) (bool, error)
}

// VerificationHandler serves the email verification endpoints.
type VerificationHandler struct {
	verification VerificationService
	logger       *slog.Logger
}

// NewVerificationHandler creates a VerificationHandler.
func NewVerificationHandler(verification VerificationService, logger *slog.Logger) *VerificationHandler {
	return &VerificationHandler{verification: verification, logger: logger}
}

type sendRequest struct {
	Email string `json:"email"`
}

type confirmRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// HandleSend issues a verification code to an email address.
//
// HTTP: POST /api/verification/send
// Body: {"email": "alice@example.com"}
// Auth: required — codes exist to attach an email to a wiki account
//
// The response is 202 whether or not delivery will succeed downstream; the
// code was accepted for sending.
func (h *VerificationHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "request body must be JSON with an email field",
		})
		return
	}

	if err := h.verification.Send(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "verification code sent"})
}

// HandleConfirm checks a submitted code and consumes it on success.
//
// HTTP: POST /api/verification/confirm
// Body: {"email": "alice@example.com", "code": "123456"}
// Auth: required
//
// A wrong or expired code is NOT an error status — it's a normal outcome the
// client must distinguish, so it rides in the body: {"verified": false}.
func (h *VerificationHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "request body must be JSON with email and code fields",
		})
		return
	}

	ok, err := h.verification.Confirm(r.Context(), req.Email, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": ok})
}
