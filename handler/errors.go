package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"readwith/internal/usecase"
)

// messages holds the user-facing text for reasons a client can act on.
var messages = map[string]string{
	"empty_message":          "message must not be empty",
	"message_too_long":       "message is too long",
	"empty_feedback":         "select a rating or provide a rewrite",
	"invalid_rating":         "rating must be up, down or unrated",
	"invalid_status":         "status must be pending, approved or rejected",
	"invalid_transition":     "status can only be set to approved or rejected",
	"invalid_decision":       "decision must be ai_response, rewrite or neither",
	"turn_has_no_reply":      "feedback needs a turn with a reply",
	"invalid_admin_password": "admin password required",
	"feedback_write_error":   "feedback could not be saved; please try again",
}

func statusForCode(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorValidation:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorGeneration, usecase.ErrorRetrieval:
		return http.StatusBadGateway
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorStorage:
		return http.StatusServiceUnavailable
	case usecase.ErrorUnauthorized:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func (h *Handler) errorResponse(log *slog.Logger, corrID string, err error) events.APIGatewayProxyResponse {
	var mna *methodNotAllowedError
	if errors.As(err, &mna) {
		log.Info("request rejected", "status", http.StatusMethodNotAllowed, "reason", "method_not_allowed")
		resp := jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: errorBody{
			Code:    "METHOD_NOT_ALLOWED",
			Message: "method not allowed",
		}})
		resp.Headers["Allow"] = strings.Join(mna.allowed, ", ")
		resp.Headers[correlationHeader] = corrID
		return resp
	}

	code := usecase.ErrorInternal
	reason := "unexpected_error"
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		code = ucErr.Code
		reason = ucErr.Reason
	}
	status := statusForCode(code)

	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "code", code, "reason", reason, "err", err)
	} else {
		log.Info("request rejected", "status", status, "code", code, "reason", reason)
	}

	msg, ok := messages[reason]
	if !ok {
		msg = strings.ReplaceAll(reason, "_", " ")
	}
	resp := jsonResponse(status, errorResponse{Error: errorBody{Code: string(code), Message: msg}})
	resp.Headers[correlationHeader] = corrID
	return resp
}
