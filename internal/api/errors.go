package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/alumnet/backend/internal/domain"
	"github.com/alumnet/backend/pkg/response"
)

// errorCode maps a domain error to a stable error kind and a
// human-readable message, shared by the REST and realtime surfaces.
func errorCode(err error) (string, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "NOT_FOUND", "chat or user not found"
	case errors.Is(err, domain.ErrNotAuthorized), errors.Is(err, domain.ErrNotParticipant):
		return "NOT_AUTHORIZED", "not authorized for this operation"
	case errors.Is(err, domain.ErrInsufficientParticipants):
		return "INSUFFICIENT_PARTICIPANTS", "group chat must have at least 2 other participants"
	case errors.Is(err, domain.ErrAlreadyMember):
		return "ALREADY_MEMBER", "user already in chat"
	case errors.Is(err, domain.ErrEmptyContent):
		return "EMPTY_CONTENT", "message content is empty"
	case errors.Is(err, domain.ErrSelfChat):
		return "BAD_REQUEST", "cannot chat with self"
	case errors.Is(err, domain.ErrStorageUnavailable), errors.Is(err, domain.ErrVersionConflict):
		return "STORAGE_UNAVAILABLE", "storage temporarily unavailable, retry"
	default:
		return "INTERNAL_ERROR", "internal error"
	}
}

func statusFor(code string) int {
	switch code {
	case "NOT_FOUND":
		return http.StatusNotFound
	case "NOT_AUTHORIZED":
		return http.StatusForbidden
	case "INSUFFICIENT_PARTICIPANTS", "ALREADY_MEMBER", "EMPTY_CONTENT", "BAD_REQUEST":
		return http.StatusBadRequest
	case "STORAGE_UNAVAILABLE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes a structured error response for a domain error,
// logging only unexpected ones.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	code, message := errorCode(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	}
	response.Error(w, status, code, message)
}
