package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"corkboard/internal/access"
	"corkboard/internal/attachments"
	"corkboard/internal/moves"
	"corkboard/internal/ordering"
	"corkboard/internal/realtime"
	"corkboard/internal/session"
	"corkboard/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var wip *moves.WipViolation
	if errors.As(err, &wip) {
		return http.StatusUnprocessableEntity, "WIP_LIMIT_EXCEEDED", "Column WIP limit reached", wip
	}
	switch {
	case errors.Is(err, access.ErrShareExpired):
		return http.StatusForbidden, "SHARE_EXPIRED", "Share expired", nil
	case errors.Is(err, access.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case access.IsCredentialError(err), errors.Is(err, session.ErrNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, moves.ErrAnchorNotFound):
		return http.StatusConflict, "ANCHOR_NOT_FOUND", "Anchor item is no longer in the target list", nil
	case errors.Is(err, ordering.ErrOrderingExhausted):
		return http.StatusConflict, "ORDERING_EXHAUSTED", "No position left between the neighbors", nil
	case errors.Is(err, moves.ErrWipLimitExceeded):
		return http.StatusUnprocessableEntity, "WIP_LIMIT_EXCEEDED", "Column WIP limit reached", nil
	case errors.Is(err, moves.ErrScopeNotFound):
		return http.StatusUnprocessableEntity, "SCOPE_NOT_FOUND", "Target list not found on this board", nil
	case errors.Is(err, realtime.ErrUnknownConnection):
		return http.StatusNotFound, "CONNECTION_NOT_FOUND", "Realtime connection not found", nil
	case errors.Is(err, realtime.ErrClosed):
		return http.StatusServiceUnavailable, "REALTIME_UNAVAILABLE", "Realtime is shutting down", nil
	case errors.Is(err, attachments.ErrDisabled):
		return http.StatusServiceUnavailable, "ATTACHMENTS_DISABLED", "Attachment storage is not configured", nil
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "CONFLICT", "Conflicting change", nil
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
