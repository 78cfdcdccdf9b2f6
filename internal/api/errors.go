package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/openloot/faircore/internal/battle"
	"github.com/openloot/faircore/internal/box"
	"github.com/openloot/faircore/internal/replay"
	"github.com/openloot/faircore/internal/seeds"
	"github.com/openloot/faircore/internal/store"
)

// writeJSONError writes JSON error response
func writeJSONError(w http.ResponseWriter, data interface{}) error {
	return json.NewEncoder(w).Encode(data)
}

// ErrorBuilder helps construct structured errors with context
type ErrorBuilder struct {
	errType   string
	message   string
	context   map[string]interface{}
	requestID string
	cause     error
}

// NewError creates a new error builder
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{
		errType: errType,
		message: message,
		context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (eb *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

// WithRequestID adds request ID to the error
func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.requestID = requestID
	return eb
}

// WithCause adds the underlying cause error
func (eb *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	eb.cause = err
	if err != nil {
		eb.context["cause"] = err.Error()
	}
	return eb
}

// Build creates the final EngineError
func (eb *ErrorBuilder) Build() EngineError {
	return EngineError{
		Type:      eb.errType,
		Message:   eb.message,
		Context:   eb.context,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// classify maps a domain error to its HTTP status and error type.
// Integrity faults get their own types so monitoring can separate
// trust-impacting failures from ordinary client mistakes.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, seeds.ErrFairnessViolation),
		errors.Is(err, store.ErrSeedHashMismatch):
		return http.StatusConflict, ErrTypeFairnessViolation
	case errors.Is(err, store.ErrNonceMismatch):
		return http.StatusConflict, ErrTypeNonceReplay

	case errors.Is(err, store.ErrSeedPairNotFound):
		return http.StatusNotFound, ErrTypeSeedsNotFound
	case errors.Is(err, box.ErrBoxNotFound):
		return http.StatusNotFound, ErrTypeBoxNotFound
	case errors.Is(err, battle.ErrBattleNotFound):
		return http.StatusNotFound, ErrTypeBattleNotFound

	case errors.Is(err, battle.ErrBattleFull),
		errors.Is(err, battle.ErrAlreadyJoined),
		errors.Is(err, battle.ErrBattleNotActive),
		errors.Is(err, battle.ErrBattleFinished),
		errors.Is(err, battle.ErrBattleNotFinished),
		errors.Is(err, battle.ErrNotAPlayer),
		errors.Is(err, battle.ErrNotWinner),
		errors.Is(err, battle.ErrAlreadyClaimed),
		errors.Is(err, battle.ErrNoClaimableItem):
		return http.StatusConflict, ErrTypeBattleState

	case errors.Is(err, seeds.ErrEmptyClientSeed):
		return http.StatusBadRequest, ErrTypeInvalidSeed

	case errors.Is(err, battle.ErrInvalidSlotCount),
		errors.Is(err, battle.ErrInvalidRounds),
		errors.Is(err, battle.ErrUnknownClaim),
		errors.Is(err, box.ErrEmptyItemList),
		errors.Is(err, box.ErrNoPositiveWeight),
		errors.Is(err, replay.ErrInvalidRange),
		errors.Is(err, replay.ErrRangeTooLarge):
		return http.StatusBadRequest, ErrTypeValidation

	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, ErrTypeTimeout

	case errors.Is(err, store.ErrPersistence):
		return http.StatusInternalServerError, ErrTypePersistence

	default:
		return http.StatusInternalServerError, ErrTypeInternal
	}
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	logger         *log.Logger
	securityLogger *SecurityLogger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *log.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger:         logger,
		securityLogger: NewSecurityLogger(),
	}
}

// HandleDomainError classifies a domain error and writes the response.
func (eh *ErrorHandler) HandleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, errType := classify(err)
	requestID := middleware.GetReqID(r.Context())

	engineErr := NewError(errType, err.Error()).
		WithRequestID(requestID).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method).
		Build()

	if GetErrorCategory(errType) == CategoryIntegrity {
		eh.securityLogger.LogSecurityEvent(
			requestID,
			errType,
			err.Error(),
			map[string]interface{}{"path": r.URL.Path},
			r.RemoteAddr,
		)
	}

	eh.logError(r, engineErr, status)
	eh.writeErrorResponse(w, status, engineErr)
}

// HandleValidationError handles validation-specific errors
func (eh *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	requestID := middleware.GetReqID(r.Context())

	engineErr := NewError(ErrTypeValidation, fmt.Sprintf("Validation failed: %s", message)).
		WithRequestID(requestID).
		WithContext("field", field).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method).
		Build()

	eh.securityLogger.LogSecurityEvent(
		requestID,
		"validation_failure",
		message,
		map[string]interface{}{
			"field": field,
			"path":  r.URL.Path,
		},
		r.RemoteAddr,
	)

	eh.logError(r, engineErr, http.StatusBadRequest)
	eh.writeErrorResponse(w, http.StatusBadRequest, engineErr)
}

// logError logs the error with appropriate level and context
func (eh *ErrorHandler) logError(r *http.Request, engineErr EngineError, status int) {
	category := GetErrorCategory(engineErr.Type)

	logLevel := "ERROR"
	if category == CategoryValidation || category == CategoryState {
		logLevel = "WARN"
	}

	logFields := map[string]interface{}{
		"level":      logLevel,
		"type":       engineErr.Type,
		"category":   category,
		"message":    engineErr.Message,
		"status":     status,
		"request_id": engineErr.RequestID,
		"timestamp":  engineErr.Timestamp,
		"method":     r.Method,
		"path":       r.URL.Path,
		"remote_ip":  r.RemoteAddr,
	}

	// Never log raw seeds - only hashes
	for key, value := range engineErr.Context {
		if key == "server_seed" || key == "client_seed" {
			continue
		}
		logFields[key] = value
	}

	eh.logger.Printf(
		"error_occurred level=%s type=%s category=%s status=%d request_id=%s path=%s message=%q context=%+v",
		logLevel, engineErr.Type, category, status, engineErr.RequestID, r.URL.Path, engineErr.Message, logFields,
	)
}

// writeErrorResponse writes the error response as JSON
func (eh *ErrorHandler) writeErrorResponse(w http.ResponseWriter, status int, engineErr EngineError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.Header().Set("X-Error-Type", engineErr.Type)
	w.Header().Set("X-Error-Category", string(GetErrorCategory(engineErr.Type)))
	w.WriteHeader(status)

	if err := writeJSONError(w, engineErr); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// RecoveryHandler provides panic recovery with structured error logging
func (eh *ErrorHandler) RecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				requestID := middleware.GetReqID(r.Context())

				eh.logger.Printf(
					"panic_recovered request_id=%s path=%s method=%s panic=%v",
					requestID, r.URL.Path, r.Method, rvr,
				)

				engineErr := NewError(ErrTypeInternal, "Internal server error").
					WithRequestID(requestID).
					WithContext("panic", fmt.Sprintf("%v", rvr)).
					WithContext("path", r.URL.Path).
					WithContext("method", r.Method).
					Build()

				eh.writeErrorResponse(w, http.StatusInternalServerError, engineErr)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
