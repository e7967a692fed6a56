// Package apierr defines the error taxonomy shared by every public
// handler and by Room Actor commands that cross the HTTP boundary.
package apierr

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Code identifies a specific failure reason from the spec's error
// taxonomy (validation, authentication, not-found, conflict, upgrade,
// internal).
type Code string

const (
	CodePlayerIDRequired   Code = "PlayerIdRequired"
	CodeInvalidKeyFormat   Code = "InvalidKeyFormat"
	CodeMissingField       Code = "MissingField"
	CodeBadJSON            Code = "BadJSON"
	CodeBadFormat          Code = "BadFormat"
	CodeAuthRequired       Code = "AuthRequired"
	CodeInvalidKey         Code = "InvalidKey"
	CodeInvalidInternalKey Code = "InvalidInternalSecret"
	CodeRoomNotFound       Code = "RoomNotFound"
	CodeSaveNotFound       Code = "SaveNotFound"
	CodeRoomAlreadyExists  Code = "RoomAlreadyExists"
	CodeAlreadyExists      Code = "AlreadyExists"
	CodeUpgradeRequired    Code = "UpgradeRequired"
	CodeInternal           Code = "Internal"
)

// Error is a taxonomy-carrying error with an HTTP status attached.
type Error struct {
	Code    Code
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// New builds an *Error for the given code/status/message.
func New(code Code, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

var (
	ErrPlayerIDRequired = New(CodePlayerIDRequired, http.StatusBadRequest, "playerId is required")
	ErrAuthRequired     = New(CodeAuthRequired, http.StatusUnauthorized, "authorization is required")
	ErrInvalidKeyFormat = New(CodeInvalidKeyFormat, http.StatusUnauthorized, "api key has an invalid format")
	ErrInvalidKey       = New(CodeInvalidKey, http.StatusUnauthorized, "api key is not recognized")
	ErrInvalidInternal  = New(CodeInvalidInternalKey, http.StatusUnauthorized, "invalid internal secret")
	ErrRoomNotFound     = New(CodeRoomNotFound, http.StatusNotFound, "room not found")
	ErrSaveNotFound     = New(CodeSaveNotFound, http.StatusNotFound, "save not found")
	ErrRoomExists       = New(CodeRoomAlreadyExists, http.StatusConflict, "room already exists")
	ErrUpgradeRequired  = New(CodeUpgradeRequired, http.StatusUpgradeRequired, "websocket upgrade required")
)

// envelope is the JSON shape written for error responses, mirroring
// the teacher's errorResponse; WriteResult encodes success bodies
// as given.
type envelope struct {
	Error string `json:"error,omitempty"`
	Code  Code   `json:"code,omitempty"`
}

// WriteJSON writes err as a JSON error body with the matching status
// code. Non-*Error values are reported as 500 Internal.
func WriteJSON(w http.ResponseWriter, logger *slog.Logger, err error) {
	apiErr, ok := err.(*Error)
	if !ok {
		apiErr = New(CodeInternal, http.StatusInternalServerError, err.Error())
		if logger != nil {
			logger.Error("unclassified error", "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(envelope{Error: apiErr.Message, Code: apiErr.Code})
}

// WriteResult writes a successful JSON body with the given status.
func WriteResult(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil && logger != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
