package types

import (
	"errors"
	"net/http"
)

// CodedError is the error contract shared by all operations: a stable wire
// code plus the HTTP status it maps to. Handlers serialize it as
// {"success":false,"error":CODE}.
type CodedError struct {
	Code   string
	Status int
}

func (e *CodedError) Error() string {
	return e.Code
}

var (
	ErrInvalidRequest          = &CodedError{Code: "INVALID_REQUEST", Status: http.StatusBadRequest}
	ErrInvalidExpiry           = &CodedError{Code: "INVALID_EXPIRY", Status: http.StatusBadRequest}
	ErrInvalidCodeFormat       = &CodedError{Code: "INVALID_CODE_FORMAT", Status: http.StatusBadRequest}
	ErrInvalidDuration         = &CodedError{Code: "INVALID_DURATION", Status: http.StatusBadRequest}
	ErrInvalidCryptoParameters = &CodedError{Code: "INVALID_CRYPTO_PARAMETERS", Status: http.StatusBadRequest}
	ErrInvalidRoomExpiry       = &CodedError{Code: "INVALID_ROOM_EXPIRY", Status: http.StatusBadRequest}
	ErrRoomInvalid             = &CodedError{Code: "ROOM_INVALID", Status: http.StatusBadRequest}
	ErrForbidden               = &CodedError{Code: "FORBIDDEN", Status: http.StatusForbidden}
	ErrInvalidHmac             = &CodedError{Code: "INVALID_HMAC", Status: http.StatusForbidden}
	ErrNotFound                = &CodedError{Code: "NOT_FOUND", Status: http.StatusNotFound}
	ErrMessageNotFound         = &CodedError{Code: "MESSAGE_NOT_FOUND", Status: http.StatusNotFound}
	ErrNoFileYet               = &CodedError{Code: "NO_FILE_YET", Status: http.StatusNotFound}
	ErrAlreadyExists           = &CodedError{Code: "ALREADY_EXISTS", Status: http.StatusConflict}
	ErrFileAlreadyUploaded     = &CodedError{Code: "FILE_ALREADY_UPLOADED", Status: http.StatusConflict}
	ErrRoomFull                = &CodedError{Code: "ROOM_FULL", Status: http.StatusConflict}
	ErrExpired                 = &CodedError{Code: "EXPIRED", Status: http.StatusGone}
	ErrAlreadyDownloaded       = &CodedError{Code: "ALREADY_DOWNLOADED", Status: http.StatusGone}
	ErrServiceUnavailable      = &CodedError{Code: "SERVICE_UNAVAILABLE", Status: http.StatusServiceUnavailable}
	ErrInternal                = &CodedError{Code: "INTERNAL_ERROR", Status: http.StatusInternalServerError}
)

// AsCoded unwraps err to its CodedError, falling back to ErrInternal so that
// unexpected failures never leak details onto the wire.
func AsCoded(err error) *CodedError {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded
	}
	return ErrInternal
}
