package protocol

import (
	goerrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes for protocol parsing. Unknown-command errors map to the wire
// token ERROR; everything else maps to CLIENT_ERROR <reason>.
const (
	ErrCodeUnknownCommand errors.ErrorCode = "CACHE_PROTOCOL_UNKNOWN_COMMAND"
	ErrCodeBadArguments   errors.ErrorCode = "CACHE_PROTOCOL_BAD_ARGUMENTS"
	ErrCodeBadNumber      errors.ErrorCode = "CACHE_PROTOCOL_BAD_NUMBER"
	ErrCodeBadKey         errors.ErrorCode = "CACHE_PROTOCOL_BAD_KEY"
	ErrCodeBodyTooLarge   errors.ErrorCode = "CACHE_PROTOCOL_BODY_TOO_LARGE"
	ErrCodeLineTooLong    errors.ErrorCode = "CACHE_PROTOCOL_LINE_TOO_LONG"
	ErrCodeBadFraming     errors.ErrorCode = "CACHE_PROTOCOL_BAD_FRAMING"
	ErrCodeNotReady       errors.ErrorCode = "CACHE_PROTOCOL_NOT_READY"
)

// reasons are the client-facing texts sent as CLIENT_ERROR <reason>.
var reasons = map[errors.ErrorCode]string{
	ErrCodeUnknownCommand: "unknown command",
	ErrCodeBadArguments:   "bad command arguments",
	ErrCodeBadNumber:      "bad numeric argument",
	ErrCodeBadKey:         "bad key",
	ErrCodeBodyTooLarge:   "object too large for cache",
	ErrCodeLineTooLong:    "command line too long",
	ErrCodeBadFraming:     "malformed line framing",
}

// IsUnknownCommand reports whether err should be answered with the bare
// ERROR token rather than CLIENT_ERROR.
func IsUnknownCommand(err error) bool {
	return errors.HasCode(err, ErrCodeUnknownCommand)
}

// Reason returns the client-facing text for a parse error.
func Reason(err error) string {
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		if msg, ok := reasons[coder.ErrorCode()]; ok {
			return msg
		}
	}
	return "malformed request"
}
