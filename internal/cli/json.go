package cli

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"io/fs"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
)

// JSONEnvelope wraps command output in a consistent structure for machine parsing.
// All --json output should use this envelope.
type JSONEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *JSONError  `json:"error,omitempty"`
}

// JSONError provides structured error information for machine parsing.
type JSONError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Cause      string `json:"cause,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Error codes for machine-readable output.
const (
	ErrCodeConfigNotFound = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "CONFIG_INVALID"
	ErrCodeSSHFailed      = "SSH_CONNECTION_FAILED"
	ErrCodeCommandFailed  = "COMMAND_FAILED"
	ErrCodeTimeout        = "COMMAND_TIMEOUT"
	ErrCodeStorage        = "STORAGE_FAILED"
	ErrCodeNotify         = "NOTIFY_FAILED"
	ErrCodeUnhealthy      = "UNHEALTHY"
	ErrCodeUnknown        = "UNKNOWN"
)

// WriteJSONSuccess writes a successful response with data to the writer.
func WriteJSONSuccess(w io.Writer, data interface{}) error {
	return writeJSONEnvelope(w, JSONEnvelope{Success: true, Data: data})
}

// WriteJSONFailure writes an unsuccessful response that still carries data,
// such as an unhealthy check result.
func WriteJSONFailure(w io.Writer, data interface{}, jsonErr *JSONError) error {
	return writeJSONEnvelope(w, JSONEnvelope{Success: false, Data: data, Error: jsonErr})
}

// WriteJSONFromError converts a Go error to a JSON error response.
func WriteJSONFromError(w io.Writer, err error) error {
	return writeJSONEnvelope(w, JSONEnvelope{Success: false, Error: ErrorToJSON(err)})
}

func writeJSONEnvelope(w io.Writer, env JSONEnvelope) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

// ErrorToJSON converts a Go error to a JSONError with appropriate code mapping.
func ErrorToJSON(err error) *JSONError {
	if err == nil {
		return nil
	}

	var e *errors.Error
	if stderrors.As(err, &e) {
		out := &JSONError{
			Code:       mapErrorCode(e),
			Message:    e.Message,
			Suggestion: e.Suggestion,
		}
		if e.Cause != nil {
			out.Cause = errors.Describe(e.Cause)
		}
		return out
	}

	return &JSONError{
		Code:    ErrCodeUnknown,
		Message: err.Error(),
	}
}

func mapErrorCode(e *errors.Error) string {
	switch e.Code {
	case errors.ErrConfig:
		if isNotFound(e.Cause) {
			return ErrCodeConfigNotFound
		}
		return ErrCodeConfigInvalid
	case errors.ErrSSH:
		return ErrCodeSSHFailed
	case errors.ErrTransport, errors.ErrExec:
		return ErrCodeCommandFailed
	case errors.ErrTimeout:
		return ErrCodeTimeout
	case errors.ErrSink:
		return ErrCodeStorage
	case errors.ErrNotify:
		return ErrCodeNotify
	}
	return ErrCodeUnknown
}

func isNotFound(err error) bool {
	return err != nil && stderrors.Is(err, fs.ErrNotExist)
}
