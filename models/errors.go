package models

import (
	"errors"
	"fmt"
)

// Error codes used across the engines, the pipeline and the CLI.
const (
	// Fatal: the run is aborted before any job starts.
	ErrCodeConfig = "CONFIG_INVALID"
	ErrCodeSetup  = "SETUP_FAILED"

	// Job-scoped: reported as a result value, the run continues.
	ErrCodeTimeout      = "SCRAPE_TIMEOUT"
	ErrCodeNavigation   = "NAVIGATION_FAILED"
	ErrCodeTransfer     = "TRANSFER_FAILED"
	ErrCodeBrowserCrash = "BROWSER_CRASH"
	ErrCodeCancelled    = "JOB_CANCELLED"

	// Degrades a single request record without failing the job.
	ErrCodeCapture = "CAPTURE_FAILED"

	ErrCodeSink     = "SINK_FAILED"
	ErrCodeInternal = "INTERNAL_ERROR"
)

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// ConfigError is shorthand for a CONFIG_INVALID ScrapeError.
func ConfigError(format string, args ...any) *ScrapeError {
	return &ScrapeError{Code: ErrCodeConfig, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first ScrapeError in err's chain,
// ErrCodeInternal for any other non-nil error, and "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsFatal reports whether err aborts a whole run rather than a single job.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case ErrCodeConfig, ErrCodeSetup, ErrCodeSink:
		return true
	}
	return false
}
