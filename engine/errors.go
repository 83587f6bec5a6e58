package engine

import (
	"context"
	"errors"
	"net"

	"github.com/use-agent/sitegrab/models"
)

// categorizeError maps a browser-side failure to a job error code.
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeCancelled, "request canceled", err)
	default:
		return models.NewScrapeError(models.ErrCodeNavigation, msg, err)
	}
}

// classifyTransferError maps a conn engine transfer failure to a job error
// code. DNS failures and refused connections are transfer failures.
func classifyTransferError(err error) *models.ScrapeError {
	var se *models.ScrapeError
	if errors.As(err, &se) {
		return se
	}
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, "transfer timed out", err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeCancelled, "transfer canceled", err)
	case errors.As(err, &ne) && ne.Timeout():
		return models.NewScrapeError(models.ErrCodeTimeout, "transfer timed out", err)
	default:
		return models.NewScrapeError(models.ErrCodeTransfer, "transfer failed", err)
	}
}
