package dispatch

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/maxkimambo/dagrun/internal/backend"
	engerrors "github.com/maxkimambo/dagrun/internal/errors"
)

var transientPatterns = []string{
	"timeout",
	"connection",
	"network",
	"temporary",
	"rate limit",
	"service unavailable",
	"try again",
	"502",
	"503",
	"504",
}

var permanentPatterns = []string{
	"invalid",
	"unauthorized",
	"forbidden",
	"not found",
	"bad request",
	"400",
	"401",
	"403",
	"404",
}

// IsRetryable classifies a failed attempt. Errors that match nothing are
// treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if retryable, ok := engerrors.MarkedRetryable(err); ok {
		return retryable
	}

	switch {
	case errors.Is(err, engerrors.ErrCancelled),
		errors.Is(err, engerrors.ErrNoHealthyWorkers),
		errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, engerrors.ErrTimeout),
		errors.Is(err, backend.ErrWorkerFault),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied,
			codes.Unauthenticated, codes.FailedPrecondition, codes.AlreadyExists, codes.Unimplemented:
			return false
		}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500:
			return true
		case apiErr.Code >= 400:
			return false
		}
	}

	msg := strings.ToLower(causeMessage(err))
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	for _, p := range permanentPatterns {
		if strings.Contains(msg, p) {
			return false
		}
	}
	return true
}

// causeMessage strips the engine's own wrapping so patterns only see what
// the backend said
func causeMessage(err error) string {
	if ee, ok := engerrors.AsEngineError(err); ok && ee.Cause != nil {
		return ee.Cause.Error()
	}
	return err.Error()
}
