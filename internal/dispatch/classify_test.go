package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/maxkimambo/dagrun/internal/backend"
	engerrors "github.com/maxkimambo/dagrun/internal/errors"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "marked permanent beats transient text", err: engerrors.Permanent(errors.New("connection reset")), expected: false},
		{name: "marked transient beats permanent text", err: engerrors.Transient(errors.New("invalid token")), expected: true},
		{name: "attempt timeout", err: engerrors.NewTimeoutError("a", 1, time.Second), expected: true},
		{name: "worker fault", err: engerrors.NewBackendError("a", 1, fmt.Errorf("%w: crashed", backend.ErrWorkerFault)), expected: true},
		{name: "cancelled", err: engerrors.NewCancelledError("a", context.Canceled), expected: false},
		{name: "no healthy workers", err: engerrors.NewNoHealthyWorkersError(2), expected: false},
		{name: "grpc unavailable", err: status.Error(codes.Unavailable, "backend restarting"), expected: true},
		{name: "grpc resource exhausted", err: status.Error(codes.ResourceExhausted, "quota"), expected: true},
		{name: "grpc invalid argument", err: status.Error(codes.InvalidArgument, "bad prompt"), expected: false},
		{name: "wrapped grpc permission denied", err: engerrors.NewBackendError("a", 1, fmt.Errorf("start: %w", status.Error(codes.PermissionDenied, "nope"))), expected: false},
		{name: "api 429", err: &googleapi.Error{Code: 429, Message: "slow down"}, expected: true},
		{name: "api 503", err: &googleapi.Error{Code: 503}, expected: true},
		{name: "api 404", err: &googleapi.Error{Code: 404, Message: "no such model"}, expected: false},
		{name: "transient text", err: errors.New("Service Unavailable, try again later"), expected: true},
		{name: "permanent text", err: errors.New("payload not found"), expected: false},
		{name: "permanent text behind engine wrapper", err: engerrors.NewBackendError("a", 1, errors.New("invalid payload")), expected: false},
		{name: "unknown is transient", err: errors.New("exit status 1"), expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}
