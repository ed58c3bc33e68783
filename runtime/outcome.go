package runtime

import (
	"context"
	"errors"

	"github.com/pithecene-io/loupe/types"
)

// Process exit codes, one per outcome status.
const (
	ExitCodeSuccess    = 0
	ExitCodeValidation = 1
	ExitCodeTransport  = 2
	ExitCodeUpstream   = 3
	ExitCodeProtocol   = 4
	ExitCodeCanceled   = 130 // 128 + SIGINT
)

// DetermineOutcome classifies the error that ended a submission.
//
// Mapping:
//   - nil: success
//   - context.Canceled / context.DeadlineExceeded: canceled
//   - types.ErrValidation: validation_error
//   - types.ErrUpstream: upstream_error, with the backend status code
//   - types.ErrProtocol: protocol_error
//   - anything else, including types.ErrTransport: transport_error
//
// Cancellation is checked first because a canceled request surfaces as a
// transport failure wrapping the context error.
func DetermineOutcome(err error) *types.SubmissionOutcome {
	switch {
	case err == nil:
		return &types.SubmissionOutcome{
			Status:  types.OutcomeSuccess,
			Message: "submission completed",
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &types.SubmissionOutcome{
			Status:  types.OutcomeCanceled,
			Message: err.Error(),
		}
	case errors.Is(err, types.ErrValidation):
		return &types.SubmissionOutcome{
			Status:  types.OutcomeValidationError,
			Message: err.Error(),
		}
	case errors.Is(err, types.ErrUpstream):
		return &types.SubmissionOutcome{
			Status:     types.OutcomeUpstreamError,
			Message:    err.Error(),
			StatusCode: types.StatusCodeOf(err),
		}
	case errors.Is(err, types.ErrProtocol):
		return &types.SubmissionOutcome{
			Status:  types.OutcomeProtocolError,
			Message: err.Error(),
		}
	default:
		return &types.SubmissionOutcome{
			Status:  types.OutcomeTransportError,
			Message: err.Error(),
		}
	}
}

// ExitCode returns the process exit code for an outcome status.
func ExitCode(status types.OutcomeStatus) int {
	switch status {
	case types.OutcomeSuccess:
		return ExitCodeSuccess
	case types.OutcomeValidationError:
		return ExitCodeValidation
	case types.OutcomeUpstreamError:
		return ExitCodeUpstream
	case types.OutcomeProtocolError:
		return ExitCodeProtocol
	case types.OutcomeCanceled:
		return ExitCodeCanceled
	default:
		return ExitCodeTransport
	}
}
