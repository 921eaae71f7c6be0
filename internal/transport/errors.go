package transport

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
)

// toConnectError maps service errors onto connect codes.
func toConnectError(err error) error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}

	code := connect.CodeInternal
	switch {
	case errors.Is(err, model.ErrNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, model.ErrUnavailable):
		code = connect.CodeUnavailable
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	}
	return connect.NewError(code, err)
}

// fromConnectError maps connect codes back onto the model sentinels. Network
// failures reach the client as CodeUnavailable and become ErrUnavailable.
func fromConnectError(err error) error {
	switch connect.CodeOf(err) {
	case connect.CodeNotFound:
		return fmt.Errorf("%w: %w", model.ErrNotFound, err)
	case connect.CodeUnavailable:
		return fmt.Errorf("%w: %w", model.ErrUnavailable, err)
	default:
		return err
	}
}

func isTransient(err error) bool {
	return errors.Is(err, model.ErrUnavailable)
}
