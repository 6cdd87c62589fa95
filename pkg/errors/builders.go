// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"context"
	stderrors "errors"
)

// WrapError converts a generic error into a structured PolicyError,
// preserving an existing PolicyError unchanged.
func WrapError(err error) *PolicyError {
	if err == nil {
		return nil
	}

	var policyErr *PolicyError
	if stderrors.As(err, &policyErr) {
		return policyErr
	}

	if stderrors.Is(err, context.Canceled) {
		return NewPolicyErrorWithCause(ErrorCodeContextCanceled, "operation was canceled", err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewPolicyErrorWithCause(ErrorCodeDeadlineExceeded, "operation timed out", err)
	}

	return NewPolicyErrorWithCause(ErrorCodeUnknown, err.Error(), err)
}
