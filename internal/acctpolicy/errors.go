// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package acctpolicy

import (
	"fmt"

	polerrors "github.com/jrandall/slurm/pkg/errors"
)

var errAssocNotFound = polerrors.NewPolicyError(polerrors.ErrorCodeAssocNotFound, "association could not be resolved or re-bound")

var errLimitsExceeded = polerrors.NewPolicyError(polerrors.ErrorCodeJobDenied, "job exceeds association/qos cpu, node, memory or time limit")

// userIDKey renders a uid as the association table's user key. The
// association table keys users by their string account name (matching
// Association.User), so this is the one conversion point between the
// numeric uid the Job carries and the string identity Association uses.
func userIDKey(uid uint32) string {
	return fmt.Sprintf("uid:%d", uid)
}
