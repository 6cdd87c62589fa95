// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package acctpolicy

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UpdatePendingJob implements C9b (spec.md §4.8): after an association or
// QOS edit, re-run C5 against a still-pending job to make sure its
// previously computed time limit still fits. A policy-set limit that no
// longer applies is cleared back to unset; a policy-set limit that now
// clips tighter is lowered; an admin-set limit is never touched. When the
// job's effective time limit changes, the storage-start hook is notified
// so accounting reflects the new value (spec.md §4.8, §6).
func (c *Ctx) UpdatePendingJob(ctx context.Context, job *Job, part *Partition) error {
	if !c.enforced() || job.State != JobStatePending {
		return nil
	}

	scratch := *job
	if job.LimitSet.Time != LimitAdminSet {
		if job.TimeLimit != NoVal && job.LimitSet.Time == LimitUnset {
			scratch.TimeLimit = job.TimeLimit
		} else {
			scratch.TimeLimit = NoVal
		}
		// Re-derive provenance from scratch: a limit computed by an earlier
		// validate() call must not be mistaken by this one for something the
		// chain walk already decided. Validate sets it back to policy-set only
		// if a limit still applies; if none does, it stays unset and the
		// switch below clears the job's stale value.
		scratch.LimitSet.Time = LimitUnset
	}

	// update_call is false here (spec.md §4.8): unlike a genuine submit-time
	// or update RPC, this re-validation must recompute a default time limit
	// from scratch when one no longer applies, not skip it for being unset.
	if !c.Validate(&scratch, part, &job.StateReason, false) {
		return errLimitsExceeded
	}

	switch {
	case scratch.LimitSet.Time == LimitUnset && job.LimitSet.Time == LimitPolicySet:
		job.TimeLimit = NoVal
		job.LimitSet.Time = LimitUnset
		return c.notifyTimeLimitChanged(ctx, job)

	case scratch.LimitSet.Time != LimitAdminSet:
		changed := job.TimeLimit != scratch.TimeLimit
		job.TimeLimit = scratch.TimeLimit
		job.LimitSet.Time = scratch.LimitSet.Time
		if changed {
			return c.notifyTimeLimitChanged(ctx, job)
		}
	}

	return nil
}

func (c *Ctx) notifyTimeLimitChanged(ctx context.Context, job *Job) error {
	c.stampLastJobUpdate(time.Now())
	// c.Validate has already released its read lock and flushed the
	// pending-log queue by the time this runs, so a queueLog here would
	// sit unflushed until some unrelated future lock op; log directly.
	c.Logger.Debug("limits changed for job, updating accounting", "job_id", job.ID, "time_limit", job.TimeLimit, "trace_id", uuid.New().String())
	if c.Hooks.Storage == nil {
		return nil
	}
	return c.Hooks.Storage.JobStart(ctx, job)
}
