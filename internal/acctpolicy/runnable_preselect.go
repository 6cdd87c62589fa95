// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package acctpolicy

import "context"

// JobRunnableState reports whether a pending job is not currently held for
// an accounting-policy reason. A false result means a previous C5/C6/C7
// check left a stale hold in place that a fresh check should clear before
// re-evaluating (spec.md §4.4).
func JobRunnableState(job *Job) bool {
	return !job.StateReason.IsAccountingHold()
}

// JobRunnablePreSelect implements C6, the pre-select runnability check
// (spec.md §4.4): before a job is offered to the scheduler, re-bind its
// association if needed, clear a stale hold, and check the narrower
// subset of group/per-user limits that can change between submission and
// scheduling (grp_jobs, grp_wall, max_jobs_pu, max_wall_pj). Unlike C5 it
// never clips; a tripped check only holds the job.
func (c *Ctx) JobRunnablePreSelect(ctx context.Context, job *Job) bool {
	var ok bool
	c.withReadLock(func() {
		ok = c.jobRunnablePreSelect(ctx, job)
	})
	if !ok {
		c.Metrics.RecordHold(job.PartitionName, job.StateReason.String())
	}
	return ok
}

func (c *Ctx) jobRunnablePreSelect(ctx context.Context, job *Job) bool {
	if !c.enforced() {
		return true
	}

	if err := c.bindAssoc(ctx, job); err != nil {
		job.StateDesc = ""
		job.StateReason = WaitFailAccount
		return false
	}

	if !JobRunnableState(job) {
		job.StateDesc = ""
		job.StateReason = WaitNoReason
	}

	order := ResolveQOSOrder(job.QOS, partitionQOS(job))
	eff := NewEffectiveQOS(c.TRES)

	for _, q := range order.List() {
		if !c.qosJobRunnablePreSelect(job, q, eff) {
			return false
		}
	}

	first := true
	for node := job.Assoc; node != nil && !node.IsRoot(); node = node.Parent {
		if !c.assocJobRunnablePreSelect(job, node, eff, first) {
			return false
		}
		first = false
	}

	return true
}

// qosJobRunnablePreSelect is _qos_job_runnable_pre_select.
func (c *Ctx) qosJobRunnablePreSelect(job *Job, q, eff *QoS) bool {
	wallMins := q.Usage.GrpUsedWall / 60
	ul := q.EnsureUsedLimits(job.UserID)

	if eff.GrpJobs == Infinite && q.GrpJobs != Infinite {
		eff.GrpJobs = q.GrpJobs
		if q.Usage.GrpUsedJobs >= q.GrpJobs {
			job.StateDesc = ""
			job.StateReason = WaitQOSGrpJob
			c.queueLog("debug", "job held, qos group job limit reached", "qos", q.Name, "limit", q.GrpJobs, "used", q.Usage.GrpUsedJobs)
			return false
		}
	}

	if eff.GrpWall == Infinite && q.GrpWall != Infinite {
		eff.GrpWall = q.GrpWall
		if wallMins >= q.GrpWall {
			job.StateDesc = ""
			job.StateReason = WaitQOSGrpWall
			c.queueLog("debug", "job held, qos group wall limit reached", "qos", q.Name, "limit", q.GrpWall, "used_mins", wallMins)
			return false
		}
	}

	if eff.MaxJobsPU == Infinite && q.MaxJobsPU != Infinite {
		eff.MaxJobsPU = q.MaxJobsPU
		if ul.Jobs >= q.MaxJobsPU {
			job.StateDesc = ""
			job.StateReason = WaitQOSMaxJobPerUser
			c.queueLog("debug", "job held, qos per-user job limit reached", "qos", q.Name, "user_id", job.UserID, "limit", q.MaxJobsPU, "used", ul.Jobs)
			return false
		}
	}

	if job.LimitSet.Time != LimitAdminSet && eff.MaxWallPJ == Infinite && q.MaxWallPJ != Infinite {
		eff.MaxWallPJ = q.MaxWallPJ
		if job.TimeLimit != NoVal && job.TimeLimit > q.MaxWallPJ {
			job.StateDesc = ""
			job.StateReason = WaitQOSMaxWallPerJob
			c.queueLog("debug", "job held, time limit exceeds qos max wall per job", "qos", q.Name, "time_limit", job.TimeLimit, "limit", q.MaxWallPJ)
			return false
		}
	}

	return true
}

// assocJobRunnablePreSelect is the per-node body of C6's association-chain
// walk: grp_jobs and grp_wall at every level, max_jobs and max_wall_pj
// restricted to the first (non-parent) level.
func (c *Ctx) assocJobRunnablePreSelect(job *Job, node *Association, eff *QoS, first bool) bool {
	wallMins := node.Usage.GrpUsedWall / 60

	if eff.GrpJobs == Infinite && node.GrpJobs != Infinite && node.Usage.UsedJobs >= node.GrpJobs {
		job.StateDesc = ""
		job.StateReason = WaitAssocGrpJob
		c.queueLog("debug", "job held, association group job limit reached", "account", node.Account, "limit", node.GrpJobs, "used", node.Usage.UsedJobs)
		return false
	}

	if eff.GrpWall == Infinite && node.GrpWall != Infinite && wallMins >= node.GrpWall {
		job.StateDesc = ""
		job.StateReason = WaitAssocGrpWall
		c.queueLog("debug", "job held, association group wall limit reached", "account", node.Account, "limit", node.GrpWall, "used_mins", wallMins)
		return false
	}

	if !first {
		return true
	}

	if eff.MaxJobsPU == Infinite && node.MaxJobs != Infinite && node.Usage.UsedJobs >= node.MaxJobs {
		job.StateDesc = ""
		job.StateReason = WaitAssocMaxJobs
		c.queueLog("debug", "job held, association max job limit reached", "account", node.Account, "limit", node.MaxJobs, "used", node.Usage.UsedJobs)
		return false
	}

	if job.LimitSet.Time != LimitAdminSet && eff.MaxWallPJ == Infinite && node.MaxWallPJ != Infinite {
		if job.TimeLimit != NoVal && job.TimeLimit > node.MaxWallPJ {
			job.StateDesc = ""
			job.StateReason = WaitAssocMaxWallPerJob
			c.queueLog("debug", "job held, time limit exceeds association max wall per job", "account", node.Account, "time_limit", job.TimeLimit, "limit", node.MaxWallPJ)
			return false
		}
	}

	return true
}
