// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package acctpolicy

import "time"

// JobTimeOut implements C8, the running-job time-out evaluator (spec.md
// §4.6): a running job whose accumulated cpu-minute or wall-clock usage
// has caught up with a group limit, or whose own cpu-minute usage has
// caught up with a per-job limit, is reported as timed out. Safe-limits
// mode (ACCOUNTING_ENFORCE_SAFE) disables this check entirely, since a job
// admitted under safe limits was already guaranteed enough budget to run
// to completion.
func (c *Ctx) JobTimeOut(job *Job, now time.Time) bool {
	var timedOut bool
	c.withReadLock(func() {
		timedOut = c.jobTimeOut(job, now)
	})
	return timedOut
}

func (c *Ctx) jobTimeOut(job *Job, now time.Time) bool {
	if !c.enforced() || c.safeMode() {
		return false
	}

	elapsedMins, _ := subSaturating(uint64(now.Sub(job.StartTime).Minutes()), uint64(job.TotSusTime.Minutes()))
	jobCPUUsageMins := elapsedMins * job.TotalCPUs

	order := ResolveQOSOrder(job.QOS, partitionQOS(job))
	eff := NewEffectiveQOS(c.TRES)

	timedOut := false
	for _, q := range order.List() {
		if c.qosJobTimeOut(job, q, eff, jobCPUUsageMins) {
			timedOut = true
			break
		}
	}

	if !timedOut {
		for node := job.Assoc; node != nil && !node.IsRoot(); node = node.Parent {
			if c.assocJobTimeOut(job, node, eff, jobCPUUsageMins) {
				timedOut = true
				break
			}
		}
	}

	if timedOut {
		job.StateReason = WaitFailTimeout
		c.stampLastJobUpdate(now)
		c.Metrics.RecordTimeout(job.PartitionName)
	}
	return timedOut
}

// qosJobTimeOut is _qos_job_time_out.
func (c *Ctx) qosJobTimeOut(job *Job, q, eff *QoS, jobCPUUsageMins uint64) bool {
	usageMins := q.Usage.UsageRaw / 60
	wallMins := q.Usage.GrpUsedWall / 60

	if eff.GrpCPUMins == Infinite && q.GrpCPUMins != Infinite {
		eff.GrpCPUMins = q.GrpCPUMins
		if usageMins >= q.GrpCPUMins {
			c.queueLog("info", "job timed out, qos group cpu-minute limit reached", "qos", q.Name, "limit", q.GrpCPUMins, "used_mins", usageMins)
			return true
		}
	}

	if eff.GrpWall == Infinite && q.GrpWall != Infinite {
		eff.GrpWall = q.GrpWall
		if wallMins >= q.GrpWall {
			c.queueLog("info", "job timed out, qos group wall limit reached", "qos", q.Name, "limit", q.GrpWall, "used_mins", wallMins)
			return true
		}
	}

	if eff.MaxCPUMinsPJ == Infinite && q.MaxCPUMinsPJ != Infinite {
		eff.MaxCPUMinsPJ = q.MaxCPUMinsPJ
		if jobCPUUsageMins >= q.MaxCPUMinsPJ {
			c.queueLog("info", "job timed out, qos max cpu-minutes per job reached", "qos", q.Name, "limit", q.MaxCPUMinsPJ, "used_mins", jobCPUUsageMins)
			return true
		}
	}

	return false
}

// assocJobTimeOut is the per-node body of C8's association-chain walk.
// These limits apply at every level up to (excluding) the tree root.
func (c *Ctx) assocJobTimeOut(job *Job, node *Association, eff *QoS, jobCPUUsageMins uint64) bool {
	usageMins := node.Usage.UsageRaw / 60
	wallMins := node.Usage.GrpUsedWall / 60
	cpuIdx, haveCPU := c.TRES.IndexOf(TRESCPU)

	if haveCPU && eff.GrpCPUMins == Infinite && node.GrpTRESMins[cpuIdx] != Infinite {
		limit := node.GrpTRESMins[cpuIdx]
		if usageMins >= limit {
			c.queueLog("info", "job timed out, association group cpu-minute limit reached", "account", node.Account, "limit", limit, "used_mins", usageMins)
			return true
		}
	}

	if eff.GrpWall == Infinite && node.GrpWall != Infinite {
		if wallMins >= node.GrpWall {
			c.queueLog("info", "job timed out, association group wall limit reached", "account", node.Account, "limit", node.GrpWall, "used_mins", wallMins)
			return true
		}
	}

	if haveCPU && eff.MaxCPUMinsPJ == Infinite && node.MaxTRESMinsPJ[cpuIdx] != Infinite {
		limit := node.MaxTRESMinsPJ[cpuIdx]
		if jobCPUUsageMins >= limit {
			c.queueLog("info", "job timed out, association max cpu-minutes per job reached", "account", node.Account, "limit", limit, "used_mins", jobCPUUsageMins)
			return true
		}
	}

	return false
}
