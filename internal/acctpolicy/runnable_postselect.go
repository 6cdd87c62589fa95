// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package acctpolicy

// JobRunnablePostSelect implements C7, the post-select runnability check
// (spec.md §4.5): once the scheduler has picked a node/cpu allocation for
// a job, verify that allocation doesn't exceed aggregated group/per-job
// limits. Unlike C5 this never clips a time limit; a tripped check only
// holds the job. In safe-limits mode (ACCOUNTING_ENFORCE_SAFE) the
// grp_cpu_mins check additionally requires the job be able to reserve
// enough remaining cpu-minutes to run to completion.
func (c *Ctx) JobRunnablePostSelect(job *Job, nodeCnt, cpuCnt, pnMinMemory uint64) bool {
	var ok bool
	c.withReadLock(func() {
		ok = c.jobRunnablePostSelect(job, nodeCnt, cpuCnt, pnMinMemory)
	})
	if !ok {
		c.Metrics.RecordHold(job.PartitionName, job.StateReason.String())
	}
	return ok
}

func (c *Ctx) jobRunnablePostSelect(job *Job, nodeCnt, cpuCnt, pnMinMemory uint64) bool {
	if !c.enforced() {
		return true
	}

	safeLimits := c.safeMode()
	jobCPUTimeLimit := job.TimeLimit * cpuCnt

	var jobMemory uint64
	var adminSetMemoryLimit bool
	cpuIdx, haveCPU := c.TRES.IndexOf(TRESCPU)
	if pnMinMemory != 0 {
		adminSetMemoryLimit = limitSourceAt(job.LimitSet.MaxTRES, memIdxOr(c)) == LimitAdminSet ||
			(haveCPU && limitSourceAt(job.LimitSet.MinTRES, cpuIdx) == LimitAdminSet)

		if pnMinMemory&MemPerCPU != 0 {
			jobMemory = (pnMinMemory &^ MemPerCPU) * cpuCnt
		} else {
			jobMemory = pnMinMemory * nodeCnt
		}
	}

	order := ResolveQOSOrder(job.QOS, partitionQOS(job))
	eff := NewEffectiveQOS(c.TRES)

	for _, q := range order.List() {
		if !c.qosJobRunnablePostSelect(job, q, eff, nodeCnt, cpuCnt, jobMemory, jobCPUTimeLimit, adminSetMemoryLimit, safeLimits) {
			return false
		}
	}

	first := true
	for node := job.Assoc; node != nil && !node.IsRoot(); node = node.Parent {
		if !c.assocJobRunnablePostSelect(job, node, eff, nodeCnt, cpuCnt, jobMemory, jobCPUTimeLimit, adminSetMemoryLimit, safeLimits, first) {
			return false
		}
		first = false
	}

	return true
}

// qosJobRunnablePostSelect is _qos_job_runnable_post_select.
func (c *Ctx) qosJobRunnablePostSelect(job *Job, q, eff *QoS, nodeCnt, cpuCnt, jobMemory, jobCPUTimeLimit uint64, adminSetMemoryLimit, safeLimits bool) bool {
	usageMins := q.Usage.UsageRaw / 60
	cpuRunMins := q.Usage.GrpUsedCPURunSecs / 60
	ul := q.EnsureUsedLimits(job.UserID)
	cpuIdx, haveCPU := c.TRES.IndexOf(TRESCPU)

	if eff.GrpCPUMins == Infinite && q.GrpCPUMins != Infinite {
		eff.GrpCPUMins = q.GrpCPUMins
		switch {
		case usageMins >= q.GrpCPUMins:
			job.StateReason = WaitQOSGrpCPUMin
			c.queueLog("debug", "job held, qos group cpu-minute limit reached", "qos", q.Name, "limit", q.GrpCPUMins, "used_mins", usageMins)
			return false
		case safeLimits && jobCPUTimeLimit+cpuRunMins > q.GrpCPUMins-usageMins:
			job.StateReason = WaitQOSGrpCPUMin
			c.queueLog("debug", "job held, insufficient remaining cpu-minutes to run to completion", "qos", q.Name, "limit", q.GrpCPUMins)
			return false
		}
	}

	if haveCPU && limitSourceAt(job.LimitSet.MinTRES, cpuIdx) != LimitAdminSet && eff.GrpCPUs == Infinite && q.GrpCPUs != Infinite {
		eff.GrpCPUs = q.GrpCPUs
		switch {
		case cpuCnt > q.GrpCPUs:
			job.StateReason = WaitQOSGrpCPU
			return false
		case q.Usage.GrpUsedCPUs+cpuCnt > q.GrpCPUs:
			job.StateReason = WaitQOSGrpCPU
			return false
		}
	}

	if !adminSetMemoryLimit && eff.GrpMem == Infinite && q.GrpMem != Infinite {
		eff.GrpMem = q.GrpMem
		switch {
		case jobMemory > q.GrpMem:
			job.StateReason = WaitQOSGrpMem
			return false
		case q.Usage.GrpUsedMem+jobMemory > q.GrpMem:
			job.StateReason = WaitQOSGrpMem
			return false
		}
	}

	if eff.GrpCPURunMins == Infinite && q.GrpCPURunMins != Infinite {
		eff.GrpCPURunMins = q.GrpCPURunMins
		if cpuRunMins+jobCPUTimeLimit > q.GrpCPURunMins {
			job.StateReason = WaitQOSGrpCPURunMin
			return false
		}
	}

	if eff.GrpNodes == Infinite && q.GrpNodes != Infinite {
		eff.GrpNodes = q.GrpNodes
		switch {
		case nodeCnt > q.GrpNodes:
			job.StateReason = WaitQOSGrpNode
			return false
		case q.Usage.GrpUsedNodes+nodeCnt > q.GrpNodes:
			job.StateReason = WaitQOSGrpNode
			return false
		}
	}

	if eff.MaxCPUMinsPJ == Infinite && q.MaxCPUMinsPJ != Infinite {
		eff.MaxCPUMinsPJ = q.MaxCPUMinsPJ
		if job.TimeLimit != NoVal && jobCPUTimeLimit > q.MaxCPUMinsPJ {
			job.StateReason = WaitQOSMaxCPUMinPerJob
			return false
		}
	}

	if haveCPU && eff.MaxCPUsPJ == Infinite && q.MaxCPUsPJ != Infinite {
		eff.MaxCPUsPJ = q.MaxCPUsPJ
		if cpuCnt > q.MaxCPUsPJ {
			job.StateReason = WaitQOSMaxCPUPerJob
			return false
		}
	}

	if haveCPU && eff.MinCPUsPJ == Infinite && q.MinCPUsPJ != Infinite {
		eff.MinCPUsPJ = q.MinCPUsPJ
		if cpuCnt != 0 && cpuCnt < q.MinCPUsPJ {
			job.StateReason = WaitQOSMinCPU
			return false
		}
	}

	if haveCPU && eff.MaxCPUsPU == Infinite && q.MaxCPUsPU != Infinite {
		eff.MaxCPUsPU = q.MaxCPUsPU
		switch {
		case cpuCnt > q.MaxCPUsPU:
			job.StateReason = WaitQOSMaxCPUPerUser
			return false
		case ul.CPUs+cpuCnt > q.MaxCPUsPU:
			job.StateReason = WaitQOSMaxCPUPerUser
			return false
		}
	}

	if eff.MaxNodesPJ == Infinite && q.MaxNodesPJ != Infinite {
		eff.MaxNodesPJ = q.MaxNodesPJ
		if nodeCnt > q.MaxNodesPJ {
			job.StateReason = WaitQOSMaxNodePerJob
			return false
		}
	}

	if eff.MaxNodesPU == Infinite && q.MaxNodesPU != Infinite {
		eff.MaxNodesPU = q.MaxNodesPU
		switch {
		case nodeCnt > q.MaxNodesPU:
			job.StateReason = WaitQOSMaxNodePerUser
			return false
		case ul.Nodes+nodeCnt > q.MaxNodesPU:
			job.StateReason = WaitQOSMaxNodePerUser
			return false
		}
	}

	return true
}

// assocJobRunnablePostSelect is the per-node body of C7's association-chain
// walk (acct_policy_job_runnable_post_select's while loop): group-scope
// checks apply at every level, per-job-scope checks only at the first
// (non-parent) level.
func (c *Ctx) assocJobRunnablePostSelect(job *Job, node *Association, eff *QoS, nodeCnt, cpuCnt, jobMemory, jobCPUTimeLimit uint64, adminSetMemoryLimit, safeLimits bool, first bool) bool {
	usageMins := node.Usage.UsageRaw / 60
	cpuRunMins := node.Usage.GrpUsedCPURunSecs / 60
	cpuIdx, haveCPU := c.TRES.IndexOf(TRESCPU)

	if haveCPU && eff.GrpCPUMins == Infinite && node.GrpTRESMins[cpuIdx] != Infinite {
		limit := node.GrpTRESMins[cpuIdx]
		switch {
		case usageMins >= limit:
			job.StateReason = WaitAssocGrpCPUMin
			return false
		case safeLimits && jobCPUTimeLimit+cpuRunMins > limit-usageMins:
			job.StateReason = WaitAssocGrpCPUMin
			return false
		}
	}

	if haveCPU && limitSourceAt(job.LimitSet.MinTRES, cpuIdx) != LimitAdminSet && node.GrpTRES[cpuIdx] != Infinite {
		limit := node.GrpTRES[cpuIdx]
		switch {
		case cpuCnt > limit:
			job.StateReason = WaitAssocGrpCPU
			return false
		case node.Usage.GrpUsedCPUs+cpuCnt > limit:
			job.StateReason = WaitAssocGrpCPU
			return false
		}
	}

	if !adminSetMemoryLimit && node.GrpMem != Infinite {
		switch {
		case jobMemory > node.GrpMem:
			job.StateReason = WaitAssocGrpMem
			return false
		case node.Usage.GrpUsedMem+jobMemory > node.GrpMem:
			job.StateReason = WaitAssocGrpMem
			return false
		}
	}

	if haveCPU && node.GrpTRESRunMins[cpuIdx] != Infinite {
		limit := node.GrpTRESRunMins[cpuIdx]
		if cpuRunMins+jobCPUTimeLimit > limit {
			job.StateReason = WaitAssocGrpCPURunMin
			return false
		}
	}

	if node.GrpNodes != Infinite {
		switch {
		case nodeCnt > node.GrpNodes:
			job.StateReason = WaitAssocGrpNode
			return false
		case node.Usage.GrpUsedNodes+nodeCnt > node.GrpNodes:
			job.StateReason = WaitAssocGrpNode
			return false
		}
	}

	if !first {
		return true
	}

	if haveCPU && eff.MaxCPUMinsPJ == Infinite && node.MaxTRESMinsPJ[cpuIdx] != Infinite {
		limit := node.MaxTRESMinsPJ[cpuIdx]
		if job.TimeLimit != NoVal && jobCPUTimeLimit > limit {
			job.StateReason = WaitAssocMaxCPUMinPerJob
			return false
		}
	}

	if haveCPU && eff.MaxCPUsPJ == Infinite && node.MaxTRESPJ[cpuIdx] != Infinite {
		if cpuCnt > node.MaxTRESPJ[cpuIdx] {
			job.StateReason = WaitAssocMaxCPUPerJob
			return false
		}
	}

	if eff.MaxNodesPJ == Infinite && node.MaxNodesPJ != Infinite {
		if nodeCnt > node.MaxNodesPJ {
			job.StateReason = WaitAssocMaxNodePerJob
			return false
		}
	}

	return true
}
