// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package acctpolicy

import "github.com/google/uuid"

// Validate implements C5, the submit-time validator (spec.md §4.3): it
// checks a job descriptor against its QOS pair and association chain,
// clipping job.TimeLimit to the tightest applicable cap and writing the
// first tripped limit into reason. It returns false on deny.
//
// reason may be nil, in which case the caller only wants clipping and
// soft (non-DENY_LIMIT) violations are not treated as failures unless a
// QOS in play carries DENY_LIMIT (spec.md §4.3 "strict_checking").
//
// Every call is tagged with a fresh decision trace ID (spec.md §3
// domain stack) carried on each log line this call queues, so a caller
// correlating the engine's deferred log queue with an emitted event
// (e.g. internal/server's websocket stream) can tell which Validate
// invocation produced which line.
func (c *Ctx) Validate(job *Job, part *Partition, reason *WaitReason, updateCall bool) bool {
	var ok bool
	traceID := uuid.New().String()
	c.withReadLock(func() {
		ok = c.validate(job, part, reason, updateCall, traceID)
	})
	if ok {
		if job.LimitSet.Time == LimitPolicySet {
			c.Metrics.RecordClip(job.PartitionName, "time_limit")
		} else {
			c.Metrics.RecordAdmit(job.PartitionName)
		}
	}
	return ok
}

func (c *Ctx) validate(job *Job, part *Partition, reason *WaitReason, updateCall bool, traceID string) bool {
	if job.Assoc == nil {
		c.queueLog("warn", "validate called with no resolved association", "trace_id", traceID)
		return false
	}

	order := ResolveQOSOrder(job.QOS, partitionQOS(job))
	strictChecking := order.StrictChecking(reason != nil)
	eff := NewEffectiveQOS(c.TRES)

	jobCnt := uint64(1)
	memIdx, haveMem := c.TRES.IndexOf(TRESMem)
	var jobMemory uint64
	if haveMem {
		jobMemory = job.TRESReq[memIdx]
	}

	for _, q := range order.List() {
		if !c.validateQOSLimits(job, part, q, eff, reason, updateCall, jobMemory, jobCnt, strictChecking, traceID) {
			return false
		}
	}

	if order.Primary == nil {
		strictChecking = reason != nil
	}

	first := true
	for node := job.Assoc; node != nil && !node.IsRoot(); node = node.Parent {
		if !c.validateAssocLimits(job, part, node, eff, reason, updateCall, jobCnt, strictChecking, first, traceID) {
			return false
		}
		first = false
	}

	return true
}

// validateQOSLimits is _qos_policy_validate (spec.md §4.3 step 1),
// evaluated once per QOS in ascending (primary, secondary) order against
// the shared eff scratch so the first QOS to narrow a field freezes it
// for the second (spec.md §4.1 "first wins, second fills").
func (c *Ctx) validateQOSLimits(job *Job, part *Partition, q, eff *QoS, reason *WaitReason, updateCall bool, jobMemory, jobCnt uint64, strictChecking bool, traceID string) bool {
	if q == nil {
		return true
	}

	cpuIdx, haveCPU := c.TRES.IndexOf(TRESCPU)
	var jobCPUReq uint64 = NoVal
	if haveCPU {
		jobCPUReq = job.TRESReq[cpuIdx]
	}

	qosMaxCPUsLimit := minU64(q.GrpCPUs, q.MaxCPUsPU)
	effMaxCPUsLimit := minU64(eff.GrpCPUs, eff.MaxCPUsPU)

	switch {
	case !haveCPU:
		// no cpu axis in this catalogue; nothing to check
	case limitSourceAt(job.LimitSet.MaxTRES, cpuIdx) == LimitAdminSet,
		effMaxCPUsLimit != Infinite,
		qosMaxCPUsLimit == Infinite,
		updateCall && jobCPUReq == NoVal:
		// no need to check/set
	case strictChecking && jobCPUReq != NoVal:
		if eff.MaxCPUsPU == Infinite {
			eff.MaxCPUsPU = q.MaxCPUsPU
		}
		if eff.GrpCPUs == Infinite {
			eff.GrpCPUs = q.GrpCPUs
		}
		if jobCPUReq > q.MaxCPUsPU {
			setReason(reason, WaitQOSMaxCPUPerUser)
			c.queueLog("debug", "per-user cpu cap exceeded", "qos", q.Name, "user_id", job.UserID, "requested", jobCPUReq, "limit", q.MaxCPUsPU, "trace_id", traceID)
			return false
		} else if jobCPUReq > q.GrpCPUs {
			setReason(reason, WaitQOSGrpCPU)
			c.queueLog("debug", "group cpu cap exceeded", "qos", q.Name, "requested", jobCPUReq, "limit", q.GrpCPUs, "trace_id", traceID)
			return false
		}
	}

	if limitSourceAt(job.LimitSet.MaxTRES, memIdxOr(c)) != LimitAdminSet && strictChecking &&
		eff.GrpMem == Infinite && q.GrpMem != Infinite {
		eff.GrpMem = q.GrpMem
		if jobMemory > q.GrpMem {
			setReason(reason, WaitQOSGrpMem)
			c.queueLog("debug", "group memory cap exceeded", "qos", q.Name, "requested", jobMemory, "limit", q.GrpMem, "trace_id", traceID)
			return false
		}
	}

	qosMaxNodesLimit := minU64(q.GrpNodes, q.MaxNodesPU)
	effMaxNodesLimit := minU64(eff.GrpNodes, eff.MaxNodesPU)

	switch {
	case job.LimitSet.MaxNodes == LimitAdminSet,
		effMaxNodesLimit != Infinite,
		qosMaxNodesLimit == Infinite,
		updateCall && job.MaxNodes == NoVal:
		// no need to check/set
	case strictChecking && job.MinNodes != NoVal:
		if eff.MaxNodesPU == Infinite {
			eff.MaxNodesPU = q.MaxNodesPU
		}
		if eff.GrpNodes == Infinite {
			eff.GrpNodes = q.GrpNodes
		}
		if job.MinNodes > q.MaxNodesPU {
			setReason(reason, WaitQOSMaxNodePerUser)
			return false
		} else if job.MinNodes > q.GrpNodes {
			setReason(reason, WaitQOSGrpNode)
			return false
		}
	}

	if eff.GrpSubmitJobs == Infinite && q.GrpSubmitJobs != Infinite {
		eff.GrpSubmitJobs = q.GrpSubmitJobs
		if q.Usage.GrpUsedSubmitJobs+jobCnt > q.GrpSubmitJobs {
			setReason(reason, WaitQOSGrpSubJob)
			return false
		}
	}

	qosTimeLimit := Infinite
	if (jobCPUReq != NoVal || job.MinNodes != NoVal) && eff.MaxCPUMinsPJ == Infinite && q.MaxCPUMinsPJ != Infinite {
		cpuCnt := job.MinNodes
		eff.MaxCPUMinsPJ = q.MaxCPUMinsPJ
		if job.MinNodes == NoVal || jobCPUReq > job.MinNodes {
			cpuCnt = jobCPUReq
		}
		if cpuCnt != 0 && cpuCnt != NoVal {
			qosTimeLimit = q.MaxCPUMinsPJ / cpuCnt
		}
	}

	switch {
	case !haveCPU:
	case limitSourceAt(job.LimitSet.MaxTRES, cpuIdx) == LimitAdminSet,
		eff.MaxCPUsPJ != Infinite,
		q.MaxCPUsPJ == Infinite,
		updateCall && jobCPUReq == NoVal:
		// no need to check/set
	case strictChecking && jobCPUReq != NoVal:
		eff.MaxCPUsPJ = q.MaxCPUsPJ
		if jobCPUReq > q.MaxCPUsPJ {
			setReason(reason, WaitQOSMaxCPUPerJob)
			return false
		}
	}

	switch {
	case job.LimitSet.MaxNodes == LimitAdminSet,
		eff.MaxNodesPJ != Infinite,
		q.MaxNodesPJ == Infinite,
		updateCall && job.MaxNodes == NoVal:
		// no need to check/set
	case strictChecking && job.MinNodes != NoVal:
		eff.MaxNodesPJ = q.MaxNodesPJ
		if job.MinNodes > q.MaxNodesPJ {
			setReason(reason, WaitQOSMaxNodePerJob)
			return false
		}
	}

	if eff.MaxSubmitJobsPU == Infinite && q.MaxSubmitJobsPU != Infinite {
		ul, exists := q.LookupUsedLimits(job.UserID)
		eff.MaxSubmitJobsPU = q.MaxSubmitJobsPU
		if (!exists && q.MaxSubmitJobsPU == 0) || (exists && ul.SubmitJobs+jobCnt > q.MaxSubmitJobsPU) {
			setReason(reason, WaitQOSMaxSubJob)
			return false
		}
	}

	switch {
	case job.LimitSet.Time == LimitAdminSet,
		eff.MaxWallPJ != Infinite,
		q.MaxWallPJ == Infinite,
		updateCall && job.TimeLimit == NoVal:
		// no need to check/set
	default:
		eff.MaxWallPJ = q.MaxWallPJ
		if qosTimeLimit > q.MaxWallPJ {
			qosTimeLimit = q.MaxWallPJ
		}
	}

	if qosTimeLimit != Infinite {
		switch {
		case job.TimeLimit == NoVal:
			if part == nil || part.MaxTime == Infinite {
				job.TimeLimit = qosTimeLimit
			} else {
				job.TimeLimit = minU64(qosTimeLimit, part.MaxTime)
			}
			job.LimitSet.Time = LimitPolicySet
		case job.LimitSet.Time == LimitPolicySet && job.TimeLimit > qosTimeLimit:
			job.TimeLimit = qosTimeLimit
		case strictChecking && job.TimeLimit > qosTimeLimit:
			setReason(reason, WaitQOSMaxWallPerJob)
			return false
		}
	}

	if haveCPU && strictChecking && eff.MinCPUsPJ == Infinite && q.MinCPUsPJ != Infinite {
		eff.MinCPUsPJ = q.MinCPUsPJ
		if jobCPUReq < q.MinCPUsPJ {
			setReason(reason, WaitQOSMinCPU)
			return false
		}
	}

	return true
}

// validateAssocLimits is the per-node body of the association chain walk
// in spec.md §4.3 step 2: group-scope limits (grp_tres, grp_nodes,
// grp_submit_jobs) apply at every level, per-job-scope limits
// (max_tres_pj, max_nodes_pj, max_submit_jobs, max_wall_pj) only at the
// first (non-parent) level, matching the pre-propagation rule.
func (c *Ctx) validateAssocLimits(job *Job, part *Partition, node *Association, eff *QoS, reason *WaitReason, updateCall bool, jobCnt uint64, strictChecking, first bool, traceID string) bool {
	if ok, _ := ValidateTRESLimits(c.TRES, job.TRESReq, node.GrpTRES, eff.GrpTRES, job.LimitSet.MaxTRES, strictChecking, updateCall); !ok {
		setReason(reason, WaitAssocGrpCPU)
		c.queueLog("debug", "association group tres limit exceeded", "account", node.Account, "trace_id", traceID)
		return false
	}

	switch {
	case job.LimitSet.MaxNodes == LimitAdminSet,
		eff.GrpNodes != Infinite,
		node.GrpNodes == Infinite,
		updateCall && job.MaxNodes == NoVal:
		// no need to check
	case strictChecking && job.MinNodes != NoVal && job.MinNodes > node.GrpNodes:
		setReason(reason, WaitAssocGrpNode)
		return false
	}

	if eff.GrpSubmitJobs == Infinite && node.GrpSubmitJobs != Infinite &&
		node.Usage.UsedSubmitJobs+jobCnt > node.GrpSubmitJobs {
		setReason(reason, WaitAssocGrpSubJob)
		return false
	}

	if !first {
		return true
	}

	if ok, _ := ValidateTRESLimits(c.TRES, job.TRESReq, node.MaxTRESPJ, eff.MaxTRESPJ, job.LimitSet.MaxTRES, strictChecking, updateCall); !ok {
		setReason(reason, WaitAssocMaxCPUPerJob)
		c.queueLog("debug", "association max tres per job limit exceeded", "account", node.Account, "trace_id", traceID)
		return false
	}

	switch {
	case job.LimitSet.MaxNodes == LimitAdminSet,
		eff.MaxNodesPJ != Infinite,
		node.MaxNodesPJ == Infinite,
		updateCall && job.MaxNodes == NoVal:
		// no need to check
	case strictChecking && job.MinNodes != NoVal && job.MinNodes > node.MaxNodesPJ:
		setReason(reason, WaitAssocMaxNodePerJob)
		return false
	}

	if eff.MaxSubmitJobsPU == Infinite && node.MaxSubmitJobs != Infinite &&
		node.Usage.UsedSubmitJobs+jobCnt > node.MaxSubmitJobs {
		setReason(reason, WaitAssocMaxSubJob)
		return false
	}

	switch {
	case job.LimitSet.Time == LimitAdminSet,
		eff.MaxWallPJ != Infinite,
		node.MaxWallPJ == Infinite,
		updateCall && job.TimeLimit == NoVal:
		// no need to check/set
	default:
		timeLimit := node.MaxWallPJ
		switch {
		case job.TimeLimit == NoVal:
			if part == nil || part.MaxTime == Infinite {
				job.TimeLimit = timeLimit
			} else {
				job.TimeLimit = minU64(timeLimit, part.MaxTime)
			}
			job.LimitSet.Time = LimitPolicySet
		case job.LimitSet.Time == LimitPolicySet && job.TimeLimit > timeLimit:
			job.TimeLimit = timeLimit
		case strictChecking && job.TimeLimit > timeLimit:
			setReason(reason, WaitAssocMaxWallPerJob)
			return false
		}
	}

	return true
}

func setReason(reason *WaitReason, code WaitReason) {
	if reason != nil {
		*reason = code
	}
}

func memIdxOr(c *Ctx) int {
	idx, ok := c.TRES.IndexOf(TRESMem)
	if !ok {
		return -1
	}
	return idx
}
