// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package acctpolicy

import "context"

// AdjustType names one of the four lifecycle deltas C4 applies.
type AdjustType int

const (
	AddSubmit AdjustType = iota
	RemSubmit
	JobBegin
	JobFini
)

// AddJobSubmit records a newly submitted job against its QOS pair and
// association chain.
func (c *Ctx) AddJobSubmit(ctx context.Context, job *Job) error {
	return c.adjust(ctx, AddSubmit, job)
}

// RemoveJobSubmit withdraws a submitted-but-not-yet-begun job (it was
// aborted before JobBegin).
func (c *Ctx) RemoveJobSubmit(ctx context.Context, job *Job) error {
	return c.adjust(ctx, RemSubmit, job)
}

// JobBeginAccounting records a job transitioning to running.
func (c *Ctx) JobBeginAccounting(ctx context.Context, job *Job) error {
	return c.adjust(ctx, JobBegin, job)
}

// JobFiniAccounting records a job finishing. The priority-end hook fires
// after the lock releases (spec §4.2, §5).
func (c *Ctx) JobFiniAccounting(ctx context.Context, job *Job) error {
	// Double-fini guard: EndTimeExp == NoVal means this job has already
	// been finalized once (spec §4.2).
	if job.EndTimeExp == NoVal {
		return nil
	}

	if err := c.adjust(ctx, JobFini, job); err != nil {
		return err
	}

	job.EndTimeExp = NoVal

	if c.Hooks.Priority != nil {
		c.Hooks.Priority.JobEnd(ctx, job)
	}
	return nil
}

// adjust implements C4: resolve the association, acquire the write lock,
// apply the delta to both QOS slots then up the association chain to
// (excluding) the root.
func (c *Ctx) adjust(ctx context.Context, kind AdjustType, job *Job) error {
	if !c.enforced() {
		return nil
	}

	if err := c.bindAssoc(ctx, job); err != nil {
		// spec §4.2: "if that fails, return without mutation" — this is
		// not an error to the caller, just a no-op.
		return nil
	}

	if kind == JobBegin {
		job.UsedCPURunSecs = job.TotalCPUs * job.TimeLimit * 60
	}

	c.withWriteLock(func() {
		order := ResolveQOSOrder(job.QOS, partitionQOS(job))
		for _, q := range order.List() {
			c.adjustQOS(kind, job, q)
		}
		WalkChain(job.Assoc, func(node *Association, first bool) bool {
			c.adjustAssoc(kind, job, node)
			return false
		})
	})

	return nil
}

func partitionQOS(job *Job) *QoS {
	if job.Partition == nil {
		return nil
	}
	return job.Partition.QOS
}

func (c *Ctx) adjustQOS(kind AdjustType, job *Job, q *QoS) {
	ul := q.EnsureUsedLimits(job.UserID)
	jobMem := job.JobMemory()

	switch kind {
	case AddSubmit:
		q.Usage.GrpUsedSubmitJobs++
		ul.SubmitJobs++
	case RemSubmit:
		q.Usage.GrpUsedSubmitJobs = c.subU64(&q.Usage.GrpUsedSubmitJobs, 1, "qos", q.Name, "grp_used_submit_jobs")
		ul.SubmitJobs = c.subU64(&ul.SubmitJobs, 1, "qos", q.Name, "used_limits.submit_jobs")
	case JobBegin:
		q.Usage.GrpUsedJobs++
		q.Usage.GrpUsedCPUs += job.TotalCPUs
		q.Usage.GrpUsedMem += jobMem
		q.Usage.GrpUsedNodes += job.NodeCnt
		q.Usage.GrpUsedCPURunSecs += job.UsedCPURunSecs
		ul.Jobs++
		ul.CPUs += job.TotalCPUs
		ul.Nodes += job.NodeCnt
	case JobFini:
		q.Usage.GrpUsedJobs = c.subU64(&q.Usage.GrpUsedJobs, 1, "qos", q.Name, "grp_used_jobs")
		q.Usage.GrpUsedCPUs = c.subU64(&q.Usage.GrpUsedCPUs, job.TotalCPUs, "qos", q.Name, "grp_used_cpus")
		q.Usage.GrpUsedMem = c.subU64(&q.Usage.GrpUsedMem, jobMem, "qos", q.Name, "grp_used_mem")
		q.Usage.GrpUsedNodes = c.subU64(&q.Usage.GrpUsedNodes, job.NodeCnt, "qos", q.Name, "grp_used_nodes")
		q.Usage.GrpUsedCPURunSecs = c.subU64(&q.Usage.GrpUsedCPURunSecs, job.UsedCPURunSecs, "qos", q.Name, "grp_used_cpu_run_secs")
		ul.Jobs = c.subU64(&ul.Jobs, 1, "qos", q.Name, "used_limits.jobs")
		ul.CPUs = c.subU64(&ul.CPUs, job.TotalCPUs, "qos", q.Name, "used_limits.cpus")
		ul.Nodes = c.subU64(&ul.Nodes, job.NodeCnt, "qos", q.Name, "used_limits.nodes")
	}
}

func (c *Ctx) adjustAssoc(kind AdjustType, job *Job, a *Association) {
	jobMem := job.JobMemory()

	switch kind {
	case AddSubmit:
		a.Usage.UsedSubmitJobs++
	case RemSubmit:
		a.Usage.UsedSubmitJobs = c.subU64(&a.Usage.UsedSubmitJobs, 1, "assoc", a.Account, "used_submit_jobs")
	case JobBegin:
		a.Usage.UsedJobs++
		a.Usage.GrpUsedCPUs += job.TotalCPUs
		a.Usage.GrpUsedMem += jobMem
		a.Usage.GrpUsedNodes += job.NodeCnt
		a.Usage.GrpUsedCPURunSecs += job.UsedCPURunSecs
	case JobFini:
		a.Usage.UsedJobs = c.subU64(&a.Usage.UsedJobs, 1, "assoc", a.Account, "used_jobs")
		a.Usage.GrpUsedCPUs = c.subU64(&a.Usage.GrpUsedCPUs, job.TotalCPUs, "assoc", a.Account, "grp_used_cpus")
		a.Usage.GrpUsedMem = c.subU64(&a.Usage.GrpUsedMem, jobMem, "assoc", a.Account, "grp_used_mem")
		a.Usage.GrpUsedNodes = c.subU64(&a.Usage.GrpUsedNodes, job.NodeCnt, "assoc", a.Account, "grp_used_nodes")
		a.Usage.GrpUsedCPURunSecs = c.subU64(&a.Usage.GrpUsedCPURunSecs, job.UsedCPURunSecs, "assoc", a.Account, "grp_used_cpu_run_secs")
	}
}

// subU64 is the saturating scalar subtract used throughout C4: it clamps
// at zero instead of wrapping and queues a debug log on underflow (spec
// §4.2 "all three decremented with saturating arithmetic; log an
// underflow warning but never wrap").
func (c *Ctx) subU64(counter *uint64, delta uint64, scope, name, field string) uint64 {
	result, underflowed := subSaturating(*counter, delta)
	if underflowed {
		c.queueLog("debug", "counter underflow clamped at zero",
			"scope", scope, "name", name, "field", field,
			"value", *counter, "delta", delta)
		c.Metrics.RecordUnderflow(field)
	}
	return result
}

// AlterJob implements acct_policy_alter_job: the only edge that mutates a
// counter for an already-running job. It swaps GrpUsedCPURunSecs by the
// difference between the job's old and new time limit (spec §3 Invariant
// 4, §8 property P3).
func (c *Ctx) AlterJob(ctx context.Context, job *Job, newTimeLimit uint64) error {
	if !c.enforced() {
		job.TimeLimit = newTimeLimit
		return nil
	}

	if err := c.bindAssoc(ctx, job); err != nil {
		job.TimeLimit = newTimeLimit
		return nil
	}

	oldRunSecs := job.UsedCPURunSecs
	newRunSecs := job.TotalCPUs * newTimeLimit * 60

	c.withWriteLock(func() {
		order := ResolveQOSOrder(job.QOS, partitionQOS(job))
		for _, q := range order.List() {
			q.Usage.GrpUsedCPURunSecs = swapCPURunSecs(q.Usage.GrpUsedCPURunSecs, oldRunSecs, newRunSecs, c, "qos", q.Name)
		}
		WalkChain(job.Assoc, func(node *Association, first bool) bool {
			node.Usage.GrpUsedCPURunSecs = swapCPURunSecs(node.Usage.GrpUsedCPURunSecs, oldRunSecs, newRunSecs, c, "assoc", node.Account)
			return false
		})
	})

	job.UsedCPURunSecs = newRunSecs
	job.TimeLimit = newTimeLimit
	return nil
}

func swapCPURunSecs(current, oldVal, newVal uint64, c *Ctx, scope, name string) uint64 {
	after, underflowed := subSaturating(current, oldVal)
	if underflowed {
		c.queueLog("debug", "counter underflow clamped at zero during alter_job",
			"scope", scope, "name", name, "field", "grp_used_cpu_run_secs")
		c.Metrics.RecordUnderflow("grp_used_cpu_run_secs")
	}
	return after + newVal
}
