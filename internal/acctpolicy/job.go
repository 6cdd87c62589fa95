// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package acctpolicy

import "time"

// MemPerCPU is the flag bit on PnMinMemory indicating the value is a
// per-cpu amount rather than a per-node amount (spec §3 job memory rule).
const MemPerCPU uint64 = 1 << 63

// JobState is the coarse lifecycle state the engine reads/writes.
type JobState int

const (
	JobStatePending JobState = iota
	JobStateRunning
	JobStateCompleted
)

// WaitReason is a code explaining why a pending job is not runnable. The
// contiguous range [WaitQOSGrpCPU, WaitAssocMaxSubJob] is the "held for
// accounting policy" predicate range relied on by JobRunnableState; do
// not insert unrelated codes inside it (spec §6 "Wait-reason codes").
type WaitReason int

const (
	WaitNoReason WaitReason = iota

	// the contiguous accounting-policy hold range begins here
	WaitQOSGrpCPU
	WaitQOSGrpCPUMin
	WaitQOSGrpCPURunMin
	WaitQOSGrpJob
	WaitQOSGrpMem
	WaitQOSGrpNode
	WaitQOSGrpSubJob
	WaitQOSGrpWall
	WaitQOSMaxCPUPerJob
	WaitQOSMaxCPUPerUser
	WaitQOSMaxCPUMinPerJob
	WaitQOSMaxJobPerUser
	WaitQOSMaxNodePerJob
	WaitQOSMaxNodePerUser
	WaitQOSMaxSubJob
	WaitQOSMaxWallPerJob
	WaitQOSMinCPU
	WaitAssocGrpCPU
	WaitAssocGrpCPUMin
	WaitAssocGrpCPURunMin
	WaitAssocGrpJob
	WaitAssocGrpMem
	WaitAssocGrpNode
	WaitAssocGrpSubJob
	WaitAssocGrpWall
	WaitAssocMaxCPUPerJob
	WaitAssocMaxCPUMinPerJob
	WaitAssocMaxJobs
	WaitAssocMaxNodePerJob
	WaitAssocMaxWallPerJob
	WaitAssocMaxSubJob
	// the contiguous accounting-policy hold range ends here

	WaitFailAccount
	WaitFailTimeout
)

// IsAccountingHold reports whether reason falls in the contiguous
// "held for accounting policy" range.
func (r WaitReason) IsAccountingHold() bool {
	return r >= WaitQOSGrpCPU && r <= WaitAssocMaxSubJob
}

var waitReasonNames = map[WaitReason]string{
	WaitNoReason:            "none",
	WaitQOSGrpCPU:           "qos_grp_cpu",
	WaitQOSGrpCPUMin:        "qos_grp_cpu_min",
	WaitQOSGrpCPURunMin:     "qos_grp_cpu_run_min",
	WaitQOSGrpJob:           "qos_grp_job",
	WaitQOSGrpMem:           "qos_grp_mem",
	WaitQOSGrpNode:          "qos_grp_node",
	WaitQOSGrpSubJob:        "qos_grp_sub_job",
	WaitQOSGrpWall:          "qos_grp_wall",
	WaitQOSMaxCPUPerJob:     "qos_max_cpu_per_job",
	WaitQOSMaxCPUPerUser:    "qos_max_cpu_per_user",
	WaitQOSMaxCPUMinPerJob:  "qos_max_cpu_min_per_job",
	WaitQOSMaxJobPerUser:    "qos_max_job_per_user",
	WaitQOSMaxNodePerJob:    "qos_max_node_per_job",
	WaitQOSMaxNodePerUser:   "qos_max_node_per_user",
	WaitQOSMaxSubJob:        "qos_max_sub_job",
	WaitQOSMaxWallPerJob:    "qos_max_wall_per_job",
	WaitQOSMinCPU:           "qos_min_cpu",
	WaitAssocGrpCPU:         "assoc_grp_cpu",
	WaitAssocGrpCPUMin:      "assoc_grp_cpu_min",
	WaitAssocGrpCPURunMin:   "assoc_grp_cpu_run_min",
	WaitAssocGrpJob:         "assoc_grp_job",
	WaitAssocGrpMem:         "assoc_grp_mem",
	WaitAssocGrpNode:        "assoc_grp_node",
	WaitAssocGrpSubJob:      "assoc_grp_sub_job",
	WaitAssocGrpWall:        "assoc_grp_wall",
	WaitAssocMaxCPUPerJob:   "assoc_max_cpu_per_job",
	WaitAssocMaxCPUMinPerJob: "assoc_max_cpu_min_per_job",
	WaitAssocMaxJobs:        "assoc_max_jobs",
	WaitAssocMaxNodePerJob:  "assoc_max_node_per_job",
	WaitAssocMaxWallPerJob:  "assoc_max_wall_per_job",
	WaitAssocMaxSubJob:      "assoc_max_sub_job",
	WaitFailAccount:         "fail_account",
	WaitFailTimeout:         "fail_timeout",
}

// String renders r as the wire-format/metric-label name used by the
// admin server's JSON responses and by the Collector's limit labels.
func (r WaitReason) String() string {
	if name, ok := waitReasonNames[r]; ok {
		return name
	}
	return "unknown"
}

// LimitSet is the per-field provenance record on a job (spec §3).
type LimitSet struct {
	Time     LimitSource
	MaxNodes LimitSource
	MaxTRES  []LimitSource
	MinTRES  []LimitSource
	MinNodes LimitSource
}

// Job carries only the fields the engine reads or writes.
type Job struct {
	ID        uint32
	UserID    uint32
	Assoc     *Association
	QOS       *QoS
	Partition *Partition

	// Request.
	TimeLimit    uint64 // minutes; NoVal if unspecified
	MinNodes     uint64
	MaxNodes     uint64
	TRESReq      Vector
	PnMinMemory  uint64 // top bit is MemPerCPU

	// Allocation, filled in by the (external) selector.
	TotalCPUs      uint64
	NodeCnt        uint64
	StartTime      time.Time
	TotSusTime     time.Duration
	// UsedCPURunSecs is cpu-seconds reserved for the job's full time
	// limit (TotalCPUs * TimeLimit * 60), recomputed on JOB_BEGIN and
	// swapped in place by AlterJob when the time limit changes.
	UsedCPURunSecs uint64

	// Policy state.
	State      JobState
	StateReason WaitReason
	StateDesc   string
	EndTimeExp  uint64 // NoVal suppresses a second JOB_FINI (double-fini guard)
	LimitSet    LimitSet

	// Account/partition identity used for re-binding when Assoc is nil
	// or stale (spec §4.2's "attempt to re-bind by (account, partition, uid)").
	AccountName   string
	PartitionName string
}

// JobMemory computes the job's total requested memory per spec §3: when
// MemPerCPU is set, it is PnMinMemory-without-the-flag times TotalCPUs;
// otherwise it is PnMinMemory times NodeCnt. A zero PnMinMemory always
// yields zero.
func (j *Job) JobMemory() uint64 {
	if j.PnMinMemory == 0 {
		return 0
	}
	if j.PnMinMemory&MemPerCPU != 0 {
		return (j.PnMinMemory &^ MemPerCPU) * j.TotalCPUs
	}
	return j.PnMinMemory * j.NodeCnt
}

// Partition carries the fields the engine reads.
type Partition struct {
	Name    string
	MaxTime uint64 // minutes; NoVal means unset
	QOS     *QoS
}
