// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package acctpolicy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jrandall/slurm/pkg/config"
)

func runningJobFixture() (c *Ctx, job *Job, assoc *Association, now time.Time) {
	c, job, assoc = testValidateFixture()
	now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	job.StartTime = now.Add(-2 * time.Hour) // 120 minutes elapsed
	job.TotalCPUs = 4
	return c, job, assoc, now
}

func TestJobTimeOut_NotEnforced_NeverTimesOut(t *testing.T) {
	c, job, _, now := runningJobFixture()
	c.Config.Enforce = 0
	assert.False(t, c.JobTimeOut(job, now))
}

func TestJobTimeOut_SafeLimitsDisablesCheckEntirely(t *testing.T) {
	c, job, assoc, now := runningJobFixture()
	c.Config.Enforce |= config.EnforceSafe
	assoc.GrpWall = 1                 // would otherwise trip immediately
	assoc.Usage.GrpUsedWall = 60 * 60 // seconds -> 60 minutes, well past the limit

	assert.False(t, c.JobTimeOut(job, now), "safe-limits mode must disable the time-out killer entirely")
}

func TestJobTimeOut_AdmitsWithinAllLimits(t *testing.T) {
	c, job, _, now := runningJobFixture()
	assert.False(t, c.JobTimeOut(job, now))
}

func TestJobTimeOut_TripsOnAssocGrpCPUMins(t *testing.T) {
	c, job, assoc, now := runningJobFixture()
	cpuIdx, _ := c.TRES.IndexOf(TRESCPU)
	assoc.GrpTRESMins[cpuIdx] = 60 // usageMins (node.Usage.UsageRaw/60) starts at 0, but we set used directly
	assoc.Usage.UsageRaw = 61 * 60 // seconds, so usageMins=61 >= 60

	ok := c.JobTimeOut(job, now)
	assert.True(t, ok)
	assert.Equal(t, WaitFailTimeout, job.StateReason)
}

func TestJobTimeOut_TripsOnAssocGrpWall(t *testing.T) {
	c, job, assoc, now := runningJobFixture()
	assoc.GrpWall = 60
	assoc.Usage.GrpUsedWall = 60 * 60 // seconds -> 60 minutes, meets the limit

	assert.True(t, c.JobTimeOut(job, now))
}

func TestJobTimeOut_TripsOnAssocMaxCPUMinsPerJob(t *testing.T) {
	c, job, assoc, now := runningJobFixture()
	cpuIdx, _ := c.TRES.IndexOf(TRESCPU)
	// elapsedMins=120, TotalCPUs=4 -> jobCPUUsageMins=480
	assoc.MaxTRESMinsPJ[cpuIdx] = 400

	ok := c.JobTimeOut(job, now)
	assert.True(t, ok)
}

func TestJobTimeOut_MaxCPUMinsPerJobAppliesAtEveryLevel(t *testing.T) {
	c, job, assoc, now := runningJobFixture()
	cpuIdx, _ := c.TRES.IndexOf(TRESCPU)
	parent := assoc.Parent
	parent.MaxTRESMinsPJ[cpuIdx] = 400

	assert.True(t, c.JobTimeOut(job, now), "unlike the per-job-scope checks in C5-C7, max_cpu_mins_pj in the time-out evaluator applies at every association level")
}

func TestJobTimeOut_TripsOnQOSGrpWall(t *testing.T) {
	c, job, _, now := runningJobFixture()
	qos := noLimitQOS(c.TRES, "normal")
	qos.GrpWall = 60
	qos.Usage.GrpUsedWall = 60 * 60
	job.QOS = qos

	assert.True(t, c.JobTimeOut(job, now))
}

func TestJobTimeOut_SetsFailTimeoutReasonOnlyWhenTripped(t *testing.T) {
	c, job, _, now := runningJobFixture()
	job.StateReason = WaitNoReason

	assert.False(t, c.JobTimeOut(job, now))
	assert.Equal(t, WaitNoReason, job.StateReason, "an untripped check must not overwrite the existing reason")
}

func TestJobTimeOut_RecordsTimeoutMetricOnlyWhenTripped(t *testing.T) {
	c, job, assoc, now := runningJobFixture()
	fc := &fakeCollector{}
	c.Metrics = fc
	job.PartitionName = "debug"

	assert.False(t, c.JobTimeOut(job, now))
	assert.Empty(t, fc.timeouts)

	assoc.GrpWall = 60
	assoc.Usage.GrpUsedWall = 60 * 60 // seconds -> 60 minutes, meets the limit
	assert.True(t, c.JobTimeOut(job, now))
	assert.Equal(t, []string{"debug"}, fc.timeouts)
}

func TestJobTimeOut_StampsLastJobUpdateOnlyWhenTripped(t *testing.T) {
	c, job, assoc, now := runningJobFixture()
	assert.True(t, c.LastJobUpdate().IsZero())

	assert.False(t, c.JobTimeOut(job, now))
	assert.True(t, c.LastJobUpdate().IsZero(), "an untripped check must not stamp last_job_update")

	assoc.GrpWall = 60
	assoc.Usage.GrpUsedWall = 60 * 60 // seconds -> 60 minutes, meets the limit
	assert.True(t, c.JobTimeOut(job, now))
	assert.True(t, c.LastJobUpdate().Equal(now))
}
