// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package acctpolicy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCtxWithTree() (*Ctx, *Association, *Association, *Association) {
	c := testCtx()
	root := &Association{ID: 1, Account: "root"}
	account := &Association{ID: 2, Account: "physics", Parent: root}
	user := &Association{ID: 3, Account: "physics", User: "alice", Parent: account}
	c.Assoc = NewAssociationTable(root)
	c.Assoc.Insert(account)
	c.Assoc.Insert(user)
	return c, root, account, user
}

func TestAdjust_AddSubmit_UpdatesAssocChainNotRoot(t *testing.T) {
	c, root, account, user := testCtxWithTree()
	job := &Job{ID: 1, UserID: 7, Assoc: user}

	err := c.AddJobSubmit(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), user.Usage.UsedSubmitJobs)
	assert.Equal(t, uint64(1), account.Usage.UsedSubmitJobs)
	assert.Equal(t, uint64(0), root.Usage.UsedSubmitJobs, "the synthetic root is never touched")
}

func TestAdjust_RemSubmit_SaturatesAtZero(t *testing.T) {
	c, _, _, user := testCtxWithTree()
	job := &Job{ID: 1, UserID: 7, Assoc: user}

	err := c.RemoveJobSubmit(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), user.Usage.UsedSubmitJobs, "must clamp at zero, not wrap")
}

func TestAdjust_JobBegin_AccumulatesQOSAndAssocUsage(t *testing.T) {
	c, _, account, user := testCtxWithTree()
	qos := &QoS{Name: "normal"}
	job := &Job{
		ID: 1, UserID: 7, Assoc: user, QOS: qos,
		TotalCPUs: 8, NodeCnt: 2, TimeLimit: 60,
	}

	err := c.JobBeginAccounting(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, uint64(8*60*60), job.UsedCPURunSecs)
	assert.Equal(t, uint64(1), qos.Usage.GrpUsedJobs)
	assert.Equal(t, uint64(8), qos.Usage.GrpUsedCPUs)
	assert.Equal(t, uint64(2), qos.Usage.GrpUsedNodes)

	ul, ok := qos.LookupUsedLimits(7)
	require.True(t, ok)
	assert.Equal(t, uint64(1), ul.Jobs)
	assert.Equal(t, uint64(8), ul.CPUs)

	assert.Equal(t, uint64(1), user.Usage.UsedJobs)
	assert.Equal(t, uint64(8), user.Usage.GrpUsedCPUs)
	assert.Equal(t, uint64(1), account.Usage.UsedJobs, "group-scope usage propagates up the chain")
}

func TestAdjust_JobFini_UndoesJobBegin(t *testing.T) {
	c, _, _, user := testCtxWithTree()
	qos := &QoS{Name: "normal"}
	job := &Job{ID: 1, UserID: 7, Assoc: user, QOS: qos, TotalCPUs: 4, NodeCnt: 1, TimeLimit: 30}

	require.NoError(t, c.JobBeginAccounting(context.Background(), job))
	require.NoError(t, c.JobFiniAccounting(context.Background(), job))

	assert.Equal(t, uint64(0), qos.Usage.GrpUsedJobs)
	assert.Equal(t, uint64(0), user.Usage.UsedJobs)
	assert.Equal(t, NoVal, job.EndTimeExp)
}

func TestJobFiniAccounting_DoubleFiniGuard(t *testing.T) {
	c, _, _, user := testCtxWithTree()
	job := &Job{ID: 1, UserID: 7, Assoc: user, TotalCPUs: 4, NodeCnt: 1}
	require.NoError(t, c.JobBeginAccounting(context.Background(), job))
	require.NoError(t, c.JobFiniAccounting(context.Background(), job))

	before := user.Usage.UsedJobs
	require.NoError(t, c.JobFiniAccounting(context.Background(), job), "a second fini on an already-finalized job must be a no-op")
	assert.Equal(t, before, user.Usage.UsedJobs)
}

func TestAdjust_NotEnforced_IsNoOp(t *testing.T) {
	c, _, _, user := testCtxWithTree()
	c.Config.Enforce = 0
	job := &Job{ID: 1, UserID: 7, Assoc: user}

	require.NoError(t, c.AddJobSubmit(context.Background(), job))
	assert.Equal(t, uint64(0), user.Usage.UsedSubmitJobs)
}

func TestAlterJob_SwapsCPURunSecs(t *testing.T) {
	c, _, _, user := testCtxWithTree()
	qos := &QoS{Name: "normal"}
	job := &Job{ID: 1, UserID: 7, Assoc: user, QOS: qos, TotalCPUs: 2, TimeLimit: 60}
	require.NoError(t, c.JobBeginAccounting(context.Background(), job))

	oldRunSecs := job.UsedCPURunSecs
	require.NoError(t, c.AlterJob(context.Background(), job, 120))

	assert.Equal(t, uint64(120), job.TimeLimit)
	assert.NotEqual(t, oldRunSecs, job.UsedCPURunSecs)
	assert.Equal(t, uint64(2*120*60), job.UsedCPURunSecs)
	assert.Equal(t, job.UsedCPURunSecs, qos.Usage.GrpUsedCPURunSecs)
	assert.Equal(t, job.UsedCPURunSecs, user.Usage.GrpUsedCPURunSecs)
}

func TestAlterJob_NotEnforced_StillSetsTimeLimit(t *testing.T) {
	c, _, _, user := testCtxWithTree()
	c.Config.Enforce = 0
	job := &Job{ID: 1, UserID: 7, Assoc: user, TimeLimit: 30}

	require.NoError(t, c.AlterJob(context.Background(), job, 90))
	assert.Equal(t, uint64(90), job.TimeLimit)
}
