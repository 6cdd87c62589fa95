// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package acctpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrandall/slurm/pkg/config"
)

func testCtx() *Ctx {
	cfg := &config.Config{Enforce: config.EnforceLimits, TRESCatalogue: []string{TRESCPU, TRESMem, TRESNode, TRESEnergy}}
	cat := testCatalogue()
	root := &Association{ID: 1, Account: "root"}
	table := NewAssociationTable(root)
	return NewCtx(cfg, cat, table, Hooks{}, nil, nil)
}

func TestNewCtx_NilCollaboratorsDefaultToNoOp(t *testing.T) {
	c := testCtx()
	require.NotNil(t, c.Logger)
	require.NotNil(t, c.Metrics)

	assert.NotPanics(t, func() {
		c.Logger.Info("hello")
		c.Metrics.RecordAdmit("debug")
	})
}

func TestCtx_Enforced(t *testing.T) {
	c := testCtx()
	assert.True(t, c.enforced())

	c.Config.Enforce = 0
	assert.False(t, c.enforced())
}

func TestCtx_SafeMode(t *testing.T) {
	c := testCtx()
	assert.False(t, c.safeMode())

	c.Config.Enforce |= config.EnforceSafe
	assert.True(t, c.safeMode())
}

func TestCtx_QueueLogAndFlushLogs(t *testing.T) {
	c := testCtx()
	c.queueLog("warn", "held for %s", "grp_cpus")
	c.queueLog("debug", "ignored")

	require.Len(t, c.pendingLogs, 2)
	c.flushLogs()
	assert.Empty(t, c.pendingLogs, "flush must drain the queue")
}

func TestCtx_WithReadLock_FlushesAfterUnlock(t *testing.T) {
	c := testCtx()
	var sawDuringLock int
	c.withReadLock(func() {
		c.queueLog("info", "inside lock")
		sawDuringLock = len(c.pendingLogs)
	})
	assert.Equal(t, 1, sawDuringLock)
	assert.Empty(t, c.pendingLogs, "logs must be flushed once the lock releases")
}

func TestCtx_WithWriteLock_FlushesAfterUnlock(t *testing.T) {
	c := testCtx()
	c.withWriteLock(func() {
		c.queueLog("info", "mutating")
	})
	assert.Empty(t, c.pendingLogs)
}
