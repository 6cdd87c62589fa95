// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package acctpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetMaxNodes_NotEnforced_ReturnsInfinite(t *testing.T) {
	c, job, _ := testValidateFixture()
	c.Config.Enforce = 0

	result := c.GetMaxNodes(job)
	assert.Equal(t, Infinite, result.MaxNodes)
	assert.Equal(t, WaitNoReason, result.WaitReason)
}

func TestGetMaxNodes_NoLimitsReturnsInfinite(t *testing.T) {
	c, job, _ := testValidateFixture()
	result := c.GetMaxNodes(job)
	assert.Equal(t, Infinite, result.MaxNodes)
}

func TestGetMaxNodes_QOSMaxNodesPJTighterThanPU(t *testing.T) {
	c, job, _ := testValidateFixture()
	qos := noLimitQOS(c.TRES, "normal")
	qos.MaxNodesPJ = 4
	job.QOS = qos

	result := c.GetMaxNodes(job)
	assert.Equal(t, uint64(4), result.MaxNodes)
	assert.Equal(t, WaitQOSMaxNodePerJob, result.WaitReason)
}

func TestGetMaxNodes_QOSGrpNodesTightensFurther(t *testing.T) {
	c, job, _ := testValidateFixture()
	qos := noLimitQOS(c.TRES, "normal")
	qos.MaxNodesPJ = 10
	qos.GrpNodes = 3
	job.QOS = qos

	result := c.GetMaxNodes(job)
	assert.Equal(t, uint64(3), result.MaxNodes)
	assert.Equal(t, WaitQOSGrpNode, result.WaitReason)
}

func TestGetMaxNodes_AssocGrpNodesWithNoQOS(t *testing.T) {
	c, job, assoc := testValidateFixture()
	assoc.GrpNodes = 2

	result := c.GetMaxNodes(job)
	assert.Equal(t, uint64(2), result.MaxNodes)
	assert.Equal(t, WaitAssocGrpNode, result.WaitReason)
}

func TestGetMaxNodes_AssocMaxNodesPJFirstLevelOnly(t *testing.T) {
	c, job, assoc := testValidateFixture()
	assoc.MaxNodesPJ = 3

	result := c.GetMaxNodes(job)
	assert.Equal(t, uint64(3), result.MaxNodes)
	assert.Equal(t, WaitAssocMaxNodePerJob, result.WaitReason)
}

func TestGetMaxNodes_ParentMaxNodesPJNeverConsulted(t *testing.T) {
	c, job, assoc := testValidateFixture()
	assoc.Parent.MaxNodesPJ = 1

	result := c.GetMaxNodes(job)
	assert.Equal(t, Infinite, result.MaxNodes, "max_nodes_pj is per-job scope and must not be consulted past the first association level")
}

func TestGetMaxNodes_ParentGrpNodesStillTightens(t *testing.T) {
	c, job, assoc := testValidateFixture()
	assoc.Parent.GrpNodes = 3

	result := c.GetMaxNodes(job)
	assert.Equal(t, uint64(3), result.MaxNodes, "grp_nodes is group scope and applies at every level, including parents")
	assert.Equal(t, WaitAssocGrpNode, result.WaitReason)
}

func TestGetMaxNodes_AssocGrpNodesStopsChainEarly(t *testing.T) {
	c, job, assoc := testValidateFixture()
	assoc.GrpNodes = 5
	assoc.Parent.GrpNodes = 1 // tighter, but must never be reached once a grp limit trips

	result := c.GetMaxNodes(job)
	assert.Equal(t, uint64(5), result.MaxNodes, "once a group-scope node limit is found the chain walk stops immediately")
}
