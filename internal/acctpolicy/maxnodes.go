// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package acctpolicy

// MaxNodesResult is the outcome of GetMaxNodes: the tightest node-count
// ceiling found, and which limit produced it.
type MaxNodesResult struct {
	MaxNodes   uint64
	WaitReason WaitReason
}

// GetMaxNodes implements C9a (spec.md §4.7): the tightest node-count cap a
// job may scale to, merging the QOS pair field-wise (INF as identity) and
// then tightening further against the association chain. Unlike the other
// checkers this never denies; it reports the binding ceiling and the
// reason that would apply if a future request exceeded it.
func (c *Ctx) GetMaxNodes(job *Job) MaxNodesResult {
	var result MaxNodesResult
	c.withReadLock(func() {
		result = c.getMaxNodes(job)
	})
	return result
}

func (c *Ctx) getMaxNodes(job *Job) MaxNodesResult {
	result := MaxNodesResult{MaxNodes: Infinite}
	if !c.enforced() {
		return result
	}

	order := ResolveQOSOrder(job.QOS, partitionQOS(job))
	merged := NewEffectiveQOS(c.TRES)

	qosPLimit := Infinite
	haveQOS := order.Primary != nil
	if haveQOS {
		merged.MaxNodesPJ = effectiveU64(order.Primary.MaxNodesPJ, qosFieldOrInfinite(order.Secondary, func(q *QoS) uint64 { return q.MaxNodesPJ }))
		merged.MaxNodesPU = effectiveU64(order.Primary.MaxNodesPU, qosFieldOrInfinite(order.Secondary, func(q *QoS) uint64 { return q.MaxNodesPU }))
		merged.GrpNodes = effectiveU64(order.Primary.GrpNodes, qosFieldOrInfinite(order.Secondary, func(q *QoS) uint64 { return q.GrpNodes }))

		switch {
		case merged.MaxNodesPJ < merged.MaxNodesPU:
			result.MaxNodes = merged.MaxNodesPJ
			result.WaitReason = WaitQOSMaxNodePerJob
		case merged.MaxNodesPU != Infinite:
			result.MaxNodes = merged.MaxNodesPU
			result.WaitReason = WaitQOSMaxNodePerUser
		}

		qosPLimit = result.MaxNodes

		if merged.GrpNodes < result.MaxNodes {
			result.MaxNodes = merged.GrpNodes
			result.WaitReason = WaitQOSGrpNode
		}
	}

	grpSet := false
	first := true
	for node := job.Assoc; node != nil && !node.IsRoot(); node = node.Parent {
		if (!haveQOS || merged.GrpNodes == Infinite) && node.GrpNodes != Infinite && node.GrpNodes < result.MaxNodes {
			result.MaxNodes = node.GrpNodes
			result.WaitReason = WaitAssocGrpNode
			grpSet = true
		}

		if first && qosPLimit == Infinite && node.MaxNodesPJ != Infinite && node.MaxNodesPJ < result.MaxNodes {
			result.MaxNodes = node.MaxNodesPJ
			result.WaitReason = WaitAssocMaxNodePerJob
		}

		if grpSet {
			break
		}
		first = false
	}

	return result
}

func qosFieldOrInfinite(q *QoS, field func(*QoS) uint64) uint64 {
	if q == nil {
		return Infinite
	}
	return field(q)
}
