// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package acctpolicy

// QOSFlag is a bitmask of the flags the engine reads off a QOS record.
type QOSFlag uint8

const (
	// FlagPartQOS marks a job-attached QOS as overriding the partition's
	// QOS for ordering purposes (spec §4.1).
	FlagPartQOS QOSFlag = 1 << iota
	// FlagDenyLimit upgrades every soft (clip) violation under this QOS
	// into a hard denial (spec §7 "Strict checking").
	FlagDenyLimit
)

// QoS is a named override layer of limits, carrying its own usage block.
// Up to two QOS records apply to any one job (spec §4.1).
type QoS struct {
	Name  string
	Flags QOSFlag

	// Group scope, shared across every job using this QOS.
	GrpTRES       Vector
	GrpJobs       uint64
	GrpSubmitJobs uint64
	GrpWall       uint64 // minutes
	GrpCPUMins    uint64
	GrpCPURunMins uint64
	GrpCPUs       uint64
	GrpMem        uint64
	GrpNodes      uint64

	// Per-job scope.
	MaxTRESPJ    Vector
	MaxNodesPJ   uint64
	MaxWallPJ    uint64 // minutes
	MaxCPUMinsPJ uint64
	MaxCPUsPJ    uint64
	MinCPUsPJ    uint64

	// Per-user scope.
	MaxJobsPU       uint64
	MaxSubmitJobsPU uint64
	MaxCPUsPU       uint64
	MaxNodesPU      uint64

	Usage QOSUsage
}

// QOSUsage holds the group counters plus the per-user list for one QoS.
type QOSUsage struct {
	GrpUsedJobs       uint64
	GrpUsedSubmitJobs uint64
	GrpUsedCPUs       uint64
	GrpUsedMem        uint64
	GrpUsedNodes      uint64
	GrpUsedWall       uint64 // seconds
	GrpUsedCPURunSecs uint64
	UsageRaw          uint64 // seconds, monotone

	// UserLimits is keyed by uid. Entries are created lazily on first
	// touch and never removed for the engine's lifetime (spec §5
	// "Memory", and the Open Question resolution in DESIGN.md: the
	// lazy per-user scratch record used by C6/C7 is a real insertion,
	// not a free-after-use allocation).
	UserLimits map[uint32]*UsedLimits
}

// UsedLimits is the per-(qos, uid) usage record.
type UsedLimits struct {
	UID        uint32
	Jobs       uint64
	SubmitJobs uint64
	CPUs       uint64
	Nodes      uint64
}

// EnsureUsedLimits returns the per-user record for uid under this QOS,
// inserting a fresh zero-valued one on first touch. Both read-only
// lookups (C6/C7 checks) and mutating ones (C4 adjuster) go through this
// single entry point so that a query for a never-before-seen uid lazily
// creates the record it needs rather than reading through a transient,
// unshared copy (see DESIGN.md's resolution of the pre-select scratch
// question).
func (q *QoS) EnsureUsedLimits(uid uint32) *UsedLimits {
	if q.Usage.UserLimits == nil {
		q.Usage.UserLimits = make(map[uint32]*UsedLimits)
	}
	ul, ok := q.Usage.UserLimits[uid]
	if !ok {
		ul = &UsedLimits{UID: uid}
		q.Usage.UserLimits[uid] = ul
	}
	return ul
}

// LookupUsedLimits returns the per-user record for uid without creating
// one, and reports whether it existed. Invariant 2 (spec §3) permits a
// zero-valued lingering entry, so callers needing usage-for-comparison
// rather than usage-for-mutation should prefer this to avoid growing the
// map on pure reads where the absence itself is informative.
func (q *QoS) LookupUsedLimits(uid uint32) (*UsedLimits, bool) {
	if q.Usage.UserLimits == nil {
		return nil, false
	}
	ul, ok := q.Usage.UserLimits[uid]
	return ul, ok
}

// QOSOrder is the ordered pair a job resolves to: primary is consulted
// first and its limits are frozen; secondary may only fill slots primary
// left at Infinite (spec §4.1's "first sets, second fills" rule).
type QOSOrder struct {
	Primary   *QoS
	Secondary *QoS
}

// ResolveQOSOrder implements the C3 QOS ordering resolver.
func ResolveQOSOrder(jobQOS, partitionQOS *QoS) QOSOrder {
	switch {
	case jobQOS == nil && partitionQOS == nil:
		return QOSOrder{}
	case jobQOS == nil:
		return QOSOrder{Primary: partitionQOS}
	case partitionQOS == nil:
		return QOSOrder{Primary: jobQOS}
	}

	var order QOSOrder
	if jobQOS.Flags&FlagPartQOS != 0 {
		order = QOSOrder{Primary: jobQOS, Secondary: partitionQOS}
	} else {
		order = QOSOrder{Primary: partitionQOS, Secondary: jobQOS}
	}

	if order.Primary == order.Secondary {
		order.Secondary = nil
	}
	return order
}

// List returns the order as a slice, omitting nil slots, for callers that
// want to range over "each QOS in order".
func (o QOSOrder) List() []*QoS {
	var out []*QoS
	if o.Primary != nil {
		out = append(out, o.Primary)
	}
	if o.Secondary != nil {
		out = append(out, o.Secondary)
	}
	return out
}

// StrictChecking reports whether soft (clip) violations must be treated
// as hard denials: either the caller asked for a reason code, or any
// resolved QOS in the order carries DENY_LIMIT (spec §7).
func (o QOSOrder) StrictChecking(reasonRequested bool) bool {
	if reasonRequested {
		return true
	}
	for _, q := range o.List() {
		if q.Flags&FlagDenyLimit != 0 {
			return true
		}
	}
	return false
}

// NewEffectiveQOS returns the scratch record C5 narrows as it walks the
// QOS pair: every field starts at Infinite, and each checker fills the
// fields it consults the first time a QOS supplies a finite value,
// implementing the "effective_qos" scratch of spec.md §4.1 ("initialised
// to INF, narrowed monotonically"). It is a real *QoS so the same field
// names and Vector helpers apply without a parallel type.
func NewEffectiveQOS(tres *TRESCatalogue) *QoS {
	return &QoS{
		GrpTRES:         tres.NewInfiniteVector(),
		MaxTRESPJ:       tres.NewInfiniteVector(),
		GrpJobs:         Infinite,
		GrpSubmitJobs:   Infinite,
		GrpWall:         Infinite,
		GrpCPUMins:      Infinite,
		GrpCPURunMins:   Infinite,
		GrpCPUs:         Infinite,
		GrpMem:          Infinite,
		GrpNodes:        Infinite,
		MaxNodesPJ:      Infinite,
		MaxWallPJ:       Infinite,
		MaxCPUMinsPJ:    Infinite,
		MaxCPUsPJ:       Infinite,
		MinCPUsPJ:       Infinite,
		MaxJobsPU:       Infinite,
		MaxSubmitJobsPU: Infinite,
		MaxCPUsPU:       Infinite,
		MaxNodesPU:      Infinite,
	}
}

// effectiveU64 narrows a scratch limit field the first time a QOS in
// evaluation order supplies a non-Infinite value for it, implementing
// "first QOS sets, second QOS fills" per-field. Pass the previously
// narrowed value in effective; the returned value is either unchanged (if
// already narrowed) or set to candidate.
func effectiveU64(effective, candidate uint64) uint64 {
	if effective != Infinite {
		return effective
	}
	return candidate
}
