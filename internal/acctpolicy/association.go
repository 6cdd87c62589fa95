// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package acctpolicy

// LimitSource records the provenance of a job's current value for a
// policy-controlled field: whether it is still unset, was supplied by the
// submitting user, or was forced by an administrator.
type LimitSource int

const (
	// LimitUnset means no value has been recorded for this field yet.
	LimitUnset LimitSource = iota
	// LimitUserSet means the submitting user supplied the value.
	LimitUserSet
	// LimitAdminSet means an administrator forced the value; policy
	// clipping must never override it.
	LimitAdminSet
	// LimitPolicySet means the engine itself clipped the value to a cap.
	LimitPolicySet
)

// Association is one node of the association tree: an (account,
// user-or-none, partition-or-none) tuple carrying group- and per-job-scope
// limits plus the usage counters those limits are checked against.
type Association struct {
	ID        uint32
	Account   string
	User      string // empty for an account-level node
	Partition string // empty when not partition-specific
	Parent    *Association

	// Group-scope limits, checked at every level of the chain.
	GrpTRES        Vector
	GrpTRESMins    Vector
	GrpTRESRunMins Vector
	GrpJobs        uint64
	GrpSubmitJobs  uint64
	GrpWall        uint64 // minutes
	GrpMem         uint64
	GrpNodes       uint64

	// Per-job-scope limits, checked only at the first (non-parent) level.
	MaxTRESPJ     Vector
	MaxTRESMinsPJ Vector
	MaxNodesPJ    uint64
	MaxWallPJ     uint64 // minutes
	MaxJobs       uint64
	MaxSubmitJobs uint64

	Usage AssocUsage
}

// AssocUsage holds the mutable usage counters attached to an Association.
type AssocUsage struct {
	UsedJobs          uint64
	UsedSubmitJobs    uint64
	GrpUsedCPUs       uint64
	GrpUsedMem        uint64
	GrpUsedNodes      uint64
	GrpUsedWall       uint64 // seconds
	GrpUsedCPURunSecs uint64
	UsageRaw          uint64 // monotone, never decremented
}

// IsRoot reports whether this association is the synthetic tree root,
// which is always excluded from limit checks (spec Invariant 5).
func (a *Association) IsRoot() bool {
	return a.Parent == nil
}

// AssociationTable is a flat, id-indexed store of every association in the
// tree, matching the "arena + index" layout of Design Notes §9: the
// association forest lives in one table, with Parent resolved to a
// pointer for ergonomic chain-walking.
type AssociationTable struct {
	Root *Association
	byID map[uint32]*Association
}

// NewAssociationTable creates an empty table with the given synthetic
// root (excluded from all limit checks).
func NewAssociationTable(root *Association) *AssociationTable {
	return &AssociationTable{
		Root: root,
		byID: map[uint32]*Association{root.ID: root},
	}
}

// Insert adds an association to the table, keyed by its ID.
func (t *AssociationTable) Insert(a *Association) {
	t.byID[a.ID] = a
}

// Lookup returns the association for an ID, or nil if absent.
func (t *AssociationTable) Lookup(id uint32) *Association {
	return t.byID[id]
}

// FindByKey resolves an association by (account, user, partition), the
// fallback re-binding path used when a job's cached assoc pointer no
// longer resolves (spec §4.2 "attempt to re-bind by (account, partition,
// uid)").
func (t *AssociationTable) FindByKey(account, user, partition string) *Association {
	for _, a := range t.byID {
		if a == t.Root {
			continue
		}
		if a.Account == account && a.User == user && a.Partition == partition {
			return a
		}
	}
	return nil
}

// ChainWalker is called once per association while walking from a leaf
// association up to (but excluding) the tree root. first is true only for
// the initial, non-parent association — the pre-propagation rule (spec
// §3, §4.3) restricts per-job-scope limits to this level alone, while
// group-scope limits apply at every level. Returning stop=true ends the
// walk early (used once a check has already failed).
type ChainWalker func(node *Association, first bool) (stop bool)

// WalkChain iterates assoc, assoc.Parent, assoc.Parent.Parent, ... down to
// (but excluding) the tree root, invoking walker at each step.
func WalkChain(assoc *Association, walker ChainWalker) {
	first := true
	for node := assoc; node != nil && !node.IsRoot(); node = node.Parent {
		if walker(node, first) {
			return
		}
		first = false
	}
}
