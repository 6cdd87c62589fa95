// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package report renders accounting-policy usage snapshots into
// human-readable text, the way the admin server (internal/server) and
// the CLI (cmd/acctpolicy-cli) present a "usage" query result.
package report

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jrandall/slurm/internal/acctpolicy"
)

var titler = cases.Title(language.English)

// Line is a single rendered usage line: a TRES or group-scope name paired
// with its current usage and limit (acctpolicy.Infinite when unbounded).
type Line struct {
	Name  string
	Used  uint64
	Limit uint64
}

// printer formats large counters with thousands separators
// (e.g. "1,234,567" cpu-minutes), the reason x/text/message is wired in
// at all: a raw fmt.Sprintf("%d", n) reads as a wall of digits once a
// long-running association accrues real cpu-minute usage.
func printer() *message.Printer {
	return message.NewPrinter(language.English)
}

// FormatLine renders one usage line as "name: used / limit" with
// thousands separators, "unlimited" standing in for acctpolicy.Infinite.
func FormatLine(p *message.Printer, l Line) string {
	limit := "unlimited"
	if l.Limit != acctpolicy.Infinite {
		limit = p.Sprintf("%d", l.Limit)
	}
	return p.Sprintf("%s: %d / %s", titler.String(l.Name), l.Used, limit)
}

// AssociationUsage renders an association's group-scope usage counters
// against its limits, one line per axis, in the order spec.md §3 lists
// them (jobs, submitted jobs, wall, memory, nodes, cpus), followed by one
// line per TRES in the catalogue's GrpTRES vector.
func AssociationUsage(tres *acctpolicy.TRESCatalogue, assoc *acctpolicy.Association) string {
	p := printer()
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s/%s usage:\n", titler.String("association"), assoc.Account, assoc.User)

	lines := []Line{
		{"jobs", assoc.Usage.UsedJobs, assoc.GrpJobs},
		{"submitted jobs", assoc.Usage.UsedSubmitJobs, assoc.GrpSubmitJobs},
		{"wall minutes", assoc.Usage.GrpUsedWall / 60, assoc.GrpWall},
		{"memory", assoc.Usage.GrpUsedMem, assoc.GrpMem},
		{"nodes", assoc.Usage.GrpUsedNodes, assoc.GrpNodes},
		{"cpus", assoc.Usage.GrpUsedCPUs, grpTRESLimit(tres, assoc.GrpTRES, acctpolicy.TRESCPU)},
	}
	for _, l := range lines {
		b.WriteString("  " + FormatLine(p, l) + "\n")
	}

	for i, name := range tres.Names() {
		limit := acctpolicy.Infinite
		if i < len(assoc.GrpTRES) {
			limit = assoc.GrpTRES[i]
		}
		b.WriteString("  grp_tres " + FormatLine(p, Line{Name: name, Limit: limit}) + "\n")
	}

	return b.String()
}

// QOSUsage renders a QOS's group-scope usage counters against its
// limits, mirroring AssociationUsage's shape for the QOS axis set, plus
// one line per user with a recorded UsedLimits entry.
func QOSUsage(tres *acctpolicy.TRESCatalogue, q *acctpolicy.QoS) string {
	p := printer()
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s usage:\n", titler.String("qos"), q.Name)

	lines := []Line{
		{"jobs", q.Usage.GrpUsedJobs, q.GrpJobs},
		{"submitted jobs", q.Usage.GrpUsedSubmitJobs, q.GrpSubmitJobs},
		{"wall minutes", q.Usage.GrpUsedWall / 60, q.GrpWall},
		{"memory", q.Usage.GrpUsedMem, q.GrpMem},
		{"nodes", q.Usage.GrpUsedNodes, q.GrpNodes},
		{"cpus", q.Usage.GrpUsedCPUs, q.GrpCPUs},
		{"cpu minutes", q.Usage.UsageRaw / 60, q.GrpCPUMins},
	}
	for _, l := range lines {
		b.WriteString("  " + FormatLine(p, l) + "\n")
	}

	for uid, ul := range q.Usage.UserLimits {
		fmt.Fprintf(&b, "  user %d: jobs=%d submitted=%d cpus=%d\n", uid, ul.Jobs, ul.SubmitJobs, ul.CPUs)
	}
	_ = tres // reserved for a future per-TRES user breakdown; the catalogue is already threaded through the call site

	return b.String()
}

// grpTRESLimit returns the GrpTRES limit for a named TRES, or
// acctpolicy.Infinite if the catalogue has no such axis or the vector
// doesn't cover it.
func grpTRESLimit(tres *acctpolicy.TRESCatalogue, v acctpolicy.Vector, name string) uint64 {
	idx, ok := tres.IndexOf(name)
	if !ok || idx >= len(v) {
		return acctpolicy.Infinite
	}
	return v[idx]
}
