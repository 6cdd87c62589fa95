// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/jrandall/slurm/internal/acctpolicy"
	"github.com/jrandall/slurm/pkg/tresfmt"
)

// fixtureFile is the on-disk shape of a standalone association/QOS
// catalogue for the validate/usage/serve subcommands to run against,
// mirroring pkg/config's own catalogueFile TOML loading.
type fixtureFile struct {
	Engine struct {
		TRES    []string `toml:"tres"`
		Enforce string   `toml:"enforce"`
		Debug   bool     `toml:"debug"`
	} `toml:"engine"`
	Associations []assocFixture `toml:"association"`
	QOS          []qosFixture   `toml:"qos"`
}

type assocFixture struct {
	ID        uint32 `toml:"id"`
	Root      bool   `toml:"root"`
	Parent    uint32 `toml:"parent"`
	Account   string `toml:"account"`
	User      string `toml:"user"`
	Partition string `toml:"partition"`

	GrpJobs       *uint64 `toml:"grp_jobs"`
	GrpSubmitJobs *uint64 `toml:"grp_submit_jobs"`
	GrpWall       *uint64 `toml:"grp_wall"`
	GrpMem        *uint64 `toml:"grp_mem"`
	GrpNodes      *uint64 `toml:"grp_nodes"`
	MaxNodesPJ    *uint64 `toml:"max_nodes_pj"`
	MaxWallPJ     *uint64 `toml:"max_wall_pj"`
	MaxJobs       *uint64 `toml:"max_jobs"`
	MaxSubmitJobs *uint64 `toml:"max_submit_jobs"`
	GrpTRES       string  `toml:"grp_tres"`
	MaxTRESPJ     string  `toml:"max_tres_pj"`
}

type qosFixture struct {
	Name string `toml:"name"`

	GrpJobs       *uint64 `toml:"grp_jobs"`
	GrpSubmitJobs *uint64 `toml:"grp_submit_jobs"`
	GrpWall       *uint64 `toml:"grp_wall"`
	GrpCPUMins    *uint64 `toml:"grp_cpu_mins"`
	MaxWallPJ     *uint64 `toml:"max_wall_pj"`
	MaxCPUsPU     *uint64 `toml:"max_cpus_pu"`
	MaxNodesPJ    *uint64 `toml:"max_nodes_pj"`
	DenyLimit     bool    `toml:"deny_limit"`
	GrpTRES       string  `toml:"grp_tres"`
	MaxTRESPJ     string  `toml:"max_tres_pj"`
}

func u64or(p *uint64, def uint64) uint64 {
	if p == nil {
		return def
	}
	return *p
}

// vectorFromTRESString renders a "name=count,..." legacy string into a
// catalogue-ordered Vector, defaulting every unmentioned slot to
// Infinite, via pkg/tresfmt's CSV parser (spec §6's TRESStringParser
// format).
func vectorFromTRESString(cat *acctpolicy.TRESCatalogue, s string) acctpolicy.Vector {
	v := cat.NewInfiniteVector()
	for name, count := range tresfmt.ParseAll(s) {
		if idx, ok := cat.IndexOf(name); ok {
			v[idx] = count
		}
	}
	return v
}

// loadFixtures reads a fixture file into a ready-to-use association
// table and QOS-by-name index (the latter seeding internal/server's own
// registry the same way SPEC_FULL.md §8 describes: the engine itself has
// no QOS-by-name lookup).
func loadFixtures(path string, cat *acctpolicy.TRESCatalogue) (*acctpolicy.AssociationTable, map[string]*acctpolicy.QoS, error) {
	var ff fixtureFile
	if _, err := toml.DecodeFile(path, &ff); err != nil {
		return nil, nil, fmt.Errorf("loading fixtures %s: %w", path, err)
	}

	var root *assocFixture
	for i := range ff.Associations {
		if ff.Associations[i].Root {
			root = &ff.Associations[i]
			break
		}
	}
	if root == nil {
		return nil, nil, fmt.Errorf("fixture file %s: no [[association]] entry marked root = true", path)
	}

	byID := make(map[uint32]*acctpolicy.Association, len(ff.Associations))
	rootAssoc := buildAssoc(cat, *root)
	byID[rootAssoc.ID] = rootAssoc

	table := acctpolicy.NewAssociationTable(rootAssoc)
	for _, af := range ff.Associations {
		if af.Root {
			continue
		}
		a := buildAssoc(cat, af)
		byID[a.ID] = a
	}
	for _, af := range ff.Associations {
		if af.Root {
			continue
		}
		a := byID[af.ID]
		parent, ok := byID[af.Parent]
		if !ok {
			return nil, nil, fmt.Errorf("association %d: unknown parent %d", af.ID, af.Parent)
		}
		a.Parent = parent
		table.Insert(a)
	}

	qosByName := make(map[string]*acctpolicy.QoS, len(ff.QOS))
	for _, qf := range ff.QOS {
		qosByName[qf.Name] = buildQOS(cat, qf)
	}

	return table, qosByName, nil
}

func buildAssoc(cat *acctpolicy.TRESCatalogue, af assocFixture) *acctpolicy.Association {
	grpTRES := cat.NewInfiniteVector()
	if af.GrpTRES != "" {
		grpTRES = vectorFromTRESString(cat, af.GrpTRES)
	}
	maxTRESPJ := cat.NewInfiniteVector()
	if af.MaxTRESPJ != "" {
		maxTRESPJ = vectorFromTRESString(cat, af.MaxTRESPJ)
	}

	return &acctpolicy.Association{
		ID:             af.ID,
		Account:        af.Account,
		User:           af.User,
		Partition:      af.Partition,
		GrpTRES:        grpTRES,
		GrpTRESMins:    cat.NewInfiniteVector(),
		GrpTRESRunMins: cat.NewInfiniteVector(),
		GrpJobs:        u64or(af.GrpJobs, acctpolicy.Infinite),
		GrpSubmitJobs:  u64or(af.GrpSubmitJobs, acctpolicy.Infinite),
		GrpWall:        u64or(af.GrpWall, acctpolicy.Infinite),
		GrpMem:         u64or(af.GrpMem, acctpolicy.Infinite),
		GrpNodes:       u64or(af.GrpNodes, acctpolicy.Infinite),
		MaxTRESPJ:      maxTRESPJ,
		MaxTRESMinsPJ:  cat.NewInfiniteVector(),
		MaxNodesPJ:     u64or(af.MaxNodesPJ, acctpolicy.Infinite),
		MaxWallPJ:      u64or(af.MaxWallPJ, acctpolicy.Infinite),
		MaxJobs:        u64or(af.MaxJobs, acctpolicy.Infinite),
		MaxSubmitJobs:  u64or(af.MaxSubmitJobs, acctpolicy.Infinite),
	}
}

func buildQOS(cat *acctpolicy.TRESCatalogue, qf qosFixture) *acctpolicy.QoS {
	q := acctpolicy.NewEffectiveQOS(cat)
	q.Name = qf.Name
	q.GrpJobs = u64or(qf.GrpJobs, acctpolicy.Infinite)
	q.GrpSubmitJobs = u64or(qf.GrpSubmitJobs, acctpolicy.Infinite)
	q.GrpWall = u64or(qf.GrpWall, acctpolicy.Infinite)
	q.GrpCPUMins = u64or(qf.GrpCPUMins, acctpolicy.Infinite)
	q.MaxWallPJ = u64or(qf.MaxWallPJ, acctpolicy.Infinite)
	q.MaxCPUsPU = u64or(qf.MaxCPUsPU, acctpolicy.Infinite)
	q.MaxNodesPJ = u64or(qf.MaxNodesPJ, acctpolicy.Infinite)
	if qf.GrpTRES != "" {
		q.GrpTRES = vectorFromTRESString(cat, qf.GrpTRES)
	}
	if qf.MaxTRESPJ != "" {
		q.MaxTRESPJ = vectorFromTRESString(cat, qf.MaxTRESPJ)
	}
	if qf.DenyLimit {
		q.Flags |= acctpolicy.FlagDenyLimit
	}
	return q
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
