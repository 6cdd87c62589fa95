// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package acctpolicy

import "context"

// AssocBinder resolves or validates a job's association binding,
// standing in for the external assoc_mgr.fill_in_assoc hook (spec §6).
// FillInAssoc must return a non-nil error if the job cannot be bound to
// any association under the given enforce flags.
type AssocBinder interface {
	FillInAssoc(ctx context.Context, job *Job) error
}

// PriorityHook notifies the external priority plugin that a job has
// finished, standing in for priority.job_end (spec §6). Invoked outside
// the engine's lock.
type PriorityHook interface {
	JobEnd(ctx context.Context, job *Job)
}

// JobAcctStorageHook notifies the external accounting-storage layer that
// a job has started or been materially updated, standing in for
// jobacct_storage.job_start (spec §6). Invoked outside the engine's lock.
type JobAcctStorageHook interface {
	JobStart(ctx context.Context, job *Job) error
}

// TRESStringParser parses legacy CSV-style TRES strings
// ("<name>=<count>,...") into a single count for one TRES key, standing
// in for slurmdb.find_tres_count_in_string (spec §6). Association-level
// TRES-minute fields (GrpTRESMins, GrpTRESRunMins, MaxTRESMinsPJ) are
// sourced from strings in the original system; this engine keeps them as
// parsed Vectors internally but exposes the parser for callers loading
// association records from that legacy format.
type TRESStringParser interface {
	FindTRESCountInString(tresList, key string) (uint64, bool)
}

// Hooks bundles every external collaborator the engine consumes.
type Hooks struct {
	Assoc   AssocBinder
	Priority PriorityHook
	Storage JobAcctStorageHook
	TRES    TRESStringParser
}

// bindAssoc re-resolves job.Assoc when it is nil or the caller wants a
// fresh lookup, implementing the "attempt to re-bind by (account,
// partition, uid)" fallback named throughout spec §4. It tries the
// injected AssocBinder first (the authoritative path), and falls back to
// a direct table lookup by key so the engine keeps working in tests that
// supply no AssocBinder.
func (c *Ctx) bindAssoc(ctx context.Context, job *Job) error {
	if job.Assoc != nil {
		return nil
	}

	if c.Hooks.Assoc != nil {
		if err := c.Hooks.Assoc.FillInAssoc(ctx, job); err == nil && job.Assoc != nil {
			return nil
		}
	}

	if found := c.Assoc.FindByKey(job.AccountName, jobUserKey(job), job.PartitionName); found != nil {
		job.Assoc = found
		return nil
	}

	return errAssocNotFound
}

func jobUserKey(job *Job) string {
	return userIDKey(job.UserID)
}

// LoadTRESVector fills a catalogue-sized Vector from a legacy
// "name=count,..." string using the injected TRESStringParser, defaulting
// any catalogue entry the string doesn't mention to Infinite (the "no
// limit" identity for a limit vector). Used when association/QOS records
// are loaded from a store that still keeps TRES limits in that format
// (spec.md §6's TRESStringParser hook).
func (c *Ctx) LoadTRESVector(tresList string) Vector {
	v := c.TRES.NewInfiniteVector()
	if c.Hooks.TRES == nil {
		return v
	}
	for i, name := range c.TRES.Names() {
		if count, ok := c.Hooks.TRES.FindTRESCountInString(tresList, name); ok {
			v[i] = count
		}
	}
	return v
}
