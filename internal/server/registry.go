// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"
	"sync"

	"github.com/jrandall/slurm/internal/acctpolicy"
)

// registry is the admin server's own bookkeeping: a QOS-by-name index and
// the set of pending jobs it has validated, so a later limit edit can
// find them again and re-run C9b (spec.md §8). Neither concept lives in
// internal/acctpolicy: AssociationTable indexes by ID only, and the
// engine has no notion of "jobs currently pending" — that's demo/wire
// state, which is exactly what spec.md §6 keeps out of the library.
type registry struct {
	mu      sync.RWMutex
	qos     map[string]*acctpolicy.QoS
	pending map[uint32]*pendingJob
}

type pendingJob struct {
	job  *acctpolicy.Job
	part *acctpolicy.Partition
}

func newRegistry(qos map[string]*acctpolicy.QoS) *registry {
	if qos == nil {
		qos = make(map[string]*acctpolicy.QoS)
	}
	return &registry{qos: qos, pending: make(map[uint32]*pendingJob)}
}

func (r *registry) lookupQOS(name string) (*acctpolicy.QoS, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.qos[name]
	return q, ok
}

func (r *registry) putQOS(q *acctpolicy.QoS) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.qos[q.Name] = q
}

func (r *registry) trackPending(job *acctpolicy.Job, part *acctpolicy.Partition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[job.ID] = &pendingJob{job: job, part: part}
}

func (r *registry) lookupPending(id uint32) (*pendingJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pending[id]
	return p, ok
}

func (r *registry) dropPending(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
}

// pendingBoundToAssoc returns every tracked job currently bound to assoc,
// either directly or through an ancestor in its chain — the set
// POST /associations/{id}/limits must re-validate.
func (r *registry) pendingBoundToAssoc(id uint32) []*pendingJob {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*pendingJob
	for _, p := range r.pending {
		for node := p.job.Assoc; node != nil; node = node.Parent {
			if node.ID == id {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// pendingUsingQOS returns every tracked job whose own QOS or partition
// QOS is named name — the set POST /qos/{name}/limits must re-validate.
func (r *registry) pendingUsingQOS(name string) []*pendingJob {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*pendingJob
	for _, p := range r.pending {
		if p.job.QOS != nil && p.job.QOS.Name == name {
			out = append(out, p)
			continue
		}
		if p.part != nil && p.part.QOS != nil && p.part.QOS.Name == name {
			out = append(out, p)
		}
	}
	return out
}

// userKey renders a uid as the association table's user key, mirroring
// the engine's own (unexported) convention in errors.go/hooks.go so the
// admin server's FindByKey lookups land on the same association a
// bindAssoc call would resolve.
func userKey(uid uint32) string {
	return fmt.Sprintf("uid:%d", uid)
}
