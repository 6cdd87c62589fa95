// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jrandall/slurm/internal/acctpolicy"
	"github.com/jrandall/slurm/pkg/logging"
	"github.com/jrandall/slurm/pkg/report"
	"github.com/jrandall/slurm/pkg/validation"
)

func pathUint32(r *http.Request, name string) (uint32, bool) {
	v, err := strconv.ParseUint(mux.Vars(r)[name], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

func (s *Server) handleAssociationUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint32(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid association id")
		return
	}

	assoc := s.engine.Assoc.Lookup(id)
	if assoc == nil {
		writeError(w, http.StatusNotFound, "association not found")
		return
	}

	s.engine.Metrics.SetUsageGauge("association", assoc.Account, "jobs", float64(assoc.Usage.UsedJobs))
	s.engine.Metrics.SetUsageGauge("association", assoc.Account, "wall_minutes", float64(assoc.Usage.GrpUsedWall/60))
	s.engine.Metrics.SetUsageGauge("association", assoc.Account, "cpus", float64(assoc.Usage.GrpUsedCPUs))

	writeJSON(w, http.StatusOK, usageResponse{Report: report.AssociationUsage(s.engine.TRES, assoc)})
}

func (s *Server) handleQOSUsage(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	q, ok := s.reg.lookupQOS(name)
	if !ok {
		writeError(w, http.StatusNotFound, "qos not found")
		return
	}

	s.engine.Metrics.SetUsageGauge("qos", q.Name, "jobs", float64(q.Usage.GrpUsedJobs))
	s.engine.Metrics.SetUsageGauge("qos", q.Name, "wall_minutes", float64(q.Usage.GrpUsedWall/60))
	s.engine.Metrics.SetUsageGauge("qos", q.Name, "cpu_minutes", float64(q.Usage.UsageRaw/60))

	writeJSON(w, http.StatusOK, usageResponse{Report: report.QOSUsage(s.engine.TRES, q)})
}

// handleJobValidate runs C5 against a posted job descriptor (spec.md
// §8): it resolves the association by (account, user, partition), the
// QOS by name if one was requested, and tracks the built *Job under its
// JobID so a later begin/fini/alter or limits edit can find it again.
//
// Partition-level clipping is not exercised through this endpoint: the
// admin surface has no partition registry (spec.md §8 lists none), so
// jobs posted here are validated against their association/QOS chain
// only, matching every other admin-server endpoint's scope.
func (s *Server) handleJobValidate(w http.ResponseWriter, r *http.Request) {
	var req validation.JobSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validator.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	assoc := s.engine.Assoc.FindByKey(req.AccountName, userKey(req.UserID), req.PartitionName)
	if assoc == nil {
		writeError(w, http.StatusNotFound, "association not found for account/user/partition")
		return
	}

	var qos *acctpolicy.QoS
	if req.QOSName != "" {
		q, ok := s.reg.lookupQOS(req.QOSName)
		if !ok {
			writeError(w, http.StatusNotFound, "qos not found: "+req.QOSName)
			return
		}
		qos = q
	}

	job := &acctpolicy.Job{
		ID:            req.JobID,
		UserID:        req.UserID,
		Assoc:         assoc,
		QOS:           qos,
		TimeLimit:     requestedTimeLimit(req.TimeLimit),
		MinNodes:      req.MinNodes,
		MaxNodes:      req.MaxNodes,
		TRESReq:       acctpolicy.Vector(req.TRESReq),
		AccountName:   req.AccountName,
		PartitionName: req.PartitionName,
	}

	var reason acctpolicy.WaitReason
	admit := s.engine.Validate(job, nil, &reason, false)
	s.reg.trackPending(job, nil)

	evtType := EventAdmit
	switch {
	case !admit:
		evtType = EventDeny
		s.engine.Metrics.RecordDeny(job.PartitionName, reasonName(reason))
	case job.LimitSet.Time == acctpolicy.LimitPolicySet:
		evtType = EventClip
	}
	s.events.publish(evtType, job.ID, reasonName(reason))
	logging.LogDecision(s.logger, strconv.FormatUint(uint64(job.ID), 10), string(evtType), "reason", reasonName(reason)).Info("job validated")

	writeJSON(w, http.StatusOK, validateResponse{Admit: admit, TimeLimit: job.TimeLimit, Reason: reasonName(reason)})
}

// requestedTimeLimit maps a zero-valued (absent) JSON field to NoVal: the
// JobSubmissionRequest wire format has no way to distinguish "0 minutes"
// from "not specified", and a job never legitimately requests a 0 minute
// time limit, so the wire zero value is read as "let the policy pick a
// default".
func requestedTimeLimit(minutes uint64) uint64 {
	if minutes == 0 {
		return acctpolicy.NoVal
	}
	return minutes
}

func (s *Server) handleJobBegin(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint32(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	p, found := s.reg.lookupPending(id)
	if !found {
		writeError(w, http.StatusNotFound, "job not tracked; POST /jobs/validate first")
		return
	}

	if err := s.engine.JobBeginAccounting(r.Context(), p.job); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// The engine itself never transitions job.State (spec.md §6: that's
	// the external scheduler's call); the admin surface plays that role
	// here so a later limits edit's pending-refresh skips jobs already
	// running.
	p.job.State = acctpolicy.JobStateRunning
	s.events.publish(EventAdmit, id, "job_begin")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJobFini(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint32(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	p, found := s.reg.lookupPending(id)
	if !found {
		writeError(w, http.StatusNotFound, "job not tracked; POST /jobs/validate first")
		return
	}

	if err := s.engine.JobFiniAccounting(r.Context(), p.job); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	p.job.State = acctpolicy.JobStateCompleted
	s.reg.dropPending(id)
	s.events.publish(EventAdmit, id, "job_fini")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJobAlter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint32(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	p, found := s.reg.lookupPending(id)
	if !found {
		writeError(w, http.StatusNotFound, "job not tracked; POST /jobs/validate first")
		return
	}

	var req alterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validator.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := s.engine.AlterJob(r.Context(), p.job, req.TimeLimitMinutes); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.events.publish(EventClip, id, "job_alter")
	w.WriteHeader(http.StatusNoContent)
}

// handleAssociationLimits edits an association's limit fields then
// re-validates every tracked pending job whose chain includes it,
// driving C9b exactly as spec.md §4.8/§8 describe.
func (s *Server) handleAssociationLimits(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint32(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid association id")
		return
	}
	assoc := s.engine.Assoc.Lookup(id)
	if assoc == nil {
		writeError(w, http.StatusNotFound, "association not found")
		return
	}

	var req validation.AssociationEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validator.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if req.GrpJobs != nil {
		assoc.GrpJobs = *req.GrpJobs
	}
	if req.GrpSubmitJobs != nil {
		assoc.GrpSubmitJobs = *req.GrpSubmitJobs
	}
	if req.GrpWall != nil {
		assoc.GrpWall = *req.GrpWall
	}
	if req.MaxNodesPJ != nil {
		assoc.MaxNodesPJ = *req.MaxNodesPJ
	}
	if req.MaxWallPJ != nil {
		assoc.MaxWallPJ = *req.MaxWallPJ
	}

	affected := s.reg.pendingBoundToAssoc(id)
	denied := s.refreshPending(r, affected)
	writeJSON(w, http.StatusOK, limitsEditResponse{PendingJobsChecked: len(affected), PendingJobsDenied: denied})
}

// handleQOSLimits mirrors handleAssociationLimits for a named QOS.
func (s *Server) handleQOSLimits(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	q, ok := s.reg.lookupQOS(name)
	if !ok {
		writeError(w, http.StatusNotFound, "qos not found")
		return
	}

	var req validation.QoSEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validator.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if req.GrpJobs != nil {
		q.GrpJobs = *req.GrpJobs
	}
	if req.GrpCPUMins != nil {
		q.GrpCPUMins = *req.GrpCPUMins
	}
	if req.MaxWallPJ != nil {
		q.MaxWallPJ = *req.MaxWallPJ
	}
	if req.MaxCPUsPU != nil {
		q.MaxCPUsPU = *req.MaxCPUsPU
	}
	if req.DenyLimit {
		q.Flags |= acctpolicy.FlagDenyLimit
	}

	affected := s.reg.pendingUsingQOS(name)
	denied := s.refreshPending(r, affected)
	writeJSON(w, http.StatusOK, limitsEditResponse{PendingJobsChecked: len(affected), PendingJobsDenied: denied})
}

// refreshPending re-runs C9b (UpdatePendingJob) against every affected
// tracked job, publishing a clip/deny event per outcome and collecting
// the IDs of jobs that are now outright denied.
func (s *Server) refreshPending(r *http.Request, affected []*pendingJob) []uint32 {
	var denied []uint32
	for _, p := range affected {
		if err := s.engine.UpdatePendingJob(r.Context(), p.job, p.part); err != nil {
			denied = append(denied, p.job.ID)
			s.events.publish(EventDeny, p.job.ID, reasonName(p.job.StateReason))
			continue
		}
		s.events.publish(EventClip, p.job.ID, "limits_edited")
	}
	return denied
}
