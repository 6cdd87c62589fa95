// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrandall/slurm/internal/acctpolicy"
	"github.com/jrandall/slurm/pkg/config"
)

func testCatalogue() *acctpolicy.TRESCatalogue {
	return acctpolicy.NewTRESCatalogue([]string{acctpolicy.TRESCPU, acctpolicy.TRESMem, acctpolicy.TRESNode, acctpolicy.TRESEnergy})
}

func noLimitAssoc(cat *acctpolicy.TRESCatalogue, id uint32, parent *acctpolicy.Association) *acctpolicy.Association {
	return &acctpolicy.Association{
		ID:            id,
		Account:       "physics",
		Parent:        parent,
		GrpTRES:       cat.NewInfiniteVector(),
		GrpTRESMins:   cat.NewInfiniteVector(),
		GrpTRESRunMins: cat.NewInfiniteVector(),
		GrpJobs:       acctpolicy.Infinite,
		GrpSubmitJobs: acctpolicy.Infinite,
		GrpWall:       acctpolicy.Infinite,
		GrpMem:        acctpolicy.Infinite,
		GrpNodes:      acctpolicy.Infinite,
		MaxTRESPJ:     cat.NewInfiniteVector(),
		MaxTRESMinsPJ: cat.NewInfiniteVector(),
		MaxNodesPJ:    acctpolicy.Infinite,
		MaxWallPJ:     acctpolicy.Infinite,
		MaxJobs:       acctpolicy.Infinite,
		MaxSubmitJobs: acctpolicy.Infinite,
	}
}

func testServer(t *testing.T) (*Server, *acctpolicy.Association) {
	t.Helper()
	cat := testCatalogue()
	root := &acctpolicy.Association{ID: 1, Account: "root"}
	account := noLimitAssoc(cat, 2, root)
	leaf := noLimitAssoc(cat, 3, account)
	leaf.User = userKey(7)

	table := acctpolicy.NewAssociationTable(root)
	table.Insert(account)
	table.Insert(leaf)

	cfg := config.NewDefault()
	engine := acctpolicy.NewCtx(cfg, cat, table, acctpolicy.Hooks{}, nil, nil)

	qos := acctpolicy.NewEffectiveQOS(cat)
	qos.Name = "normal"

	return New(engine, nil, map[string]*acctpolicy.QoS{"normal": qos}), leaf
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(b)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHandleAssociationUsage_ReturnsReportForKnownID(t *testing.T) {
	s, leaf := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/associations/3/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body usageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Report, leaf.Account)
}

func TestHandleAssociationUsage_SetsUsageGauges(t *testing.T) {
	s, _ := testServer(t)
	fc := &fakeCollector{}
	s.engine.Metrics = fc

	rec := doJSON(t, s, http.MethodGet, "/associations/3/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, fc.gauges)
}

func TestHandleAssociationUsage_404ForUnknownID(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/associations/999/usage", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleQOSUsage_ReturnsReportForKnownName(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/qos/normal/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body usageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Report, "normal")
}

func TestHandleQOSUsage_404ForUnknownName(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/qos/missing/usage", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func validJobBody() map[string]any {
	return map[string]any{
		"job_id":   101,
		"account":  "physics",
		"user_id":  7,
		"min_nodes": 1,
		"max_nodes": 1,
		"tres_req": []uint64{2, 1024, 1, 0},
	}
}

func TestHandleJobValidate_AdmitsWithinLimits(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/jobs/validate", validJobBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var body validateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Admit)
}

func TestHandleJobValidate_DeniesWhenGroupCPUExceeded(t *testing.T) {
	s, leaf := testServer(t)
	leaf.GrpTRES[0] = 1 // tighter than the 2 cpus requested

	rec := doJSON(t, s, http.MethodPost, "/jobs/validate", validJobBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var body validateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Admit)
	assert.Equal(t, "assoc_grp_cpu", body.Reason)
}

type fakeCollector struct {
	denies [][2]string
	gauges int
}

func (f *fakeCollector) RecordAdmit(partition string)           {}
func (f *fakeCollector) RecordClip(partition, limitName string) {}
func (f *fakeCollector) RecordHold(partition, limitName string) {}
func (f *fakeCollector) RecordDeny(partition, limitName string) {
	f.denies = append(f.denies, [2]string{partition, limitName})
}
func (f *fakeCollector) RecordTimeout(partition string)     {}
func (f *fakeCollector) RecordUnderflow(counterName string) {}
func (f *fakeCollector) SetUsageGauge(scope, name, tresName string, value float64) {
	f.gauges++
}

func TestHandleJobValidate_RecordsDenyMetricOnDeny(t *testing.T) {
	s, leaf := testServer(t)
	leaf.GrpTRES[0] = 1 // tighter than the 2 cpus requested
	fc := &fakeCollector{}
	s.engine.Metrics = fc

	rec := doJSON(t, s, http.MethodPost, "/jobs/validate", validJobBody())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [][2]string{{"", "assoc_grp_cpu"}}, fc.denies)
}

func TestHandleJobValidate_404WhenAssociationUnresolved(t *testing.T) {
	s, _ := testServer(t)
	req := validJobBody()
	req["account"] = "nonexistent"

	rec := doJSON(t, s, http.MethodPost, "/jobs/validate", req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleJobValidate_422OnMalformedRequest(t *testing.T) {
	s, _ := testServer(t)
	req := validJobBody()
	delete(req, "account")

	rec := doJSON(t, s, http.MethodPost, "/jobs/validate", req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestJobLifecycle_ValidateBeginAlterFini(t *testing.T) {
	s, _ := testServer(t)

	rec := doJSON(t, s, http.MethodPost, "/jobs/validate", validJobBody())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/jobs/101/begin", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/jobs/101/alter", map[string]any{"time_limit_minutes": 30})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/jobs/101/fini", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// already removed from the pending set by the prior fini
	rec = doJSON(t, s, http.MethodPost, "/jobs/101/fini", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleJobBegin_404WhenNeverValidated(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/jobs/555/begin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAssociationLimits_TightensAndReValidatesPendingJobs(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/jobs/validate", validJobBody())
	require.Equal(t, http.StatusOK, rec.Code)

	grpJobs := uint64(0)
	rec = doJSON(t, s, http.MethodPost, "/associations/3/limits", map[string]any{"grp_jobs": grpJobs})
	require.Equal(t, http.StatusOK, rec.Code)

	var body limitsEditResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.PendingJobsChecked)
}

func TestHandleQOSLimits_EditsNamedQOS(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/qos/normal/limits", map[string]any{"deny_limit": true})
	require.Equal(t, http.StatusOK, rec.Code)

	q, ok := s.reg.lookupQOS("normal")
	require.True(t, ok)
	assert.NotZero(t, q.Flags&acctpolicy.FlagDenyLimit)
}

func TestHandleQOSLimits_404ForUnknownName(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/qos/missing/limits", map[string]any{"deny_limit": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
