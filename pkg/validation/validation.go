// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package validation validates inbound DTOs at the admin-server boundary
// (internal/server) before they reach the accounting-policy engine's own
// limit checks: malformed requests are rejected with a field-level error
// list instead of ever constructing a acctpolicy.Job/Association/QoS.
package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// JobSubmissionRequest is the wire shape of a POST /jobs/validate body.
type JobSubmissionRequest struct {
	JobID         uint32   `json:"job_id" validate:"required"`
	AccountName   string   `json:"account" validate:"required"`
	UserID        uint32   `json:"user_id" validate:"required"`
	PartitionName string   `json:"partition"`
	QOSName       string   `json:"qos"`
	MinNodes      uint64   `json:"min_nodes" validate:"required,min=1"`
	MaxNodes      uint64   `json:"max_nodes" validate:"omitempty,gtefield=MinNodes"`
	TimeLimit     uint64   `json:"time_limit_minutes" validate:"omitempty,min=1"`
	TRESReq       []uint64 `json:"tres_req" validate:"required,min=1"`
}

// AssociationEditRequest is the wire shape of a POST
// /associations/{id}/limits body: a sparse set of limit fields to
// overwrite, nil/absent fields left untouched.
type AssociationEditRequest struct {
	GrpJobs       *uint64 `json:"grp_jobs" validate:"omitempty,min=0"`
	GrpSubmitJobs *uint64 `json:"grp_submit_jobs" validate:"omitempty,min=0"`
	GrpWall       *uint64 `json:"grp_wall" validate:"omitempty,min=0"`
	MaxNodesPJ    *uint64 `json:"max_nodes_pj" validate:"omitempty,min=0"`
	MaxWallPJ     *uint64 `json:"max_wall_pj" validate:"omitempty,min=0"`
}

// QoSEditRequest is the wire shape of a POST /qos/{name}/limits body.
type QoSEditRequest struct {
	GrpJobs    *uint64 `json:"grp_jobs" validate:"omitempty,min=0"`
	GrpCPUMins *uint64 `json:"grp_cpu_mins" validate:"omitempty,min=0"`
	MaxWallPJ  *uint64 `json:"max_wall_pj" validate:"omitempty,min=0"`
	MaxCPUsPU  *uint64 `json:"max_cpus_pu" validate:"omitempty,min=0"`
	DenyLimit  bool    `json:"deny_limit"`
}

// FieldError describes one failed validation rule, formatted for an
// admin-server JSON error body.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// Error is a collection of FieldErrors implementing the error interface,
// returned by Validator.Struct on failure.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s failed %q", f.Field, f.Rule)
	}
	return strings.Join(parts, "; ")
}

// Validator wraps validator.Validate, translating its errors into the
// admin server's FieldError shape.
type Validator struct {
	v *validator.Validate
}

// New constructs a Validator using struct-tag rules only (no custom
// registrations required for the DTOs above).
func New() *Validator {
	return &Validator{v: validator.New()}
}

// Struct validates s against its `validate` struct tags, returning a
// *Error (never a bare validator.ValidationErrors) on failure so callers
// don't need to import go-playground/validator themselves.
func (vd *Validator) Struct(s any) error {
	if err := vd.v.Struct(s); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		fields := make([]FieldError, len(verrs))
		for i, fe := range verrs {
			fields[i] = FieldError{Field: fe.Namespace(), Rule: fe.Tag()}
		}
		return &Error{Fields: fields}
	}
	return nil
}
