package auth

import (
	"github.com/google/uuid"

	"github.com/hospital/portal/internal/platform/apperr"
)

// Operation is an action requested on a record.
type Operation string

const (
	OpCreate    Operation = "create"
	OpRead      Operation = "read"
	OpList      Operation = "list"
	OpUpdate    Operation = "update"
	OpDelete    Operation = "delete"
	OpSetStatus Operation = "set_status"
	OpCancel    Operation = "cancel"
	OpPay       Operation = "pay"
)

// RecordType names the kind of record an operation targets.
type RecordType string

const (
	RecordPrincipal      RecordType = "principal"
	RecordPatientProfile RecordType = "patient_profile"
	RecordDoctorProfile  RecordType = "doctor_profile"
	RecordAdminProfile   RecordType = "admin_profile"
	RecordAppointment    RecordType = "appointment"
	RecordMedicalHistory RecordType = "medical_history"
	RecordPrescription   RecordType = "prescription"
	RecordBill           RecordType = "bill"
	RecordFacility       RecordType = "facility"
	RecordEducation      RecordType = "education_resource"
	RecordBulletin       RecordType = "bulletin"
)

// Target describes the record under evaluation. PatientID and DoctorID are
// the profile ids the record refers to; OwnerUserID is the account that owns
// a principal record. Unused references stay uuid.Nil.
type Target struct {
	Type        RecordType
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	OwnerUserID uuid.UUID
}

// Reason explains a decision.
type Reason string

const (
	ReasonAllowed           Reason = "allowed"
	ReasonUnauthenticated   Reason = "unauthenticated"
	ReasonReauthenticate    Reason = "reauthenticate"
	ReasonRoleNotPermitted  Reason = "role_not_permitted"
	ReasonNotOwner          Reason = "not_owner"
	ReasonUnknownRecordType Reason = "unknown_record_type"
)

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

// Err converts a denial into a classified error, or nil when allowed.
func (d Decision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Reason == ReasonUnauthenticated:
		return apperr.Unauthenticated(string(d.Reason), "authentication required")
	case d.Reason == ReasonReauthenticate:
		return apperr.Unauthenticated(string(d.Reason), "account has no usable role, sign in again")
	default:
		return apperr.Denied(string(d.Reason))
	}
}

type scope int

const (
	scopeAny scope = iota + 1
	scopeOwnPatient
	scopeOwnDoctor
	scopeOwnUser
)

type rule map[Operation]scope

func allOf(s scope, ops ...Operation) rule {
	r := make(rule, len(ops))
	for _, op := range ops {
		r[op] = s
	}
	return r
}

var crud = []Operation{OpCreate, OpRead, OpList, OpUpdate, OpDelete}

var publicContent = map[RecordType]bool{
	RecordFacility:  true,
	RecordEducation: true,
	RecordBulletin:  true,
}

var knownRecords = map[RecordType]bool{
	RecordPrincipal: true, RecordPatientProfile: true, RecordDoctorProfile: true,
	RecordAdminProfile: true, RecordAppointment: true, RecordMedicalHistory: true,
	RecordPrescription: true, RecordBill: true, RecordFacility: true,
	RecordEducation: true, RecordBulletin: true,
}

var rolePolicies = map[Role]map[RecordType]rule{
	RoleAdmin: {
		RecordPrincipal:      allOf(scopeAny, crud...),
		RecordPatientProfile: allOf(scopeAny, crud...),
		RecordDoctorProfile:  allOf(scopeAny, crud...),
		RecordAdminProfile:   allOf(scopeAny, crud...),
		RecordFacility:       allOf(scopeAny, crud...),
		RecordEducation:      allOf(scopeAny, crud...),
		RecordBulletin:       allOf(scopeAny, crud...),
		RecordAppointment:    allOf(scopeAny, OpRead, OpList, OpSetStatus, OpDelete),
		RecordMedicalHistory: allOf(scopeAny, OpRead, OpList),
		RecordPrescription:   allOf(scopeAny, OpRead, OpList),
		RecordBill:           allOf(scopeAny, OpRead, OpList),
	},
	RoleDoctor: {
		RecordPrincipal:      allOf(scopeOwnUser, OpRead),
		RecordPrescription:   allOf(scopeOwnDoctor, OpCreate, OpRead, OpList),
		RecordBill:           allOf(scopeOwnDoctor, OpCreate, OpRead, OpList),
		RecordMedicalHistory: allOf(scopeOwnDoctor, OpCreate, OpRead, OpList),
		RecordAppointment:    allOf(scopeOwnDoctor, OpRead, OpList, OpSetStatus),
		RecordDoctorProfile:  allOf(scopeOwnDoctor, OpRead),
		RecordPatientProfile: allOf(scopeAny, OpRead, OpList),
	},
	RolePatient: {
		RecordPrincipal:      allOf(scopeOwnUser, OpRead),
		RecordAppointment:    allOf(scopeOwnPatient, OpCreate, OpCancel, OpRead, OpList),
		RecordPrescription:   allOf(scopeOwnPatient, OpRead, OpList),
		RecordBill:           allOf(scopeOwnPatient, OpRead, OpList, OpPay),
		RecordMedicalHistory: allOf(scopeOwnPatient, OpRead, OpList, OpDelete),
		RecordPatientProfile: allOf(scopeOwnPatient, OpRead, OpList),
		RecordDoctorProfile:  allOf(scopeAny, OpRead, OpList),
	},
}

// Engine decides whether a principal may perform an operation on a record.
// Decisions depend only on the arguments.
type Engine struct {
	// OnDecision, when set, observes every decision.
	OnDecision func(p *Principal, op Operation, t Target, d Decision)
}

func NewEngine() *Engine { return &Engine{} }

// Authorize never fails; a denial is a Decision with Allowed false.
func (e *Engine) Authorize(p *Principal, op Operation, t Target) Decision {
	d := evaluate(p, op, t)
	if e != nil && e.OnDecision != nil {
		e.OnDecision(p, op, t, d)
	}
	return d
}

// Check is Authorize returning a classified error for denials.
func (e *Engine) Check(p *Principal, op Operation, t Target) error {
	return e.Authorize(p, op, t).Err()
}

// Missing returns the error for a record that does not exist. A caller
// whose access to the record type is limited to its own records gets the
// same denial as for a record owned by someone else.
func (e *Engine) Missing(p *Principal, op Operation, rt RecordType, resource string) error {
	if d := evaluate(p, op, Target{Type: rt}); !d.Allowed {
		return d.Err()
	}
	return apperr.NotFound(resource)
}

func evaluate(p *Principal, op Operation, t Target) Decision {
	if !knownRecords[t.Type] {
		return deny(ReasonUnknownRecordType)
	}
	if p == nil {
		if publicContent[t.Type] && (op == OpRead || op == OpList) {
			return allow()
		}
		return deny(ReasonUnauthenticated)
	}
	if p.Role == RoleUnassigned || !p.Role.Valid() {
		return deny(ReasonReauthenticate)
	}
	if publicContent[t.Type] && (op == OpRead || op == OpList) {
		return allow()
	}

	s, ok := rolePolicies[p.Role][t.Type][op]
	if !ok {
		return deny(ReasonRoleNotPermitted)
	}
	// list results are filtered by the caller's own profile in the query
	if op == OpList {
		return allow()
	}

	switch s {
	case scopeOwnPatient:
		if !owns(p.ProfileID, t.PatientID) {
			return deny(ReasonNotOwner)
		}
	case scopeOwnDoctor:
		if !owns(p.ProfileID, t.DoctorID) {
			return deny(ReasonNotOwner)
		}
	case scopeOwnUser:
		if !owns(p.UserID, t.OwnerUserID) {
			return deny(ReasonNotOwner)
		}
	}
	return allow()
}

func owns(mine, ref uuid.UUID) bool {
	return mine != uuid.Nil && mine == ref
}

func allow() Decision { return Decision{Allowed: true, Reason: ReasonAllowed} }

func deny(r Reason) Decision { return Decision{Allowed: false, Reason: r} }
