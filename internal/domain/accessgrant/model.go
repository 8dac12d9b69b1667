package accessgrant

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusRevoked  Status = "REVOKED"
)

// Action is a patient's response to a grant.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionRevoke  Action = "revoke"
)

// RosterOp is the roster mutation that accompanies a transition.
type RosterOp int

const (
	RosterNone RosterOp = iota
	RosterAdd
	RosterRemove
)

// Transition is one accepted status change.
type Transition struct {
	From   Status
	To     Status
	Roster RosterOp
}

var transitions = map[Action]Transition{
	ActionApprove: {From: StatusPending, To: StatusApproved, Roster: RosterAdd},
	ActionReject:  {From: StatusPending, To: StatusRejected, Roster: RosterNone},
	ActionRevoke:  {From: StatusApproved, To: StatusRevoked, Roster: RosterRemove},
}

// Grant is one institution's request to read one patient's reports.
type Grant struct {
	ID           uuid.UUID  `json:"id"`
	HospitalUID  string     `json:"hospital_uid"`
	PatientEmail string     `json:"patient_email"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at"`
}

// Institution is the display record and roster of an institution.
type Institution struct {
	UID        string   `json:"uid" firestore:"-"`
	Name       string   `json:"name" firestore:"name"`
	Email      string   `json:"email" firestore:"email"`
	PatientIDs []string `json:"patient_ids" firestore:"patient_ids"`
}

// InstitutionInfo is the enrichment attached to listed grants.
type InstitutionInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// GrantView is a grant plus its requesting institution, when known.
type GrantView struct {
	*Grant
	Institution *InstitutionInfo `json:"institution"`
}

// ActiveGrant is an approved grant as the patient sees it.
type ActiveGrant struct {
	GrantView
	ApprovedAt time.Time `json:"approved_at"`
}

// NormalizeEmail is applied to every email before it is stored or compared.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
