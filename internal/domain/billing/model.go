package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentMethod records how a bill was settled.
type PaymentMethod string

const (
	MethodCash   PaymentMethod = "Cash"
	MethodOnline PaymentMethod = "Online"
)

// Bill is issued by a doctor to a patient. Only the payment columns ever
// change after creation.
type Bill struct {
	ID                uuid.UUID      `db:"id" json:"id"`
	PatientID         uuid.UUID      `db:"patient_id" json:"patient_id"`
	DoctorID          uuid.UUID      `db:"doctor_id" json:"doctor_id"`
	AmountCents       int64          `db:"amount_cents" json:"amount_cents"`
	Description       string         `db:"description" json:"description"`
	IssuedOn          time.Time      `db:"issued_on" json:"issued_on"`
	Paid              bool           `db:"paid" json:"paid"`
	PaymentMethod     *PaymentMethod `db:"payment_method" json:"payment_method,omitempty"`
	PaymentSessionRef *string        `db:"payment_session_ref" json:"-"` // session that settled the bill
	PaidAt            *time.Time     `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
}

// Amount renders the amount in major units, e.g. 1250 as "12.50".
func (b *Bill) Amount() string {
	return FormatCents(b.AmountCents)
}

func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

type BillInput struct {
	PatientID   uuid.UUID `json:"patient_id"`
	AmountCents int64     `json:"amount_cents"`
	Description string    `json:"description"`
}

// Filter narrows bill lists. Zero values match everything.
type Filter struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Paid      *bool
}

// PaymentSession is what a patient needs to complete checkout.
type PaymentSession struct {
	BillID      uuid.UUID `json:"bill_id"`
	SessionRef  string    `json:"session_ref"`
	CheckoutURL string    `json:"checkout_url"`
}

// Confirmation is the gateway's report of a completed checkout.
type Confirmation struct {
	BillID      uuid.UUID
	SessionRef  string
	AmountCents int64
}
