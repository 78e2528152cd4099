// Package notification delivers portal events by email. Delivery never
// blocks the caller and never runs inside a database transaction.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EmailSender sends a single plain-text email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// EventType names a notification template.
type EventType string

const (
	EventAppointmentBooked  EventType = "appointment-booked"
	EventAppointmentStatus  EventType = "appointment-status"
	EventAppointmentCancel  EventType = "appointment-cancelled"
	EventBillIssued         EventType = "bill-issued"
	EventPaymentReceived    EventType = "payment-received"
	EventAccountProvisioned EventType = "account-provisioned"
	EventContactMessage     EventType = "contact-message"
)

// Event is something a user should hear about.
type Event struct {
	Type EventType
	To   string
	Data map[string]string
}

type Template struct {
	Subject string
	Body    string
}

// TemplateEngine renders {{key}} placeholders.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[EventType]Template
}

func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{templates: map[EventType]Template{
		EventAppointmentBooked: {
			Subject: "New appointment request from {{patient_name}}",
			Body:    "{{patient_name}} requested an appointment on {{date}} at {{time}}.\nReason: {{reason}}",
		},
		EventAppointmentStatus: {
			Subject: "Your appointment is {{status}}",
			Body:    "Dear {{patient_name}}, your appointment with Dr. {{doctor_name}} on {{date}} at {{time}} is now {{status}}.",
		},
		EventAppointmentCancel: {
			Subject: "Appointment cancelled by {{patient_name}}",
			Body:    "{{patient_name}} cancelled the appointment on {{date}} at {{time}}.",
		},
		EventBillIssued: {
			Subject: "New bill from Dr. {{doctor_name}}",
			Body:    "Dear {{patient_name}}, a bill of {{amount}} was issued on {{issued_on}}: {{description}}",
		},
		EventPaymentReceived: {
			Subject: "Payment received",
			Body:    "Dear {{patient_name}}, we received your payment of {{amount}}. Thank you.",
		},
		EventAccountProvisioned: {
			Subject: "Welcome to the hospital portal",
			Body:    "Hello {{full_name}}, your {{role}} account {{username}} is ready.",
		},
		EventContactMessage: {
			Subject: "Contact form: {{subject}}",
			Body:    "From: {{name}} <{{email}}>\n\n{{message}}",
		},
	}}
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(t EventType, tpl Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t] = tpl
}

// Render fills the template for t. Placeholders without data are left as is.
func (e *TemplateEngine) Render(t EventType, data map[string]string) (string, string, error) {
	e.mu.RLock()
	tpl, ok := e.templates[t]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", t)
	}

	subject, body := tpl.Subject, tpl.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// Dispatcher sends events on background goroutines.
type Dispatcher struct {
	sender    EmailSender
	templates *TemplateEngine
	logger    zerolog.Logger
	timeout   time.Duration
	wg        sync.WaitGroup

	// OnFailure, when set, observes every undeliverable event.
	OnFailure func(Event, error)
}

func NewDispatcher(sender EmailSender, templates *TemplateEngine, logger zerolog.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{sender: sender, templates: templates, logger: logger, timeout: timeout}
}

// Notify returns immediately. Failures are logged and never reach the caller.
// The delivery context is detached from ctx so that a finished request does
// not cancel the mail.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) {
	if d == nil || ev.To == "" {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.Send(sendCtx, ev); err != nil {
			d.logger.Warn().Err(err).Str("event", string(ev.Type)).Str("to", ev.To).Msg("notification not delivered")
			if d.OnFailure != nil {
				d.OnFailure(ev, err)
			}
		}
	}()
}

// Send delivers ev synchronously. Used where the caller must know the
// outcome, e.g. the contact form.
func (d *Dispatcher) Send(ctx context.Context, ev Event) error {
	if ev.To == "" {
		return errors.New("notification has no recipient")
	}
	subject, body, err := d.templates.Render(ev.Type, ev.Data)
	if err != nil {
		return err
	}
	return d.sender.SendEmail(ctx, ev.To, subject, body)
}

// Wait blocks until in-flight notifications finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSender writes emails to the log instead of sending them. It is used
// when SMTP is not configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) SendEmail(_ context.Context, to, subject, _ string) error {
	s.Logger.Info().Str("to", to).Str("subject", subject).Msg("email suppressed, smtp not configured")
	return nil
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}
