package billing

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospital/portal/internal/platform/auth"
	"github.com/hospital/portal/internal/platform/payment"
)

const webhookSecret = "whsec_test"

func newTestHandler() (*Handler, *fixture, *payment.Verifier) {
	f := newFixture()
	v := payment.NewVerifier(webhookSecret, time.Minute)
	return NewHandler(f.svc, v, zerolog.Nop()), f, v
}

func jsonRequest(method, target, body string, p *auth.Principal) (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	}
	return req, httptest.NewRecorder()
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	return he.Code
}

func webhookRequest(payload []byte, signature string) (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(payment.SignatureHeader, signature)
	return req, httptest.NewRecorder()
}

func TestHandler_Create(t *testing.T) {
	h, f, _ := newTestHandler()
	alice := f.patient("alice")
	body := `{"patient_id":"` + alice.ProfileID.String() + `","amount_cents":2500,"description":"Blood test"}`
	req, rec := jsonRequest(http.MethodPost, "/api/v1/bills", body, f.doctor("house"))
	if err := h.Create(echo.New().NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "payment_session_ref") {
		t.Error("session reference must not be serialized")
	}
}

func TestHandler_List_BadPaidFilter(t *testing.T) {
	h, f, _ := newTestHandler()
	req, rec := jsonRequest(http.MethodGet, "/api/v1/bills?paid=maybe", "", f.patient("alice"))
	err := h.List(echo.New().NewContext(req, rec))
	if got := statusOf(t, err); got != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got)
	}
}

func TestHandler_PaymentFlow(t *testing.T) {
	h, f, v := newTestHandler()
	e := echo.New()
	alice := f.patient("alice")
	b := f.bill(t, f.doctor("house"), alice)

	req, rec := jsonRequest(http.MethodPost, "/", "", alice)
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())
	if err := h.CreatePaymentSession(c); err != nil {
		t.Fatalf("CreatePaymentSession: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"session_ref":"cs_1"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"id":"cs_1","client_reference_id":"` +
		b.ID.String() + `","amount_total":150000}}`)
	req, rec = webhookRequest(payload, v.Sign(payload, time.Now()))
	if err := h.Webhook(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Webhook: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	stored, _ := f.bills.GetByID(context.Background(), b.ID)
	if !stored.Paid {
		t.Error("bill must be paid after a verified webhook")
	}
}

func TestHandler_Webhook_BadSignature(t *testing.T) {
	h, f, _ := newTestHandler()
	alice := f.patient("alice")
	b := f.bill(t, f.doctor("house"), alice)
	f.svc.CreatePaymentSession(context.Background(), alice, b.ID)

	payload := []byte(`{"type":"checkout.session.completed","data":{"id":"cs_1","client_reference_id":"` + b.ID.String() + `"}}`)
	forged := payment.NewVerifier("not-the-secret", time.Minute).Sign(payload, time.Now())
	req, rec := webhookRequest(payload, forged)
	err := h.Webhook(echo.New().NewContext(req, rec))
	if got := statusOf(t, err); got != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", got)
	}
	stored, _ := f.bills.GetByID(context.Background(), b.ID)
	if stored.Paid {
		t.Error("forged webhook must not settle the bill")
	}
}

func TestHandler_Webhook_IgnoresOtherEvents(t *testing.T) {
	h, _, v := newTestHandler()
	payload := []byte(`{"id":"evt_2","type":"checkout.session.expired","data":{"id":"cs_9"}}`)
	req, rec := webhookRequest(payload, v.Sign(payload, time.Now()))
	if err := h.Webhook(echo.New().NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}
