package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const SignatureHeader = "X-Payment-Signature"

const EventCheckoutCompleted = "checkout.session.completed"

var (
	ErrBadSignature = errors.New("webhook signature mismatch")
	ErrStaleEvent   = errors.New("webhook timestamp outside tolerance")
)

// WebhookEvent is the subset of the provider payload the portal acts on.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		SessionID string `json:"id"`
		Reference string `json:"client_reference_id"`
		Amount    int64  `json:"amount_total"`
	} `json:"data"`
}

// Verifier checks "t=<unix>,v1=<hex hmac-sha256 of t.payload>" signatures.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Sign produces a header value for payload at ts.
func (v *Verifier) Sign(payload []byte, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + unix + ",v1=" + v.mac(unix, payload)
}

func (v *Verifier) mac(unix string, payload []byte) string {
	m := hmac.New(sha256.New, v.secret)
	m.Write([]byte(unix))
	m.Write([]byte("."))
	m.Write(payload)
	return hex.EncodeToString(m.Sum(nil))
}

// Verify checks the signature header and returns the decoded event.
func (v *Verifier) Verify(payload []byte, header string) (*WebhookEvent, error) {
	var unix, sig string
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			unix = val
		case "v1":
			sig = val
		}
	}
	if unix == "" || sig == "" {
		return nil, ErrBadSignature
	}

	ts, err := strconv.ParseInt(unix, 10, 64)
	if err != nil {
		return nil, ErrBadSignature
	}
	age := v.now().Sub(time.Unix(ts, 0))
	if age > v.tolerance || age < -v.tolerance {
		return nil, ErrStaleEvent
	}
	if !hmac.Equal([]byte(sig), []byte(v.mac(unix, payload))) {
		return nil, ErrBadSignature
	}

	var ev WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}
	return &ev, nil
}
