package billing

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospital/portal/internal/platform/apperr"
	"github.com/hospital/portal/internal/platform/auth"
	"github.com/hospital/portal/internal/platform/payment"
	"github.com/hospital/portal/pkg/pagination"
)

const maxWebhookBody = 1 << 20

type Handler struct {
	svc      *Service
	verifier *payment.Verifier
	logger   zerolog.Logger
}

func NewHandler(svc *Service, verifier *payment.Verifier, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, verifier: verifier, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/bills", h.List)
	api.POST("/bills", h.Create)
	api.GET("/bills/:id", h.Get)
	api.POST("/bills/:id/payment-session", h.CreatePaymentSession)
}

// RegisterWebhook mounts the gateway callback. It authenticates by
// signature, not by session token.
func (h *Handler) RegisterWebhook(api *echo.Group) {
	api.POST("/payments/webhook", h.Webhook)
}

func bindError(error) error {
	return apperr.HTTPError(apperr.Validation("malformed request body", nil))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.HTTPError(apperr.FieldError("id", "is not a valid id"))
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var in BillInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	b, err := h.svc.Create(c.Request().Context(), auth.CurrentPrincipal(c), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f Filter
	if raw := c.QueryParam("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperr.HTTPError(apperr.FieldError("patient_id", "is not a valid id"))
		}
		f.PatientID = id
	}
	if raw := c.QueryParam("paid"); raw != "" {
		paid, err := strconv.ParseBool(raw)
		if err != nil {
			return apperr.HTTPError(apperr.FieldError("paid", "must be true or false"))
		}
		f.Paid = &paid
	}
	items, total, err := h.svc.List(c.Request().Context(), auth.CurrentPrincipal(c), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Get(c.Request().Context(), auth.CurrentPrincipal(c), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) CreatePaymentSession(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	session, err := h.svc.CreatePaymentSession(c.Request().Context(), auth.CurrentPrincipal(c), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, session)
}

// Webhook applies a signed checkout notification. Events the portal does
// not act on are acknowledged so the gateway stops retrying them.
func (h *Handler) Webhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return apperr.HTTPError(apperr.Validation("unreadable body", nil))
	}
	ev, err := h.verifier.Verify(body, c.Request().Header.Get(payment.SignatureHeader))
	if err != nil {
		h.logger.Warn().Err(err).Str("remote_ip", c.RealIP()).Msg("payment webhook rejected")
		if errors.Is(err, payment.ErrBadSignature) || errors.Is(err, payment.ErrStaleEvent) {
			return apperr.HTTPError(apperr.Unauthenticated("BAD_SIGNATURE", "invalid webhook signature"))
		}
		return apperr.HTTPError(apperr.Validation("malformed event", nil))
	}
	if ev.Type != payment.EventCheckoutCompleted {
		return c.NoContent(http.StatusNoContent)
	}

	billID, err := uuid.Parse(ev.Data.Reference)
	if err != nil {
		return apperr.HTTPError(apperr.FieldError("client_reference_id", "is not a valid bill id"))
	}
	b, err := h.svc.ConfirmPayment(c.Request().Context(), Confirmation{
		BillID:      billID,
		SessionRef:  ev.Data.SessionID,
		AmountCents: ev.Data.Amount,
	})
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"bill_id": b.ID, "paid": b.Paid})
}
