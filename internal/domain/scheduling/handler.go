package scheduling

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hospital/portal/internal/platform/apperr"
	"github.com/hospital/portal/internal/platform/auth"
	"github.com/hospital/portal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/appointments", h.List)
	api.POST("/appointments", h.Book)
	api.POST("/appointments/purge", h.Purge)
	api.GET("/appointments/:id", h.Get)
	api.PUT("/appointments/:id/status", h.SetStatus)
	api.POST("/appointments/:id/cancel", h.Cancel)
}

type statusRequest struct {
	Status Status `json:"status"`
}

type purgeRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

type purgeResponse struct {
	Purged int64 `json:"purged"`
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

func parseUUIDQuery(c echo.Context, name string) (uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.HTTPError(apperr.FieldError(name, "is not a valid id"))
	}
	return id, nil
}

func (h *Handler) Book(c echo.Context) error {
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	a, err := h.svc.Book(c.Request().Context(), auth.CurrentPrincipal(c), req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f ListFilter
	var err error
	if f.PatientID, err = parseUUIDQuery(c, "patient_id"); err != nil {
		return err
	}
	if f.DoctorID, err = parseUUIDQuery(c, "doctor_id"); err != nil {
		return err
	}
	f.Status = Status(c.QueryParam("status"))

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
	a, err := h.svc.Get(c.Request().Context(), auth.CurrentPrincipal(c), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	a, err := h.svc.SetStatus(c.Request().Context(), auth.CurrentPrincipal(c), id, req.Status)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Cancel(c.Request().Context(), auth.CurrentPrincipal(c), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// Purge removes cancelled appointments older than the given number of days.
func (h *Handler) Purge(c echo.Context) error {
	var req purgeRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	n, err := h.svc.Purge(c.Request().Context(), auth.CurrentPrincipal(c),
		time.Duration(req.OlderThanDays)*24*time.Hour)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, purgeResponse{Purged: n})
}
