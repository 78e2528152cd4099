package clinical

import (
	"net/http"

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
	api.GET("/medical-history", h.ListHistory)
	api.POST("/medical-history", h.CreateHistory)
	api.GET("/medical-history/:id", h.GetHistory)
	api.DELETE("/medical-history/:id", h.DeleteHistory)

	api.GET("/prescriptions", h.ListPrescriptions)
	api.POST("/prescriptions", h.CreatePrescription)
	api.GET("/prescriptions/:id", h.GetPrescription)
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

// filterFromQuery reads ?patient_id= and ?doctor_id=. Non-admin callers
// have them overridden by the service.
func filterFromQuery(c echo.Context) (Filter, error) {
	var f Filter
	for name, dst := range map[string]*uuid.UUID{"patient_id": &f.PatientID, "doctor_id": &f.DoctorID} {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return Filter{}, apperr.HTTPError(apperr.FieldError(name, "is not a valid id"))
		}
		*dst = id
	}
	return f, nil
}

// -- Medical history --

func (h *Handler) CreateHistory(c echo.Context) error {
	var in HistoryInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	rec, err := h.svc.CreateHistory(c.Request().Context(), auth.CurrentPrincipal(c), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListHistory(c echo.Context) error {
	pg := pagination.FromContext(c)
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ListHistory(c.Request().Context(), auth.CurrentPrincipal(c), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.GetHistory(c.Request().Context(), auth.CurrentPrincipal(c), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) DeleteHistory(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteHistory(c.Request().Context(), auth.CurrentPrincipal(c), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Prescriptions --

func (h *Handler) CreatePrescription(c echo.Context) error {
	var in PrescriptionInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	p, err := h.svc.CreatePrescription(c.Request().Context(), auth.CurrentPrincipal(c), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	pg := pagination.FromContext(c)
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ListPrescriptions(c.Request().Context(), auth.CurrentPrincipal(c), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetPrescription(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPrescription(c.Request().Context(), auth.CurrentPrincipal(c), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}
