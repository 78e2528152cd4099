package content

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
	api.GET("/facilities", h.ListFacilities)
	api.POST("/facilities", h.CreateFacility)
	api.GET("/facilities/:id", h.GetFacility)
	api.PUT("/facilities/:id", h.UpdateFacility)
	api.DELETE("/facilities/:id", h.DeleteFacility)

	api.GET("/education", h.ListEducation)
	api.POST("/education", h.CreateEducation)
	api.GET("/education/:id", h.GetEducation)
	api.PUT("/education/:id", h.UpdateEducation)
	api.DELETE("/education/:id", h.DeleteEducation)

	api.GET("/bulletins", h.ListBulletins)
	api.POST("/bulletins", h.CreateBulletin)
	api.GET("/bulletins/:id", h.GetBulletin)
	api.PUT("/bulletins/:id", h.UpdateBulletin)
	api.DELETE("/bulletins/:id", h.DeleteBulletin)

	api.POST("/contact", h.Contact)
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

// -- Facilities --

func (h *Handler) CreateFacility(c echo.Context) error {
	var in FacilityInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	f, err := h.svc.CreateFacility(c.Request().Context(), auth.CurrentPrincipal(c), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) GetFacility(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	f, err := h.svc.GetFacility(c.Request().Context(), auth.CurrentPrincipal(c), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) ListFacilities(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListFacilities(c.Request().Context(), auth.CurrentPrincipal(c), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdateFacility(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in FacilityInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	f, err := h.svc.UpdateFacility(c.Request().Context(), auth.CurrentPrincipal(c), id, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) DeleteFacility(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteFacility(c.Request().Context(), auth.CurrentPrincipal(c), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Education --

func (h *Handler) CreateEducation(c echo.Context) error {
	var in EducationInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	r, err := h.svc.CreateEducation(c.Request().Context(), auth.CurrentPrincipal(c), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetEducation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetEducation(c.Request().Context(), auth.CurrentPrincipal(c), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListEducation(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListEducation(c.Request().Context(), auth.CurrentPrincipal(c), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdateEducation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in EducationInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	r, err := h.svc.UpdateEducation(c.Request().Context(), auth.CurrentPrincipal(c), id, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteEducation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteEducation(c.Request().Context(), auth.CurrentPrincipal(c), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Bulletins --

func (h *Handler) CreateBulletin(c echo.Context) error {
	var in BulletinInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	b, err := h.svc.CreateBulletin(c.Request().Context(), auth.CurrentPrincipal(c), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBulletin(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBulletin(c.Request().Context(), auth.CurrentPrincipal(c), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBulletins(c echo.Context) error {
	pg := pagination.FromContext(c)
	kind := BulletinKind(c.QueryParam("kind"))
	items, total, err := h.svc.ListBulletins(c.Request().Context(), auth.CurrentPrincipal(c), kind, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdateBulletin(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in BulletinInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	b, err := h.svc.UpdateBulletin(c.Request().Context(), auth.CurrentPrincipal(c), id, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeleteBulletin(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteBulletin(c.Request().Context(), auth.CurrentPrincipal(c), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Contact --

func (h *Handler) Contact(c echo.Context) error {
	var msg ContactMessage
	if err := c.Bind(&msg); err != nil {
		return bindError(err)
	}
	if err := h.svc.Contact(c.Request().Context(), msg); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "sent"})
}
