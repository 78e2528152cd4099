package identity

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
	svc         *Service
	tokens      *auth.TokenIssuer
	revocations auth.RevocationStore
}

func NewHandler(svc *Service, tokens *auth.TokenIssuer, revocations auth.RevocationStore) *Handler {
	return &Handler{svc: svc, tokens: tokens, revocations: revocations}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/logout", h.Logout)
	api.GET("/auth/me", h.Me)

	api.GET("/users", h.ListUsers)
	api.POST("/users", h.CreateUser)
	api.GET("/users/:id", h.GetUser)
	api.PUT("/users/:id", h.UpdateUser)
	api.DELETE("/users/:id", h.DeactivateUser)

	api.GET("/patients", h.ListPatients)
	api.GET("/patients/:id", h.GetPatient)
	api.PUT("/patients/:id", h.UpdatePatient)

	api.GET("/doctors", h.ListDoctors)
	api.GET("/doctors/:id", h.GetDoctor)
	api.PUT("/doctors/:id", h.UpdateDoctor)
}

// provisionBody is the flat JSON accepted by register and user creation.
type provisionBody struct {
	Role auth.Role `json:"role"`
	AccountInput
	ProfileInput
}

func (b provisionBody) request() ProvisionRequest {
	return ProvisionRequest{Role: b.Role, Account: b.AccountInput, Profile: b.ProfileInput}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    uuid.UUID `json:"user_id"`
	Role      auth.Role `json:"role"`
	ProfileID uuid.UUID `json:"profile_id"`
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

// -- Session --

func (h *Handler) Register(c echo.Context) error {
	var body provisionBody
	if err := c.Bind(&body); err != nil {
		return bindError(err)
	}
	if p := auth.CurrentPrincipal(c); p != nil {
		return apperr.HTTPError(apperr.Validation("already signed in", nil))
	}
	acct, err := h.svc.Provision(c.Request().Context(), nil, body.request())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, acct)
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	if req.Username == "" || req.Password == "" {
		return apperr.HTTPError(apperr.Validation("username and password are required", nil))
	}

	p, err := h.svc.Authenticate(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return apperr.HTTPError(err)
	}
	token, err := h.tokens.Issue(p)
	if err != nil {
		return apperr.HTTPError(apperr.Internal(err))
	}
	return c.JSON(http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: p.ExpiresAt,
		UserID:    p.UserID,
		Role:      p.Role,
		ProfileID: p.ProfileID,
	})
}

// Logout revokes the presented token until it would have expired.
func (h *Handler) Logout(c echo.Context) error {
	p := auth.CurrentPrincipal(c)
	if p == nil {
		return apperr.HTTPError(apperr.Unauthenticated("NO_SESSION", "not signed in"))
	}
	if err := h.revocations.Revoke(c.Request().Context(), p.TokenID, p.ExpiresAt); err != nil {
		return apperr.HTTPError(apperr.Unavailable("session store", err))
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Me(c echo.Context) error {
	me, err := h.svc.Me(c.Request().Context(), auth.CurrentPrincipal(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, me)
}

// -- Users --

func (h *Handler) ListUsers(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListUsers(c.Request().Context(), auth.CurrentPrincipal(c),
		auth.Role(c.QueryParam("role")), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) CreateUser(c echo.Context) error {
	var body provisionBody
	if err := c.Bind(&body); err != nil {
		return bindError(err)
	}
	p := auth.CurrentPrincipal(c)
	if p == nil {
		return apperr.HTTPError(auth.Decision{Reason: auth.ReasonUnauthenticated}.Err())
	}
	acct, err := h.svc.Provision(c.Request().Context(), p, body.request())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, acct)
}

func (h *Handler) GetUser(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	u, err := h.svc.GetUser(c.Request().Context(), auth.CurrentPrincipal(c), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) UpdateUser(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var upd UserUpdate
	if err := c.Bind(&upd); err != nil {
		return bindError(err)
	}
	u, err := h.svc.UpdateUser(c.Request().Context(), auth.CurrentPrincipal(c), id, upd)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) DeactivateUser(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeactivateUser(c.Request().Context(), auth.CurrentPrincipal(c), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Profiles --

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(c.Request().Context(), auth.CurrentPrincipal(c), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), auth.CurrentPrincipal(c), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in ProfileInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	p, err := h.svc.UpdatePatient(c.Request().Context(), auth.CurrentPrincipal(c), id, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctors(c.Request().Context(), auth.CurrentPrincipal(c),
		c.QueryParam("specialization"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), auth.CurrentPrincipal(c), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UpdateDoctor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in ProfileInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	d, err := h.svc.UpdateDoctor(c.Request().Context(), auth.CurrentPrincipal(c), id, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, d)
}
