package auth

import (
	"errors"
	"net/http"

	"github.com/edgeflare/pgcrud/internal/users"
	authn "github.com/edgeflare/pgcrud/pkg/auth"
	"github.com/edgeflare/pgcrud/pkg/httputil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r *httputil.Router, prefix string, requireAuth httputil.Middleware) {
	public := r.Group(prefix)
	public.HandleFunc("POST /register", h.register)
	public.HandleFunc("POST /login", h.login)
	public.HandleFunc("POST /refresh", h.refresh)

	private := r.Group(prefix)
	private.Use(requireAuth)
	private.HandleFunc("GET /me", h.me)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) error {
	var in RegisterInput
	if err := httputil.Bind(r, &in); err != nil {
		return err
	}
	sess, err := h.svc.Register(r.Context(), in)
	if err != nil {
		return httpError(err)
	}
	httputil.Created(w, sess, "User registered successfully")
	return nil
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) error {
	var in LoginInput
	if err := httputil.Bind(r, &in); err != nil {
		return err
	}
	sess, err := h.svc.Login(r.Context(), in)
	if err != nil {
		return httpError(err)
	}
	httputil.OK(w, sess, "Login successful")
	return nil
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) error {
	var in RefreshInput
	if err := httputil.Bind(r, &in); err != nil {
		return err
	}
	token, err := h.svc.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		return httpError(err)
	}
	httputil.OK(w, map[string]string{"accessToken": token}, "Token refreshed successfully")
	return nil
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) error {
	principal, ok := httputil.OIDCUser(r)
	if !ok {
		return httputil.Unauthorized("Access token is required")
	}
	u, err := h.svc.Me(r.Context(), principal.Subject)
	if err != nil {
		return httpError(err)
	}
	httputil.OK(w, u.Resource())
	return nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, users.ErrEmailTaken):
		return httputil.Conflict("Email already exists")
	case errors.Is(err, authn.ErrInvalidCredentials):
		return httputil.Unauthorized("Invalid credentials")
	case errors.Is(err, authn.ErrInvalidToken):
		return httputil.Unauthorized("Invalid refresh token")
	case errors.Is(err, users.ErrNotFound):
		return httputil.NotFound("User not found")
	}
	return err
}
