package users

import (
	"errors"
	"net/http"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/httputil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the routes under prefix. Writes go through requireAuth.
func (h *Handler) Register(r *httputil.Router, prefix string, requireAuth httputil.Middleware) {
	public := r.Group(prefix)
	public.HandleFunc("GET /", h.list)
	public.HandleFunc("GET /search", h.search)
	public.HandleFunc("GET /{id}", h.get)

	private := r.Group(prefix)
	private.Use(requireAuth)
	private.HandleFunc("POST /", h.create)
	private.HandleFunc("PUT /{id}", h.update)
	private.HandleFunc("DELETE /{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) error {
	page, limit, err := httputil.Page(r)
	if err != nil {
		return err
	}
	users, total, err := h.svc.List(r.Context(), limit, httputil.Offset(page, limit))
	if err != nil {
		return err
	}
	httputil.Paginated(w, Resources(users), httputil.NewPagination(page, limit, total))
	return nil
}

// search matches names with ?q=, or one data field with ?field=&value=.
func (h *Handler) search(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	var (
		users []User
		err   error
	)
	switch {
	case strings.TrimSpace(q.Get("q")) != "":
		users, err = h.svc.Search(r.Context(), strings.TrimSpace(q.Get("q")))
	case q.Get("field") != "":
		users, err = h.svc.FindByField(r.Context(), q.Get("field"), q.Get("value"))
	default:
		return httputil.BadRequest("Validation failed", "q: is required")
	}
	if err != nil {
		return err
	}
	httputil.OK(w, Resources(users))
	return nil
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) error {
	id, err := httputil.UUIDParam(r, "id")
	if err != nil {
		return err
	}
	u, err := h.svc.Get(r.Context(), id)
	if err != nil {
		return httpError(err)
	}
	httputil.OK(w, u.Resource())
	return nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) error {
	var in CreateInput
	if err := httputil.Bind(r, &in); err != nil {
		return err
	}
	u, err := h.svc.Create(r.Context(), in)
	if err != nil {
		return httpError(err)
	}
	httputil.Created(w, u.Resource(), "User created successfully")
	return nil
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) error {
	id, err := httputil.UUIDParam(r, "id")
	if err != nil {
		return err
	}
	var in UpdateInput
	if err := httputil.Bind(r, &in); err != nil {
		return err
	}
	u, err := h.svc.Update(r.Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	httputil.OK(w, u.Resource(), "User updated successfully")
	return nil
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) error {
	id, err := httputil.UUIDParam(r, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		return httpError(err)
	}
	httputil.OK(w, nil, "User deleted successfully")
	return nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return httputil.NotFound("User not found")
	case errors.Is(err, ErrEmailTaken):
		return httputil.Conflict("Email already exists")
	}
	return err
}
