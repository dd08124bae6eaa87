package posts

import (
	"errors"
	"net/http"

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
	public.HandleFunc("GET /{id}", h.get)
	public.HandleFunc("GET /user/{userId}", h.listByUser)

	private := r.Group(prefix)
	private.Use(requireAuth)
	private.HandleFunc("POST /", h.create)
	private.HandleFunc("PATCH /{id}", h.update)
	private.HandleFunc("DELETE /{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) error {
	page, limit, err := httputil.Page(r)
	if err != nil {
		return err
	}
	posts, total, err := h.svc.List(r.Context(), limit, httputil.Offset(page, limit))
	if err != nil {
		return err
	}
	httputil.Paginated(w, Resources(posts), httputil.NewPagination(page, limit, total))
	return nil
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) error {
	id, err := httputil.UUIDParam(r, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.Get(r.Context(), id)
	if err != nil {
		return httpError(err)
	}
	httputil.OK(w, p.Resource())
	return nil
}

func (h *Handler) listByUser(w http.ResponseWriter, r *http.Request) error {
	userID, err := httputil.UUIDParam(r, "userId")
	if err != nil {
		return err
	}
	posts, err := h.svc.ListByUser(r.Context(), userID)
	if err != nil {
		return err
	}
	httputil.OK(w, Resources(posts))
	return nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) error {
	var in CreateInput
	if err := httputil.Bind(r, &in); err != nil {
		return err
	}
	if in.UserID == "" {
		if user, ok := httputil.OIDCUser(r); ok {
			in.UserID = user.Subject
		}
	}
	if in.UserID == "" {
		return httputil.BadRequest("Validation failed", "userId: is required")
	}
	p, err := h.svc.Create(r.Context(), in)
	if err != nil {
		return err
	}
	httputil.Created(w, p.Resource(), "Post created successfully")
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
	p, err := h.svc.Update(r.Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	httputil.OK(w, p.Resource(), "Post updated successfully")
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
	httputil.OK(w, nil, "Post deleted successfully")
	return nil
}

func httpError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return httputil.NotFound("Post not found")
	}
	return err
}
