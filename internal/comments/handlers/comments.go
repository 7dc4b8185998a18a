package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/comment-platform/internal/comments/store"
	"github.com/example/comment-platform/internal/platform/api"
	"github.com/example/comment-platform/internal/platform/auth"
	"github.com/example/comment-platform/internal/platform/httpserver"
)

const maxJSONBody = 1 << 20

type createCommentRequest struct {
	Body       string  `json:"body"`
	ParentID   *string `json:"parent_id,omitempty"`
	GuestName  string  `json:"guest_name,omitempty"`
	GuestEmail string  `json:"guest_email,omitempty"`
	Homepage   string  `json:"homepage,omitempty"`
}

type updateCommentRequest struct {
	Body string `json:"body"`
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

type listResponse struct {
	Comments []CommentView `json:"comments"`
}

// upload is one file pulled out of a multipart create request.
type upload struct {
	name        string
	contentType string
	data        []byte
}

// writeDomainError maps the store taxonomy onto HTTP. Integrity faults are
// internal: logged loudly, surfaced generically.
func writeDomainError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	rid := httpserver.RequestIDFromContext(r.Context())

	var ve *store.ValidationError
	if errors.As(err, &ve) {
		details := map[string]any{}
		if ve.Field != "" {
			details[ve.Field] = ve.Reason
		}
		api.BadRequest(w, "VALIDATION", ve.Error(), rid, details)
		return
	}
	var pe *store.PermissionError
	if errors.As(err, &pe) {
		api.Forbidden(w, "FORBIDDEN", "not the author", rid)
		return
	}
	var nf *store.NotFoundError
	if errors.As(err, &nf) {
		api.NotFound(w, "NOT_FOUND", nf.Error(), rid)
		return
	}
	var ie *store.IntegrityError
	if errors.As(err, &ie) {
		log.Error("comment graph integrity fault", zap.Error(err), zap.String("request_id", rid))
		api.Internal(w, rid)
		return
	}
	log.Error("comment operation failed", zap.Error(err), zap.String("request_id", rid))
	api.Internal(w, rid)
}

// ListComments handles GET /v1/comments.
func ListComments(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, _ := auth.IdentityFromContext(r.Context())

		sortBy := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("sort_by")))
		order := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("order")))
		if order != store.OrderAsc {
			order = store.OrderDesc
		}

		cs, err := d.Store.List(r.Context(), store.ListOptions{
			Viewer: viewerActor(viewer),
			SortBy: sortBy,
			Order:  order,
		})
		if err != nil {
			writeDomainError(w, r, d.Log, err)
			return
		}
		views, err := renderComments(r.Context(), d, cs, viewer)
		if err != nil {
			writeDomainError(w, r, d.Log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, listResponse{Comments: views})
	}
}

// GetComment handles GET /v1/comments/{comment_id}.
func GetComment(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, _ := auth.IdentityFromContext(r.Context())
		id := strings.TrimSpace(chi.URLParam(r, "comment_id"))

		c, err := d.Store.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, d.Log, err)
			return
		}
		// Inactive comments exist only for privileged viewers.
		if !c.Active && !viewer.Privileged {
			api.NotFound(w, "NOT_FOUND", "comment "+id+" does not exist", httpserver.RequestIDFromContext(r.Context()))
			return
		}
		view, err := renderComment(r.Context(), d, c, viewer)
		if err != nil {
			writeDomainError(w, r, d.Log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, view)
	}
}

// CreateComment handles POST /v1/comments. Accepts JSON, or multipart
// form-data when files ride along. Anonymous callers must supply guest
// name and email.
func CreateComment(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		createComment(d, w, r, nil)
	}
}

// CreateReply handles POST /v1/comments/{comment_id}/replies. The URL
// fixes the parent; a parent_id in the payload is ignored.
func CreateReply(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parentID := strings.TrimSpace(chi.URLParam(r, "comment_id"))
		createComment(d, w, r, &parentID)
	}
}

func createComment(d Deps, w http.ResponseWriter, r *http.Request, forcedParent *string) {
	viewer, _ := auth.IdentityFromContext(r.Context())

	req, files, err := parseCreateRequest(w, r)
	if err != nil {
		api.BadRequest(w, "INVALID_REQUEST", err.Error(), httpserver.RequestIDFromContext(r.Context()), nil)
		return
	}
	if forcedParent != nil {
		req.ParentID = forcedParent
	}

	c := store.Comment{
		ParentID: req.ParentID,
		Body:     req.Body,
		Homepage: strings.TrimSpace(req.Homepage),
	}
	if !viewer.IsAnonymous() {
		c.AuthorID = &viewer.ID
		c.AuthorName = viewer.Name
		c.AuthorEmail = viewer.Email
	} else {
		c.GuestName = strings.TrimSpace(req.GuestName)
		c.GuestEmail = strings.TrimSpace(req.GuestEmail)
	}

	created, err := d.Store.Create(r.Context(), c)
	if err != nil {
		writeDomainError(w, r, d.Log, err)
		return
	}

	// The comment row is committed before any attachment work. If a single
	// file fails validation or storage the whole creation is rolled back:
	// stored blobs, attachment rows, then the comment itself.
	var storedRefs []string
	rollback := func() {
		ctx := r.Context()
		for _, ref := range storedRefs {
			if err := d.Blobs.Delete(ctx, ref); err != nil {
				d.Log.Warn("rollback: blob delete failed", zap.String("ref", ref), zap.Error(err))
			}
		}
		if err := d.Store.Delete(ctx, created.ID, store.Actor{Privileged: true}); err != nil {
			d.Log.Warn("rollback: comment delete failed", zap.String("comment_id", created.ID), zap.Error(err))
		}
	}

	for _, f := range files {
		res, err := d.Pipeline.Process(f.name, f.contentType, f.data)
		if err != nil {
			rollback()
			writeDomainError(w, r, d.Log, err)
			return
		}
		ref, err := d.Blobs.Store(r.Context(), res.Data, res.Name)
		if err != nil {
			rollback()
			writeDomainError(w, r, d.Log, err)
			return
		}
		storedRefs = append(storedRefs, ref)
		if _, err := d.Store.AddAttachment(r.Context(), store.Attachment{
			CommentID: created.ID,
			Kind:      res.Kind,
			Ref:       ref,
		}); err != nil {
			rollback()
			writeDomainError(w, r, d.Log, err)
			return
		}
	}

	view, err := renderComment(r.Context(), d, created, viewer)
	if err != nil {
		writeDomainError(w, r, d.Log, err)
		return
	}

	// Fan-out happens after the write committed; failures here are an
	// observability signal, never a rollback.
	if created.ParentID == nil {
		d.Fanout.CommentCreated(view)
	} else {
		root, err := d.Store.RootOf(r.Context(), created.ID)
		if err != nil {
			d.Log.Error("fanout: root resolution failed", zap.String("comment_id", created.ID), zap.Error(err))
		} else {
			d.Fanout.ReplyCreated(root.ID, view)
		}
	}

	api.WriteJSON(w, http.StatusCreated, view)
}

func parseCreateRequest(w http.ResponseWriter, r *http.Request) (createCommentRequest, []upload, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return createCommentRequest{}, nil, errors.New("invalid multipart form")
		}
		req := createCommentRequest{
			Body:       r.FormValue("body"),
			GuestName:  r.FormValue("guest_name"),
			GuestEmail: r.FormValue("guest_email"),
			Homepage:   r.FormValue("homepage"),
		}
		if p := strings.TrimSpace(r.FormValue("parent_id")); p != "" {
			req.ParentID = &p
		}

		var files []upload
		if r.MultipartForm != nil {
			for _, fh := range r.MultipartForm.File["files"] {
				f, err := fh.Open()
				if err != nil {
					return createCommentRequest{}, nil, errors.New("unreadable file upload")
				}
				data, err := io.ReadAll(f)
				_ = f.Close()
				if err != nil {
					return createCommentRequest{}, nil, errors.New("unreadable file upload")
				}
				files = append(files, upload{
					name:        fh.Filename,
					contentType: fh.Header.Get("Content-Type"),
					data:        data,
				})
			}
		}
		return req, files, nil
	}

	var req createCommentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		return createCommentRequest{}, nil, errors.New("invalid JSON")
	}
	return req, nil, nil
}

// ListReplies handles GET /v1/comments/{comment_id}/replies.
func ListReplies(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, _ := auth.IdentityFromContext(r.Context())
		parentID := strings.TrimSpace(chi.URLParam(r, "comment_id"))

		cs, err := d.Store.Replies(r.Context(), parentID, viewerActor(viewer))
		if err != nil {
			writeDomainError(w, r, d.Log, err)
			return
		}
		views, err := renderComments(r.Context(), d, cs, viewer)
		if err != nil {
			writeDomainError(w, r, d.Log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, listResponse{Comments: views})
	}
}

// UpdateComment handles PUT /v1/comments/{comment_id}. Author or
// privileged only; marks the comment edited for good.
func UpdateComment(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requester, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", httpserver.RequestIDFromContext(r.Context()))
			return
		}
		id := strings.TrimSpace(chi.URLParam(r, "comment_id"))

		var req updateCommentRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "invalid JSON", httpserver.RequestIDFromContext(r.Context()), nil)
			return
		}

		updated, err := d.Store.UpdateBody(r.Context(), id, viewerActor(requester), req.Body)
		if err != nil {
			writeDomainError(w, r, d.Log, err)
			return
		}
		view, err := renderComment(r.Context(), d, updated, requester)
		if err != nil {
			writeDomainError(w, r, d.Log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, view)
	}
}

// DeleteComment handles DELETE /v1/comments/{comment_id}. Cascades to
// replies and attachments; blob cleanup is best-effort afterwards.
func DeleteComment(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requester, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", httpserver.RequestIDFromContext(r.Context()))
			return
		}
		id := strings.TrimSpace(chi.URLParam(r, "comment_id"))

		atts, attErr := d.Store.AttachmentsOf(r.Context(), id)
		if attErr != nil {
			atts = nil
		}

		if err := d.Store.Delete(r.Context(), id, viewerActor(requester)); err != nil {
			writeDomainError(w, r, d.Log, err)
			return
		}
		for _, a := range atts {
			if err := d.Blobs.Delete(r.Context(), a.Ref); err != nil {
				d.Log.Warn("blob delete failed", zap.String("ref", a.Ref), zap.Error(err))
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// SetActive handles PUT /v1/comments/{comment_id}/active, the moderation
// toggle. Privileged actors only.
func SetActive(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requester, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", httpserver.RequestIDFromContext(r.Context()))
			return
		}
		id := strings.TrimSpace(chi.URLParam(r, "comment_id"))

		var req setActiveRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "invalid JSON", httpserver.RequestIDFromContext(r.Context()), nil)
			return
		}

		updated, err := d.Store.SetActive(r.Context(), id, viewerActor(requester), req.Active)
		if err != nil {
			writeDomainError(w, r, d.Log, err)
			return
		}
		view, err := renderComment(r.Context(), d, updated, requester)
		if err != nil {
			writeDomainError(w, r, d.Log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, view)
	}
}

// LikeComment handles POST /v1/comments/{comment_id}/like. Idempotent.
func LikeComment(d Deps) http.HandlerFunc {
	return likeHandler(d, true)
}

// UnlikeComment handles POST /v1/comments/{comment_id}/unlike. Idempotent.
func UnlikeComment(d Deps) http.HandlerFunc {
	return likeHandler(d, false)
}

func likeHandler(d Deps, like bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requester, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", httpserver.RequestIDFromContext(r.Context()))
			return
		}
		id := strings.TrimSpace(chi.URLParam(r, "comment_id"))

		c, err := d.Store.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, d.Log, err)
			return
		}

		if like {
			err = d.Likes.Like(r.Context(), c.ID, requester.ID)
		} else {
			err = d.Likes.Unlike(r.Context(), c.ID, requester.ID)
		}
		if err != nil {
			writeDomainError(w, r, d.Log, err)
			return
		}

		view, err := renderComment(r.Context(), d, c, requester)
		if err != nil {
			writeDomainError(w, r, d.Log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, view)
	}
}
