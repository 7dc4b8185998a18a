package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/comment-platform/internal/comments/attach"
	"github.com/example/comment-platform/internal/comments/fanout"
	"github.com/example/comment-platform/internal/comments/likes"
	"github.com/example/comment-platform/internal/comments/store"
	"github.com/example/comment-platform/internal/platform/auth"
)

// Deps bundles what the comment handlers need. Wired once in main.
type Deps struct {
	Store     store.CommentStore
	Likes     *likes.Service
	Pipeline  attach.Pipeline
	Blobs     attach.BlobStore
	Fanout    *fanout.Publisher
	Transport fanout.Transport
	Log       *zap.Logger
}

type AuthorView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type AttachmentView struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Ref  string `json:"ref"`
}

// CommentView is the representation returned to callers and published on
// fan-out groups.
type CommentView struct {
	ID          string           `json:"id"`
	Author      *AuthorView      `json:"author,omitempty"`
	GuestName   string           `json:"guest_name,omitempty"`
	GuestEmail  string           `json:"guest_email,omitempty"`
	Homepage    string           `json:"homepage,omitempty"`
	ParentID    *string          `json:"parent_id"`
	Body        string           `json:"body"`
	Liked       bool             `json:"liked"`
	LikesCount  int              `json:"likes_count"`
	Attachments []AttachmentView `json:"attachments"`
	Edited      bool             `json:"edited"`
	Active      bool             `json:"active"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func viewerActor(id auth.Identity) store.Actor {
	return store.Actor{ID: id.ID, Privileged: id.Privileged}
}

// renderComment assembles the full representation: likedness and count
// come from the like cache layer, attachments from the store.
func renderComment(ctx context.Context, d Deps, c store.Comment, viewer auth.Identity) (CommentView, error) {
	v := CommentView{
		ID:         c.ID,
		GuestName:  c.GuestName,
		GuestEmail: c.GuestEmail,
		Homepage:   c.Homepage,
		ParentID:   c.ParentID,
		Body:       c.Body,
		Edited:     c.Edited,
		Active:     c.Active,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
	if c.AuthorID != nil {
		v.Author = &AuthorView{ID: *c.AuthorID, Name: c.AuthorName, Email: c.AuthorEmail}
	}

	if !viewer.IsAnonymous() {
		liked, err := d.Likes.IsLiked(ctx, c.ID, viewer.ID)
		if err != nil {
			return CommentView{}, err
		}
		v.Liked = liked
	}

	count, err := d.Likes.CountOf(ctx, c.ID)
	if err != nil {
		return CommentView{}, err
	}
	v.LikesCount = count

	atts, err := d.Store.AttachmentsOf(ctx, c.ID)
	if err != nil {
		return CommentView{}, err
	}
	v.Attachments = make([]AttachmentView, len(atts))
	for i, a := range atts {
		v.Attachments[i] = AttachmentView{ID: a.ID, Kind: string(a.Kind), Ref: a.Ref}
	}
	return v, nil
}

func renderComments(ctx context.Context, d Deps, cs []store.Comment, viewer auth.Identity) ([]CommentView, error) {
	out := make([]CommentView, len(cs))
	for i, c := range cs {
		v, err := renderComment(ctx, d, c, viewer)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
