package store

import (
	"context"
	"net/mail"
	"net/url"
	"strings"
	"time"
)

// AttachmentKind discriminates what an attachment holds.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentText  AttachmentKind = "text"
)

// Comment is a single node of the comment graph. AuthorID is nil for guest
// comments; exactly one of {author, guest name+email} is set, enforced at
// creation time. ParentID forms a tree: it can only reference a comment that
// already existed when this one was created, so cycles cannot occur.
type Comment struct {
	ID          string     `json:"id"`
	Seq         int64      `json:"-"`
	AuthorID    *string    `json:"author_id,omitempty"`
	AuthorName  string     `json:"author_name,omitempty"`
	AuthorEmail string     `json:"author_email,omitempty"`
	GuestName   string     `json:"guest_name,omitempty"`
	GuestEmail  string     `json:"guest_email,omitempty"`
	Homepage    string     `json:"homepage,omitempty"`
	ParentID    *string    `json:"parent_id,omitempty"`
	Body        string     `json:"body"`
	Edited      bool       `json:"edited"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DisplayName is the name shown for the comment: guest name when present,
// otherwise the author's name. Also the "username" sort key.
func (c Comment) DisplayName() string {
	if c.GuestName != "" {
		return c.GuestName
	}
	return c.AuthorName
}

// DisplayEmail mirrors DisplayName for the email sort key.
func (c Comment) DisplayEmail() string {
	if c.GuestEmail != "" {
		return c.GuestEmail
	}
	return c.AuthorEmail
}

// Attachment is a validated file owned by exactly one comment. Ref points
// into binary storage; the row dies with its comment.
type Attachment struct {
	ID        string         `json:"id"`
	CommentID string         `json:"comment_id"`
	Kind      AttachmentKind `json:"kind"`
	Ref       string         `json:"ref"`
	CreatedAt time.Time      `json:"created_at"`
}

// Actor identifies who performs an operation. The zero value is anonymous.
type Actor struct {
	ID         string
	Privileged bool
}

func (a Actor) IsAnonymous() bool { return a.ID == "" }

// Sort keys accepted by List. Anything else keeps the default order
// (newest first).
const (
	SortByUsername = "username"
	SortByEmail    = "email"
	SortByCreated  = "created"

	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// ListOptions selects what a viewer may see and in which order.
// Non-privileged viewers get active root comments only.
type ListOptions struct {
	Viewer Actor
	SortBy string
	Order  string
}

// maxParentDepth bounds the RootOf walk. The graph is acyclic by
// construction, so hitting the bound means corrupted data, not a loop to
// ride out.
const maxParentDepth = 64

// CommentStore is the authoritative store for the comment graph, its
// attachments and the like relation.
type CommentStore interface {
	Create(ctx context.Context, c Comment) (Comment, error)
	Get(ctx context.Context, id string) (Comment, error)
	List(ctx context.Context, opts ListOptions) ([]Comment, error)
	Replies(ctx context.Context, parentID string, viewer Actor) ([]Comment, error)
	UpdateBody(ctx context.Context, id string, requester Actor, body string) (Comment, error)
	SetActive(ctx context.Context, id string, requester Actor, active bool) (Comment, error)
	Delete(ctx context.Context, id string, requester Actor) error
	RootOf(ctx context.Context, id string) (Comment, error)

	// Like relation: the durable many-to-many fact. The boolean result
	// reports whether membership actually changed, so callers can keep
	// derived counters idempotent.
	AddLike(ctx context.Context, commentID, userID string) (bool, error)
	RemoveLike(ctx context.Context, commentID, userID string) (bool, error)
	HasLiked(ctx context.Context, commentID, userID string) (bool, error)
	LikerIDs(ctx context.Context, commentID string) ([]string, error)
	LikeCount(ctx context.Context, commentID string) (int, error)

	AddAttachment(ctx context.Context, a Attachment) (Attachment, error)
	DeleteAttachment(ctx context.Context, id string) error
	AttachmentsOf(ctx context.Context, commentID string) ([]Attachment, error)
}

// validateNew checks the creation invariants shared by all backends.
// The parent check happens inside each backend, which owns id resolution.
func validateNew(c Comment) error {
	if strings.TrimSpace(c.Body) == "" {
		return &ValidationError{Field: "body", Reason: "must not be empty"}
	}
	hasAuthor := c.AuthorID != nil && strings.TrimSpace(*c.AuthorID) != ""
	if hasAuthor {
		if c.GuestName != "" || c.GuestEmail != "" {
			return &ValidationError{Field: "guest_name", Reason: "guest fields are not allowed on authored comments"}
		}
	} else {
		if strings.TrimSpace(c.GuestName) == "" {
			return &ValidationError{Field: "guest_name", Reason: "required for guest comments"}
		}
		if strings.TrimSpace(c.GuestEmail) == "" {
			return &ValidationError{Field: "guest_email", Reason: "required for guest comments"}
		}
		if _, err := mail.ParseAddress(c.GuestEmail); err != nil {
			return &ValidationError{Field: "guest_email", Reason: "not a valid email address"}
		}
	}
	if c.Homepage != "" {
		u, err := url.Parse(c.Homepage)
		if err != nil || !u.IsAbs() {
			return &ValidationError{Field: "homepage", Reason: "must be an absolute URL"}
		}
	}
	return nil
}

// canMutate implements the shared mutation rule: the author or a
// privileged actor.
func canMutate(c Comment, requester Actor) bool {
	if requester.Privileged {
		return true
	}
	if requester.IsAnonymous() {
		return false
	}
	return c.AuthorID != nil && *c.AuthorID == requester.ID
}
