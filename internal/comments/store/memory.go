package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryCommentStore is a development and test implementation.
type InMemoryCommentStore struct {
	mu          sync.RWMutex
	seq         int64
	comments    map[string]Comment            // id -> comment
	likes       map[string]map[string]struct{} // commentID -> userID set
	attachments map[string]Attachment         // attachmentID -> attachment
}

func NewInMemoryCommentStore() *InMemoryCommentStore {
	return &InMemoryCommentStore{
		comments:    make(map[string]Comment),
		likes:       make(map[string]map[string]struct{}),
		attachments: make(map[string]Attachment),
	}
}

func (s *InMemoryCommentStore) Create(_ context.Context, c Comment) (Comment, error) {
	if err := validateNew(c); err != nil {
		return Comment{}, err
	}
	c.Body = SanitizeBody(c.Body)
	if c.Body == "" {
		return Comment{}, &ValidationError{Field: "body", Reason: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ParentID != nil {
		if _, ok := s.comments[*c.ParentID]; !ok {
			return Comment{}, &ValidationError{Field: "parent", Reason: "parent comment does not exist"}
		}
	}

	s.seq++
	now := time.Now().UTC()
	c.ID = uuid.NewString()
	c.Seq = s.seq
	c.Edited = false
	c.Active = true
	c.CreatedAt = now
	c.UpdatedAt = now
	s.comments[c.ID] = c
	return c, nil
}

func (s *InMemoryCommentStore) Get(_ context.Context, id string) (Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[id]
	if !ok {
		return Comment{}, &NotFoundError{Kind: "comment", ID: id}
	}
	return c, nil
}

func (s *InMemoryCommentStore) List(_ context.Context, opts ListOptions) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Comment, 0)
	for _, c := range s.comments {
		if !opts.Viewer.Privileged {
			if !c.Active || c.ParentID != nil {
				continue
			}
		}
		out = append(out, c)
	}
	sortComments(out, opts.SortBy, opts.Order)
	return out, nil
}

func (s *InMemoryCommentStore) Replies(_ context.Context, parentID string, viewer Actor) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.comments[parentID]; !ok {
		return nil, &NotFoundError{Kind: "comment", ID: parentID}
	}
	out := make([]Comment, 0)
	for _, c := range s.comments {
		if c.ParentID == nil || *c.ParentID != parentID {
			continue
		}
		if !viewer.Privileged && !c.Active {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *InMemoryCommentStore) UpdateBody(_ context.Context, id string, requester Actor, body string) (Comment, error) {
	body = SanitizeBody(body)
	if body == "" {
		return Comment{}, &ValidationError{Field: "body", Reason: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[id]
	if !ok {
		return Comment{}, &NotFoundError{Kind: "comment", ID: id}
	}
	if !canMutate(c, requester) {
		return Comment{}, &PermissionError{Op: "update comment"}
	}
	c.Body = body
	c.Edited = true // set once, never reverts
	c.UpdatedAt = time.Now().UTC()
	s.comments[id] = c
	return c, nil
}

func (s *InMemoryCommentStore) SetActive(_ context.Context, id string, requester Actor, active bool) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[id]
	if !ok {
		return Comment{}, &NotFoundError{Kind: "comment", ID: id}
	}
	if !requester.Privileged {
		return Comment{}, &PermissionError{Op: "set active"}
	}
	c.Active = active
	c.UpdatedAt = time.Now().UTC()
	s.comments[id] = c
	return c, nil
}

func (s *InMemoryCommentStore) Delete(_ context.Context, id string, requester Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[id]
	if !ok {
		return &NotFoundError{Kind: "comment", ID: id}
	}
	if !canMutate(c, requester) {
		return &PermissionError{Op: "delete comment"}
	}

	// Cascade: the comment, all transitive replies, their attachments and
	// like sets.
	doomed := []string{id}
	for i := 0; i < len(doomed); i++ {
		for cid, cc := range s.comments {
			if cc.ParentID != nil && *cc.ParentID == doomed[i] {
				doomed = append(doomed, cid)
			}
		}
	}
	for _, cid := range doomed {
		delete(s.comments, cid)
		delete(s.likes, cid)
		for aid, a := range s.attachments {
			if a.CommentID == cid {
				delete(s.attachments, aid)
			}
		}
	}
	return nil
}

func (s *InMemoryCommentStore) RootOf(_ context.Context, id string) (Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[id]
	if !ok {
		return Comment{}, &NotFoundError{Kind: "comment", ID: id}
	}
	for depth := 0; c.ParentID != nil; depth++ {
		if depth >= maxParentDepth {
			return Comment{}, &IntegrityError{Reason: "parent walk exceeded depth bound"}
		}
		parent, ok := s.comments[*c.ParentID]
		if !ok {
			return Comment{}, &IntegrityError{Reason: "dangling parent reference"}
		}
		c = parent
	}
	return c, nil
}

func (s *InMemoryCommentStore) AddLike(_ context.Context, commentID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.comments[commentID]; !ok {
		return false, &NotFoundError{Kind: "comment", ID: commentID}
	}
	set := s.likes[commentID]
	if set == nil {
		set = make(map[string]struct{})
		s.likes[commentID] = set
	}
	if _, ok := set[userID]; ok {
		return false, nil
	}
	set[userID] = struct{}{}
	return true, nil
}

func (s *InMemoryCommentStore) RemoveLike(_ context.Context, commentID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.comments[commentID]; !ok {
		return false, &NotFoundError{Kind: "comment", ID: commentID}
	}
	set := s.likes[commentID]
	if set == nil {
		return false, nil
	}
	if _, ok := set[userID]; !ok {
		return false, nil
	}
	delete(set, userID)
	return true, nil
}

func (s *InMemoryCommentStore) HasLiked(_ context.Context, commentID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.likes[commentID][userID]
	return ok, nil
}

func (s *InMemoryCommentStore) LikerIDs(_ context.Context, commentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.comments[commentID]; !ok {
		return nil, &NotFoundError{Kind: "comment", ID: commentID}
	}
	ids := make([]string, 0, len(s.likes[commentID]))
	for uid := range s.likes[commentID] {
		ids = append(ids, uid)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *InMemoryCommentStore) LikeCount(_ context.Context, commentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.comments[commentID]; !ok {
		return 0, &NotFoundError{Kind: "comment", ID: commentID}
	}
	return len(s.likes[commentID]), nil
}

func (s *InMemoryCommentStore) AddAttachment(_ context.Context, a Attachment) (Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.comments[a.CommentID]; !ok {
		return Attachment{}, &NotFoundError{Kind: "comment", ID: a.CommentID}
	}
	a.ID = uuid.NewString()
	a.CreatedAt = time.Now().UTC()
	s.attachments[a.ID] = a
	return a, nil
}

func (s *InMemoryCommentStore) DeleteAttachment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.attachments[id]; !ok {
		return &NotFoundError{Kind: "attachment", ID: id}
	}
	delete(s.attachments, id)
	return nil
}

func (s *InMemoryCommentStore) AttachmentsOf(_ context.Context, commentID string) ([]Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Attachment, 0)
	for _, a := range s.attachments {
		if a.CommentID == commentID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// sortComments orders in place by the requested key. Unknown or absent keys
// keep the store's natural order: newest first.
func sortComments(cs []Comment, sortBy, order string) {
	asc := order == OrderAsc

	var less func(a, b Comment) bool
	switch sortBy {
	case SortByUsername:
		less = func(a, b Comment) bool {
			an, bn := strings.ToLower(a.DisplayName()), strings.ToLower(b.DisplayName())
			if an != bn {
				return an < bn
			}
			return a.Seq < b.Seq
		}
	case SortByEmail:
		less = func(a, b Comment) bool {
			ae, be := strings.ToLower(a.DisplayEmail()), strings.ToLower(b.DisplayEmail())
			if ae != be {
				return ae < be
			}
			return a.Seq < b.Seq
		}
	case SortByCreated:
		less = func(a, b Comment) bool {
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.Seq < b.Seq
		}
	default:
		// Natural order, newest first, regardless of the order param.
		sort.Slice(cs, func(i, j int) bool { return cs[i].Seq > cs[j].Seq })
		return
	}

	sort.Slice(cs, func(i, j int) bool {
		if asc {
			return less(cs[i], cs[j])
		}
		return less(cs[j], cs[i])
	})
}
