package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCommentStore persists the comment graph in Postgres.
type PostgresCommentStore struct {
	pool *pgxpool.Pool
}

func NewPostgresCommentStore(pool *pgxpool.Pool) *PostgresCommentStore {
	return &PostgresCommentStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS comments (
    seq          BIGSERIAL PRIMARY KEY,
    id           UUID UNIQUE NOT NULL DEFAULT gen_random_uuid(),
    author_id    TEXT,
    author_name  TEXT NOT NULL DEFAULT '',
    author_email TEXT NOT NULL DEFAULT '',
    guest_name   TEXT NOT NULL DEFAULT '',
    guest_email  TEXT NOT NULL DEFAULT '',
    homepage     TEXT NOT NULL DEFAULT '',
    parent_id    UUID REFERENCES comments(id) ON DELETE CASCADE,
    body         TEXT NOT NULL,
    edited       BOOLEAN NOT NULL DEFAULT FALSE,
    active       BOOLEAN NOT NULL DEFAULT TRUE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS comments_parent_idx ON comments (parent_id);
CREATE INDEX IF NOT EXISTS comments_created_idx ON comments (created_at DESC);

CREATE TABLE IF NOT EXISTS comment_attachments (
    id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    comment_id UUID NOT NULL REFERENCES comments(id) ON DELETE CASCADE,
    kind       TEXT NOT NULL,
    ref        TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS comment_attachments_comment_idx ON comment_attachments (comment_id);

CREATE TABLE IF NOT EXISTS comment_likes (
    comment_id UUID NOT NULL REFERENCES comments(id) ON DELETE CASCADE,
    user_id    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (comment_id, user_id)
);
`

// Migrate creates the schema when missing. Idempotent.
func (s *PostgresCommentStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const commentCols = `id, seq, author_id, author_name, author_email,
	guest_name, guest_email, homepage, parent_id, body, edited, active,
	created_at, updated_at`

func scanComment(row pgx.Row) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.Seq, &c.AuthorID, &c.AuthorName, &c.AuthorEmail,
		&c.GuestName, &c.GuestEmail, &c.Homepage, &c.ParentID, &c.Body,
		&c.Edited, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *PostgresCommentStore) scanComments(ctx context.Context, q string, args ...any) ([]Comment, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresCommentStore) Create(ctx context.Context, c Comment) (Comment, error) {
	if err := validateNew(c); err != nil {
		return Comment{}, err
	}
	c.Body = SanitizeBody(c.Body)
	if c.Body == "" {
		return Comment{}, &ValidationError{Field: "body", Reason: "must not be empty"}
	}

	if c.ParentID != nil {
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM comments WHERE id = $1)`, *c.ParentID).Scan(&exists)
		if err != nil {
			return Comment{}, err
		}
		if !exists {
			return Comment{}, &ValidationError{Field: "parent", Reason: "parent comment does not exist"}
		}
	}

	q := `INSERT INTO comments (author_id, author_name, author_email,
	          guest_name, guest_email, homepage, parent_id, body)
	      VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	      RETURNING ` + commentCols
	return scanComment(s.pool.QueryRow(ctx, q,
		c.AuthorID, c.AuthorName, c.AuthorEmail,
		c.GuestName, c.GuestEmail, c.Homepage, c.ParentID, c.Body))
}

func (s *PostgresCommentStore) Get(ctx context.Context, id string) (Comment, error) {
	q := `SELECT ` + commentCols + ` FROM comments WHERE id = $1`
	c, err := scanComment(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Comment{}, &NotFoundError{Kind: "comment", ID: id}
	}
	return c, err
}

func (s *PostgresCommentStore) List(ctx context.Context, opts ListOptions) ([]Comment, error) {
	where := ""
	if !opts.Viewer.Privileged {
		where = "WHERE active AND parent_id IS NULL"
	}

	dir := "DESC"
	if opts.Order == OrderAsc {
		dir = "ASC"
	}

	// Sort keys are whitelisted here; nothing user-supplied reaches the
	// ORDER BY clause verbatim.
	var orderBy string
	switch opts.SortBy {
	case SortByUsername:
		orderBy = fmt.Sprintf(
			`ORDER BY lower(CASE WHEN guest_name <> '' THEN guest_name ELSE author_name END) %s, seq %s`, dir, dir)
	case SortByEmail:
		orderBy = fmt.Sprintf(
			`ORDER BY lower(CASE WHEN guest_email <> '' THEN guest_email ELSE author_email END) %s, seq %s`, dir, dir)
	case SortByCreated:
		orderBy = fmt.Sprintf(`ORDER BY created_at %s, seq %s`, dir, dir)
	default:
		orderBy = `ORDER BY seq DESC`
	}

	q := fmt.Sprintf(`SELECT %s FROM comments %s %s`, commentCols, where, orderBy)
	return s.scanComments(ctx, q)
}

func (s *PostgresCommentStore) Replies(ctx context.Context, parentID string, viewer Actor) ([]Comment, error) {
	if _, err := s.Get(ctx, parentID); err != nil {
		return nil, err
	}
	q := `SELECT ` + commentCols + ` FROM comments WHERE parent_id = $1`
	if !viewer.Privileged {
		q += ` AND active`
	}
	q += ` ORDER BY seq ASC`
	return s.scanComments(ctx, q, parentID)
}

func (s *PostgresCommentStore) UpdateBody(ctx context.Context, id string, requester Actor, body string) (Comment, error) {
	body = SanitizeBody(body)
	if body == "" {
		return Comment{}, &ValidationError{Field: "body", Reason: "must not be empty"}
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return Comment{}, err
	}
	if !canMutate(current, requester) {
		return Comment{}, &PermissionError{Op: "update comment"}
	}

	q := `UPDATE comments SET body = $1, edited = TRUE, updated_at = now()
	      WHERE id = $2
	      RETURNING ` + commentCols
	c, err := scanComment(s.pool.QueryRow(ctx, q, body, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Comment{}, &NotFoundError{Kind: "comment", ID: id}
	}
	return c, err
}

func (s *PostgresCommentStore) SetActive(ctx context.Context, id string, requester Actor, active bool) (Comment, error) {
	if !requester.Privileged {
		return Comment{}, &PermissionError{Op: "set active"}
	}
	q := `UPDATE comments SET active = $1, updated_at = now()
	      WHERE id = $2
	      RETURNING ` + commentCols
	c, err := scanComment(s.pool.QueryRow(ctx, q, active, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Comment{}, &NotFoundError{Kind: "comment", ID: id}
	}
	return c, err
}

func (s *PostgresCommentStore) Delete(ctx context.Context, id string, requester Actor) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !canMutate(current, requester) {
		return &PermissionError{Op: "delete comment"}
	}
	// Replies, attachments and likes go with it via ON DELETE CASCADE.
	tag, err := s.pool.Exec(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Kind: "comment", ID: id}
	}
	return nil
}

func (s *PostgresCommentStore) RootOf(ctx context.Context, id string) (Comment, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return Comment{}, err
	}
	for depth := 0; c.ParentID != nil; depth++ {
		if depth >= maxParentDepth {
			return Comment{}, &IntegrityError{Reason: "parent walk exceeded depth bound"}
		}
		parent, err := s.Get(ctx, *c.ParentID)
		if err != nil {
			var nf *NotFoundError
			if errors.As(err, &nf) {
				return Comment{}, &IntegrityError{Reason: "dangling parent reference"}
			}
			return Comment{}, err
		}
		c = parent
	}
	return c, nil
}

func (s *PostgresCommentStore) AddLike(ctx context.Context, commentID, userID string) (bool, error) {
	if _, err := s.Get(ctx, commentID); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO comment_likes (comment_id, user_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, commentID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresCommentStore) RemoveLike(ctx context.Context, commentID, userID string) (bool, error) {
	if _, err := s.Get(ctx, commentID); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM comment_likes WHERE comment_id = $1 AND user_id = $2`,
		commentID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresCommentStore) HasLiked(ctx context.Context, commentID, userID string) (bool, error) {
	var liked bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM comment_likes WHERE comment_id = $1 AND user_id = $2)`,
		commentID, userID).Scan(&liked)
	return liked, err
}

func (s *PostgresCommentStore) LikerIDs(ctx context.Context, commentID string) ([]string, error) {
	if _, err := s.Get(ctx, commentID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM comment_likes WHERE comment_id = $1 ORDER BY user_id`,
		commentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}

func (s *PostgresCommentStore) LikeCount(ctx context.Context, commentID string) (int, error) {
	if _, err := s.Get(ctx, commentID); err != nil {
		return 0, err
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM comment_likes WHERE comment_id = $1`, commentID).Scan(&n)
	return n, err
}

func (s *PostgresCommentStore) AddAttachment(ctx context.Context, a Attachment) (Attachment, error) {
	q := `INSERT INTO comment_attachments (comment_id, kind, ref)
	      VALUES ($1, $2, $3)
	      RETURNING id, comment_id, kind, ref, created_at`
	var out Attachment
	err := s.pool.QueryRow(ctx, q, a.CommentID, a.Kind, a.Ref).
		Scan(&out.ID, &out.CommentID, &out.Kind, &out.Ref, &out.CreatedAt)
	return out, err
}

func (s *PostgresCommentStore) DeleteAttachment(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM comment_attachments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Kind: "attachment", ID: id}
	}
	return nil
}

func (s *PostgresCommentStore) AttachmentsOf(ctx context.Context, commentID string) ([]Attachment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, comment_id, kind, ref, created_at
		 FROM comment_attachments WHERE comment_id = $1 ORDER BY created_at, id`,
		commentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Attachment, 0)
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.CommentID, &a.Kind, &a.Ref, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
