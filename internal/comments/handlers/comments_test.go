package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/comment-platform/internal/comments/attach"
	"github.com/example/comment-platform/internal/comments/fanout"
	"github.com/example/comment-platform/internal/comments/likes"
	"github.com/example/comment-platform/internal/comments/store"
	"github.com/example/comment-platform/internal/platform/auth"
)

var (
	alice = auth.Identity{ID: "user-alice", Name: "Alice", Email: "alice@example.com"}
	bob   = auth.Identity{ID: "user-bob", Name: "Bob", Email: "bob@example.com"}
	mod   = auth.Identity{ID: "user-mod", Name: "Mod", Email: "mod@example.com", Privileged: true}
)

func newTestDeps() (Deps, *attach.MemoryBlobStore, *fanout.MemoryBus) {
	st := store.NewInMemoryCommentStore()
	bus := fanout.NewMemoryBus()
	blobs := attach.NewMemoryBlobStore()
	d := Deps{
		Store:     st,
		Likes:     likes.NewService(st, likes.NewMemoryCache(), nil),
		Pipeline:  attach.Pipeline{MaxImageBytes: 10 << 20, MaxTextBytes: 100 << 10},
		Blobs:     blobs,
		Fanout:    fanout.NewPublisher(bus, nil),
		Transport: bus,
		Log:       zap.NewNop(),
	}
	return d, blobs, bus
}

// setupReq builds a request carrying chi URL params and, when viewer is
// non-nil, an authenticated identity.
func setupReq(method, target string, body io.Reader, params map[string]string, viewer *auth.Identity) *http.Request {
	r := httptest.NewRequest(method, target, body)
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	if viewer != nil {
		ctx = auth.WithIdentity(ctx, *viewer)
	}
	return r.WithContext(ctx)
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) CommentView {
	t.Helper()
	var v CommentView
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func createViaHandler(t *testing.T, d Deps, payload string, viewer *auth.Identity) CommentView {
	t.Helper()
	rec := httptest.NewRecorder()
	req := setupReq(http.MethodPost, "/v1/comments", strings.NewReader(payload), nil, viewer)
	req.Header.Set("Content-Type", "application/json")
	CreateComment(d).ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decodeView(t, rec)
}

func TestCreateComment_GuestValidation(t *testing.T) {
	d, _, _ := newTestDeps()

	rec := httptest.NewRecorder()
	req := setupReq(http.MethodPost, "/v1/comments", strings.NewReader(`{"body":"hello"}`), nil, nil)
	req.Header.Set("Content-Type", "application/json")
	CreateComment(d).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("anonymous without guest fields: expected 400, got %d", rec.Code)
	}

	v := createViaHandler(t, d,
		`{"body":"hello","guest_name":"Ann","guest_email":"ann@example.com","homepage":"https://ann.example.com"}`, nil)
	if v.Author != nil || v.GuestName != "Ann" || v.Homepage != "https://ann.example.com" {
		t.Fatalf("unexpected guest view: %+v", v)
	}
}

func TestCreateComment_AuthenticatedAuthor(t *testing.T) {
	d, _, _ := newTestDeps()

	v := createViaHandler(t, d, `{"body":"<strong>hi</strong><script>x</script>"}`, &alice)
	if v.Author == nil || v.Author.ID != alice.ID {
		t.Fatalf("expected author %s, got %+v", alice.ID, v.Author)
	}
	if strings.Contains(v.Body, "script") || !strings.Contains(v.Body, "<strong>hi</strong>") {
		t.Fatalf("body not sanitized as expected: %q", v.Body)
	}
	if v.Edited || !v.Active {
		t.Fatalf("expected fresh comment edited=false active=true, got %+v", v)
	}
}

func TestCreateComment_PublishesToFeed(t *testing.T) {
	d, _, bus := newTestDeps()

	feed, cancel, err := bus.Subscribe(fanout.GroupFeed)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	v := createViaHandler(t, d, `{"body":"a root"}`, &alice)

	select {
	case payload := <-feed:
		var ev fanout.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if ev.Type != fanout.TypeCommentCreated {
			t.Fatalf("expected %s, got %s", fanout.TypeCommentCreated, ev.Type)
		}
		cm, _ := ev.Comment.(map[string]any)
		if cm["id"] != v.ID {
			t.Fatalf("event carries wrong comment: %v", ev.Comment)
		}
	default:
		t.Fatal("no event on the feed group")
	}
}

func TestCreateReply_PublishesToThreadGroup(t *testing.T) {
	d, _, bus := newTestDeps()

	root := createViaHandler(t, d, `{"body":"a root"}`, &alice)
	mid := createReply(t, d, root.ID, `{"body":"first level"}`, &bob)

	thread, cancelThread, _ := bus.Subscribe(fanout.ThreadGroup(root.ID))
	defer cancelThread()
	feed, cancelFeed, _ := bus.Subscribe(fanout.GroupFeed)
	defer cancelFeed()

	// A reply to a reply still lands on the root's group.
	reply := createReply(t, d, mid.ID, `{"body":"second level"}`, &alice)
	if reply.ParentID == nil || *reply.ParentID != mid.ID {
		t.Fatalf("expected parent %s, got %v", mid.ID, reply.ParentID)
	}

	select {
	case payload := <-thread:
		var ev fanout.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if ev.Type != fanout.TypeReplyCreated {
			t.Fatalf("expected %s, got %s", fanout.TypeReplyCreated, ev.Type)
		}
	default:
		t.Fatal("no event on the thread group")
	}

	select {
	case payload := <-feed:
		t.Fatalf("reply leaked onto the global feed: %s", payload)
	default:
	}
}

func createReply(t *testing.T, d Deps, parentID, payload string, viewer *auth.Identity) CommentView {
	t.Helper()
	rec := httptest.NewRecorder()
	req := setupReq(http.MethodPost, "/v1/comments/"+parentID+"/replies",
		strings.NewReader(payload), map[string]string{"comment_id": parentID}, viewer)
	req.Header.Set("Content-Type", "application/json")
	CreateReply(d).ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("reply: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decodeView(t, rec)
}

func TestListComments_SortAndVisibility(t *testing.T) {
	d, _, _ := newTestDeps()

	root := createViaHandler(t, d, `{"body":"root one","guest_name":"zoe","guest_email":"zoe@example.com"}`, nil)
	createViaHandler(t, d, `{"body":"root two","guest_name":"adam","guest_email":"adam@example.com"}`, nil)
	createReply(t, d, root.ID, `{"body":"a reply"}`, &alice)

	rec := httptest.NewRecorder()
	ListComments(d).ServeHTTP(rec, setupReq(http.MethodGet, "/v1/comments?sort_by=username&order=asc", nil, nil, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var resp listResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	// Roots only, guest names ascending.
	if len(resp.Comments) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(resp.Comments))
	}
	if resp.Comments[0].GuestName != "adam" || resp.Comments[1].GuestName != "zoe" {
		t.Fatalf("wrong order: %s, %s", resp.Comments[0].GuestName, resp.Comments[1].GuestName)
	}
}

func TestListReplies(t *testing.T) {
	d, _, _ := newTestDeps()

	root := createViaHandler(t, d, `{"body":"root"}`, &alice)
	createReply(t, d, root.ID, `{"body":"reply"}`, &bob)

	rec := httptest.NewRecorder()
	ListReplies(d).ServeHTTP(rec, setupReq(http.MethodGet, "/v1/comments/"+root.ID+"/replies",
		nil, map[string]string{"comment_id": root.ID}, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("replies: expected 200, got %d", rec.Code)
	}
	var resp listResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode replies: %v", err)
	}
	if len(resp.Comments) != 1 || resp.Comments[0].Body != "reply" {
		t.Fatalf("unexpected replies: %+v", resp.Comments)
	}
}

func TestUpdateComment_NonAuthorForbidden(t *testing.T) {
	d, _, _ := newTestDeps()

	c := createViaHandler(t, d, `{"body":"mine"}`, &alice)

	rec := httptest.NewRecorder()
	req := setupReq(http.MethodPut, "/v1/comments/"+c.ID, strings.NewReader(`{"body":"not yours"}`),
		map[string]string{"comment_id": c.ID}, &bob)
	UpdateComment(d).ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = setupReq(http.MethodPut, "/v1/comments/"+c.ID, strings.NewReader(`{"body":"still mine"}`),
		map[string]string{"comment_id": c.ID}, &alice)
	UpdateComment(d).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("author update: expected 200, got %d", rec.Code)
	}
	if v := decodeView(t, rec); !v.Edited {
		t.Fatal("expected edited=true after update")
	}
}

func TestLikeUnlikeComment(t *testing.T) {
	d, _, _ := newTestDeps()

	c := createViaHandler(t, d, `{"body":"likeable"}`, &alice)

	like := func(who *auth.Identity) CommentView {
		rec := httptest.NewRecorder()
		LikeComment(d).ServeHTTP(rec, setupReq(http.MethodPost, "/v1/comments/"+c.ID+"/like",
			nil, map[string]string{"comment_id": c.ID}, who))
		if rec.Code != http.StatusOK {
			t.Fatalf("like: expected 200, got %d", rec.Code)
		}
		return decodeView(t, rec)
	}

	v := like(&bob)
	if !v.Liked || v.LikesCount != 1 {
		t.Fatalf("expected liked=true count=1, got liked=%v count=%d", v.Liked, v.LikesCount)
	}
	// Liking again changes nothing.
	if v = like(&bob); v.LikesCount != 1 {
		t.Fatalf("expected count to stay 1, got %d", v.LikesCount)
	}

	rec := httptest.NewRecorder()
	UnlikeComment(d).ServeHTTP(rec, setupReq(http.MethodPost, "/v1/comments/"+c.ID+"/unlike",
		nil, map[string]string{"comment_id": c.ID}, &bob))
	if rec.Code != http.StatusOK {
		t.Fatalf("unlike: expected 200, got %d", rec.Code)
	}
	if v = decodeView(t, rec); v.Liked || v.LikesCount != 0 {
		t.Fatalf("expected liked=false count=0, got liked=%v count=%d", v.Liked, v.LikesCount)
	}
}

func TestSetActive_HidesFromAnonymous(t *testing.T) {
	d, _, _ := newTestDeps()

	c := createViaHandler(t, d, `{"body":"soon hidden"}`, &alice)

	rec := httptest.NewRecorder()
	req := setupReq(http.MethodPut, "/v1/comments/"+c.ID+"/active", strings.NewReader(`{"active":false}`),
		map[string]string{"comment_id": c.ID}, &mod)
	SetActive(d).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("set active: expected 200, got %d", rec.Code)
	}
	if v := decodeView(t, rec); v.Active {
		t.Fatal("expected active=false")
	}

	// Anonymous viewers get a 404, the comment does not exist for them.
	rec = httptest.NewRecorder()
	GetComment(d).ServeHTTP(rec, setupReq(http.MethodGet, "/v1/comments/"+c.ID,
		nil, map[string]string{"comment_id": c.ID}, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for anonymous, got %d", rec.Code)
	}

	// Privileged viewers still see it.
	rec = httptest.NewRecorder()
	GetComment(d).ServeHTTP(rec, setupReq(http.MethodGet, "/v1/comments/"+c.ID,
		nil, map[string]string{"comment_id": c.ID}, &mod))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for privileged, got %d", rec.Code)
	}
}

func multipartCreate(t *testing.T, d Deps, fields map[string]string, fileName string, fileData []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("files", fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(fileData); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	rec := httptest.NewRecorder()
	req := setupReq(http.MethodPost, "/v1/comments", &buf, nil, &alice)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	CreateComment(d).ServeHTTP(rec, req)
	return rec
}

func TestCreateComment_WithTextAttachment(t *testing.T) {
	d, blobs, _ := newTestDeps()

	rec := multipartCreate(t, d, map[string]string{"body": "see attached"}, "notes.txt", []byte("plain text"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	v := decodeView(t, rec)
	if len(v.Attachments) != 1 || v.Attachments[0].Kind != "text" {
		t.Fatalf("unexpected attachments: %+v", v.Attachments)
	}
	data, ok := blobs.Get(v.Attachments[0].Ref)
	if !ok || string(data) != "plain text" {
		t.Fatalf("blob not stored as expected: ok=%v data=%q", ok, data)
	}
}

func TestCreateComment_BadAttachmentRollsBack(t *testing.T) {
	d, blobs, _ := newTestDeps()

	rec := multipartCreate(t, d, map[string]string{"body": "doomed"}, "notes.md", []byte("wrong format"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}

	// All-or-nothing: neither the comment nor any blob survives.
	list := httptest.NewRecorder()
	ListComments(d).ServeHTTP(list, setupReq(http.MethodGet, "/v1/comments", nil, nil, &mod))
	var resp listResponse
	if err := json.NewDecoder(list.Body).Decode(&resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(resp.Comments) != 0 {
		t.Fatalf("comment survived a failed attachment: %+v", resp.Comments)
	}
	if blobs.Len() != 0 {
		t.Fatalf("expected no blobs after rollback, got %d", blobs.Len())
	}
}

func TestDeleteComment_CleansUpBlobs(t *testing.T) {
	d, blobs, _ := newTestDeps()

	rec := multipartCreate(t, d, map[string]string{"body": "with file"}, "notes.txt", []byte("bye"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	v := decodeView(t, rec)

	del := httptest.NewRecorder()
	DeleteComment(d).ServeHTTP(del, setupReq(http.MethodDelete, "/v1/comments/"+v.ID,
		nil, map[string]string{"comment_id": v.ID}, &alice))
	if del.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", del.Code)
	}
	if blobs.Len() != 0 {
		t.Fatalf("expected blobs removed, got %d", blobs.Len())
	}
}
