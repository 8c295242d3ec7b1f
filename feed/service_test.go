package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
)

func newTestService(t *testing.T, m *memstore) *Service {
	var n atomic.Int64
	var tick atomic.Int64
	return &Service{
		Store:  m,
		Logger: slogt.New(t),
		NewID: func() string {
			return fmt.Sprintf("id%d", n.Add(1))
		},
		Now: func() time.Time {
			return t0.Add(time.Duration(tick.Add(1)) * time.Second)
		},
	}
}

func TestService_CreateAndGetPost(t *testing.T) {
	ctx := context.Background()
	m := newMemstore()
	s := newTestService(t, m)

	created, err := s.CreatePost(ctx, "u1", "hi", []NewAttachment{
		{Kind: AttachmentImage, Position: 0, BlobRef: "blob1"},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetPost(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := Post{
		ID:        "id1",
		UserID:    "u1",
		Content:   "hi",
		CreatedAt: t0.Add(time.Second),
		Attachments: []Attachment{
			{ID: "id2", PostID: "id1", Kind: AttachmentImage, Position: 0, BlobRef: "blob1"},
		},
		Reactions: []Reaction{},
		Comments:  []Comment{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Post mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, created); diff != "" {
		t.Errorf("Created post mismatch (-want +got):\n%s", diff)
	}
}

func TestService_CreatePostOrdersAttachments(t *testing.T) {
	s := newTestService(t, newMemstore())
	p, err := s.CreatePost(context.Background(), "u1", "", []NewAttachment{
		{Kind: AttachmentVideo, Position: 5, BlobRef: "c"},
		{Kind: AttachmentImage, Position: 1, BlobRef: "a"},
		{Kind: AttachmentImage, Position: 5, BlobRef: "d"},
		{Kind: AttachmentImage, Position: 3, BlobRef: "b"},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetPost(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}

	var refs []string
	for i, a := range got.Attachments {
		if a.Position != i {
			t.Errorf("attachment %d has position %d", i, a.Position)
		}
		refs = append(refs, a.BlobRef)
	}
	if diff := cmp.Diff([]string{"a", "b", "c", "d"}, refs); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
}

func TestService_CreatePostValidation(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		content string
		atts    []NewAttachment
	}{
		{name: "NoUser", content: "hi"},
		{name: "Empty", userID: "u1", content: "   "},
		{name: "BadKind", userID: "u1", atts: []NewAttachment{{Kind: AttachmentUnspecified, BlobRef: "b"}}},
		{name: "NegativePosition", userID: "u1", atts: []NewAttachment{{Kind: AttachmentImage, Position: -1, BlobRef: "b"}}},
		{name: "NoBlob", userID: "u1", atts: []NewAttachment{{Kind: AttachmentImage}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMemstore()
			_, err := newTestService(t, m).CreatePost(context.Background(), tt.userID, tt.content, tt.atts)
			if !IsValidation(err) {
				t.Errorf("Got %v, want validation error", err)
			}
			if n := m.count(TablePosts, nil) + m.count(TableAttachments, nil); n != 0 {
				t.Errorf("Got %d rows written, want 0", n)
			}
		})
	}
}

func TestService_CreatePostRollsBack(t *testing.T) {
	m := newMemstore()
	m.tx = true
	m.createErr = func(table string, _ Row) error {
		if table == TableAttachments {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := newTestService(t, m).CreatePost(context.Background(), "u1", "hi", []NewAttachment{
		{Kind: AttachmentImage, BlobRef: "b"},
	})
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("Got %v, want StoreError", err)
	}
	if n := m.count(TablePosts, nil); n != 0 {
		t.Errorf("Got %d posts after rollback, want 0", n)
	}
}

func TestService_ListPosts(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, newMemstore())
	for i := 1; i <= 5; i++ {
		user := "u1"
		if i%2 == 0 {
			user = "u2"
		}
		if _, err := s.CreatePost(ctx, user, fmt.Sprintf("t%d", i), nil); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name      string
		user      string
		page      int
		want      []string
		wantTotal int
	}{
		{name: "Page1", page: 1, want: []string{"t5", "t4"}, wantTotal: 5},
		{name: "Page3", page: 3, want: []string{"t1"}, wantTotal: 5},
		{name: "PastEnd", page: 4, want: []string{}, wantTotal: 5},
		{name: "User", user: "u2", page: 1, want: []string{"t4", "t2"}, wantTotal: 2},
		{name: "UnknownUser", user: "nobody", page: 1, want: []string{}, wantTotal: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pg Page[Post]
			var err error
			if tt.user == "" {
				pg, err = s.ListPosts(ctx, tt.page, 2)
			} else {
				pg, err = s.ListUserPosts(ctx, tt.user, tt.page, 2)
			}
			if err != nil {
				t.Fatal(err)
			}
			got := []string{}
			for _, p := range pg.Items {
				got = append(got, p.Content)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Posts mismatch (-want +got):\n%s", diff)
			}
			if pg.TotalCount != tt.wantTotal {
				t.Errorf("Got TotalCount %d, want %d", pg.TotalCount, tt.wantTotal)
			}
		})
	}

	if _, err := s.ListPosts(ctx, 0, 2); !IsValidation(err) {
		t.Errorf("Got %v, want validation error", err)
	}
}

func TestService_ListPostsSkipsVanishedPost(t *testing.T) {
	ctx := context.Background()
	m := newMemstore()
	s := newTestService(t, m)
	for i := 0; i < 3; i++ {
		if _, err := s.CreatePost(ctx, "u1", fmt.Sprintf("p%d", i), nil); err != nil {
			t.Fatal(err)
		}
	}
	// The unfiltered listing sees a post that is gone by the time it is
	// assembled.
	m.readHook = func(table string, filters Row, rows []Row) []Row {
		if table == TablePosts && len(filters) == 0 {
			return append(rows, Row{"id": "ghost", "userid": "u1", "date": "2030-01-01T00:00:00Z"})
		}
		return rows
	}

	pg, err := s.ListPosts(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pg.Items) != 3 {
		t.Errorf("Got %d posts, want 3", len(pg.Items))
	}
	for _, p := range pg.Items {
		if p.ID == "ghost" {
			t.Error("Got vanished post in listing")
		}
	}
}

func TestService_CreateComment(t *testing.T) {
	ctx := context.Background()
	m := newMemstore()
	s := newTestService(t, m)

	if _, err := s.CreateComment(ctx, "missing", "u1", "hello"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Got %v, want ErrNotFound", err)
	}
	if n := m.count(TableComments, nil); n != 0 {
		t.Errorf("Got %d comments for a missing post, want 0", n)
	}

	p, err := s.CreatePost(ctx, "u1", "hi", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateComment(ctx, p.ID, "u2", "  "); !IsValidation(err) {
		t.Errorf("Got %v, want validation error", err)
	}

	c, err := s.CreateComment(ctx, p.ID, "u2", "hello")
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Comment{c}, got.Comments); diff != "" {
		t.Errorf("Comments mismatch (-want +got):\n%s", diff)
	}
}

func TestService_ListComments(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, newMemstore())
	p, err := s.CreatePost(ctx, "u1", "hi", nil)
	if err != nil {
		t.Fatal(err)
	}
	var comments []Comment
	for i := 0; i < 3; i++ {
		c, err := s.CreateComment(ctx, p.ID, "u2", fmt.Sprintf("c%d", i))
		if err != nil {
			t.Fatal(err)
		}
		comments = append(comments, c)
	}
	if _, err := s.AddReaction(ctx, CommentTarget(comments[1].ID), "u3", ReactionWow); err != nil {
		t.Fatal(err)
	}

	pg, err := s.ListComments(ctx, p.ID, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if pg.TotalCount != 3 {
		t.Errorf("Got TotalCount %d, want 3", pg.TotalCount)
	}
	want := []Comment{comments[2], comments[1]}
	want[1].Reactions = []Reaction{{TargetID: comments[1].ID, UserID: "u3", Kind: ReactionWow}}
	if diff := cmp.Diff(want, pg.Items); diff != "" {
		t.Errorf("Comments mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.ListComments(ctx, "missing", 1, 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("Got %v, want ErrNotFound", err)
	}
	if _, err := s.ListComments(ctx, p.ID, 1, 0); !IsValidation(err) {
		t.Errorf("Got %v, want validation error", err)
	}
}

func TestService_Reactions(t *testing.T) {
	ctx := context.Background()
	m := newMemstore()
	s := newTestService(t, m)
	p, err := s.CreatePost(ctx, "u1", "hi", nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.AddReaction(ctx, PostTarget("missing"), "u1", ReactionLike); !errors.Is(err, ErrNotFound) {
		t.Errorf("Got %v, want ErrNotFound", err)
	}
	if _, err := s.AddReaction(ctx, CommentTarget("missing"), "u1", ReactionLike); !errors.Is(err, ErrNotFound) {
		t.Errorf("Got %v, want ErrNotFound", err)
	}
	if _, err := s.AddReaction(ctx, PostTarget(p.ID), "u1", ReactionUnspecified); !IsValidation(err) {
		t.Errorf("Got %v, want validation error", err)
	}

	for _, k := range []ReactionKind{ReactionLike, ReactionLove} {
		if _, err := s.AddReaction(ctx, PostTarget(p.ID), "u1", k); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Reaction{{TargetID: p.ID, UserID: "u1", Kind: ReactionLove}}, got.Reactions); diff != "" {
		t.Errorf("Reactions mismatch (-want +got):\n%s", diff)
	}

	for i, want := range []bool{true, false} {
		removed, err := s.RemoveReaction(ctx, PostTarget(p.ID), "u1")
		if err != nil {
			t.Fatal(err)
		}
		if removed != want {
			t.Errorf("call %d: got %v, want %v", i+1, removed, want)
		}
	}
}

func TestService_Cache(t *testing.T) {
	ctx := context.Background()
	m := newMemstore()
	s := newTestService(t, m)
	c := newTestCache()
	s.Cache = c

	p, err := s.CreatePost(ctx, "u1", "hi", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetPost(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.posts[p.ID]; !ok {
		t.Fatal("Post not cached after read")
	}

	if _, err := s.AddReaction(ctx, PostTarget(p.ID), "u2", ReactionLike); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.posts[p.ID]; ok {
		t.Error("Post still cached after reaction")
	}

	if _, err := s.GetPost(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	cm, err := s.CreateComment(ctx, p.ID, "u2", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.posts[p.ID]; ok {
		t.Error("Post still cached after comment")
	}

	if _, err := s.GetPost(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddReaction(ctx, CommentTarget(cm.ID), "u1", ReactionHaha); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.posts[p.ID]; ok {
		t.Error("Post still cached after comment reaction")
	}

	// A failing cache never fails reads.
	c.err = errors.New("cache down")
	if _, err := s.GetPost(ctx, p.ID); err != nil {
		t.Errorf("GetPost with failing cache: %v", err)
	}
}

func TestService_CacheSkipsPostAssembledBeforeWrite(t *testing.T) {
	ctx := context.Background()
	m := newMemstore()
	s := newTestService(t, m)
	c := newTestCache()
	s.Cache = c

	p, err := s.CreatePost(ctx, "u1", "hi", nil)
	if err != nil {
		t.Fatal(err)
	}

	// Hold the first read of the post's comments so a reaction lands while
	// the post is being assembled.
	reached := make(chan struct{})
	release := make(chan struct{})
	var held atomic.Bool
	m.readHook = func(table string, filters Row, rows []Row) []Row {
		if table == TableComments && held.CompareAndSwap(false, true) {
			close(reached)
			<-release
		}
		return rows
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.GetPost(ctx, p.ID)
		done <- err
	}()

	<-reached
	if _, err := s.AddReaction(ctx, PostTarget(p.ID), "u2", ReactionLike); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	got, err := s.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := []Reaction{{TargetID: p.ID, UserID: "u2", Kind: ReactionLike}}
	if diff := cmp.Diff(want, got.Reactions); diff != "" {
		t.Errorf("Reactions mismatch (-want +got):\n%s", diff)
	}
}

type testcache struct {
	mu       sync.Mutex
	posts    map[string]Post
	versions map[string]int64
	err      error
}

func newTestCache() *testcache {
	return &testcache{posts: make(map[string]Post), versions: make(map[string]int64)}
}

func (c *testcache) GetPost(_ context.Context, id string) (Post, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return Post{}, 0, false, c.err
	}
	p, ok := c.posts[id]
	return p, c.versions[id], ok, nil
}

func (c *testcache) SetPost(_ context.Context, p Post, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.versions[p.ID] != version {
		return nil
	}
	c.posts[p.ID] = p
	return nil
}

func (c *testcache) InvalidatePost(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[id]++
	delete(c.posts, id)
	return c.err
}
