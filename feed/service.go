package feed

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// listConcurrency bounds the number of posts assembled in parallel for one
// listing page.
const listConcurrency = 8

// Service implements the feed operations on top of a Store.
type Service struct {
	Store  Store
	Cache  Cache // optional
	Logger *slog.Logger

	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// now is truncated to the microsecond precision every backend keeps.
func (s *Service) now() time.Time {
	t := time.Now()
	if s.Now != nil {
		t = s.Now()
	}
	return t.UTC().Truncate(time.Microsecond)
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) assembler() *Assembler {
	return &Assembler{Store: s.Store}
}

// CreatePost stores a new post and its attachments as one unit of work.
// Attachments get fresh ids and positions 0..n-1 following the submitted
// positions.
func (s *Service) CreatePost(ctx context.Context, userID, content string, atts []NewAttachment) (Post, error) {
	if strings.TrimSpace(userID) == "" {
		return Post{}, invalid("user_id", "required")
	}
	if strings.TrimSpace(content) == "" {
		content = ""
	}
	if content == "" && len(atts) == 0 {
		return Post{}, invalid("content", "a post needs content or at least one attachment")
	}
	for i, a := range atts {
		if a.Kind != AttachmentImage && a.Kind != AttachmentVideo {
			return Post{}, invalid(fmt.Sprintf("attachments[%d].kind", i), "must be image or video")
		}
		if a.Position < 0 {
			return Post{}, invalid(fmt.Sprintf("attachments[%d].position", i), "must not be negative")
		}
		if strings.TrimSpace(a.BlobRef) == "" {
			return Post{}, invalid(fmt.Sprintf("attachments[%d].blob_ref", i), "required")
		}
	}

	ordered := slices.Clone(atts)
	slices.SortStableFunc(ordered, func(x, y NewAttachment) int {
		return cmp.Compare(x.Position, y.Position)
	})

	p := Post{
		ID:          s.newID(),
		UserID:      userID,
		Content:     content,
		CreatedAt:   s.now(),
		Attachments: make([]Attachment, len(ordered)),
		Reactions:   []Reaction{},
		Comments:    []Comment{},
	}
	for i, a := range ordered {
		p.Attachments[i] = Attachment{
			ID:       s.newID(),
			PostID:   p.ID,
			Kind:     a.Kind,
			Position: i,
			BlobRef:  a.BlobRef,
		}
	}

	err := s.Store.WithinTx(ctx, func(tx Store) error {
		if err := tx.Create(ctx, TablePosts, postRow(p)); err != nil {
			return fmt.Errorf("insert post: %w", err)
		}
		for _, a := range p.Attachments {
			if err := tx.Create(ctx, TableAttachments, attachmentRow(a)); err != nil {
				return fmt.Errorf("insert attachment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Post{}, err
	}

	s.logger().Info("Post created", "post_id", p.ID, "user_id", p.UserID, "attachments", len(p.Attachments))
	return p, nil
}

// GetPost returns the assembled post or ErrNotFound.
func (s *Service) GetPost(ctx context.Context, id string) (Post, error) {
	var (
		version   int64
		cacheable bool
	)
	if s.Cache != nil {
		p, v, ok, err := s.Cache.GetPost(ctx, id)
		switch {
		case err != nil:
			s.logger().Error("Could not read cached post", "post_id", id, "error", err.Error())
		case ok:
			return p, nil
		default:
			version, cacheable = v, true
		}
	}

	p, err := s.assembler().Assemble(ctx, id)
	if err != nil {
		return Post{}, err
	}

	if cacheable {
		if err := s.Cache.SetPost(ctx, p, version); err != nil {
			s.logger().Error("Could not cache post", "post_id", id, "error", err.Error())
		}
	}
	return p, nil
}

// ListPosts returns one page of all posts, newest first.
func (s *Service) ListPosts(ctx context.Context, page, pageSize int) (Page[Post], error) {
	return s.listPosts(ctx, nil, page, pageSize)
}

// ListUserPosts returns one page of the posts written by userID, newest first.
func (s *Service) ListUserPosts(ctx context.Context, userID string, page, pageSize int) (Page[Post], error) {
	return s.listPosts(ctx, Row{colUserID: userID}, page, pageSize)
}

// listPosts paginates the matching post rows and assembles only the posts on
// the requested page. Posts deleted in between are skipped.
func (s *Service) listPosts(ctx context.Context, filters Row, page, pageSize int) (Page[Post], error) {
	if err := ValidatePage(page, pageSize); err != nil {
		return Page[Post]{}, err
	}

	rows, err := s.Store.ReadMany(ctx, TablePosts, filters)
	if err != nil {
		return Page[Post]{}, fmt.Errorf("read posts: %w", err)
	}
	heads := make([]Post, 0, len(rows))
	for _, r := range rows {
		p, err := postFromRow(r)
		if err != nil {
			return Page[Post]{}, err
		}
		heads = append(heads, p)
	}

	pg, err := Paginate(heads, page, pageSize,
		func(p Post) time.Time { return p.CreatedAt },
		func(p Post) string { return p.ID })
	if err != nil {
		return Page[Post]{}, err
	}

	posts := make([]Post, len(pg.Items))
	found := make([]bool, len(pg.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, head := range pg.Items {
		g.Go(func() error {
			p, err := s.GetPost(gctx, head.ID)
			if errors.Is(err, ErrNotFound) {
				s.logger().Warn("Post disappeared while listing", "post_id", head.ID)
				return nil
			}
			if err != nil {
				return fmt.Errorf("assemble post %s: %w", head.ID, err)
			}
			posts[i], found[i] = p, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Page[Post]{}, err
	}

	out := Page[Post]{Items: make([]Post, 0, len(posts)), TotalCount: pg.TotalCount}
	for i, p := range posts {
		if found[i] {
			out.Items = append(out.Items, p)
		}
	}
	return out, nil
}

// CreateComment adds a comment to an existing post. It returns ErrNotFound
// without writing anything if the post does not exist.
func (s *Service) CreateComment(ctx context.Context, postID, userID, content string) (Comment, error) {
	if strings.TrimSpace(userID) == "" {
		return Comment{}, invalid("user_id", "required")
	}
	if strings.TrimSpace(content) == "" {
		return Comment{}, invalid("content", "required")
	}

	ok, err := s.assembler().Exists(ctx, postID)
	if err != nil {
		return Comment{}, err
	}
	if !ok {
		return Comment{}, ErrNotFound
	}

	c := Comment{
		ID:        s.newID(),
		PostID:    postID,
		UserID:    userID,
		Content:   content,
		CreatedAt: s.now(),
		Reactions: []Reaction{},
	}
	if err := s.Store.Create(ctx, TableComments, commentRow(c)); err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	s.invalidate(ctx, postID)

	s.logger().Info("Comment created", "comment_id", c.ID, "post_id", postID, "user_id", userID)
	return c, nil
}

// ListComments returns one page of a post's comments, newest first, each
// with its reactions.
func (s *Service) ListComments(ctx context.Context, postID string, page, pageSize int) (Page[Comment], error) {
	if err := ValidatePage(page, pageSize); err != nil {
		return Page[Comment]{}, err
	}

	asm := s.assembler()
	ok, err := asm.Exists(ctx, postID)
	if err != nil {
		return Page[Comment]{}, err
	}
	if !ok {
		return Page[Comment]{}, ErrNotFound
	}

	rows, err := s.Store.ReadMany(ctx, TableComments, Row{colPostID: postID})
	if err != nil {
		return Page[Comment]{}, fmt.Errorf("read comments: %w", err)
	}
	heads := make([]Comment, 0, len(rows))
	for _, r := range rows {
		c, err := commentFromRow(r)
		if err != nil {
			return Page[Comment]{}, err
		}
		heads = append(heads, c)
	}

	pg, err := Paginate(heads, page, pageSize,
		func(c Comment) time.Time { return c.CreatedAt },
		func(c Comment) string { return c.ID })
	if err != nil {
		return Page[Comment]{}, err
	}
	for i := range pg.Items {
		if pg.Items[i].Reactions, err = asm.Reactions(ctx, CommentTarget(pg.Items[i].ID)); err != nil {
			return Page[Comment]{}, err
		}
	}
	return pg, nil
}

// AddReaction sets userID's reaction on t, replacing any previous one.
// It returns ErrNotFound if the target does not exist.
func (s *Service) AddReaction(ctx context.Context, t Target, userID string, kind ReactionKind) (Reaction, error) {
	if kind == ReactionUnspecified {
		return Reaction{}, invalid("reaction", "must be one of like, love, haha, wow, sad, angry")
	}
	if strings.TrimSpace(userID) == "" {
		return Reaction{}, invalid("user_id", "required")
	}

	postID, err := s.resolvePost(ctx, t)
	if err != nil {
		return Reaction{}, err
	}

	r, err := UpsertReaction(ctx, s.Store, t, userID, kind)
	if err != nil {
		return Reaction{}, err
	}
	s.invalidate(ctx, postID)

	s.logger().Info("Reaction added", "target", t.Kind.String(), "target_id", t.ID, "user_id", userID, "reaction", string(kind))
	return r, nil
}

// RemoveReaction deletes userID's reaction on t and reports whether there
// was one.
func (s *Service) RemoveReaction(ctx context.Context, t Target, userID string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, invalid("user_id", "required")
	}

	removed, err := RemoveReaction(ctx, s.Store, t, userID)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}

	postID, err := s.resolvePost(ctx, t)
	switch {
	case err == nil:
		s.invalidate(ctx, postID)
	case !errors.Is(err, ErrNotFound):
		s.logger().Error("Could not resolve post for cache invalidation", "target_id", t.ID, "error", err.Error())
	}

	s.logger().Info("Reaction removed", "target", t.Kind.String(), "target_id", t.ID, "user_id", userID)
	return true, nil
}

// resolvePost returns the id of the post that owns t.
func (s *Service) resolvePost(ctx context.Context, t Target) (string, error) {
	if t.Kind == TargetPost {
		ok, err := s.assembler().Exists(ctx, t.ID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrNotFound
		}
		return t.ID, nil
	}

	rows, err := s.Store.ReadMany(ctx, TableComments, Row{colID: t.ID})
	if err != nil {
		return "", fmt.Errorf("read comment: %w", err)
	}
	if len(rows) == 0 {
		return "", ErrNotFound
	}
	return rows[0][colPostID], nil
}

func (s *Service) invalidate(ctx context.Context, postID string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.InvalidatePost(ctx, postID); err != nil {
		s.logger().Error("Could not invalidate cached post", "post_id", postID, "error", err.Error())
	}
}
