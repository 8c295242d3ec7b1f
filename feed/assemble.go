package feed

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
)

// An Assembler rebuilds Post aggregates from normalized rows.
type Assembler struct {
	Store Store
}

// Assemble returns the post with its attachments ordered by position, its
// reactions, and its comments newest first with their own reactions.
// It returns ErrNotFound if the post does not exist.
func (a *Assembler) Assemble(ctx context.Context, postID string) (Post, error) {
	rows, err := a.Store.ReadMany(ctx, TablePosts, Row{colID: postID})
	if err != nil {
		return Post{}, fmt.Errorf("read post: %w", err)
	}
	if len(rows) == 0 {
		return Post{}, ErrNotFound
	}
	p, err := postFromRow(rows[0])
	if err != nil {
		return Post{}, err
	}

	if p.Attachments, err = a.attachments(ctx, postID); err != nil {
		return Post{}, err
	}
	if p.Reactions, err = a.Reactions(ctx, PostTarget(postID)); err != nil {
		return Post{}, err
	}

	crows, err := a.Store.ReadMany(ctx, TableComments, Row{colPostID: postID})
	if err != nil {
		return Post{}, fmt.Errorf("read comments: %w", err)
	}
	comments, err := a.comments(ctx, crows)
	if err != nil {
		return Post{}, err
	}
	slices.SortFunc(comments, func(x, y Comment) int {
		if c := y.CreatedAt.Compare(x.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(x.ID, y.ID)
	})
	p.Comments = comments
	return p, nil
}

// Exists reports whether the post exists.
func (a *Assembler) Exists(ctx context.Context, postID string) (bool, error) {
	rows, err := a.Store.ReadMany(ctx, TablePosts, Row{colID: postID})
	if err != nil {
		return false, fmt.Errorf("read post: %w", err)
	}
	return len(rows) > 0, nil
}

// Reactions returns the reactions on t ordered by user id.
func (a *Assembler) Reactions(ctx context.Context, t Target) ([]Reaction, error) {
	table, col := reactionTable(t.Kind)
	rows, err := a.Store.ReadMany(ctx, table, Row{col: t.ID})
	if err != nil {
		return nil, fmt.Errorf("read %s reactions: %w", t.Kind, err)
	}
	out := make([]Reaction, len(rows))
	for i, r := range rows {
		out[i] = reactionFromRow(r, t.Kind)
	}
	slices.SortFunc(out, func(x, y Reaction) int {
		return strings.Compare(x.UserID, y.UserID)
	})
	return out, nil
}

func (a *Assembler) attachments(ctx context.Context, postID string) ([]Attachment, error) {
	rows, err := a.Store.ReadMany(ctx, TableAttachments, Row{colPostID: postID})
	if err != nil {
		return nil, fmt.Errorf("read attachments: %w", err)
	}
	out := make([]Attachment, 0, len(rows))
	for _, r := range rows {
		att, err := attachmentFromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, att)
	}
	slices.SortFunc(out, func(x, y Attachment) int {
		if c := cmp.Compare(x.Position, y.Position); c != 0 {
			return c
		}
		return strings.Compare(x.ID, y.ID)
	})
	return out, nil
}

// comments decodes comment rows and fetches each comment's reactions.
func (a *Assembler) comments(ctx context.Context, rows []Row) ([]Comment, error) {
	out := make([]Comment, 0, len(rows))
	for _, r := range rows {
		c, err := commentFromRow(r)
		if err != nil {
			return nil, err
		}
		if c.Reactions, err = a.Reactions(ctx, CommentTarget(c.ID)); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
