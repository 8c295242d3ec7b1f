package feed

import "context"

// Table names and columns shared by every Store backend.
const (
	TablePosts            = "posts"
	TableAttachments      = "post_attachments"
	TableComments         = "post_comments"
	TablePostReactions    = "post_reactions"
	TableCommentReactions = "comment_reactions"
)

// A Row is one record keyed by column name. Values travel as strings.
type Row map[string]string

// A Store provides generic row operations over the backing storage.
//
// ReadMany applies AND-ed equality filters and returns rows in no particular
// order; no match yields an empty slice. Delete removes every row matching
// condition, a "col = ? AND col = ?" expression bound to params; deleting
// nothing is not an error.
//
// WithinTx runs fn against a Store scoped to one unit of work. Transactional
// backends commit when fn returns nil and roll back otherwise; others run fn
// directly.
type Store interface {
	Create(ctx context.Context, table string, rec Row) error
	ReadMany(ctx context.Context, table string, filters Row) ([]Row, error)
	Delete(ctx context.Context, table string, condition string, params ...string) error
	WithinTx(ctx context.Context, fn func(Store) error) error
}

// A DeleteCounter is a Store whose deletes can report the number of rows
// removed. RemoveReaction relies on it where available, since a prior read
// does not stop two concurrent removals from both seeing the row.
type DeleteCounter interface {
	DeleteCount(ctx context.Context, table string, condition string, params ...string) (int64, error)
}

// A Cache holds assembled posts. Implementations must tolerate concurrent use.
//
// Every post has a version that InvalidatePost advances. On a miss GetPost
// returns the current version; SetPost stores the post only if the version
// is still the same, so a post assembled before a concurrent write is never
// cached after that write's invalidation.
type Cache interface {
	GetPost(ctx context.Context, id string) (p Post, version int64, ok bool, err error)
	SetPost(ctx context.Context, p Post, version int64) error
	InvalidatePost(ctx context.Context, id string) error
}
