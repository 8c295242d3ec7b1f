package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

// A post represents a post in the database.
type post struct {
	bun.BaseModel `bun:"table:posts"`

	ID      string    `bun:"id,pk"`
	UserID  string    `bun:"userid,notnull"`
	Content string    `bun:"content,notnull,default:''"`
	Date    time.Time `bun:"date,notnull"`
}

type attachment struct {
	bun.BaseModel `bun:"table:post_attachments"`

	ID       string `bun:"id,pk"`
	PostID   string `bun:"postid,notnull"`
	Type     string `bun:"type,notnull"`
	Position int    `bun:"position,notnull"`
	BlobRef  string `bun:"minio_id,notnull"`
}

type comment struct {
	bun.BaseModel `bun:"table:post_comments"`

	ID      string    `bun:"id,pk"`
	PostID  string    `bun:"postid,notnull"`
	UserID  string    `bun:"userid,notnull"`
	Content string    `bun:"content,notnull"`
	Date    time.Time `bun:"date,notnull"`
}

// The composite primary keys enforce one reaction per user and target.
type postReaction struct {
	bun.BaseModel `bun:"table:post_reactions"`

	PostID   string `bun:"postid,pk"`
	UserID   string `bun:"userid,pk"`
	Reaction string `bun:"reaction,notnull"`
}

type commentReaction struct {
	bun.BaseModel `bun:"table:comment_reactions"`

	CommentID string `bun:"commentid,pk"`
	UserID    string `bun:"userid,pk"`
	Reaction  string `bun:"reaction,notnull"`
}
