package feed

import (
	"strings"
	"time"
)

// A Post represents a persisted post together with its attachments,
// reactions and comments.
type Post struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	Content     string       `json:"content,omitempty"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"created_at"`
	Reactions   []Reaction   `json:"reactions"`
	Comments    []Comment    `json:"comments"`
}

// An Attachment is a media item referenced by a post. BlobRef is opaque to
// this service.
type Attachment struct {
	ID       string         `json:"id"`
	PostID   string         `json:"post_id"`
	Kind     AttachmentKind `json:"kind"`
	Position int            `json:"position"`
	BlobRef  string         `json:"blob_ref"`
}

// A Comment represents a comment on a post.
type Comment struct {
	ID        string     `json:"id"`
	PostID    string     `json:"post_id"`
	UserID    string     `json:"user_id"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	Reactions []Reaction `json:"reactions"`
}

// A Reaction is a single user's reaction to a post or a comment.
type Reaction struct {
	TargetID string       `json:"target_id"`
	UserID   string       `json:"user_id"`
	Kind     ReactionKind `json:"kind"`
}

// AttachmentKind is the media type of an attachment.
type AttachmentKind string

const (
	AttachmentUnspecified AttachmentKind = ""
	AttachmentImage       AttachmentKind = "image"
	AttachmentVideo       AttachmentKind = "video"
)

// ParseAttachmentKind parses s case-insensitively. Unknown values yield
// AttachmentUnspecified.
func ParseAttachmentKind(s string) AttachmentKind {
	switch k := AttachmentKind(strings.ToLower(strings.TrimSpace(s))); k {
	case AttachmentImage, AttachmentVideo:
		return k
	}
	return AttachmentUnspecified
}

// ReactionKind is one of a fixed set of reactions.
type ReactionKind string

const (
	ReactionUnspecified ReactionKind = ""
	ReactionLike        ReactionKind = "like"
	ReactionLove        ReactionKind = "love"
	ReactionHaha        ReactionKind = "haha"
	ReactionWow         ReactionKind = "wow"
	ReactionSad         ReactionKind = "sad"
	ReactionAngry       ReactionKind = "angry"
)

// ParseReactionKind parses s case-insensitively. Unknown values yield
// ReactionUnspecified.
func ParseReactionKind(s string) ReactionKind {
	switch k := ReactionKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ReactionLike, ReactionLove, ReactionHaha, ReactionWow, ReactionSad, ReactionAngry:
		return k
	}
	return ReactionUnspecified
}

// TargetKind selects the reaction namespace.
type TargetKind int

const (
	TargetPost TargetKind = iota
	TargetComment
)

func (k TargetKind) String() string {
	if k == TargetComment {
		return "comment"
	}
	return "post"
}

// A Target identifies the post or comment a reaction applies to.
type Target struct {
	Kind TargetKind
	ID   string
}

// PostTarget returns the target for the post with the given id.
func PostTarget(id string) Target { return Target{Kind: TargetPost, ID: id} }

// CommentTarget returns the target for the comment with the given id.
func CommentTarget(id string) Target { return Target{Kind: TargetComment, ID: id} }

// NewAttachment is an attachment submitted with a new post.
type NewAttachment struct {
	Kind     AttachmentKind
	Position int
	BlobRef  string
}

// A Page is one slice of a listing plus the size of the whole listing.
type Page[T any] struct {
	Items      []T
	TotalCount int
}
