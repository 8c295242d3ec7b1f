package feed

import (
	"fmt"
	"strconv"
	"time"
)

// Column names.
const (
	colID        = "id"
	colPostID    = "postid"
	colCommentID = "commentid"
	colUserID    = "userid"
	colContent   = "content"
	colDate      = "date"
	colType      = "type"
	colPosition  = "position"
	colBlobRef   = "minio_id"
	colReaction  = "reaction"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// FormatTime renders t the way dates are stored.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses a stored date. Zone-less values are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func postRow(p Post) Row {
	return Row{
		colID:      p.ID,
		colUserID:  p.UserID,
		colContent: p.Content,
		colDate:    FormatTime(p.CreatedAt),
	}
}

func postFromRow(r Row) (Post, error) {
	t, err := ParseTime(r[colDate])
	if err != nil {
		return Post{}, fmt.Errorf("post %s: %w", r[colID], err)
	}
	return Post{
		ID:          r[colID],
		UserID:      r[colUserID],
		Content:     r[colContent],
		CreatedAt:   t,
		Attachments: []Attachment{},
		Reactions:   []Reaction{},
		Comments:    []Comment{},
	}, nil
}

func attachmentRow(a Attachment) Row {
	return Row{
		colID:       a.ID,
		colPostID:   a.PostID,
		colType:     string(a.Kind),
		colPosition: strconv.Itoa(a.Position),
		colBlobRef:  a.BlobRef,
	}
}

func attachmentFromRow(r Row) (Attachment, error) {
	pos, err := strconv.Atoi(r[colPosition])
	if err != nil {
		return Attachment{}, fmt.Errorf("attachment %s position: %w", r[colID], err)
	}
	return Attachment{
		ID:       r[colID],
		PostID:   r[colPostID],
		Kind:     ParseAttachmentKind(r[colType]),
		Position: pos,
		BlobRef:  r[colBlobRef],
	}, nil
}

func commentRow(c Comment) Row {
	return Row{
		colID:      c.ID,
		colPostID:  c.PostID,
		colUserID:  c.UserID,
		colContent: c.Content,
		colDate:    FormatTime(c.CreatedAt),
	}
}

func commentFromRow(r Row) (Comment, error) {
	t, err := ParseTime(r[colDate])
	if err != nil {
		return Comment{}, fmt.Errorf("comment %s: %w", r[colID], err)
	}
	return Comment{
		ID:        r[colID],
		PostID:    r[colPostID],
		UserID:    r[colUserID],
		Content:   r[colContent],
		CreatedAt: t,
		Reactions: []Reaction{},
	}, nil
}

// reactionTable returns the table and target column for a reaction namespace.
func reactionTable(k TargetKind) (table, col string) {
	if k == TargetComment {
		return TableCommentReactions, colCommentID
	}
	return TablePostReactions, colPostID
}

func reactionRow(r Reaction, k TargetKind) Row {
	_, col := reactionTable(k)
	return Row{
		col:         r.TargetID,
		colUserID:   r.UserID,
		colReaction: string(r.Kind),
	}
}

func reactionFromRow(r Row, k TargetKind) Reaction {
	_, col := reactionTable(k)
	return Reaction{
		TargetID: r[col],
		UserID:   r[colUserID],
		Kind:     ParseReactionKind(r[colReaction]),
	}
}
