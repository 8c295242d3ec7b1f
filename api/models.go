package api

import "github.com/madfeed/feed-service/feed"

type (
	attachmentRequest struct {
		Kind     string `json:"kind" validate:"required,oneof=image video IMAGE VIDEO"`
		Position int    `json:"position" validate:"gte=0"`
		BlobRef  string `json:"blob_ref" validate:"required"`
	}

	createPostRequest struct {
		UserID      string              `json:"user_id" validate:"required"`
		Content     string              `json:"content"`
		Attachments []attachmentRequest `json:"attachments" validate:"dive"`
	}

	createCommentRequest struct {
		UserID  string `json:"user_id" validate:"required"`
		Content string `json:"content" validate:"required"`
	}

	addReactionRequest struct {
		UserID   string `json:"user_id" validate:"required"`
		Reaction string `json:"reaction" validate:"required"`
	}

	removeReactionRequest struct {
		UserID string `json:"user_id" validate:"required"`
	}

	pagination struct {
		Page     int `json:"page" validate:"gte=1"`
		PageSize int `json:"page_size" validate:"gte=1,lte=100"`
	}

	listPostsResponse struct {
		Posts      []feed.Post `json:"posts"`
		TotalCount int         `json:"total_count"`
		Page       int         `json:"page"`
		PageSize   int         `json:"page_size"`
	}

	listCommentsResponse struct {
		Comments   []feed.Comment `json:"comments"`
		TotalCount int            `json:"total_count"`
		Page       int            `json:"page"`
		PageSize   int            `json:"page_size"`
	}
)

func (r createPostRequest) attachments() []feed.NewAttachment {
	out := make([]feed.NewAttachment, len(r.Attachments))
	for i, a := range r.Attachments {
		out[i] = feed.NewAttachment{
			Kind:     feed.ParseAttachmentKind(a.Kind),
			Position: a.Position,
			BlobRef:  a.BlobRef,
		}
	}
	return out
}
