package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/madfeed/feed-service/api/validator"
	"github.com/madfeed/feed-service/feed"
)

// A Feed provides the post, comment and reaction operations.
type Feed interface {
	CreatePost(ctx context.Context, userID, content string, atts []feed.NewAttachment) (feed.Post, error)
	GetPost(ctx context.Context, id string) (feed.Post, error)
	ListPosts(ctx context.Context, page, pageSize int) (feed.Page[feed.Post], error)
	ListUserPosts(ctx context.Context, userID string, page, pageSize int) (feed.Page[feed.Post], error)
	CreateComment(ctx context.Context, postID, userID, content string) (feed.Comment, error)
	ListComments(ctx context.Context, postID string, page, pageSize int) (feed.Page[feed.Comment], error)
	AddReaction(ctx context.Context, t feed.Target, userID string, kind feed.ReactionKind) (feed.Reaction, error)
	RemoveReaction(ctx context.Context, t feed.Target, userID string) (bool, error)
}

// API provides the REST endpoints for the application.
type API struct {
	Logger *slog.Logger
	Feed   Feed
	Val    *validator.Validator

	once sync.Once
	mux  chi.Router
}

func (a *API) setupRoutes() {
	if a.Val == nil {
		a.Val = validator.New()
	}

	mux := chi.NewRouter()

	mux.Post("/posts", a.createPost)
	mux.Get("/posts", a.listPosts)
	mux.Get("/posts/user/{userID}", a.listUserPosts)
	mux.Get("/posts/{postID}", a.getPost)
	mux.Post("/posts/{postID}/comments", a.createComment)
	mux.Get("/posts/{postID}/comments", a.listComments)
	mux.Post("/posts/{postID}/reactions", a.addReaction(feed.TargetPost, "postID"))
	mux.Delete("/posts/{postID}/reactions", a.removeReaction(feed.TargetPost, "postID"))
	mux.Post("/comments/{commentID}/reactions", a.addReaction(feed.TargetComment, "commentID"))
	mux.Delete("/comments/{commentID}/reactions", a.removeReaction(feed.TargetComment, "commentID"))

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path)
	a.mux.ServeHTTP(w, r)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	a.Logger.Error("Error", "error", err.Error())
	a.respond(w, status, response{Error: msg})
}

// respondFeedError maps errors from the Feed to a response. notFound is the
// message sent for feed.ErrNotFound.
func (a *API) respondFeedError(w http.ResponseWriter, err error, notFound, msg string) {
	var ve *feed.ValidationError
	switch {
	case errors.Is(err, feed.ErrNotFound):
		a.respondError(w, http.StatusNotFound, err, notFound)
	case errors.As(err, &ve):
		a.respondError(w, http.StatusBadRequest, err, ve.Error())
	default:
		a.respondError(w, http.StatusInternalServerError, err, msg)
	}
}

func (a *API) validateBody(w http.ResponseWriter, s interface{}) bool {
	errs := a.Val.ValidateStruct(s)
	type response struct {
		Errors []validator.ValidationError `json:"errors"`
	}

	if len(errs) > 0 {
		a.respond(w, http.StatusBadRequest, &response{
			Errors: errs,
		})
		return false
	}
	return true
}

// decodeBody decodes the JSON request body into v. It responds and returns
// false on failure.
func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return false
	}

	err = r.Body.Close()
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not close request body")
		return false
	}
	return a.validateBody(w, v)
}

// parsePagination reads the page and page_size query parameters.
func (a *API) parsePagination(w http.ResponseWriter, r *http.Request) (pagination, bool) {
	p := pagination{Page: feed.DefaultPage, PageSize: feed.DefaultPageSize}
	q := r.URL.Query()
	for name, dst := range map[string]*int{"page": &p.Page, "page_size": &p.PageSize} {
		s := q.Get(name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			a.respondError(w, http.StatusBadRequest, err, "Invalid "+name+" parameter")
			return p, false
		}
		*dst = n
	}
	return p, a.validateBody(w, &p)
}

func (a *API) createPost(w http.ResponseWriter, r *http.Request) {
	var body createPostRequest
	if ok := a.decodeBody(w, r, &body); !ok {
		return
	}

	post, err := a.Feed.CreatePost(r.Context(), body.UserID, body.Content, body.attachments())
	if err != nil {
		a.respondFeedError(w, err, "Post not found", "Could not create post")
		return
	}

	a.respond(w, http.StatusCreated, post)
}

func (a *API) getPost(w http.ResponseWriter, r *http.Request) {
	post, err := a.Feed.GetPost(r.Context(), chi.URLParam(r, "postID"))
	if err != nil {
		a.respondFeedError(w, err, "Post not found", "Could not get post")
		return
	}
	a.respond(w, http.StatusOK, post)
}

func (a *API) listPosts(w http.ResponseWriter, r *http.Request) {
	p, ok := a.parsePagination(w, r)
	if !ok {
		return
	}

	pg, err := a.Feed.ListPosts(r.Context(), p.Page, p.PageSize)
	if err != nil {
		a.respondFeedError(w, err, "Posts not found", "Could not list posts")
		return
	}
	a.Logger.Info("Listed posts", "count", len(pg.Items), "total", pg.TotalCount)

	a.respond(w, http.StatusOK, listPostsResponse{
		Posts:      pg.Items,
		TotalCount: pg.TotalCount,
		Page:       p.Page,
		PageSize:   p.PageSize,
	})
}

func (a *API) listUserPosts(w http.ResponseWriter, r *http.Request) {
	p, ok := a.parsePagination(w, r)
	if !ok {
		return
	}

	pg, err := a.Feed.ListUserPosts(r.Context(), chi.URLParam(r, "userID"), p.Page, p.PageSize)
	if err != nil {
		a.respondFeedError(w, err, "Posts not found", "Could not list posts")
		return
	}

	a.respond(w, http.StatusOK, listPostsResponse{
		Posts:      pg.Items,
		TotalCount: pg.TotalCount,
		Page:       p.Page,
		PageSize:   p.PageSize,
	})
}

func (a *API) createComment(w http.ResponseWriter, r *http.Request) {
	var body createCommentRequest
	if ok := a.decodeBody(w, r, &body); !ok {
		return
	}

	comment, err := a.Feed.CreateComment(r.Context(), chi.URLParam(r, "postID"), body.UserID, body.Content)
	if err != nil {
		a.respondFeedError(w, err, "Post not found", "Could not create comment")
		return
	}
	a.respond(w, http.StatusCreated, comment)
}

func (a *API) listComments(w http.ResponseWriter, r *http.Request) {
	p, ok := a.parsePagination(w, r)
	if !ok {
		return
	}

	pg, err := a.Feed.ListComments(r.Context(), chi.URLParam(r, "postID"), p.Page, p.PageSize)
	if err != nil {
		a.respondFeedError(w, err, "Post not found", "Could not list comments")
		return
	}

	a.respond(w, http.StatusOK, listCommentsResponse{
		Comments:   pg.Items,
		TotalCount: pg.TotalCount,
		Page:       p.Page,
		PageSize:   p.PageSize,
	})
}

func (a *API) addReaction(kind feed.TargetKind, param string) http.HandlerFunc {
	notFound := "Post not found"
	if kind == feed.TargetComment {
		notFound = "Comment not found"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var body addReactionRequest
		if ok := a.decodeBody(w, r, &body); !ok {
			return
		}

		target := feed.Target{Kind: kind, ID: chi.URLParam(r, param)}
		reaction, err := a.Feed.AddReaction(r.Context(), target, body.UserID, feed.ParseReactionKind(body.Reaction))
		if err != nil {
			a.respondFeedError(w, err, notFound, "Could not add reaction")
			return
		}
		a.respond(w, http.StatusCreated, reaction)
	}
}

// removeReaction takes the user from the user_id query parameter or, as a
// fallback, from a JSON body.
func (a *API) removeReaction(kind feed.TargetKind, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := removeReactionRequest{UserID: r.URL.Query().Get("user_id")}
		if body.UserID == "" {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
				a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
				return
			}
		}
		if ok := a.validateBody(w, &body); !ok {
			return
		}

		target := feed.Target{Kind: kind, ID: chi.URLParam(r, param)}
		removed, err := a.Feed.RemoveReaction(r.Context(), target, body.UserID)
		if err != nil {
			a.respondFeedError(w, err, "Reaction not found", "Could not remove reaction")
			return
		}
		if !removed {
			a.respondError(w, http.StatusNotFound, feed.ErrNotFound, "Reaction not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
