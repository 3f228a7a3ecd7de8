package feed

import (
	"encoding/json"
	"fmt"

	"vantage/internal/models"
)

// Wire type tags for the event envelope.
const (
	TypePostInserted    = "post.inserted"
	TypeLikeInserted    = "like.inserted"
	TypeLikeDeleted     = "like.deleted"
	TypeCommentInserted = "comment.inserted"
	TypeCommentDeleted  = "comment.deleted"
)

// Event is the closed set of live change notifications the router consumes.
// Every event carries a delivery-stable ID so at-least-once transports can be
// deduplicated.
type Event interface {
	EventID() string
	isEvent()
}

// PostInserted announces a new post by some author in the viewer's graph.
type PostInserted struct {
	ID   string       `json:"id"`
	Post *models.Post `json:"post"`
}

func (e *PostInserted) EventID() string { return e.ID }
func (e *PostInserted) isEvent()        {}

// LikeInserted announces that a user liked a post.
type LikeInserted struct {
	ID     string `json:"id"`
	PostID uint   `json:"post_id"`
	UserID uint   `json:"user_id"`
}

func (e *LikeInserted) EventID() string { return e.ID }
func (e *LikeInserted) isEvent()        {}

// LikeDeleted announces that a user removed their like from a post.
type LikeDeleted struct {
	ID     string `json:"id"`
	PostID uint   `json:"post_id"`
	UserID uint   `json:"user_id"`
}

func (e *LikeDeleted) EventID() string { return e.ID }
func (e *LikeDeleted) isEvent()        {}

// CommentInserted announces a new comment on a post.
type CommentInserted struct {
	ID        string `json:"id"`
	PostID    uint   `json:"post_id"`
	CommentID uint   `json:"comment_id"`
	UserID    uint   `json:"user_id"`
}

func (e *CommentInserted) EventID() string { return e.ID }
func (e *CommentInserted) isEvent()        {}

// CommentDeleted announces a removed comment.
type CommentDeleted struct {
	ID        string `json:"id"`
	PostID    uint   `json:"post_id"`
	CommentID uint   `json:"comment_id"`
	UserID    uint   `json:"user_id"`
}

func (e *CommentDeleted) EventID() string { return e.ID }
func (e *CommentDeleted) isEvent()        {}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeEvent parses a wire payload into a typed event. Anything that does
// not decode into a known, well-formed event yields a DECODE_ERROR; callers
// drop and log such payloads without touching feed state.
func DecodeEvent(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, models.NewDecodeError(err)
	}

	var ev Event
	switch env.Type {
	case TypePostInserted:
		e := &PostInserted{}
		if err := json.Unmarshal(env.Data, e); err != nil {
			return nil, models.NewDecodeError(err)
		}
		if e.Post == nil {
			return nil, models.NewDecodeError(fmt.Errorf("post.inserted without post body"))
		}
		ev = e
	case TypeLikeInserted:
		e := &LikeInserted{}
		if err := json.Unmarshal(env.Data, e); err != nil {
			return nil, models.NewDecodeError(err)
		}
		ev = e
	case TypeLikeDeleted:
		e := &LikeDeleted{}
		if err := json.Unmarshal(env.Data, e); err != nil {
			return nil, models.NewDecodeError(err)
		}
		ev = e
	case TypeCommentInserted:
		e := &CommentInserted{}
		if err := json.Unmarshal(env.Data, e); err != nil {
			return nil, models.NewDecodeError(err)
		}
		ev = e
	case TypeCommentDeleted:
		e := &CommentDeleted{}
		if err := json.Unmarshal(env.Data, e); err != nil {
			return nil, models.NewDecodeError(err)
		}
		ev = e
	default:
		return nil, models.NewDecodeError(fmt.Errorf("unknown event type %q", env.Type))
	}

	if ev.EventID() == "" {
		return nil, models.NewDecodeError(fmt.Errorf("%s event without id", env.Type))
	}
	return ev, nil
}

// EncodeEvent serializes a typed event into its wire envelope.
func EncodeEvent(ev Event) ([]byte, error) {
	var typ string
	switch ev.(type) {
	case *PostInserted:
		typ = TypePostInserted
	case *LikeInserted:
		typ = TypeLikeInserted
	case *LikeDeleted:
		typ = TypeLikeDeleted
	case *CommentInserted:
		typ = TypeCommentInserted
	case *CommentDeleted:
		typ = TypeCommentDeleted
	default:
		return nil, fmt.Errorf("unsupported event type %T", ev)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: typ, Data: data})
}
