// Package helpcenter talks to the remote help center service.
package helpcenter

import (
	"context"
	"io"

	"github.com/schaermu/helpsync/internal/model"
)

// Record is a decoded remote resource
type Record = map[string]any

// Ref addresses a remote item
type Ref struct {
	Kind model.Kind
	ID   int64
}

// Client is the remote capability the sync engine depends on. Not-found
// results match ErrNotFound; every other failure of a remote call matches
// ErrTransient and has already been logged. Mutating calls are never
// retried.
type Client interface {
	GetItem(ctx context.Context, ref Ref) (Record, error)
	GetItems(ctx context.Context, kind model.Kind, parent *Ref) ([]Record, error)
	GetTranslation(ctx context.Context, ref Ref) (Record, error)
	Put(ctx context.Context, ref Ref, fields Record) (Record, error)
	PutTranslation(ctx context.Context, ref Ref, fields Record) (Record, error)
	Post(ctx context.Context, kind model.Kind, fields Record, parent *Ref) (Record, error)
	// PostAttachment uploads an inline attachment. A nil article uploads it
	// unassociated, to be linked when the article is created.
	PostAttachment(ctx context.Context, article *Ref, filename string, r io.Reader) (Record, error)
	GetAttachment(ctx context.Context, relativePath string, w io.Writer) error
	Delete(ctx context.Context, ref Ref) error

	GetUser(ctx context.Context, id int64) (Record, error)
	SearchUser(ctx context.Context, query string) (Record, error)
	GetUserSegments(ctx context.Context) ([]Record, error)
	GetPermissionGroups(ctx context.Context) ([]Record, error)
}

// Collection returns the plural resource name of kind
func Collection(kind model.Kind) string {
	switch kind {
	case model.KindCategory:
		return "categories"
	case model.KindSection:
		return "sections"
	case model.KindArticle:
		return "articles"
	default:
		return "attachments"
	}
}

// Envelope returns the key wrapping a single resource of kind in request
// and response bodies
func Envelope(kind model.Kind) string {
	if kind == model.KindAttachment {
		return "article_attachment"
	}
	return kind.String()
}

// ListEnvelope returns the key wrapping a list of kind
func ListEnvelope(kind model.Kind) string {
	if kind == model.KindAttachment {
		return "article_attachments"
	}
	return Collection(kind)
}

// UserSearchQuery builds the search query resolving an email to a user
func UserSearchQuery(email string) string {
	return `type:user email:"` + email + `"`
}
