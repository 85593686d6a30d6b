package model

import (
	"errors"
	"fmt"
	"regexp"
)

// Fields is an attribute set exchanged with the remote service or stored in
// an attributes file
type Fields = map[string]any

// ErrInvalidAttributes is returned when an attribute set misses a required key
var ErrInvalidAttributes = errors.New("invalid attributes")

// ToDict returns the fields a remote create call needs. For articles body
// is the generated body, which the caller computes via GenerateBody.
func (t *Tree) ToDict(id NodeID, generatedBody string) Fields {
	n := &t.nodes[id]
	switch n.Kind {
	case KindArticle:
		return Fields{
			KeyTitle: n.Name,
			KeyBody:  generatedBody,
			KeyDraft: n.Draft,
		}
	case KindAttachment:
		return Fields{KeyFileName: n.Filename}
	default:
		return Fields{
			KeyName:        n.Name,
			KeyDescription: n.Description,
		}
	}
}

// ToTranslation returns the fields an update-translation call needs
func (t *Tree) ToTranslation(id NodeID, generatedBody string) Fields {
	n := &t.nodes[id]
	switch n.Kind {
	case KindArticle:
		return Fields{
			KeyTitle: n.Name,
			KeyBody:  generatedBody,
			KeyDraft: n.Draft,
		}
	case KindAttachment:
		return Fields{}
	default:
		return Fields{
			KeyTitle: n.Name,
			KeyBody:  n.Description,
		}
	}
}

// ToAttributes returns the human-authored desired state of a node, the
// content of its attributes file
func (t *Tree) ToAttributes(id NodeID) Fields {
	n := &t.nodes[id]
	switch n.Kind {
	case KindArticle:
		return Fields{
			KeyName:       n.Name,
			KeySynced:     n.Synced,
			KeyDraft:      n.Draft,
			KeyAuthor:     n.Author,
			KeyVisibility: n.Visibility,
		}
	case KindAttachment:
		return Fields{}
	default:
		return Fields{
			KeyName:        n.Name,
			KeyDescription: n.Description,
		}
	}
}

// Converter renders article markup to HTML
type Converter interface {
	ToHTML(markdown string) (string, error)
}

// GenerateBody rewrites attachment references in the article body to the
// remote relative URLs of already uploaded attachments, then renders HTML.
// The output only depends on the body and the attachment metas, so it is
// stable across runs.
func (t *Tree) GenerateBody(article NodeID, conv Converter) (string, error) {
	t.mustBe(article, KindArticle)
	body := t.RewriteAttachmentLinks(article)
	html, err := conv.ToHTML(body)
	if err != nil {
		return "", fmt.Errorf("failed to render article %s: %w", t.Path(article), err)
	}
	return html, nil
}

// attachmentLink matches ./attachments/<file> or /attachments/<file> when it
// starts a link target, so ../attachments/<file> and absolute URLs are left
// alone
var attachmentLink = regexp.MustCompile(`(^|[\s(\["'<=])\.?/` + AttachmentsDir + `/([^\s)\]"'<>?#]+)`)

// RewriteAttachmentLinks replaces ./attachments/<file> and
// /attachments/<file> link targets with the attachment's meta relative_path
func (t *Tree) RewriteAttachmentLinks(article NodeID) string {
	n := &t.nodes[article]
	if len(n.attachments) == 0 {
		return n.Body
	}
	return attachmentLink.ReplaceAllStringFunc(n.Body, func(m string) string {
		sub := attachmentLink.FindStringSubmatch(m)
		id, ok := n.attachments[sub[2]]
		if !ok {
			return m
		}
		target := Str(t.nodes[id].Meta.RelativePath)
		if target == "" {
			return m
		}
		return sub[1] + target
	})
}

// GroupAttributes are the validated fields of a category or section
type GroupAttributes struct {
	Name        string
	Description string
}

// ParseGroupAttributes validates a group attribute set
func ParseGroupAttributes(attrs Fields) (GroupAttributes, error) {
	name, err := requiredString(attrs, KeyName)
	if err != nil {
		return GroupAttributes{}, err
	}
	return GroupAttributes{
		Name:        name,
		Description: optionalString(attrs, KeyDescription),
	}, nil
}

// ParseArticleAttributes validates an article attribute set. Missing flags
// default to synced and draft.
func ParseArticleAttributes(attrs Fields, filename, body, html string) (ArticleFields, error) {
	name, err := requiredString(attrs, KeyName)
	if err != nil {
		return ArticleFields{}, err
	}
	return ArticleFields{
		Name:       name,
		Filename:   filename,
		Body:       body,
		HTML:       html,
		Synced:     optionalBool(attrs, KeySynced, true),
		Draft:      optionalBool(attrs, KeyDraft, true),
		Author:     optionalString(attrs, KeyAuthor),
		Visibility: optionalString(attrs, KeyVisibility),
	}, nil
}

func requiredString(attrs Fields, key string) (string, error) {
	v, ok := attrs[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: missing %q", ErrInvalidAttributes, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string, got %T", ErrInvalidAttributes, key, v)
	}
	return s, nil
}

func optionalString(attrs Fields, key string) string {
	if s, ok := attrs[key].(string); ok {
		return s
	}
	return ""
}

func optionalBool(attrs Fields, key string, fallback bool) bool {
	if b, ok := attrs[key].(bool); ok {
		return b
	}
	return fallback
}
