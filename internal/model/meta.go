package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Meta mirrors what the remote service last confirmed for a node. Typed
// fields are the ones the sync engine reads or writes; every other remote
// key is kept verbatim in Extra so it survives merge-on-save. A nil field
// means the key is absent.
type Meta struct {
	ID            *int64
	CategoryID    *int64
	SectionID     *int64
	AuthorID      *int64
	UserSegmentID *int64

	Name          *string
	Description   *string
	Title         *string
	Body          *string
	GeneratedBody *string
	Author        *string
	Visibility    *string
	Draft         *bool
	Synced        *bool

	FileName     *string
	RelativePath *string
	ContentURL   *string
	MD5Hash      *string

	TranslateIDs []string

	Extra map[string]any
}

// Meta keys
const (
	KeyID            = "id"
	KeyCategoryID    = "category_id"
	KeySectionID     = "section_id"
	KeyAuthorID      = "author_id"
	KeyUserSegmentID = "user_segment_id"
	KeyName          = "name"
	KeyDescription   = "description"
	KeyTitle         = "title"
	KeyBody          = "body"
	KeyGeneratedBody = "generated_body"
	KeyAuthor        = "author"
	KeyVisibility    = "visibility"
	KeyDraft         = "draft"
	KeySynced        = "synced"
	KeyFileName      = "file_name"
	KeyRelativePath  = "relative_path"
	KeyContentURL    = "content_url"
	KeyMD5Hash       = "md5_hash"
	KeyTranslateIDs  = "webtranslateit_ids"
)

// HasID reports whether the node has been created remotely
func (m Meta) HasID() bool {
	return m.ID != nil
}

// RemoteID returns the remote identifier or zero when absent
func (m Meta) RemoteID() int64 {
	return deref(m.ID)
}

// Str returns the value of a typed string field or "" when absent
func Str(p *string) string {
	return deref(p)
}

// Bool returns the value of a typed bool field or false when absent
func Bool(p *bool) bool {
	return deref(p)
}

// ID returns the value of a typed id field or zero when absent
func ID(p *int64) int64 {
	return deref(p)
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// ToMap flattens the meta into the mapping persisted on disk
func (m Meta) ToMap() map[string]any {
	out := make(map[string]any, len(m.Extra)+8)
	for k, v := range m.Extra {
		out[k] = v
	}
	putID := func(key string, v *int64) {
		if v != nil {
			out[key] = *v
		}
	}
	putStr := func(key string, v *string) {
		if v != nil {
			out[key] = *v
		}
	}
	putBool := func(key string, v *bool) {
		if v != nil {
			out[key] = *v
		}
	}
	putID(KeyID, m.ID)
	putID(KeyCategoryID, m.CategoryID)
	putID(KeySectionID, m.SectionID)
	putID(KeyAuthorID, m.AuthorID)
	putID(KeyUserSegmentID, m.UserSegmentID)
	putStr(KeyName, m.Name)
	putStr(KeyDescription, m.Description)
	putStr(KeyTitle, m.Title)
	putStr(KeyBody, m.Body)
	putStr(KeyGeneratedBody, m.GeneratedBody)
	putStr(KeyAuthor, m.Author)
	putStr(KeyVisibility, m.Visibility)
	putBool(KeyDraft, m.Draft)
	putBool(KeySynced, m.Synced)
	putStr(KeyFileName, m.FileName)
	putStr(KeyRelativePath, m.RelativePath)
	putStr(KeyContentURL, m.ContentURL)
	putStr(KeyMD5Hash, m.MD5Hash)
	if m.TranslateIDs != nil {
		ids := make([]any, len(m.TranslateIDs))
		for i, id := range m.TranslateIDs {
			ids[i] = id
		}
		out[KeyTranslateIDs] = ids
	}
	return out
}

// MetaFromMap splits a persisted or remote mapping into typed fields and
// passthrough extras. A key holding JSON null is treated as absent for
// typed fields.
func MetaFromMap(src map[string]any) (Meta, error) {
	var m Meta
	extra := make(map[string]any)
	for k, v := range src {
		var err error
		switch k {
		case KeyID:
			m.ID, err = toID(v)
		case KeyCategoryID:
			m.CategoryID, err = toID(v)
		case KeySectionID:
			m.SectionID, err = toID(v)
		case KeyAuthorID:
			m.AuthorID, err = toID(v)
		case KeyUserSegmentID:
			m.UserSegmentID, err = toID(v)
		case KeyName:
			m.Name, err = toStr(v)
		case KeyDescription:
			m.Description, err = toStr(v)
		case KeyTitle:
			m.Title, err = toStr(v)
		case KeyBody:
			m.Body, err = toStr(v)
		case KeyGeneratedBody:
			m.GeneratedBody, err = toStr(v)
		case KeyAuthor:
			m.Author, err = toStr(v)
		case KeyVisibility:
			m.Visibility, err = toStr(v)
		case KeyDraft:
			m.Draft, err = toBool(v)
		case KeySynced:
			m.Synced, err = toBool(v)
		case KeyFileName:
			m.FileName, err = toStr(v)
		case KeyRelativePath:
			m.RelativePath, err = toStr(v)
		case KeyContentURL:
			m.ContentURL, err = toStr(v)
		case KeyMD5Hash:
			m.MD5Hash, err = toStr(v)
		case KeyTranslateIDs:
			m.TranslateIDs, err = toStrings(v)
		default:
			extra[k] = v
		}
		if err != nil {
			return Meta{}, fmt.Errorf("meta key %q: %w", k, err)
		}
	}
	if len(extra) > 0 {
		m.Extra = extra
	}
	return m, nil
}

// MarshalJSON encodes the flattened mapping
func (m Meta) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.ToMap())
}

// UnmarshalJSON decodes a flattened mapping
func (m *Meta) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := MetaFromMap(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func toID(v any) (*int64, error) {
	switch n := v.(type) {
	case nil:
		return nil, nil
	case int:
		return Ptr(int64(n)), nil
	case int64:
		return Ptr(n), nil
	case uint64:
		return Ptr(int64(n)), nil
	case float64:
		return Ptr(int64(n)), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return nil, err
		}
		return Ptr(i), nil
	case string:
		if n == "" {
			return nil, nil
		}
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return nil, err
		}
		return Ptr(i), nil
	default:
		return nil, fmt.Errorf("unexpected id type %T", v)
	}
}

func toStr(v any) (*string, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		return Ptr(s), nil
	default:
		return Ptr(fmt.Sprint(v)), nil
	}
}

func toBool(v any) (*bool, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return Ptr(b), nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return nil, err
		}
		return Ptr(parsed), nil
	default:
		return nil, fmt.Errorf("unexpected bool type %T", v)
	}
}

func toStrings(v any) ([]string, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected list type %T", v)
	}
}
