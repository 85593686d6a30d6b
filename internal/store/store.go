package store

import (
	"fmt"
	"log/slog"
	"path"

	"github.com/schaermu/helpsync/internal/model"
)

// File names of the per-node layout
const (
	GroupMetaFile       = ".group" + MetaSuffix
	GroupAttributesBase = "__group__"

	ArticleMetaFile       = ".article" + MetaSuffix
	ArticleAttributesBase = "__article__"

	BodyFile = "README.md"
	HTMLFile = "README.html"
)

// Store binds an FS to the on-disk layout of the content tree
type Store struct {
	fs        *FS
	format    string
	logger    *slog.Logger
	validator *validator
}

// NewStore creates a store writing attribute files in format (yml, toml or
// json)
func NewStore(fs *FS, format string, logger *slog.Logger) (*Store, error) {
	if format == "" {
		format = FormatYAML
	}
	if _, err := codecFor("x." + format); err != nil {
		return nil, fmt.Errorf("unsupported attributes format %q", format)
	}
	v, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to load attribute schemas: %w", err)
	}
	return &Store{
		fs:        fs,
		format:    format,
		logger:    logger,
		validator: v,
	}, nil
}

// FS returns the underlying filesystem client
func (s *Store) FS() *FS {
	return s.fs
}

// MetaPath returns the metadata file of a node
func (s *Store) MetaPath(tree *model.Tree, id model.NodeID) string {
	return metaPath(tree.Node(id).Kind, tree.Path(id))
}

// AttributesPath returns the attributes file written for a node. Attachments
// have none and yield "".
func (s *Store) AttributesPath(tree *model.Tree, id model.NodeID) string {
	n := tree.Node(id)
	switch n.Kind {
	case model.KindArticle:
		return path.Join(tree.Path(id), ArticleAttributesBase+"."+s.format)
	case model.KindAttachment:
		return ""
	default:
		return path.Join(tree.Path(id), GroupAttributesBase+"."+s.format)
	}
}

// BodyPath returns the markdown source of an article
func (s *Store) BodyPath(tree *model.Tree, article model.NodeID) string {
	return path.Join(tree.Path(article), BodyFile)
}

// HTMLPath returns the last known HTML of an article
func (s *Store) HTMLPath(tree *model.Tree, article model.NodeID) string {
	return path.Join(tree.Path(article), HTMLFile)
}

// SaveMeta merges fields into the node's metadata file and replaces the
// in-memory meta with the merged result
func (s *Store) SaveMeta(tree *model.Tree, id model.NodeID, fields map[string]any) error {
	p := s.MetaPath(tree, id)
	merged, err := s.fs.SaveStructured(p, fields)
	if err != nil {
		return err
	}
	meta, err := model.MetaFromMap(merged)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", p, err)
	}
	tree.Node(id).Meta = meta
	return nil
}

// SaveAttributes writes the node's attributes projection to its attributes
// file
func (s *Store) SaveAttributes(tree *model.Tree, id model.NodeID) error {
	p := s.AttributesPath(tree, id)
	if p == "" {
		return nil
	}
	_, err := s.fs.SaveStructured(p, tree.ToAttributes(id))
	return err
}

func metaPath(kind model.Kind, nodePath string) string {
	switch kind {
	case model.KindArticle:
		return path.Join(nodePath, ArticleMetaFile)
	case model.KindAttachment:
		dir, name := path.Split(nodePath)
		return path.Join(dir, "."+name+MetaSuffix)
	default:
		return path.Join(nodePath, GroupMetaFile)
	}
}

// findAttributes returns the first existing attributes file of dir, trying
// the configured format before the others
func (s *Store) findAttributes(dir, base string) (string, bool, error) {
	formats := append([]string{s.format}, AttributeFormats...)
	for _, ext := range formats {
		p := path.Join(dir, base+"."+ext)
		ok, err := s.fs.Exists(p)
		if err != nil {
			return "", false, err
		}
		if ok {
			return p, true, nil
		}
	}
	return path.Join(dir, base+"."+s.format), false, nil
}
