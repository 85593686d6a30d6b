package store

import (
	"fmt"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/schaermu/helpsync/internal/model"
)

// Loader rebuilds a content tree from the directory layout
type Loader struct {
	store *Store
}

// NewLoader creates a loader reading through s
func NewLoader(s *Store) *Loader {
	return &Loader{store: s}
}

// Load reads every category below the content root
func (l *Loader) Load() (*model.Tree, error) {
	tree := model.New()
	names, err := l.store.fs.ReadDirectories(Root)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if _, err := l.fillCategory(tree, name); err != nil {
			return nil, err
		}
	}
	l.store.logger.Debug("content loaded", "nodes", tree.Len())
	return tree, nil
}

// LoadPath reads the sub-tree rooted at p, which names a category, a section
// or an article relative to the content root. Ancestors of the target are
// loaded without their other children. The returned id addresses the
// target node.
func (l *Loader) LoadPath(p string) (*model.Tree, model.NodeID, error) {
	clean := path.Clean(strings.TrimSpace(p))
	parts := strings.Split(strings.Trim(clean, "/"), "/")
	if clean == Root || clean == "/" || len(parts) > 3 {
		return nil, model.NoParent, fmt.Errorf("path %q is not a category, section or article", p)
	}

	dir := path.Join(parts...)
	ok, err := l.store.fs.Exists(dir)
	if err != nil {
		return nil, model.NoParent, err
	}
	if !ok {
		return nil, model.NoParent, fmt.Errorf("path %q does not exist", p)
	}

	tree := model.New()
	switch len(parts) {
	case 1:
		id, err := l.fillCategory(tree, parts[0])
		return tree, id, err
	case 2:
		category, err := l.loadCategory(tree, parts[0])
		if err != nil {
			return nil, model.NoParent, err
		}
		id, err := l.fillSection(tree, category, parts[1])
		return tree, id, err
	default:
		category, err := l.loadCategory(tree, parts[0])
		if err != nil {
			return nil, model.NoParent, err
		}
		section, err := l.loadSection(tree, category, parts[1])
		if err != nil {
			return nil, model.NoParent, err
		}
		id, err := l.loadArticle(tree, section, parts[2])
		return tree, id, err
	}
}

func (l *Loader) fillCategory(tree *model.Tree, name string) (model.NodeID, error) {
	category, err := l.loadCategory(tree, name)
	if err != nil {
		return model.NoParent, err
	}
	sections, err := l.store.fs.ReadDirectories(tree.Path(category))
	if err != nil {
		return model.NoParent, err
	}
	for _, s := range sections {
		if _, err := l.fillSection(tree, category, s); err != nil {
			return model.NoParent, err
		}
	}
	return category, nil
}

func (l *Loader) fillSection(tree *model.Tree, category model.NodeID, name string) (model.NodeID, error) {
	section, err := l.loadSection(tree, category, name)
	if err != nil {
		return model.NoParent, err
	}
	articles, err := l.store.fs.ReadDirectories(tree.Path(section))
	if err != nil {
		return model.NoParent, err
	}
	for _, a := range articles {
		if _, err := l.loadArticle(tree, section, a); err != nil {
			return model.NoParent, err
		}
	}
	return section, nil
}

func (l *Loader) loadCategory(tree *model.Tree, name string) (model.NodeID, error) {
	attrs, meta, err := l.readGroup(name)
	if err != nil {
		return model.NoParent, err
	}
	id := tree.AddCategory(attrs.Name, attrs.Description, name)
	tree.Node(id).Meta = meta
	return id, nil
}

func (l *Loader) loadSection(tree *model.Tree, category model.NodeID, name string) (model.NodeID, error) {
	attrs, meta, err := l.readGroup(path.Join(tree.Path(category), name))
	if err != nil {
		return model.NoParent, err
	}
	id := tree.AddSection(category, attrs.Name, attrs.Description, name)
	tree.Node(id).Meta = meta
	return id, nil
}

func (l *Loader) readGroup(dir string) (model.GroupAttributes, model.Meta, error) {
	raw, err := l.readAttributes(dir, GroupAttributesBase, l.store.validator.group, model.Fields{
		model.KeyName: path.Base(dir),
	})
	if err != nil {
		return model.GroupAttributes{}, model.Meta{}, err
	}
	attrs, err := model.ParseGroupAttributes(raw)
	if err != nil {
		return model.GroupAttributes{}, model.Meta{}, fmt.Errorf("failed to load %s: %w", dir, err)
	}
	meta, err := l.readMeta(path.Join(dir, GroupMetaFile))
	if err != nil {
		return model.GroupAttributes{}, model.Meta{}, err
	}
	return attrs, meta, nil
}

func (l *Loader) loadArticle(tree *model.Tree, section model.NodeID, name string) (model.NodeID, error) {
	dir := path.Join(tree.Path(section), name)
	raw, err := l.readAttributes(dir, ArticleAttributesBase, l.store.validator.article, model.Fields{
		model.KeyName:   name,
		model.KeySynced: true,
		model.KeyDraft:  true,
	})
	if err != nil {
		return model.NoParent, err
	}
	body, err := l.store.fs.ReadText(path.Join(dir, BodyFile))
	if err != nil {
		return model.NoParent, err
	}
	html, err := l.store.fs.ReadText(path.Join(dir, HTMLFile))
	if err != nil {
		return model.NoParent, err
	}
	fields, err := model.ParseArticleAttributes(raw, name, body, html)
	if err != nil {
		return model.NoParent, fmt.Errorf("failed to load %s: %w", dir, err)
	}
	meta, err := l.readMeta(path.Join(dir, ArticleMetaFile))
	if err != nil {
		return model.NoParent, err
	}

	id := tree.AddArticle(section, fields)
	tree.Node(id).Meta = meta

	files, err := l.store.fs.ReadFiles(path.Join(dir, model.AttachmentsDir))
	if err != nil {
		return model.NoParent, err
	}
	for _, file := range files {
		att := tree.AddAttachment(id, file)
		meta, err := l.readMeta(metaPath(model.KindAttachment, tree.Path(att)))
		if err != nil {
			return model.NoParent, err
		}
		tree.Node(att).Meta = meta
	}
	return id, nil
}

// readAttributes returns the attributes of dir, or fallback when the node has
// no attributes file yet
func (l *Loader) readAttributes(dir, base string, schema *jsonschema.Schema, fallback model.Fields) (model.Fields, error) {
	p, ok, err := l.store.findAttributes(dir, base)
	if err != nil {
		return nil, err
	}
	if !ok {
		l.store.logger.Debug("no attributes file, using defaults", "path", dir)
		return fallback, nil
	}
	attrs, err := l.store.fs.ReadStructured(p)
	if err != nil {
		return nil, err
	}
	if err := l.store.validator.validate(schema, p, attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

func (l *Loader) readMeta(p string) (model.Meta, error) {
	raw, err := l.store.fs.ReadStructured(p)
	if err != nil {
		return model.Meta{}, err
	}
	meta, err := model.MetaFromMap(raw)
	if err != nil {
		return model.Meta{}, fmt.Errorf("failed to decode %s: %w", p, err)
	}
	return meta, nil
}
