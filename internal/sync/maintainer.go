package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/schaermu/helpsync/internal/helpcenter"
	"github.com/schaermu/helpsync/internal/model"
	"github.com/schaermu/helpsync/internal/store"
)

// Documents keeps translation-service documents in step with removals and
// moves
type Documents interface {
	Remove(ctx context.Context, tree *model.Tree, id model.NodeID) error
	Relocate(ctx context.Context, tree *model.Tree, id model.NodeID) error
}

// Maintainer removes and moves nodes both remotely and locally
type Maintainer struct {
	client helpcenter.Client
	docs   Documents
	store  *store.Store
	loader *store.Loader
	logger *slog.Logger
}

// NewMaintainer creates a maintainer. docs may be nil when no translation
// service is configured.
func NewMaintainer(client helpcenter.Client, docs Documents, st *store.Store, logger *slog.Logger) *Maintainer {
	return &Maintainer{
		client: client,
		docs:   docs,
		store:  st,
		loader: store.NewLoader(st),
		logger: logger,
	}
}

// Remove deletes the category, section or article at p remotely, drops its
// translation documents and removes its directory. Children go first.
func (m *Maintainer) Remove(ctx context.Context, p string) error {
	tree, id, err := m.loader.LoadPath(p)
	if err != nil {
		return err
	}
	if err := m.removeNode(ctx, tree, id); err != nil {
		return err
	}
	return m.store.Remove(tree.Path(id))
}

func (m *Maintainer) removeNode(ctx context.Context, tree *model.Tree, id model.NodeID) error {
	n := tree.Node(id)
	if n.Kind == model.KindAttachment {
		return nil
	}
	for _, child := range tree.Children(id) {
		if err := m.removeNode(ctx, tree, child); err != nil {
			return err
		}
	}

	m.logger.Info("removing "+n.Kind.String(), "name", n.Name, "path", tree.Path(id))
	if n.Meta.HasID() {
		err := m.client.Delete(ctx, helpcenter.Ref{Kind: n.Kind, ID: n.Meta.RemoteID()})
		if err != nil && !errors.Is(err, helpcenter.ErrNotFound) {
			return fmt.Errorf("failed to delete %s %s: %w", n.Kind, tree.Path(id), err)
		}
	}
	if m.docs != nil {
		return m.docs.Remove(ctx, tree, id)
	}
	return nil
}

// Move puts the article at src into the section at dst, or the section at
// src into the category at dst
func (m *Maintainer) Move(ctx context.Context, src, dst string) error {
	srcTree, srcID, err := m.loader.LoadPath(src)
	if err != nil {
		return err
	}
	dstTree, dstID, err := m.loader.LoadPath(dst)
	if err != nil {
		return err
	}
	node := srcTree.Node(srcID)
	target := dstTree.Node(dstID)

	var key string
	switch {
	case node.Kind == model.KindArticle && target.Kind == model.KindSection:
		key = model.KeySectionID
	case node.Kind == model.KindSection && target.Kind == model.KindCategory:
		key = model.KeyCategoryID
	default:
		return fmt.Errorf("cannot move %s %s into %s %s", node.Kind, src, target.Kind, dst)
	}

	newPath := path.Join(dstTree.Path(dstID), node.Filename)
	m.logger.Info("moving "+node.Kind.String(), "from", srcTree.Path(srcID), "to", newPath)

	var rec helpcenter.Record
	if node.Meta.HasID() {
		if !target.Meta.HasID() {
			return fmt.Errorf("destination %s has no remote id, export it first", dst)
		}
		data := helpcenter.Record{key: target.Meta.RemoteID()}
		rec, err = m.client.Put(ctx, helpcenter.Ref{Kind: node.Kind, ID: node.Meta.RemoteID()}, data)
		if err != nil {
			return fmt.Errorf("failed to move %s %s: %w", node.Kind, src, err)
		}
		if rec == nil {
			rec = helpcenter.Record{}
		}
		rec[key] = data[key]
	}

	if err := m.store.Move(srcTree.Path(srcID), newPath); err != nil {
		return err
	}

	movedTree, movedID, err := m.loader.LoadPath(newPath)
	if err != nil {
		return err
	}
	if rec != nil {
		if err := m.store.SaveMeta(movedTree, movedID, rec); err != nil {
			return err
		}
	}
	if m.docs != nil {
		return m.docs.Relocate(ctx, movedTree, movedID)
	}
	return nil
}
