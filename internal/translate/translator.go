package translate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/schaermu/helpsync/internal/model"
	"github.com/schaermu/helpsync/internal/store"
)

// Translator keeps the translation project in step with the content tree.
// Every category and section owns one document, its attributes file. Every
// article owns two, its body and its attributes file, in that order. The
// document ids are kept in meta.
type Translator struct {
	client Client
	store  *store.Store
	logger *slog.Logger
}

// NewTranslator creates a translator
func NewTranslator(client Client, st *store.Store, logger *slog.Logger) *Translator {
	return &Translator{client: client, store: st, logger: logger}
}

// Upload creates documents for every node that has none yet and returns
// how many nodes were uploaded
func (t *Translator) Upload(ctx context.Context, tree *model.Tree) (int, error) {
	uploaded := 0
	err := tree.Walk(func(id model.NodeID) error {
		n := tree.Node(id)
		if n.Kind == model.KindAttachment || len(n.Meta.TranslateIDs) > 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.ensureDocuments(tree, id); err != nil {
			return err
		}

		var ids []string
		for _, doc := range t.documents(tree, id) {
			docID, err := t.create(ctx, doc)
			if err != nil {
				return err
			}
			ids = append(ids, docID)
		}
		if err := t.store.SaveMeta(tree, id, map[string]any{model.KeyTranslateIDs: ids}); err != nil {
			return err
		}
		t.logger.Info("uploaded for translation", "path", tree.Path(id), "documents", len(ids))
		uploaded++
		return nil
	})
	return uploaded, err
}

// Remove deletes the documents of a single node
func (t *Translator) Remove(ctx context.Context, tree *model.Tree, id model.NodeID) error {
	for _, docID := range tree.Node(id).Meta.TranslateIDs {
		if err := t.client.Delete(ctx, docID); err != nil {
			return fmt.Errorf("failed to delete translation document %s of %s: %w", docID, tree.Path(id), err)
		}
	}
	return nil
}

// Relocate re-registers the documents of id, and of all articles below it,
// under their current paths
func (t *Translator) Relocate(ctx context.Context, tree *model.Tree, id model.NodeID) error {
	return t.walk(tree, id, func(nid model.NodeID) error {
		ids := tree.Node(nid).Meta.TranslateIDs
		for i, doc := range t.documents(tree, nid) {
			if i >= len(ids) {
				break
			}
			if err := t.move(ctx, ids[i], doc); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *Translator) walk(tree *model.Tree, id model.NodeID, fn func(model.NodeID) error) error {
	if tree.Node(id).Kind == model.KindAttachment {
		return nil
	}
	if err := fn(id); err != nil {
		return err
	}
	for _, child := range tree.Children(id) {
		if err := t.walk(tree, child, fn); err != nil {
			return err
		}
	}
	return nil
}

func (t *Translator) documents(tree *model.Tree, id model.NodeID) []string {
	if tree.Node(id).Kind == model.KindArticle {
		return []string{t.store.BodyPath(tree, id), t.store.AttributesPath(tree, id)}
	}
	return []string{t.store.AttributesPath(tree, id)}
}

// ensureDocuments writes the files of nodes loaded from defaults
func (t *Translator) ensureDocuments(tree *model.Tree, id model.NodeID) error {
	ok, err := t.store.FS().Exists(t.store.AttributesPath(tree, id))
	if err != nil {
		return err
	}
	if !ok {
		if err := t.store.SaveAttributes(tree, id); err != nil {
			return err
		}
	}
	if tree.Node(id).Kind != model.KindArticle {
		return nil
	}
	body := t.store.BodyPath(tree, id)
	if ok, err = t.store.FS().Exists(body); err != nil || ok {
		return err
	}
	return t.store.FS().SaveText(body, tree.Node(id).Body)
}

func (t *Translator) create(ctx context.Context, doc string) (string, error) {
	f, err := t.store.FS().Open(doc)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()
	id, err := t.client.Create(ctx, doc, f)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s for translation: %w", doc, err)
	}
	return id, nil
}

func (t *Translator) move(ctx context.Context, docID, doc string) error {
	f, err := t.store.FS().Open(doc)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	if err := t.client.Move(ctx, docID, doc, f); err != nil {
		return fmt.Errorf("failed to move translation document %s to %s: %w", docID, doc, err)
	}
	t.logger.Info("translation document moved", "id", docID, "path", doc)
	return nil
}
