package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/schaermu/helpsync/internal/helpcenter"
	"github.com/schaermu/helpsync/internal/model"
)

// Downloader fetches attachment binaries by their remote relative path
type Downloader interface {
	GetAttachment(ctx context.Context, relativePath string, w io.Writer) error
}

// Saver writes a content tree to the directory layout
type Saver struct {
	store  *Store
	remote Downloader
}

// NewSaver creates a saver writing through s and downloading attachment
// binaries from remote
func NewSaver(s *Store, remote Downloader) *Saver {
	return &Saver{store: s, remote: remote}
}

// Save writes every node top-down: meta and attributes for all nodes, body
// and HTML for articles, the binary and its hash for attachments
func (s *Saver) Save(ctx context.Context, tree *model.Tree) error {
	return tree.Walk(func(id model.NodeID) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := tree.Node(id)
		if err := s.store.SaveMeta(tree, id, n.Meta.ToMap()); err != nil {
			return err
		}

		switch n.Kind {
		case model.KindArticle:
			if err := s.store.SaveAttributes(tree, id); err != nil {
				return err
			}
			if err := s.store.fs.SaveText(s.store.BodyPath(tree, id), n.Body); err != nil {
				return err
			}
			if err := s.store.fs.SaveText(s.store.HTMLPath(tree, id), n.HTML); err != nil {
				return err
			}
		case model.KindAttachment:
			if err := s.saveAttachment(ctx, tree, id); err != nil {
				return err
			}
		default:
			if err := s.store.SaveAttributes(tree, id); err != nil {
				return err
			}
		}

		s.store.logger.Info(n.Kind.String()+" saved", "name", n.Name, "path", tree.Path(id))
		return nil
	})
}

func (s *Saver) saveAttachment(ctx context.Context, tree *model.Tree, id model.NodeID) error {
	n := tree.Node(id)
	rel := model.Str(n.Meta.RelativePath)
	if rel == "" {
		s.store.logger.Warn("attachment has no download path", "path", tree.Path(id))
		return nil
	}

	p := tree.Path(id)
	w, err := s.store.fs.Create(p)
	if err != nil {
		return err
	}
	err = s.remote.GetAttachment(ctx, rel, w)
	if cerr := w.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close %s: %w", p, cerr)
	}
	if err != nil {
		if errors.Is(err, helpcenter.ErrTransient) {
			// leave no partial binary behind; the next import retries
			_ = s.store.fs.Remove(p)
			s.store.logger.Warn("attachment download failed", "path", p, "error", err)
			return nil
		}
		return fmt.Errorf("failed to download %s: %w", p, err)
	}

	hash, err := s.store.fs.Hash(p)
	if err != nil {
		return err
	}
	return s.store.SaveMeta(tree, id, map[string]any{model.KeyMD5Hash: hash})
}
