package store

import (
	"fmt"

	"github.com/schaermu/helpsync/internal/model"
)

// Remove deletes the directory of a node and everything below it
func (s *Store) Remove(p string) error {
	if err := s.fs.RemoveAll(p); err != nil {
		return err
	}
	s.logger.Info("removed", "path", p)
	return nil
}

// Move renames the directory of a node
func (s *Store) Move(src, dst string) error {
	ok, err := s.fs.Exists(dst)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("destination %s already exists", dst)
	}
	if err := s.fs.Move(src, dst); err != nil {
		return err
	}
	s.logger.Info("moved", "from", src, "to", dst)
	return nil
}

// Doctor creates missing attributes files from the defaults the loader used
type Doctor struct {
	store *Store
}

// NewDoctor creates a doctor writing through s
func NewDoctor(s *Store) *Doctor {
	return &Doctor{store: s}
}

// Fix writes an attributes file for every category, section and article
// that has none and returns the created paths
func (d *Doctor) Fix(tree *model.Tree) ([]string, error) {
	var created []string
	err := tree.Walk(func(id model.NodeID) error {
		n := tree.Node(id)
		base := GroupAttributesBase
		switch n.Kind {
		case model.KindAttachment:
			return nil
		case model.KindArticle:
			base = ArticleAttributesBase
		}
		_, ok, err := d.store.findAttributes(tree.Path(id), base)
		if err != nil || ok {
			return err
		}
		if err := d.store.SaveAttributes(tree, id); err != nil {
			return err
		}
		p := d.store.AttributesPath(tree, id)
		d.store.logger.Info("missing attributes file created", "path", p)
		created = append(created, p)
		return nil
	})
	return created, err
}
