package model

import (
	"fmt"
	"path"
)

// Kind tags a node in the content tree
type Kind int

const (
	KindCategory Kind = iota
	KindSection
	KindArticle
	KindAttachment
)

// String returns the remote singular resource name for the kind
func (k Kind) String() string {
	switch k {
	case KindCategory:
		return "category"
	case KindSection:
		return "section"
	case KindArticle:
		return "article"
	case KindAttachment:
		return "attachment"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsGroup reports whether the kind is a category or a section
func (k Kind) IsGroup() bool {
	return k == KindCategory || k == KindSection
}

// DefaultVisibility is the audience segment meaning "no restriction"
const DefaultVisibility = "all"

// AttachmentsDir is the article subdirectory holding attachment binaries
const AttachmentsDir = "attachments"

// NodeID addresses a node inside a Tree
type NodeID int

// NoParent is the parent of every category
const NoParent NodeID = -1

// Node is a single entry of the content tree. Group fields (Description)
// and article fields (Body, HTML, Synced, ...) are only meaningful for the
// matching Kind.
type Node struct {
	Kind     Kind
	Name     string
	Filename string
	Parent   NodeID
	Children []NodeID
	Meta     Meta

	Description string

	Body       string
	HTML       string
	Synced     bool
	Draft      bool
	Author     string
	Visibility string

	attachments map[string]NodeID
}

// Title is the article title, identical to its name
func (n *Node) Title() string {
	return n.Name
}

// Tree stores categories, sections, articles and attachments in a single
// arena. Pointers returned by Node stay valid until the next Add call.
type Tree struct {
	nodes      []Node
	categories []NodeID
}

// New creates an empty tree
func New() *Tree {
	return &Tree{}
}

// Len returns the number of nodes in the tree
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Node returns the node stored under id
func (t *Tree) Node(id NodeID) *Node {
	return &t.nodes[id]
}

// Categories returns the root nodes in insertion order
func (t *Tree) Categories() []NodeID {
	return t.categories
}

// Children returns the ordered children of id. For articles these are the
// attachments.
func (t *Tree) Children(id NodeID) []NodeID {
	return t.nodes[id].Children
}

// Parent returns the parent of id, or NoParent for categories
func (t *Tree) Parent(id NodeID) NodeID {
	return t.nodes[id].Parent
}

// AddCategory appends a new category root
func (t *Tree) AddCategory(name, description, filename string) NodeID {
	id := t.add(Node{
		Kind:        KindCategory,
		Name:        name,
		Filename:    filename,
		Parent:      NoParent,
		Description: description,
	})
	t.categories = append(t.categories, id)
	return id
}

// AddSection appends a new section to a category
func (t *Tree) AddSection(category NodeID, name, description, filename string) NodeID {
	t.mustBe(category, KindCategory)
	return t.addChild(category, Node{
		Kind:        KindSection,
		Name:        name,
		Filename:    filename,
		Description: description,
	})
}

// ArticleFields are the desired-state fields of a new article
type ArticleFields struct {
	Name       string
	Filename   string
	Body       string
	HTML       string
	Synced     bool
	Draft      bool
	Author     string
	Visibility string
}

// AddArticle appends a new article to a section
func (t *Tree) AddArticle(section NodeID, f ArticleFields) NodeID {
	t.mustBe(section, KindSection)
	visibility := f.Visibility
	if visibility == "" {
		visibility = DefaultVisibility
	}
	return t.addChild(section, Node{
		Kind:        KindArticle,
		Name:        f.Name,
		Filename:    f.Filename,
		Body:        f.Body,
		HTML:        f.HTML,
		Synced:      f.Synced,
		Draft:       f.Draft,
		Author:      f.Author,
		Visibility:  visibility,
		attachments: make(map[string]NodeID),
	})
}

// AddAttachment registers filename under article. Adding a filename that is
// already present returns the existing node.
func (t *Tree) AddAttachment(article NodeID, filename string) NodeID {
	t.mustBe(article, KindArticle)
	if id, ok := t.nodes[article].attachments[filename]; ok {
		return id
	}
	id := t.addChild(article, Node{
		Kind:     KindAttachment,
		Name:     filename,
		Filename: filename,
	})
	t.nodes[article].attachments[filename] = id
	return id
}

// Attachment looks up an attachment of article by filename
func (t *Tree) Attachment(article NodeID, filename string) (NodeID, bool) {
	id, ok := t.nodes[article].attachments[filename]
	return id, ok
}

// Ancestor walks up from id until it reaches a node of the given kind
func (t *Tree) Ancestor(id NodeID, kind Kind) (NodeID, bool) {
	for cur := t.nodes[id].Parent; cur != NoParent; cur = t.nodes[cur].Parent {
		if t.nodes[cur].Kind == kind {
			return cur, true
		}
	}
	return NoParent, false
}

// Path derives the content-root relative path of a node from its position
func (t *Tree) Path(id NodeID) string {
	n := &t.nodes[id]
	switch n.Kind {
	case KindCategory:
		return n.Filename
	case KindAttachment:
		return path.Join(t.Path(n.Parent), AttachmentsDir, n.Filename)
	default:
		return path.Join(t.Path(n.Parent), n.Filename)
	}
}

// Walk visits every node top-down, parents before their children, in
// insertion order. Returning an error stops the walk.
func (t *Tree) Walk(fn func(id NodeID) error) error {
	var visit func(id NodeID) error
	visit = func(id NodeID) error {
		if err := fn(id); err != nil {
			return err
		}
		for _, child := range t.nodes[id].Children {
			if err := visit(child); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range t.categories {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the node whose derived path equals p
func (t *Tree) Find(p string) (NodeID, bool) {
	for i := range t.nodes {
		if t.Path(NodeID(i)) == p {
			return NodeID(i), true
		}
	}
	return NoParent, false
}

func (t *Tree) add(n Node) NodeID {
	t.nodes = append(t.nodes, n)
	return NodeID(len(t.nodes) - 1)
}

func (t *Tree) addChild(parent NodeID, n Node) NodeID {
	n.Parent = parent
	id := t.add(n)
	t.nodes[parent].Children = append(t.nodes[parent].Children, id)
	return id
}

func (t *Tree) mustBe(id NodeID, kind Kind) {
	if got := t.nodes[id].Kind; got != kind {
		panic(fmt.Sprintf("model: node %d is a %s, want %s", id, got, kind))
	}
}
