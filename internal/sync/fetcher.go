package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/schaermu/helpsync/internal/helpcenter"
	"github.com/schaermu/helpsync/internal/model"
)

// MarkdownConverter turns remote HTML into local markup
type MarkdownConverter interface {
	ToMarkdown(html string) (string, error)
}

// Fetcher builds a content tree from the remote hierarchy. Users and
// segments are resolved once per id for the lifetime of the Fetcher.
type Fetcher struct {
	client helpcenter.Client
	conv   MarkdownConverter
	logger *slog.Logger

	users    map[int64]string
	segments map[int64]string
	loaded   bool
}

// NewFetcher creates a fetcher
func NewFetcher(client helpcenter.Client, conv MarkdownConverter, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client:   client,
		conv:     conv,
		logger:   logger,
		users:    make(map[int64]string),
		segments: make(map[int64]string),
	}
}

// Fetch walks categories, sections, articles and attachments depth-first.
// Fetched articles are never synced until opted in locally.
func (f *Fetcher) Fetch(ctx context.Context) (*model.Tree, error) {
	if err := f.loadSegments(ctx); err != nil {
		return nil, err
	}

	tree := model.New()
	categories, err := f.items(ctx, model.KindCategory, nil)
	if err != nil {
		return nil, err
	}
	slugs := newSlugger()
	for _, rec := range categories {
		category, err := f.addGroup(tree, model.NoParent, rec, slugs)
		if err != nil {
			return nil, err
		}
		if err := f.fetchSections(ctx, tree, category); err != nil {
			return nil, err
		}
	}
	f.logger.Info("fetch complete", "nodes", tree.Len())
	return tree, nil
}

func (f *Fetcher) fetchSections(ctx context.Context, tree *model.Tree, category model.NodeID) error {
	sections, err := f.items(ctx, model.KindSection, ref(tree, category))
	if err != nil {
		return err
	}
	slugs := newSlugger()
	for _, rec := range sections {
		section, err := f.addGroup(tree, category, rec, slugs)
		if err != nil {
			return err
		}
		if err := f.fetchArticles(ctx, tree, section); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fetcher) fetchArticles(ctx context.Context, tree *model.Tree, section model.NodeID) error {
	articles, err := f.items(ctx, model.KindArticle, ref(tree, section))
	if err != nil {
		return err
	}
	slugs := newSlugger()
	for _, rec := range articles {
		article, err := f.addArticle(ctx, tree, section, rec, slugs)
		if err != nil {
			return err
		}
		attachments, err := f.items(ctx, model.KindAttachment, ref(tree, article))
		if err != nil {
			return err
		}
		for _, rec := range attachments {
			meta, err := model.MetaFromMap(rec)
			if err != nil {
				return fmt.Errorf("failed to decode attachment of %s: %w", tree.Path(article), err)
			}
			name := model.Str(meta.FileName)
			if name == "" {
				f.logger.Warn("skipping attachment without file name", "article", tree.Path(article))
				continue
			}
			id := tree.AddAttachment(article, name)
			tree.Node(id).Meta = meta
		}
	}
	return nil
}

func (f *Fetcher) addGroup(tree *model.Tree, parent model.NodeID, rec helpcenter.Record, slugs *slugger) (model.NodeID, error) {
	meta, err := model.MetaFromMap(rec)
	if err != nil {
		return model.NoParent, fmt.Errorf("failed to decode remote group: %w", err)
	}
	name := model.Str(meta.Name)
	filename := slugs.next(name)

	var id model.NodeID
	if parent == model.NoParent {
		id = tree.AddCategory(name, model.Str(meta.Description), filename)
	} else {
		id = tree.AddSection(parent, name, model.Str(meta.Description), filename)
	}
	tree.Node(id).Meta = meta
	f.logger.Info(tree.Node(id).Kind.String()+" fetched", "name", name, "path", tree.Path(id))
	return id, nil
}

func (f *Fetcher) addArticle(ctx context.Context, tree *model.Tree, section model.NodeID, rec helpcenter.Record, slugs *slugger) (model.NodeID, error) {
	meta, err := model.MetaFromMap(rec)
	if err != nil {
		return model.NoParent, fmt.Errorf("failed to decode remote article: %w", err)
	}
	title := model.Str(meta.Title)
	html := model.Str(meta.Body)
	body, err := f.conv.ToMarkdown(html)
	if err != nil {
		return model.NoParent, fmt.Errorf("failed to convert article %q: %w", title, err)
	}
	author, err := f.author(ctx, meta.AuthorID)
	if err != nil {
		return model.NoParent, err
	}

	id := tree.AddArticle(section, model.ArticleFields{
		Name:       title,
		Filename:   slugs.next(title),
		Body:       body,
		HTML:       html,
		Synced:     false,
		Draft:      model.Bool(meta.Draft),
		Author:     author,
		Visibility: f.visibility(meta.UserSegmentID),
	})

	// meta mirrors the attributes so an opted-in article only pushes what
	// changed locally
	merged := meta.ToMap()
	for k, v := range tree.ToAttributes(id) {
		merged[k] = v
	}
	if tree.Node(id).Meta, err = model.MetaFromMap(merged); err != nil {
		return model.NoParent, err
	}
	f.logger.Info("article fetched", "name", title, "path", tree.Path(id))
	return id, nil
}

// items lists remote children. A transient failure yields no items.
func (f *Fetcher) items(ctx context.Context, kind model.Kind, parent *helpcenter.Ref) ([]helpcenter.Record, error) {
	recs, err := f.client.GetItems(ctx, kind, parent)
	if errors.Is(err, helpcenter.ErrTransient) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", helpcenter.Collection(kind), err)
	}
	return recs, nil
}

func (f *Fetcher) loadSegments(ctx context.Context) error {
	if f.loaded {
		return nil
	}
	segments, err := f.client.GetUserSegments(ctx)
	if err != nil && !errors.Is(err, helpcenter.ErrTransient) {
		return fmt.Errorf("failed to load user segments: %w", err)
	}
	for _, s := range segments {
		id, name, err := idAndName(s)
		if err != nil {
			return fmt.Errorf("failed to load user segments: %w", err)
		}
		f.segments[id] = model.Slugify(name)
	}
	f.loaded = true
	return nil
}

func (f *Fetcher) visibility(segment *int64) string {
	if segment == nil {
		return model.DefaultVisibility
	}
	if name, ok := f.segments[*segment]; ok {
		return name
	}
	f.logger.Warn("unknown user segment", "id", *segment)
	return strconv.FormatInt(*segment, 10)
}

// author resolves a user id to an email. Users that cannot be resolved are
// cached as "" so they are only requested once.
func (f *Fetcher) author(ctx context.Context, id *int64) (string, error) {
	if id == nil {
		return "", nil
	}
	if email, ok := f.users[*id]; ok {
		return email, nil
	}
	user, err := f.client.GetUser(ctx, *id)
	switch {
	case errors.Is(err, helpcenter.ErrNotFound):
		f.logger.Warn("article author not found", "user_id", *id)
	case errors.Is(err, helpcenter.ErrTransient):
	case err != nil:
		return "", fmt.Errorf("failed to resolve user %d: %w", *id, err)
	}
	email, _ := user["email"].(string)
	f.users[*id] = email
	return email, nil
}

func ref(tree *model.Tree, id model.NodeID) *helpcenter.Ref {
	n := tree.Node(id)
	return &helpcenter.Ref{Kind: n.Kind, ID: n.Meta.RemoteID()}
}

// slugger hands out unique slugs among siblings
type slugger struct {
	seen map[string]int
}

func newSlugger() *slugger {
	return &slugger{seen: make(map[string]int)}
}

func (s *slugger) next(name string) string {
	slug := model.Slugify(name)
	if slug == "" {
		slug = "untitled"
	}
	s.seen[slug]++
	if n := s.seen[slug]; n > 1 {
		return slug + "-" + strconv.Itoa(n)
	}
	return slug
}
