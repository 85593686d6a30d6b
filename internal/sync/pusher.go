// Package sync reconciles the local content tree with the remote help
// center.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/schaermu/helpsync/internal/helpcenter"
	"github.com/schaermu/helpsync/internal/model"
	"github.com/schaermu/helpsync/internal/store"
)

// ErrMissingID is returned when the remote service accepted a create but
// its response carried no id
var ErrMissingID = errors.New("create response without id")

// DefaultPermissionGroup is the slug of the permission group new articles
// are assigned to
const DefaultPermissionGroup = "agents-and-managers"

// PushOptions tunes a Pusher
type PushOptions struct {
	DryRun          bool
	DisableComments bool
	// PermissionGroup is the slug of the group allowed to edit new articles
	PermissionGroup string
}

// Pusher reconciles a loaded tree against the remote service, top-down, and
// writes remote-assigned metadata back to the store. Start a new Pusher for
// every run.
type Pusher struct {
	client helpcenter.Client
	store  *store.Store
	conv   model.Converter
	logger *slog.Logger
	opts   PushOptions
	refs   *references
	report *Report
}

// NewPusher creates a pusher
func NewPusher(client helpcenter.Client, st *store.Store, conv model.Converter, logger *slog.Logger, opts PushOptions) *Pusher {
	if opts.PermissionGroup == "" {
		opts.PermissionGroup = DefaultPermissionGroup
	}
	return &Pusher{
		client: client,
		store:  st,
		conv:   conv,
		logger: logger,
		opts:   opts,
		refs:   newReferences(client, logger),
	}
}

// Push walks the tree and creates or updates every node whose desired state
// differs from its meta. Transient remote failures leave the affected node
// untouched and are listed in the report; local I/O failures and
// unresolvable references abort the run.
func (p *Pusher) Push(ctx context.Context, tree *model.Tree) (*Report, error) {
	p.report = &Report{DryRun: p.opts.DryRun}
	p.logger.Info("starting push", "nodes", tree.Len(), "dry_run", p.opts.DryRun)

	if err := p.refs.load(ctx); err != nil {
		return p.report, err
	}

	for _, category := range tree.Categories() {
		if err := p.pushGroup(ctx, tree, category); err != nil {
			return p.report, err
		}
		if !p.ready(tree, category) {
			continue
		}
		for _, section := range tree.Children(category) {
			if err := p.pushGroup(ctx, tree, section); err != nil {
				return p.report, err
			}
			if !p.ready(tree, section) {
				continue
			}
			for _, article := range tree.Children(section) {
				if err := p.pushArticle(ctx, tree, article); err != nil {
					return p.report, err
				}
			}
		}
	}

	p.report.Log(p.logger)
	return p.report, nil
}

// ready reports whether the children of id can be reconciled
func (p *Pusher) ready(tree *model.Tree, id model.NodeID) bool {
	if p.opts.DryRun || tree.Node(id).Meta.HasID() {
		return true
	}
	p.logger.Warn("parent has no remote id, skipping its children", "path", tree.Path(id))
	return false
}

func (p *Pusher) pushGroup(ctx context.Context, tree *model.Tree, id model.NodeID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := tree.Node(id)
	p.logger.Info("pushing "+n.Kind.String(), "name", n.Name, "path", tree.Path(id))

	var err error
	if n.Meta.HasID() {
		err = p.updateGroup(ctx, tree, id)
	} else {
		err = p.createGroup(ctx, tree, id)
	}
	if err != nil {
		return err
	}
	if n.Kind == model.KindSection {
		return p.repointSection(ctx, tree, id)
	}
	return nil
}

func (p *Pusher) createGroup(ctx context.Context, tree *model.Tree, id model.NodeID) error {
	n := tree.Node(id)
	if p.opts.DryRun {
		p.report.add(OpCreate, n.Kind, tree.Path(id))
		return nil
	}
	rec, err := p.client.Post(ctx, n.Kind, tree.ToDict(id, ""), p.parentRef(tree, id))
	if err != nil {
		return p.remoteFailed(tree, id, OpCreate, err)
	}
	if err := p.saveMeta(tree, id, rec); err != nil {
		return err
	}
	if err := p.requireID(tree, id, OpCreate); err != nil {
		return err
	}
	p.report.add(OpCreate, n.Kind, tree.Path(id))
	p.logger.Info(n.Kind.String()+" created", "path", tree.Path(id), "id", n.Meta.RemoteID())
	return nil
}

func (p *Pusher) updateGroup(ctx context.Context, tree *model.Tree, id model.NodeID) error {
	n := tree.Node(id)
	changed := changedFields(tree.ToAttributes(id), model.Fields{
		model.KeyName:        model.Str(n.Meta.Name),
		model.KeyDescription: model.Str(n.Meta.Description),
	})
	if len(changed) == 0 {
		p.logger.Debug(n.Kind.String()+" unchanged", "path", tree.Path(id))
		return nil
	}
	p.logger.Debug("updating translation", "path", tree.Path(id), "fields", changed)
	if p.opts.DryRun {
		p.report.add(OpUpdate, n.Kind, tree.Path(id), changed...)
		return nil
	}

	translation := tree.ToTranslation(id, "")
	ref := p.ref(tree, id)
	if _, err := p.client.PutTranslation(ctx, ref, translation); err != nil {
		return p.remoteFailed(tree, id, OpUpdate, err)
	}
	rec, err := p.client.GetItem(ctx, ref)
	if err != nil {
		return p.remoteFailed(tree, id, OpUpdate, err)
	}
	if err := p.saveMeta(tree, id, rec, translation, tree.ToAttributes(id)); err != nil {
		return err
	}
	p.report.add(OpUpdate, n.Kind, tree.Path(id), changed...)
	return nil
}

// repointSection moves a section remotely when its category in the tree is
// not the one recorded in meta
func (p *Pusher) repointSection(ctx context.Context, tree *model.Tree, id model.NodeID) error {
	n := tree.Node(id)
	category := tree.Node(tree.Parent(id))
	if !n.Meta.HasID() || !category.Meta.HasID() {
		return nil
	}
	want := category.Meta.RemoteID()
	if n.Meta.CategoryID != nil && *n.Meta.CategoryID == want {
		return nil
	}
	p.logger.Info("updating category of section",
		"path", tree.Path(id),
		"from", model.ID(n.Meta.CategoryID),
		"to", want)
	if p.opts.DryRun {
		p.report.add(OpRepoint, n.Kind, tree.Path(id), model.KeyCategoryID)
		return nil
	}

	data := model.Fields{model.KeyCategoryID: want}
	rec, err := p.client.Put(ctx, p.ref(tree, id), data)
	if err != nil {
		return p.remoteFailed(tree, id, OpRepoint, err)
	}
	if err := p.saveMeta(tree, id, rec, data); err != nil {
		return err
	}
	p.report.add(OpRepoint, n.Kind, tree.Path(id), model.KeyCategoryID)
	return nil
}

func (p *Pusher) pushArticle(ctx context.Context, tree *model.Tree, id model.NodeID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := tree.Node(id)
	if !n.Synced {
		p.logger.Debug("skipping un-synced article", "path", tree.Path(id))
		p.report.add(OpSkip, n.Kind, tree.Path(id))
		return nil
	}
	p.logger.Info("pushing article", "name", n.Name, "path", tree.Path(id))

	if !n.Meta.HasID() {
		return p.createArticle(ctx, tree, id)
	}

	ref := p.ref(tree, id)
	attachmentsChanged, ok, err := p.pushAttachments(ctx, tree, id, &ref)
	if err != nil || !ok {
		return err
	}
	if err := p.updateTranslation(ctx, tree, id, attachmentsChanged); err != nil {
		return err
	}
	return p.updateAttributes(ctx, tree, id)
}

// createArticle resolves the article's references, then uploads the
// attachments unassociated so the body sent with the create call already
// links to their remote URLs
func (p *Pusher) createArticle(ctx context.Context, tree *model.Tree, id model.NodeID) error {
	n := tree.Node(id)
	fields := model.Fields{}

	segment, err := p.refs.segmentID(n.Visibility)
	if err != nil {
		return p.remoteFailed(tree, id, OpCreate, err)
	}
	fields[model.KeyUserSegmentID] = idValue(segment)
	group, err := p.refs.permissionGroupID(p.opts.PermissionGroup)
	if err != nil {
		return p.remoteFailed(tree, id, OpCreate, err)
	}
	fields["permission_group_id"] = group
	if n.Author != "" {
		author, err := p.refs.userID(ctx, n.Author)
		if err != nil {
			return p.remoteFailed(tree, id, OpCreate, err)
		}
		fields[model.KeyAuthorID] = author
	}

	if _, ok, err := p.pushAttachments(ctx, tree, id, nil); err != nil || !ok {
		return err
	}

	body, err := tree.GenerateBody(id, p.conv)
	if err != nil {
		return err
	}
	for k, v := range tree.ToDict(id, body) {
		fields[k] = v
	}
	fields["comments_disabled"] = p.opts.DisableComments
	section := tree.Node(tree.Parent(id))
	fields[model.KeySectionID] = section.Meta.RemoteID()
	var attachments []int64
	for _, att := range tree.Children(id) {
		if meta := tree.Node(att).Meta; meta.HasID() {
			attachments = append(attachments, meta.RemoteID())
		}
	}
	if len(attachments) > 0 {
		fields["attachment_ids"] = attachments
	}

	if p.opts.DryRun {
		p.report.add(OpCreate, n.Kind, tree.Path(id))
		return nil
	}
	rec, err := p.client.Post(ctx, model.KindArticle, fields, p.parentRef(tree, id))
	if err != nil {
		return p.remoteFailed(tree, id, OpCreate, err)
	}
	if err := p.saveMeta(tree, id,
		rec,
		tree.ToTranslation(id, body),
		model.Fields{model.KeyGeneratedBody: body},
		tree.ToAttributes(id),
	); err != nil {
		return err
	}
	if err := p.requireID(tree, id, OpCreate); err != nil {
		return err
	}
	p.report.add(OpCreate, n.Kind, tree.Path(id))
	p.logger.Info("article created", "path", tree.Path(id), "id", n.Meta.RemoteID())
	return nil
}

// pushAttachments uploads new attachments and replaces changed ones. A nil
// owner uploads them unassociated. ok is false when a remote call failed
// and the article must not be reconciled further in this run.
func (p *Pusher) pushAttachments(ctx context.Context, tree *model.Tree, article model.NodeID, owner *helpcenter.Ref) (changed, ok bool, err error) {
	for _, id := range tree.Children(article) {
		a := tree.Node(id)
		path := tree.Path(id)
		hash, err := p.store.FS().Hash(path)
		if err != nil {
			return false, false, err
		}

		if a.Meta.HasID() {
			if model.Str(a.Meta.MD5Hash) == hash {
				continue
			}
			// no in-place binary replace remotely, and the old copy must be
			// gone before the new one is linked
			p.logger.Info("attachment changed, replacing", "path", path)
			if !p.opts.DryRun {
				err := p.client.Delete(ctx, p.ref(tree, id))
				if err != nil && !errors.Is(err, helpcenter.ErrNotFound) {
					return false, false, p.remoteFailed(tree, id, OpDelete, err)
				}
			}
			p.report.add(OpDelete, a.Kind, path)
		}

		changed = true
		if p.opts.DryRun {
			p.report.add(OpUpload, a.Kind, path)
			continue
		}
		rec, err := p.upload(ctx, path, a.Filename, owner)
		if err != nil {
			return false, false, p.remoteFailed(tree, id, OpUpload, err)
		}
		if err := p.saveMeta(tree, id, rec, model.Fields{model.KeyMD5Hash: hash}); err != nil {
			return false, false, err
		}
		p.report.add(OpUpload, a.Kind, path)
		p.logger.Info("attachment uploaded", "path", path, "id", a.Meta.RemoteID())
	}
	return changed, true, nil
}

func (p *Pusher) upload(ctx context.Context, path, filename string, owner *helpcenter.Ref) (helpcenter.Record, error) {
	f, err := p.store.FS().Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return p.client.PostAttachment(ctx, owner, filename, f)
}

// updateTranslation pushes draft, title and generated body when any of them
// differs from meta, or when an attachment changed
func (p *Pusher) updateTranslation(ctx context.Context, tree *model.Tree, id model.NodeID, attachmentsChanged bool) error {
	n := tree.Node(id)
	body, err := tree.GenerateBody(id, p.conv)
	if err != nil {
		return err
	}

	data := model.Fields{}
	if n.Draft != model.Bool(n.Meta.Draft) {
		data[model.KeyDraft] = n.Draft
	}
	if n.Title() != model.Str(n.Meta.Title) {
		data[model.KeyTitle] = n.Title()
	}
	if attachmentsChanged || body != model.Str(n.Meta.GeneratedBody) {
		data[model.KeyBody] = body
	}
	if len(data) == 0 {
		return nil
	}
	changed := sortedKeys(data)
	p.logger.Info("updating article translation", "path", tree.Path(id), "fields", changed)
	if p.opts.DryRun {
		p.report.add(OpUpdate, n.Kind, tree.Path(id), changed...)
		return nil
	}

	ref := p.ref(tree, id)
	if _, err := p.client.PutTranslation(ctx, ref, data); err != nil {
		return p.remoteFailed(tree, id, OpUpdate, err)
	}
	rec, err := p.client.GetItem(ctx, ref)
	if err != nil {
		return p.remoteFailed(tree, id, OpUpdate, err)
	}
	if err := p.saveMeta(tree, id,
		rec,
		tree.ToTranslation(id, body),
		model.Fields{model.KeyGeneratedBody: body},
	); err != nil {
		return err
	}
	p.report.add(OpUpdate, n.Kind, tree.Path(id), changed...)
	return nil
}

// updateAttributes pushes section, author and visibility when they differ
// from meta
func (p *Pusher) updateAttributes(ctx context.Context, tree *model.Tree, id model.NodeID) error {
	n := tree.Node(id)
	data := model.Fields{}

	section := tree.Node(tree.Parent(id)).Meta.RemoteID()
	if n.Meta.SectionID == nil || *n.Meta.SectionID != section {
		data[model.KeySectionID] = section
	}
	if n.Author != "" && n.Author != model.Str(n.Meta.Author) {
		author, err := p.refs.userID(ctx, n.Author)
		if err != nil {
			return p.remoteFailed(tree, id, OpUpdate, err)
		}
		data[model.KeyAuthorID] = author
	}
	if n.Visibility != model.Str(n.Meta.Visibility) {
		segment, err := p.refs.segmentID(n.Visibility)
		if err != nil {
			return p.remoteFailed(tree, id, OpUpdate, err)
		}
		data[model.KeyUserSegmentID] = idValue(segment)
	}
	if len(data) == 0 {
		return nil
	}
	changed := sortedKeys(data)
	p.logger.Info("updating article attributes", "path", tree.Path(id), "fields", changed)
	if p.opts.DryRun {
		p.report.add(OpUpdate, n.Kind, tree.Path(id), changed...)
		return nil
	}

	rec, err := p.client.Put(ctx, p.ref(tree, id), data)
	if err != nil {
		return p.remoteFailed(tree, id, OpUpdate, err)
	}
	if err := p.saveMeta(tree, id, rec, tree.ToAttributes(id)); err != nil {
		return err
	}
	p.report.add(OpUpdate, n.Kind, tree.Path(id), changed...)
	return nil
}

func (p *Pusher) ref(tree *model.Tree, id model.NodeID) helpcenter.Ref {
	n := tree.Node(id)
	return helpcenter.Ref{Kind: n.Kind, ID: n.Meta.RemoteID()}
}

// parentRef returns nil for categories
func (p *Pusher) parentRef(tree *model.Tree, id model.NodeID) *helpcenter.Ref {
	parent := tree.Parent(id)
	if parent == model.NoParent {
		return nil
	}
	ref := p.ref(tree, parent)
	return &ref
}

func (p *Pusher) saveMeta(tree *model.Tree, id model.NodeID, parts ...map[string]any) error {
	merged := make(map[string]any)
	for _, part := range parts {
		for k, v := range part {
			merged[k] = v
		}
	}
	if err := p.store.SaveMeta(tree, id, merged); err != nil {
		return fmt.Errorf("failed to save meta of %s: %w", tree.Path(id), err)
	}
	return nil
}

// requireID fails when a create call succeeded without assigning an id, so
// the node is neither reported as created nor created again unnoticed
func (p *Pusher) requireID(tree *model.Tree, id model.NodeID, op string) error {
	n := tree.Node(id)
	if n.Meta.HasID() {
		return nil
	}
	return fmt.Errorf("failed to %s %s %s: %w", op, n.Kind, tree.Path(id), ErrMissingID)
}

// remoteFailed records a transient failure and returns nil so the run goes
// on with the next node. Any other error is returned wrapped.
func (p *Pusher) remoteFailed(tree *model.Tree, id model.NodeID, op string, err error) error {
	n := tree.Node(id)
	if errors.Is(err, helpcenter.ErrTransient) {
		p.logger.Warn("remote call failed, node left unchanged",
			"kind", n.Kind.String(),
			"path", tree.Path(id),
			"op", op,
			"error", err)
		p.report.add(OpFail, n.Kind, tree.Path(id), op)
		return nil
	}
	return fmt.Errorf("failed to %s %s %s: %w", op, n.Kind, tree.Path(id), err)
}

// idValue turns an optional id into a JSON-ready value
func idValue(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
