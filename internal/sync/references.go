package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/schaermu/helpsync/internal/helpcenter"
	"github.com/schaermu/helpsync/internal/model"
)

// ErrUnresolvedReference is returned when an author, segment or permission
// group named locally does not exist remotely
var ErrUnresolvedReference = errors.New("unresolved reference")

// references resolves local names to remote ids. Lookups are cached for the
// lifetime of the owning Pusher.
type references struct {
	client helpcenter.Client
	logger *slog.Logger

	loaded           bool
	users            map[string]int64
	segments         map[string]*int64
	permissionGroups map[string]int64

	// transient failures of the bulk lookups, reported by every name that
	// could not be resolved because of them
	segmentsErr error
	groupsErr   error
}

func newReferences(client helpcenter.Client, logger *slog.Logger) *references {
	return &references{
		client:           client,
		logger:           logger,
		users:            make(map[string]int64),
		segments:         make(map[string]*int64),
		permissionGroups: make(map[string]int64),
	}
}

// load fetches segments and permission groups once. A transient failure
// leaves the mapping empty and is returned, wrapped, for every name that
// needs it.
func (r *references) load(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	segments, err := r.client.GetUserSegments(ctx)
	switch {
	case errors.Is(err, helpcenter.ErrTransient):
		r.segmentsErr = err
	case err != nil:
		return fmt.Errorf("failed to load user segments: %w", err)
	}
	for _, s := range segments {
		id, name, err := idAndName(s)
		if err != nil {
			return fmt.Errorf("failed to load user segments: %w", err)
		}
		r.segments[model.Slugify(name)] = model.Ptr(id)
	}
	r.segments[model.DefaultVisibility] = nil

	groups, err := r.client.GetPermissionGroups(ctx)
	switch {
	case errors.Is(err, helpcenter.ErrTransient):
		r.groupsErr = err
	case err != nil:
		return fmt.Errorf("failed to load permission groups: %w", err)
	}
	for _, g := range groups {
		id, name, err := idAndName(g)
		if err != nil {
			return fmt.Errorf("failed to load permission groups: %w", err)
		}
		r.permissionGroups[model.Slugify(name)] = id
	}
	r.loaded = true
	return nil
}

func (r *references) userID(ctx context.Context, email string) (int64, error) {
	if id, ok := r.users[email]; ok {
		return id, nil
	}
	user, err := r.client.SearchUser(ctx, helpcenter.UserSearchQuery(email))
	if errors.Is(err, helpcenter.ErrNotFound) {
		return 0, fmt.Errorf("%w: no user with email %q", ErrUnresolvedReference, email)
	}
	if err != nil {
		return 0, err
	}
	id, err := recordID(user)
	if err != nil {
		return 0, fmt.Errorf("%w: user %q: %v", ErrUnresolvedReference, email, err)
	}
	r.users[email] = id
	return id, nil
}

// segmentID returns nil for the unrestricted visibility
func (r *references) segmentID(visibility string) (*int64, error) {
	id, ok := r.segments[visibility]
	if !ok && r.segmentsErr != nil {
		return nil, fmt.Errorf("user segment %q: %w", visibility, r.segmentsErr)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no user segment %q", ErrUnresolvedReference, visibility)
	}
	return id, nil
}

func (r *references) permissionGroupID(name string) (int64, error) {
	id, ok := r.permissionGroups[name]
	if !ok && r.groupsErr != nil {
		return 0, fmt.Errorf("permission group %q: %w", name, r.groupsErr)
	}
	if !ok {
		return 0, fmt.Errorf("%w: no permission group %q", ErrUnresolvedReference, name)
	}
	return id, nil
}

func recordID(rec helpcenter.Record) (int64, error) {
	meta, err := model.MetaFromMap(helpcenter.Record{model.KeyID: rec[model.KeyID]})
	if err != nil {
		return 0, err
	}
	if !meta.HasID() {
		return 0, errors.New("record has no id")
	}
	return meta.RemoteID(), nil
}

func idAndName(rec helpcenter.Record) (int64, string, error) {
	id, err := recordID(rec)
	if err != nil {
		return 0, "", err
	}
	name, _ := rec[model.KeyName].(string)
	return id, name, nil
}
