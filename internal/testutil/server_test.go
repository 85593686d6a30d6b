package testutil

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/helpsync/internal/helpcenter"
	"github.com/schaermu/helpsync/internal/model"
)

func newTestClient(t *testing.T, f *FakeHelpCenter) *helpcenter.HTTPClient {
	t.Helper()
	srv := NewServer(f)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	c, err := helpcenter.NewHTTPClient(context.Background(), helpcenter.Options{
		BaseURL: srv.URL, PublicURL: srv.URL, User: "agent@acme.io", Token: "t",
	}, logger)
	require.NoError(t, err)
	return c
}

func TestServerItems(t *testing.T) {
	f := NewFakeHelpCenter()
	c := newTestClient(t, f)
	ctx := context.Background()

	cat, err := c.Post(ctx, model.KindCategory, helpcenter.Record{"name": "Help"}, nil)
	require.NoError(t, err)
	catMeta, err := model.MetaFromMap(cat)
	require.NoError(t, err)
	catRef := helpcenter.Ref{Kind: model.KindCategory, ID: catMeta.RemoteID()}

	_, err = c.Post(ctx, model.KindSection, helpcenter.Record{"name": "Basics"}, &catRef)
	require.NoError(t, err)
	sections, err := c.GetItems(ctx, model.KindSection, &catRef)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Basics", sections[0]["name"])

	_, err = c.PutTranslation(ctx, catRef, helpcenter.Record{"title": "Support"})
	require.NoError(t, err)
	rec, ok := f.Item(catRef.ID)
	require.True(t, ok)
	assert.Equal(t, "Support", rec["name"])

	require.NoError(t, c.Delete(ctx, catRef))
	_, err = c.GetItem(ctx, catRef)
	assert.ErrorIs(t, err, helpcenter.ErrNotFound)
}

func TestServerAttachments(t *testing.T) {
	f := NewFakeHelpCenter()
	c := newTestClient(t, f)
	ctx := context.Background()

	att, err := c.PostAttachment(ctx, nil, "logo.png", strings.NewReader("PNG"))
	require.NoError(t, err)
	attMeta, err := model.MetaFromMap(att)
	require.NoError(t, err)

	article, err := c.Post(ctx, model.KindArticle, helpcenter.Record{
		"title":          "Welcome",
		"attachment_ids": []int64{attMeta.RemoteID()},
	}, nil)
	require.NoError(t, err)
	articleMeta, err := model.MetaFromMap(article)
	require.NoError(t, err)

	listed, err := c.GetItems(ctx, model.KindAttachment, &helpcenter.Ref{Kind: model.KindArticle, ID: articleMeta.RemoteID()})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	var buf bytes.Buffer
	require.NoError(t, c.GetAttachment(ctx, listed[0]["relative_path"].(string), &buf))
	assert.Equal(t, "PNG", buf.String())
}

func TestServerUsers(t *testing.T) {
	f := NewFakeHelpCenter()
	f.AddUser(9, "jane@acme.io")
	f.AddSegment(7, "Agents Only")
	c := newTestClient(t, f)
	ctx := context.Background()

	user, err := c.SearchUser(ctx, helpcenter.UserSearchQuery("jane@acme.io"))
	require.NoError(t, err)
	assert.Equal(t, "jane@acme.io", user["email"])

	_, err = c.SearchUser(ctx, helpcenter.UserSearchQuery("nobody@acme.io"))
	assert.ErrorIs(t, err, helpcenter.ErrNotFound)

	segments, err := c.GetUserSegments(ctx)
	require.NoError(t, err)
	assert.Len(t, segments, 1)

	groups, err := c.GetPermissionGroups(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}
