package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/helpsync/internal/helpcenter"
	"github.com/schaermu/helpsync/internal/markup"
	"github.com/schaermu/helpsync/internal/model"
	"github.com/schaermu/helpsync/internal/store"
	"github.com/schaermu/helpsync/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStore(store.NewMemory(), store.FormatYAML, testLogger())
	require.NoError(t, err)
	return st
}

func writeFiles(t *testing.T, st *store.Store, files map[string]string) {
	t.Helper()
	for p, content := range files {
		require.NoError(t, st.FS().SaveText(p, content))
	}
}

func load(t *testing.T, st *store.Store) *model.Tree {
	t.Helper()
	tree, err := store.NewLoader(st).Load()
	require.NoError(t, err)
	return tree
}

func push(t *testing.T, fake *testutil.FakeHelpCenter, st *store.Store, opts PushOptions) *Report {
	t.Helper()
	report, err := NewPusher(fake, st, markup.New(), testLogger(), opts).Push(context.Background(), load(t, st))
	require.NoError(t, err)
	return report
}

func methods(calls []testutil.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Method
	}
	return out
}

func meta(t *testing.T, st *store.Store, p string) model.Meta {
	t.Helper()
	raw, err := st.FS().ReadStructured(p)
	require.NoError(t, err)
	m, err := model.MetaFromMap(raw)
	require.NoError(t, err)
	return m
}

// welcomeScenario is a new category, section and draft article referencing
// one new attachment
var welcomeScenario = map[string]string{
	"help/__group__.yml":                       "name: Help\ndescription: Help center\n",
	"help/basics/__group__.yml":                "name: Basics\n",
	"help/basics/welcome/__article__.yml":      "name: Welcome\nsynced: true\ndraft: true\n",
	"help/basics/welcome/README.md":            "# Welcome\n\n![logo](./attachments/logo.png)\n",
	"help/basics/welcome/attachments/logo.png": "PNG1",
}

func TestPushEndToEnd(t *testing.T) {
	st := newTestStore(t)
	writeFiles(t, st, welcomeScenario)
	fake := testutil.NewFakeHelpCenter()

	report := push(t, fake, st, PushOptions{})

	muts := fake.Mutations()
	require.Equal(t, []string{"Post", "Post", "PostAttachment", "Post"}, methods(muts))
	assert.Equal(t, model.KindCategory, muts[0].Kind)
	assert.Equal(t, model.KindSection, muts[1].Kind)
	assert.Equal(t, model.KindArticle, muts[3].Kind)
	assert.Equal(t, 3, report.Count(OpCreate))
	assert.Equal(t, 1, report.Count(OpUpload))

	category := meta(t, st, "help/.group.meta")
	section := meta(t, st, "help/basics/.group.meta")
	article := meta(t, st, "help/basics/welcome/.article.meta")
	logo := meta(t, st, "help/basics/welcome/attachments/.logo.png.meta")
	for _, m := range []model.Meta{category, section, article, logo} {
		assert.True(t, m.HasID())
	}
	assert.Equal(t, category.RemoteID(), model.ID(section.CategoryID))
	assert.NotEmpty(t, model.Str(logo.MD5Hash))

	body, ok := muts[3].Fields[model.KeyBody].(string)
	require.True(t, ok)
	assert.Contains(t, body, model.Str(logo.RelativePath))
	assert.NotContains(t, body, "./attachments/logo.png")
	assert.Equal(t, []int64{logo.RemoteID()}, muts[3].Fields["attachment_ids"])
	assert.Equal(t, body, model.Str(article.GeneratedBody))

	fake.Reset()
	report = push(t, fake, st, PushOptions{})
	assert.Empty(t, fake.Mutations())
	assert.False(t, report.Changed())
}

func TestPushCreatesEachNodeOnce(t *testing.T) {
	st := newTestStore(t)
	writeFiles(t, st, map[string]string{"help/__group__.yml": "name: Help\n"})
	fake := testutil.NewFakeHelpCenter()

	push(t, fake, st, PushOptions{})

	assert.Equal(t, 1, fake.Count("Post"))
	assert.True(t, meta(t, st, "help/.group.meta").HasID())
}

func TestPushReplacesChangedAttachment(t *testing.T) {
	st := newTestStore(t)
	writeFiles(t, st, welcomeScenario)
	fake := testutil.NewFakeHelpCenter()
	push(t, fake, st, PushOptions{})
	before := meta(t, st, "help/basics/welcome/attachments/.logo.png.meta")
	article := meta(t, st, "help/basics/welcome/.article.meta")

	writeFiles(t, st, map[string]string{"help/basics/welcome/attachments/logo.png": "PNG2"})
	fake.Reset()
	report := push(t, fake, st, PushOptions{})

	muts := fake.Mutations()
	require.GreaterOrEqual(t, len(muts), 2)
	assert.Equal(t, []string{"Delete", "PostAttachment"}, methods(muts[:2]))
	assert.Equal(t, before.RemoteID(), muts[0].ID)
	assert.Equal(t, article.RemoteID(), muts[1].Parent)
	assert.Equal(t, 0, fake.Count("Put"))

	after := meta(t, st, "help/basics/welcome/attachments/.logo.png.meta")
	assert.NotEqual(t, before.RemoteID(), after.RemoteID())
	assert.NotEqual(t, model.Str(before.MD5Hash), model.Str(after.MD5Hash))
	assert.Equal(t, 1, report.Count(OpDelete))

	// the body links to the new upload
	require.Equal(t, "PutTranslation", muts[2].Method)
	assert.Contains(t, muts[2].Fields[model.KeyBody], model.Str(after.RelativePath))

	fake.Reset()
	push(t, fake, st, PushOptions{})
	assert.Empty(t, fake.Mutations())
}

func TestPushSkipsUnsyncedArticle(t *testing.T) {
	st := newTestStore(t)
	fake := testutil.NewFakeHelpCenter()
	categoryID := fake.Seed(model.KindCategory, 0, helpcenter.Record{"name": "Help", "description": ""})
	sectionID := fake.Seed(model.KindSection, categoryID, helpcenter.Record{"name": "Basics", "description": ""})
	writeFiles(t, st, map[string]string{
		"help/__group__.yml":        "name: Help\n",
		"help/.group.meta":          groupMeta(categoryID, "Help", 0),
		"help/basics/__group__.yml": "name: Basics\n",
		"help/basics/.group.meta":   groupMeta(sectionID, "Basics", categoryID),

		"help/basics/draft/__article__.yml":         "name: Draft\nsynced: false\n",
		"help/basics/draft/README.md":               "changed ./attachments/a.png",
		"help/basics/draft/attachments/a.png":       "A",
		"help/basics/draft/attachments/.a.png.meta": `{"id": 5, "md5_hash": "stale"}`,
	})

	report := push(t, fake, st, PushOptions{})

	assert.Empty(t, fake.Mutations())
	for _, c := range fake.Calls() {
		assert.NotEqual(t, model.KindArticle, c.Kind, c.Method)
		assert.NotEqual(t, model.KindAttachment, c.Kind, c.Method)
	}
	exists, err := st.FS().Exists("help/basics/draft/.article.meta")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, 1, report.Count(OpSkip))
}

func groupMeta(id int64, name string, categoryID int64) string {
	if categoryID == 0 {
		return fmt.Sprintf(`{"id": %d, "name": %q, "description": ""}`, id, name)
	}
	return fmt.Sprintf(`{"id": %d, "name": %q, "description": "", "category_id": %d}`, id, name, categoryID)
}

func TestPushUpdatesChangedGroup(t *testing.T) {
	st := newTestStore(t)
	writeFiles(t, st, welcomeScenario)
	fake := testutil.NewFakeHelpCenter()
	push(t, fake, st, PushOptions{})

	writeFiles(t, st, map[string]string{"help/__group__.yml": "name: Help\ndescription: Everything you need\n"})
	fake.Reset()
	report := push(t, fake, st, PushOptions{})

	muts := fake.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, "PutTranslation", muts[0].Method)
	assert.Equal(t, model.KindCategory, muts[0].Kind)
	assert.Equal(t, helpcenter.Record{"title": "Help", "body": "Everything you need"}, muts[0].Fields)
	assert.Equal(t, []string{model.KeyDescription}, report.Actions[0].Fields)
	assert.Equal(t, "Everything you need", model.Str(meta(t, st, "help/.group.meta").Description))

	fake.Reset()
	push(t, fake, st, PushOptions{})
	assert.Empty(t, fake.Mutations())
}

func TestPushRepointsMovedSection(t *testing.T) {
	st := newTestStore(t)
	fake := testutil.NewFakeHelpCenter()
	oldID := fake.Seed(model.KindCategory, 0, helpcenter.Record{"name": "Old", "description": ""})
	newID := fake.Seed(model.KindCategory, 0, helpcenter.Record{"name": "New", "description": ""})
	sectionID := fake.Seed(model.KindSection, oldID, helpcenter.Record{"name": "Basics", "description": ""})
	writeFiles(t, st, map[string]string{
		"new/__group__.yml":        "name: New\n",
		"new/.group.meta":          groupMeta(newID, "New", 0),
		"new/basics/__group__.yml": "name: Basics\n",
		"new/basics/.group.meta":   groupMeta(sectionID, "Basics", oldID),
	})

	report := push(t, fake, st, PushOptions{})

	muts := fake.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, "Put", muts[0].Method)
	assert.Equal(t, sectionID, muts[0].ID)
	assert.Equal(t, helpcenter.Record{model.KeyCategoryID: newID}, muts[0].Fields)
	assert.Equal(t, 1, report.Count(OpRepoint))
	assert.Equal(t, newID, model.ID(meta(t, st, "new/basics/.group.meta").CategoryID))
}

func TestPushUpdatesArticleAttributes(t *testing.T) {
	st := newTestStore(t)
	writeFiles(t, st, welcomeScenario)
	fake := testutil.NewFakeHelpCenter()
	fake.AddUser(9, "jane@acme.io")
	fake.AddSegment(7, "Agents Only")
	push(t, fake, st, PushOptions{})

	writeFiles(t, st, map[string]string{
		"help/basics/welcome/__article__.yml": "name: Welcome\nsynced: true\ndraft: true\nauthor: jane@acme.io\nvisibility: agents-only\n",
	})
	fake.Reset()
	push(t, fake, st, PushOptions{})

	muts := fake.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, "Put", muts[0].Method)
	assert.Equal(t, helpcenter.Record{
		model.KeyAuthorID:      int64(9),
		model.KeyUserSegmentID: int64(7),
	}, muts[0].Fields)
	assert.Equal(t, 1, fake.Count("SearchUser"))

	m := meta(t, st, "help/basics/welcome/.article.meta")
	assert.Equal(t, "jane@acme.io", model.Str(m.Author))
	assert.Equal(t, "agents-only", model.Str(m.Visibility))

	fake.Reset()
	push(t, fake, st, PushOptions{})
	assert.Empty(t, fake.Mutations())
}

func TestPushUpdatesArticleTranslation(t *testing.T) {
	st := newTestStore(t)
	writeFiles(t, st, welcomeScenario)
	fake := testutil.NewFakeHelpCenter()
	push(t, fake, st, PushOptions{})

	writeFiles(t, st, map[string]string{
		"help/basics/welcome/__article__.yml": "name: Welcome aboard\nsynced: true\ndraft: false\n",
	})
	fake.Reset()
	push(t, fake, st, PushOptions{})

	muts := fake.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, "PutTranslation", muts[0].Method)
	assert.Equal(t, helpcenter.Record{
		model.KeyTitle: "Welcome aboard",
		model.KeyDraft: false,
	}, muts[0].Fields)

	fake.Reset()
	push(t, fake, st, PushOptions{})
	assert.Empty(t, fake.Mutations())
}

func TestPushUnknownVisibilityFails(t *testing.T) {
	st := newTestStore(t)
	writeFiles(t, st, welcomeScenario)
	writeFiles(t, st, map[string]string{
		"help/basics/welcome/__article__.yml": "name: Welcome\nvisibility: vip\n",
	})
	fake := testutil.NewFakeHelpCenter()

	_, err := NewPusher(fake, st, markup.New(), testLogger(), PushOptions{}).Push(context.Background(), load(t, st))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvedReference))
}

func TestPushTransientFailureLeavesMetaUntouched(t *testing.T) {
	st := newTestStore(t)
	writeFiles(t, st, welcomeScenario)
	fake := testutil.NewFakeHelpCenter()
	fake.FailOn("Post", &helpcenter.HTTPError{Method: "POST", URL: "categories.json", StatusCode: 503})

	report := push(t, fake, st, PushOptions{})

	assert.Equal(t, 1, fake.Count("Post"))
	assert.Equal(t, 0, fake.Count("PostAttachment"))
	assert.Equal(t, 1, report.Count(OpFail))
	exists, err := st.FS().Exists("help/.group.meta")
	require.NoError(t, err)
	assert.False(t, exists)

	fake.ClearFailures()
	fake.Reset()
	push(t, fake, st, PushOptions{})
	assert.Equal(t, []string{"Post", "Post", "PostAttachment", "Post"}, methods(fake.Mutations()))
}

func TestPushTransientReferenceLookup(t *testing.T) {
	unavailable := &helpcenter.HTTPError{Method: "GET", URL: "lookup", StatusCode: 503}

	tests := []struct {
		name       string
		failOn     string
		attributes string
	}{
		{
			name:       "permission groups",
			failOn:     "GetPermissionGroups",
			attributes: "name: Welcome\nsynced: true\n",
		},
		{
			name:       "user segments",
			failOn:     "GetUserSegments",
			attributes: "name: Welcome\nsynced: true\nvisibility: agents-only\n",
		},
		{
			name:       "user search",
			failOn:     "SearchUser",
			attributes: "name: Welcome\nsynced: true\nauthor: jane@acme.io\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newTestStore(t)
			writeFiles(t, st, welcomeScenario)
			writeFiles(t, st, map[string]string{"help/basics/welcome/__article__.yml": tt.attributes})
			fake := testutil.NewFakeHelpCenter()
			fake.AddUser(9, "jane@acme.io")
			fake.AddSegment(7, "Agents Only")
			fake.FailOn(tt.failOn, unavailable)

			report := push(t, fake, st, PushOptions{})

			// the article is left for the next run, without an orphaned upload
			assert.Equal(t, []string{"Post", "Post"}, methods(fake.Mutations()))
			assert.Equal(t, 1, report.Count(OpFail))
			for _, p := range []string{"help/basics/welcome/.article.meta", "help/basics/welcome/attachments/.logo.png.meta"} {
				exists, err := st.FS().Exists(p)
				require.NoError(t, err)
				assert.False(t, exists, p)
			}

			fake.ClearFailures()
			fake.Reset()
			push(t, fake, st, PushOptions{})
			assert.Equal(t, []string{"PostAttachment", "Post"}, methods(fake.Mutations()))
			assert.True(t, meta(t, st, "help/basics/welcome/.article.meta").HasID())
		})
	}
}

// idlessCreates answers create calls without an id
type idlessCreates struct {
	*testutil.FakeHelpCenter
}

func (c idlessCreates) Post(ctx context.Context, kind model.Kind, fields helpcenter.Record, parent *helpcenter.Ref) (helpcenter.Record, error) {
	rec, err := c.FakeHelpCenter.Post(ctx, kind, fields, parent)
	if err != nil {
		return nil, err
	}
	delete(rec, model.KeyID)
	return rec, nil
}

func TestPushCreateWithoutIDFails(t *testing.T) {
	st := newTestStore(t)
	writeFiles(t, st, map[string]string{"help/__group__.yml": "name: Help\n"})
	client := idlessCreates{testutil.NewFakeHelpCenter()}

	report, err := NewPusher(client, st, markup.New(), testLogger(), PushOptions{}).Push(context.Background(), load(t, st))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingID))
	assert.Zero(t, report.Count(OpCreate))
}

func TestPushDryRun(t *testing.T) {
	st := newTestStore(t)
	writeFiles(t, st, welcomeScenario)
	fake := testutil.NewFakeHelpCenter()

	report := push(t, fake, st, PushOptions{DryRun: true})

	assert.Empty(t, fake.Mutations())
	assert.True(t, report.DryRun)
	assert.Equal(t, 3, report.Count(OpCreate))
	assert.Equal(t, 1, report.Count(OpUpload))
	for _, p := range []string{"help/.group.meta", "help/basics/.group.meta", "help/basics/welcome/.article.meta"} {
		exists, err := st.FS().Exists(p)
		require.NoError(t, err)
		assert.False(t, exists, p)
	}
}

func TestFetch(t *testing.T) {
	fake := testutil.NewFakeHelpCenter()
	fake.AddUser(9, "jane@acme.io")
	fake.AddSegment(7, "Agents Only")
	categoryID := fake.Seed(model.KindCategory, 0, helpcenter.Record{"name": "Help Center", "description": "All help"})
	sectionID := fake.Seed(model.KindSection, categoryID, helpcenter.Record{"name": "Basics & FAQs!", "description": ""})
	first := fake.Seed(model.KindArticle, sectionID, helpcenter.Record{
		"title": "FAQ", "body": "<p>Hello <strong>world</strong></p>", "draft": false, "author_id": int64(9),
	})
	fake.Seed(model.KindArticle, sectionID, helpcenter.Record{
		"title": "FAQ", "body": nil, "draft": true, "author_id": int64(9), "user_segment_id": int64(7),
	})
	fake.Seed(model.KindAttachment, first, helpcenter.Record{"file_name": "logo.png", "relative_path": "/hc/a/logo.png"})

	tree, err := NewFetcher(fake, markup.New(), testLogger()).Fetch(context.Background())
	require.NoError(t, err)

	id, ok := tree.Find("help-center/basics-faqs/faq")
	require.True(t, ok)
	a := tree.Node(id)
	assert.False(t, a.Synced)
	assert.False(t, a.Draft)
	assert.Equal(t, "jane@acme.io", a.Author)
	assert.Equal(t, model.DefaultVisibility, a.Visibility)
	assert.Equal(t, "<p>Hello <strong>world</strong></p>", a.HTML)
	assert.Contains(t, a.Body, "**world**")
	assert.Equal(t, first, a.Meta.RemoteID())
	assert.False(t, model.Bool(a.Meta.Synced))

	_, ok = tree.Attachment(id, "logo.png")
	assert.True(t, ok)

	id, ok = tree.Find("help-center/basics-faqs/faq-2")
	require.True(t, ok)
	assert.Equal(t, "agents-only", tree.Node(id).Visibility)
	assert.Empty(t, tree.Node(id).Body)

	assert.Equal(t, 1, fake.Count("GetUser"))
	assert.Equal(t, 1, fake.Count("GetUserSegments"))
}

func TestFetchThenSaveThenPushIsQuiet(t *testing.T) {
	fake := testutil.NewFakeHelpCenter()
	categoryID := fake.Seed(model.KindCategory, 0, helpcenter.Record{"name": "Help", "description": ""})
	sectionID := fake.Seed(model.KindSection, categoryID, helpcenter.Record{"name": "Basics", "description": ""})
	fake.Seed(model.KindArticle, sectionID, helpcenter.Record{"title": "Welcome", "body": "<p>Hi</p>", "draft": true})

	tree, err := NewFetcher(fake, markup.New(), testLogger()).Fetch(context.Background())
	require.NoError(t, err)
	st := newTestStore(t)
	require.NoError(t, store.NewSaver(st, fake).Save(context.Background(), tree))

	fake.Reset()
	push(t, fake, st, PushOptions{})
	assert.Empty(t, fake.Mutations())
}

type docsRecorder struct {
	removed   []string
	relocated []string
}

func (d *docsRecorder) Remove(_ context.Context, tree *model.Tree, id model.NodeID) error {
	d.removed = append(d.removed, tree.Path(id))
	return nil
}

func (d *docsRecorder) Relocate(_ context.Context, tree *model.Tree, id model.NodeID) error {
	d.relocated = append(d.relocated, tree.Path(id))
	return nil
}

func TestMaintainerRemove(t *testing.T) {
	st := newTestStore(t)
	writeFiles(t, st, welcomeScenario)
	fake := testutil.NewFakeHelpCenter()
	push(t, fake, st, PushOptions{})
	sectionID := meta(t, st, "help/basics/.group.meta").RemoteID()
	articleID := meta(t, st, "help/basics/welcome/.article.meta").RemoteID()

	docs := &docsRecorder{}
	fake.Reset()
	require.NoError(t, NewMaintainer(fake, docs, st, testLogger()).Remove(context.Background(), "help/basics"))

	muts := fake.Mutations()
	require.Len(t, muts, 2)
	assert.Equal(t, articleID, muts[0].ID)
	assert.Equal(t, sectionID, muts[1].ID)
	assert.Equal(t, []string{"help/basics/welcome", "help/basics"}, docs.removed)

	exists, err := st.FS().Exists("help/basics")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = st.FS().Exists("help/__group__.yml")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMaintainerMoveArticle(t *testing.T) {
	st := newTestStore(t)
	writeFiles(t, st, welcomeScenario)
	writeFiles(t, st, map[string]string{"help/advanced/__group__.yml": "name: Advanced\n"})
	fake := testutil.NewFakeHelpCenter()
	push(t, fake, st, PushOptions{})
	advancedID := meta(t, st, "help/advanced/.group.meta").RemoteID()

	docs := &docsRecorder{}
	fake.Reset()
	m := NewMaintainer(fake, docs, st, testLogger())
	require.NoError(t, m.Move(context.Background(), "help/basics/welcome", "help/advanced"))

	muts := fake.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, helpcenter.Record{model.KeySectionID: advancedID}, muts[0].Fields)
	assert.Equal(t, []string{"help/advanced/welcome"}, docs.relocated)
	assert.Equal(t, advancedID, model.ID(meta(t, st, "help/advanced/welcome/.article.meta").SectionID))

	exists, err := st.FS().Exists("help/advanced/welcome/attachments/logo.png")
	require.NoError(t, err)
	assert.True(t, exists)

	fake.Reset()
	push(t, fake, st, PushOptions{})
	assert.Empty(t, fake.Mutations())

	err = m.Move(context.Background(), "help/advanced/welcome", "help")
	assert.Error(t, err)
}
