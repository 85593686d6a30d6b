package translate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/helpsync/internal/model"
	"github.com/schaermu/helpsync/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHTTPClientCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/projects/secret/files", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "help/basics/welcome/README.md", r.FormValue("name"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "README.md", hdr.Filename)
		assert.Equal(t, "# Hi", string(data))
		_, _ = fmt.Fprint(w, "4242\n")
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/api", "secret", "en", testLogger())
	id, err := c.Create(context.Background(), "help/basics/welcome/README.md", strings.NewReader("# Hi"))
	require.NoError(t, err)
	assert.Equal(t, "4242", id)
}

func TestHTTPClientMoveAndDelete(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPut {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "help/advanced/welcome/README.md", r.FormValue("name"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret", "en", testLogger())
	require.NoError(t, c.Move(context.Background(), "7", "help/advanced/welcome/README.md", strings.NewReader("x")))
	require.NoError(t, c.Delete(context.Background(), "7"))

	assert.Equal(t, []string{
		"PUT /projects/secret/files/7/locales/en",
		"DELETE /projects/secret/files/7",
	}, seen)
}

func TestHTTPClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "wrong", "en", testLogger())
	err := c.Delete(context.Background(), "7")
	require.Error(t, err)
	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, http.StatusUnauthorized, svcErr.StatusCode)
	assert.Equal(t, "bad key", svcErr.Body)
}

func TestHTTPClientCreateWithoutID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "secret", "en", testLogger()).Create(context.Background(), "a", strings.NewReader("x"))
	assert.Error(t, err)
}

// mockClient records document operations
type mockClient struct {
	next    int
	docs    map[string]string
	created []string
	moved   []string
	deleted []string
	err     error
}

func newMockClient() *mockClient {
	return &mockClient{docs: make(map[string]string)}
}

func (m *mockClient) Create(_ context.Context, name string, r io.Reader) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.next++
	id := fmt.Sprint(m.next)
	m.docs[id] = string(data)
	m.created = append(m.created, name)
	return id, nil
}

func (m *mockClient) Move(_ context.Context, id, name string, _ io.Reader) error {
	m.moved = append(m.moved, id+" "+name)
	return m.err
}

func (m *mockClient) Delete(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return m.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStore(store.NewMemory(), store.FormatYAML, testLogger())
	require.NoError(t, err)
	for p, content := range map[string]string{
		"help/__group__.yml":                       "name: Help\n",
		"help/basics/welcome/__article__.yml":      "name: Welcome\n",
		"help/basics/welcome/README.md":            "# Hi\n",
		"help/basics/welcome/attachments/logo.png": "PNG",
	} {
		require.NoError(t, st.FS().SaveText(p, content))
	}
	return st
}

func load(t *testing.T, st *store.Store) *model.Tree {
	t.Helper()
	tree, err := store.NewLoader(st).Load()
	require.NoError(t, err)
	return tree
}

func TestUpload(t *testing.T) {
	st := newTestStore(t)
	client := newMockClient()
	tr := NewTranslator(client, st, testLogger())

	n, err := tr.Upload(context.Background(), load(t, st))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{
		"help/__group__.yml",
		"help/basics/__group__.yml",
		"help/basics/welcome/README.md",
		"help/basics/welcome/__article__.yml",
	}, client.created)
	assert.Equal(t, "# Hi\n", client.docs["3"])

	raw, err := st.FS().ReadStructured("help/basics/welcome/.article.meta")
	require.NoError(t, err)
	meta, err := model.MetaFromMap(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "4"}, meta.TranslateIDs)

	// documents are only created once
	n, err = tr.Upload(context.Background(), load(t, st))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, client.created, 4)
}

func TestUploadFailureKeepsMeta(t *testing.T) {
	st := newTestStore(t)
	client := newMockClient()
	client.err = &Error{Method: "POST", URL: "files", StatusCode: 500}

	_, err := NewTranslator(client, st, testLogger()).Upload(context.Background(), load(t, st))
	require.Error(t, err)
	exists, err := st.FS().Exists("help/.group.meta")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRemoveAndRelocate(t *testing.T) {
	st := newTestStore(t)
	client := newMockClient()
	tr := NewTranslator(client, st, testLogger())
	_, err := tr.Upload(context.Background(), load(t, st))
	require.NoError(t, err)

	tree := load(t, st)
	section, ok := tree.Find("help/basics")
	require.True(t, ok)
	require.NoError(t, tr.Relocate(context.Background(), tree, section))
	assert.Equal(t, []string{
		"2 help/basics/__group__.yml",
		"3 help/basics/welcome/README.md",
		"4 help/basics/welcome/__article__.yml",
	}, client.moved)

	article, ok := tree.Find("help/basics/welcome")
	require.True(t, ok)
	require.NoError(t, tr.Remove(context.Background(), tree, article))
	assert.Equal(t, []string{"3", "4"}, client.deleted)
}
