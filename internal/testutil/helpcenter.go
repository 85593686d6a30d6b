// Package testutil provides test doubles shared across packages.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"sync"

	"github.com/schaermu/helpsync/internal/helpcenter"
	"github.com/schaermu/helpsync/internal/model"
)

// Call records one invocation of the fake
type Call struct {
	Method string
	Kind   model.Kind
	ID     int64
	Parent int64
	Fields helpcenter.Record
}

// Mutating methods of helpcenter.Client
var mutating = map[string]bool{
	"Put":            true,
	"PutTranslation": true,
	"Post":           true,
	"PostAttachment": true,
	"Delete":         true,
}

type item struct {
	kind   model.Kind
	parent int64
	rec    helpcenter.Record
}

// FakeHelpCenter is an in-memory helpcenter.Client that records every call
// in order
type FakeHelpCenter struct {
	mu       sync.Mutex
	nextID   int64
	items    map[int64]*item
	order    []int64
	blobs    map[string][]byte
	users    []helpcenter.Record
	segments []helpcenter.Record
	groups   []helpcenter.Record
	failures map[string]error
	calls    []Call
}

var _ helpcenter.Client = (*FakeHelpCenter)(nil)

// NewFakeHelpCenter creates an empty fake with the permission group new
// articles are assigned to
func NewFakeHelpCenter() *FakeHelpCenter {
	f := &FakeHelpCenter{
		nextID:   100,
		items:    make(map[int64]*item),
		blobs:    make(map[string][]byte),
		failures: make(map[string]error),
	}
	f.AddPermissionGroup(1, "Agents and managers")
	return f
}

// AddUser registers a user resolvable by id and by email search
func (f *FakeHelpCenter) AddUser(id int64, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, helpcenter.Record{"id": id, "email": email})
}

// AddSegment registers a user segment
func (f *FakeHelpCenter) AddSegment(id int64, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments = append(f.segments, helpcenter.Record{"id": id, "name": name})
}

// AddPermissionGroup registers a permission group
func (f *FakeHelpCenter) AddPermissionGroup(id int64, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, helpcenter.Record{"id": id, "name": name})
}

// Seed stores a remote item without recording a call and returns its id
func (f *FakeHelpCenter) Seed(kind model.Kind, parent int64, rec helpcenter.Record) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store(kind, parent, rec)
}

// SeedBlob stores binary content served under relativePath
func (f *FakeHelpCenter) SeedBlob(relativePath string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[relativePath] = data
}

// FailOn makes every later call of method return err
func (f *FakeHelpCenter) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = err
}

// ClearFailures removes all injected failures
func (f *FakeHelpCenter) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[string]error)
}

// Calls returns every recorded call in order
func (f *FakeHelpCenter) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Mutations returns the recorded mutating calls in order
func (f *FakeHelpCenter) Mutations() []Call {
	var out []Call
	for _, c := range f.Calls() {
		if mutating[c.Method] {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how often method was called
func (f *FakeHelpCenter) Count(method string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls but keeps the remote state
func (f *FakeHelpCenter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Item returns a copy of a stored remote item
func (f *FakeHelpCenter) Item(id int64) (helpcenter.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return nil, false
	}
	return clone(it.rec), true
}

// Blob returns the binary stored for an attachment id
func (f *FakeHelpCenter) Blob(id int64) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return nil, false
	}
	data, ok := f.blobs[fmt.Sprint(it.rec["relative_path"])]
	return data, ok
}

func (f *FakeHelpCenter) record(c Call) error {
	f.calls = append(f.calls, c)
	return f.failures[c.Method]
}

func (f *FakeHelpCenter) store(kind model.Kind, parent int64, rec helpcenter.Record) int64 {
	f.nextID++
	id := f.nextID
	rec = clone(rec)
	rec["id"] = id
	switch kind {
	case model.KindSection:
		rec["category_id"] = parent
	case model.KindArticle:
		rec["section_id"] = parent
	case model.KindAttachment:
		if parent != 0 {
			rec["article_id"] = parent
		}
	}
	f.items[id] = &item{kind: kind, parent: parent, rec: rec}
	f.order = append(f.order, id)
	return id
}

func (f *FakeHelpCenter) lookup(ref helpcenter.Ref) (*item, error) {
	it, ok := f.items[ref.ID]
	if !ok || it.kind != ref.Kind {
		return nil, &helpcenter.NotFoundError{URL: fmt.Sprintf("%s/%d", helpcenter.Collection(ref.Kind), ref.ID)}
	}
	return it, nil
}

func (f *FakeHelpCenter) GetItem(_ context.Context, ref helpcenter.Ref) (helpcenter.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "GetItem", Kind: ref.Kind, ID: ref.ID}); err != nil {
		return nil, err
	}
	it, err := f.lookup(ref)
	if err != nil {
		return nil, err
	}
	return clone(it.rec), nil
}

func (f *FakeHelpCenter) GetItems(_ context.Context, kind model.Kind, parent *helpcenter.Ref) ([]helpcenter.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pid int64
	if parent != nil {
		pid = parent.ID
	}
	if err := f.record(Call{Method: "GetItems", Kind: kind, Parent: pid}); err != nil {
		return nil, err
	}
	var out []helpcenter.Record
	for _, id := range f.order {
		it, ok := f.items[id]
		if ok && it.kind == kind && it.parent == pid {
			out = append(out, clone(it.rec))
		}
	}
	return out, nil
}

func (f *FakeHelpCenter) GetTranslation(_ context.Context, ref helpcenter.Ref) (helpcenter.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "GetTranslation", Kind: ref.Kind, ID: ref.ID}); err != nil {
		return nil, err
	}
	it, err := f.lookup(ref)
	if err != nil {
		return nil, err
	}
	return translationOf(it), nil
}

func (f *FakeHelpCenter) Put(_ context.Context, ref helpcenter.Ref, fields helpcenter.Record) (helpcenter.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "Put", Kind: ref.Kind, ID: ref.ID, Fields: clone(fields)}); err != nil {
		return nil, err
	}
	it, err := f.lookup(ref)
	if err != nil {
		return nil, err
	}
	for k, v := range fields {
		it.rec[k] = v
	}
	switch ref.Kind {
	case model.KindSection:
		if id, ok := fields["category_id"].(int64); ok {
			it.parent = id
		}
	case model.KindArticle:
		if id, ok := fields["section_id"].(int64); ok {
			it.parent = id
		}
	}
	return clone(it.rec), nil
}

func (f *FakeHelpCenter) PutTranslation(_ context.Context, ref helpcenter.Ref, fields helpcenter.Record) (helpcenter.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "PutTranslation", Kind: ref.Kind, ID: ref.ID, Fields: clone(fields)}); err != nil {
		return nil, err
	}
	it, err := f.lookup(ref)
	if err != nil {
		return nil, err
	}
	for k, v := range fields {
		switch {
		case ref.Kind.IsGroup() && k == "title":
			it.rec["name"] = v
		case ref.Kind.IsGroup() && k == "body":
			it.rec["description"] = v
		default:
			it.rec[k] = v
		}
	}
	return translationOf(it), nil
}

func (f *FakeHelpCenter) Post(_ context.Context, kind model.Kind, fields helpcenter.Record, parent *helpcenter.Ref) (helpcenter.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pid int64
	if parent != nil {
		pid = parent.ID
	}
	if err := f.record(Call{Method: "Post", Kind: kind, Parent: pid, Fields: clone(fields)}); err != nil {
		return nil, err
	}
	id := f.store(kind, pid, fields)
	if kind == model.KindArticle {
		if ids, ok := fields["attachment_ids"].([]int64); ok {
			for _, aid := range ids {
				if att, ok := f.items[aid]; ok {
					att.parent = id
					att.rec["article_id"] = id
				}
			}
		}
	}
	return clone(f.items[id].rec), nil
}

func (f *FakeHelpCenter) PostAttachment(_ context.Context, article *helpcenter.Ref, filename string, r io.Reader) (helpcenter.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var pid int64
	if article != nil {
		pid = article.ID
	}
	if err := f.record(Call{Method: "PostAttachment", Kind: model.KindAttachment, Parent: pid, Fields: helpcenter.Record{"file_name": filename}}); err != nil {
		return nil, err
	}
	id := f.store(model.KindAttachment, pid, helpcenter.Record{"file_name": filename, "inline": true})
	rel := fmt.Sprintf("/hc/article_attachments/%d/%s", id, filename)
	f.items[id].rec["relative_path"] = rel
	f.items[id].rec["content_url"] = "https://acme.zendesk.com" + rel
	f.blobs[rel] = data
	return clone(f.items[id].rec), nil
}

func (f *FakeHelpCenter) GetAttachment(_ context.Context, relativePath string, w io.Writer) error {
	f.mu.Lock()
	if err := f.record(Call{Method: "GetAttachment", Kind: model.KindAttachment, Fields: helpcenter.Record{"relative_path": relativePath}}); err != nil {
		f.mu.Unlock()
		return err
	}
	data, ok := f.blobs[relativePath]
	f.mu.Unlock()
	if !ok {
		return &helpcenter.NotFoundError{URL: relativePath}
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

func (f *FakeHelpCenter) Delete(_ context.Context, ref helpcenter.Ref) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "Delete", Kind: ref.Kind, ID: ref.ID}); err != nil {
		return err
	}
	if _, err := f.lookup(ref); err != nil {
		return err
	}
	delete(f.items, ref.ID)
	return nil
}

func (f *FakeHelpCenter) GetUser(_ context.Context, id int64) (helpcenter.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "GetUser", ID: id}); err != nil {
		return nil, err
	}
	for _, u := range f.users {
		if u["id"] == id {
			return clone(u), nil
		}
	}
	return nil, &helpcenter.NotFoundError{URL: fmt.Sprintf("users/%d", id)}
}

var emailQuery = regexp.MustCompile(`email:"([^"]*)"`)

func (f *FakeHelpCenter) SearchUser(_ context.Context, query string) (helpcenter.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "SearchUser", Fields: helpcenter.Record{"query": query}}); err != nil {
		return nil, err
	}
	if m := emailQuery.FindStringSubmatch(query); m != nil {
		for _, u := range f.users {
			if u["email"] == m[1] {
				return clone(u), nil
			}
		}
	}
	return nil, &helpcenter.NotFoundError{URL: "search?query=" + query}
}

func (f *FakeHelpCenter) GetUserSegments(_ context.Context) ([]helpcenter.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "GetUserSegments"}); err != nil {
		return nil, err
	}
	return cloneAll(f.segments), nil
}

func (f *FakeHelpCenter) GetPermissionGroups(_ context.Context) ([]helpcenter.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "GetPermissionGroups"}); err != nil {
		return nil, err
	}
	return cloneAll(f.groups), nil
}

func translationOf(it *item) helpcenter.Record {
	if it.kind.IsGroup() {
		return helpcenter.Record{"title": it.rec["name"], "body": it.rec["description"], "locale": helpcenter.DefaultLocale}
	}
	return helpcenter.Record{
		"title":  it.rec["title"],
		"body":   it.rec["body"],
		"draft":  it.rec["draft"],
		"locale": helpcenter.DefaultLocale,
	}
}

func clone(rec helpcenter.Record) helpcenter.Record {
	out := make(helpcenter.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func cloneAll(recs []helpcenter.Record) []helpcenter.Record {
	out := make([]helpcenter.Record, len(recs))
	for i, r := range recs {
		out[i] = clone(r)
	}
	return out
}
