package testutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"

	"github.com/schaermu/helpsync/internal/helpcenter"
	"github.com/schaermu/helpsync/internal/model"
)

// NewServer serves f over the Help Center REST routes used by
// helpcenter.HTTPClient. Point both BaseURL and PublicURL at the returned
// server. The caller closes it.
func NewServer(f *FakeHelpCenter) *httptest.Server {
	return httptest.NewServer(&server{fake: f})
}

type server struct {
	fake *FakeHelpCenter
}

var collections = map[string]model.Kind{
	"categories":  model.KindCategory,
	"sections":    model.KindSection,
	"articles":    model.KindArticle,
	"attachments": model.KindAttachment,
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := r.URL.Path

	switch {
	case strings.HasPrefix(p, "/hc/"):
		var buf bytes.Buffer
		if err := s.fake.GetAttachment(ctx, p, &buf); err != nil {
			writeError(w, err)
			return
		}
		_, _ = w.Write(buf.Bytes())
		return
	case p == "/api/v2/help_center/user_segments/applicable.json":
		recs, err := s.fake.GetUserSegments(ctx)
		reply(w, "user_segments", recs, err)
		return
	case p == "/api/v2/guide/permission_groups.json":
		recs, err := s.fake.GetPermissionGroups(ctx)
		reply(w, "permission_groups", recs, err)
		return
	case p == "/api/v2/search.json":
		rec, err := s.fake.SearchUser(ctx, r.URL.Query().Get("query"))
		if errors.Is(err, helpcenter.ErrNotFound) {
			reply(w, "results", []helpcenter.Record{}, nil)
			return
		}
		reply(w, "results", []helpcenter.Record{rec}, err)
		return
	case strings.HasPrefix(p, "/api/v2/users/"):
		id, ok := parseID(strings.TrimPrefix(p, "/api/v2/users/"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		rec, err := s.fake.GetUser(ctx, id)
		reply(w, "user", rec, err)
		return
	case strings.HasPrefix(p, "/api/v2/help_center/"):
		s.helpCenter(w, r, strings.Split(strings.TrimPrefix(p, "/api/v2/help_center/"), "/"))
		return
	}
	http.NotFound(w, r)
}

func (s *server) helpCenter(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()

	// {collection}/{id}/translations/{locale}.json
	if len(parts) == 4 && parts[2] == "translations" {
		kind, ok := collections[parts[0]]
		id, idOK := parseID(parts[1])
		if !ok || !idOK {
			http.NotFound(w, r)
			return
		}
		ref := helpcenter.Ref{Kind: kind, ID: id}
		if r.Method == http.MethodPut {
			fields, err := readEnvelope(r, "translation")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			rec, err := s.fake.PutTranslation(ctx, ref, fields)
			reply(w, "translation", rec, err)
			return
		}
		rec, err := s.fake.GetTranslation(ctx, ref)
		reply(w, "translation", rec, err)
		return
	}

	// strip the locale
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	parts = parts[1:]
	parts[len(parts)-1] = strings.TrimSuffix(parts[len(parts)-1], ".json")

	switch len(parts) {
	case 1:
		kind, ok := collections[parts[0]]
		if !ok {
			break
		}
		s.collection(w, r, kind, nil)
		return
	case 2:
		if parts[0] == "articles" && parts[1] == "attachments" && r.Method == http.MethodPost {
			s.upload(w, r, nil)
			return
		}
		kind, ok := collections[parts[0]]
		id, idOK := parseID(parts[1])
		if !ok || !idOK {
			break
		}
		s.item(w, r, helpcenter.Ref{Kind: kind, ID: id})
		return
	case 3:
		if parts[0] == "articles" && parts[1] == "attachments" {
			if id, ok := parseID(parts[2]); ok {
				s.item(w, r, helpcenter.Ref{Kind: model.KindAttachment, ID: id})
				return
			}
			break
		}
		parentKind, ok := collections[parts[0]]
		pid, idOK := parseID(parts[1])
		kind, kindOK := collections[parts[2]]
		if !ok || !idOK || !kindOK {
			break
		}
		parent := &helpcenter.Ref{Kind: parentKind, ID: pid}
		if kind == model.KindAttachment && r.Method == http.MethodPost {
			s.upload(w, r, parent)
			return
		}
		s.collection(w, r, kind, parent)
		return
	}
	http.NotFound(w, r)
}

func (s *server) collection(w http.ResponseWriter, r *http.Request, kind model.Kind, parent *helpcenter.Ref) {
	if r.Method == http.MethodPost {
		fields, err := readEnvelope(r, helpcenter.Envelope(kind))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rec, err := s.fake.Post(r.Context(), kind, fields, parent)
		reply(w, helpcenter.Envelope(kind), rec, err)
		return
	}
	recs, err := s.fake.GetItems(r.Context(), kind, parent)
	if recs == nil {
		recs = []helpcenter.Record{}
	}
	reply(w, helpcenter.ListEnvelope(kind), recs, err)
}

func (s *server) item(w http.ResponseWriter, r *http.Request, ref helpcenter.Ref) {
	key := helpcenter.Envelope(ref.Kind)
	switch r.Method {
	case http.MethodDelete:
		if err := s.fake.Delete(r.Context(), ref); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPut:
		fields, err := readEnvelope(r, key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rec, err := s.fake.Put(r.Context(), ref, fields)
		reply(w, key, rec, err)
	default:
		rec, err := s.fake.GetItem(r.Context(), ref)
		reply(w, key, rec, err)
	}
}

func (s *server) upload(w http.ResponseWriter, r *http.Request, article *helpcenter.Ref) {
	file, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer func() {
		_ = file.Close()
	}()
	rec, err := s.fake.PostAttachment(r.Context(), article, hdr.Filename, file)
	reply(w, helpcenter.Envelope(model.KindAttachment), rec, err)
}

// readEnvelope decodes the request body and returns the object under key
// with integral numbers as int64
func readEnvelope(r *http.Request, key string) (helpcenter.Record, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload map[string]helpcenter.Record
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	fields := payload[key]
	for k, v := range fields {
		fields[k] = normalize(v)
	}
	return fields, nil
}

func normalize(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case []any:
		ids := make([]int64, 0, len(v))
		for _, e := range v {
			n, ok := normalize(e).(int64)
			if !ok {
				return v
			}
			ids = append(ids, n)
		}
		return ids
	}
	return v
}

func reply(w http.ResponseWriter, key string, value any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{key: value})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, helpcenter.ErrNotFound) {
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSuffix(s, ".json"), 10, 64)
	return id, err == nil
}
