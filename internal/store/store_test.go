package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cqerrors "github.com/coverquery/coverquery/internal/errors"
)

// testClient points a Client at the httptest server.
func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	c, err := NewClient(Config{
		Scheme:   "http",
		Host:     u.Hostname(),
		Port:     port,
		Index:    "cov-test",
		Username: "admin",
		Password: "secret",
	}, nil)
	require.NoError(t, err)
	return c
}

func TestDocumentID(t *testing.T) {
	doc := Document{Filename: "src/calc.py", Line: 42, Revision: "abc123"}
	assert.Equal(t, "src/calc.py|42|abc123", doc.ID())

	working := Document{Filename: "src/calc.py", Line: 42, Revision: "working"}
	assert.NotEqual(t, doc.ID(), working.ID())
}

func TestConfigValidate(t *testing.T) {
	valid := Config{Host: "localhost", Port: 9200, Index: "cov"}
	assert.NoError(t, valid.Validate())

	for _, cfg := range []Config{
		{Port: 9200, Index: "cov"},
		{Host: "localhost", Index: "cov"},
		{Host: "localhost", Port: 9200},
	} {
		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, cqerrors.IsKind(err, cqerrors.KindConfiguration))
	}
}

func TestIndexExists(t *testing.T) {
	exists := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "/cov-test", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)

		if exists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := testClient(t, srv)

	got, err := c.IndexExists(context.Background())
	require.NoError(t, err)
	assert.True(t, got)

	exists = false
	got, err = c.IndexExists(context.Background())
	require.NoError(t, err)
	assert.False(t, got)
}

func TestCreateIndexMapping(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/cov-test", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, testClient(t, srv).CreateIndex(context.Background()))

	props := captured["mappings"].(map[string]any)["properties"].(map[string]any)
	assert.Equal(t, "keyword", props["filename"].(map[string]any)["type"])
	assert.Equal(t, "integer", props["line"].(map[string]any)["type"])
	assert.Equal(t, "keyword", props["tests"].(map[string]any)["type"])
}

func TestCreateIndexAlreadyExistsRace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"type":"resource_already_exists_exception"}}`)
	}))
	defer srv.Close()

	assert.NoError(t, testClient(t, srv).CreateIndex(context.Background()),
		"concurrent creation loses the race but succeeds")
}

func TestDeleteByRevision(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cov-test/_delete_by_query", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		io.WriteString(w, `{"deleted": 7}`)
	}))
	defer srv.Close()

	require.NoError(t, testClient(t, srv).DeleteByRevision(context.Background(), "working"))

	term := captured["query"].(map[string]any)["term"].(map[string]any)
	assert.Equal(t, "working", term["revision"])
}

func TestDeleteByRevisionMissingIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.NoError(t, testClient(t, srv).DeleteByRevision(context.Background(), "working"),
		"nothing to purge is not an error")
}

func TestBulkPayload(t *testing.T) {
	var lines [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cov-test/_bulk", r.URL.Path)
		assert.Equal(t, "application/x-ndjson", r.Header.Get("Content-Type"))

		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			lines = append(lines, bytes.Clone(sc.Bytes()))
		}
		io.WriteString(w, `{"errors": false, "items": []}`)
	}))
	defer srv.Close()

	docs := []Document{
		{Filename: "src/a.py", Line: 1, Revision: "abc", Tests: []string{"t1"}},
		{Filename: "src/a.py", Line: 2, Revision: "abc", Tests: []string{"t1", "t2"}},
	}
	require.NoError(t, testClient(t, srv).Bulk(context.Background(), docs))

	require.Len(t, lines, 4, "one metadata line plus one document line per doc")

	var meta map[string]map[string]string
	require.NoError(t, json.Unmarshal(lines[0], &meta))
	assert.Equal(t, "src/a.py|1|abc", meta["index"]["_id"])
	assert.Equal(t, "cov-test", meta["index"]["_index"])

	var doc Document
	require.NoError(t, json.Unmarshal(lines[3], &doc))
	assert.Equal(t, 2, doc.Line)
	assert.Equal(t, []string{"t1", "t2"}, doc.Tests)
}

func TestBulkItemErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"errors": true, "items": [
			{"index": {"status": 201}},
			{"index": {"status": 400, "error": {"type": "mapper_parsing_exception", "reason": "bad field"}}}
		]}`)
	}))
	defer srv.Close()

	err := testClient(t, srv).Bulk(context.Background(), []Document{{Filename: "a", Line: 1}})
	require.Error(t, err)
	assert.True(t, cqerrors.HasCode(err, cqerrors.ErrCodeBulkWrite))
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestBulkEmptyIsNoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an empty batch")
	}))
	defer srv.Close()

	assert.NoError(t, testClient(t, srv).Bulk(context.Background(), nil))
}

func TestSearch(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cov-test/_search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		io.WriteString(w, `{"hits": {"hits": [
			{"_source": {"filename": "src/a.py", "line": 3, "revision": "working", "tests": ["t1"]}}
		]}}`)
	}))
	defer srv.Close()

	query := map[string]any{"term": map[string]any{"filename": "src/a.py"}}
	docs, err := testClient(t, srv).Search(context.Background(), query, 500)
	require.NoError(t, err)

	require.Len(t, docs, 1)
	assert.Equal(t, "src/a.py", docs[0].Filename)
	assert.Equal(t, 3, docs[0].Line)
	assert.Equal(t, float64(500), captured["size"])
}

func TestSearchMissingIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error": {"type": "index_not_found_exception"}}`)
	}))
	defer srv.Close()
	c := testClient(t, srv)

	docs, err := c.Search(context.Background(), map[string]any{}, 10)
	require.Error(t, err, "a missing index must not read as empty coverage")
	assert.Nil(t, docs)
	assert.True(t, cqerrors.IsKind(err, cqerrors.KindQuery))
	assert.Equal(t, http.StatusNotFound, cqerrors.GetStatus(err))

	values, err := c.TermValues(context.Background(), "filename", "working", 100)
	require.Error(t, err)
	assert.Nil(t, values)
	assert.True(t, cqerrors.IsKind(err, cqerrors.KindQuery))
	assert.Equal(t, http.StatusNotFound, cqerrors.GetStatus(err))
}

func TestTermValues(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		io.WriteString(w, `{"aggregations": {"values": {"buckets": [
			{"key": "src/a.py", "doc_count": 10},
			{"key": "src/b.py", "doc_count": 4}
		]}}}`)
	}))
	defer srv.Close()

	values, err := testClient(t, srv).TermValues(context.Background(), "filename", "working", 1000)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.py", "src/b.py"}, values)

	aggs := captured["aggs"].(map[string]any)["values"].(map[string]any)["terms"].(map[string]any)
	assert.Equal(t, "filename", aggs["field"])
	assert.Equal(t, float64(1000), aggs["size"])
}

func TestStoreUnreachable(t *testing.T) {
	c, err := NewClient(Config{Host: "127.0.0.1", Port: 1, Index: "cov-test"}, nil)
	require.NoError(t, err)

	_, err = c.IndexExists(context.Background())
	require.Error(t, err)
	assert.True(t, cqerrors.HasCode(err, cqerrors.ErrCodeStoreUnreachable))
}
