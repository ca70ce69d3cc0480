// Package store implements the HTTP client for the coverage document store.
// The wire protocol is the OpenSearch dialect: index mapping via PUT,
// _delete_by_query for revision purges, NDJSON _bulk writes, and _search
// with bool/term queries and terms aggregations.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	cqerrors "github.com/coverquery/coverquery/internal/errors"
)

// Config holds the connection parameters for the document store.
type Config struct {
	Scheme   string
	Host     string
	Port     int
	Username string
	Password string
	Index    string

	// Timeout bounds each request via context deadline.
	Timeout time.Duration
}

// Validate checks that the parameters required to reach the store are set.
func (c Config) Validate() error {
	if c.Host == "" || c.Port == 0 || c.Index == "" {
		return cqerrors.New(cqerrors.ErrCodeStoreParamsIncomplete,
			"store configuration must include host, port, and index", nil)
	}
	return nil
}

// Client talks to one index of the document store.
type Client struct {
	baseURL  string
	index    string
	username string
	password string
	timeout  time.Duration
	http     *http.Client
	logger   *slog.Logger
}

// NewClient creates a store client from config. The logger may be nil.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port),
		index:    cfg.Index,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  timeout,
		http:     &http.Client{},
		logger:   logger,
	}, nil
}

// Index returns the index name this client writes to.
func (c *Client) Index() string { return c.index }

// do sends one request with auth and a bounded deadline, returning the
// response body and status. Callers own status interpretation.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, nil, cqerrors.Wrap(cqerrors.ErrCodeInternal, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, cqerrors.New(cqerrors.ErrCodeStoreUnreachable,
			fmt.Sprintf("store request failed: %v", err), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, cqerrors.Wrap(cqerrors.ErrCodeStoreUnreachable, err)
	}
	return resp.StatusCode, data, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return 0, nil, cqerrors.Wrap(cqerrors.ErrCodeInternal, err)
		}
	}
	return c.do(ctx, method, path, "application/json", data)
}

// IndexExists checks for the index with a HEAD request.
func (c *Client) IndexExists(ctx context.Context) (bool, error) {
	status, _, err := c.do(ctx, http.MethodHead, "/"+c.index, "", nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, cqerrors.Query(
			fmt.Sprintf("index existence check returned status %d", status), nil).WithStatus(status)
	}
}

// indexMapping is the schema for coverage documents. Strings are keyword
// fields so term queries match exact values, never analyzed tokens.
var indexMapping = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"filename":       map[string]any{"type": "keyword"},
			"line":           map[string]any{"type": "integer"},
			"revision":       map[string]any{"type": "keyword"},
			"run_label":      map[string]any{"type": "keyword"},
			"test_framework": map[string]any{"type": "keyword"},
			"tests":          map[string]any{"type": "keyword"},
		},
	},
}

// CreateIndex creates the index with the coverage document mapping.
func (c *Client) CreateIndex(ctx context.Context) error {
	status, body, err := c.doJSON(ctx, http.MethodPut, "/"+c.index, indexMapping)
	if err != nil {
		return cqerrors.IndexCreation("failed to create index", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		if isAlreadyExists(body) {
			return nil
		}
		return cqerrors.IndexCreation(
			fmt.Sprintf("index creation returned status %d: %s", status, truncate(body)), nil).
			WithStatus(status)
	}
	return nil
}

// isAlreadyExists detects the concurrent-creation race response.
func isAlreadyExists(body []byte) bool {
	return bytes.Contains(body, []byte("resource_already_exists_exception"))
}

// DeleteByRevision removes every document for the given revision. A
// missing index is not an error: there is simply nothing to purge.
func (c *Client) DeleteByRevision(ctx context.Context, revision string) error {
	query := map[string]any{
		"query": map[string]any{
			"term": map[string]any{"revision": revision},
		},
	}
	status, body, err := c.doJSON(ctx, http.MethodPost, "/"+c.index+"/_delete_by_query", query)
	if err != nil {
		return cqerrors.IndexWrite("failed to purge revision "+revision, err)
	}
	if status == http.StatusNotFound {
		return nil
	}
	if status != http.StatusOK {
		return cqerrors.IndexWrite(
			fmt.Sprintf("revision purge returned status %d: %s", status, truncate(body)), nil).
			WithStatus(status)
	}
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Bulk indexes the documents in one NDJSON _bulk request. Each document
// gets a metadata line carrying its deterministic _id, so a rewrite of the
// same (filename, line, revision) replaces rather than duplicates.
func (c *Client) Bulk(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		meta := map[string]any{
			"index": map[string]any{"_index": c.index, "_id": doc.ID()},
		}
		if err := enc.Encode(meta); err != nil {
			return cqerrors.Wrap(cqerrors.ErrCodeInternal, err)
		}
		if err := enc.Encode(doc); err != nil {
			return cqerrors.Wrap(cqerrors.ErrCodeInternal, err)
		}
	}

	status, body, err := c.do(ctx, http.MethodPost, "/"+c.index+"/_bulk", "application/x-ndjson", buf.Bytes())
	if err != nil {
		return cqerrors.BulkWrite("bulk request failed", err)
	}
	if status != http.StatusOK {
		return cqerrors.BulkWrite(
			fmt.Sprintf("bulk request returned status %d: %s", status, truncate(body)), nil).
			WithStatus(status)
	}

	var resp bulkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return cqerrors.BulkWrite("unparseable bulk response", err)
	}
	if resp.Errors {
		return cqerrors.BulkWrite(
			fmt.Sprintf("bulk write reported item failures: %s", firstItemError(resp)), nil).
			WithDetail("batch_size", fmt.Sprintf("%d", len(docs)))
	}

	c.logger.Debug("bulk write complete", "docs", len(docs), "index", c.index)
	return nil
}

func firstItemError(resp bulkResponse) string {
	for _, item := range resp.Items {
		for _, op := range item {
			if op.Error != nil {
				return fmt.Sprintf("%s: %s", op.Error.Type, op.Error.Reason)
			}
		}
	}
	return "unknown item error"
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]struct {
		Buckets []struct {
			Key any `json:"key"`
		} `json:"buckets"`
	} `json:"aggregations"`
}

// Search runs a query and returns the matching documents, up to size.
// Any non-200 status is a query error, including 404 for a missing
// index: a store that was never indexed is not the same as no coverage.
func (c *Client) Search(ctx context.Context, query any, size int) ([]Document, error) {
	body := map[string]any{"query": query, "size": size}
	status, data, err := c.doJSON(ctx, http.MethodPost, "/"+c.index+"/_search", body)
	if err != nil {
		return nil, cqerrors.Query("search request failed", err)
	}
	if status != http.StatusOK {
		return nil, cqerrors.Query(
			fmt.Sprintf("search returned status %d: %s", status, truncate(data)), nil).
			WithStatus(status)
	}

	var resp searchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, cqerrors.Query("unparseable search response", err)
	}
	docs := make([]Document, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		docs = append(docs, hit.Source)
	}
	return docs, nil
}

// TermValues returns the distinct values of a keyword field for one
// revision via a terms aggregation. The result is capped at size; values
// beyond the cap are silently absent.
func (c *Client) TermValues(ctx context.Context, field, revision string, size int) ([]string, error) {
	body := map[string]any{
		"size": 0,
		"query": map[string]any{
			"term": map[string]any{"revision": revision},
		},
		"aggs": map[string]any{
			"values": map[string]any{
				"terms": map[string]any{"field": field, "size": size},
			},
		},
	}
	status, data, err := c.doJSON(ctx, http.MethodPost, "/"+c.index+"/_search", body)
	if err != nil {
		return nil, cqerrors.Query("aggregation request failed", err)
	}
	if status != http.StatusOK {
		return nil, cqerrors.Query(
			fmt.Sprintf("aggregation returned status %d: %s", status, truncate(data)), nil).
			WithStatus(status)
	}

	var resp searchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, cqerrors.Query("unparseable aggregation response", err)
	}
	agg, ok := resp.Aggregations["values"]
	if !ok {
		return nil, nil
	}
	values := make([]string, 0, len(agg.Buckets))
	for _, b := range agg.Buckets {
		if s, ok := b.Key.(string); ok {
			values = append(values, s)
		}
	}
	return values, nil
}

// truncate keeps error payloads readable in messages and logs.
func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
