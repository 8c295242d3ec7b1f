// Package gateway implements feed.Store on top of a remote data service that
// speaks a small JSON create/read/delete protocol.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/madfeed/feed-service/feed"
)

// DefaultTimeout bounds a single call when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Gateway provides storage through the remote data service. It does not
// support transactions: WithinTx runs its callback directly and a failure
// half way leaves earlier calls applied.
type Gateway struct {
	baseURL string
	cli     *http.Client
}

// New returns a Gateway sending requests to baseURL, e.g.
// "http://db:8080/api/db".
func New(baseURL string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		cli:     &http.Client{Timeout: timeout},
	}
}

type (
	createRequest struct {
		Table string            `json:"table"`
		Data  map[string]string `json:"data"`
	}
	readRequest struct {
		Table   string            `json:"table"`
		Filters map[string]string `json:"filters,omitempty"`
	}
	deleteRequest struct {
		Table           string   `json:"table"`
		Condition       string   `json:"condition"`
		ConditionParams []string `json:"conditionParams"`
	}
	response struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
)

// Create inserts rec into table.
func (g *Gateway) Create(ctx context.Context, table string, rec feed.Row) error {
	var res response
	if err := g.call(ctx, http.MethodPost, "/create", createRequest{Table: table, Data: rec}, &res); err != nil {
		return &feed.StoreError{Op: "create", Table: table, Err: err}
	}
	if !res.Success {
		return &feed.StoreError{Op: "create", Table: table, Err: remoteError(res.Error)}
	}
	return nil
}

// ReadMany returns the rows of table matching every filter.
func (g *Gateway) ReadMany(ctx context.Context, table string, filters feed.Row) ([]feed.Row, error) {
	var raw []map[string]any
	if err := g.call(ctx, http.MethodPost, "/read", readRequest{Table: table, Filters: filters}, &raw); err != nil {
		return nil, &feed.StoreError{Op: "read", Table: table, Err: err}
	}
	out := make([]feed.Row, len(raw))
	for i, r := range raw {
		row := make(feed.Row, len(r))
		for k, v := range r {
			row[strings.ToLower(k)] = stringify(v)
		}
		out[i] = row
	}
	return out, nil
}

// Delete removes the rows of table matching condition.
func (g *Gateway) Delete(ctx context.Context, table, condition string, params ...string) error {
	req := deleteRequest{Table: table, Condition: condition, ConditionParams: params}
	if req.ConditionParams == nil {
		req.ConditionParams = []string{}
	}
	var res response
	if err := g.call(ctx, http.MethodDelete, "/delete", req, &res); err != nil {
		return &feed.StoreError{Op: "delete", Table: table, Err: err}
	}
	if !res.Success {
		return &feed.StoreError{Op: "delete", Table: table, Err: remoteError(res.Error)}
	}
	return nil
}

// WithinTx calls fn with g.
func (g *Gateway) WithinTx(_ context.Context, fn func(feed.Store) error) error {
	return fn(g)
}

func (g *Gateway) call(ctx context.Context, method, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.cli.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s returned status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func remoteError(msg string) error {
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Errorf("remote: %s", msg)
}

// stringify renders a decoded JSON value as a row value.
func stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
