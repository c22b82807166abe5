// Package client talks to the tabulator HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/okian/tabulator/internal/domain/ledger"
	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/internal/domain/ranking"
	"github.com/okian/tabulator/internal/livesync"
	"github.com/okian/tabulator/pkg/logger"
)

// SubmitResponse is the server's answer to PUT /scores.
type SubmitResponse struct {
	Status        string `json:"status"`
	CompetitionID string `json:"competitionId"`
	Duplicate     bool   `json:"duplicate"`
}

// APIError is a non-2xx answer decoded from the {code, message} body.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// Is maps status codes to the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrBadRequest:
		return e.Status == http.StatusBadRequest
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	}
	return false
}

// Client is a thin typed wrapper over the API.
type Client struct {
	baseURL string
	http    *http.Client
	log     logger.Logger
}

// New returns a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get().Named("client")
	}
	return c, nil
}

// FetchScores returns the competition's scores. A matching etag yields
// NotModified and no scores.
func (c *Client) FetchScores(ctx context.Context, competitionID, etag string) (livesync.FetchResult, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/competitions/"+url.PathEscape(competitionID)+"/scores", nil)
	if err != nil {
		return livesync.FetchResult{}, err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return livesync.FetchResult{}, fmt.Errorf("fetch scores: %w", err)
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case http.StatusNotModified:
		return livesync.FetchResult{NotModified: true, ETag: etag}, nil
	case http.StatusOK:
	default:
		return livesync.FetchResult{}, decodeError(resp)
	}

	var rows []ledger.Row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return livesync.FetchResult{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	scores, err := ledger.ScoresFromRows(rows)
	if err != nil {
		return livesync.FetchResult{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return livesync.FetchResult{ETag: resp.Header.Get("ETag"), Scores: scores}, nil
}

// Competition returns one competition definition.
func (c *Client) Competition(ctx context.Context, id string) (*model.Competition, error) {
	var comp model.Competition
	if err := c.doJSON(ctx, http.MethodGet, "/competitions/"+url.PathEscape(id), nil, nil, &comp); err != nil {
		return nil, err
	}
	return &comp, nil
}

// SubmitScore stores one score. idempotencyKey may be empty.
func (c *Client) SubmitScore(ctx context.Context, sub model.ScoreSubmission, idempotencyKey string) (SubmitResponse, error) { //nolint:gocritic // hugeParam: request value
	var header http.Header
	if idempotencyKey != "" {
		header = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}
	var out SubmitResponse
	err := c.doJSON(ctx, http.MethodPut, "/scores", sub, header, &out)
	return out, err
}

// DeleteScore removes one score and reports whether it existed.
func (c *Client) DeleteScore(ctx context.Context, key model.ScoreKey) (bool, error) {
	path := "/scores/" + strings.Join([]string{
		url.PathEscape(key.SegmentID),
		url.PathEscape(key.ContestantID),
		url.PathEscape(key.JudgeID),
		url.PathEscape(key.CriterionID),
	}, "/")
	var out struct {
		Deleted bool `json:"deleted"`
	}
	err := c.doJSON(ctx, http.MethodDelete, path, nil, nil, &out)
	return out.Deleted, err
}

// Rankings returns a segment's ranking entries.
func (c *Client) Rankings(ctx context.Context, competitionID, segmentID string, refresh bool) ([]ranking.Entry, error) {
	path := "/competitions/" + url.PathEscape(competitionID) + "/segments/" + url.PathEscape(segmentID) + "/rankings"
	if refresh {
		path += "?refresh=true"
	}
	var out struct {
		Entries []ranking.Entry `json:"entries"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// StreamEvents reads the competition's event stream and calls fn for every
// score event until ctx ends, the server closes the stream, or the server
// asks for a resync (ErrResync).
func (c *Client) StreamEvents(ctx context.Context, competitionID string, fn func(model.ScoreEvent)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/competitions/"+url.PathEscape(competitionID)+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	var event string
	var data strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := c.dispatch(event, data.String(), fn); err != nil {
				return err
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// comment or heartbeat
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

func (c *Client) dispatch(event, data string, fn func(model.ScoreEvent)) error {
	switch event {
	case "":
		return nil
	case eventResync:
		return ErrResync
	case string(model.EventScoreUpdated):
		var e model.ScoreEvent
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			c.log.Warn(context.Background(), "undecodable stream event", logger.Error(err))
			return nil
		}
		fn(e)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, header http.Header, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer drain(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = strconv.Itoa(resp.StatusCode)
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}

// eventResync mirrors the server's resync event name.
const eventResync = "RESYNC"

var _ livesync.Fetcher = (*Client)(nil)
