// Package transport provides the stateless REST client for the cloud store.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/mariek/littlefeed/internal/errors"
	"github.com/mariek/littlefeed/internal/models"
)

// ErrNotFound is returned for a remote 404. The orchestrator maps it to an
// update-or-create fallback (update) or treats it as already-satisfied
// (delete); every other failure is retryable up to the queue's ceiling.
var ErrNotFound = errors.New("remote record not found")

// DefaultTimeout bounds every remote call.
const DefaultTimeout = 10 * time.Second

// Client performs stateless request/response operations against the cloud
// REST API. Every mutating call carries the full record including the
// client-generated id; the remote schema accepts client-supplied string ids.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Client. A non-positive timeout falls back to DefaultTimeout.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Retryable reports whether an error should be retried by the sync queue.
// Not-found is the only non-retryable remote answer; the orchestrator handles
// it through fallback paths instead.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrNotFound)
}

// Bottle is the wire representation of a feeding record.
type Bottle struct {
	ID     string    `json:"id"`
	Amount int       `json:"amount"`
	Time   time.Time `json:"time"`
	Color  string    `json:"color"`
}

// BottleList is the wire response of GET /bottles.
type BottleList struct {
	Bottles []Bottle `json:"bottles"`
	Total   int      `json:"total"`
}

// Poop is the wire representation of a diaper record.
type Poop struct {
	ID    string    `json:"id"`
	Time  time.Time `json:"time"`
	Info  string    `json:"info"`
	Color string    `json:"color"`
}

// PoopList is the wire response of GET /poops.
type PoopList struct {
	Poops []Poop `json:"poops"`
	Total int    `json:"total"`
}

// BottleFromFeeding converts a local record to its wire shape.
func BottleFromFeeding(f *models.FeedingEvent) Bottle {
	return Bottle{
		ID:     f.ID,
		Amount: f.Amount,
		Time:   time.Unix(f.Time, 0).UTC(),
		Color:  f.Color,
	}
}

// Feeding converts the wire shape back to a local record.
func (b Bottle) Feeding() *models.FeedingEvent {
	return &models.FeedingEvent{
		ID:     b.ID,
		Amount: b.Amount,
		Time:   b.Time.Unix(),
		Color:  b.Color,
	}
}

// PoopFromDiaper converts a local record to its wire shape.
func PoopFromDiaper(d *models.DiaperEvent) Poop {
	return Poop{
		ID:    d.ID,
		Time:  time.Unix(d.Time, 0).UTC(),
		Info:  d.Note,
		Color: d.Color,
	}
}

// Diaper converts the wire shape back to a local record.
func (p Poop) Diaper() *models.DiaperEvent {
	return &models.DiaperEvent{
		ID:    p.ID,
		Time:  p.Time.Unix(),
		Note:  p.Info,
		Color: p.Color,
	}
}

// =====================================================
// Feeding endpoints
// =====================================================

// CreateFeeding creates a feeding remotely. Idempotent from the queue's
// perspective: the server treats a create on an existing id as a replace.
func (c *Client) CreateFeeding(ctx context.Context, f *models.FeedingEvent) error {
	return c.do(ctx, http.MethodPost, "/bottles", nil, BottleFromFeeding(f), nil,
		http.StatusCreated, http.StatusOK)
}

// UpdateFeeding replaces a feeding's mutable fields. Returns ErrNotFound when
// the id is absent remotely.
func (c *Client) UpdateFeeding(ctx context.Context, f *models.FeedingEvent) error {
	b := BottleFromFeeding(f)
	return c.do(ctx, http.MethodPut, "/bottles/"+url.PathEscape(f.ID), nil, b, nil, http.StatusOK)
}

// DeleteFeeding deletes a feeding remotely. Returns ErrNotFound for a 404;
// callers treat that as already-deleted.
func (c *Client) DeleteFeeding(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/bottles/"+url.PathEscape(id), nil, nil, nil, http.StatusOK)
}

// ListFeedings fetches the most recent feedings. A zero since fetches without
// a lower bound; limit bounds the window.
func (c *Client) ListFeedings(ctx context.Context, since time.Time, limit int) ([]*models.FeedingEvent, int, error) {
	var list BottleList
	if err := c.do(ctx, http.MethodGet, "/bottles", listQuery(since, limit), nil, &list, http.StatusOK); err != nil {
		return nil, 0, err
	}
	records := make([]*models.FeedingEvent, 0, len(list.Bottles))
	for _, b := range list.Bottles {
		records = append(records, b.Feeding())
	}
	return records, list.Total, nil
}

// =====================================================
// Diaper endpoints
// =====================================================

// CreateDiaper creates a diaper record remotely.
func (c *Client) CreateDiaper(ctx context.Context, d *models.DiaperEvent) error {
	return c.do(ctx, http.MethodPost, "/poops", nil, PoopFromDiaper(d), nil,
		http.StatusCreated, http.StatusOK)
}

// UpdateDiaper replaces a diaper record's mutable fields.
func (c *Client) UpdateDiaper(ctx context.Context, d *models.DiaperEvent) error {
	p := PoopFromDiaper(d)
	return c.do(ctx, http.MethodPut, "/poops/"+url.PathEscape(d.ID), nil, p, nil, http.StatusOK)
}

// DeleteDiaper deletes a diaper record remotely.
func (c *Client) DeleteDiaper(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/poops/"+url.PathEscape(id), nil, nil, nil, http.StatusOK)
}

// ListDiapers fetches the most recent diaper records.
func (c *Client) ListDiapers(ctx context.Context, since time.Time, limit int) ([]*models.DiaperEvent, int, error) {
	var list PoopList
	if err := c.do(ctx, http.MethodGet, "/poops", listQuery(since, limit), nil, &list, http.StatusOK); err != nil {
		return nil, 0, err
	}
	records := make([]*models.DiaperEvent, 0, len(list.Poops))
	for _, p := range list.Poops {
		records = append(records, p.Diaper())
	}
	return records, list.Total, nil
}

// Health probes remote connectivity. Any error means offline.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil, http.StatusOK)
}

func listQuery(since time.Time, limit int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	return q
}

// do executes one request: bearer auth header on every call, JSON bodies,
// status mapping into the error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, wantStatus ...int) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "encode request body", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeout or unreachable host: retryable network failure.
		return apperrors.Wrap(apperrors.ErrUnreachable,
			fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}

	accepted := false
	for _, status := range wantStatus {
		if resp.StatusCode == status {
			accepted = true
			break
		}
	}
	if !accepted {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		code := apperrors.ErrRemoteRejected
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			code = apperrors.ErrAuthFailed
		}
		return apperrors.New(code,
			fmt.Sprintf("%s %s: status %d: %s", method, path, resp.StatusCode, string(respBody)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Wrap(apperrors.ErrTransport, "decode response body", err)
		}
	}
	return nil
}
