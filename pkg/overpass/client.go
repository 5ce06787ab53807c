package overpass

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tilmanb/osm-wikidata/pkg/cache"
	"github.com/tilmanb/osm-wikidata/pkg/logging"
	"github.com/tilmanb/osm-wikidata/pkg/model"
	"github.com/tilmanb/osm-wikidata/pkg/request"
)

const defaultEndpoint = "https://overpass-api.de/api/interpreter"

// Client runs queries against an Overpass interpreter.
type Client struct {
	request  *request.Client
	items    *cache.FileCache
	places   *cache.FileCache
	Endpoint string
	Timeout  int // server-side seconds, sent as [timeout:N]

	// RequestTimeout bounds the HTTP call. Zero waits for the server
	// timeout plus a grace period.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

const timeoutGrace = 30 * time.Second

func (c *Client) requestTimeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return time.Duration(c.Timeout)*time.Second + timeoutGrace
}

// NewClient creates a client storing replies below cacheDir. Item replies
// and place bulk replies live in separate subdirectories.
func NewClient(r *request.Client, cacheDir string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		request:  r,
		items:    cache.NewFileCache(filepath.Join(cacheDir, "item")),
		places:   cache.NewFileCache(filepath.Join(cacheDir, "place")),
		Endpoint: defaultEndpoint,
		Timeout:  300,
		Logger:   logger.With("component", "overpass"),
	}
}

type reply struct {
	Remark   string          `json:"remark"`
	Elements []model.Element `json:"elements"`
}

// Run posts the query and returns the raw JSON body, mapping failures onto
// ErrRateLimited, ErrTimeout and ResponseError.
func (c *Client) Run(ctx context.Context, oql string) ([]byte, error) {
	logging.Trace(c.Logger, "Overpass query", "oql", oql)
	body, err := c.request.Do(ctx, request.Request{
		Method:  http.MethodPost,
		URL:     c.Endpoint,
		Body:    []byte(url.Values{"data": {oql}}.Encode()),
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		NoRetry: true,
		Timeout: c.requestTimeout(),
	})
	if err != nil {
		var se *request.StatusError
		var ne net.Error
		switch {
		case errors.As(err, &ne) && ne.Timeout():
			return nil, ErrTimeout
		case errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests:
			return nil, ErrRateLimited
		case errors.As(err, &se) && se.StatusCode == http.StatusGatewayTimeout:
			return nil, ErrTimeout
		case errors.As(err, &se):
			return nil, &ResponseError{Status: se.StatusCode, Body: string(se.Body)}
		}
		return nil, err
	}
	if err := checkReply(body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkReply(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if bytes.Contains(body, []byte("runtime error: Query timed out")) {
			return ErrTimeout
		}
		return &ResponseError{Body: string(body)}
	}
	var r struct {
		Remark string `json:"remark"`
	}
	if err := json.Unmarshal(trimmed, &r); err != nil {
		return &ResponseError{Body: string(body)}
	}
	switch {
	case strings.Contains(r.Remark, "runtime error: Query timed out"):
		return ErrTimeout
	case strings.Contains(r.Remark, "runtime error"):
		return &ResponseError{Body: r.Remark}
	}
	return nil
}

// Decode parses a reply body into elements.
func Decode(body []byte) ([]model.Element, error) {
	var r reply
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &ResponseError{Body: string(body)}
	}
	return r.Elements, nil
}

// Query runs oql and decodes the elements.
func (c *Client) Query(ctx context.Context, oql string) ([]model.Element, error) {
	body, err := c.Run(ctx, oql)
	if err != nil {
		return nil, err
	}
	return Decode(body)
}

// itemFilename returns the cache file for an item query.
func (c *Client) itemFilename(qid string, radius int) string {
	return c.items.Path(itemKey(qid, radius))
}

func itemKey(qid string, radius int) string {
	return fmt.Sprintf("item_%s_%d", qid, radius)
}

// ItemQuery runs the per-item query, reusing a stored reply for the same
// item and radius.
func (c *Client) ItemQuery(ctx context.Context, oql, qid string, radius int) ([]model.Element, error) {
	key := itemKey(qid, radius)
	if body, ok := c.items.GetCache(ctx, key); ok {
		return Decode(body)
	}
	body, err := c.Run(ctx, oql)
	if err != nil {
		return nil, err
	}
	if err := c.items.SetCache(ctx, key, body); err != nil {
		c.Logger.Warn("Failed to store item reply", "qid", qid, "error", err)
	}
	return Decode(body)
}

// ItemCache returns the store of per-item replies so it can be pruned.
func (c *Client) ItemCache() *cache.FileCache {
	return c.items
}

// DropItemCache forgets the stored reply for an item query.
func (c *Client) DropItemCache(qid string, radius int) error {
	return c.items.Delete(itemKey(qid, radius))
}

// ExistingQuery returns the OQL for elements already tagged with qid.
func ExistingQuery(qid string, timeout int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[timeout:%d][out:json];\n(", timeout)
	for _, t := range []string{"node", "way", "rel"} {
		fmt.Fprintf(&b, "\n%s[wikidata=%q];", t, qid)
	}
	b.WriteString("\n);\nout qt center tags;")
	return b.String()
}

// Existing returns elements that already carry wikidata=<qid>.
func (c *Client) Existing(ctx context.Context, qid string) ([]model.Element, error) {
	return c.Query(ctx, ExistingQuery(qid, c.Timeout))
}

// TagsQuery returns the OQL fetching the current tags of the given elements.
func TagsQuery(keys []model.ElementKey, timeout int) string {
	ids := make(map[string][]int64)
	for _, k := range keys {
		t := k.Type
		if t == "relation" {
			t = "rel"
		}
		ids[t] = append(ids[t], k.ID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[timeout:%d][out:json];\n(", timeout)
	for _, t := range []string{"node", "way", "rel"} {
		list := ids[t]
		if len(list) == 0 {
			continue
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		parts := make([]string, len(list))
		for i, id := range list {
			parts[i] = strconv.FormatInt(id, 10)
		}
		fmt.Fprintf(&b, "\n%s(id:%s);", t, strings.Join(parts, ","))
	}
	b.WriteString("\n);\nout tags;")
	return b.String()
}

// Tags fetches the live tags of the given elements.
func (c *Client) Tags(ctx context.Context, keys []model.ElementKey) ([]model.Element, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	return c.Query(ctx, TagsQuery(keys, c.Timeout))
}

func placeKey(placeID int64) string {
	return "place_" + strconv.FormatInt(placeID, 10)
}

// PlaceDone reports whether the bulk reply for the place is stored.
func (c *Client) PlaceDone(ctx context.Context, placeID int64) bool {
	_, ok := c.places.GetCache(ctx, placeKey(placeID))
	return ok
}

// PlaceQuery runs the bulk query for a place and stores the reply.
func (c *Client) PlaceQuery(ctx context.Context, placeID int64, oql string) error {
	body, err := c.Run(ctx, oql)
	if err != nil {
		return err
	}
	return c.SavePlace(ctx, placeID, body)
}

// SavePlace stores a bulk reply obtained elsewhere, e.g. posted by a browser.
func (c *Client) SavePlace(ctx context.Context, placeID int64, body []byte) error {
	if err := checkReply(body); err != nil {
		return err
	}
	return c.places.SetCache(ctx, placeKey(placeID), body)
}

// LoadPlace reads the stored bulk reply.
func (c *Client) LoadPlace(ctx context.Context, placeID int64) ([]model.Element, error) {
	body, ok := c.places.GetCache(ctx, placeKey(placeID))
	if !ok {
		return nil, fmt.Errorf("no overpass reply stored for place %d", placeID)
	}
	return Decode(body)
}

// DropPlace removes the stored bulk reply, used on refresh.
func (c *Client) DropPlace(placeID int64) error {
	return c.places.Delete(placeKey(placeID))
}
