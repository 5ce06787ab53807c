package osmapi

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/paulmach/osm"
	"golang.org/x/oauth2"

	"github.com/tilmanb/osm-wikidata/pkg/cache"
	"github.com/tilmanb/osm-wikidata/pkg/config"
	"github.com/tilmanb/osm-wikidata/pkg/model"
	"github.com/tilmanb/osm-wikidata/pkg/request"
	"github.com/tilmanb/osm-wikidata/pkg/tracker"
)

// Client talks to the OSM API 0.6.
type Client struct {
	request   *request.Client
	Base      string
	CreatedBy string
	Logger    *slog.Logger
}

// OAuthConfig returns the OAuth2 settings for the edit API.
func OAuthConfig(cfg config.OSMConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthURL,
			TokenURL: cfg.TokenURL,
		},
		Scopes: []string{"read_prefs", "write_api"},
	}
}

// New creates a client authenticated with the configured access token.
// Changeset downloads are cached in c when it is not nil.
func New(ctx context.Context, cfg config.OSMConfig, c cache.Cacher, t *tracker.Tracker, logger *slog.Logger) *Client {
	hc := OAuthConfig(cfg).Client(ctx, &oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"})
	return NewWithHTTPClient(hc, cfg.APIBase, cfg.CreatedBy, c, t, logger)
}

// NewWithHTTPClient creates a client on top of an already authenticated HTTP client.
func NewWithHTTPClient(hc *http.Client, base, createdBy string, c cache.Cacher, t *tracker.Tracker, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		request:   request.New(c, t, request.Options{HTTPClient: hc}),
		Base:      strings.TrimSuffix(base, "/"),
		CreatedBy: createdBy,
		Logger:    logger.With("component", "osmapi"),
	}
}

type changesetDoc struct {
	XMLName   xml.Name `xml:"osm"`
	Changeset struct {
		Tags osm.Tags `xml:"tag"`
	} `xml:"changeset"`
}

func (c *Client) put(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.request.Do(ctx, request.Request{
		Method:  http.MethodPut,
		URL:     c.Base + path,
		Body:    body,
		Headers: map[string]string{"Content-Type": "text/xml"},
		NoRetry: true,
	})
}

// CreateChangeset opens a changeset carrying the created_by marker and comment.
func (c *Client) CreateChangeset(ctx context.Context, comment string) (int64, error) {
	var doc changesetDoc
	doc.Changeset.Tags = osm.Tags{
		{Key: "created_by", Value: c.CreatedBy},
		{Key: "comment", Value: comment},
	}
	body, err := xml.Marshal(doc)
	if err != nil {
		return 0, err
	}

	resp, err := c.put(ctx, "/changeset/create", body)
	if err != nil {
		return 0, fmt.Errorf("create changeset: %w", err)
	}
	id, err := parseToken("create changeset", resp)
	if err != nil {
		return 0, err
	}
	c.Logger.Info("Opened changeset", "changeset", id)
	return id, nil
}

// GetElement fetches the current version of an element.
func (c *Client) GetElement(ctx context.Context, key model.ElementKey) (*Element, error) {
	body, err := c.request.Get(ctx, c.elementURL(key), "")
	if err != nil {
		if request.IsStatus(err, http.StatusGone) {
			return nil, ErrGone
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmpty
	}
	return ParseElement(body)
}

// UpdateElement uploads el and returns the new version number.
func (c *Client) UpdateElement(ctx context.Context, el *Element) (int, error) {
	body, err := el.Marshal()
	if err != nil {
		return 0, err
	}
	key := el.Key()
	resp, err := c.put(ctx, "/"+key.String(), body)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", key, err)
	}
	version, err := parseToken("update "+key.String(), resp)
	if err != nil {
		return 0, err
	}
	return int(version), nil
}

// CloseChangeset closes an open changeset.
func (c *Client) CloseChangeset(ctx context.Context, id int64) error {
	if _, err := c.put(ctx, "/changeset/"+strconv.FormatInt(id, 10)+"/close", nil); err != nil {
		return fmt.Errorf("close changeset %d: %w", id, err)
	}
	c.Logger.Info("Closed changeset", "changeset", id)
	return nil
}

// downloadChangeset returns the osmChange document of a closed changeset.
func (c *Client) downloadChangeset(ctx context.Context, id int64) ([]byte, error) {
	idStr := strconv.FormatInt(id, 10)
	return c.request.Get(ctx, c.Base+"/changeset/"+idStr+"/download", "changeset_"+idStr)
}

// ChangesetEdits downloads a changeset and parses the wikidata edits in it.
func (c *Client) ChangesetEdits(ctx context.Context, id int64) ([]Edit, error) {
	data, err := c.downloadChangeset(ctx, id)
	if err != nil {
		return nil, err
	}
	return ParseChange(data)
}

func (c *Client) elementURL(key model.ElementKey) string {
	return c.Base + "/" + key.String()
}

// parseToken reads the numeric body returned by successful writes.
func parseToken(op string, body []byte) (int64, error) {
	s := strings.TrimSpace(string(body))
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, &ProtocolError{Op: op, Body: s}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &ProtocolError{Op: op, Body: s}
	}
	return n, nil
}

// IsProtocolError reports whether err is a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
