package wikidata

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/tilmanb/osm-wikidata/pkg/model"
	"github.com/tilmanb/osm-wikidata/pkg/request"
)

const (
	sparqlEndpoint = "https://query.wikidata.org/sparql"
	apiEndpoint    = "https://www.wikidata.org/w/api.php"

	// Wikidata allows max 50 IDs per request
	batchSize = 50
)

// Client talks to the wbgetentities API and the SPARQL endpoint.
type Client struct {
	request        *request.Client
	APIEndpoint    string
	SPARQLEndpoint string
	Logger         *slog.Logger
}

// NewClient creates a new Wikidata client.
func NewClient(r *request.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		request:        r,
		APIEndpoint:    apiEndpoint,
		SPARQLEndpoint: sparqlEndpoint,
		Logger:         logger.With("component", "wikidata"),
	}
}

// GetEntity fetches a single entity.
func (c *Client) GetEntity(ctx context.Context, qid string) (*model.Entity, error) {
	entities, err := c.GetEntities(ctx, []string{qid})
	if err != nil {
		return nil, err
	}
	e, ok := entities[qid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, qid)
	}
	return e, nil
}

// GetEntities fetches labels, aliases, sitelinks and claims for the given ids.
// Entities reported missing are left out of the result.
func (c *Client) GetEntities(ctx context.Context, ids []string) (map[string]*model.Entity, error) {
	result := make(map[string]*model.Entity, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	// Sort IDs to ensure consistent caching.
	sortedIDs := make([]string, len(ids))
	copy(sortedIDs, ids)
	sort.Strings(sortedIDs)
	sortedIDs = compactStrings(sortedIDs)

	for i := 0; i < len(sortedIDs); i += batchSize {
		end := min(i+batchSize, len(sortedIDs))
		idStr := strings.Join(sortedIDs[i:end], "|")

		hash := md5.Sum([]byte(idStr))
		cacheKey := fmt.Sprintf("wd_batch_%s", hex.EncodeToString(hash[:]))

		u, err := url.Parse(c.APIEndpoint)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Add("action", "wbgetentities")
		q.Add("format", "json")
		q.Add("ids", idStr)
		q.Add("props", "labels|aliases|sitelinks|claims")
		u.RawQuery = q.Encode()

		body, err := c.request.Do(ctx, request.Request{URL: u.String(), CacheKey: cacheKey, Validate: checkEntities})
		var qe *QueryError
		switch {
		case errors.As(err, &qe), errors.Is(err, ErrParse):
			return nil, err
		case err != nil:
			return nil, queryError("wbgetentities", err)
		}

		batch, err := decodeEntities(body)
		if err != nil {
			return nil, err
		}
		for id, e := range batch {
			result[id] = e
		}
	}

	c.Logger.Debug("Fetched entities", "requested", len(sortedIDs), "found", len(result))
	return result, nil
}

type entitiesResponse struct {
	Entities map[string]json.RawMessage `json:"entities"`
	Error    *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// checkEntities rejects error replies so they never reach the cache.
func checkEntities(body []byte) error {
	var resp struct {
		Error *struct {
			Code string `json:"code"`
			Info string `json:"info"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	if resp.Error != nil {
		return queryError("wbgetentities", fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Info))
	}
	return nil
}

func decodeEntities(body []byte) (map[string]*model.Entity, error) {
	var resp entitiesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if resp.Error != nil {
		return nil, queryError("wbgetentities", fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Info))
	}

	ret := make(map[string]*model.Entity, len(resp.Entities))
	for id, raw := range resp.Entities {
		var status struct {
			Missing *string `json:"missing"`
		}
		if err := json.Unmarshal(raw, &status); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		if status.Missing != nil {
			continue
		}
		e := &model.Entity{}
		if err := json.Unmarshal(raw, e); err != nil {
			return nil, fmt.Errorf("%w: entity %s: %v", ErrParse, id, err)
		}
		ret[id] = e
	}
	return ret, nil
}

// LocationNames returns the labels, in every language, of the given
// containing-location entities.
func (c *Client) LocationNames(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	entities, err := c.GetEntities(ctx, ids)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entities {
		for _, label := range e.Labels {
			names = append(names, label)
		}
	}
	sort.Strings(names)
	return compactStrings(names), nil
}

func compactStrings(s []string) []string {
	if len(s) == 0 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// IsQueryError reports whether err came from a failed query service call.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}
