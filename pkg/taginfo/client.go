package taginfo

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/tilmanb/osm-wikidata/pkg/request"
)

const apiEndpoint = "https://taginfo.openstreetmap.org/api/4/tags/list"

// Usage is how often a tag is used and the image its wiki page shows.
type Usage struct {
	Count int64  `json:"count"`
	Image string `json:"image,omitempty"`
}

// Client queries the taginfo service.
type Client struct {
	request     *request.Client
	APIEndpoint string
}

// NewClient creates a taginfo client.
func NewClient(r *request.Client) *Client {
	return &Client{request: r, APIEndpoint: apiEndpoint}
}

type listResponse struct {
	Data []struct {
		Key      string `json:"key"`
		Value    string `json:"value"`
		CountAll int64  `json:"count_all"`
		Wiki     map[string]struct {
			Image struct {
				ImageURL string `json:"image_url"`
			} `json:"image"`
		} `json:"wiki"`
	} `json:"data"`
}

// Usage returns statistics for every key=value tag, keyed by "k=v". Bare keys
// are ignored since the endpoint only answers for tags.
func (c *Client) Usage(ctx context.Context, tags []string) (map[string]Usage, error) {
	var want []string
	for _, t := range tags {
		t = strings.TrimPrefix(t, "Tag:")
		if strings.Contains(t, "=") {
			want = append(want, t)
		}
	}
	result := make(map[string]Usage, len(want))
	if len(want) == 0 {
		return result, nil
	}
	sort.Strings(want)

	const batchSize = 50
	for i := 0; i < len(want); i += batchSize {
		end := min(i+batchSize, len(want))
		if err := c.batch(ctx, want[i:end], result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (c *Client) batch(ctx context.Context, tags []string, result map[string]Usage) error {
	list := strings.Join(tags, ",")
	u := c.APIEndpoint + "?" + url.Values{"tags": {list}}.Encode()

	hash := md5.Sum([]byte(list))
	body, err := c.request.Get(ctx, u, "taginfo_"+hex.EncodeToString(hash[:]))
	if err != nil {
		return fmt.Errorf("taginfo: %w", err)
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode json: %w", err)
	}
	for _, d := range resp.Data {
		usage := Usage{Count: d.CountAll}
		if en, ok := d.Wiki["en"]; ok {
			usage.Image = en.Image.ImageURL
		}
		result[d.Key+"="+d.Value] = usage
	}
	return nil
}
