package wikipedia

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/tilmanb/osm-wikidata/pkg/request"
)

const apiEndpoint = "https://en.wikipedia.org/w/api.php"

// Client handles Wikipedia API interactions.
type Client struct {
	request     *request.Client
	APIEndpoint string
}

// NewClient creates a new Wikipedia client.
func NewClient(r *request.Client) *Client {
	return &Client{request: r, APIEndpoint: apiEndpoint}
}

type categoriesResponse struct {
	Continue map[string]string `json:"continue"`
	Query    struct {
		Normalized []redirect `json:"normalized"`
		Redirects  []redirect `json:"redirects"`
		Pages      map[string]struct {
			Title      string `json:"title"`
			Categories []struct {
				Title string `json:"title"`
			} `json:"categories"`
		} `json:"pages"`
	} `json:"query"`
}

type redirect struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PageCategories returns the visible categories of each article, keyed by the
// requested title. Category names are returned without the "Category:" prefix.
func (c *Client) PageCategories(ctx context.Context, titles []string) (map[string][]string, error) {
	result := make(map[string][]string)
	if len(titles) == 0 {
		return result, nil
	}

	// API limits: 50 titles per request
	const batchSize = 50
	for i := 0; i < len(titles); i += batchSize {
		end := min(i+batchSize, len(titles))
		if err := c.categoryBatch(ctx, titles[i:end], result); err != nil {
			return nil, err
		}
	}

	for title, cats := range result {
		sort.Strings(cats)
		result[title] = cats
	}
	return result, nil
}

func (c *Client) categoryBatch(ctx context.Context, batch []string, result map[string][]string) error {
	byTitle := make(map[string][]string)
	aliases := make(map[string]string) // resolved title -> requested title
	for _, t := range batch {
		aliases[t] = t
	}

	cont := map[string]string{"continue": ""}
	for cont != nil {
		form := url.Values{}
		form.Add("action", "query")
		form.Add("prop", "categories")
		form.Add("clshow", "!hidden")
		form.Add("cllimit", "max")
		form.Add("titles", strings.Join(batch, "|"))
		form.Add("format", "json")
		form.Add("redirects", "1")
		for k, v := range cont {
			form.Set(k, v)
		}

		body, err := c.request.PostForm(ctx, c.APIEndpoint, form, "")
		if err != nil {
			return fmt.Errorf("wikipedia categories: %w", err)
		}

		var resp categoriesResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("failed to decode json: %w", err)
		}

		for _, r := range append(resp.Query.Normalized, resp.Query.Redirects...) {
			if orig, ok := aliases[r.From]; ok {
				aliases[r.To] = orig
			}
		}
		for _, page := range resp.Query.Pages {
			for _, cat := range page.Categories {
				byTitle[page.Title] = append(byTitle[page.Title], strings.TrimPrefix(cat.Title, "Category:"))
			}
		}
		cont = resp.Continue
	}

	for title, cats := range byTitle {
		orig, ok := aliases[title]
		if !ok {
			orig = title
		}
		result[orig] = append(result[orig], cats...)
	}
	return nil
}
