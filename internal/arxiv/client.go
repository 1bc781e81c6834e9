package arxiv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"arxivchat/internal/models"
	"arxivchat/internal/util"
)

const maxBodyBytes = 64 << 20

type Client struct {
	apiBase  string
	siteBase string
	http     *http.Client
}

func NewClient(apiBase, siteBase string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		apiBase:  strings.TrimRight(apiBase, "/"),
		siteBase: strings.TrimRight(siteBase, "/"),
		http:     &http.Client{Timeout: timeout},
	}
}

// Search queries the Atom API by relevance and returns at most max papers
// sorted by publication date, newest first.
func (c *Client) Search(ctx context.Context, query string, max int) ([]models.Paper, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.Paper{}, nil
	}
	if max <= 0 {
		max = 100
	}
	v := url.Values{}
	v.Set("search_query", "all:"+query)
	v.Set("start", "0")
	v.Set("max_results", strconv.Itoa(max))
	v.Set("sortBy", "relevance")
	v.Set("sortOrder", "descending")
	body, err := c.get(ctx, c.apiBase+"/api/query?"+v.Encode())
	if err != nil {
		return nil, fmt.Errorf("arxiv search: %w", err)
	}
	papers, err := decodeFeed(body)
	if err != nil {
		return nil, err
	}
	SortByPublished(papers)
	return papers, nil
}

// Lookup fetches metadata for one id.
func (c *Client) Lookup(ctx context.Context, id string) (models.Paper, error) {
	id = NormalizeID(id)
	if id == "" {
		return models.Paper{}, fmt.Errorf("arxiv lookup: empty id: %w", util.ErrNotFound)
	}
	v := url.Values{}
	v.Set("id_list", id)
	body, err := c.get(ctx, c.apiBase+"/api/query?"+v.Encode())
	if err != nil {
		return models.Paper{}, fmt.Errorf("arxiv lookup %s: %w", id, err)
	}
	papers, err := decodeFeed(body)
	if err != nil {
		return models.Paper{}, err
	}
	for _, p := range papers {
		if p.PaperID == id && p.Title != "" {
			return p, nil
		}
	}
	return models.Paper{}, fmt.Errorf("arxiv lookup %s: %w", id, util.ErrNotFound)
}

// FetchHTML downloads the rendered HTML full text. Older papers have none
// and return util.ErrNotFound.
func (c *Client) FetchHTML(ctx context.Context, id string) ([]byte, error) {
	body, err := c.get(ctx, c.siteBase+"/html/"+NormalizeID(id))
	if err != nil {
		return nil, fmt.Errorf("arxiv html %s: %w", id, err)
	}
	return body, nil
}

// FetchPDF downloads the PDF at pdfURL, or the canonical PDF for id when
// pdfURL is empty.
func (c *Client) FetchPDF(ctx context.Context, id, pdfURL string) ([]byte, error) {
	if pdfURL == "" {
		pdfURL = c.siteBase + "/pdf/" + NormalizeID(id)
	}
	body, err := c.get(ctx, pdfURL)
	if err != nil {
		return nil, fmt.Errorf("arxiv pdf %s: %w", id, err)
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "arxivchat/1.0")
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", util.ErrExternalUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", util.ErrExternalUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, util.ErrNotFound)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", util.ErrExternalUnavailable, resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// SortByPublished orders newest first; papers without a date go last.
func SortByPublished(papers []models.Paper) {
	sort.SliceStable(papers, func(i, j int) bool {
		a, b := papers[i].PublishedAt, papers[j].PublishedAt
		if a == nil || b == nil {
			return a != nil
		}
		return a.After(*b)
	})
}
