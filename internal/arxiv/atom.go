package arxiv

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
	"time"

	"arxivchat/internal/models"
)

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID         string         `xml:"id"`
	Title      string         `xml:"title"`
	Summary    string         `xml:"summary"`
	Published  string         `xml:"published"`
	Authors    []atomAuthor   `xml:"author"`
	Categories []atomCategory `xml:"category"`
	Links      []atomLink     `xml:"link"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

var (
	spaceRE   = regexp.MustCompile(`\s+`)
	versionRE = regexp.MustCompile(`v\d+$`)
)

// NormalizeID strips URL prefixes and the version suffix from an arXiv id:
// "http://arxiv.org/abs/2401.00001v2" becomes "2401.00001".
func NormalizeID(raw string) string {
	id := strings.TrimSpace(raw)
	for _, marker := range []string{"/abs/", "/pdf/", "/html/"} {
		if i := strings.Index(id, marker); i >= 0 {
			id = id[i+len(marker):]
		}
	}
	id = strings.TrimPrefix(id, "arXiv:")
	id = strings.TrimSuffix(id, ".pdf")
	id = strings.TrimSuffix(id, "/")
	return versionRE.ReplaceAllString(id, "")
}

func decodeFeed(body []byte) ([]models.Paper, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode atom feed: %w", err)
	}
	out := make([]models.Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		// The API reports query errors as a single entry whose id is an error URL.
		if strings.Contains(e.ID, "/api/errors") {
			return nil, fmt.Errorf("arxiv query error: %s", clean(e.Summary))
		}
		out = append(out, e.paper())
	}
	return out, nil
}

func (e atomEntry) paper() models.Paper {
	p := models.Paper{
		PaperID:  NormalizeID(e.ID),
		Title:    clean(e.Title),
		Abstract: clean(e.Summary),
		Status:   models.PaperStatusPending,
	}
	for _, a := range e.Authors {
		if name := clean(a.Name); name != "" {
			p.Authors = append(p.Authors, name)
		}
	}
	for _, c := range e.Categories {
		if c.Term != "" {
			p.Categories = append(p.Categories, c.Term)
		}
	}
	for _, l := range e.Links {
		if l.Title == "pdf" || l.Type == "application/pdf" {
			p.PDFURL = l.Href
		}
	}
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
		p.PublishedAt = &ts
	}
	return p
}

func clean(s string) string {
	return strings.TrimSpace(spaceRE.ReplaceAllString(s, " "))
}
