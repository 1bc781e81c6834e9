package arxiv

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"arxivchat/internal/util"

	"github.com/stretchr/testify/require"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2301.00002v1</id>
    <published>2023-01-02T00:00:00Z</published>
    <title>Older
      Paper</title>
    <summary>  An older abstract. </summary>
    <author><name>Ada Lovelace</name></author>
    <category term="cs.LG"/>
    <link href="http://arxiv.org/pdf/2301.00002v1" title="pdf" type="application/pdf"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2401.00001v3</id>
    <published>2024-01-05T00:00:00Z</published>
    <title>Newer Paper</title>
    <summary>A newer abstract.</summary>
    <author><name>Alan Turing</name></author>
    <author><name>Grace Hopper</name></author>
    <category term="cs.CL"/>
    <category term="cs.AI"/>
  </entry>
</feed>`

func TestNormalizeID(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"2401.00001", "2401.00001"},
		{"2401.00001v2", "2401.00001"},
		{"http://arxiv.org/abs/2401.00001v3", "2401.00001"},
		{"https://arxiv.org/pdf/2401.00001v1.pdf", "2401.00001"},
		{"arXiv:2401.00001", "2401.00001"},
		{"http://arxiv.org/abs/hep-th/9901001v2", "hep-th/9901001"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, NormalizeID(tc.in), tc.in)
	}
}

func TestSearchSortsByPublishedDesc(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("search_query")
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, 0)
	papers, err := c.Search(context.Background(), "retrieval augmented", 10)
	require.NoError(t, err)
	require.Equal(t, "all:retrieval augmented", gotQuery)
	require.Len(t, papers, 2)
	require.Equal(t, "2401.00001", papers[0].PaperID)
	require.Equal(t, []string{"Alan Turing", "Grace Hopper"}, papers[0].Authors)
	require.Equal(t, []string{"cs.CL", "cs.AI"}, papers[0].Categories)
	require.Equal(t, "Older Paper", papers[1].Title)
	require.Equal(t, "An older abstract.", papers[1].Abstract)
	require.Equal(t, "http://arxiv.org/pdf/2301.00002v1", papers[1].PDFURL)
}

func TestLookupNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<feed xmlns="http://www.w3.org/2005/Atom"></feed>`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.URL, 0).Lookup(context.Background(), "2401.99999")
	require.ErrorIs(t, err, util.ErrNotFound)
}

func TestLookupFindsEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "2401.00001", r.URL.Query().Get("id_list"))
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	p, err := NewClient(srv.URL, srv.URL, 0).Lookup(context.Background(), "2401.00001v3")
	require.NoError(t, err)
	require.Equal(t, "Newer Paper", p.Title)
	require.NotNil(t, p.PublishedAt)
}

func TestFetchHTMLStatusMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/html/2401.00001":
			_, _ = w.Write([]byte("<html><body><h1>Title</h1></body></html>"))
		case "/html/2401.00002":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, srv.URL, 0)

	body, err := c.FetchHTML(context.Background(), "2401.00001v1")
	require.NoError(t, err)
	require.Contains(t, string(body), "<h1>Title</h1>")

	_, err = c.FetchHTML(context.Background(), "2401.00002")
	require.ErrorIs(t, err, util.ErrExternalUnavailable)

	_, err = c.FetchHTML(context.Background(), "1999.00001")
	require.ErrorIs(t, err, util.ErrNotFound)
}

func TestFetchPDFDefaultsToCanonicalURL(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	body, err := NewClient(srv.URL, srv.URL, 0).FetchPDF(context.Background(), "2401.00001v2", "")
	require.NoError(t, err)
	require.Equal(t, "/pdf/2401.00001", path)
	require.Equal(t, "%PDF-1.4", string(body))
}

func TestQueryErrorEntry(t *testing.T) {
	feed := `<feed xmlns="http://www.w3.org/2005/Atom"><entry><id>http://arxiv.org/api/errors#incorrect_id_format</id><summary>incorrect id format</summary></entry></feed>`
	_, err := decodeFeed([]byte(feed))
	require.ErrorContains(t, err, "incorrect id format")
}
