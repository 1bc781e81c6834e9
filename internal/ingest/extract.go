package ingest

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"arxivchat/internal/util"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ExtractHTML renders an arXiv HTML paper as markdown-like text: headings
// become #, ## or ###, list items become "- " lines and inline math keeps its
// TeX source.
func ExtractHTML(body []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	w := &mdWriter{}
	root := findFirst(doc, atom.Article)
	if root == nil {
		root = findFirst(doc, atom.Body)
	}
	if root == nil {
		root = doc
	}
	w.walk(root)
	text := spaceRunRE.ReplaceAllString(w.String(), " ")
	text = lineIndentRE.ReplaceAllString(text, "\n")
	text = util.NormalizeMarkdown(text)
	if text == "" {
		return "", util.ErrNoExtractableText
	}
	return text, nil
}

// ExtractPDF returns the plain text layer of a PDF document.
func ExtractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	return plainText(r)
}

// ExtractPDFFile is ExtractPDF for a file on disk.
func ExtractPDFFile(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	return plainText(r)
}

func plainText(r *pdf.Reader) (string, error) {
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	text := util.SanitizeText(strings.TrimSpace(buf.String()))
	if text == "" {
		return "", util.ErrNoExtractableText
	}
	return text, nil
}

var (
	spaceRunRE   = regexp.MustCompile(`[ \t]{2,}`)
	lineIndentRE = regexp.MustCompile(`\n[ \t]+`)
)

var skipped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Nav: true,
	atom.Header: true, atom.Footer: true, atom.Button: true, atom.Svg: true,
	atom.Form: true, atom.Head: true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Blockquote: true, atom.Pre: true, atom.Figure: true, atom.Figcaption: true,
	atom.Table: true, atom.Ul: true, atom.Ol: true, atom.Dl: true, atom.Dd: true, atom.Dt: true,
}

type mdWriter struct {
	strings.Builder
}

func (w *mdWriter) block() {
	w.WriteString("\n\n")
}

func (w *mdWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.ElementNode:
	default:
		w.children(n)
		return
	}
	if skipped[n.DataAtom] {
		return
	}
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		w.block()
		w.WriteString(strings.Repeat("#", headingLevel(n.DataAtom)))
		w.WriteByte(' ')
		w.WriteString(collapse(textOf(n)))
		w.block()
	case atom.Math:
		if tex := attr(n, "alttext"); tex != "" {
			w.WriteString(" $" + tex + "$ ")
			return
		}
		w.children(n)
	case atom.Li:
		w.WriteString("\n- ")
		w.children(n)
	case atom.Br:
		w.WriteByte('\n')
	case atom.Tr:
		w.WriteByte('\n')
		w.children(n)
	case atom.Td, atom.Th:
		w.children(n)
		w.WriteString(" | ")
	default:
		if blocks[n.DataAtom] {
			w.block()
			w.children(n)
			w.block()
			return
		}
		w.children(n)
	}
}

func (w *mdWriter) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *mdWriter) text(s string) {
	s = collapse(s)
	if s == "" {
		return
	}
	w.WriteString(s)
	w.WriteByte(' ')
}

// headingLevel maps h4..h6 onto ### so the chunker still sees them.
func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	default:
		return 3
	}
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Math {
			if tex := attr(n, "alttext"); tex != "" {
				b.WriteString("$" + tex + "$ ")
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}
