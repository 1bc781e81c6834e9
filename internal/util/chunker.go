package util

import (
	"regexp"
	"strings"
)

// TextChunk is one window of a chunked document.
type TextChunk struct {
	Text    string
	Section string
}

// ChunkText splits text into overlapping rune windows. For text longer than
// chunkSize it yields ceil((len-overlap)/(chunkSize-overlap)) windows.
func ChunkText(text string, chunkSize, overlap int) []string {
	spans := windows(text, chunkSize, overlap)
	out := make([]string, 0, len(spans))
	for _, s := range spans {
		out = append(out, s.text)
	}
	return out
}

type span struct {
	start int
	text  string
}

func windows(text string, chunkSize, overlap int) []span {
	if chunkSize <= 0 {
		chunkSize = 1024
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}
	runes := []rune(text)
	step := chunkSize - overlap
	out := make([]span, 0, len(runes)/step+1)
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		part := strings.TrimSpace(string(runes[i:end]))
		if part != "" {
			out = append(out, span{start: i, text: part})
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

var headingRE = regexp.MustCompile(`^(#{1,3})\s+(.+?)\s*$`)

// ChunkWindows runs ChunkText over the whole document and tags each window
// with the nearest heading at or before its start.
func ChunkWindows(text string, chunkSize, overlap int) []TextChunk {
	headings := headingOffsets(text)
	spans := windows(text, chunkSize, overlap)
	out := make([]TextChunk, 0, len(spans))
	for _, s := range spans {
		out = append(out, TextChunk{Text: s.text, Section: sectionAt(headings, s.start)})
	}
	return out
}

// ChunkMarkdown splits on #, ## and ### headings first, then windows each
// section that exceeds chunkSize.
func ChunkMarkdown(text string, chunkSize, overlap int) []TextChunk {
	sections := SplitMarkdownSections(text)
	out := make([]TextChunk, 0, len(sections))
	for _, s := range sections {
		for _, p := range ChunkText(s.Text, chunkSize, overlap) {
			out = append(out, TextChunk{Text: p, Section: s.Section})
		}
	}
	return out
}

// SplitMarkdownSections groups lines under their most recent heading. The
// heading line stays in the section body.
func SplitMarkdownSections(text string) []TextChunk {
	lines := strings.Split(text, "\n")
	out := make([]TextChunk, 0)
	var cur strings.Builder
	section := ""
	flush := func() {
		body := strings.TrimSpace(cur.String())
		if body != "" {
			out = append(out, TextChunk{Text: body, Section: section})
		}
		cur.Reset()
	}
	for _, line := range lines {
		if m := headingRE.FindStringSubmatch(line); m != nil {
			flush()
			section = m[2]
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	flush()
	return out
}

type headingOffset struct {
	rune  int
	title string
}

func headingOffsets(text string) []headingOffset {
	out := make([]headingOffset, 0)
	offset := 0
	for _, line := range strings.Split(text, "\n") {
		if m := headingRE.FindStringSubmatch(line); m != nil {
			out = append(out, headingOffset{rune: offset, title: m[2]})
		}
		offset += len([]rune(line)) + 1
	}
	return out
}

func sectionAt(headings []headingOffset, pos int) string {
	title := ""
	for _, h := range headings {
		if h.rune > pos {
			break
		}
		title = h.title
	}
	return title
}
