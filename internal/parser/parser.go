// Package parser extracts structural facts from raw Markdown bytes:
// frontmatter journal date and tags, ATX headings, wikilink outlinks, and
// inline hashtags. All spans are byte offsets into the original input.
package parser

import (
	"bytes"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	headingRe  = regexp.MustCompile(`^[ \t]{0,3}(#{1,6})[ \t]+(.*)$`)
	closingRe  = regexp.MustCompile(`\s+#+\s*$`)
	fmKeyRe    = regexp.MustCompile(`^([A-Za-z0-9_-]+)\s*:\s*(.*)$`)
	fmItemRe   = regexp.MustCompile(`^\s*-\s*(.+?)\s*$`)
	inlineTagRe = regexp.MustCompile(`(^|[\s\(\[\{<"':;.,!?])#([A-Za-z0-9_/-]+)`)
)

const (
	frontmatterDelim = "---"
	codeFence        = "```"
)

// Heading is one ATX heading with its byte span.
type Heading struct {
	Ord       int
	Level     int
	Text      string
	StartByte int
	EndByte   int
}

// Outlink is one [[target#section|alias]] wikilink with its byte span.
type Outlink struct {
	Ord       int
	Target    string
	Section   string
	Alias     string
	Raw       string
	StartByte int
	EndByte   int
}

// Parsed holds the output of parsing one Markdown file.
type Parsed struct {
	// JournalDate is the normalized YYYY-MM-DD frontmatter date, or ""
	// when absent or unparseable.
	JournalDate     string
	FrontmatterTags []string
	InlineTags      []string
	Headings        []Heading
	Outlinks        []Outlink
}

// Options configures frontmatter date extraction.
type Options struct {
	// JournalDateKey is the frontmatter key holding the note's date.
	JournalDateKey string
	// JournalDateLayouts are Go time layouts tried in order.
	JournalDateLayouts []string
}

// Parse extracts headings, outlinks, and tags from raw Markdown bytes.
// Links and tags inside fenced or inline code are ignored.
func Parse(data []byte, opts Options) *Parsed {
	journalDate, fmTags, contentStart := parseFrontmatter(data, opts)

	var (
		headings   []Heading
		outlinks   []Outlink
		inlineTags []string
		inFence    bool
	)

	forEachLine(data[contentStart:], func(lineStart int, line []byte) {
		absLineStart := contentStart + lineStart
		stripped := bytes.TrimLeft(line, " \t")
		if bytes.HasPrefix(stripped, []byte(codeFence)) {
			inFence = !inFence
			return
		}
		if inFence {
			return
		}

		if m := headingRe.FindSubmatch(line); m != nil {
			text := strings.TrimSpace(string(m[2]))
			text = strings.TrimSpace(closingRe.ReplaceAllString(text, ""))
			indent := len(line) - len(stripped)
			headings = append(headings, Heading{
				Ord:       len(headings),
				Level:     len(m[1]),
				Text:      text,
				StartByte: absLineStart + indent,
				EndByte:   absLineStart + len(line),
			})
		}

		for _, seg := range outsideInlineCode(line) {
			scanOutlinks(line, seg, absLineStart, &outlinks)

			for _, m := range inlineTagRe.FindAllStringSubmatch(string(line[seg.start:seg.end]), -1) {
				if m[2] != "" {
					inlineTags = append(inlineTags, m[2])
				}
			}
		}
	})

	return &Parsed{
		JournalDate:     journalDate,
		FrontmatterTags: fmTags,
		InlineTags:      sortedUnique(inlineTags),
		Headings:        headings,
		Outlinks:        outlinks,
	}
}

// forEachLine visits every line of data (without the trailing newline),
// passing the line's byte offset into data.
func forEachLine(data []byte, fn func(lineStart int, line []byte)) {
	offset := 0
	for {
		nl := bytes.IndexByte(data[offset:], '\n')
		if nl == -1 {
			fn(offset, data[offset:])
			return
		}
		fn(offset, data[offset:offset+nl])
		offset += nl + 1
	}
}

type segment struct{ start, end int }

// outsideInlineCode returns the byte segments of line not enclosed in
// backtick inline-code spans.
func outsideInlineCode(line []byte) []segment {
	var segs []segment
	inCode := false
	segStart := 0
	for i, b := range line {
		if b != '`' {
			continue
		}
		if inCode {
			segStart = i + 1
			inCode = false
		} else {
			if segStart < i {
				segs = append(segs, segment{segStart, i})
			}
			inCode = true
		}
	}
	if !inCode && segStart < len(line) {
		segs = append(segs, segment{segStart, len(line)})
	}
	return segs
}

// scanOutlinks appends every well-formed [[...]] marker inside one segment.
// Malformed or non-UTF-8 markers are skipped without error.
func scanOutlinks(line []byte, seg segment, absLineStart int, out *[]Outlink) {
	s := line[seg.start:seg.end]
	idx := 0
	for {
		open := bytes.Index(s[idx:], []byte("[["))
		if open == -1 {
			return
		}
		open += idx
		close := bytes.Index(s[open+2:], []byte("]]"))
		if close == -1 {
			return
		}
		close += open + 2
		raw := s[open : close+2]
		inner := bytes.Trim(s[open+2:close], " \t")
		idx = close + 2

		if !utf8.Valid(inner) {
			continue
		}
		innerStr := string(inner)

		left, alias := innerStr, ""
		if i := strings.Index(innerStr, "|"); i >= 0 {
			left, alias = innerStr[:i], strings.TrimSpace(innerStr[i+1:])
		}
		target, section := left, ""
		if i := strings.Index(left, "#"); i >= 0 {
			target, section = left[:i], strings.TrimSpace(left[i+1:])
		}
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}

		*out = append(*out, Outlink{
			Ord:       len(*out),
			Target:    target,
			Section:   section,
			Alias:     alias,
			Raw:       string(raw),
			StartByte: absLineStart + seg.start + open,
			EndByte:   absLineStart + seg.start + close + 2,
		})
	}
}

// parseFrontmatter recognizes a leading "---" delimited block and extracts the
// journal date and tags. It returns the byte offset where content starts
// (0 when no frontmatter is present).
func parseFrontmatter(data []byte, opts Options) (journalDate string, tags []string, contentStart int) {
	if !bytes.HasPrefix(data, []byte(frontmatterDelim+"\n")) &&
		!bytes.HasPrefix(data, []byte(frontmatterDelim+"\r\n")) {
		return "", nil, 0
	}

	firstNl := bytes.IndexByte(data, '\n')
	if firstNl == -1 {
		return "", nil, 0
	}

	// Find the closing delimiter line.
	end := -1
	offset := firstNl + 1
	for offset < len(data) {
		nextNl := bytes.IndexByte(data[offset:], '\n')
		var line []byte
		var lineEnd int
		if nextNl == -1 {
			line = data[offset:]
			lineEnd = len(data)
		} else {
			line = data[offset : offset+nextNl]
			lineEnd = offset + nextNl
		}
		if string(bytes.TrimRight(line, "\r")) == frontmatterDelim {
			if nextNl == -1 {
				end = len(data)
			} else {
				end = lineEnd + 1
			}
			break
		}
		if nextNl == -1 {
			break
		}
		offset = lineEnd + 1
	}
	if end == -1 {
		return "", nil, 0
	}

	fmBlock := bytes.TrimLeft(data[len(frontmatterDelim):end], "\r\n")
	lines := splitLines(fmBlock)

	i := 0
	for i < len(lines) {
		raw := lines[i]
		line := strings.TrimSpace(string(raw))
		i++
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := fmKeyRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key, value := m[1], strings.TrimSpace(m[2])

		if key == opts.JournalDateKey {
			journalDate = tryParseDate(value, opts.JournalDateLayouts)
			continue
		}
		if key != "tags" {
			continue
		}

		switch {
		case strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]"):
			inner := strings.TrimSpace(value[1 : len(value)-1])
			if inner != "" {
				for _, p := range strings.Split(inner, ",") {
					if t := cleanTag(p); t != "" {
						tags = append(tags, t)
					}
				}
			}
		case value != "":
			if t := cleanTag(value); t != "" {
				tags = append(tags, t)
			}
		default:
			// YAML block list form.
			for i < len(lines) {
				item := lines[i]
				if fmKeyRe.MatchString(strings.TrimSpace(string(item))) {
					break
				}
				if im := fmItemRe.FindStringSubmatch(string(item)); im != nil {
					if t := cleanTag(im[1]); t != "" {
						tags = append(tags, t)
					}
				}
				i++
			}
		}
	}

	return journalDate, sortedUnique(tags), end
}

func splitLines(b []byte) [][]byte {
	if len(b) == 0 {
		return nil
	}
	lines := bytes.Split(b, []byte("\n"))
	for i, l := range lines {
		lines[i] = bytes.TrimRight(l, "\r")
	}
	return lines
}

func cleanTag(s string) string {
	t := strings.TrimSpace(s)
	t = strings.Trim(t, `"'`)
	t = strings.TrimLeft(t, "#")
	return strings.TrimSpace(t)
}

// tryParseDate parses value against the configured layouts and normalizes
// to YYYY-MM-DD. Unparseable values yield "" silently.
func tryParseDate(value string, layouts []string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if (strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) && len(v) >= 2) ||
		(strings.HasPrefix(v, `'`) && strings.HasSuffix(v, `'`) && len(v) >= 2) {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
