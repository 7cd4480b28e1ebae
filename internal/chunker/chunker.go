// Package chunker produces a deterministic, byte-safe partition of a
// Markdown file into content-addressed chunks. It is pure: input bytes and
// heading spans in, planned chunks out.
package chunker

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/starford/raido/internal/checksum"
)

// SplitParagraphThenWindow splits sections at paragraph boundaries first and
// windows any piece still over the byte limit.
const SplitParagraphThenWindow = "paragraph_then_window"

// Config controls how files are partitioned.
type Config struct {
	MinBytes        int
	MaxBytes        int
	SplitStrategy   string
	IncludePreamble bool
}

// Signature encodes the config parameters that invalidate a chunk plan.
func (c Config) Signature() string {
	preamble := 0
	if c.IncludePreamble {
		preamble = 1
	}
	return fmt.Sprintf("min=%d;max=%d;split=%s;preamble=%d", c.MinBytes, c.MaxBytes, c.SplitStrategy, preamble)
}

// Heading is the minimal heading view the planner needs.
type Heading struct {
	ID        int64
	Level     int
	Text      string
	StartByte int
}

// PlannedChunk is one chunk of a file with its content-addressed identity.
// ChunkID is stable across runs for the same (path, heading path, span);
// ChunkHash additionally binds the model and the chunk's text.
type PlannedChunk struct {
	HeadingID   int64 // 0 for the preamble
	HeadingPath string
	Ord         int
	StartByte   int
	EndByte     int
	TextHash    string
	ChunkID     string
	ChunkHash   string
	ByteLen     int
}

// HeadingsSignature fingerprints the heading structure a plan was built on.
func HeadingsSignature(headings []Heading) string {
	parts := make([]string, len(headings))
	for i, h := range headings {
		parts[i] = fmt.Sprintf("%d:%s:%d", h.Level, h.Text, h.StartByte)
	}
	return checksum.SumString(strings.Join(parts, "|"))
}

// PlanHash combines everything that can invalidate a file's chunk plan.
func PlanHash(contentHash, headingsSig string, cfg Config, model string, dim int) string {
	return checksum.SumString(fmt.Sprintf("%s:%s:%s:model=%s:dim=%d",
		contentHash, headingsSig, cfg.Signature(), model, dim))
}

type span struct{ start, end int }

// Plan partitions the file into chunks. Sections are the preamble (when
// configured, before the first heading) and each heading's span through the
// next heading or end of file. A file with no headings yields no chunks.
func Plan(relPath string, data []byte, headings []Heading, cfg Config, model string) ([]PlannedChunk, error) {
	if cfg.SplitStrategy != SplitParagraphThenWindow {
		return nil, fmt.Errorf("chunker: unknown split strategy: %s", cfg.SplitStrategy)
	}
	size := len(data)

	type section struct {
		headingID   int64
		headingPath string
		span
	}
	var sections []section
	if cfg.IncludePreamble && len(headings) > 0 {
		end := clamp(headings[0].StartByte, size)
		sections = append(sections, section{0, "", span{0, end}})
	}
	for i, h := range headings {
		start := clamp(h.StartByte, size)
		end := size
		if i+1 < len(headings) {
			end = clamp(headings[i+1].StartByte, size)
		}
		if end > start {
			sections = append(sections, section{h.ID, headingPathFor(headings, i), span{start, end}})
		}
	}

	var planned []PlannedChunk
	for _, sec := range sections {
		pieces := splitByParagraphs(data[sec.start:sec.end], sec.start)

		var final []span
		for _, p := range pieces {
			if p.end-p.start <= cfg.MaxBytes {
				final = append(final, p)
				continue
			}
			windows, err := windowSplit(data, p.start, p.end, cfg.MaxBytes)
			if err != nil {
				return nil, err
			}
			final = append(final, windows...)
		}

		for _, s := range final {
			chunk := data[s.start:s.end]
			if !utf8.Valid(chunk) {
				return nil, fmt.Errorf("chunker: invalid UTF-8 in %s bytes[%d:%d]", relPath, s.start, s.end)
			}
			textHash := checksum.Sum(chunk)
			chunkID := checksum.SumString(fmt.Sprintf("%s:%s:%d:%d", relPath, sec.headingPath, s.start, s.end))
			chunkHash := checksum.SumString(fmt.Sprintf("%s:%s:%s", model, chunkID, textHash))
			planned = append(planned, PlannedChunk{
				HeadingID:   sec.headingID,
				HeadingPath: sec.headingPath,
				StartByte:   s.start,
				EndByte:     s.end,
				TextHash:    textHash,
				ChunkID:     chunkID,
				ChunkHash:   chunkHash,
				ByteLen:     s.end - s.start,
			})
		}
	}

	sort.Slice(planned, func(i, j int) bool {
		a, b := planned[i], planned[j]
		if a.StartByte != b.StartByte {
			return a.StartByte < b.StartByte
		}
		if a.EndByte != b.EndByte {
			return a.EndByte < b.EndByte
		}
		return a.ChunkID < b.ChunkID
	})
	for i := range planned {
		planned[i].Ord = i
	}
	return planned, nil
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// splitByParagraphs cuts immediately after each "\n\n" occurrence, keeping
// the separator bytes with the preceding piece so no bytes are dropped.
func splitByParagraphs(section []byte, absStart int) []span {
	var spans []span
	relStart := 0
	idx := 0
	for {
		found := indexOf(section, idx)
		if found == -1 {
			break
		}
		cut := found + 2
		spans = append(spans, span{absStart + relStart, absStart + cut})
		relStart = cut
		idx = cut
	}
	spans = append(spans, span{absStart + relStart, absStart + len(section)})
	out := spans[:0]
	for _, s := range spans {
		if s.end > s.start {
			out = append(out, s)
		}
	}
	return out
}

func indexOf(b []byte, from int) int {
	for i := from; i+1 < len(b); i++ {
		if b[i] == '\n' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

// windowSplit cuts [start, end) into fixed windows of at most maxBytes,
// backing each cut off by up to 4 bytes to land on a UTF-8 boundary.
// Failure to find one is fatal, never a truncation.
func windowSplit(data []byte, start, end, maxBytes int) ([]span, error) {
	var spans []span
	cur := start
	for cur < end {
		hardEnd := cur + maxBytes
		if hardEnd > end {
			hardEnd = end
		}
		safeEnd, err := safeUTF8End(data, cur, hardEnd)
		if err != nil {
			return nil, err
		}
		if safeEnd <= cur {
			return nil, fmt.Errorf("chunker: unable to make progress splitting UTF-8 window at byte %d", cur)
		}
		spans = append(spans, span{cur, safeEnd})
		cur = safeEnd
	}
	return spans, nil
}

// safeUTF8End backs end off by at most 4 bytes (the maximum UTF-8 codepoint
// length) until data[start:end] decodes as strict UTF-8.
func safeUTF8End(data []byte, start, end int) (int, error) {
	if end > len(data) {
		end = len(data)
	}
	if end <= start {
		return start, nil
	}
	for back := 0; back <= 4; back++ {
		cand := end - back
		if cand <= start {
			continue
		}
		if utf8.Valid(data[start:cand]) {
			return cand, nil
		}
	}
	return 0, fmt.Errorf("chunker: unable to split on UTF-8 boundary near byte %d", end)
}

// headingPathFor renders the hierarchical path of headings[idx] as
// "H1 Title > H2 Section", popping siblings of equal or deeper level.
func headingPathFor(headings []Heading, idx int) string {
	type frame struct {
		level int
		text  string
	}
	var stack []frame
	for j := 0; j <= idx; j++ {
		level := headings[j].Level
		text := strings.TrimSpace(headings[j].Text)
		for len(stack) > 0 && stack[len(stack)-1].level >= level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, frame{level, text})
	}
	parts := make([]string, len(stack))
	for i, f := range stack {
		parts[i] = fmt.Sprintf("H%d %s", f.level, f.text)
	}
	return strings.Join(parts, " > ")
}
