package trickle

import (
	"strings"
)

// SegmentKind classifies a span of message text.
type SegmentKind string

const (
	SegmentText SegmentKind = "text"
	SegmentCode SegmentKind = "code"
)

// defaultLanguage tags a fence opened without an info string.
const defaultLanguage = "text"

const fence = "```"

// Segment is a contiguous span of message text classified as prose or code.
//
// Content is what a renderer shows: the prose itself, or the fenced code
// with its leading blank lines and trailing whitespace removed. Raw is the
// exact source span the segment covers, including fences and any
// whitespace-only text folded into it, so that Render(Parse(s)) == s.
type Segment struct {
	Kind     SegmentKind
	Content  string
	Language string // code segments only
	Raw      string
}

// CopyOnly reports whether the segment is a shell snippet meant to be
// copied and run inline rather than opened as an Artifact.
func (s Segment) CopyOnly() bool {
	return s.Kind == SegmentCode && strings.EqualFold(s.Language, "bash")
}

// Promotable reports whether the segment may be turned into an Artifact.
func (s Segment) Promotable() bool {
	return s.Kind == SegmentCode && !s.CopyOnly()
}

// Parse splits text into ordered segments. A code segment is a region
// opened by three backticks followed by an info line, and closed by the
// next three backticks. Text between fences that is only whitespace does
// not become a segment of its own. An opening fence that has not been
// closed yet leaves the remainder as text, so partially streamed code stays
// visible.
func Parse(text string) []Segment {
	closed, end := scan(text, 0)
	return finish(closed, text[end:])
}

// Render concatenates the source spans of segments. For segments produced
// by Parse it reproduces the parsed text exactly.
func Render(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s.Raw)
	}
	return b.String()
}

// Segmenter re-segments a growing buffer. When the new text extends the
// previous one, fences closed in earlier passes are kept and only the text
// after the last closing fence is scanned again.
//
// A Segmenter is not safe for concurrent use.
type Segmenter struct {
	text   string
	closed []Segment
	end    int
}

// Update returns the segments for text.
func (s *Segmenter) Update(text string) []Segment {
	if !strings.HasPrefix(text, s.text) {
		s.closed = nil
		s.end = 0
	}
	more, end := scan(text, s.end)
	s.closed = append(s.closed, more...)
	s.end = end
	s.text = text
	return finish(s.closed, text[end:])
}

// Reset forgets all previously scanned text.
func (s *Segmenter) Reset() {
	*s = Segmenter{}
}

// scan collects segments for every fence closed at or after from. It
// returns them along with the offset just past the last closing fence.
// Text after that offset is undecided: it may still become code.
func scan(text string, from int) ([]Segment, int) {
	var segs []Segment
	end, pos := from, from
	for {
		i := strings.Index(text[pos:], fence)
		if i < 0 {
			break
		}
		open := pos + i
		lang, body, ok := openFence(text, open)
		if !ok {
			pos = open + 1
			continue
		}
		j := strings.Index(text[body:], fence)
		if j < 0 {
			break
		}
		stop := body + j + len(fence)

		gap := text[end:open]
		if strings.TrimSpace(gap) != "" {
			segs = append(segs, Segment{Kind: SegmentText, Content: gap, Raw: gap})
			gap = ""
		}
		segs = append(segs, Segment{
			Kind:     SegmentCode,
			Content:  trimCode(text[body : body+j]),
			Language: lang,
			Raw:      gap + text[open:stop],
		})
		end, pos = stop, stop
	}
	return segs, end
}

// openFence checks for an opening fence at offset open. The info line must
// be terminated by a newline and may not contain a backtick. It returns the
// language and the offset where the code body starts.
func openFence(text string, open int) (string, int, bool) {
	after := open + len(fence)
	nl := strings.IndexByte(text[after:], '\n')
	if nl < 0 {
		return "", 0, false
	}
	info := text[after : after+nl]
	if strings.Contains(info, "`") {
		return "", 0, false
	}
	lang := defaultLanguage
	if fields := strings.Fields(info); len(fields) > 0 {
		lang = fields[0]
	}
	return lang, after + nl + 1, true
}

// finish appends the undecided tail to a copy of closed.
func finish(closed []Segment, tail string) []Segment {
	out := make([]Segment, len(closed), len(closed)+1)
	copy(out, closed)
	switch {
	case tail == "":
	case strings.TrimSpace(tail) != "" || len(out) == 0:
		out = append(out, Segment{Kind: SegmentText, Content: tail, Raw: tail})
	default:
		out[len(out)-1].Raw += tail
	}
	return out
}

func trimCode(s string) string {
	s = strings.TrimLeft(s, "\r\n")
	return strings.TrimRight(s, " \t\r\n")
}
