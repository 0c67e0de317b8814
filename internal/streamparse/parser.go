// Package streamparse turns a streaming model response into an ordered
// sequence of plain-text tokens and structured edit blocks.
//
// Input is a newline-delimited JSON transport where each record is shaped
// {"message":{"content":"..."}}; content is an opaque incremental text
// fragment appended to a rolling buffer and split on '\n'. Unparseable
// records are skipped, never raised.
package streamparse

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/gibsondevhouse/quilliam/internal/lineedit"
)

const fenceOpen = "```edit"

// Token is a chunk of plain response text. Complete lines are emitted
// immediately (newline included) for low-latency incremental rendering.
type Token struct {
	Text string
}

// EditBlock is one structured edit proposed by the model. Commentary is the
// concatenation of all token text emitted since the previous edit block.
type EditBlock struct {
	Edit       lineedit.Edit
	Target     lineedit.FileTarget
	Commentary string
}

// Event is either a Token or an EditBlock, never both.
type Event struct {
	Token *Token
	Block *EditBlock
}

// maxRecordBytes caps one transport line. Oversized records are drained
// and skipped like any other malformed record.
const maxRecordBytes = 2 << 20

// Parser consumes one stream exactly once, start to finish or until the
// caller stops calling Next.
type Parser struct {
	r    *bufio.Reader
	err  error
	done bool

	buf   string // partial line, no newline seen yet
	queue []Event

	inBlock    bool
	hdr        header
	body       []string
	rawLines   []string // fence line + body, for truncation fallback
	commentary strings.Builder
}

type header struct {
	mode       lineedit.Kind
	start, end int
	afterIndex int
	target     lineedit.FileTarget
}

func New(r io.Reader) *Parser {
	return &Parser{r: bufio.NewReaderSize(r, 64<<10)}
}

// Next returns the next event. It returns io.EOF once the stream is fully
// consumed; stream truncation is a normal terminal condition, not an error.
func (p *Parser) Next() (Event, error) {
	for {
		if len(p.queue) > 0 {
			ev := p.queue[0]
			p.queue = p.queue[1:]
			return ev, nil
		}
		if p.done {
			if p.err != nil {
				return Event{}, p.err
			}
			return Event{}, io.EOF
		}
		line, err := p.readRecord()
		if err != nil {
			if err != io.EOF {
				p.err = err
			}
			p.finish()
			p.done = true
			continue
		}
		raw := strings.TrimSpace(line)
		if raw == "" {
			continue
		}
		var rec struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			// Malformed transport record: skip.
			continue
		}
		if rec.Message.Content == "" {
			continue
		}
		p.feed(rec.Message.Content)
	}
}

// readRecord returns the next transport line, newline stripped. A record
// longer than maxRecordBytes is drained to its newline and returned empty
// so one oversized frame skips instead of killing the rest of the stream.
func (p *Parser) readRecord() (string, error) {
	var buf []byte
	oversize := false
	for {
		chunk, isPrefix, err := p.r.ReadLine()
		if len(chunk) > 0 && !oversize {
			if len(buf)+len(chunk) > maxRecordBytes {
				oversize = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if err != nil {
			if err == io.EOF && len(buf) > 0 {
				return string(buf), nil
			}
			return "", err
		}
		if !isPrefix {
			break
		}
	}
	if oversize {
		return "", nil
	}
	return string(buf), nil
}

// ReadAll drains the parser. Convenience for non-incremental callers.
func ReadAll(p *Parser) ([]Event, error) {
	var out []Event
	for {
		ev, err := p.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

func (p *Parser) feed(content string) {
	p.buf += content
	for {
		idx := strings.IndexByte(p.buf, '\n')
		if idx < 0 {
			return
		}
		line := p.buf[:idx]
		p.buf = p.buf[idx+1:]
		p.handleLine(line)
	}
}

func (p *Parser) handleLine(line string) {
	if p.inBlock {
		if strings.TrimSpace(line) == "```" {
			p.emitBlock()
			return
		}
		// Delete blocks expect no body, but any body lines present are
		// still consumed here rather than leaking out as text.
		p.body = append(p.body, line)
		p.rawLines = append(p.rawLines, line)
		return
	}

	trimmed := strings.TrimSpace(line)
	if trimmed == fenceOpen || strings.HasPrefix(trimmed, fenceOpen+" ") {
		hdr, ok := parseHeader(strings.TrimSpace(strings.TrimPrefix(trimmed, fenceOpen)))
		if ok {
			p.inBlock = true
			p.hdr = hdr
			p.body = nil
			p.rawLines = []string{line}
			return
		}
		// Malformed header: the fence line is not a fence at all.
	}
	p.emitText(line + "\n")
}

func (p *Parser) emitText(text string) {
	p.commentary.WriteString(text)
	p.queue = append(p.queue, Event{Token: &Token{Text: text}})
}

func (p *Parser) emitBlock() {
	var edit lineedit.Edit
	switch p.hdr.mode {
	case lineedit.KindInsert:
		edit = lineedit.Insert(p.hdr.afterIndex, p.body)
	case lineedit.KindDelete:
		edit = lineedit.Delete(p.hdr.start, p.hdr.end)
	default:
		edit = lineedit.Replace(p.hdr.start, p.hdr.end, p.body)
	}
	p.queue = append(p.queue, Event{Block: &EditBlock{
		Edit:       edit,
		Target:     p.hdr.target,
		Commentary: p.commentary.String(),
	}})
	p.commentary.Reset()
	p.inBlock = false
	p.body = nil
	p.rawLines = nil
}

// finish handles stream end. Truncation inside an open edit block is
// recovered: a block with a valid mode and at least one body line is
// synthesized from whatever was collected; otherwise the raw accumulated
// lines come back out as a final text token so nothing is dropped.
func (p *Parser) finish() {
	if p.buf != "" {
		if p.inBlock {
			p.body = append(p.body, p.buf)
			p.rawLines = append(p.rawLines, p.buf)
		} else {
			p.queue = append(p.queue, Event{Token: &Token{Text: p.buf}})
		}
		p.buf = ""
	}
	if !p.inBlock {
		return
	}
	if len(p.body) > 0 {
		p.emitBlock()
		return
	}
	text := strings.Join(p.rawLines, "\n") + "\n"
	p.inBlock = false
	p.rawLines = nil
	p.queue = append(p.queue, Event{Token: &Token{Text: text}})
}

// parseHeader parses `line=<N>[-<M>][+] [delete] [file=<kind>:<name>]`.
// All line numbers are 1-based in the header and converted to 0-based
// here. A false return means the fence line must be treated as plain text.
func parseHeader(raw string) (header, bool) {
	// file= is the last field and its name may contain spaces, so it is
	// split off before whitespace tokenization.
	fileSpec := ""
	hasFile := false
	if before, after, found := strings.Cut(raw, "file="); found {
		raw = strings.TrimSpace(before)
		fileSpec = strings.TrimSpace(after)
		hasFile = true
	}

	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return header{}, false
	}

	spec, ok := strings.CutPrefix(fields[0], "line=")
	if !ok {
		return header{}, false
	}
	insert := strings.HasSuffix(spec, "+")
	spec = strings.TrimSuffix(spec, "+")

	h := header{target: lineedit.ActiveTarget()}

	del := false
	for _, f := range fields[1:] {
		if f != "delete" {
			return header{}, false
		}
		del = true
	}
	if hasFile {
		t, ok := parseFileTarget(fileSpec)
		if !ok {
			return header{}, false
		}
		h.target = t
	}

	switch {
	case insert:
		if del || strings.Contains(spec, "-") {
			return header{}, false
		}
		n, err := strconv.Atoi(spec)
		if err != nil || n < 0 {
			return header{}, false
		}
		h.mode = lineedit.KindInsert
		h.afterIndex = n - 1
		return h, true
	default:
		var start, end int
		if lo, hi, ok := strings.Cut(spec, "-"); ok {
			n, err := strconv.Atoi(lo)
			if err != nil || n < 1 {
				return header{}, false
			}
			m, err := strconv.Atoi(hi)
			if err != nil || m < n {
				return header{}, false
			}
			start, end = n-1, m
		} else {
			n, err := strconv.Atoi(spec)
			if err != nil || n < 1 {
				return header{}, false
			}
			start, end = n-1, n
		}
		h.start, h.end = start, end
		if del {
			h.mode = lineedit.KindDelete
		} else {
			h.mode = lineedit.KindReplace
		}
		return h, true
	}
}

func parseFileTarget(raw string) (lineedit.FileTarget, bool) {
	kindRaw, name, ok := strings.Cut(raw, ":")
	if !ok {
		return lineedit.FileTarget{}, false
	}
	kind, ok := lineedit.ParseTargetKind(kindRaw)
	if !ok {
		return lineedit.FileTarget{}, false
	}
	name = strings.TrimSpace(name)
	switch kind {
	case lineedit.TargetCharacter:
		return lineedit.CharacterTarget(name), true
	case lineedit.TargetLocation:
		return lineedit.LocationTarget(name), true
	case lineedit.TargetWorld:
		return lineedit.WorldTarget(name), true
	case lineedit.TargetActive:
		return lineedit.ActiveTarget(), true
	default:
		return lineedit.FileTarget{}, false
	}
}
