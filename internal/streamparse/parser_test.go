package streamparse

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/gibsondevhouse/quilliam/internal/lineedit"
)

func ndjson(t *testing.T, fragments ...string) *Parser {
	t.Helper()
	var sb strings.Builder
	for _, frag := range fragments {
		b, err := json.Marshal(map[string]any{"message": map[string]any{"content": frag}})
		if err != nil {
			t.Fatalf("marshal fragment: %v", err)
		}
		sb.Write(b)
		sb.WriteByte('\n')
	}
	return New(strings.NewReader(sb.String()))
}

func drain(t *testing.T, p *Parser) []Event {
	t.Helper()
	events, err := ReadAll(p)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return events
}

func TestParser_ExampleScenario(t *testing.T) {
	t.Parallel()

	p := ndjson(t, "Hello\n```edit line=1\nHi there\n```\nBye\n")
	events := drain(t, p)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}
	if events[0].Token == nil || events[0].Token.Text != "Hello\n" {
		t.Fatalf("event 0 = %+v, want Token(Hello\\n)", events[0])
	}
	blk := events[1].Block
	if blk == nil {
		t.Fatalf("event 1 = %+v, want EditBlock", events[1])
	}
	if blk.Edit.Kind != lineedit.KindReplace || blk.Edit.Start != 0 || blk.Edit.End != 1 {
		t.Fatalf("edit = %+v, want Replace{0,1}", blk.Edit)
	}
	if len(blk.Edit.NewLines) != 1 || blk.Edit.NewLines[0] != "Hi there" {
		t.Fatalf("new lines = %v", blk.Edit.NewLines)
	}
	if blk.Target.Key() != lineedit.ActiveKey {
		t.Fatalf("target key = %q, want active", blk.Target.Key())
	}
	if blk.Commentary != "Hello\n" {
		t.Fatalf("commentary = %q, want %q", blk.Commentary, "Hello\n")
	}
	if events[2].Token == nil || events[2].Token.Text != "Bye\n" {
		t.Fatalf("event 2 = %+v, want Token(Bye\\n)", events[2])
	}
}

func TestParser_HeaderConversion(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		header string
		want   lineedit.Edit
	}{
		{"range replace", "line=3-5", lineedit.Replace(2, 5, []string{"x"})},
		{"single replace", "line=1", lineedit.Replace(0, 1, []string{"x"})},
		{"insert", "line=4+", lineedit.Insert(3, []string{"x"})},
		{"prepend", "line=0+", lineedit.Insert(-1, []string{"x"})},
		{"delete", "line=2 delete", lineedit.Delete(1, 2)},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := ndjson(t, "```edit "+tc.header+"\nx\n```\n")
			events := drain(t, p)
			if len(events) != 1 || events[0].Block == nil {
				t.Fatalf("events = %+v, want single EditBlock", events)
			}
			got := events[0].Block.Edit
			if got.Kind != tc.want.Kind || got.Start != tc.want.Start || got.End != tc.want.End || got.AfterIndex != tc.want.AfterIndex {
				t.Fatalf("edit = %+v, want %+v", got, tc.want)
			}
			if tc.want.Kind == lineedit.KindDelete && len(got.NewLines) != 0 {
				t.Fatalf("delete carried body: %v", got.NewLines)
			}
		})
	}
}

func TestParser_MalformedHeaderFallsBackToText(t *testing.T) {
	t.Parallel()

	headers := []string{
		"```edit line=abc",
		"```edit line=5-2",
		"```edit line=0",
		"```edit",
		"```edit line=3 file=faction:ember",
		"```edit line=3 bogus",
	}
	for _, fence := range headers {
		p := ndjson(t, fence+"\nafter\n")
		events := drain(t, p)
		if len(events) != 2 {
			t.Fatalf("%q: got %d events, want 2 text tokens: %+v", fence, len(events), events)
		}
		if events[0].Token == nil || events[0].Token.Text != fence+"\n" {
			t.Fatalf("%q: fence not emitted verbatim: %+v", fence, events[0])
		}
		if events[1].Token == nil || events[1].Token.Text != "after\n" {
			t.Fatalf("%q: parser left Text state: %+v", fence, events[1])
		}
	}
}

func TestParser_NonEditFenceIsText(t *testing.T) {
	t.Parallel()

	p := ndjson(t, "```go\ncode\n```\n")
	events := drain(t, p)
	if len(events) != 3 {
		t.Fatalf("events = %+v, want 3 text tokens", events)
	}
	for _, ev := range events {
		if ev.Token == nil {
			t.Fatalf("non-edit fence produced a block: %+v", ev)
		}
	}
}

func TestParser_FileTargets(t *testing.T) {
	t.Parallel()

	p := ndjson(t, "```edit line=1 file=character:Mira Voss\nnew line\n```\n")
	events := drain(t, p)
	if len(events) != 1 || events[0].Block == nil {
		t.Fatalf("events = %+v", events)
	}
	if got := events[0].Block.Target.Key(); got != "character:mira voss" {
		t.Fatalf("target key = %q", got)
	}
}

func TestParser_TruncatedBlockStillEmits(t *testing.T) {
	t.Parallel()

	p := ndjson(t, "```edit line=2-3\nfirst\nsecond\n")
	events := drain(t, p)
	if len(events) != 1 || events[0].Block == nil {
		t.Fatalf("events = %+v, want one synthesized EditBlock", events)
	}
	edit := events[0].Block.Edit
	if edit.Kind != lineedit.KindReplace || edit.Start != 1 || edit.End != 3 {
		t.Fatalf("edit = %+v", edit)
	}
	if len(edit.NewLines) != 2 || edit.NewLines[0] != "first" || edit.NewLines[1] != "second" {
		t.Fatalf("body = %v", edit.NewLines)
	}
}

func TestParser_TruncatedBlockWithoutBodyReemitsRawLines(t *testing.T) {
	t.Parallel()

	p := ndjson(t, "```edit line=2\n")
	events := drain(t, p)
	if len(events) != 1 || events[0].Token == nil {
		t.Fatalf("events = %+v, want one text token", events)
	}
	if got := events[0].Token.Text; got != "```edit line=2\n" {
		t.Fatalf("text = %q", got)
	}
}

func TestParser_PartialTrailingTextFlushedAtEnd(t *testing.T) {
	t.Parallel()

	p := ndjson(t, "complete\npartial")
	events := drain(t, p)
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Token.Text != "complete\n" || events[1].Token.Text != "partial" {
		t.Fatalf("tokens = %q, %q", events[0].Token.Text, events[1].Token.Text)
	}
}

func TestParser_FragmentsSplitMidLine(t *testing.T) {
	t.Parallel()

	p := ndjson(t, "Hel", "lo\n```edit li", "ne=1\nHi\n``", "`\n")
	events := drain(t, p)
	if len(events) != 2 {
		t.Fatalf("events = %+v, want token + block", events)
	}
	if events[0].Token == nil || events[0].Token.Text != "Hello\n" {
		t.Fatalf("event 0 = %+v", events[0])
	}
	if events[1].Block == nil || events[1].Block.Edit.Kind != lineedit.KindReplace {
		t.Fatalf("event 1 = %+v", events[1])
	}
}

func TestParser_CommentaryResetsBetweenBlocks(t *testing.T) {
	t.Parallel()

	p := ndjson(t, "one\n```edit line=1\na\n```\ntwo\n```edit line=2\nb\n```\n")
	events := drain(t, p)
	var blocks []*EditBlock
	for _, ev := range events {
		if ev.Block != nil {
			blocks = append(blocks, ev.Block)
		}
	}
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if blocks[0].Commentary != "one\n" {
		t.Fatalf("block 0 commentary = %q", blocks[0].Commentary)
	}
	if blocks[1].Commentary != "two\n" {
		t.Fatalf("block 1 commentary = %q", blocks[1].Commentary)
	}
}

func TestParser_SkipsUnparseableTransportLines(t *testing.T) {
	t.Parallel()

	raw := "not json at all\n" + `{"message":{"content":"ok\n"}}` + "\n"
	p := New(strings.NewReader(raw))
	events := drain(t, p)
	if len(events) != 1 || events[0].Token == nil || events[0].Token.Text != "ok\n" {
		t.Fatalf("events = %+v", events)
	}
}

func TestParser_OversizedTransportLineSkipped(t *testing.T) {
	t.Parallel()

	huge := strings.Repeat("x", (2<<20)+16)
	raw := huge + "\n" + `{"message":{"content":"before\n"}}` + "\n" +
		huge + "\n" + `{"message":{"content":"after\n"}}` + "\n"
	p := New(strings.NewReader(raw))
	events := drain(t, p)
	if len(events) != 2 {
		t.Fatalf("got %d events, want records around the oversized frames: %+v", len(events), events)
	}
	if events[0].Token == nil || events[0].Token.Text != "before\n" {
		t.Fatalf("event 0 = %+v", events[0])
	}
	if events[1].Token == nil || events[1].Token.Text != "after\n" {
		t.Fatalf("event 1 = %+v", events[1])
	}
}

func TestParser_DeleteBodyConsumedNotText(t *testing.T) {
	t.Parallel()

	p := ndjson(t, "```edit line=2 delete\nstray body\n```\nafter\n")
	events := drain(t, p)
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	blk := events[0].Block
	if blk == nil || blk.Edit.Kind != lineedit.KindDelete {
		t.Fatalf("event 0 = %+v", events[0])
	}
	if len(blk.Edit.NewLines) != 0 {
		t.Fatalf("delete edit carried lines: %v", blk.Edit.NewLines)
	}
	if events[1].Token == nil || events[1].Token.Text != "after\n" {
		t.Fatalf("event 1 = %+v", events[1])
	}
}
