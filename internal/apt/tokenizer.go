package apt

import (
	"bufio"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

const maxLineLength = 1 << 20

// FieldLine is one physical line of a control document.
type FieldLine struct {
	Number int // 1-based
	Text   string
}

// Field is one logical field of a control document.
type Field struct {
	Name string
	// Value is the first line's value followed by every continuation
	// line, joined with single spaces.
	Value string
	// Head is the value text on the "Name: value" line itself.
	Head string
	// Line is the line number of the "Name: value" line.
	Line int
	// Continuations holds the continuation lines with surrounding
	// whitespace removed.
	Continuations []FieldLine
}

// Tokenizer splits a control document into fields.
//
// A Tokenizer reads its input once; Next returns io.EOF after the end
// of the first paragraph.
type Tokenizer struct {
	scanner *bufio.Scanner
	lineNo  int
	pending *Field
	done    bool
}

// NewTokenizer returns a Tokenizer reading from r.
func NewTokenizer(r io.Reader) *Tokenizer {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	return &Tokenizer{scanner: s}
}

// Next returns the next field, or io.EOF when the paragraph has ended.
func (t *Tokenizer) Next() (Field, error) {
	for !t.done {
		if !t.scanner.Scan() {
			t.done = true
			if err := t.scanner.Err(); err != nil {
				if errors.Is(err, bufio.ErrTooLong) {
					return Field{}, fail(&MalformedFieldError{Line: t.lineNo + 1, Reason: "line too long"})
				}
				return Field{}, errors.Wrap(err, "read control document")
			}
			break
		}
		t.lineNo++
		line := strings.TrimSuffix(t.scanner.Text(), "\r")

		if !utf8.ValidString(line) {
			t.done = true
			return Field{}, fail(&MalformedFieldError{Line: t.lineNo, Reason: "invalid UTF-8"})
		}

		if strings.TrimSpace(line) == "" {
			if t.pending == nil {
				// blank lines before the paragraph
				continue
			}
			t.done = true
			break
		}

		if line[0] == ' ' || line[0] == '\t' {
			if t.pending == nil {
				t.done = true
				return Field{}, fail(&MalformedFieldError{
					Line:   t.lineNo,
					Text:   line,
					Reason: "continuation line without a field",
				})
			}
			t.pending.appendContinuation(t.lineNo, line)
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			t.done = true
			return Field{}, fail(&MalformedFieldError{
				Line:   t.lineNo,
				Text:   line,
				Reason: "missing colon separator",
			})
		}
		name = strings.TrimSpace(name)
		if name == "" || strings.ContainsAny(name, " \t") {
			t.done = true
			return Field{}, fail(&MalformedFieldError{
				Line:   t.lineNo,
				Text:   line,
				Reason: "invalid field name",
			})
		}

		value = strings.TrimSpace(value)
		next := &Field{Name: name, Value: value, Head: value, Line: t.lineNo}
		prev := t.pending
		t.pending = next
		if prev != nil {
			return *prev, nil
		}
	}

	if t.pending != nil {
		f := *t.pending
		t.pending = nil
		return f, nil
	}
	return Field{}, io.EOF
}

func (f *Field) appendContinuation(lineNo int, line string) {
	text := strings.TrimSpace(line)
	f.Continuations = append(f.Continuations, FieldLine{Number: lineNo, Text: text})
	if text == "" {
		return
	}
	if f.Value != "" {
		f.Value += " "
	}
	f.Value += text
}
