package apt

import (
	"bytes"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// MaxReleaseSize is the largest Release/InRelease document accepted.
const MaxReleaseSize = 64 << 20

const (
	beginSignedMessage = "-----BEGIN PGP SIGNED MESSAGE-----"
	beginSignature     = "-----BEGIN PGP SIGNATURE-----"
	endSignature       = "-----END PGP SIGNATURE-----"
	hashHeaderPrefix   = "Hash:"
)

// Envelope is the result of stripping the clear-sign wrapper of an
// InRelease file.
//
// For a plain Release file Interior is the whole input and Signature is nil.
type Envelope struct {
	Interior []byte
	// Signature is the armored signature block, from the BEGIN line to
	// the END line inclusive. It is not interpreted here.
	Signature []byte
	// HashAlgorithms lists the values of the "Hash:" armor headers.
	HashAlgorithms []string
}

// Signed returns true if the input carried a clear-sign envelope.
func (e *Envelope) Signed() bool {
	return e.Signature != nil
}

type envelopeState int

const (
	stateBefore envelopeState = iota
	stateInHashHeader
	stateInBlank
	stateInBody
	stateInSignature
	stateDone
)

func (s envelopeState) String() string {
	switch s {
	case stateBefore:
		return "before"
	case stateInHashHeader:
		return "hash header"
	case stateInBlank:
		return "armor header separator"
	case stateInBody:
		return "signed text"
	case stateInSignature:
		return "signature"
	case stateDone:
		return "done"
	}
	return "unknown"
}

// envelopeMachine walks the lines of a document one at a time.
type envelopeMachine struct {
	state     envelopeState
	lineNo    int
	hashes    []string
	body      []string
	signature []string
}

// step consumes one line (without its line terminator).
func (m *envelopeMachine) step(line string) error {
	m.lineNo++
	switch m.state {
	case stateBefore:
		switch {
		case isBlank(line):
		case line == beginSignedMessage:
			m.state = stateInHashHeader
		default:
			// not clear-signed; the caller returns the input unchanged
			m.state = stateDone
			return errPlain
		}

	case stateInHashHeader:
		if !strings.HasPrefix(line, hashHeaderPrefix) {
			return m.errorf("missing Hash armor header after " + beginSignedMessage)
		}
		if !m.addHashes(line) {
			return m.errorf("Hash armor header names no algorithm")
		}
		m.state = stateInBlank

	case stateInBlank:
		switch {
		case strings.HasPrefix(line, hashHeaderPrefix):
			if !m.addHashes(line) {
				return m.errorf("Hash armor header names no algorithm")
			}
		case line == "":
			m.state = stateInBody
		default:
			return m.errorf("expected a blank line after the armor headers")
		}

	case stateInBody:
		switch {
		case line == beginSignature:
			m.signature = append(m.signature, line)
			m.state = stateInSignature
		case strings.HasPrefix(line, "- "):
			m.body = append(m.body, line[2:])
		case strings.HasPrefix(line, "-"):
			return m.errorf("line starting with a dash is not dash-escaped")
		default:
			m.body = append(m.body, line)
		}

	case stateInSignature:
		m.signature = append(m.signature, line)
		if line == endSignature {
			m.state = stateDone
		}

	case stateDone:
		if !isBlank(line) {
			return m.errorf("unexpected data after " + endSignature)
		}
	}
	return nil
}

// finish validates the final state once input is exhausted.
func (m *envelopeMachine) finish() error {
	switch m.state {
	case stateBefore, stateDone:
		return nil
	}
	return fail(&EnvelopeError{Reason: "unexpected end of input in " + m.state.String()})
}

// addHashes records the algorithms of a Hash header and returns false
// if it names none.
func (m *envelopeMachine) addHashes(line string) bool {
	n := len(m.hashes)
	for _, h := range strings.Split(strings.TrimPrefix(line, hashHeaderPrefix), ",") {
		if h = strings.TrimSpace(h); h != "" {
			m.hashes = append(m.hashes, h)
		}
	}
	return len(m.hashes) > n
}

func (m *envelopeMachine) errorf(reason string) error {
	return fail(&EnvelopeError{Line: m.lineNo, Reason: reason})
}

var errPlain = errors.New("plain document")

// StripEnvelope reads a Release or InRelease document and removes the
// clear-sign envelope, if any.
func StripEnvelope(r io.Reader) (*Envelope, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxReleaseSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "StripEnvelope")
	}
	if len(data) > MaxReleaseSize {
		return nil, fail(&EnvelopeError{Reason: "document exceeds maximum size"})
	}
	return stripEnvelope(data)
}

func stripEnvelope(data []byte) (*Envelope, error) {
	m := &envelopeMachine{}
	for _, line := range splitLines(data) {
		err := m.step(line)
		if err == errPlain {
			return plainEnvelope(data)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := m.finish(); err != nil {
		return nil, err
	}
	if m.signature == nil {
		// only blank lines
		return plainEnvelope(data)
	}

	var interior bytes.Buffer
	for _, line := range m.body {
		interior.WriteString(line)
		interior.WriteByte('\n')
	}
	return &Envelope{
		Interior:       interior.Bytes(),
		Signature:      []byte(strings.Join(m.signature, "\n") + "\n"),
		HashAlgorithms: m.hashes,
	}, nil
}

// plainEnvelope wraps an unsigned document. A document ending with a
// signature end marker is refused, since that signature covers no
// envelope. Marker lines elsewhere are text, such as those left by
// stripping a dash-escaped interior.
func plainEnvelope(data []byte) (*Envelope, error) {
	lines := splitLines(data)
	last := len(lines) - 1
	for last >= 0 && isBlank(lines[last]) {
		last--
	}
	if last >= 0 && lines[last] == endSignature {
		lineNo := last + 1
		for i := last - 1; i >= 0; i-- {
			if lines[i] == beginSignature {
				lineNo = i + 1
				break
			}
		}
		return nil, fail(&EnvelopeError{Line: lineNo, Reason: "signature outside a clear-sign envelope"})
	}
	return &Envelope{Interior: data}, nil
}

// DashEscape applies clear-sign dash-escaping to text: every line
// starting with a dash gets a "- " prefix.
func DashEscape(text string) string {
	lines := strings.SplitAfter(text, "\n")
	var sb strings.Builder
	for _, line := range lines {
		if strings.HasPrefix(line, "-") {
			sb.WriteString("- ")
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// splitLines splits data into lines without their terminators.
// A final line terminator does not produce an empty trailing line.
func splitLines(data []byte) []string {
	s := string(data)
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}
