package broker

import (
	"bytes"
	"strconv"
)

// DirectiveKind classifies one line received from a probing daemon
// by its leading byte.
type DirectiveKind int

const (
	DirectiveEmpty DirectiveKind = iota
	DirectiveOK
	DirectiveCredit
	DirectiveDataAnnounce
	DirectiveDataLine
	DirectiveError
	DirectiveUnknown
)

// Directive is one parsed event out of the daemon's line stream.
type Directive struct {
	Kind  DirectiveKind
	Bytes int    // for DirectiveDataAnnounce: the announced byte count N
	Line  []byte // for DirectiveDataLine/DirectiveError: the raw line bytes
}

// LineParser accumulates inbound bytes and emits one Directive per
// complete line, switching into "data mode" (raw payload lines, not
// command lines) while a preceding D announcement's byte count has
// not yet been consumed. It is insensitive to how the input is
// chunked across Feed calls.
type LineParser struct {
	buf      bytes.Buffer
	dataLeft int
}

// Feed appends chunk to the internal buffer and returns every
// directive that can be extracted from complete lines so far.
func (p *LineParser) Feed(chunk []byte) []Directive {
	p.buf.Write(chunk)
	var out []Directive
	for {
		data := p.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := append([]byte(nil), data[:idx]...)
		p.buf.Next(idx + 1)

		if p.dataLeft > 0 {
			out = append(out, Directive{Kind: DirectiveDataLine, Line: line})
			p.dataLeft -= len(line) + 1
			continue
		}
		d := classify(line)
		if d.Kind == DirectiveDataAnnounce {
			p.noteDataAnnounce(d.Bytes)
		}
		out = append(out, d)
	}
	return out
}

// DataLeft reports the remaining announced byte count not yet
// consumed by data lines.
func (p *LineParser) DataLeft() int { return p.dataLeft }

// classify turns one command line (not a data line) into a Directive.
// It keeps no state; Feed enters data mode for a DirectiveDataAnnounce.
func classify(line []byte) Directive {
	if len(line) == 0 {
		return Directive{Kind: DirectiveEmpty}
	}
	switch line[0] {
	case 'O':
		return Directive{Kind: DirectiveOK}
	case 'M':
		return Directive{Kind: DirectiveCredit}
	case 'D':
		n := parseDataAnnounce(line)
		return Directive{Kind: DirectiveDataAnnounce, Bytes: n}
	case 'E':
		return Directive{Kind: DirectiveError, Line: line}
	default:
		return Directive{Kind: DirectiveUnknown, Line: line}
	}
}

// parseDataAnnounce extracts N from a "D <N>" line.
func parseDataAnnounce(line []byte) int {
	rest := bytes.TrimSpace(line[1:])
	n, err := strconv.Atoi(string(rest))
	if err != nil {
		return 0
	}
	return n
}

// noteDataAnnounce is called by Feed once it has classified a
// DirectiveDataAnnounce, to put the parser into data mode.
func (p *LineParser) noteDataAnnounce(n int) {
	p.dataLeft = n
}
