package extraction

import (
	"bytes"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/medreport/medreport/internal/domain/analysis"
)

const (
	// cellGap separates runs shown at different positions on one line.
	cellGap = "  "
	// lineTolerance is how far apart two baselines may be and still count
	// as the same line, in text space units.
	lineTolerance = 1.0
	// TJ adjustments at or below these thousandths of an em become a space
	// or a cell gap.
	wordAdjust = -200
	cellAdjust = -1500
)

var cellSplitRe = regexp.MustCompile(`\t+|\s{2,}`)

// SplitCells splits a reconstructed text line into table cells on tabs or
// runs of two or more spaces.
func SplitCells(line string) []string {
	parts := cellSplitRe.Split(strings.TrimSpace(line), -1)
	cells := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cells = append(cells, p)
		}
	}
	return cells
}

// RowsFromLines keeps the lines that pass the row filter.
func RowsFromLines(lines []string) []analysis.Attribute {
	var attrs []analysis.Attribute
	for _, line := range lines {
		if attr, ok := AcceptRow(SplitCells(line)); ok {
			attrs = append(attrs, attr)
		}
	}
	return attrs
}

// operand is one entry on the content stream operand stack.
type operand struct {
	str   *string
	num   *float64
	arr   []operand
	isArr bool
}

// textState rebuilds lines from text-showing operators by tracking the
// baseline. Horizontal movement within a line becomes a cell gap.
type textState struct {
	lines   []string
	cur     strings.Builder
	y       float64
	lineY   float64
	hasLine bool
	moved   bool
}

func (s *textState) flush() {
	if line := strings.TrimSpace(s.cur.String()); line != "" {
		s.lines = append(s.lines, line)
	}
	s.cur.Reset()
}

func (s *textState) newLine() {
	s.flush()
	s.hasLine = false
}

func (s *textState) show(text string) {
	if !s.hasLine || math.Abs(s.y-s.lineY) > lineTolerance {
		s.flush()
		s.lineY = s.y
		s.hasLine = true
	} else if s.moved && s.cur.Len() > 0 {
		s.cur.WriteString(cellGap)
	}
	s.moved = false
	s.cur.WriteString(text)
}

func (s *textState) showArray(items []operand) {
	var b strings.Builder
	for _, it := range items {
		switch {
		case it.str != nil:
			b.WriteString(*it.str)
		case it.num != nil && *it.num <= cellAdjust:
			b.WriteString(cellGap)
		case it.num != nil && *it.num <= wordAdjust:
			b.WriteString(" ")
		}
	}
	s.show(b.String())
}

// ContentLines reads a decoded page content stream and returns its text, one
// entry per visual line. Only text operators are interpreted; everything
// else is skipped.
func ContentLines(content []byte) []string {
	var (
		st    textState
		stack []operand
		marks []int
	)

	lx := lexer{data: content}
	for {
		tok, ok := lx.next()
		if !ok {
			break
		}
		switch tok.kind {
		case tokString:
			s := tok.text
			stack = append(stack, operand{str: &s})
		case tokNumber:
			n := tok.num
			stack = append(stack, operand{num: &n})
		case tokArrayStart:
			marks = append(marks, len(stack))
		case tokArrayEnd:
			if len(marks) == 0 {
				continue
			}
			start := marks[len(marks)-1]
			marks = marks[:len(marks)-1]
			items := append([]operand(nil), stack[start:]...)
			stack = append(stack[:start], operand{arr: items, isArr: true})
		case tokName, tokOther:
			stack = append(stack, operand{})
		case tokOperator:
			applyOperator(&st, tok.text, stack)
			if tok.text == "ID" {
				lx.skipInlineImage()
			}
			stack = stack[:0]
			marks = marks[:0]
		}
	}
	st.flush()
	return st.lines
}

func applyOperator(st *textState, op string, args []operand) {
	switch op {
	case "BT":
		st.y = 0
		st.moved = true
	case "ET":
		st.moved = true
	case "Td", "TD":
		if ty, ok := numArg(args, len(args)-1); ok {
			st.y += ty
		}
		st.moved = true
	case "Tm":
		if f, ok := numArg(args, len(args)-1); ok {
			st.y = f
		}
		st.moved = true
	case "T*":
		st.newLine()
	case "Tj":
		if s, ok := strArg(args, len(args)-1); ok {
			st.show(s)
		}
	case "'", `"`:
		st.newLine()
		if s, ok := strArg(args, len(args)-1); ok {
			st.show(s)
		}
	case "TJ":
		if n := len(args); n > 0 && args[n-1].isArr {
			st.showArray(args[n-1].arr)
		}
	}
}

func numArg(args []operand, i int) (float64, bool) {
	if i < 0 || i >= len(args) || args[i].num == nil {
		return 0, false
	}
	return *args[i].num, true
}

func strArg(args []operand, i int) (string, bool) {
	if i < 0 || i >= len(args) || args[i].str == nil {
		return "", false
	}
	return *args[i].str, true
}

type tokKind int

const (
	tokOperator tokKind = iota
	tokString
	tokNumber
	tokName
	tokArrayStart
	tokArrayEnd
	tokOther
)

type token struct {
	kind tokKind
	text string
	num  float64
}

type lexer struct {
	data []byte
	pos  int
}

func isWhite(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (l *lexer) next() (token, bool) {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		switch {
		case isWhite(c):
			l.pos++
		case c == '%':
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
		case c == '(':
			l.pos++
			return token{kind: tokString, text: l.literalString()}, true
		case c == '<':
			if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
				l.pos += 2
				return token{kind: tokOther}, true
			}
			l.pos++
			return token{kind: tokString, text: l.hexString()}, true
		case c == '>':
			l.pos++
			if l.pos < len(l.data) && l.data[l.pos] == '>' {
				l.pos++
			}
			return token{kind: tokOther}, true
		case c == '[':
			l.pos++
			return token{kind: tokArrayStart}, true
		case c == ']':
			l.pos++
			return token{kind: tokArrayEnd}, true
		case c == '{' || c == '}' || c == ')':
			l.pos++
		case c == '/':
			l.pos++
			l.regular()
			return token{kind: tokName}, true
		default:
			word := l.regular()
			if word == "" {
				l.pos++
				continue
			}
			if n, err := strconv.ParseFloat(word, 64); err == nil {
				return token{kind: tokNumber, num: n}, true
			}
			if word[0] == '.' || word[0] == '-' || word[0] == '+' || (word[0] >= '0' && word[0] <= '9') {
				return token{kind: tokOther}, true
			}
			return token{kind: tokOperator, text: word}, true
		}
	}
	return token{}, false
}

func (l *lexer) regular() string {
	start := l.pos
	for l.pos < len(l.data) && !isWhite(l.data[l.pos]) && !isDelim(l.data[l.pos]) {
		l.pos++
	}
	return string(l.data[start:l.pos])
}

// literalString reads up to the balancing ')'. The opening '(' is consumed.
func (l *lexer) literalString() string {
	var b bytes.Buffer
	depth := 1
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '(':
			depth++
			b.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return b.String()
			}
			b.WriteByte(c)
		case '\\':
			l.escape(&b)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (l *lexer) escape(b *bytes.Buffer) {
	if l.pos >= len(l.data) {
		return
	}
	c := l.data[l.pos]
	l.pos++
	switch c {
	case 'n':
		b.WriteByte('\n')
	case 'r':
		b.WriteByte('\r')
	case 't':
		b.WriteByte('\t')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case '\r':
		if l.pos < len(l.data) && l.data[l.pos] == '\n' {
			l.pos++
		}
	case '\n':
	case '0', '1', '2', '3', '4', '5', '6', '7':
		v := int(c - '0')
		for i := 0; i < 2 && l.pos < len(l.data); i++ {
			d := l.data[l.pos]
			if d < '0' || d > '7' {
				break
			}
			v = v*8 + int(d-'0')
			l.pos++
		}
		b.WriteByte(byte(v))
	default:
		b.WriteByte(c)
	}
}

// hexString reads up to '>'. The opening '<' is consumed.
func (l *lexer) hexString() string {
	var digits []byte
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		if c == '>' {
			break
		}
		if isHex(c) {
			digits = append(digits, c)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, len(digits)/2)
	for i := range out {
		v, _ := strconv.ParseUint(string(digits[2*i:2*i+2]), 16, 8)
		out[i] = byte(v)
	}
	return string(out)
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// skipInlineImage moves past the binary data of an inline image, which runs
// from after the ID operator to an EI delimited by white space.
func (l *lexer) skipInlineImage() {
	if l.pos < len(l.data) {
		l.pos++
	}
	for i := l.pos; i+1 < len(l.data); i++ {
		if l.data[i] != 'E' || l.data[i+1] != 'I' {
			continue
		}
		before := i == 0 || isWhite(l.data[i-1])
		after := i+2 >= len(l.data) || isWhite(l.data[i+2])
		if before && after {
			l.pos = i + 2
			return
		}
	}
	l.pos = len(l.data)
}
