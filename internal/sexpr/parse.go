package sexpr

import "fmt"

// SyntaxError reports malformed source text.
type SyntaxError struct {
	Line int
	Col  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d:%d: %s", e.Line, e.Col, e.Msg)
}

type reader struct {
	src  []byte
	pos  int
	line int
	col  int
}

// Parse reads every top-level form in src. Comments run from ';' to the
// end of the line.
func Parse(src []byte) ([]Node, error) {
	r := &reader{src: src, line: 1, col: 1}
	var forms []Node
	for {
		r.skipSpace()
		if r.eof() {
			return forms, nil
		}
		n, err := r.node()
		if err != nil {
			return nil, err
		}
		forms = append(forms, n)
	}
}

// ParseOne reads exactly one form.
func ParseOne(src string) (Node, error) {
	forms, err := Parse([]byte(src))
	if err != nil {
		return Node{}, err
	}
	if len(forms) != 1 {
		return Node{}, &SyntaxError{Line: 1, Col: 1, Msg: fmt.Sprintf("expected one form, found %d", len(forms))}
	}
	return forms[0], nil
}

// MustParse is ParseOne for fixed inputs; it panics on error.
func MustParse(src string) Node {
	n, err := ParseOne(src)
	if err != nil {
		panic(err)
	}
	return n
}

func (r *reader) eof() bool {
	return r.pos >= len(r.src)
}

func (r *reader) advance() byte {
	c := r.src[r.pos]
	r.pos++
	if c == '\n' {
		r.line++
		r.col = 1
	} else {
		r.col++
	}
	return c
}

func (r *reader) skipSpace() {
	for !r.eof() {
		switch c := r.src[r.pos]; {
		case c == ';':
			for !r.eof() && r.src[r.pos] != '\n' {
				r.advance()
			}
		case isSpace(c):
			r.advance()
		default:
			return
		}
	}
}

func (r *reader) node() (Node, error) {
	line, col := r.line, r.col
	switch r.src[r.pos] {
	case '(':
		r.advance()
		list := Node{IsList: true, List: []Node{}, Line: line, Col: col}
		for {
			r.skipSpace()
			if r.eof() {
				return Node{}, &SyntaxError{Line: line, Col: col, Msg: "unclosed '('"}
			}
			if r.src[r.pos] == ')' {
				r.advance()
				return list, nil
			}
			item, err := r.node()
			if err != nil {
				return Node{}, err
			}
			list.List = append(list.List, item)
		}
	case ')':
		return Node{}, &SyntaxError{Line: line, Col: col, Msg: "unexpected ')'"}
	}

	start := r.pos
	for !r.eof() {
		c := r.src[r.pos]
		if isSpace(c) || c == '(' || c == ')' || c == ';' {
			break
		}
		r.advance()
	}
	return Node{Atom: string(r.src[start:r.pos]), Line: line, Col: col}, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
