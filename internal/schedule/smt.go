package schedule

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/robert-at-pretension-io/filament-lower/internal/arith"
	"github.com/robert-at-pretension-io/filament-lower/internal/sexpr"
)

// SMT runs an external SMT-LIB2 solver over linear integer arithmetic.
// The script goes to the process's stdin; the reply is read from stdout.
type SMT struct {
	// Path of the solver binary; "" means "z3".
	Path string
	// Args passed to the solver; nil means z3's "-in -smt2".
	Args []string
}

func (s SMT) command(ctx context.Context) *exec.Cmd {
	path := s.Path
	if path == "" {
		path = "z3"
	}
	args := s.Args
	if args == nil {
		args = []string{"-in", "-smt2"}
	}
	return exec.CommandContext(ctx, path, args...)
}

// Solve implements Backend.
func (s SMT) Solve(ctx context.Context, sys *System) (Assignment, error) {
	script, names := Script(sys)
	cmd := s.command(ctx)
	cmd.Stdin = strings.NewReader(script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// z3 exits non-zero when get-value follows unsat; the reply is
		// still on stdout.
		if stdout.Len() == 0 {
			return nil, fmt.Errorf("running %s: %w: %s", cmd.Path, err, strings.TrimSpace(stderr.String()))
		}
	}
	return ParseReply(stdout.Bytes(), names)
}

// Script renders sys as an SMT-LIB2 script. Variables are renamed to
// v0, v1, ...; names maps the solver symbols back.
func Script(sys *System) (string, map[string]string) {
	var b strings.Builder
	names := make(map[string]string, len(sys.Vars))
	symbol := make(map[string]string, len(sys.Vars))

	b.WriteString("(set-option :produce-models true)\n(set-logic QF_LIA)\n")
	for i, v := range sys.Vars {
		sym := "v" + strconv.Itoa(i)
		names[sym] = v.Name
		symbol[v.Name] = sym
		fmt.Fprintf(&b, "(declare-const %s Int) ; %s\n", sym, v.Name)
		fmt.Fprintf(&b, "(assert (and (<= %s %s) (<= %s %s)))\n", smtInt(v.Lo), sym, sym, smtInt(v.Hi))
	}
	for _, c := range sys.Constraints {
		rel := map[Op]string{LE: "<=", GE: ">=", EQ: "="}[c.Op]
		fmt.Fprintf(&b, "(assert (%s %s 0)) ; %s\n", rel, smtTerm(c.Term, symbol), c.Origin)
	}
	b.WriteString("(check-sat)\n(get-value (")
	for i := range sys.Vars {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("v" + strconv.Itoa(i))
	}
	b.WriteString("))\n")
	return b.String(), names
}

func smtInt(v int64) string {
	if v < 0 {
		return fmt.Sprintf("(- %d)", -v)
	}
	return strconv.FormatInt(v, 10)
}

func smtTerm(t arith.Term, symbol map[string]string) string {
	var parts []string
	for _, v := range t.Vars() {
		c := t.Coeffs[v]
		if c == 1 {
			parts = append(parts, symbol[v])
		} else {
			parts = append(parts, fmt.Sprintf("(* %s %s)", smtInt(c), symbol[v]))
		}
	}
	if t.Const != 0 || len(parts) == 0 {
		parts = append(parts, smtInt(t.Const))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(+ " + strings.Join(parts, " ") + ")"
}

// ParseReply reads a solver reply: "sat" followed by a get-value model,
// or "unsat".
func ParseReply(out []byte, names map[string]string) (Assignment, error) {
	forms, err := sexpr.Parse(out)
	if err != nil {
		return nil, fmt.Errorf("reading solver reply: %w", err)
	}
	if len(forms) == 0 {
		return nil, fmt.Errorf("empty solver reply")
	}
	switch status := forms[0]; {
	case status.IsAtom() && status.Atom == "unsat":
		return nil, ErrUnsat
	case status.IsAtom() && status.Atom == "sat":
	default:
		return nil, fmt.Errorf("solver answered %s", status)
	}
	if len(forms) < 2 || !forms[1].IsList {
		return nil, fmt.Errorf("solver reply has no model")
	}

	a := make(Assignment, len(names))
	for _, pair := range forms[1].List {
		if pair.Len() != 2 || !pair.At(0).IsAtom() {
			return nil, fmt.Errorf("malformed model entry %s", pair)
		}
		name, ok := names[pair.At(0).Atom]
		if !ok {
			return nil, fmt.Errorf("model mentions unknown symbol %s", pair.At(0).Atom)
		}
		v, err := smtValue(pair.At(1))
		if err != nil {
			return nil, err
		}
		a[name] = v
	}
	return a, nil
}

func smtValue(n sexpr.Node) (int64, error) {
	if n.IsAtom() {
		return strconv.ParseInt(n.Atom, 10, 64)
	}
	if n.Head() == "-" && n.Len() == 2 && n.At(1).IsAtom() {
		v, err := strconv.ParseInt(n.At(1).Atom, 10, 64)
		return -v, err
	}
	return 0, fmt.Errorf("unsupported model value %s", n)
}
