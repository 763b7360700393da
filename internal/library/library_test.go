package library

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefault(t *testing.T) {
	lib := Default()
	reg, ok := lib.Lookup("Register")
	if !ok {
		t.Fatal("Register missing from the default library")
	}
	if reg.Kind != Register || reg.Operands() != 1 {
		t.Errorf("Register = %+v", reg)
	}
	if diff := cmp.Diff([]string{"write_en", "in"}, reg.Ports); diff != "" {
		t.Errorf("register ports (-want +got):\n%s", diff)
	}

	and, _ := lib.Lookup("And")
	if and.Kind != Combinational || and.Operands() != 2 {
		t.Errorf("And = %+v", and)
	}
	mux, _ := lib.Lookup("Mux")
	if mux.Operands() != 3 {
		t.Errorf("Mux operands = %d, want 3", mux.Operands())
	}
	if _, ok := lib.Lookup("Nope"); ok {
		t.Error("Lookup found an undefined primitive")
	}
	names := lib.Names()
	if names[0] != "Add" || len(names) != 11 {
		t.Errorf("Names = %v", names)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"syntax", `primitive "A" {`, "parsing library"},
		{"missing kind", `primitive "A" { ports = ["x"] }`, "decoding library"},
		{"unknown kind", `primitive "A" {
  kind  = "latch"
  ports = ["x"]
}`, "unknown kind"},
		{"register shape", `primitive "R" {
  kind  = "register"
  ports = ["in"]
}`, "write_enable"},
		{"no ports", `primitive "A" { kind = "combinational" }`, "no operand ports"},
		{"repeated port", `primitive "A" {
  kind  = "combinational"
  ports = ["x", "x"]
}`, "repeats port"},
		{"duplicate", `primitive "A" {
  kind  = "combinational"
  ports = ["x"]
}
primitive "A" {
  kind  = "combinational"
  ports = ["y"]
}`, "defined twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "test.hcl")
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadAndMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.hcl")
	src := `
primitive "Mac" {
  kind  = "combinational"
  ports = ["acc", "x"]
}

primitive "And" {
  kind  = "combinational"
  ports = ["a", "b"]
}
`
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	extra, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	lib := Default().Merge(extra)
	mac, ok := lib.Lookup("Mac")
	if !ok || mac.Ports[0] != "acc" {
		t.Errorf("Mac = %+v, %v", mac, ok)
	}
	and, _ := lib.Lookup("And")
	if diff := cmp.Diff([]string{"a", "b"}, and.Ports); diff != "" {
		t.Errorf("override not applied (-want +got):\n%s", diff)
	}
	if _, ok := Default().Lookup("Mac"); ok {
		t.Error("Merge modified the default library")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.hcl")); err == nil {
		t.Error("Load of a missing file succeeded")
	}
}
