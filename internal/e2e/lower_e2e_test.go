package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/robert-at-pretension-io/filament-lower/internal/compiler"
	"github.com/robert-at-pretension-io/filament-lower/internal/config"
	"github.com/robert-at-pretension-io/filament-lower/internal/lower"
	"github.com/robert-at-pretension-io/filament-lower/internal/schedule"
	"github.com/robert-at-pretension-io/filament-lower/internal/validator"
)

type manifest struct {
	Cases []struct {
		File       string `json:"file"`
		Error      string `json:"error"`
		Components []struct {
			Name       string `json:"name"`
			FSM        string `json:"fsm"`
			States     int    `json:"states"`
			Violations int    `json:"violations"`
		} `json:"components"`
	} `json:"cases"`
}

func TestLowerE2E_Testdata(t *testing.T) {
	repoRoot := findRepoRoot(t)
	m := loadManifest(t, repoRoot)

	cfg := config.DefaultConfig()
	cfg.Analysis.TimingPath = ""

	v, err := validator.New()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	for _, tc := range m.Cases {
		t.Run(tc.File, func(t *testing.T) {
			path := filepath.Join(repoRoot, "testdata", tc.File)
			report, err := compiler.New(cfg).CompileFile(context.Background(), path)

			if tc.Error != "" {
				if !matchesKind(err, tc.Error) {
					t.Fatalf("expected %s error, got %v", tc.Error, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("compile %s: %v", path, err)
			}

			var buf bytes.Buffer
			if err := report.WriteJSON(&buf); err != nil {
				t.Fatalf("WriteJSON: %v", err)
			}
			if err := v.ValidateJSON(validator.Report, buf.Bytes()); err != nil {
				t.Fatalf("JSON output breaks the contract: %v\n%s", err, buf.String())
			}

			out := report.Output()
			if len(out.Components) != len(tc.Components) {
				t.Fatalf("got %d components, want %d", len(out.Components), len(tc.Components))
			}
			for i, want := range tc.Components {
				got := out.Components[i]
				if got.Name != want.Name || got.States != want.States {
					t.Errorf("component %d = %s with %d states, want %s with %d", i, got.Name, got.States, want.Name, want.States)
				}
				last := got.Commands[len(got.Commands)-1]
				if last.Kind != "fsm" || last.Var != want.FSM {
					t.Errorf("%s: last command %+v, want fsm %s", got.Name, last, want.FSM)
				}
				if len(got.Violations) != want.Violations {
					t.Errorf("%s: %d violations, want %d: %+v", got.Name, len(got.Violations), want.Violations, got.Violations)
				}
			}
		})
	}
}

func matchesKind(err error, kind string) bool {
	switch kind {
	case "unsatisfiable":
		var e *schedule.UnsatisfiableError
		return errors.As(err, &e)
	case "not_supported":
		var e *lower.NotSupportedError
		return errors.As(err, &e)
	}
	return false
}

func loadManifest(t *testing.T, repoRoot string) manifest {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(repoRoot, "testdata", "manifest.json"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	return m
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	start, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	dir := start
	for {
		candidate := filepath.Join(dir, "testdata", "manifest.json")
		if _, err := os.Stat(candidate); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("repo root not found from %s", start)
		}
		dir = parent
	}
}
