package testutil

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// updateGolden controls whether golden files should be updated.
// Use: go test ./... -run TestGolden -update
var updateGolden = flag.Bool("update", false, "update golden files")

// ShouldUpdate returns true if golden files should be updated.
func ShouldUpdate() bool {
	return *updateGolden
}

// GoldenPath returns testdata/<name>.golden.json of the calling package.
func GoldenPath(name string) string {
	return filepath.Join("testdata", name+".golden.json")
}

// MarshalNormalized renders got as indented JSON. Values are round-tripped
// through a generic representation so map keys come out sorted.
func MarshalNormalized(t *testing.T, got any) []byte {
	t.Helper()
	raw, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("Failed to marshal value: %v", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("Failed to normalize value: %v", err)
	}
	out, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal normalized value: %v", err)
	}
	return append(out, '\n')
}

// CompareGolden compares got against the golden file name, failing with a
// structural diff on mismatch. With -update the golden file is rewritten
// instead.
func CompareGolden(t *testing.T, name string, got any) {
	t.Helper()

	normalized := MarshalNormalized(t, got)
	goldenPath := GoldenPath(name)

	if *updateGolden {
		if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
			t.Fatalf("Failed to create golden directory: %v", err)
		}
		if err := os.WriteFile(goldenPath, normalized, 0o644); err != nil {
			t.Fatalf("Failed to write golden file: %v", err)
		}
		t.Logf("Updated golden: %s", goldenPath)
		return
	}

	expected, err := os.ReadFile(goldenPath)
	if err != nil {
		if os.IsNotExist(err) {
			t.Fatalf("Golden file missing: %s\n\nGot:\n%s\n\nRun with -update to create:\n  go test ./... -run %s -update",
				goldenPath, string(normalized), t.Name())
		}
		t.Fatalf("Failed to read golden file: %v", err)
	}

	var want, have any
	if err := json.Unmarshal(expected, &want); err != nil {
		t.Fatalf("Invalid golden file %s: %v", goldenPath, err)
	}
	if err := json.Unmarshal(normalized, &have); err != nil {
		t.Fatalf("Failed to decode normalized value: %v", err)
	}
	if diff := cmp.Diff(want, have); diff != "" {
		t.Fatalf("Golden mismatch for %s (-want +got):\n%s\n\nRun with -update to refresh:\n  go test ./... -run %s -update",
			name, diff, t.Name())
	}
}
