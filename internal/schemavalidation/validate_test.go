package schemavalidation

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"proctord/internal/ledger"
	"proctord/internal/report"
)

func TestSessionReportFixture(t *testing.T) {
	root := repoRoot(t)
	validateInstance(t,
		filepath.Join(root, "docs", "schema", "session-report-v1.schema.json"),
		mustRead(t, filepath.Join(root, "docs", "spec", "fixtures", "session-report-v1.json")),
	)
}

// A report built by the code must satisfy the published schema, not
// just the hand-written fixture.
func TestBuiltReportMatchesSchema(t *testing.T) {
	start := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	led := ledger.New(start)

	violations := []ledger.Violation{
		{Kind: ledger.KindFullscreenExit, Timestamp: start.Add(2 * time.Minute), Description: "exited fullscreen during assessment", Severity: ledger.SeverityHigh},
		{Kind: ledger.KindWindowBlur, Timestamp: start.Add(5 * time.Minute), Description: "assessment window lost focus", Severity: ledger.SeverityMedium},
		{Kind: ledger.KindRightClick, Timestamp: start.Add(9 * time.Minute), Description: "context menu opened during assessment", Severity: ledger.SeverityLow},
	}
	for _, v := range violations {
		if err := led.Append(v); err != nil {
			t.Fatalf("append violation: %v", err)
		}
	}
	led.End(start.Add(30 * time.Minute))

	rep := report.Build(led, true, start.Add(30*time.Minute))
	data, err := rep.Encode()
	if err != nil {
		t.Fatalf("encode report: %v", err)
	}

	root := repoRoot(t)
	validateInstance(t,
		filepath.Join(root, "docs", "schema", "session-report-v1.schema.json"),
		data,
	)
}

func validateInstance(t *testing.T, schemaPath string, instanceData []byte) {
	t.Helper()

	schemaData, err := os.ReadFile(schemaPath)
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}

	var instance any
	if err := json.Unmarshal(instanceData, &instance); err != nil {
		t.Fatalf("unmarshal instance: %v", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaPath, bytes.NewReader(schemaData)); err != nil {
		t.Fatalf("add schema resource: %v", err)
	}
	schema, err := compiler.Compile(schemaPath)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}

	if err := schema.Validate(instance); err != nil {
		t.Fatalf("schema validation failed: %v", err)
	}
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("unable to resolve caller path")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}
