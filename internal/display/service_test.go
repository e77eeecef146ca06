package display

import (
	"bytes"
	"strings"
	"testing"
)

func newPlainService(buf *bytes.Buffer) *DisplayService {
	// Plain theme keeps output free of ANSI escapes for predictable testing.
	return NewDisplayServiceWithWriter(buf, PlainTextTheme())
}

func TestDisplayService_Messages(t *testing.T) {
	var buf bytes.Buffer
	service := newPlainService(&buf)

	service.Info("connecting to %s", "localhost")
	service.Success("migration complete")
	service.Warning("running without rollback protection")
	service.Error("verification failed")

	output := buf.String()
	for _, want := range []string{
		"connecting to localhost",
		"✓ migration complete",
		"! running without rollback protection",
		"✗ verification failed",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestDisplayService_PrintHeader(t *testing.T) {
	var buf bytes.Buffer
	service := newPlainService(&buf)

	service.PrintHeader("Rollback points")

	output := buf.String()
	if !strings.Contains(output, "Rollback points") {
		t.Errorf("header missing title:\n%s", output)
	}
	if !strings.Contains(output, strings.Repeat("─", len("Rollback points"))) {
		t.Errorf("header missing underline:\n%s", output)
	}
}

func TestDisplayService_PrintTable(t *testing.T) {
	var buf bytes.Buffer
	service := newPlainService(&buf)

	service.PrintTable(
		[]string{"ID", "Status"},
		[][]string{
			{"rb_1", "completed"},
			{"rb_long_identifier", "rolled_back"},
		},
	)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), buf.String())
	}

	// Columns align on the widest cell.
	statusCol := strings.Index(lines[0], "Status")
	if statusCol < 0 {
		t.Fatalf("header missing Status column:\n%s", lines[0])
	}
	for _, line := range lines[1:] {
		cell := line[statusCol:]
		if !strings.HasPrefix(cell, "completed") && !strings.HasPrefix(cell, "rolled_back") {
			t.Errorf("status column misaligned in %q", line)
		}
	}
}
