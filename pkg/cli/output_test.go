package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func sampleTable() *Table {
	table := &Table{Columns: []string{"id", "tier", "status"}}
	table.Append("key-a", "fast", "active")
	table.Append("key-b", "lite", "disabled")
	return table
}

func TestTextFormatter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&TextFormatter{}).FormatTo(buf, sampleTable()); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "ID") || !strings.Contains(lines[0], "STATUS") {
		t.Errorf("Expected upper-case header, got %q", lines[0])
	}
	if strings.Index(lines[1], "fast") != strings.Index(lines[2], "lite") {
		t.Errorf("Expected aligned columns:\n%s", buf.String())
	}
}

func TestTextFormatter_Value(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&TextFormatter{}).FormatTo(buf, "sealed"); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	if buf.String() != "sealed\n" {
		t.Errorf("FormatTo() = %q, want %q", buf.String(), "sealed\n")
	}
}

func TestJSONFormatter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&JSONFormatter{Indent: true}).FormatTo(buf, sampleTable()); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	var rows []map[string]string
	if err := json.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(rows) != 2 || rows[1]["id"] != "key-b" || rows[1]["status"] != "disabled" {
		t.Errorf("Unexpected rows: %v", rows)
	}
}

func TestJSONFormatter_Struct(t *testing.T) {
	buf := &bytes.Buffer{}
	data := struct {
		Reclaimed int `json:"reclaimed"`
	}{Reclaimed: 3}
	if err := (&JSONFormatter{}).FormatTo(buf, data); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	if strings.TrimSpace(buf.String()) != `{"reclaimed":3}` {
		t.Errorf("Unexpected output %q", buf.String())
	}
}

func TestCSVFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&CSVFormatter{}).FormatTo(buf, sampleTable()); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	expected := "id,tier,status\nkey-a,fast,active\nkey-b,lite,disabled\n"
	if buf.String() != expected {
		t.Errorf("FormatTo() = %q, want %q", buf.String(), expected)
	}

	buf.Reset()
	if err := (&CSVFormatter{OmitHeader: true}).FormatTo(buf, sampleTable()); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	if strings.HasPrefix(buf.String(), "id,") {
		t.Error("Expected header to be omitted")
	}
}

func TestCSVFormatter_RequiresTable(t *testing.T) {
	if err := (&CSVFormatter{}).FormatTo(&bytes.Buffer{}, 42); err == nil {
		t.Error("Expected error for non-tabular data")
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format  OutputFormat
		want    string
		wantErr bool
	}{
		{FormatText, "*cli.TextFormatter", false},
		{"", "*cli.TextFormatter", false},
		{FormatJSON, "*cli.JSONFormatter", false},
		{FormatCSV, "*cli.CSVFormatter", false},
		{"yaml", "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			f, err := NewFormatter(tt.format)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFormatter() error = %v", err)
			}
			if got := typeName(f); got != tt.want {
				t.Errorf("NewFormatter() = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(v interface{}) string {
	switch v.(type) {
	case *TextFormatter:
		return "*cli.TextFormatter"
	case *JSONFormatter:
		return "*cli.JSONFormatter"
	case *CSVFormatter:
		return "*cli.CSVFormatter"
	}
	return ""
}
