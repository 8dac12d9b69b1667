package extraction

import (
	"testing"
)

func TestAcceptRow(t *testing.T) {
	tests := []struct {
		name  string
		cells []string
		want  bool
	}{
		{"valid row", []string{"Hemoglobin", "14.5", "g/dL", "12.0-15.5"}, true},
		{"empty value", []string{"Hemoglobin", "", "g/dL", "12.0-15.5"}, false},
		{"no digit in value", []string{"Notes", "see above", "", ""}, false},
		{"empty name", []string{"", "14.5", "g/dL", "12.0-15.5"}, false},
		{"three cells", []string{"Hemoglobin", "14.5", "g/dL"}, false},
		{"extra cells", []string{"WBC", "8.2", "K/uL", "4.5-11.0", "normal"}, true},
		{"value with qualifier", []string{"CRP", "<0.5", "mg/L", "<5"}, true},
		{"empty unit and range kept", []string{"pH", "7.4", "", ""}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := AcceptRow(tt.cells)
			if ok != tt.want {
				t.Errorf("AcceptRow(%q) = %v, want %v", tt.cells, ok, tt.want)
			}
		})
	}
}

func TestParseTable_HeaderDetection(t *testing.T) {
	withHeader := "test_name | value | unit | range\nWBC | 8.2 | K/uL | 4.5-11.0"
	got := ParseTable(withHeader)
	if len(got) != 1 || got[0].Name != "WBC" {
		t.Fatalf("expected only the WBC row, got %+v", got)
	}

	dataFirst := "WBC | 8.2 | K/uL | 4.5-11.0\nRBC | 4.9 | M/uL | 4.2-5.4"
	got = ParseTable(dataFirst)
	if len(got) != 2 || got[0].Name != "WBC" {
		t.Fatalf("expected first row treated as data, got %+v", got)
	}
}

func TestParseTable_HeaderTokens(t *testing.T) {
	for _, tok := range []string{"Test Name", "TEST", "Name", "Parameter", "Analyte", "Investigation"} {
		// The numeric second cell would otherwise pass the row filter.
		got := ParseTable(tok + " | 1 | unit | range\nWBC | 8.2 | K/uL | 4.5-11.0")
		if len(got) != 1 {
			t.Errorf("header %q not dropped: %+v", tok, got)
		}
	}
}

func TestParseTable_FencesLabelsAndSeparators(t *testing.T) {
	text := "```markdown\n" +
		"markdown\n" +
		"| Test Name | Value | Unit | Range |\n" +
		"|---|---|---|---|\n" +
		"| Hemoglobin | 14.5 | g/dL | 12.0-15.5 |\n" +
		"| **Platelets** | 250 | K/uL | 150-400 |\n" +
		"| Notes | see above | | |\n" +
		"```"

	got := ParseTable(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(got), got)
	}
	if got[0].Name != "Hemoglobin" || got[0].Value != "14.5" || got[0].Unit != "g/dL" || got[0].Range != "12.0-15.5" {
		t.Errorf("unexpected first row %+v", got[0])
	}
	if got[1].Name != "Platelets" {
		t.Errorf("expected bold markers trimmed, got %q", got[1].Name)
	}
	if got[0].Verdict != nil {
		t.Error("parser must not assign verdicts")
	}
}

func TestParseTable_LabelLineWithoutFence(t *testing.T) {
	got := ParseTable("csv\nGlucose,95,mg/dL,70-99\nSodium,140,mmol/L,135-145")
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %+v", got)
	}
	if got[1].Name != "Sodium" || got[1].Unit != "mmol/L" {
		t.Errorf("unexpected row %+v", got[1])
	}
}

func TestParseTable_HeaderAfterLabel(t *testing.T) {
	got := ParseTable("table\nTest | Result (2024) | Unit | Range\nHemoglobin | 13.2 | g/dL | 12.0-15.5")
	if len(got) != 1 {
		t.Fatalf("expected header after label to be skipped, got %+v", got)
	}
	if got[0].Name != "Hemoglobin" {
		t.Errorf("unexpected row %+v", got[0])
	}
}

func TestParseTable_TabSeparated(t *testing.T) {
	got := ParseTable("ALT\t32\tU/L\t7-56\nAST\t28\tU/L\t10-40")
	if len(got) != 2 || got[0].Name != "ALT" {
		t.Fatalf("expected 2 tab rows, got %+v", got)
	}
}

func TestParseTable_KeepsDuplicates(t *testing.T) {
	got := ParseTable("WBC | 8.2 | K/uL | 4.5-11.0\nWBC | 8.4 | K/uL | 4.5-11.0")
	if len(got) != 2 {
		t.Fatalf("expected duplicates kept, got %+v", got)
	}
}

func TestParseTable_NoData(t *testing.T) {
	inputs := []string{
		"",
		"```\n```",
		"I could not find any lab values in this document.",
		"test_name | value | unit | range",
		"|---|---|---|---|",
		"\x00\x01garbage|||",
	}
	for _, in := range inputs {
		if got := ParseTable(in); len(got) != 0 {
			t.Errorf("ParseTable(%q) = %+v, want no rows", in, got)
		}
	}
}
