package extraction

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/medreport/medreport/internal/domain/analysis"
	"github.com/medreport/medreport/internal/platform/genai"
)

// formatLabels are bare first lines some models emit before the table.
var formatLabels = map[string]bool{
	"csv":      true,
	"table":    true,
	"markdown": true,
	"tsv":      true,
	"psv":      true,
	"text":     true,
}

// headerTokens identify a header row by its first cell.
var headerTokens = map[string]bool{
	"test_name":     true,
	"test name":     true,
	"test":          true,
	"name":          true,
	"parameter":     true,
	"analyte":       true,
	"investigation": true,
}

var separatorCell = regexp.MustCompile(`^:?-{3,}:?$`)

// ParseTable reads the four-column table (test name, value, unit, range)
// produced by the generation collaborator. Fences, a leading format label,
// markdown separator rows and a header row are tolerated. Rows that fail
// AcceptRow are dropped. It never fails; no usable rows yields nil.
func ParseTable(text string) []analysis.Attribute {
	body := genai.StripFences(text)
	if body == "" {
		return nil
	}

	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")

	var attrs []analysis.Attribute
	labelChecked, headerChecked := false, false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		if !labelChecked {
			labelChecked = true
			if formatLabels[strings.ToLower(line)] {
				continue
			}
		}

		cells := splitRow(line)
		if isSeparatorRow(cells) {
			continue
		}
		if !headerChecked {
			headerChecked = true
			if len(cells) > 0 && headerTokens[strings.ToLower(cells[0])] {
				continue
			}
		}

		if attr, ok := AcceptRow(cells); ok {
			attrs = append(attrs, attr)
		}
	}
	return attrs
}

// AcceptRow applies the row filter: at least four cells, a non-empty name
// and a value containing a digit. Extra cells are ignored.
func AcceptRow(cells []string) (analysis.Attribute, bool) {
	if len(cells) < 4 {
		return analysis.Attribute{}, false
	}
	name, value := cleanCell(cells[0]), cleanCell(cells[1])
	if name == "" || value == "" || !containsDigit(value) {
		return analysis.Attribute{}, false
	}
	return analysis.Attribute{
		Name:  name,
		Value: value,
		Unit:  cleanCell(cells[2]),
		Range: cleanCell(cells[3]),
	}, true
}

// splitRow splits on pipes, falling back to tabs then commas.
func splitRow(line string) []string {
	var parts []string
	switch {
	case strings.Contains(line, "|"):
		line = strings.TrimPrefix(line, "|")
		line = strings.TrimSuffix(line, "|")
		parts = strings.Split(line, "|")
	case strings.Contains(line, "\t"):
		parts = strings.Split(line, "\t")
	case strings.Contains(line, ","):
		parts = strings.Split(line, ",")
	default:
		parts = []string{line}
	}
	for i, p := range parts {
		parts[i] = cleanCell(p)
	}
	return parts
}

func isSeparatorRow(cells []string) bool {
	seen := false
	for _, c := range cells {
		if c == "" {
			continue
		}
		if !separatorCell.MatchString(c) {
			return false
		}
		seen = true
	}
	return seen
}

func cleanCell(s string) string {
	return strings.Trim(strings.TrimSpace(s), "*` ")
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
