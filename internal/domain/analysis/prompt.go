package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

const analysisSystemPrompt = `You are a careful clinical assistant explaining laboratory results to a patient.
Use plain language. Point out values outside their reference range and what they commonly indicate.
Do not diagnose. Recommend discussing abnormal results with a physician.`

const summarySystemPrompt = `You are a careful clinical assistant. You are given several earlier analyses of the
same patient's laboratory reports, newest first. Describe trends across them in plain language.
Do not diagnose.`

// analysisPrompt renders the attribute table and any patient context.
func analysisPrompt(attrs []Attribute, profile *PatientProfile) string {
	var b strings.Builder

	if profile != nil {
		if profile.Preferences != "" {
			fmt.Fprintf(&b, "Patient preferences: %s\n", profile.Preferences)
		}
		if len(profile.Biodata) > 0 {
			keys := lo.Keys(profile.Biodata)
			sort.Strings(keys)
			b.WriteString("Patient details:\n")
			for _, k := range keys {
				fmt.Fprintf(&b, "- %s: %s\n", k, profile.Biodata[k])
			}
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
	}

	b.WriteString("Laboratory results (test | value | unit | reference range | flag):\n")
	rows := lo.Map(attrs, func(a Attribute, _ int) string {
		flag := ""
		if a.Verdict != nil {
			flag = *a.Verdict
		}
		return strings.Join([]string{a.Name, a.Value, a.Unit, a.Range, flag}, " | ")
	})
	b.WriteString(strings.Join(rows, "\n"))

	flagged := lo.Filter(attrs, func(a Attribute, _ int) bool {
		return a.Verdict != nil && *a.Verdict != VerdictNormal
	})
	if len(flagged) > 0 {
		names := lo.Uniq(lo.Map(flagged, func(a Attribute, _ int) string { return a.Name }))
		fmt.Fprintf(&b, "\n\nOut of range: %s", strings.Join(names, ", "))
	}
	return b.String()
}

// summaryPrompt renders prior analyses, newest first.
func summaryPrompt(items []*Analysis) string {
	var b strings.Builder
	for i, a := range items {
		fmt.Fprintf(&b, "Analysis %d (%s):\n%s\n\n", i+1, a.CreatedAt.Format("2006-01-02"), strings.TrimSpace(a.Text))
	}
	return strings.TrimSpace(b.String())
}
