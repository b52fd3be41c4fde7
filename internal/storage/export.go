package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportMarkdown renders run records as a markdown summary table.
func ExportMarkdown(runs []RunRecord) string {
	var b strings.Builder

	b.WriteString("# Evaluation Runs\n\n")
	b.WriteString("| Run | Instance | Resolved | Patch Applied | Created |\n")
	b.WriteString("|-----|----------|----------|---------------|--------|\n")
	for _, r := range runs {
		b.WriteString(fmt.Sprintf("| %s | %s | %v | %v | %s |\n",
			shortID(r.ID), r.InstanceID, r.Resolved, r.PatchApplied,
			r.CreatedAt.Format("2006-01-02 15:04:05")))
	}
	return b.String()
}

// ExportJSON renders run records as formatted JSON.
func ExportJSON(runs []RunRecord) ([]byte, error) {
	return json.MarshalIndent(runs, "", "  ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
