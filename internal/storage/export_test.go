package storage

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestExportMarkdown(t *testing.T) {
	runs := []RunRecord{
		{
			ID:           "abc12345-0000-0000-0000-000000000000",
			InstanceID:   "django__django-11099",
			Resolved:     true,
			PatchApplied: true,
			CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}

	md := ExportMarkdown(runs)
	if !strings.Contains(md, "| abc12345 |") {
		t.Errorf("missing shortened id:\n%s", md)
	}
	if !strings.Contains(md, "django__django-11099") {
		t.Errorf("missing instance id:\n%s", md)
	}
	if !strings.Contains(md, "2026-01-02 03:04:05") {
		t.Errorf("missing timestamp:\n%s", md)
	}
}

func TestExportJSON(t *testing.T) {
	runs := []RunRecord{{ID: "r1", InstanceID: "i1", Resolved: true}}

	data, err := ExportJSON(runs)
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	var decoded []RunRecord
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if len(decoded) != 1 || decoded[0].InstanceID != "i1" {
		t.Errorf("decoded = %+v", decoded)
	}
}
