package filter

import (
	"testing"
)

func TestFilter_Allows_IncludeMode(t *testing.T) {
	f, err := New(Options{Include: []string{`(?i)\.xlsx?$`}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows("Facturas.xlsx") {
		t.Error("Expected spreadsheet to be allowed")
	}
	if !f.Allows("LEGACY.XLS") {
		t.Error("Expected legacy spreadsheet to be allowed (case-insensitive)")
	}
	if f.Allows("logo.png") {
		t.Error("Expected image to be filtered out")
	}
}

func TestFilter_Allows_ExcludeMode(t *testing.T) {
	f, err := New(Options{Exclude: []string{`^image\d+\.`, `\.p7s$`}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows("report.zip") {
		t.Error("Expected archive to be allowed")
	}
	if f.Allows("image001.png") {
		t.Error("Expected inline signature image to be filtered out")
	}
	if f.Allows("smime.p7s") {
		t.Error("Expected signature to be filtered out")
	}
}

func TestFilter_MutuallyExclusive(t *testing.T) {
	_, err := New(Options{Include: []string{"a"}, Exclude: []string{"b"}})
	if err == nil {
		t.Error("Expected error when both include and exclude are specified")
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	if _, err := New(Options{Include: []string{"("}}); err == nil {
		t.Error("Expected error for invalid regex")
	}
}

func TestFilter_NoFilters(t *testing.T) {
	f, err := New(Options{Include: []string{"  "}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if f.Active() {
		t.Error("Blank patterns must not activate the filter")
	}
	if !f.Allows("anything.bin") {
		t.Error("Expected name to be allowed when no filters are active")
	}

	var nilFilter *Filter
	if !nilFilter.Allows("anything.bin") || nilFilter.Active() {
		t.Error("nil filter must allow everything")
	}
}
