package main

import (
	"strings"
	"testing"
)

func TestDefaultCatalogValid(t *testing.T) {
	cat := DefaultCatalog()
	if err := cat.Validate(); err != nil {
		t.Fatalf("default catalog invalid: %v", err)
	}
	if len(cat.ForTable(TableLabEvents)) != 4 {
		t.Errorf("lab variables = %d, want 4", len(cat.ForTable(TableLabEvents)))
	}
	if len(cat.ForTable(TableChartEvents)) != 6 {
		t.Errorf("chart variables = %d, want 6", len(cat.ForTable(TableChartEvents)))
	}
}

func TestLoadCatalogDefault(t *testing.T) {
	cat, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(cat.Variables) != len(DefaultCatalog().Variables) {
		t.Errorf("variables = %d, want %d", len(cat.Variables), len(DefaultCatalog().Variables))
	}
}

func TestLoadCatalogYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "catalog.yaml", `
variables:
  - name: creatinine
    table: labevents
    itemids: [50912]
    kind: float
  - name: fio2
    table: chartevents
    itemids: [223835, 3420]
    kind: float
`)

	cat, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(cat.Variables) != 2 {
		t.Fatalf("variables = %d, want 2", len(cat.Variables))
	}
	fio2 := cat.ForTable(TableChartEvents)
	if len(fio2) != 1 || len(fio2[0].ItemIDs) != 2 {
		t.Errorf("fio2 = %+v, want one variable with two itemids", fio2)
	}
}

func TestCatalogValidate(t *testing.T) {
	cases := []struct {
		name    string
		catalog Catalog
		wantErr string
	}{
		{
			name:    "empty",
			catalog: Catalog{},
			wantErr: "no variables",
		},
		{
			name: "duplicate name",
			catalog: Catalog{Variables: []Variable{
				{Name: "creatinine", Table: TableLabEvents, ItemIDs: []int{50912}},
				{Name: "creatinine", Table: TableChartEvents, ItemIDs: []int{1}},
			}},
			wantErr: "duplicate variable",
		},
		{
			name: "duplicate itemid in table",
			catalog: Catalog{Variables: []Variable{
				{Name: "a", Table: TableLabEvents, ItemIDs: []int{50912}},
				{Name: "b", Table: TableLabEvents, ItemIDs: []int{50912}},
			}},
			wantErr: "mapped to more than one",
		},
		{
			name: "unknown table",
			catalog: Catalog{Variables: []Variable{
				{Name: "a", Table: "outputevents", ItemIDs: []int{1}},
			}},
			wantErr: "unknown source table",
		},
		{
			name: "no itemids",
			catalog: Catalog{Variables: []Variable{
				{Name: "a", Table: TableLabEvents},
			}},
			wantErr: "no itemids",
		},
		{
			name: "bad kind",
			catalog: Catalog{Variables: []Variable{
				{Name: "a", Table: TableLabEvents, ItemIDs: []int{1}, Kind: "decimal"},
			}},
			wantErr: "unknown kind",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.catalog.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tc.wantErr)
			}
		})
	}

	// Same itemid in different tables is fine.
	ok := Catalog{Variables: []Variable{
		{Name: "a", Table: TableLabEvents, ItemIDs: []int{50912}},
		{Name: "b", Table: TableChartEvents, ItemIDs: []int{50912}},
	}}
	if err := ok.Validate(); err != nil {
		t.Errorf("cross-table itemid reuse should validate, got %v", err)
	}
}
