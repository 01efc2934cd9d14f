package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Source tables the extractor knows how to stream.
const (
	TableLabEvents   = "labevents"
	TableChartEvents = "chartevents"
)

// filePrefix maps a source table to the prefix of its per-variable output
// files ("lab_creatinine.parquet", "chart_temperature.parquet").
var filePrefix = map[string]string{
	TableLabEvents:   "lab",
	TableChartEvents: "chart",
}

// Variable maps one logical clinical concept to the raw itemids that feed
// it. Several itemids may resolve to the same variable; they compete on
// timestamp, not on code identity.
type Variable struct {
	Name    string `yaml:"name"`
	Table   string `yaml:"table"`
	ItemIDs []int  `yaml:"itemids"`
	Kind    string `yaml:"kind"` // "float" or "int"
}

// Catalog is the static mapping from logical variable names to raw source
// codes. It is configuration, not code: the compiled-in default mirrors
// the MIMIC-IV itemids and a YAML file can replace it wholesale.
type Catalog struct {
	Variables []Variable `yaml:"variables"`
}

// LoadCatalog returns the default catalog when path is empty, otherwise
// the validated contents of the YAML file at path.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Catalog{}, err
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if err := cat.Validate(); err != nil {
		return Catalog{}, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}

// Validate checks the catalog for empty or conflicting entries.
func (c Catalog) Validate() error {
	if len(c.Variables) == 0 {
		return fmt.Errorf("no variables defined")
	}
	seenName := make(map[string]bool)
	seenItem := make(map[string]bool) // "table/itemid"
	for _, v := range c.Variables {
		if v.Name == "" {
			return fmt.Errorf("variable with empty name")
		}
		if seenName[v.Name] {
			return fmt.Errorf("duplicate variable %q", v.Name)
		}
		seenName[v.Name] = true
		if _, ok := filePrefix[v.Table]; !ok {
			return fmt.Errorf("variable %q: unknown source table %q", v.Name, v.Table)
		}
		if len(v.ItemIDs) == 0 {
			return fmt.Errorf("variable %q: no itemids", v.Name)
		}
		for _, id := range v.ItemIDs {
			key := fmt.Sprintf("%s/%d", v.Table, id)
			if seenItem[key] {
				return fmt.Errorf("itemid %d mapped to more than one %s variable", id, v.Table)
			}
			seenItem[key] = true
		}
		if v.Kind != "" && v.Kind != "float" && v.Kind != "int" {
			return fmt.Errorf("variable %q: unknown kind %q", v.Name, v.Kind)
		}
	}
	return nil
}

// ForTable returns the catalog variables sourced from table, in catalog order.
func (c Catalog) ForTable(table string) []Variable {
	var out []Variable
	for _, v := range c.Variables {
		if v.Table == table {
			out = append(out, v)
		}
	}
	return out
}

// DefaultCatalog holds the MIMIC-IV itemid mappings the study was built on.
func DefaultCatalog() Catalog {
	return Catalog{Variables: []Variable{
		{Name: "platelet", Table: TableLabEvents, ItemIDs: []int{51265}, Kind: "float"},
		{Name: "bilirubin", Table: TableLabEvents, ItemIDs: []int{50885}, Kind: "float"},
		{Name: "creatinine", Table: TableLabEvents, ItemIDs: []int{50912}, Kind: "float"},
		{Name: "pao2", Table: TableLabEvents, ItemIDs: []int{50821}, Kind: "float"},
		{Name: "gcs_motor", Table: TableChartEvents, ItemIDs: []int{223901}, Kind: "int"},
		{Name: "gcs_verbal", Table: TableChartEvents, ItemIDs: []int{223900}, Kind: "int"},
		{Name: "gcs_eye", Table: TableChartEvents, ItemIDs: []int{220739}, Kind: "int"},
		{Name: "temperature", Table: TableChartEvents, ItemIDs: []int{223761}, Kind: "float"},
		{Name: "map", Table: TableChartEvents, ItemIDs: []int{220052}, Kind: "float"},
		{Name: "fio2", Table: TableChartEvents, ItemIDs: []int{223835, 3420}, Kind: "float"},
	}}
}
