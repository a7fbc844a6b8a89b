package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"raciline/internal/domain"
)

// Document is the YAML or JSON template format.
type Document struct {
	Name        string              `yaml:"name"`
	Roles       []domain.Role       `yaml:"roles"`
	Activities  []domain.Activity   `yaml:"activities"`
	Recommended []RecommendedRecord `yaml:"recommended"`
}

type RecommendedRecord struct {
	Activity string `yaml:"activity"`
	Role     string `yaml:"role"`
	Value    string `yaml:"value"`
}

// ImportDocument reads a YAML template. JSON input parses the same way.
func ImportDocument(r io.Reader) (Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("read template: %w", err)
	}
	var doc Document
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Result{}, fmt.Errorf("parse template: %w", err)
		}
	}
	return FromDocument(doc), nil
}

// FromDocument validates an already decoded document.
func FromDocument(doc Document) Result {
	name := strings.TrimSpace(doc.Name)
	if name == "" {
		name = "Imported template"
	}
	b := newBuilder(name)
	for _, r := range doc.Roles {
		b.addRole(r)
	}
	for _, a := range doc.Activities {
		b.addActivity(a)
	}
	for _, rec := range doc.Recommended {
		b.addRecommended(strings.TrimSpace(rec.Activity), rec.Role, rec.Value)
	}
	return b.result()
}

// Import picks the CSV or document importer from the file extension.
func Import(r io.Reader, filename string) (Result, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return ImportCSV(r)
	case ".yml", ".yaml", ".json", "":
		return ImportDocument(r)
	}
	return Result{}, errors.New("unsupported template format " + filepath.Ext(filename) + "; use .csv, .yml or .json")
}
