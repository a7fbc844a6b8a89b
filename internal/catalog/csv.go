package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"raciline/internal/domain"
)

var knownColumns = map[string]string{
	"domain":      "domain",
	"section":     "domain",
	"group":       "group",
	"activity":    "activity",
	"description": "description",
}

// ImportCSV reads a RACI matrix: Domain, Group, Activity, Description, then
// one column per role whose cells are the recommended letters. A row with
// only its first cell filled starts a new section.
func ImportCSV(r io.Reader) (Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		b := newBuilder("Imported template")
		b.warn(WarnMissingColumn, "activity", "csv has no header row")
		return b.result(), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("read csv header: %w", err)
	}

	cols := map[string]int{}
	type roleCol struct {
		idx int
		id  string
	}
	var roleCols []roleCol
	b := newBuilder("Imported template")
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if key, ok := knownColumns[strings.ToLower(h)]; ok {
			if _, seen := cols[key]; !seen {
				cols[key] = i
			}
			continue
		}
		if h == "" {
			continue
		}
		if role, ok := b.addRole(domain.Role{Name: h, Source: "csv"}); ok {
			roleCols = append(roleCols, roleCol{idx: i, id: role.ID})
		}
	}
	if _, ok := cols["activity"]; !ok {
		b.warn(WarnMissingColumn, "activity", "csv is missing the Activity column")
		return b.result(), nil
	}
	if _, ok := cols["domain"]; !ok {
		b.warn(WarnMissingColumn, "domain", "csv is missing the Domain column; activities use the section headers")
	}

	cell := func(rec []string, key string) string {
		i, ok := cols[key]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	line := 1
	section, group := "", ""
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return Result{}, fmt.Errorf("read csv line %d: %w", line, err)
		}
		filled := 0
		for _, c := range rec {
			if strings.TrimSpace(c) != "" {
				filled++
			}
		}
		if filled == 0 {
			continue
		}
		if filled == 1 && strings.TrimSpace(rec[0]) != "" {
			section, group = strings.TrimSpace(rec[0]), ""
			continue
		}
		if d := cell(rec, "domain"); d != "" {
			if d != section {
				group = ""
			}
			section = d
		}
		dom := section
		if g := cell(rec, "group"); g != "" {
			group = g
		}
		act, ok := b.addActivity(domain.Activity{
			Domain:      dom,
			Group:       group,
			Name:        cell(rec, "activity"),
			Description: cell(rec, "description"),
		})
		if !ok {
			continue
		}
		for _, rc := range roleCols {
			if rc.idx >= len(rec) {
				continue
			}
			for _, v := range splitLetters(rec[rc.idx]) {
				b.addRecommended(act.ID, rc.id, v)
			}
		}
	}
	return b.result(), nil
}

// splitLetters splits cells such as "A/R" or "R, C" into single values.
func splitLetters(cell string) []string {
	return strings.FieldsFunc(cell, func(r rune) bool {
		return r == '/' || r == ',' || r == ';' || r == ' ' || r == '+'
	})
}
