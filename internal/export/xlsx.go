package export

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"raciline/internal/domain"
	"raciline/internal/gaps"
)

const outputsSheet = "Outputs"

var letterOrder = []domain.RACIValue{domain.Accountable, domain.Responsible, domain.Consulted, domain.Informed}

// sheetName makes s usable as a worksheet title: no []:*?/\ and at most 31 runes.
func sheetName(s string, used map[string]bool) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', ':', '*', '?', '/', '\\':
			return '-'
		}
		return r
	}, strings.TrimSpace(s))
	if name == "" {
		name = "Activities"
	}
	if r := []rune(name); len(r) > 31 {
		name = string(r[:31])
	}
	base := name
	for n := 2; used[strings.ToLower(name)]; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		r := []rune(base)
		if len(r)+len(suffix) > 31 {
			r = r[:31-len(suffix)]
		}
		name = string(r) + suffix
	}
	used[strings.ToLower(name)] = true
	return name
}

// matrixRoles lists the catalog roles, or the role ids used by rows when the catalog has none.
func matrixRoles(cat domain.Catalog, rows map[string][]domain.Assignment) []domain.Role {
	if len(cat.Roles) > 0 {
		return cat.Roles
	}
	seen := map[string]bool{}
	var out []domain.Role
	for _, list := range rows {
		for _, r := range list {
			if !seen[r.RoleID] {
				seen[r.RoleID] = true
				out = append(out, domain.Role{ID: r.RoleID, Name: r.RoleID})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// letters joins the letters one role holds on an activity, A first, as "A/R".
func letters(rows []domain.Assignment, roleID string) string {
	held := map[domain.RACIValue]bool{}
	for _, r := range rows {
		if r.RoleID == roleID {
			held[r.Value] = true
		}
	}
	var out []string
	for _, v := range letterOrder {
		if held[v] {
			out = append(out, string(v))
		}
	}
	return strings.Join(out, "/")
}

// MatrixXLSX writes a workbook with one role-column matrix sheet per in-scope
// domain and an Outputs sheet describing the export.
func MatrixXLSX(w io.Writer, in Input) error {
	f := excelize.NewFile()
	defer f.Close()

	cat, ws := in.Catalog, in.Workshop
	rows := gaps.ByActivity(cat.Index(), ws.Assignments)
	roles := matrixRoles(cat, rows)

	header := []any{"Group", "Activity", "Description"}
	for _, r := range roles {
		header = append(header, roleName(cat.Index(), r.ID))
	}
	header = append(header, "Decision")

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	used := map[string]bool{strings.ToLower(outputsSheet): true}
	sheets := map[string]string{}
	line := map[string]int{}
	first := true
	for _, act := range cat.InScope(ws.Scope) {
		sheet, ok := sheets[act.Domain]
		if !ok {
			sheet = sheetName(act.Domain, used)
			sheets[act.Domain] = sheet
			if first {
				if err := f.SetSheetName("Sheet1", sheet); err != nil {
					return err
				}
				first = false
			} else if _, err := f.NewSheet(sheet); err != nil {
				return err
			}
			if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
				return err
			}
			if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
				return err
			}
			line[sheet] = 1
		}
		record := []any{act.Group, act.Name, act.Description}
		for _, r := range roles {
			record = append(record, letters(rows[act.ID], r.ID))
		}
		decision := ""
		if d := ws.Decision(act.ID); d != nil {
			decision = string(d.Status)
		}
		record = append(record, decision)
		line[sheet]++
		cell, err := excelize.CoordinatesToCellName(1, line[sheet])
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &record); err != nil {
			return err
		}
	}

	if first {
		if err := f.SetSheetName("Sheet1", outputsSheet); err != nil {
			return err
		}
	} else if _, err := f.NewSheet(outputsSheet); err != nil {
		return err
	}
	outputs := [][]any{
		{"Exported", in.GeneratedAt},
		{"Workshop ID", ws.ID},
		{"Workshop", ws.Name},
		{"Coverage", fmt.Sprintf("%d%%", in.Score.Percent)},
		{"Final", in.Final},
	}
	for i, rec := range outputs {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(outputsSheet, cell, &rec); err != nil {
			return err
		}
	}
	return f.Write(w)
}
