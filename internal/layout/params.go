package layout

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/brensch/migrobot/internal/migtype"
)

// TargetFromParameters scans the parameters workbook for the first column
// whose header contains "target" and returns the first value in it that
// points under the migration root (matched on the root's folder name).
func TargetFromParameters(paramsPath, migRoot string) (string, bool, error) {
	f, err := excelize.OpenFile(paramsPath)
	if err != nil {
		return "", false, fmt.Errorf("open parameters workbook %s: %w", paramsPath, err)
	}
	defer f.Close()

	token := strings.ToLower(filepath.Base(filepath.Clean(migRoot)))
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", false, fmt.Errorf("read sheet %s of %s: %w", sheet, paramsPath, err)
		}
		if len(rows) == 0 {
			continue
		}
		col := -1
		for i, header := range rows[0] {
			if strings.Contains(strings.ToLower(header), "target") {
				col = i
				break
			}
		}
		if col < 0 {
			continue
		}
		for _, row := range rows[1:] {
			if col >= len(row) {
				continue
			}
			v := strings.TrimSpace(row[col])
			if v != "" && strings.Contains(strings.ToLower(v), token) {
				return v, true, nil
			}
		}
	}
	return "", false, nil
}

// TargetSource records which evidence produced a resolved target path.
type TargetSource string

const (
	SourceParameters TargetSource = "parameters"
	SourceScript     TargetSource = "script"
)

// TargetPath resolves the migration target folder for a customer, preferring
// the parameters workbook and falling back to the generated script text.
func (r *Resolver) TargetPath(customer string, kind migtype.Kind, script string) (string, TargetSource, bool, error) {
	p, ok, err := TargetFromParameters(r.ParametersPath(customer), r.Root)
	if err != nil {
		return "", "", false, err
	}
	if ok {
		return p, SourceParameters, true, nil
	}
	if p, ok := ResolveTargetPath(kind, script); ok {
		return p, SourceScript, true, nil
	}
	return "", "", false, nil
}
