package dataset

import (
	"strings"

	"github.com/animus-labs/ailab/internal/training"
)

// ValidateTabular checks a file-based table before preprocessing.
func ValidateTabular(t Table, targetCol string) error {
	idx := t.ColumnIndex(targetCol)
	if idx < 0 {
		return training.Dataf("target_col '%s' not found. columns=%s", targetCol, formatColumns(t.Columns))
	}
	for _, row := range t.Rows {
		if IsMissing(row[idx]) {
			return training.Dataf("target column contains null/NaN values. Clean or fill them before training.")
		}
	}
	if len(t.Columns) <= 1 {
		return training.Dataf("dataset must contain at least 1 feature column besides target_col")
	}
	return nil
}

func formatColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = "'" + c + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
