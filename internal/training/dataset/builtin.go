package dataset

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/animus-labs/ailab/internal/training"
)

//go:generate go run ../../../cmd/ailab builtin fetch --dir data

// bundled holds the canonical CSVs compiled into the binary, one per catalog
// name. The files are produced by go generate from the public sources.
//
//go:embed data/*.csv
var bundled embed.FS

// Builtin is a numeric reference dataset with integer class labels.
type Builtin struct {
	Name         string
	X            [][]float64
	Y            []int
	FeatureNames []string
}

// Catalog loads built-in datasets. A file in Dir (written by `ailab builtin
// fetch`) takes precedence over the bundled copy.
type Catalog struct {
	Dir string
}

// Path is where a provisioned dataset is stored.
func (c Catalog) Path(name string) string {
	return filepath.Join(c.Dir, name+".csv")
}

func bundledPath(name string) string {
	return "data/" + name + ".csv"
}

// Embedded reports whether name ships inside the binary.
func Embedded(name string) bool {
	_, err := fs.Stat(bundled, bundledPath(name))
	return err == nil
}

func (c Catalog) Load(name string) (Builtin, error) {
	canonical, ok := training.CanonicalBuiltin(name)
	if !ok {
		return Builtin{}, training.Configurationf("unknown builtin dataset: %s", name)
	}
	if c.Dir != "" {
		f, err := os.Open(c.Path(canonical))
		switch {
		case err == nil:
			defer f.Close()
			return parseBuiltin(canonical, f)
		case !errors.Is(err, fs.ErrNotExist):
			return Builtin{}, training.Wrap(training.KindData, err, "open builtin dataset "+canonical)
		}
	}
	data, err := bundled.ReadFile(bundledPath(canonical))
	if errors.Is(err, fs.ErrNotExist) {
		return Builtin{}, training.Dataf("builtin dataset %s is not bundled or provisioned in %s; run `ailab builtin fetch --name %s`", canonical, c.Dir, canonical)
	}
	if err != nil {
		return Builtin{}, training.Wrap(training.KindData, err, "read bundled dataset "+canonical)
	}
	return parseBuiltin(canonical, bytes.NewReader(data))
}

// parseBuiltin reads the canonical layout: feature columns, then an integer
// target column.
func parseBuiltin(name string, r io.Reader) (Builtin, error) {
	table, err := ReadCSV(r)
	if err != nil {
		return Builtin{}, training.Wrap(training.KindData, err, "read builtin dataset "+name)
	}
	if len(table.Columns) < 2 || table.Columns[len(table.Columns)-1] != training.DefaultTargetCol {
		return Builtin{}, training.Dataf("builtin dataset %s: last column must be %q", name, training.DefaultTargetCol)
	}
	nFeatures := len(table.Columns) - 1
	out := Builtin{
		Name:         name,
		X:            make([][]float64, len(table.Rows)),
		Y:            make([]int, len(table.Rows)),
		FeatureNames: append([]string(nil), table.Columns[:nFeatures]...),
	}
	for i, row := range table.Rows {
		x := make([]float64, nFeatures)
		for j := 0; j < nFeatures; j++ {
			v, ok := ParseNumber(row[j])
			if !ok {
				return Builtin{}, training.Dataf("builtin dataset %s: row %d column %q is not numeric", name, i+1, table.Columns[j])
			}
			x[j] = v
		}
		label, ok := ParseNumber(row[nFeatures])
		if !ok || label != math.Trunc(label) || label < 0 {
			return Builtin{}, training.Dataf("builtin dataset %s: row %d has invalid target %q", name, i+1, row[nFeatures])
		}
		out.X[i] = x
		out.Y[i] = int(label)
	}
	if len(out.X) == 0 {
		return Builtin{}, training.Dataf("builtin dataset %s is empty", name)
	}
	return out, nil
}

func (b Builtin) String() string {
	return fmt.Sprintf("%s(%dx%d)", b.Name, len(b.X), len(b.FeatureNames))
}
