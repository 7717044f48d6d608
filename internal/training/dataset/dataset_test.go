package dataset

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/animus-labs/ailab/internal/storage/objectstore"
	"github.com/animus-labs/ailab/internal/training"
)

func TestReadCSV(t *testing.T) {
	in := "a,b,a,,c\n1,x,2,3\n4,y,5,6,7\n"
	table, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV()=%v", err)
	}
	want := []string{"a", "b", "a.1", "Unnamed: 3", "c"}
	if strings.Join(table.Columns, "|") != strings.Join(want, "|") {
		t.Fatalf("Columns=%q, want %q", table.Columns, want)
	}
	if len(table.Rows) != 2 || table.Rows[0][4] != "" {
		t.Fatalf("Rows=%q", table.Rows)
	}

	if _, err := ReadCSV(strings.NewReader("a,b\n1,2,3\n")); err == nil {
		t.Fatalf("expected error for row wider than header")
	}
	if _, err := ReadCSV(strings.NewReader("")); err == nil {
		t.Fatalf("expected error for empty file")
	}
}

func TestTableDrop(t *testing.T) {
	table := Table{Columns: []string{"x", "target", "y"}, Rows: [][]string{{"1", "a", "2"}}}
	got := table.Drop("target")
	if strings.Join(got.Columns, ",") != "x,y" || strings.Join(got.Rows[0], ",") != "1,2" {
		t.Fatalf("Drop()=%+v", got)
	}
	if table.ColumnIndex("target") != 1 {
		t.Fatalf("Drop mutated the receiver")
	}
}

func TestParseNumber(t *testing.T) {
	if v, ok := ParseNumber(" 2.5 "); !ok || v != 2.5 {
		t.Fatalf("ParseNumber()=%v,%v", v, ok)
	}
	for _, cell := range []string{"", "NA", "nan", "abc"} {
		if _, ok := ParseNumber(cell); ok {
			t.Fatalf("ParseNumber(%q) should fail", cell)
		}
	}
}

func TestValidateTabular(t *testing.T) {
	tests := []struct {
		name  string
		table Table
		want  string
	}{
		{
			name:  "missing target",
			table: Table{Columns: []string{"a", "b"}, Rows: [][]string{{"1", "2"}}},
			want:  "target_col 'label' not found. columns=['a', 'b']",
		},
		{
			name:  "null target",
			table: Table{Columns: []string{"a", "label"}, Rows: [][]string{{"1", "x"}, {"2", "NaN"}}},
			want:  "target column contains null/NaN values. Clean or fill them before training.",
		},
		{
			name:  "no features",
			table: Table{Columns: []string{"label"}, Rows: [][]string{{"x"}}},
			want:  "dataset must contain at least 1 feature column besides target_col",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTabular(tc.table, "label")
			if err == nil || err.Error() != tc.want {
				t.Fatalf("ValidateTabular()=%v, want %q", err, tc.want)
			}
			if !training.IsData(err) {
				t.Fatalf("expected DataError, got %v", err)
			}
		})
	}
	ok := Table{Columns: []string{"a", "label"}, Rows: [][]string{{"1", "x"}}}
	if err := ValidateTabular(ok, "label"); err != nil {
		t.Fatalf("ValidateTabular()=%v", err)
	}
}

func TestCatalogLoadsEmbeddedIris(t *testing.T) {
	b, err := Catalog{Dir: t.TempDir()}.Load("IRIS")
	if err != nil {
		t.Fatalf("Load()=%v", err)
	}
	if len(b.X) != 150 || len(b.FeatureNames) != 4 {
		t.Fatalf("iris=%s", b)
	}
	counts := map[int]int{}
	for _, y := range b.Y {
		counts[y]++
	}
	if counts[0] != 50 || counts[1] != 50 || counts[2] != 50 {
		t.Fatalf("class counts=%v", counts)
	}
	if b.FeatureNames[0] != "sepal length (cm)" {
		t.Fatalf("FeatureNames=%q", b.FeatureNames)
	}
}

func TestCatalogLoadsEveryBuiltin(t *testing.T) {
	want := map[string]struct{ rows, features, classes int }{
		"iris":          {150, 4, 3},
		"wine":          {178, 13, 3},
		"breast_cancer": {569, 30, 2},
		"digits":        {1797, 64, 10},
	}
	for name, shape := range want {
		t.Run(name, func(t *testing.T) {
			b, err := Catalog{}.Load(name)
			if !Embedded(name) {
				// Not generated into data/ yet: the error must say how to get it.
				if !training.IsData(err) || !strings.Contains(err.Error(), "ailab builtin fetch --name "+name) {
					t.Fatalf("Load(%s)=%v", name, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load(%s)=%v", name, err)
			}
			classes := map[int]bool{}
			for _, y := range b.Y {
				classes[y] = true
			}
			if len(b.X) != shape.rows || len(b.FeatureNames) != shape.features || len(classes) != shape.classes {
				t.Fatalf("%s: got %s with %d classes, want %dx%d with %d", name, b, len(classes), shape.rows, shape.features, shape.classes)
			}
		})
	}
	if !Embedded("iris") {
		t.Fatalf("iris must be bundled")
	}
}

func TestCatalogDirOverridesBundledAndUnknown(t *testing.T) {
	dir := t.TempDir()
	csv := "alcohol,hue,target\n13.2,1.1,0\n12.1,0.9,1\n"
	if err := os.WriteFile(filepath.Join(dir, "wine.csv"), []byte(csv), 0o644); err != nil {
		t.Fatalf("WriteFile()=%v", err)
	}
	c := Catalog{Dir: dir}
	b, err := c.Load("Wine")
	if err != nil {
		t.Fatalf("Load(wine)=%v", err)
	}
	if len(b.X) != 2 || b.FeatureNames[1] != "hue" || b.Y[1] != 1 {
		t.Fatalf("Load(wine)=%s %v", b, b.Y)
	}
	if _, err := c.Load("mnist"); !training.IsConfiguration(err) {
		t.Fatalf("Load(mnist)=%v", err)
	}
}

const wineSample = "1,14.23,1.71,2.43,15.6,127,2.8,3.06,.28,2.29,5.64,1.04,3.92,1065\n" +
	"2,12.37,.94,1.36,10.6,88,1.98,.57,.28,.42,1.95,1.05,1.82,520\n" +
	"3,12.86,1.35,2.32,18,122,1.51,1.25,.21,.94,4.1,.76,1.29,630\n"

func TestInstallConvertsSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(wineSample))
	}))
	defer srv.Close()

	src, _ := SourceFor("wine")
	src.URL = srv.URL + "/wine.data"
	c := Catalog{Dir: filepath.Join(t.TempDir(), "builtin")}
	path, err := c.Install(context.Background(), srv.Client(), src)
	if err != nil {
		t.Fatalf("Install()=%v", err)
	}
	if path != c.Path("wine") {
		t.Fatalf("path=%q", path)
	}
	b, err := c.Load("wine")
	if err != nil {
		t.Fatalf("Load()=%v", err)
	}
	if len(b.X) != 3 || len(b.FeatureNames) != 13 || b.FeatureNames[12] != "proline" {
		t.Fatalf("wine=%s %q", b, b.FeatureNames)
	}
	if b.Y[0] != 0 || b.Y[1] != 1 || b.Y[2] != 2 {
		t.Fatalf("labels=%v", b.Y)
	}
	if b.X[1][1] != 0.94 {
		t.Fatalf("X[1][1]=%v", b.X[1][1])
	}
}

func TestInstallRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()
	src, _ := SourceFor("digits")
	src.URL = srv.URL
	c := Catalog{Dir: t.TempDir()}
	if _, err := c.Install(context.Background(), srv.Client(), src); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := os.Stat(c.Path("digits")); !os.IsNotExist(err) {
		t.Fatalf("no file should be installed, stat err=%v", err)
	}
}

func TestBreastCancerConversion(t *testing.T) {
	src, _ := SourceFor("breast_cancer")
	fields := make([]string, 30)
	for i := range fields {
		fields[i] = "1.5"
	}
	raw := "842302,M," + strings.Join(fields, ",") + "\n" + "8510426,B," + strings.Join(fields, ",") + "\n"
	var out strings.Builder
	if err := src.WriteCanonical(&out, strings.NewReader(raw)); err != nil {
		t.Fatalf("WriteCanonical()=%v", err)
	}
	b, err := parseBuiltin("breast_cancer", strings.NewReader(out.String()))
	if err != nil {
		t.Fatalf("parseBuiltin()=%v", err)
	}
	if b.Y[0] != 0 || b.Y[1] != 1 || b.FeatureNames[0] != "mean radius" || b.FeatureNames[29] != "worst fractal dimension" {
		t.Fatalf("cancer=%v %q", b.Y, b.FeatureNames)
	}
}

func TestResolverFileSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d.csv")
	if err := os.WriteFile(path, []byte("x,label\n1,a\n"), 0o644); err != nil {
		t.Fatalf("WriteFile()=%v", err)
	}
	objects := objectstore.NewMemoryStore()
	body := "x,label\n2,b\n3,c\n"
	if err := objects.Put(context.Background(), "datasets", "u/d.csv", strings.NewReader(body), int64(len(body)), "text/csv"); err != nil {
		t.Fatalf("Put()=%v", err)
	}
	r := &Resolver{Catalog: Catalog{Dir: dir}, Objects: objects}

	res, err := r.Resolve(context.Background(), training.DatasetConfig{Source: training.DatasetFile, CSVPath: path, TargetCol: "label"})
	if err != nil || !res.IsFile() || len(res.Table.Rows) != 1 || res.Descriptor != "csv:"+path {
		t.Fatalf("Resolve(local)=%+v,%v", res, err)
	}
	res, err = r.Resolve(context.Background(), training.DatasetConfig{Source: training.DatasetFile, CSVPath: "s3://datasets/u/d.csv", TargetCol: "label"})
	if err != nil || len(res.Table.Rows) != 2 {
		t.Fatalf("Resolve(s3)=%+v,%v", res, err)
	}

	missing := filepath.Join(dir, "nope.csv")
	_, err = r.Resolve(context.Background(), training.DatasetConfig{Source: training.DatasetFile, CSVPath: missing, TargetCol: "label"})
	if !training.IsData(err) || err.Error() != "csv_path not found: "+missing {
		t.Fatalf("Resolve(missing)=%v", err)
	}
	_, err = r.Resolve(context.Background(), training.DatasetConfig{Source: training.DatasetFile, CSVPath: "s3://datasets/nope.csv", TargetCol: "label"})
	if !training.IsData(err) {
		t.Fatalf("Resolve(missing s3)=%v", err)
	}
}
