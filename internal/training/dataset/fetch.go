package dataset

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const uciBase = "https://archive.ics.uci.edu/ml/machine-learning-databases"

// Source is the public origin of a provisioned built-in dataset.
type Source struct {
	Name         string
	URL          string
	FeatureNames []string
	// convert turns one raw record into features and a class label.
	convert func(record []string) ([]string, int, error)
}

var wineFeatures = []string{
	"alcohol", "malic_acid", "ash", "alcalinity_of_ash", "magnesium", "total_phenols",
	"flavanoids", "nonflavanoid_phenols", "proanthocyanins", "color_intensity", "hue",
	"od280/od315_of_diluted_wines", "proline",
}

func cancerFeatures() []string {
	base := []string{
		"radius", "texture", "perimeter", "area", "smoothness", "compactness",
		"concavity", "concave points", "symmetry", "fractal dimension",
	}
	out := make([]string, 0, 3*len(base))
	for _, b := range base {
		out = append(out, "mean "+b)
	}
	for _, b := range base {
		out = append(out, b+" error")
	}
	for _, b := range base {
		out = append(out, "worst "+b)
	}
	return out
}

func digitFeatures() []string {
	out := make([]string, 0, 64)
	for r := 0; r < 8; r++ {
		for c := 0; c < 8; c++ {
			out = append(out, fmt.Sprintf("pixel_%d_%d", r, c))
		}
	}
	return out
}

// Sources lists the provisionable datasets.
func Sources() []Source {
	return []Source{
		{
			Name:         "wine",
			URL:          uciBase + "/wine/wine.data",
			FeatureNames: wineFeatures,
			convert: func(rec []string) ([]string, int, error) {
				if len(rec) != 14 {
					return nil, 0, fmt.Errorf("expected 14 fields, got %d", len(rec))
				}
				class, err := strconv.Atoi(strings.TrimSpace(rec[0]))
				if err != nil || class < 1 || class > 3 {
					return nil, 0, fmt.Errorf("invalid class %q", rec[0])
				}
				return rec[1:], class - 1, nil
			},
		},
		{
			Name:         "breast_cancer",
			URL:          uciBase + "/breast-cancer-wisconsin/wdbc.data",
			FeatureNames: cancerFeatures(),
			convert: func(rec []string) ([]string, int, error) {
				if len(rec) != 32 {
					return nil, 0, fmt.Errorf("expected 32 fields, got %d", len(rec))
				}
				switch strings.TrimSpace(rec[1]) {
				case "M":
					return rec[2:], 0, nil
				case "B":
					return rec[2:], 1, nil
				default:
					return nil, 0, fmt.Errorf("invalid diagnosis %q", rec[1])
				}
			},
		},
		{
			Name:         "digits",
			URL:          uciBase + "/optdigits/optdigits.tes",
			FeatureNames: digitFeatures(),
			convert: func(rec []string) ([]string, int, error) {
				if len(rec) != 65 {
					return nil, 0, fmt.Errorf("expected 65 fields, got %d", len(rec))
				}
				class, err := strconv.Atoi(strings.TrimSpace(rec[64]))
				if err != nil || class < 0 || class > 9 {
					return nil, 0, fmt.Errorf("invalid digit %q", rec[64])
				}
				return rec[:64], class, nil
			},
		},
	}
}

func SourceFor(name string) (Source, bool) {
	for _, s := range Sources() {
		if s.Name == name {
			return s, true
		}
	}
	return Source{}, false
}

// Provision downloads a built-in dataset and stores it in the catalog
// directory in the canonical layout. It returns the written path.
func (c Catalog) Provision(ctx context.Context, client *http.Client, name string) (string, error) {
	src, ok := SourceFor(name)
	if !ok {
		return "", fmt.Errorf("dataset %s has no download source", name)
	}
	return c.Install(ctx, client, src)
}

// Install downloads src.URL and writes the converted file into the catalog.
func (c Catalog) Install(ctx context.Context, client *http.Client, src Source) (string, error) {
	name := src.Name
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", src.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: unexpected status %s", src.URL, resp.Status)
	}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create builtin dir: %w", err)
	}
	tmp, err := os.CreateTemp(c.Dir, "."+name+"-*.csv")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := src.WriteCanonical(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("convert %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	dst := c.Path(name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("install %s: %w", filepath.Base(dst), err)
	}
	return dst, nil
}

// WriteCanonical converts the raw source file into the canonical CSV layout.
func (s Source) WriteCanonical(w io.Writer, raw io.Reader) error {
	cr := csv.NewReader(raw)
	cr.FieldsPerRecord = -1
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)
	header := append(append([]string(nil), s.FeatureNames...), "target")
	if err := cw.Write(header); err != nil {
		return err
	}
	rows := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		features, label, err := s.convert(rec)
		if err != nil {
			return fmt.Errorf("record %d: %w", rows+1, err)
		}
		for _, f := range features {
			if _, ok := ParseNumber(f); !ok {
				return fmt.Errorf("record %d: non-numeric feature %q", rows+1, f)
			}
		}
		out := make([]string, 0, len(features)+1)
		for _, f := range features {
			out = append(out, strings.TrimSpace(f))
		}
		out = append(out, strconv.Itoa(label))
		if err := cw.Write(out); err != nil {
			return err
		}
		rows++
	}
	if rows == 0 {
		return fmt.Errorf("source %s has no records", s.Name)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}
