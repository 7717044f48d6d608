package pipeline

import (
	"fmt"
	"io"

	"github.com/animus-labs/ailab/internal/training/model"
	"github.com/animus-labs/ailab/internal/training/preprocess"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	formatVersion = 1

	kindLogReg = "logreg"
	kindForest = "rf"
)

// artifact is the on-disk form. Forest trees are carried as JSON bytes
// produced by the forest implementation itself.
type artifact struct {
	Version    int                           `msgpack:"version"`
	Kind       string                        `msgpack:"kind"`
	Classes    []string                      `msgpack:"classes"`
	Columns    *preprocess.ColumnTransformer `msgpack:"columns,omitempty"`
	Scaler     *preprocess.Scaler            `msgpack:"scaler,omitempty"`
	LogReg     *model.LogisticRegression     `msgpack:"logreg,omitempty"`
	Forest     *model.RandomForest           `msgpack:"forest,omitempty"`
	ForestJSON []byte                        `msgpack:"forest_trees,omitempty"`
}

// Marshal serializes a fitted pipeline.
func Marshal(p *Pipeline) ([]byte, error) {
	a := artifact{Version: formatVersion, Classes: p.Classes, Columns: p.Columns, Scaler: p.Scaler}
	switch m := p.Model.(type) {
	case *model.LogisticRegression:
		a.Kind, a.LogReg = kindLogReg, m
	case *model.RandomForest:
		trees, err := m.MarshalForest()
		if err != nil {
			return nil, err
		}
		a.Kind, a.Forest, a.ForestJSON = kindForest, m, trees
	default:
		return nil, fmt.Errorf("unsupported model type %T", p.Model)
	}
	data, err := msgpack.Marshal(&a)
	if err != nil {
		return nil, fmt.Errorf("encode pipeline: %w", err)
	}
	return data, nil
}

// Unmarshal restores a pipeline written by Marshal.
func Unmarshal(data []byte) (*Pipeline, error) {
	var a artifact
	if err := msgpack.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode pipeline: %w", err)
	}
	if a.Version != formatVersion {
		return nil, fmt.Errorf("unsupported pipeline format version %d", a.Version)
	}
	p := &Pipeline{Columns: a.Columns, Scaler: a.Scaler, Classes: a.Classes}
	switch a.Kind {
	case kindLogReg:
		if a.LogReg == nil {
			return nil, fmt.Errorf("decode pipeline: missing logistic regression state")
		}
		p.Model = a.LogReg
	case kindForest:
		if a.Forest == nil {
			return nil, fmt.Errorf("decode pipeline: missing forest state")
		}
		if err := a.Forest.UnmarshalForest(a.ForestJSON); err != nil {
			return nil, err
		}
		p.Model = a.Forest
	default:
		return nil, fmt.Errorf("decode pipeline: unknown model kind %q", a.Kind)
	}
	return p, nil
}

// Encode writes a fitted pipeline to w.
func Encode(w io.Writer, p *Pipeline) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Decode reads a pipeline written by Encode.
func Decode(r io.Reader) (*Pipeline, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pipeline: %w", err)
	}
	return Unmarshal(data)
}
