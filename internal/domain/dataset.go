package domain

import (
	"errors"
	"strings"
	"time"
)

const DatasetKindTabular = "tabular"

// Dataset is a registered data file a run can reference by id. URI is a local
// path or an s3://bucket/key location.
type Dataset struct {
	ID          string
	ProjectID   string
	Name        string
	Kind        string
	Description string
	URI         string
	TargetCol   *string
	Meta        Value
	CreatedAt   time.Time
}

func (d Dataset) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("dataset id is required")
	}
	if strings.TrimSpace(d.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("dataset name is required")
	}
	if strings.TrimSpace(d.URI) == "" {
		return errors.New("dataset uri is required")
	}
	if d.TargetCol != nil && strings.TrimSpace(*d.TargetCol) == "" {
		return errors.New("dataset target column must not be blank")
	}
	if !d.Meta.IsNull() && d.Meta.Kind() != KindObject {
		return errors.New("dataset meta must be an object")
	}
	return nil
}
