package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/ailab/internal/domain"
	"github.com/animus-labs/ailab/internal/platform/httpserver"
	"github.com/animus-labs/ailab/internal/repo"
	"github.com/animus-labs/ailab/internal/storage/objectstore"
	"github.com/google/uuid"
)

type datasetRegistryAPI struct {
	logger         *slog.Logger
	datasets       repo.DatasetRepository
	objects        objectstore.Store
	bucket         string
	uploadDir      string
	uploadMaxBytes int64
	now            func() time.Time
}

// newDatasetRegistryAPI stores uploads in bucket when objects is non-nil and
// under uploadDir otherwise.
func newDatasetRegistryAPI(logger *slog.Logger, datasets repo.DatasetRepository, objects objectstore.Store, bucket string, uploadDir string) *datasetRegistryAPI {
	return &datasetRegistryAPI{
		logger:         logger,
		datasets:       datasets,
		objects:        objects,
		bucket:         bucket,
		uploadDir:      uploadDir,
		uploadMaxBytes: 250 << 20, // 250 MiB
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (api *datasetRegistryAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /datasets", api.handleListDatasets)
	mux.HandleFunc("POST /datasets", api.handleCreateDataset)
	mux.HandleFunc("POST /datasets/upload", api.handleUploadDataset)
	mux.HandleFunc("GET /datasets/{dataset_id}", api.handleGetDataset)
	mux.HandleFunc("GET /datasets/{dataset_id}/download", api.handleDownloadDataset)
}

type dataset struct {
	ID          string       `json:"id"`
	ProjectID   string       `json:"project_id"`
	Name        string       `json:"name"`
	Kind        string       `json:"kind"`
	Description string       `json:"description,omitempty"`
	URI         string       `json:"uri"`
	TargetCol   *string      `json:"target_col"`
	Meta        domain.Value `json:"meta"`
	CreatedAt   time.Time    `json:"created_at"`
}

func datasetOut(d domain.Dataset) dataset {
	meta := d.Meta
	if meta.IsNull() {
		meta = domain.Object(nil)
	}
	return dataset{
		ID:          d.ID,
		ProjectID:   d.ProjectID,
		Name:        d.Name,
		Kind:        d.Kind,
		Description: d.Description,
		URI:         d.URI,
		TargetCol:   d.TargetCol,
		Meta:        meta,
		CreatedAt:   d.CreatedAt,
	}
}

// createDatasetRequest registers a file that already exists at URI.
type createDatasetRequest struct {
	ProjectID   string       `json:"project_id"`
	Name        string       `json:"name"`
	Kind        string       `json:"kind,omitempty"`
	Description string       `json:"description,omitempty"`
	URI         string       `json:"uri"`
	TargetCol   string       `json:"target_col,omitempty"`
	Meta        domain.Value `json:"meta"`
}

func (api *datasetRegistryAPI) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	var req createDatasetRequest
	if err := decodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json", "")
		return
	}
	d := domain.Dataset{
		ID:          uuid.NewString(),
		ProjectID:   strings.TrimSpace(req.ProjectID),
		Name:        strings.TrimSpace(req.Name),
		Kind:        strings.TrimSpace(req.Kind),
		Description: strings.TrimSpace(req.Description),
		URI:         strings.TrimSpace(req.URI),
		TargetCol:   optionalString(req.TargetCol),
		Meta:        req.Meta,
		CreatedAt:   api.now(),
	}
	if d.Kind == "" {
		d.Kind = domain.DatasetKindTabular
	}
	if err := d.Validate(); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_dataset", err.Error())
		return
	}
	if err := api.datasets.CreateDataset(r.Context(), d); err != nil {
		api.writeRepoError(w, r, err, "project_not_found")
		return
	}
	w.Header().Set("Location", "/datasets/"+d.ID)
	httpserver.WriteJSON(w, http.StatusCreated, datasetOut(d))
}

func (api *datasetRegistryAPI) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(parseIntQuery(r, "limit", 100), 1, 500)
	items, err := api.datasets.ListDatasets(r.Context(), repo.DatasetFilter{
		ProjectID: strings.TrimSpace(r.URL.Query().Get("project_id")),
		Limit:     limit,
	})
	if err != nil {
		api.writeRepoError(w, r, err, "dataset_not_found")
		return
	}
	out := make([]dataset, 0, len(items))
	for _, d := range items {
		out = append(out, datasetOut(d))
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}

func (api *datasetRegistryAPI) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	d, err := api.datasets.GetDataset(r.Context(), r.PathValue("dataset_id"))
	if err != nil {
		api.writeRepoError(w, r, err, "dataset_not_found")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, datasetOut(d))
}

// handleUploadDataset streams the multipart "file" part to storage while
// hashing it, then records the dataset. The stored file is removed again when
// the record cannot be created.
func (api *datasetRegistryAPI) handleUploadDataset(w http.ResponseWriter, r *http.Request) {
	datasetID := uuid.NewString()

	r.Body = http.MaxBytesReader(w, r.Body, api.uploadMaxBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_multipart", "")
		return
	}

	fields := map[string]string{}
	var (
		uri           string
		contentSHA256 string
		sizeBytes     int64
		filename      string
		contentType   string
		header        headerSniffer
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			api.discard(r.Context(), uri)
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_multipart", "")
			return
		}
		switch formName := part.FormName(); formName {
		case "project_id", "name", "target_col", "description", "kind":
			raw, err := io.ReadAll(io.LimitReader(part, 4096))
			_ = part.Close()
			if err != nil {
				api.discard(r.Context(), uri)
				httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_multipart", formName)
				return
			}
			fields[formName] = strings.TrimSpace(string(raw))
		case "file":
			if uri != "" {
				_ = part.Close()
				api.discard(r.Context(), uri)
				httpserver.WriteError(w, r, http.StatusBadRequest, "multiple_files_not_supported", "")
				return
			}
			filename = sanitizeFilename(part.FileName())
			contentType = strings.TrimSpace(part.Header.Get("Content-Type"))
			if contentType == "" {
				contentType = "text/csv"
			}

			hasher := sha256.New()
			counter := &countingWriter{}
			reader := io.TeeReader(part, io.MultiWriter(hasher, counter, &header))

			uploadCtx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
			stored, putErr := api.store(uploadCtx, datasetID, filename, contentType, reader)
			cancel()
			_ = part.Close()
			if putErr != nil {
				api.logger.Error("dataset upload failed", "dataset_id", datasetID, "error", putErr)
				httpserver.WriteError(w, r, http.StatusBadRequest, "upload_failed", "")
				return
			}
			uri = stored
			contentSHA256 = hex.EncodeToString(hasher.Sum(nil))
			sizeBytes = counter.n
		default:
			_ = part.Close()
		}
	}
	if uri == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "file_required", "")
		return
	}

	name := fields["name"]
	if name == "" {
		name = filename
	}
	kind := fields["kind"]
	if kind == "" {
		kind = domain.DatasetKindTabular
	}
	meta := map[string]domain.Value{
		"filename":       domain.String(filename),
		"content_type":   domain.String(contentType),
		"content_sha256": domain.String(contentSHA256),
		"size_bytes":     domain.Number(float64(sizeBytes)),
	}
	if kind == domain.DatasetKindTabular {
		columns, err := header.Columns()
		if err != nil {
			api.discard(r.Context(), uri)
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_csv", err.Error())
			return
		}
		if target := fields["target_col"]; target != "" && !containsString(columns, target) {
			api.discard(r.Context(), uri)
			httpserver.WriteError(w, r, http.StatusBadRequest, "target_col_not_found", target)
			return
		}
		items := make([]domain.Value, 0, len(columns))
		for _, c := range columns {
			items = append(items, domain.String(c))
		}
		meta["columns"] = domain.Array(items...)
	}
	d := domain.Dataset{
		ID:          datasetID,
		ProjectID:   fields["project_id"],
		Name:        name,
		Kind:        kind,
		Description: fields["description"],
		URI:         uri,
		TargetCol:   optionalString(fields["target_col"]),
		Meta:        domain.Object(meta),
		CreatedAt:   api.now(),
	}
	if err := d.Validate(); err != nil {
		api.discard(r.Context(), uri)
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_dataset", err.Error())
		return
	}
	if err := api.datasets.CreateDataset(r.Context(), d); err != nil {
		api.discard(r.Context(), uri)
		api.writeRepoError(w, r, err, "project_not_found")
		return
	}

	api.logger.Info("dataset uploaded", "dataset_id", datasetID, "uri", uri, "size_bytes", sizeBytes, "content_sha256", contentSHA256)
	w.Header().Set("Location", "/datasets/"+datasetID)
	httpserver.WriteJSON(w, http.StatusCreated, datasetOut(d))
}

func (api *datasetRegistryAPI) handleDownloadDataset(w http.ResponseWriter, r *http.Request) {
	d, err := api.datasets.GetDataset(r.Context(), r.PathValue("dataset_id"))
	if err != nil {
		api.writeRepoError(w, r, err, "dataset_not_found")
		return
	}
	body, size, err := api.open(r.Context(), d.URI)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) || errors.Is(err, os.ErrNotExist) {
			httpserver.WriteError(w, r, http.StatusNotFound, "file_not_found", "")
			return
		}
		api.logger.Error("dataset download failed", "dataset_id", d.ID, "error", err)
		httpserver.WriteError(w, r, http.StatusBadGateway, "storage_error", "")
		return
	}
	defer body.Close()

	filename := metaString(d.Meta, "filename")
	if filename == "" {
		filename = sanitizeFilename(d.URI)
	}
	contentType := metaString(d.Meta, "content_type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

// store writes body to <dataset_id>/<filename> and returns the dataset uri.
func (api *datasetRegistryAPI) store(ctx context.Context, datasetID, filename, contentType string, body io.Reader) (string, error) {
	key := datasetID + "/" + filename
	if api.objects != nil {
		if err := api.objects.Put(ctx, api.bucket, key, body, -1, contentType); err != nil {
			return "", err
		}
		return objectstore.URI(api.bucket, key), nil
	}

	dir := filepath.Join(api.uploadDir, datasetID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	target := filepath.Join(dir, filename)
	f, err := os.Create(target)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.RemoveAll(dir)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return target, nil
}

func (api *datasetRegistryAPI) open(ctx context.Context, uri string) (io.ReadCloser, int64, error) {
	if objectstore.IsURI(uri) {
		if api.objects == nil {
			return nil, 0, errors.New("object storage disabled")
		}
		bucket, key, err := objectstore.ParseURI(uri)
		if err != nil {
			return nil, 0, err
		}
		body, info, err := api.objects.Get(ctx, bucket, key)
		if err != nil {
			return nil, 0, err
		}
		return body, info.Size, nil
	}
	f, err := os.Open(uri)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// discard removes a stored upload. Failures are only logged.
func (api *datasetRegistryAPI) discard(ctx context.Context, uri string) {
	if uri == "" {
		return
	}
	var err error
	if objectstore.IsURI(uri) {
		bucket, key, parseErr := objectstore.ParseURI(uri)
		if parseErr != nil {
			return
		}
		err = api.objects.Delete(context.WithoutCancel(ctx), bucket, key)
	} else {
		err = os.RemoveAll(filepath.Dir(uri))
	}
	if err != nil {
		api.logger.Warn("discard upload failed", "uri", uri, "error", err)
	}
}

func (api *datasetRegistryAPI) writeRepoError(w http.ResponseWriter, r *http.Request, err error, notFoundCode string) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		httpserver.WriteError(w, r, http.StatusNotFound, notFoundCode, "")
	case errors.Is(err, repo.ErrConflict):
		httpserver.WriteError(w, r, http.StatusConflict, "dataset_exists", "")
	default:
		api.logger.Error("request failed", "path", r.URL.Path, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error", "")
	}
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func metaString(meta domain.Value, key string) string {
	v, ok := meta.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return strings.TrimSpace(s)
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func sanitizeFilename(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "" || base == "." || base == "/" || base == ".." {
		return "dataset.csv"
	}
	return base
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
