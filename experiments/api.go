package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/ailab/internal/app"
	"github.com/animus-labs/ailab/internal/domain"
	"github.com/animus-labs/ailab/internal/platform/httpserver"
	"github.com/animus-labs/ailab/internal/repo"
	"github.com/animus-labs/ailab/internal/service/runs"
	"github.com/google/uuid"
)

type experimentsAPI struct {
	logger *slog.Logger
	stores app.Stores
	runs   *runs.Service
	now    func() time.Time
}

func newExperimentsAPI(logger *slog.Logger, stores app.Stores, svc *runs.Service) *experimentsAPI {
	return &experimentsAPI{
		logger: logger,
		stores: stores,
		runs:   svc,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (api *experimentsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /projects", api.handleListProjects)
	mux.HandleFunc("POST /projects", api.handleCreateProject)
	mux.HandleFunc("GET /projects/{project_id}", api.handleGetProject)

	mux.HandleFunc("GET /experiments", api.handleListExperiments)
	mux.HandleFunc("POST /experiments", api.handleCreateExperiment)
	mux.HandleFunc("GET /experiments/{experiment_id}", api.handleGetExperiment)

	mux.HandleFunc("GET /runs", api.handleListRuns)
	mux.HandleFunc("POST /runs", api.handleCreateRun)
	mux.HandleFunc("GET /runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("GET /runs/{run_id}/events", api.handleListRunEvents)
	mux.HandleFunc("POST /runs/{run_id}/enqueue", api.handleEnqueueRun)
	mux.HandleFunc("POST /runs/{run_id}/start", api.handleStartRun)
	mux.HandleFunc("POST /runs/{run_id}/start_sync", api.handleStartRunSync)
	mux.HandleFunc("POST /runs/{run_id}/cancel", api.handleCancelRun)
}

type project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Slug        string        `json:"slug"`
	Branch      domain.Branch `json:"branch"`
	Description string        `json:"description,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

func projectOut(p domain.Project) project {
	return project{ID: p.ID, Name: p.Name, Slug: p.Slug, Branch: p.Branch, Description: p.Description, CreatedAt: p.CreatedAt}
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Branch      string `json:"branch"`
	Description string `json:"description,omitempty"`
}

func (api *experimentsAPI) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json", "")
		return
	}
	branch, ok := domain.ParseBranch(req.Branch)
	if !ok {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_branch", req.Branch)
		return
	}
	p := domain.Project{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		Slug:        strings.TrimSpace(req.Slug),
		Branch:      branch,
		Description: strings.TrimSpace(req.Description),
		CreatedAt:   api.now(),
	}
	if err := p.Validate(); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_project", err.Error())
		return
	}
	if err := api.stores.Projects.CreateProject(r.Context(), p); err != nil {
		api.writeRepoError(w, r, err, "project_not_found")
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, projectOut(p))
}

func (api *experimentsAPI) handleListProjects(w http.ResponseWriter, r *http.Request) {
	filter := repo.ProjectFilter{Limit: listLimit(r)}
	if raw := strings.TrimSpace(r.URL.Query().Get("branch")); raw != "" {
		branch, ok := domain.ParseBranch(raw)
		if !ok {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_branch", raw)
			return
		}
		filter.Branch = branch
	}
	items, err := api.stores.Projects.ListProjects(r.Context(), filter)
	if err != nil {
		api.writeRepoError(w, r, err, "project_not_found")
		return
	}
	out := make([]project, 0, len(items))
	for _, p := range items {
		out = append(out, projectOut(p))
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}

func (api *experimentsAPI) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := api.stores.Projects.GetProject(r.Context(), r.PathValue("project_id"))
	if err != nil {
		api.writeRepoError(w, r, err, "project_not_found")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, projectOut(p))
}

type experiment struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func experimentOut(e domain.Experiment) experiment {
	return experiment{ID: e.ID, ProjectID: e.ProjectID, Name: e.Name, Note: e.Note, CreatedAt: e.CreatedAt}
}

type createExperimentRequest struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Note      string `json:"note,omitempty"`
}

func (api *experimentsAPI) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	if err := decodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json", "")
		return
	}
	e := domain.Experiment{
		ID:        uuid.NewString(),
		ProjectID: strings.TrimSpace(req.ProjectID),
		Name:      strings.TrimSpace(req.Name),
		Note:      strings.TrimSpace(req.Note),
		CreatedAt: api.now(),
	}
	if err := e.Validate(); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_experiment", err.Error())
		return
	}
	if err := api.stores.Experiments.CreateExperiment(r.Context(), e); err != nil {
		api.writeRepoError(w, r, err, "project_not_found")
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, experimentOut(e))
}

func (api *experimentsAPI) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	items, err := api.stores.Experiments.ListExperiments(r.Context(), repo.ExperimentFilter{
		ProjectID: strings.TrimSpace(r.URL.Query().Get("project_id")),
		Limit:     listLimit(r),
	})
	if err != nil {
		api.writeRepoError(w, r, err, "experiment_not_found")
		return
	}
	out := make([]experiment, 0, len(items))
	for _, e := range items {
		out = append(out, experimentOut(e))
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}

func (api *experimentsAPI) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	e, err := api.stores.Experiments.GetExperiment(r.Context(), r.PathValue("experiment_id"))
	if err != nil {
		api.writeRepoError(w, r, err, "experiment_not_found")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, experimentOut(e))
}

type run struct {
	ID           string           `json:"id"`
	ExperimentID string           `json:"experiment_id"`
	Name         string           `json:"name"`
	Status       domain.RunStatus `json:"status"`
	Params       domain.Value     `json:"params"`
	Metrics      domain.Value     `json:"metrics"`
	Error        *string          `json:"error"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	StartedAt    *time.Time       `json:"started_at"`
	EndedAt      *time.Time       `json:"ended_at"`
}

func runOut(r domain.Run) run {
	return run{
		ID:           r.ID,
		ExperimentID: r.ExperimentID,
		Name:         r.Name,
		Status:       r.Status,
		Params:       r.Params,
		Metrics:      r.Metrics,
		Error:        r.Error,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
	}
}

// createRunRequest accepts params either as an object or as a JSON string in
// params_json.
type createRunRequest struct {
	ExperimentID string       `json:"experiment_id"`
	Name         string       `json:"name"`
	Params       domain.Value `json:"params"`
	ParamsJSON   string       `json:"params_json,omitempty"`
}

func (api *experimentsAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json", "")
		return
	}
	params := req.Params
	if strings.TrimSpace(req.ParamsJSON) != "" {
		if !params.IsNull() {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_params", "set either params or params_json")
			return
		}
		parsed, err := domain.ParseJSON([]byte(req.ParamsJSON))
		if err != nil {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_params", err.Error())
			return
		}
		params = parsed
	}
	experimentID := strings.TrimSpace(req.ExperimentID)
	if _, err := api.stores.Experiments.GetExperiment(r.Context(), experimentID); err != nil {
		api.writeRepoError(w, r, err, "experiment_not_found")
		return
	}
	now := api.now()
	rec := domain.Run{
		ID:           uuid.NewString(),
		ExperimentID: experimentID,
		Name:         strings.TrimSpace(req.Name),
		Status:       domain.RunStatusQueued,
		Params:       params,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := rec.Validate(); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_run", err.Error())
		return
	}
	if err := api.stores.Runs.CreateRun(r.Context(), rec); err != nil {
		api.writeRepoError(w, r, err, "experiment_not_found")
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, runOut(rec))
}

func (api *experimentsAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{
		ExperimentID: strings.TrimSpace(r.URL.Query().Get("experiment_id")),
		Limit:        listLimit(r),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, ok := domain.ParseRunStatus(raw)
		if !ok {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_status", raw)
			return
		}
		filter.Status = status
	}
	items, err := api.stores.Runs.ListRuns(r.Context(), filter)
	if err != nil {
		api.writeRepoError(w, r, err, "run_not_found")
		return
	}
	out := make([]run, 0, len(items))
	for _, item := range items {
		out = append(out, runOut(item))
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}

func (api *experimentsAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := api.stores.Runs.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		api.writeRepoError(w, r, err, "run_not_found")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, runOut(rec))
}

type runEvent struct {
	EventID    int64            `json:"event_id"`
	OccurredAt time.Time        `json:"occurred_at"`
	Actor      string           `json:"actor"`
	From       domain.RunStatus `json:"from"`
	To         domain.RunStatus `json:"to"`
	Error      *string          `json:"error,omitempty"`
}

func (api *experimentsAPI) handleListRunEvents(w http.ResponseWriter, r *http.Request) {
	events, err := api.stores.Runs.ListRunEvents(r.Context(), r.PathValue("run_id"), listLimit(r))
	if err != nil {
		api.writeRepoError(w, r, err, "run_not_found")
		return
	}
	out := make([]runEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, runEvent{EventID: ev.ID, OccurredAt: ev.At, Actor: ev.Actor, From: ev.From, To: ev.To, Error: ev.Error})
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}

func (api *experimentsAPI) handleEnqueueRun(w http.ResponseWriter, r *http.Request) {
	job, err := api.runs.Enqueue(r.Context(), r.PathValue("run_id"))
	if err != nil {
		api.writeRepoError(w, r, err, "run_not_found")
		return
	}
	httpserver.WriteJSON(w, http.StatusAccepted, map[string]any{"enqueued": true, "job_id": job.ID})
}

func (api *experimentsAPI) handleStartRun(w http.ResponseWriter, r *http.Request) {
	job, err := api.runs.Enqueue(r.Context(), r.PathValue("run_id"))
	if err != nil {
		api.writeRepoError(w, r, err, "run_not_found")
		return
	}
	httpserver.WriteJSON(w, http.StatusAccepted, map[string]any{"started": true, "mode": "async", "job_id": job.ID})
}

func (api *experimentsAPI) handleStartRunSync(w http.ResponseWriter, r *http.Request) {
	rec, err := api.runs.StartSync(r.Context(), r.PathValue("run_id"))
	if err != nil {
		api.writeRepoError(w, r, err, "run_not_found")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, runOut(rec))
}

func (api *experimentsAPI) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	rec, err := api.runs.Cancel(r.Context(), r.PathValue("run_id"))
	if err != nil {
		api.writeRepoError(w, r, err, "run_not_found")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, runOut(rec))
}

func (api *experimentsAPI) writeRepoError(w http.ResponseWriter, r *http.Request, err error, notFoundCode string) {
	var statusErr *repo.StatusError
	switch {
	case errors.As(err, &statusErr):
		httpserver.WriteError(w, r, http.StatusConflict, "run_not_startable", "run status is "+string(statusErr.Status))
	case errors.Is(err, repo.ErrNotFound):
		httpserver.WriteError(w, r, http.StatusNotFound, notFoundCode, "")
	case errors.Is(err, repo.ErrPreconditionFailed):
		httpserver.WriteError(w, r, http.StatusConflict, "run_not_startable", "")
	case errors.Is(err, repo.ErrConflict):
		httpserver.WriteError(w, r, http.StatusConflict, "conflict", "")
	default:
		api.logger.Error("request failed", "path", r.URL.Path, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error", "")
	}
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

func listLimit(r *http.Request) int {
	v := strings.TrimSpace(r.URL.Query().Get("limit"))
	if v == "" {
		return 100
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 100
	}
	return clampInt(parsed, 1, 500)
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
