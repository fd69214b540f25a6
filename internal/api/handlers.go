package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Lol3rrr/cfuzz/internal/orchestrator"
	"github.com/Lol3rrr/cfuzz/internal/registry"
	"github.com/Lol3rrr/cfuzz/internal/storage"
	"github.com/Lol3rrr/cfuzz/internal/types"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Jobs is the orchestrator as seen by the handlers.
type Jobs interface {
	Submit(ctx context.Context, req types.RunRequest) (string, error)
	Cancel(name string) bool
	Running() []string
}

// Store is the storage actor as seen by the handlers.
type Store interface {
	LoadResults(ctx context.Context, project string) ([]types.FuzzResult, error)
	UpsertProject(ctx context.Context, project types.Project) error
	RemoveProject(ctx context.Context, name string) error
	LoadProjects(ctx context.Context) ([]types.Project, error)
	AddProjectTarget(ctx context.Context, project string, target types.Target) error
}

// ErrorResponse is the body of every 5xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func internalError(w http.ResponseWriter, logger *zap.Logger, msg string, err error) {
	logger.Error(msg, zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// handleHealth always answers "ok" once the server accepts requests
func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

// handleTargets lists the names of all running jobs
func handleTargets(jobs Jobs, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := jobs.Running()
		logger.Debug("received running targets request", zap.Int("running", len(names)))
		writeJSON(w, http.StatusOK, names)
	}
}

// handleResults returns every stored finding of a project
func handleResults(store Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		project := query.Get("project")
		if project == "" {
			project = query.Get("pname")
		}
		if project == "" {
			http.Error(w, "project is required", http.StatusBadRequest)
			return
		}

		results, err := store.LoadResults(r.Context(), project)
		if err != nil {
			internalError(w, logger, "failed to load results", err)
			return
		}
		logger.Debug("received results request", zap.String("project", project), zap.Int("results", len(results)))
		writeJSON(w, http.StatusOK, results)
	}
}

// handleRun starts a job, the response does not wait for it
func handleRun(jobs Jobs, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.RunRequest
		if err := decodeBody(w, r, &req); err != nil {
			http.Error(w, "invalid run request: "+err.Error(), http.StatusBadRequest)
			return
		}

		runID, err := jobs.Submit(r.Context(), req)
		switch {
		case err == nil:
		case errors.Is(err, orchestrator.ErrInvalidRequest):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		case errors.Is(err, registry.ErrAlreadyRunning):
			http.Error(w, "job "+req.Name+" is already running", http.StatusConflict)
			return
		case errors.Is(err, storage.ErrProjectNotFound), errors.Is(err, storage.ErrTargetNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case errors.Is(err, orchestrator.ErrShuttingDown):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		default:
			internalError(w, logger, "failed to submit job", err)
			return
		}

		logger.Info("job submitted", zap.String("project", req.ProjectName), zap.String("job", req.Name), zap.String("run_id", runID))
		w.Header().Set("X-Run-Id", runID)
		w.WriteHeader(http.StatusAccepted)
	}
}

// handleCancel signals a running job
func handleCancel(jobs Jobs, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}
		if !jobs.Cancel(name) {
			http.Error(w, "job "+name+" is not running", http.StatusNotFound)
			return
		}
		logger.Info("job cancel requested", zap.String("job", name))
		w.WriteHeader(http.StatusOK)
	}
}

func handleUpdateProject(store Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var project types.Project
		if err := decodeBody(w, r, &project); err != nil {
			http.Error(w, "invalid project: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := project.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := store.UpsertProject(r.Context(), project); err != nil {
			internalError(w, logger, "failed to update project", err)
			return
		}
		logger.Info("project updated", zap.String("project", project.Name))
		w.WriteHeader(http.StatusOK)
	}
}

func handleRemoveProject(store Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("pname")
		if name == "" {
			http.Error(w, "pname is required", http.StatusBadRequest)
			return
		}

		if err := store.RemoveProject(r.Context(), name); err != nil {
			internalError(w, logger, "failed to remove project", err)
			return
		}
		logger.Info("project removed", zap.String("project", name))
		w.WriteHeader(http.StatusOK)
	}
}

func handleListProjects(store Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := store.LoadProjects(r.Context())
		if err != nil {
			internalError(w, logger, "failed to load projects", err)
			return
		}
		writeJSON(w, http.StatusOK, projects)
	}
}

func handleAddTarget(store Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project := r.URL.Query().Get("pname")
		if project == "" {
			http.Error(w, "pname is required", http.StatusBadRequest)
			return
		}
		var target types.Target
		if err := decodeBody(w, r, &target); err != nil {
			http.Error(w, "invalid target: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := target.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		err := store.AddProjectTarget(r.Context(), project, target)
		if errors.Is(err, storage.ErrProjectNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			internalError(w, logger, "failed to add target", err)
			return
		}
		logger.Info("target added", zap.String("project", project), zap.String("target", target.Name))
		w.WriteHeader(http.StatusOK)
	}
}
