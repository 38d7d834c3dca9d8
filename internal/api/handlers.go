package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jayteealao/htbase/internal/capture"
)

type submitJobRequest struct {
	URL    string   `json:"url"`
	ItemID string   `json:"item_id"`
	Name   string   `json:"name"`
	Tools  []string `json:"tools"`
}

type submitJobResponse struct {
	JobID string `json:"job_id"`
	Tools []string `json:"tools"`
}

// submitJob fans one URL out into a queue job per requested tool, all
// sharing a generated job id.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	if s.enqueuer == nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "job submission not available on this node")
		return
	}
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(s.logger, w, http.StatusBadRequest, "url is required")
		return
	}
	if len(req.Tools) == 0 {
		writeError(s.logger, w, http.StatusBadRequest, "at least one tool is required")
		return
	}

	jobID := s.idGen()
	for _, tool := range req.Tools {
		job := capture.Job{
			URL:    req.URL,
			ItemID: req.ItemID,
			Name:   req.Name,
			Tool:   tool,
			JobID:  jobID,
		}
		if err := s.enqueuer.Enqueue(r.Context(), job); err != nil {
			writeError(s.logger, w, http.StatusServiceUnavailable, "queue full or closed")
			return
		}
	}
	writeJSON(s.logger, w, http.StatusAccepted, submitJobResponse{JobID: jobID, Tools: req.Tools})
}

func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "artifact_id"), 10, 64)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid artifact id")
		return
	}
	artifact, err := s.store.GetArtifact(r.Context(), id)
	if errors.Is(err, capture.ErrNotFound) {
		writeError(s.logger, w, http.StatusNotFound, "artifact not found")
		return
	}
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, artifact)
}

// listArtifacts filters by tool, status set, or job id, newest first.
func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	if jobID := q.Get("job_id"); jobID != "" {
		artifacts, err := s.store.ListArtifactsByJob(r.Context(), jobID)
		if err != nil {
			writeError(s.logger, w, http.StatusInternalServerError, "listing failed")
			return
		}
		writeJSON(s.logger, w, http.StatusOK, artifactList(artifacts))
		return
	}

	tool := q.Get("tool")
	var statuses []capture.ArtifactStatus
	for _, raw := range strings.Split(q.Get("status"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		st := capture.ArtifactStatus(raw)
		if !st.Valid() {
			writeError(s.logger, w, http.StatusBadRequest, "unknown status "+raw)
			return
		}
		statuses = append(statuses, st)
	}

	var artifacts []capture.Artifact
	var err error
	if tool == "" && len(statuses) == 0 {
		artifacts, err = s.store.ListArtifactsRecent(r.Context(), limit, offset)
	} else {
		artifacts, err = s.store.ListArtifactsByToolStatus(r.Context(), tool, statuses, limit)
	}
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "listing failed")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, artifactList(artifacts))
}

type deleteArtifactsRequest struct {
	IDs []int64 `json:"ids"`
}

func (s *Server) deleteArtifacts(w http.ResponseWriter, r *http.Request) {
	var req deleteArtifactsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.IDs) == 0 {
		writeError(s.logger, w, http.StatusBadRequest, "ids is required")
		return
	}
	n, err := s.store.DeleteArtifacts(r.Context(), req.IDs)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]int64{"deleted": n})
}

// findCapture answers "is this URL already archived with this tool".
func (s *Server) findCapture(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	url := q.Get("url")
	tool := q.Get("tool")
	if url == "" || tool == "" {
		writeError(s.logger, w, http.StatusBadRequest, "url and tool are required")
		return
	}
	artifact, err := s.store.FindSuccessful(r.Context(), q.Get("item_id"), url, tool)
	if errors.Is(err, capture.ErrNotFound) {
		writeError(s.logger, w, http.StatusNotFound, "no successful capture")
		return
	}
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, artifact)
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "target_id"), 10, 64)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid target id")
		return
	}
	target, err := s.store.GetTarget(r.Context(), id)
	if errors.Is(err, capture.ErrNotFound) {
		writeError(s.logger, w, http.StatusNotFound, "target not found")
		return
	}
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, target)
}

func (s *Server) listTargetArtifacts(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "target_id"), 10, 64)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid target id")
		return
	}
	artifacts, err := s.store.ListArtifactsByTarget(r.Context(), id)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "listing failed")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, artifactList(artifacts))
}

type itemResponse struct {
	Target    capture.Target     `json:"target"`
	Artifacts []capture.Artifact `json:"artifacts"`
}

// getItem resolves a target by item id together with its artifacts. This is
// the read path that drives lazy replica migration.
func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")
	target, err := s.store.GetTargetByItemID(r.Context(), itemID)
	if errors.Is(err, capture.ErrNotFound) {
		writeError(s.logger, w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "lookup failed")
		return
	}
	artifacts, err := s.store.ListArtifactsByTarget(r.Context(), target.ID)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "listing failed")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, itemResponse{Target: target, Artifacts: artifactList(artifacts)})
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	targetID, _ := strconv.ParseInt(q.Get("target_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	executions, err := s.journal.ListExecutions(r.Context(), targetID, q.Get("tool"), limit)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "listing failed")
		return
	}
	if executions == nil {
		executions = []capture.Execution{}
	}
	writeJSON(s.logger, w, http.StatusOK, executions)
}

type executionResponse struct {
	Execution capture.Execution    `json:"execution"`
	Output    []capture.OutputLine `json:"output"`
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "execution_id"), 10, 64)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid execution id")
		return
	}
	execution, err := s.journal.GetExecution(r.Context(), id)
	if errors.Is(err, capture.ErrNotFound) {
		writeError(s.logger, w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "lookup failed")
		return
	}
	output, err := s.journal.ListOutput(r.Context(), id)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "output lookup failed")
		return
	}
	if output == nil {
		output = []capture.OutputLine{}
	}
	writeJSON(s.logger, w, http.StatusOK, executionResponse{Execution: execution, Output: output})
}

func (s *Server) replayExecution(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "execution_id"), 10, 64)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid execution id")
		return
	}
	result, err := s.replayer.Replay(r.Context(), id)
	if errors.Is(err, capture.ErrNotFound) {
		writeError(s.logger, w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "replay failed")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, result)
}

func artifactList(in []capture.Artifact) []capture.Artifact {
	if in == nil {
		return []capture.Artifact{}
	}
	return in
}
