package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/umputun/nanoledger/app/common"
	"github.com/umputun/nanoledger/app/jobs"
	"github.com/umputun/nanoledger/app/store/enums"
)

// KeyRequest is the body of PUT /config
type KeyRequest struct {
	Key string `json:"key"`
}

// UploadRequest is the body of POST /uploads
type UploadRequest struct {
	Paths []string `json:"paths"`
}

// ImageResponse is returned by GET /image
type ImageResponse struct {
	DataURL string `json:"data_url"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status    string     `json:"status"`
	Version   string     `json:"version"`
	DataDir   string     `json:"data_dir"`
	Disk      *DiskUsage `json:"disk,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// DiskUsage of the data directory volume
type DiskUsage struct {
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string      `json:"error"`
	Kind  common.Kind `json:"kind"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := enums.FilterAll
	if v := r.URL.Query().Get("filter"); v != "" {
		f, err := enums.ParseFilter(v)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: %w", common.ErrInvalidRequest, err))
			return
		}
		filter = f
	}
	res, err := s.jobs.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	res, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreateTextToImage(w http.ResponseWriter, r *http.Request) {
	var req jobs.TextToImageRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.jobs.CreateTextToImage(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleCreateImageToImage(w http.ResponseWriter, r *http.Request) {
	var req jobs.ImageToImageRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.jobs.CreateImageToImage(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	res, err := s.jobs.RecomputeAggregates(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSetBatch(w http.ResponseWriter, r *http.Request) {
	var req jobs.Batch
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.jobs.SetBatch(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePendingItems(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: invalid limit %q", common.ErrInvalidRequest, v))
			return
		}
		limit = n
	}
	res, err := s.jobs.PendingItems(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req jobs.Transition
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.jobs.TransitionItem(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleKeyStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.keys.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleKeySave(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.keys.Save(r.Context(), req.Key); err != nil {
		s.writeError(w, err)
		return
	}
	s.handleKeyStatus(w, r)
}

func (s *Server) handleKeyDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.keys.Delete(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.uploads.Upload(r.Context(), req.Paths)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, fmt.Errorf("%w: path required", common.ErrInvalidRequest))
		return
	}
	if err := s.uploads.Delete(path); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, fmt.Errorf("%w: path required", common.ErrInvalidRequest))
		return
	}
	url, err := s.uploads.DataURL(path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ImageResponse{DataURL: url})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", Version: s.version, DataDir: s.dataDir, Timestamp: time.Now()}
	if s.dataDir != "" {
		usage, err := disk.Usage(s.dataDir)
		if err != nil {
			log.Printf("[WARN] failed to get disk usage for %s, %v", s.dataDir, err)
		} else {
			resp.Disk = &DiskUsage{Total: usage.Total, Free: usage.Free, UsedPercent: usage.UsedPercent}
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, Schema())
}

// decode reads json body into v, malformed body is a validation failure
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: can't decode request body: %w", common.ErrInvalidRequest, err)
	}
	return nil
}

// statusCode maps error kind to http status
func statusCode(kind common.Kind) int {
	switch kind {
	case common.KindNotFound:
		return http.StatusNotFound
	case common.KindValidation:
		return http.StatusBadRequest
	case common.KindPermission:
		return http.StatusForbidden
	case common.KindLock:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeError writes a JSON error response with the error kind
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := common.KindOf(err)
	status := statusCode(kind)
	if status >= http.StatusInternalServerError {
		log.Printf("[ERROR] request failed, %v", err)
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		status = http.StatusRequestEntityTooLarge
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}
