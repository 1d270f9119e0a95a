package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/zsiec/tsdemux/internal/ingest"
	"github.com/zsiec/tsdemux/internal/ingest/srt"
	"github.com/zsiec/tsdemux/internal/jobs"
	"github.com/zsiec/tsdemux/internal/mpegts"
)

// DemuxResponse is the body of a successful POST /api/demux.
type DemuxResponse struct {
	Job     uint64               `json:"job"`
	Streams []jobs.StreamSummary `json:"streams"`
	Buffers int                  `json:"buffers"`
}

// DemuxError is the body of a failed pass.
type DemuxError struct {
	Job    uint64 `json:"job"`
	Error  string `json:"error"`
	Code   int    `json:"code"`
	Offset int    `json:"offset"`
	PID    uint16 `json:"pid"`
}

// JobsResponse is the body of GET /api/jobs.
type JobsResponse struct {
	jobs.Stats
	PendingIDs []uint64 `json:"pendingIds"`
}

// SessionInfo describes one ingest session.
type SessionInfo struct {
	Key   string       `json:"key"`
	Stats ingest.Stats `json:"stats"`
}

type certHashResponse struct {
	Hash     string    `json:"hash"`
	Addr     string    `json:"addr"`
	NotAfter time.Time `json:"notAfter"`
}

func (s *Server) handleDemux(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	length, err := intParam(q.Get("length"), len(body)-offset)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid length")
		return
	}

	job := s.config.Jobs.Submit(body, offset, length)

	ctx, cancel := context.WithTimeout(r.Context(), s.config.DemuxTimeout)
	defer cancel()
	res, err := job.Wait(ctx)

	var demuxErr *mpegts.Error
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, DemuxResponse{
			Job:     job.ID(),
			Streams: jobs.Summarize(res),
			Buffers: len(res.Buffers),
		})
	case errors.As(err, &demuxErr) && demuxErr.Code == mpegts.CodePoolClosed:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &demuxErr):
		writeJSON(w, http.StatusUnprocessableEntity, DemuxError{
			Job:    job.ID(),
			Error:  err.Error(),
			Code:   int(demuxErr.Code),
			Offset: demuxErr.Offset,
			PID:    demuxErr.PID,
		})
	default:
		s.log.Warn("demux request abandoned", "job", job.ID(), "error", err)
		writeError(w, http.StatusServiceUnavailable, "job did not complete in time")
	}
}

// intParam parses an optional non-negative integer query parameter.
func intParam(v string, fallback int) (int, error) {
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("not a non-negative integer")
	}
	return n, nil
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	pending := s.config.Jobs.Pending()
	if pending == nil {
		pending = []uint64{}
	}
	writeJSON(w, http.StatusOK, JobsResponse{
		Stats:      s.config.Jobs.Stats(),
		PendingIDs: pending,
	})
}

func (s *Server) handleIngestList(w http.ResponseWriter, _ *http.Request) {
	resp := make([]SessionInfo, 0)
	if s.config.Ingest != nil {
		for _, sess := range s.config.Ingest.List() {
			resp = append(resp, SessionInfo{Key: sess.Key, Stats: sess.Stats()})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngestGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if s.config.Ingest == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	sess, ok := s.config.Ingest.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, SessionInfo{Key: sess.Key, Stats: sess.Stats()})
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, certHashResponse{
		Hash:     s.config.Cert.FingerprintBase64(),
		Addr:     s.config.Addr,
		NotAfter: s.config.Cert.NotAfter.UTC(),
	})
}

func (s *Server) handleSRTPullOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

// SECURITY: The SRT pull endpoint accepts arbitrary addresses, which could be
// used for SSRF if exposed to untrusted clients. Restrict it to operators or
// internal networks.
func (s *Server) handleSRTPullList(w http.ResponseWriter, _ *http.Request) {
	var pulls []srt.PullRequest
	if s.config.SRTList != nil {
		pulls = s.config.SRTList()
	}
	if pulls == nil {
		pulls = []srt.PullRequest{}
	}
	writeJSON(w, http.StatusOK, pulls)
}

func (s *Server) handleSRTPullCreate(w http.ResponseWriter, r *http.Request) {
	if s.config.SRTPull == nil {
		writeError(w, http.StatusNotImplemented, "SRT pull not configured")
		return
	}
	var req srt.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.config.SRTPull(req); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "pulling", "streamKey": req.StreamKey})
}

func (s *Server) handleSRTPullStop(w http.ResponseWriter, r *http.Request) {
	if s.config.SRTStop == nil {
		writeError(w, http.StatusNotImplemented, "SRT pull not configured")
		return
	}
	streamKey := r.URL.Query().Get("streamKey")
	if streamKey == "" {
		writeError(w, http.StatusBadRequest, "streamKey query parameter required")
		return
	}
	if err := s.config.SRTStop(streamKey); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "streamKey": streamKey})
}
