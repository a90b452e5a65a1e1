package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"trialsim/adapters/export"
	"trialsim/app"
	"trialsim/domain/core"
	"trialsim/domain/trial"
	"trialsim/internal"
	apperrors "trialsim/internal/errors"
	"trialsim/internal/jobs"
	"trialsim/internal/scenario"
)

// maxBodyBytes bounds request bodies; a full batch file fits comfortably
const maxBodyBytes = 1 << 20

// Service holds the framework-neutral handlers shared by the gin server and
// the chi router. Every method returns a status and a JSON-ready body.
type Service struct {
	simulations *app.SimulationService
	batches     *app.BatchService
	jobs        *jobs.Manager
	logger      *internal.Logger
}

// NewService wires the handlers onto the application services
func NewService(simulations *app.SimulationService, batches *app.BatchService, jobManager *jobs.Manager, logger *internal.Logger) *Service {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Service{
		simulations: simulations,
		batches:     batches,
		jobs:        jobManager,
		logger:      logger.WithComponent("API"),
	}
}

// Response is a status plus a body to encode as JSON
type Response struct {
	Status int
	Body   interface{}
}

// ErrorBody is the JSON shape of every failed request
type ErrorBody struct {
	Error string       `json:"error"`
	Code  string       `json:"code"`
	Field string       `json:"field,omitempty"`
	Range *trial.Range `json:"range,omitempty"`
}

// SimulateBody is the JSON request of a synchronous or queued simulation
type SimulateBody struct {
	Config *trial.SimulationConfig `json:"config"`
	Seed   *int64                  `json:"seed,omitempty"`
	Label  string                  `json:"label,omitempty"`
}

// BatchBody is the JSON request of a scenario batch
type BatchBody struct {
	Scenarios []scenario.Scenario `json:"scenarios"`
	BaseSeed  int64               `json:"base_seed"`
}

// SimulateResponse pairs a stored record with its persistence warnings
type SimulateResponse struct {
	Record   *trial.RunRecord `json:"record"`
	Warnings []string         `json:"persistence_warnings"`
}

// DefaultsResponse describes the form defaults and allowed ranges
type DefaultsResponse struct {
	Config trial.SimulationConfig `json:"config"`
	Ranges map[string]trial.Range `json:"ranges"`
}

// Defaults returns the pre-filled config and every field's range
func (s *Service) Defaults() Response {
	return Response{http.StatusOK, DefaultsResponse{Config: trial.DefaultConfig(), Ranges: trial.FieldRanges}}
}

// Simulate runs a batch synchronously
func (s *Service) Simulate(ctx context.Context, body io.Reader) Response {
	req, err := decodeSimulate(body)
	if err != nil {
		return s.errorResponse(err)
	}
	out, err := s.simulations.Run(ctx, app.SimulationRequest{Config: *req.Config, Seed: req.Seed, Label: req.Label})
	if err != nil {
		return s.errorResponse(err)
	}
	warnings := out.PersistenceWarnings
	if warnings == nil {
		warnings = []string{}
	}
	return Response{http.StatusOK, SimulateResponse{Record: out.Record, Warnings: warnings}}
}

// SubmitJob queues an asynchronous simulation
func (s *Service) SubmitJob(body io.Reader) Response {
	req, err := decodeSimulate(body)
	if err != nil {
		return s.errorResponse(err)
	}
	job, err := s.jobs.Submit(jobs.Request{Config: *req.Config, Seed: req.Seed, Label: req.Label})
	if err != nil {
		return s.errorResponse(err)
	}
	return Response{http.StatusAccepted, job}
}

// GetJob returns a job snapshot
func (s *Service) GetJob(id string) Response {
	job, err := s.jobs.Get(core.JobID(id))
	if err != nil {
		return s.errorResponse(err)
	}
	return Response{http.StatusOK, job}
}

// CancelJob stops a queued or running job
func (s *Service) CancelJob(id string) Response {
	job, err := s.jobs.Cancel(core.JobID(id))
	if err != nil {
		if stderrors.Is(err, core.ErrJobFinished) {
			return Response{http.StatusConflict, ErrorBody{Error: err.Error(), Code: apperrors.CodeInvalidInput}}
		}
		return s.errorResponse(err)
	}
	return Response{http.StatusAccepted, job}
}

// ListJobs returns job snapshots, newest first
func (s *Service) ListJobs(limitParam, offsetParam string) Response {
	limit, offset, err := paging(limitParam, offsetParam)
	if err != nil {
		return s.errorResponse(err)
	}
	return Response{http.StatusOK, s.jobs.List(limit, offset)}
}

// LastResult returns the cached aggregate
func (s *Service) LastResult(ctx context.Context) Response {
	record, err := s.simulations.LastResult(ctx)
	if err != nil {
		return s.errorResponse(err)
	}
	return Response{http.StatusOK, record}
}

// ListRuns returns stored runs, newest first
func (s *Service) ListRuns(ctx context.Context, limitParam, offsetParam string) Response {
	limit, offset, err := paging(limitParam, offsetParam)
	if err != nil {
		return s.errorResponse(err)
	}
	records, err := s.simulations.History(ctx, limit, offset)
	if err != nil {
		return s.errorResponse(err)
	}
	if records == nil {
		records = []*trial.RunRecord{}
	}
	return Response{http.StatusOK, records}
}

// Stats summarizes the owner's stored runs
func (s *Service) Stats(ctx context.Context) Response {
	stats, err := s.simulations.Stats(ctx)
	if err != nil {
		return s.errorResponse(err)
	}
	return Response{http.StatusOK, stats}
}

// GetRun returns one stored run
func (s *Service) GetRun(ctx context.Context, id string) Response {
	record, err := s.simulations.GetRun(ctx, id)
	if err != nil {
		return s.errorResponse(err)
	}
	return Response{http.StatusOK, record}
}

// ReplayRun re-simulates a stored run and confirms it reproduces
func (s *Service) ReplayRun(ctx context.Context, id string) Response {
	record, err := s.simulations.Replay(ctx, id)
	if err != nil {
		return s.errorResponse(err)
	}
	return Response{http.StatusOK, record}
}

// RunBatch simulates a scenario set synchronously
func (s *Service) RunBatch(ctx context.Context, body io.Reader) Response {
	var req BatchBody
	if err := decodeJSON(body, &req); err != nil {
		return s.errorResponse(err)
	}
	result, err := s.batches.Run(ctx, app.BatchRequest{Scenarios: req.Scenarios, BaseSeed: req.BaseSeed})
	if err != nil {
		return s.errorResponse(err)
	}
	return Response{http.StatusOK, result}
}

// Export streams a stored run in the requested format. Headers are only
// written once the export has rendered, so failures still produce JSON.
func (s *Service) Export(ctx context.Context, w http.ResponseWriter, id, formatParam string) {
	format, err := export.ParseFormat(formatParam)
	if err != nil {
		writeJSON(w, s.errorResponse(apperrors.InvalidInput(err.Error())))
		return
	}

	var buf bytes.Buffer
	record, err := s.simulations.Export(ctx, id, format, &buf)
	if err != nil {
		writeJSON(w, s.errorResponse(err))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(record, format)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Warn("writing %s export: %v", format, err)
	}
}

func (s *Service) errorResponse(err error) Response {
	classified := apperrors.Classify(err)
	code := apperrors.GetCode(classified)
	status := apperrors.HTTPStatus(code)

	body := ErrorBody{Error: classified.Error(), Code: code}
	var verr *trial.ValidationError
	if stderrors.As(err, &verr) {
		body.Field = verr.Field
		r := verr.Range
		body.Range = &r
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("%s: %v", code, err)
	} else {
		s.logger.Debug("%s: %v", code, err)
	}
	return Response{status, body}
}

func decodeSimulate(body io.Reader) (*SimulateBody, error) {
	var req SimulateBody
	if err := decodeJSON(body, &req); err != nil {
		return nil, err
	}
	if req.Config == nil {
		cfg := trial.DefaultConfig()
		req.Config = &cfg
	}
	return &req, nil
}

func decodeJSON(body io.Reader, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return apperrors.InvalidInput(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

func paging(limitParam, offsetParam string) (int, int, error) {
	limit, offset := 50, 0
	if limitParam != "" {
		v, err := strconv.Atoi(limitParam)
		if err != nil || v < 1 || v > 500 {
			return 0, 0, apperrors.InvalidInput("limit must be between 1 and 500")
		}
		limit = v
	}
	if offsetParam != "" {
		v, err := strconv.Atoi(offsetParam)
		if err != nil || v < 0 {
			return 0, 0, apperrors.InvalidInput("offset must be a non-negative integer")
		}
		offset = v
	}
	return limit, offset, nil
}

func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.Status)
	if err := json.NewEncoder(w).Encode(resp.Body); err != nil {
		internal.DefaultLogger.Warn("encoding response: %v", err)
	}
}
