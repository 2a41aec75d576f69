// Package api serves quantization jobs over HTTP.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lhpqaq/ggmlquant/internal/ggml"
	"github.com/lhpqaq/ggmlquant/internal/logger"
	"github.com/lhpqaq/ggmlquant/internal/quantize"
	"github.com/lhpqaq/ggmlquant/internal/whisperbin"
)

// RunFunc executes one quantization job. It is a field so tests can
// substitute a fake.
type RunFunc func(ctx context.Context, req QuantizeRequest, log logger.Logger) (quantize.Stats, error)

type Server struct {
	store *JobStore
	log   logger.Logger
	clock func() time.Time
	run   RunFunc
}

func NewServer(store *JobStore, log logger.Logger) *Server {
	if store == nil {
		store = NewJobStore()
	}
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		store: store,
		log:   log,
		clock: time.Now,
		run:   runQuantizeJob,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/quantize", s.handleCreateJob)
	e.GET("/v1/jobs", s.handleListJobs)
	e.GET("/v1/jobs/:id", s.handleGetJob)
	e.GET("/v1/types", s.handleListTypes)
	e.GET("/healthz", s.handleHealthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (s *Server) handleCreateJob(c *echo.Context) error {
	req, err := decodeJSON[QuantizeRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, fmt.Sprintf("decode request: %v", err))
	}
	if err := validateRequest(req); err != nil {
		return writeBadRequest(c, err.Error())
	}

	job := s.store.Create(req, s.clock())
	go s.execute(job.ID, req)

	return c.JSON(http.StatusAccepted, job)
}

func (s *Server) handleGetJob(c *echo.Context) error {
	job, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, fmt.Sprintf("no job with id %q", c.Param("id")))
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) handleListJobs(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data":   s.store.List(),
	})
}

func (s *Server) handleListTypes(c *echo.Context) error {
	types := make([]TypeInfo, 0)
	for _, name := range ggml.QuantTargets() {
		t, err := ggml.ParseTensorType(name)
		if err != nil {
			continue
		}
		types = append(types, TypeInfo{
			Name:           name,
			BlockSize:      t.BlockSize(),
			BytesPerWeight: float64(t.TypeSize()) / float64(t.BlockSize()),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data":   types,
	})
}

func (s *Server) handleHealthz(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// execute runs one job to completion in the background.
func (s *Server) execute(id string, req QuantizeRequest) {
	s.store.Update(id, func(j *Job) { j.Status = StatusRunning })
	log := s.log.With("job", id, "input", req.Input)

	stats, err := s.run(context.Background(), req, log)
	done := s.clock().Unix()
	s.store.Update(id, func(j *Job) {
		j.CompletedAt = &done
		if err != nil {
			j.Status = StatusFailed
			j.Error = err.Error()
			return
		}
		j.Status = StatusCompleted
		j.Tensors = stats.Tensors
		j.Quantized = stats.Quantized
		j.SizeOrig = stats.SizeOrig
		j.SizeNew = stats.SizeNew
	})
	if err != nil {
		jobsTotal.WithLabelValues(StatusFailed).Inc()
		log.Error("quantize job failed", "error", err)
		return
	}
	jobsTotal.WithLabelValues(StatusCompleted).Inc()
	bytesWritten.Add(float64(stats.SizeNew))
	log.Info("quantize job completed", "size_orig", stats.SizeOrig, "size_new", stats.SizeNew)
}

func validateRequest(req QuantizeRequest) error {
	if req.Input == "" || req.Output == "" {
		return fmt.Errorf("input and output are required")
	}
	if _, err := os.Stat(req.Input); err != nil {
		return fmt.Errorf("input: %v", err)
	}
	if dir := filepath.Dir(req.Output); dir != "" {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("output directory: %v", err)
		}
	}
	if _, err := ggml.ParseFileType(req.Type); err != nil {
		return err
	}
	for _, spec := range req.TensorTypes {
		if _, err := quantize.ParseRule(spec); err != nil {
			return err
		}
	}
	return nil
}

// runQuantizeJob is the production RunFunc.
func runQuantizeJob(ctx context.Context, req QuantizeRequest, log logger.Logger) (quantize.Stats, error) {
	ftype, err := ggml.ParseFileType(req.Type)
	if err != nil {
		return quantize.Stats{}, err
	}
	rules := make([]quantize.Rule, 0, len(req.TensorTypes))
	for _, spec := range req.TensorTypes {
		r, err := quantize.ParseRule(spec)
		if err != nil {
			return quantize.Stats{}, err
		}
		rules = append(rules, r)
	}
	skip := req.Skip
	if skip == nil {
		skip = whisperbin.DefaultSkip()
	}
	policy, err := quantize.NewPolicy(quantize.PolicyConfig{
		FileType: ftype,
		Rules:    rules,
		Skip:     skip,
	})
	if err != nil {
		return quantize.Stats{}, err
	}

	in, err := os.Open(req.Input)
	if err != nil {
		return quantize.Stats{}, err
	}
	defer func() { _ = in.Close() }()
	out, err := os.Create(req.Output)
	if err != nil {
		return quantize.Stats{}, err
	}
	defer func() { _ = out.Close() }()

	r := ggml.NewReader(in)
	w := ggml.NewWriter(out)
	if _, err := whisperbin.CopyPrelude(r, w, ftype, policy.Mixed()); err != nil {
		return quantize.Stats{}, err
	}
	proc := &quantize.Processor{Policy: policy, Log: log}
	stats, err := proc.Run(ctx, r, w)
	if err != nil {
		return stats, err
	}
	return stats, out.Close()
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, newAPIError(errType, msg))
}
