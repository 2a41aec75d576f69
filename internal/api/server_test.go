package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/lhpqaq/ggmlquant/internal/logger"
	"github.com/lhpqaq/ggmlquant/internal/quantize"
)

func newTestServer(run RunFunc) (*Server, *echo.Echo) {
	s := NewServer(NewJobStore(), logger.Default())
	if run != nil {
		s.run = run
	}
	e := echo.New()
	s.Register(e)
	return s, e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func tempModelPaths(t *testing.T) (input, output string) {
	t.Helper()
	dir := t.TempDir()
	input = filepath.Join(dir, "model.bin")
	if err := os.WriteFile(input, []byte("stub"), 0o644); err != nil {
		t.Fatal(err)
	}
	return input, filepath.Join(dir, "model-q5_0.bin")
}

func waitForStatus(t *testing.T, e *echo.Echo, id, want string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec := doJSON(t, e, http.MethodGet, "/v1/jobs/"+id, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("get job: %d body=%s", rec.Code, rec.Body.String())
		}
		var job Job
		if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
			t.Fatalf("decode job: %v", err)
		}
		if job.Status == want {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in %q, want %q", id, job.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestQuantizeJobLifecycle(t *testing.T) {
	t.Parallel()

	input, output := tempModelPaths(t)
	_, e := newTestServer(func(ctx context.Context, req QuantizeRequest, log logger.Logger) (quantize.Stats, error) {
		return quantize.Stats{Tensors: 167, Quantized: 100, SizeOrig: 1 << 20, SizeNew: 1 << 18}, nil
	})

	body := `{"input":` + jsonQuote(input) + `,"output":` + jsonQuote(output) + `,"type":"q5_0"}`
	rec := doJSON(t, e, http.MethodPost, "/v1/quantize", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create: %d body=%s", rec.Code, rec.Body.String())
	}
	var created Job
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if !strings.HasPrefix(created.ID, "qjob_") {
		t.Fatalf("unexpected job id %q", created.ID)
	}
	if created.Object != "quantize.job" {
		t.Fatalf("unexpected object %q", created.Object)
	}

	job := waitForStatus(t, e, created.ID, StatusCompleted)
	if job.Tensors != 167 || job.Quantized != 100 {
		t.Fatalf("stats not recorded: %+v", job)
	}
	if job.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}

	listRec := doJSON(t, e, http.MethodGet, "/v1/jobs", "")
	if listRec.Code != http.StatusOK {
		t.Fatalf("list: %d", listRec.Code)
	}
	if !strings.Contains(listRec.Body.String(), created.ID) {
		t.Fatalf("list missing job: %s", listRec.Body.String())
	}
}

func TestQuantizeJobFailure(t *testing.T) {
	t.Parallel()

	input, output := tempModelPaths(t)
	_, e := newTestServer(func(ctx context.Context, req QuantizeRequest, log logger.Logger) (quantize.Stats, error) {
		return quantize.Stats{}, errors.New("bad magic")
	})

	body := `{"input":` + jsonQuote(input) + `,"output":` + jsonQuote(output) + `,"type":"q4_k"}`
	rec := doJSON(t, e, http.MethodPost, "/v1/quantize", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create: %d body=%s", rec.Code, rec.Body.String())
	}
	var created Job
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	job := waitForStatus(t, e, created.ID, StatusFailed)
	if job.Error != "bad magic" {
		t.Fatalf("unexpected error %q", job.Error)
	}
}

func TestQuantizeValidation(t *testing.T) {
	t.Parallel()

	input, output := tempModelPaths(t)
	_, e := newTestServer(func(ctx context.Context, req QuantizeRequest, log logger.Logger) (quantize.Stats, error) {
		t.Error("runner should not be called for invalid requests")
		return quantize.Stats{}, nil
	})

	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing fields", `{"type":"q5_0"}`, "input and output are required"},
		{"missing input file", `{"input":"/nonexistent/model.bin","output":` + jsonQuote(output) + `,"type":"q5_0"}`, "input"},
		{"bad type", `{"input":` + jsonQuote(input) + `,"output":` + jsonQuote(output) + `,"type":"q4_9"}`, "q4_9"},
		{"bad rule", `{"input":` + jsonQuote(input) + `,"output":` + jsonQuote(output) + `,"type":"q5_0","tensor_types":["noequals"]}`, "PATTERN=TYPE"},
		{"bad json", `{"input":`, "decode request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, e, http.MethodPost, "/v1/quantize", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("got %d body=%s", rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tc.want) {
				t.Fatalf("body %s missing %q", rec.Body.String(), tc.want)
			}
		})
	}
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	_, e := newTestServer(nil)
	rec := doJSON(t, e, http.MethodGet, "/v1/jobs/qjob_missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestListTypes(t *testing.T) {
	t.Parallel()

	_, e := newTestServer(nil)
	rec := doJSON(t, e, http.MethodGet, "/v1/types", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	var resp struct {
		Data []TypeInfo `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	byName := make(map[string]TypeInfo, len(resp.Data))
	for _, ti := range resp.Data {
		byName[ti.Name] = ti
	}
	q4k, ok := byName["q4_k"]
	if !ok {
		t.Fatalf("q4_k missing from %v", resp.Data)
	}
	if q4k.BlockSize != 256 {
		t.Fatalf("q4_k block size = %d", q4k.BlockSize)
	}
	if q4k.BytesPerWeight < 0.5 || q4k.BytesPerWeight > 0.6 {
		t.Fatalf("q4_k bytes per weight = %f", q4k.BytesPerWeight)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	_, e := newTestServer(nil)
	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

// jsonQuote quotes a string as a JSON literal.
func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
