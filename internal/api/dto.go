package api

// QuantizeRequest asks the server to quantize one model file on local disk.
type QuantizeRequest struct {
	Input       string   `json:"input"`
	Output      string   `json:"output"`
	Type        string   `json:"type"`
	TensorTypes []string `json:"tensor_types,omitempty"`
	Skip        []string `json:"skip,omitempty"`
}

// Job statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job is the public view of a quantization job.
type Job struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	Status      string `json:"status"`
	Input       string `json:"input"`
	Output      string `json:"output"`
	Type        string `json:"type"`
	CreatedAt   int64  `json:"created_at"`
	CompletedAt *int64 `json:"completed_at,omitempty"`
	Error       string `json:"error,omitempty"`

	Tensors   int   `json:"tensors,omitempty"`
	Quantized int   `json:"quantized,omitempty"`
	SizeOrig  int64 `json:"size_orig,omitempty"`
	SizeNew   int64 `json:"size_new,omitempty"`
}

// TypeInfo describes one supported quantization type.
type TypeInfo struct {
	Name           string  `json:"name"`
	BlockSize      int     `json:"block_size"`
	BytesPerWeight float64 `json:"bytes_per_weight"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func newAPIError(typ, msg string) apiError {
	var e apiError
	e.Error.Type = typ
	e.Error.Message = msg
	return e
}
