package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ggmlquant_jobs_total",
		Help: "Quantization jobs by terminal status.",
	}, []string{"status"})

	bytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ggmlquant_output_bytes_total",
		Help: "Total bytes of quantized tensor data written by completed jobs.",
	})
)
