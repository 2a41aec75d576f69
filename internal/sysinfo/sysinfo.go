// Package sysinfo detects the host specs relevant to quantization runs:
// RAM, CPU and the SIMD extensions the math kernels can use.
package sysinfo

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	xcpu "golang.org/x/sys/cpu"
)

const gb = 1024 * 1024 * 1024

// Specs holds detected system specs.
type Specs struct {
	GoVersion      string          `json:"go_version"`
	OS             string          `json:"go_os"`
	Arch           string          `json:"go_arch"`
	CPUs           int             `json:"cpus"`
	CPUName        string          `json:"cpu_name"`
	TotalRAMGB     float64         `json:"total_ram_gb"`
	AvailableRAMGB float64         `json:"available_ram_gb"`
	Features       map[string]bool `json:"features"`
}

// Detect returns specs for the current machine.
func Detect() (*Specs, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("mem: %w", err)
	}

	infos, _ := cpu.Info()
	cpuName := "Unknown CPU"
	if len(infos) > 0 {
		cpuName = infos[0].ModelName
		if cpuName == "" {
			cpuName = infos[0].VendorID
		}
	}

	return &Specs{
		GoVersion:      runtime.Version(),
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		CPUs:           runtime.NumCPU(),
		CPUName:        cpuName,
		TotalRAMGB:     float64(v.Total) / float64(gb),
		AvailableRAMGB: float64(v.Available) / float64(gb),
		Features:       simdFeatures(),
	}, nil
}

func simdFeatures() map[string]bool {
	switch runtime.GOARCH {
	case "amd64", "386":
		return map[string]bool{
			"AVX":      xcpu.X86.HasAVX,
			"AVX2":     xcpu.X86.HasAVX2,
			"AVX512F":  xcpu.X86.HasAVX512F,
			"FMA":      xcpu.X86.HasFMA,
			"SSE3":     xcpu.X86.HasSSE3,
			"SSE42":    xcpu.X86.HasSSE42,
			"AVX512BW": xcpu.X86.HasAVX512BW,
		}
	case "arm64":
		return map[string]bool{
			"ASIMD":   xcpu.ARM64.HasASIMD,
			"ASIMDHP": xcpu.ARM64.HasASIMDHP,
			"ASIMDDP": xcpu.ARM64.HasASIMDDP,
			"FPHP":    xcpu.ARM64.HasFPHP,
			"SVE":     xcpu.ARM64.HasSVE,
			"ATOMICS": xcpu.ARM64.HasATOMICS,
			"CPUID":   xcpu.ARM64.HasCPUID,
			"CRC32":   xcpu.ARM64.HasCRC32,
		}
	default:
		return map[string]bool{}
	}
}
