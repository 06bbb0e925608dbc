package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

var (
	// Set via GOCONV_DEBUG in the environment
	Debug bool
	// Set via GOCONV_DEVICE in the environment
	Device string
	// Set via GOCONV_NUM_THREADS in the environment
	NumThreads int
)

const (
	DeviceCPU  = "cpu"
	DeviceBLAS = "blas"
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"GOCONV_DEBUG":       {"GOCONV_DEBUG", Debug, "Show additional debug information (e.g. GOCONV_DEBUG=1)"},
		"GOCONV_DEVICE":      {"GOCONV_DEVICE", Device, "Convolution device, cpu or blas (default \"cpu\")"},
		"GOCONV_NUM_THREADS": {"GOCONV_NUM_THREADS", NumThreads, "Maximum number of worker goroutines (default number of CPUs)"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// LogLevel returns the slog level selected by GOCONV_DEBUG.
func LogLevel() slog.Level {
	if Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

func init() {
	LoadConfig()
}

func LoadConfig() {
	Debug = false
	if debug := clean("GOCONV_DEBUG"); debug != "" {
		d, err := strconv.ParseBool(debug)
		if err == nil {
			Debug = d
		} else {
			Debug = true
		}
	}

	Device = DeviceCPU
	if dev := strings.ToLower(clean("GOCONV_DEVICE")); dev != "" {
		switch dev {
		case DeviceCPU, DeviceBLAS:
			Device = dev
		default:
			slog.Error("invalid setting, ignoring", "GOCONV_DEVICE", dev)
		}
	}

	NumThreads = runtime.NumCPU()
	if nt := clean("GOCONV_NUM_THREADS"); nt != "" {
		val, err := strconv.Atoi(nt)
		if err != nil || val <= 0 {
			slog.Error("invalid setting must be greater than zero", "GOCONV_NUM_THREADS", nt, "error", err)
		} else {
			NumThreads = val
		}
	}
}
