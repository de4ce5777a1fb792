package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/edusphere/backend/pkg/apperr"
	"github.com/edusphere/backend/pkg/metrics"
	"github.com/edusphere/backend/pkg/tracing"
)

// ErrFileNotFound is returned by Probe when the path does not exist.
var ErrFileNotFound = apperr.NotFound("media.probe", "file not found")

const (
	// bytesPerMB and secondsPerMB give the fallback estimate: 1 MB of video ~ 8 s.
	bytesPerMB   = 1048576
	secondsPerMB = 8

	defaultProbeTimeout = 30 * time.Second
)

// CommandRunner runs an external command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// Prober measures media duration with ffprobe and falls back to a size-based estimate.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
	run         CommandRunner
	metrics     *metrics.Ingestion
	logger      *zap.Logger
}

// ProberOption customizes a Prober.
type ProberOption func(*Prober)

// WithRunner replaces the command runner (tests).
func WithRunner(run CommandRunner) ProberOption {
	return func(p *Prober) { p.run = run }
}

// WithProbeMetrics attaches ingestion metrics.
func WithProbeMetrics(m *metrics.Ingestion) ProberOption {
	return func(p *Prober) { p.metrics = m }
}

// NewProber creates a prober. An empty path means "ffprobe" from PATH.
func NewProber(ffprobePath string, timeout time.Duration, logger *zap.Logger, opts ...ProberOption) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Prober{ffprobePath: ffprobePath, timeout: timeout, run: execRunner, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe returns the duration of the media file at path in seconds.
// The only error it returns is ErrFileNotFound; any ffprobe failure degrades to EstimateDuration.
func (p *Prober) Probe(ctx context.Context, path string) (float64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.observe(ctx, "missing")
			return 0, fmt.Errorf("probe %s: %w", path, ErrFileNotFound)
		}
		p.logger.Warn("stat failed, duration unknown", zap.String("path", path), zap.Error(err))
		p.observe(ctx, "estimate")
		return 0, nil
	}

	d, err := p.ffprobe(ctx, path)
	if err == nil {
		p.observe(ctx, "ffprobe")
		return d, nil
	}

	est := EstimateDuration(info.Size())
	p.logger.Warn("ffprobe failed, estimating duration from size",
		zap.String("path", path), zap.Int64("size", info.Size()), zap.Float64("estimate_sec", est), zap.Error(err))
	p.observe(ctx, "estimate")
	return est, nil
}

// observe records where a duration came from on the metrics and the caller's span.
func (p *Prober) observe(ctx context.Context, source string) {
	p.metrics.Probed(source)
	tracing.SetAttributes(ctx, tracing.ProbeSourceKey.String(source))
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (p *Prober) ffprobe(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.run(ctx, p.ffprobePath, "-v", "quiet", "-print_format", "json", "-show_format", path)
	if err != nil {
		return 0, fmt.Errorf("run ffprobe: %w", err)
	}
	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if parsed.Format.Duration == "" {
		return 0, errors.New("ffprobe output has no format.duration")
	}
	d, err := strconv.ParseFloat(parsed.Format.Duration, 64)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid duration %q", parsed.Format.Duration)
	}
	return d, nil
}

// EstimateDuration approximates seconds of video from its byte size (1 MB ~ 8 s).
func EstimateDuration(size int64) float64 {
	if size <= 0 {
		return 0
	}
	return float64(size) / bytesPerMB * secondsPerMB
}
