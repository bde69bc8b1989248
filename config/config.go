// Package config loads runtime settings from YAML files and UCXGO_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rocketbitz/ucx-go/internal/logging"
	"github.com/rocketbitz/ucx-go/progress"
	"github.com/rocketbitz/ucx-go/ucp"
)

// EnvPrefix is prepended to every environment override.
// Example: UCXGO_WORKER_THREAD_MODE=multi
const EnvPrefix = "UCXGO"

// Settings is the root configuration.
type Settings struct {
	Context  ContextConfig  `mapstructure:"context"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Progress ProgressConfig `mapstructure:"progress"`
	Log      logging.Config `mapstructure:"log"`
}

// ContextConfig maps onto ucp.Params and context options.
type ContextConfig struct {
	Name string `mapstructure:"name"`
	// Features: tag, rma, amo32, amo64, wakeup, am
	Features            []string `mapstructure:"features"`
	EstimatedEndpoints  int      `mapstructure:"estimated_endpoints"`
	TagSenderMask       uint64   `mapstructure:"tag_sender_mask"`
	RendezvousThreshold int      `mapstructure:"rendezvous_threshold"`
}

// WorkerConfig maps onto ucp.WorkerParams.
type WorkerConfig struct {
	Name string `mapstructure:"name"`
	// ThreadMode: single or multi
	ThreadMode string `mapstructure:"thread_mode"`
	// CPU is an affinity hint; negative means none.
	CPU int `mapstructure:"cpu"`
	// Wakeup: rx, tx, rma, amo, tag_send, tag_recv, edge. Empty subscribes to all.
	Wakeup   []string `mapstructure:"wakeup"`
	UserData string   `mapstructure:"user_data"`
}

// ProgressConfig maps onto progress.Config.
type ProgressConfig struct {
	Wakeup      bool          `mapstructure:"wakeup"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
}

// Default returns Settings populated with defaults.
func Default() *Settings {
	return &Settings{
		Context: ContextConfig{
			Name:                "ucx-go",
			Features:            []string{"tag"},
			RendezvousThreshold: ucp.DefaultRendezvousThreshold,
		},
		Worker: WorkerConfig{
			ThreadMode: "single",
			CPU:        -1,
		},
		Progress: ProgressConfig{
			MaxBackoff:  10 * time.Millisecond,
			WaitTimeout: 100 * time.Millisecond,
		},
		Log: logging.DefaultConfig(),
	}
}

// Load reads settings from path (if non-empty), otherwise searches ./ucx-go.yaml,
// ./configs and $HOME/.ucx-go. Environment variables override file values;
// `.` and `-` in keys become `_`.
func Load(path string) (*Settings, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("context.name", cfg.Context.Name)
	v.SetDefault("context.features", cfg.Context.Features)
	v.SetDefault("context.estimated_endpoints", cfg.Context.EstimatedEndpoints)
	v.SetDefault("context.tag_sender_mask", cfg.Context.TagSenderMask)
	v.SetDefault("context.rendezvous_threshold", cfg.Context.RendezvousThreshold)
	v.SetDefault("worker.name", cfg.Worker.Name)
	v.SetDefault("worker.thread_mode", cfg.Worker.ThreadMode)
	v.SetDefault("worker.cpu", cfg.Worker.CPU)
	v.SetDefault("worker.wakeup", cfg.Worker.Wakeup)
	v.SetDefault("worker.user_data", cfg.Worker.UserData)
	v.SetDefault("progress.wakeup", cfg.Progress.Wakeup)
	v.SetDefault("progress.max_backoff", cfg.Progress.MaxBackoff)
	v.SetDefault("progress.wait_timeout", cfg.Progress.WaitTimeout)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ucx-go")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".ucx-go"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section and normalises list values.
func (s *Settings) Validate() error {
	if _, err := s.ContextParams(); err != nil {
		return err
	}
	if s.Context.RendezvousThreshold < 0 {
		return fmt.Errorf("%w: context.rendezvous_threshold must not be negative", ucp.ErrConfiguration)
	}
	if _, err := s.WorkerParams(); err != nil {
		return err
	}
	if s.Progress.MaxBackoff < 0 || s.Progress.WaitTimeout < 0 {
		return fmt.Errorf("%w: progress durations must not be negative", ucp.ErrConfiguration)
	}
	if s.Progress.Wakeup && !s.hasFeature(ucp.FeatureWakeup) {
		return fmt.Errorf("%w: progress.wakeup requires the wakeup context feature", ucp.ErrConfiguration)
	}
	if err := s.Log.Validate(); err != nil {
		return fmt.Errorf("%w: log: %w", ucp.ErrConfiguration, err)
	}
	return nil
}

func (s *Settings) hasFeature(f ucp.Feature) bool {
	for _, name := range splitList(s.Context.Features) {
		if got, ok := ucp.ParseFeature(name); ok && got == f {
			return true
		}
	}
	return false
}

// ContextParams builds ucp.Params from the context section.
func (s *Settings) ContextParams() (*ucp.Params, error) {
	var features ucp.Feature
	for _, name := range splitList(s.Context.Features) {
		f, ok := ucp.ParseFeature(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown feature %q", ucp.ErrConfiguration, name)
		}
		features |= f
	}
	if features == 0 {
		return nil, fmt.Errorf("%w: context.features is empty", ucp.ErrConfiguration)
	}
	p := ucp.NewParams().SetFeatures(features)
	if s.Context.Name != "" {
		p.SetName(s.Context.Name)
	}
	if s.Context.EstimatedEndpoints > 0 {
		p.SetEstimatedNumEndpoints(s.Context.EstimatedEndpoints)
	}
	if s.Context.TagSenderMask != 0 {
		p.SetTagSenderMask(s.Context.TagSenderMask)
	}
	return p, nil
}

// ContextOptions returns the ucp options implied by the settings.
func (s *Settings) ContextOptions(logger *zap.Logger) []ucp.ContextOption {
	opts := []ucp.ContextOption{ucp.WithRendezvousThreshold(s.Context.RendezvousThreshold)}
	if logger != nil {
		opts = append(opts, ucp.WithLogger(logger))
	}
	return opts
}

// WorkerParams builds ucp.WorkerParams from the worker section.
func (s *Settings) WorkerParams() (*ucp.WorkerParams, error) {
	p := ucp.NewWorkerParams()
	switch strings.ToLower(strings.TrimSpace(s.Worker.ThreadMode)) {
	case "", "single":
		p.SetThreadMode(ucp.ThreadSingle)
	case "multi":
		p.SetThreadMode(ucp.ThreadMulti)
	default:
		return nil, fmt.Errorf("%w: unknown worker.thread_mode %q", ucp.ErrConfiguration, s.Worker.ThreadMode)
	}
	if s.Worker.CPU >= 0 {
		p.SetCPU(s.Worker.CPU)
	}
	for _, name := range splitList(s.Worker.Wakeup) {
		switch name {
		case "rx":
			p.RequestWakeupRX()
		case "tx":
			p.RequestWakeupTX()
		case "rma":
			p.RequestWakeupRMA()
		case "amo":
			p.RequestWakeupAMO()
		case "tag_send":
			p.RequestWakeupTagSend()
		case "tag_recv":
			p.RequestWakeupTagRecv()
		case "edge":
			p.RequestWakeupEdge()
		default:
			return nil, fmt.Errorf("%w: unknown worker.wakeup event %q", ucp.ErrConfiguration, name)
		}
	}
	if s.Worker.UserData != "" {
		p.SetUserData([]byte(s.Worker.UserData))
	}
	if s.Worker.Name != "" {
		p.SetName(s.Worker.Name)
	}
	if cpu := s.Worker.CPU; cpu >= runtime.NumCPU() {
		return nil, fmt.Errorf("%w: worker.cpu %d outside [0,%d)", ucp.ErrConfiguration, cpu, runtime.NumCPU())
	}
	return p, nil
}

// ProgressConfig builds a progress.Config. The logger feeds the thread's
// structured events; metrics may be nil.
func (s *Settings) ProgressConfig(logger *zap.Logger, metrics progress.MetricHook) progress.Config {
	cfg := progress.Config{
		Name:        s.Worker.Name,
		UseWakeup:   s.Progress.Wakeup,
		MaxBackoff:  s.Progress.MaxBackoff,
		WaitTimeout: s.Progress.WaitTimeout,
		Metrics:     metrics,
	}
	if logger != nil {
		cfg.StructuredLogger = logger.Sugar()
	}
	return cfg
}

// NewLogger builds the logger described by the log section.
func (s *Settings) NewLogger() (*zap.Logger, error) {
	return logging.New(s.Log)
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.FieldsFunc(item, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}
