package main

import (
	"os"
	"strings"
	"time"

	"judgebox/internal/common/cache"
	"judgebox/internal/common/mq"
	"judgebox/internal/common/storage"
	"judgebox/internal/judge/compliance"
	"judgebox/internal/judge/problem"
	"judgebox/internal/judge/sandbox/spec"
	"judgebox/internal/judge/service"
	"judgebox/pkg/errors"
	"judgebox/pkg/utils/logger"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

const (
	backendDocker = "docker"
	backendLocal  = "local"

	defaultCgroupRoot      = "/sys/fs/cgroup/judgebox"
	defaultBuildTailLines  = 200
	defaultKillGrace       = 2 * time.Second
	defaultStatusTTL       = 24 * time.Hour
	defaultHistoryLimit    = 100
	defaultReportTopic     = "judge.report"
	defaultArchivePrefix   = "reports"
	defaultLivePath        = "live_status"
	defaultDetailsPath     = "details.json"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultBrokerPingTimeout = 3 * time.Second
)

// DockerConfig holds docker backend settings.
type DockerConfig struct {
	Host            string `yaml:"host"`
	CgroupMount     string `yaml:"cgroupMount"`
	WorkMount       string `yaml:"workMount"`
	NetworkDisabled bool   `yaml:"networkDisabled"`
}

// SandboxConfig holds isolation settings.
type SandboxConfig struct {
	Backend        string        `yaml:"backend"`
	CgroupRoot     string        `yaml:"cgroupRoot"`
	VerifyCgroupFS bool          `yaml:"verifyCgroupFS"`
	HelperPath     string        `yaml:"helperPath"`
	ArtifactRoot   string        `yaml:"artifactRoot"`
	EnableSeccomp  bool          `yaml:"enableSeccomp"`
	SeccompProfile string        `yaml:"seccompProfile"`
	KillGrace      time.Duration `yaml:"killGrace"`
	Docker         DockerConfig  `yaml:"docker"`
}

// StepConfig describes one sandboxed command.
type StepConfig struct {
	Image     string        `yaml:"image"`
	Command   string        `yaml:"command"`
	Env       []string      `yaml:"env"`
	Timeout   time.Duration `yaml:"timeout"`
	CPUTimeMs int64         `yaml:"cpuTimeMs"`
	MemoryMB  int64         `yaml:"memoryMB"`
	StackMB   int64         `yaml:"stackMB"`
	OutputMB  int64         `yaml:"outputMB"`
	PIDs      int64         `yaml:"pids"`
	TailLines int           `yaml:"logTailLines"`
}

// BuildConfig is the build step plus its source and artifact names.
type BuildConfig struct {
	StepConfig `yaml:",inline"`
	SourceName string `yaml:"sourceName"`
	Artifact   string `yaml:"artifact"`
}

// ComplianceConfig holds template check settings.
type ComplianceConfig struct {
	Marker string `yaml:"marker"`
}

// ProblemConfig holds problem directory layout and optional remote source.
type ProblemConfig struct {
	Layout problem.Layout `yaml:"layout"`
	// Bucket and Prefix select problem data to download before judging.
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// JudgeConfig holds orchestration settings.
type JudgeConfig struct {
	Parallelism   int           `yaml:"parallelism"`
	WorkRoot      string        `yaml:"workRoot"`
	KeepWorkDir   bool          `yaml:"keepWorkDir"`
	StatusTimeout time.Duration `yaml:"statusTimeout"`
}

// OutputConfig holds the primary output files.
type OutputConfig struct {
	LiveStatusPath string `yaml:"liveStatusPath"`
	DetailsPath    string `yaml:"detailsPath"`
}

// StatusConfig holds the optional status mirrors and final sinks.
type StatusConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	HistoryLimit  int64         `yaml:"historyLimit"`
	ReportTopic   string        `yaml:"reportTopic"`
	ArchiveBucket string        `yaml:"archiveBucket"`
	ArchivePrefix string        `yaml:"archivePrefix"`
}

// ServerConfig holds the optional status server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	JWTSecret    string        `yaml:"jwtSecret"`
	JWTIssuer    string        `yaml:"jwtIssuer"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	// Linger keeps the server up after the run so watchers can fetch the final state.
	Linger time.Duration `yaml:"linger"`
}

// AppConfig holds judge config.
type AppConfig struct {
	Logger     logger.Config       `yaml:"logger"`
	Sandbox    SandboxConfig       `yaml:"sandbox"`
	Build      BuildConfig         `yaml:"build"`
	Run        StepConfig          `yaml:"run"`
	Compliance ComplianceConfig    `yaml:"compliance"`
	Problem    ProblemConfig       `yaml:"problem"`
	Judge      JudgeConfig         `yaml:"judge"`
	Output     OutputConfig        `yaml:"output"`
	Status     StatusConfig        `yaml:"status"`
	Redis      cache.RedisConfig   `yaml:"redis"`
	Kafka      mq.KafkaConfig      `yaml:"kafka"`
	MinIO      storage.MinIOConfig `yaml:"minio"`
	Server     ServerConfig        `yaml:"server"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, errors.JudgeConfigInvalid, "read config file failed")
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, errors.JudgeConfigInvalid, "parse config file failed")
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}

	cfg.Sandbox.Backend = strings.ToLower(strings.TrimSpace(cfg.Sandbox.Backend))
	if cfg.Sandbox.Backend == "" {
		cfg.Sandbox.Backend = backendLocal
	}
	if cfg.Sandbox.Backend != backendLocal && cfg.Sandbox.Backend != backendDocker {
		return nil, errors.ConfigError("unknown sandbox backend %q", cfg.Sandbox.Backend)
	}
	if cfg.Sandbox.CgroupRoot == "" {
		cfg.Sandbox.CgroupRoot = defaultCgroupRoot
	}
	if cfg.Sandbox.KillGrace == 0 {
		cfg.Sandbox.KillGrace = defaultKillGrace
	}
	if cfg.Sandbox.Backend == backendDocker && cfg.Sandbox.Docker.CgroupMount == "" {
		cfg.Sandbox.Docker.CgroupMount = "/sys/fs/cgroup"
	}

	if strings.TrimSpace(cfg.Build.Command) == "" {
		return nil, errors.ValidationError("build.command", "required")
	}
	if strings.TrimSpace(cfg.Run.Command) == "" {
		return nil, errors.ValidationError("run.command", "required")
	}
	if cfg.Build.SourceName == "" {
		return nil, errors.ValidationError("build.sourceName", "required")
	}
	if cfg.Build.Artifact == "" {
		return nil, errors.ValidationError("build.artifact", "required")
	}
	if cfg.Build.Timeout == 0 {
		return nil, errors.ValidationError("build.timeout", "required")
	}
	if cfg.Run.Timeout == 0 {
		return nil, errors.ValidationError("run.timeout", "required")
	}
	if cfg.Build.Timeout < 0 || cfg.Run.Timeout < 0 {
		return nil, errors.ValidationError("timeout", "must be positive")
	}
	if cfg.Build.TailLines == 0 {
		cfg.Build.TailLines = defaultBuildTailLines
	}

	if cfg.Compliance.Marker == "" {
		cfg.Compliance.Marker = compliance.DefaultMarker
	}
	cfg.Problem.Layout = cfg.Problem.Layout.WithDefaults()
	if cfg.Judge.Parallelism <= 0 {
		cfg.Judge.Parallelism = 1
	}
	if cfg.Judge.WorkRoot == "" {
		cfg.Judge.WorkRoot = os.TempDir()
	}
	if cfg.Output.LiveStatusPath == "" {
		cfg.Output.LiveStatusPath = defaultLivePath
	}
	if cfg.Output.DetailsPath == "" {
		cfg.Output.DetailsPath = defaultDetailsPath
	}

	if cfg.Status.TTL == 0 {
		cfg.Status.TTL = defaultStatusTTL
	}
	if cfg.Status.HistoryLimit == 0 {
		cfg.Status.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Status.ReportTopic == "" {
		cfg.Status.ReportTopic = defaultReportTopic
	}
	if cfg.Status.ArchiveBucket == "" {
		cfg.Status.ArchiveBucket = cfg.MinIO.Bucket
	}
	if cfg.Status.ArchivePrefix == "" {
		cfg.Status.ArchivePrefix = defaultArchivePrefix
	}
	if cfg.Problem.Bucket == "" {
		cfg.Problem.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Redis.Addr != "" {
		applyRedisDefaults(&cfg.Redis)
	}

	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	return &cfg, nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
}

// toCommandConfig splits the shell-like command and copies the limits.
func (s StepConfig) toCommandConfig(field, seccomp string) (service.CommandConfig, error) {
	argv, err := shlex.Split(s.Command)
	if err != nil {
		return service.CommandConfig{}, errors.Wrapf(err, errors.JudgeConfigInvalid, "parse %s", field)
	}
	if len(argv) == 0 {
		return service.CommandConfig{}, errors.ValidationError(field, "required")
	}
	return service.CommandConfig{
		Image:   s.Image,
		Cmd:     argv,
		Env:     s.Env,
		Timeout: s.Timeout,
		Limits: spec.ResourceLimit{
			CPUTimeMs: s.CPUTimeMs,
			MemoryMB:  s.MemoryMB,
			StackMB:   s.StackMB,
			OutputMB:  s.OutputMB,
			PIDs:      s.PIDs,
		},
		TailLines: s.TailLines,
		Seccomp:   seccomp,
	}, nil
}
