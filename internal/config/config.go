package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the directories the trainer reads from and writes to.
type Paths struct {
	CheckpointsDir string `toml:"checkpoints_dir"`
	OutputsDir     string `toml:"outputs_dir"`
	TempDir        string `toml:"temp_dir"`
	LogDir         string `toml:"log_dir"`
}

// Catalog contains the label vocabulary resources.
type Catalog struct {
	DetectorClasses string            `toml:"detector_classes"`
	DomainClasses   string            `toml:"domain_classes"`
	SplitIndex      int               `toml:"split_index"`
	Aliases         map[string]string `toml:"aliases"`
}

// Generator contains settings for the text-to-image diffusion pipeline.
type Generator struct {
	Model          string   `toml:"model"`
	Hooks          []string `toml:"hooks"`
	InferenceSteps int      `toml:"inference_steps"`
	GuidanceScale  float64  `toml:"guidance_scale"`
}

// Embedder contains settings for the prompt text encoder.
type Embedder struct {
	// Model defaults to the generator model, whose pipeline bundles the encoder.
	Model          string `toml:"model"`
	TokenSelection string `toml:"token_selection"`
}

// Detector contains settings for the pretrained instance segmentation model.
type Detector struct {
	Config         string  `toml:"config"`
	Checkpoint     string  `toml:"checkpoint"`
	ScoreThreshold float64 `toml:"score_threshold"`
}

// Worker describes how the Python model worker process is launched.
type Worker struct {
	Command               string   `toml:"command"`
	Args                  []string `toml:"args"`
	Dir                   string   `toml:"dir"`
	StartupTimeoutSeconds int      `toml:"startup_timeout_seconds"`
	CallTimeoutSeconds    int      `toml:"call_timeout_seconds"`
}

// Device pins model execution to a single accelerator.
type Device struct {
	VisibleDevices string `toml:"visible_devices"`
}

// Training contains the supervised loop settings.
type Training struct {
	Seed               int64   `toml:"seed"`
	BatchSize          int     `toml:"batch_size"`
	LearningRate       float64 `toml:"learning_rate"`
	MaxSteps           int     `toml:"max_steps"`
	DataType           string  `toml:"data_type"`
	PromptTemplate     string  `toml:"prompt_template"`
	CheckpointInterval int     `toml:"checkpoint_interval"`
	VisualizeInterval  int     `toml:"visualize_interval"`
	Progress           bool    `toml:"progress"`
}

// Fusion contains the trainable fusion module geometry.
type Fusion struct {
	Resolution     int     `toml:"resolution"`
	HiddenChannels int     `toml:"hidden_channels"`
	InitScale      float64 `toml:"init_scale"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for groundseg.
//
// Configuration sections by subsystem:
//   - Paths: checkpoint root, scratch and log directories
//   - Catalog: detector and domain taxonomies plus name aliases
//   - Generator: diffusion model id and captured feature hooks
//   - Embedder: text encoder and token selection
//   - Detector: instance segmentation config and weights
//   - Worker: Python worker command line and timeouts
//   - Device: accelerator pinning
//   - Training: loop cadence and optimizer settings
//   - Fusion: trainable module geometry
//   - Logging: log format, level, and retention
type Config struct {
	Paths     Paths     `toml:"paths"`
	Catalog   Catalog   `toml:"catalog"`
	Generator Generator `toml:"generator"`
	Embedder  Embedder  `toml:"embedder"`
	Detector  Detector  `toml:"detector"`
	Worker    Worker    `toml:"worker"`
	Device    Device    `toml:"device"`
	Training  Training  `toml:"training"`
	Fusion    Fusion    `toml:"fusion"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/groundseg/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/groundseg/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("groundseg.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a training run writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.CheckpointsDir, c.Paths.OutputsDir, c.Paths.TempDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ModelType returns the last path segment of the generator model identifier,
// e.g. "stable-diffusion-v1-5" for "runwayml/stable-diffusion-v1-5".
func (c *Config) ModelType() string {
	model := strings.Trim(strings.TrimSpace(c.Generator.Model), "/")
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}

// WorkerEnv returns the environment additions handed to the Python worker.
// A configured worker dir is put on PYTHONPATH so the worker module imports
// from a source checkout.
func (c *Config) WorkerEnv() []string {
	var env []string
	if devices := strings.TrimSpace(c.Device.VisibleDevices); devices != "" {
		env = append(env, "CUDA_VISIBLE_DEVICES="+devices)
	}
	if dir := strings.TrimSpace(c.Worker.Dir); dir != "" {
		path := dir
		if existing := os.Getenv("PYTHONPATH"); existing != "" {
			path += string(os.PathListSeparator) + existing
		}
		env = append(env, "PYTHONPATH="+path)
	}
	return env
}

// WorkerModule returns the Python module named by "-m" in worker.args, or "".
func (c *Config) WorkerModule() string {
	for i, arg := range c.Worker.Args {
		if arg == "-m" && i+1 < len(c.Worker.Args) {
			return c.Worker.Args[i+1]
		}
	}
	return ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
