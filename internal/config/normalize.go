package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeCatalog(); err != nil {
		return err
	}
	if err := c.normalizeDetector(); err != nil {
		return err
	}
	if err := c.normalizeWorker(); err != nil {
		return err
	}
	c.normalizeGenerator()
	c.normalizeDevice()
	c.normalizeTraining()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.CheckpointsDir, err = expandPath(c.Paths.CheckpointsDir); err != nil {
		return fmt.Errorf("paths.checkpoints_dir: %w", err)
	}
	if c.Paths.OutputsDir, err = expandPath(c.Paths.OutputsDir); err != nil {
		return fmt.Errorf("paths.outputs_dir: %w", err)
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeCatalog() error {
	var err error
	if c.Catalog.DetectorClasses, err = expandPath(strings.TrimSpace(c.Catalog.DetectorClasses)); err != nil {
		return fmt.Errorf("catalog.detector_classes: %w", err)
	}
	if c.Catalog.DomainClasses, err = expandPath(strings.TrimSpace(c.Catalog.DomainClasses)); err != nil {
		return fmt.Errorf("catalog.domain_classes: %w", err)
	}
	if len(c.Catalog.Aliases) > 0 {
		cleaned := make(map[string]string, len(c.Catalog.Aliases))
		for from, to := range c.Catalog.Aliases {
			from = strings.TrimSpace(from)
			to = strings.TrimSpace(to)
			if from == "" || to == "" {
				continue
			}
			cleaned[from] = to
		}
		c.Catalog.Aliases = cleaned
	}
	return nil
}

func (c *Config) normalizeDetector() error {
	var err error
	if c.Detector.Config, err = expandPath(strings.TrimSpace(c.Detector.Config)); err != nil {
		return fmt.Errorf("detector.config: %w", err)
	}
	if c.Detector.Checkpoint, err = expandPath(strings.TrimSpace(c.Detector.Checkpoint)); err != nil {
		return fmt.Errorf("detector.checkpoint: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorker() error {
	c.Worker.Command = strings.TrimSpace(c.Worker.Command)
	if c.Worker.Command == "" {
		c.Worker.Command = defaultWorkerCommand
	}
	if dir := strings.TrimSpace(c.Worker.Dir); dir != "" {
		expanded, err := expandPath(dir)
		if err != nil {
			return fmt.Errorf("worker.dir: %w", err)
		}
		if c.Worker.Dir, err = filepath.Abs(expanded); err != nil {
			return fmt.Errorf("worker.dir: %w", err)
		}
	}
	if c.Worker.StartupTimeoutSeconds <= 0 {
		c.Worker.StartupTimeoutSeconds = defaultWorkerStartup
	}
	if c.Worker.CallTimeoutSeconds <= 0 {
		c.Worker.CallTimeoutSeconds = defaultWorkerCallTimeout
	}
	return nil
}

func (c *Config) normalizeGenerator() {
	c.Generator.Model = strings.TrimSpace(c.Generator.Model)
	hooks := make([]string, 0, len(c.Generator.Hooks))
	for _, hook := range c.Generator.Hooks {
		if hook = strings.TrimSpace(hook); hook != "" {
			hooks = append(hooks, hook)
		}
	}
	c.Generator.Hooks = hooks

	c.Embedder.Model = strings.TrimSpace(c.Embedder.Model)
	if c.Embedder.Model == "" {
		c.Embedder.Model = c.Generator.Model
	}
	c.Embedder.TokenSelection = strings.ToLower(strings.TrimSpace(c.Embedder.TokenSelection))
	if c.Embedder.TokenSelection == "" {
		c.Embedder.TokenSelection = defaultTokenSelection
	}
}

func (c *Config) normalizeDevice() {
	c.Device.VisibleDevices = strings.TrimSpace(c.Device.VisibleDevices)
	if c.Device.VisibleDevices == "" {
		if value, ok := os.LookupEnv("CUDA_VISIBLE_DEVICES"); ok {
			c.Device.VisibleDevices = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeTraining() {
	c.Training.DataType = strings.ToLower(strings.TrimSpace(c.Training.DataType))
	if c.Training.DataType == "" {
		c.Training.DataType = defaultDataType
	}
	if strings.TrimSpace(c.Training.PromptTemplate) == "" {
		c.Training.PromptTemplate = defaultPromptTemplate
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
