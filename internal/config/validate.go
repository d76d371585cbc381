package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateCatalog(); err != nil {
		return err
	}
	if err := c.validateGenerator(); err != nil {
		return err
	}
	if err := c.validateEmbedder(); err != nil {
		return err
	}
	if err := c.validateDetector(); err != nil {
		return err
	}
	if err := c.validateTraining(); err != nil {
		return err
	}
	if err := c.validateFusion(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.CheckpointsDir) == "" {
		return errors.New("paths.checkpoints_dir must be set")
	}
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		return errors.New("paths.temp_dir must be set")
	}
	return nil
}

func (c *Config) validateCatalog() error {
	if c.Catalog.DetectorClasses == "" {
		return errors.New("catalog.detector_classes must be set")
	}
	if c.Catalog.DomainClasses == "" {
		return errors.New("catalog.domain_classes must be set")
	}
	if c.Catalog.SplitIndex <= 0 {
		return errors.New("catalog.split_index must be positive")
	}
	return nil
}

func (c *Config) validateGenerator() error {
	if c.Generator.Model == "" {
		return errors.New("generator.model must be set")
	}
	if len(c.Generator.Hooks) == 0 {
		return errors.New("generator.hooks must list at least one layer")
	}
	seen := make(map[string]struct{}, len(c.Generator.Hooks))
	for _, hook := range c.Generator.Hooks {
		if _, ok := seen[hook]; ok {
			return fmt.Errorf("generator.hooks contains %q more than once", hook)
		}
		seen[hook] = struct{}{}
	}
	if c.Generator.InferenceSteps <= 0 {
		return errors.New("generator.inference_steps must be positive")
	}
	if c.Generator.GuidanceScale < 0 {
		return errors.New("generator.guidance_scale must be non-negative")
	}
	return nil
}

func (c *Config) validateEmbedder() error {
	if strings.TrimSpace(c.Embedder.Model) == "" {
		return errors.New("embedder.model must be set")
	}
	switch c.Embedder.TokenSelection {
	case TokenSelectionEOS, TokenSelectionAll, TokenSelectionLegacy:
		return nil
	default:
		return fmt.Errorf("embedder.token_selection %q is not supported (use eos, all, or legacy)", c.Embedder.TokenSelection)
	}
}

func (c *Config) validateDetector() error {
	if c.Detector.Config == "" {
		return errors.New("detector.config must be set")
	}
	if c.Detector.Checkpoint == "" {
		return errors.New("detector.checkpoint must be set")
	}
	if c.Detector.ScoreThreshold < 0 || c.Detector.ScoreThreshold > 1 {
		return errors.New("detector.score_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateTraining() error {
	switch c.Training.DataType {
	case DataTypeSingle:
	case DataTypeTwo, DataTypeRandom:
		return fmt.Errorf("training.data_type %q is not implemented (only %q is supported)", c.Training.DataType, DataTypeSingle)
	default:
		return fmt.Errorf("training.data_type %q is not recognized", c.Training.DataType)
	}
	if c.Training.BatchSize <= 0 {
		return errors.New("training.batch_size must be positive")
	}
	if c.Training.LearningRate <= 0 {
		return errors.New("training.learning_rate must be positive")
	}
	if c.Training.MaxSteps <= 0 {
		return errors.New("training.max_steps must be positive")
	}
	if c.Training.CheckpointInterval <= 0 {
		return errors.New("training.checkpoint_interval must be positive")
	}
	if c.Training.VisualizeInterval <= 0 {
		return errors.New("training.visualize_interval must be positive")
	}
	if !strings.Contains(c.Training.PromptTemplate, "{class}") {
		return errors.New("training.prompt_template must contain the {class} placeholder")
	}
	return nil
}

func (c *Config) validateFusion() error {
	if c.Fusion.Resolution <= 0 {
		return errors.New("fusion.resolution must be positive")
	}
	if c.Fusion.HiddenChannels <= 0 {
		return errors.New("fusion.hidden_channels must be positive")
	}
	if c.Fusion.InitScale <= 0 {
		return errors.New("fusion.init_scale must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	return nil
}
