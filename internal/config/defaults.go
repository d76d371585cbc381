package config

const (
	defaultCheckpointsDir     = "checkpoints"
	defaultOutputsDir         = "outputs"
	defaultTempDir            = "temp"
	defaultLogDir             = "~/.local/share/groundseg/logs"
	defaultDetectorClasses    = "mmdetection/demo/coco_80_class.txt"
	defaultDomainClasses      = "VOC/class_split1.csv"
	defaultSplitIndex         = 15
	defaultGeneratorModel     = "runwayml/stable-diffusion-v1-5"
	defaultInferenceSteps     = 50
	defaultGuidanceScale      = 7.5
	defaultTokenSelection     = TokenSelectionEOS
	defaultDetectorConfig     = "mmdetection/configs/swin/mask_rcnn_swin-s-p4-w7_fpn_fp16_ms-crop-3x_coco.py"
	defaultDetectorCheckpoint = "mmdetection/checkpoint/mask_rcnn_swin-s-p4-w7_fpn_fp16_ms-crop-3x_coco_20210903_104808-b92c91f1.pth"
	defaultScoreThreshold     = 0.3
	defaultWorkerCommand      = "python3"
	defaultWorkerStartup      = 600
	defaultWorkerCallTimeout  = 900
	defaultVisibleDevices     = "3"
	defaultSeed               = 42
	defaultBatchSize          = 1
	defaultLearningRate       = 1e-5
	defaultMaxSteps           = 500000
	defaultDataType           = DataTypeSingle
	defaultPromptTemplate     = "a photograph of a {class}"
	defaultCheckpointInterval = 50
	defaultVisualizeInterval  = 200
	defaultFusionResolution   = 64
	defaultFusionHidden       = 64
	defaultFusionInitScale    = 0.02
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 30
)

// Token selection modes for the prompt embedding.
const (
	TokenSelectionEOS    = "eos"
	TokenSelectionAll    = "all"
	TokenSelectionLegacy = "legacy"
)

// Training data strategies. Only DataTypeSingle is implemented.
const (
	DataTypeSingle = "single"
	DataTypeTwo    = "two"
	DataTypeRandom = "random"
)

// DefaultHooks lists the denoising network layers captured by default: the
// output of every up-block resnet in the last three decoder stages.
var DefaultHooks = []string{
	"up_blocks.1.resnets.0",
	"up_blocks.1.resnets.1",
	"up_blocks.1.resnets.2",
	"up_blocks.2.resnets.0",
	"up_blocks.2.resnets.1",
	"up_blocks.2.resnets.2",
	"up_blocks.3.resnets.0",
	"up_blocks.3.resnets.1",
	"up_blocks.3.resnets.2",
}

// DefaultAliases maps domain class spellings to their detector taxonomy names.
var DefaultAliases = map[string]string{
	"aeroplane":   "airplane",
	"motorbike":   "motorcycle",
	"diningtable": "dining table",
	"pottedplant": "potted plant",
	"sofa":        "couch",
	"tvmonitor":   "tv",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	aliases := make(map[string]string, len(DefaultAliases))
	for k, v := range DefaultAliases {
		aliases[k] = v
	}
	return Config{
		Paths: Paths{
			CheckpointsDir: defaultCheckpointsDir,
			OutputsDir:     defaultOutputsDir,
			TempDir:        defaultTempDir,
			LogDir:         defaultLogDir,
		},
		Catalog: Catalog{
			DetectorClasses: defaultDetectorClasses,
			DomainClasses:   defaultDomainClasses,
			SplitIndex:      defaultSplitIndex,
			Aliases:         aliases,
		},
		Generator: Generator{
			Model:          defaultGeneratorModel,
			Hooks:          append([]string(nil), DefaultHooks...),
			InferenceSteps: defaultInferenceSteps,
			GuidanceScale:  defaultGuidanceScale,
		},
		Embedder: Embedder{
			Model:          defaultGeneratorModel,
			TokenSelection: defaultTokenSelection,
		},
		Detector: Detector{
			Config:         defaultDetectorConfig,
			Checkpoint:     defaultDetectorCheckpoint,
			ScoreThreshold: defaultScoreThreshold,
		},
		Worker: Worker{
			Command:               defaultWorkerCommand,
			Args:                  []string{"-m", "groundseg_worker"},
			StartupTimeoutSeconds: defaultWorkerStartup,
			CallTimeoutSeconds:    defaultWorkerCallTimeout,
		},
		Device: Device{
			VisibleDevices: defaultVisibleDevices,
		},
		Training: Training{
			Seed:               defaultSeed,
			BatchSize:          defaultBatchSize,
			LearningRate:       defaultLearningRate,
			MaxSteps:           defaultMaxSteps,
			DataType:           defaultDataType,
			PromptTemplate:     defaultPromptTemplate,
			CheckpointInterval: defaultCheckpointInterval,
			VisualizeInterval:  defaultVisualizeInterval,
			Progress:           true,
		},
		Fusion: Fusion{
			Resolution:     defaultFusionResolution,
			HiddenChannels: defaultFusionHidden,
			InitScale:      defaultFusionInitScale,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
