package pyworker

// ProtocolVersion is the worker protocol this client speaks.
const ProtocolVersion = 1

// TensorFile describes a raw float32 tensor the worker wrote to disk.
type TensorFile struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Shape []int  `json:"shape"`
}

// HelloRequest opens a session.
type HelloRequest struct {
	Protocol int `json:"protocol"`
}

// HelloReply identifies the worker.
type HelloReply struct {
	Protocol int    `json:"protocol"`
	Device   string `json:"device"`
	Runtime  string `json:"runtime"`
}

// PrepareRequest asks the worker to export the generator's denoising network
// into CacheDir with capture points installed on Hooks.
type PrepareRequest struct {
	Model    string   `json:"model"`
	CacheDir string   `json:"cache_dir"`
	Hooks    []string `json:"hooks"`
}

// PrepareReply reports the exported cache.
type PrepareReply struct {
	CacheDir string `json:"cache_dir"`
}

// GenerateRequest samples one image for Prompt.
type GenerateRequest struct {
	Model          string   `json:"model"`
	CacheDir       string   `json:"cache_dir"`
	Prompt         string   `json:"prompt"`
	Hooks          []string `json:"hooks"`
	InferenceSteps int      `json:"inference_steps"`
	GuidanceScale  float64  `json:"guidance_scale"`
	Seed           int64    `json:"seed"`
	WorkDir        string   `json:"work_dir"`
}

// GenerateReply points at the sampled image and captured features.
type GenerateReply struct {
	Image    string       `json:"image"`
	Features []TensorFile `json:"features"`
}

// EmbedRequest encodes Prompt with the text encoder.
type EmbedRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	WorkDir string `json:"work_dir"`
}

// EmbedReply carries the last hidden state [1, tokens, dim], the shape of the
// tokenizer's input ids, and the number of unpadded tokens.
type EmbedReply struct {
	Hidden        TensorFile `json:"hidden"`
	InputIDsShape []int      `json:"input_ids_shape"`
	Tokens        int        `json:"tokens"`
}

// SegmentRequest runs the detector on Image.
type SegmentRequest struct {
	Config         string  `json:"config"`
	Checkpoint     string  `json:"checkpoint"`
	Image          string  `json:"image"`
	ScoreThreshold float64 `json:"score_threshold"`
	WorkDir        string  `json:"work_dir"`
}

// InstanceMask is one detected instance: an 8-bit PNG mask and its score.
type InstanceMask struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// SegmentReply lists instances per detector class, in taxonomy order.
type SegmentReply struct {
	Classes [][]InstanceMask `json:"classes"`
}
