// Package textenc adapts the prompt text encoder hosted by the model worker.
package textenc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"groundseg/internal/config"
	"groundseg/internal/logging"
	"groundseg/internal/services"
	"groundseg/internal/services/pyworker"
	"groundseg/internal/tensor"
)

const stageName = "embed"

// Caller issues worker calls.
type Caller interface {
	Call(ctx context.Context, method string, args, reply any) error
}

// Options configures the embedder.
type Options struct {
	Model string
	// TokenSelection is one of config.TokenSelectionEOS, TokenSelectionAll,
	// or TokenSelectionLegacy. Empty means eos.
	TokenSelection string
	TempDir        string
}

// Embedder turns prompts into per-token embeddings.
type Embedder struct {
	worker    Caller
	model     string
	selection string
	tempDir   string
	logger    *slog.Logger
}

// New returns an embedder bound to worker.
func New(worker Caller, opts Options, logger *slog.Logger) (*Embedder, error) {
	if worker == nil {
		return nil, errors.New("textenc: worker is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "init", "text encoder model is required", nil)
	}
	selection := strings.ToLower(strings.TrimSpace(opts.TokenSelection))
	switch selection {
	case "":
		selection = config.TokenSelectionEOS
	case config.TokenSelectionEOS, config.TokenSelectionAll, config.TokenSelectionLegacy:
	default:
		return nil, services.Wrap(services.ErrConfiguration, stageName, "init",
			fmt.Sprintf("unknown token selection %q", opts.TokenSelection), nil)
	}
	return &Embedder{
		worker:    worker,
		model:     opts.Model,
		selection: selection,
		tempDir:   opts.TempDir,
		logger:    logging.NewComponentLogger(logger, "textenc"),
	}, nil
}

// Embed encodes prompt and returns the selected token rows repeated batch
// times: [batch, 1, dim] for eos and legacy, [batch, tokens, dim] for all.
func (e *Embedder) Embed(ctx context.Context, prompt string, batch int) (*tensor.Tensor, error) {
	if batch <= 0 {
		return nil, services.Wrap(services.ErrValidation, stageName, "embed", fmt.Sprintf("batch size %d must be positive", batch), nil)
	}
	workDir, cleanup, err := pyworker.NewWorkDir(filepath.Join(e.tempDir, "work"), "embed")
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "embed", "work dir", err)
	}
	defer cleanup()

	var reply pyworker.EmbedReply
	req := pyworker.EmbedRequest{Model: e.model, Prompt: prompt, WorkDir: workDir}
	if err := e.worker.Call(ctx, "Worker.Embed", req, &reply); err != nil {
		return nil, err
	}
	hidden, err := tensor.ReadRaw(reply.Hidden.Path, reply.Hidden.Shape)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, stageName, "read hidden state", reply.Hidden.Path, err)
	}
	if hidden.Rank() != 3 || hidden.Shape[0] != 1 {
		return nil, services.Wrap(services.ErrExternalTool, stageName, "embed",
			fmt.Sprintf("hidden state shape %s, want [1, tokens, dim]", hidden.ShapeString()), nil)
	}

	selected, err := e.selectTokens(hidden, reply)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("prompt embedded",
		logging.String("prompt", prompt),
		logging.String("selection", e.selection),
		logging.String("shape", selected.ShapeString()),
	)
	out, err := selected.Repeat(batch)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "repeat", "", err)
	}
	return out, nil
}

func (e *Embedder) selectTokens(hidden *tensor.Tensor, reply pyworker.EmbedReply) (*tensor.Tensor, error) {
	tokens := hidden.Shape[1]
	var pos int
	switch e.selection {
	case config.TokenSelectionAll:
		return hidden, nil
	case config.TokenSelectionLegacy:
		// Position equals the batch length of the token id tensor.
		if len(reply.InputIDsShape) == 0 {
			return nil, services.Wrap(services.ErrExternalTool, stageName, "select", "worker did not report input id shape", nil)
		}
		pos = reply.InputIDsShape[0]
	default:
		if reply.Tokens <= 0 {
			return nil, services.Wrap(services.ErrExternalTool, stageName, "select", "worker did not report a token count", nil)
		}
		pos = reply.Tokens - 1
	}
	if pos < 0 || pos >= tokens {
		return nil, services.Wrap(services.ErrExternalTool, stageName, "select",
			fmt.Sprintf("token position %d outside %d tokens", pos, tokens), nil)
	}
	return hidden.Rows(pos, pos+1)
}
