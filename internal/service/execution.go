package service

import (
	"context"
	"log/slog"

	"github.com/Sophanos/saga-sub015/config"
	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
)

// TaskDigestDocument is the task slug the digest handler resolves its budget under.
const TaskDigestDocument = "digest_document"

// ExecutionContextResolverOptions groups dependencies for ExecutionContextResolver.
type ExecutionContextResolverOptions struct {
	Entitlements core.EntitlementChecker // Optional: every user is free tier without it
	Config       config.ExecutionConfig
	DefaultModel string
	Logger       *slog.Logger
}

// ExecutionContextResolver picks the generation model and output budget for a call.
type ExecutionContextResolver struct {
	entitlements core.EntitlementChecker
	cfg          config.ExecutionConfig
	defaultModel string
	logger       *slog.Logger
}

var _ core.ExecutionResolver = (*ExecutionContextResolver)(nil)

// NewExecutionContextResolver constructs an ExecutionContextResolver.
func NewExecutionContextResolver(opts ExecutionContextResolverOptions) *ExecutionContextResolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	cfg.Sanitize()
	return &ExecutionContextResolver{
		entitlements: opts.Entitlements,
		cfg:          cfg,
		defaultModel: opts.DefaultModel,
		logger:       logger.With("component", "execution_resolver"),
	}
}

// Resolve applies, in order: the tier model, the long-context override for prompts longer than
// LongPromptChars, then the task and tier token budget. Entitlement lookup failures resolve as free tier.
func (r *ExecutionContextResolver) Resolve(ctx context.Context, task, userID string, promptChars int) core.ExecutionContext {
	tier := r.tier(ctx, userID)

	out := core.ExecutionContext{Model: r.defaultModel, MaxTokens: r.cfg.FreeMaxTokens}
	if tier == model.TierPro {
		out.Model = r.cfg.ProModel
		out.MaxTokens = r.cfg.ProMaxTokens
	}
	if promptChars > r.cfg.LongPromptChars && r.cfg.LongContextModel != "" {
		out.Model = r.cfg.LongContextModel
	}
	if task == TaskDigestDocument {
		out.MaxTokens = r.cfg.DigestMaxToken
		if tier == model.TierPro {
			out.MaxTokens = max(r.cfg.DigestMaxToken, r.cfg.ProMaxTokens)
		}
	}

	r.logger.DebugContext(ctx, "execution context resolved",
		"task", task,
		"tier", tier,
		"prompt_chars", promptChars,
		"model", out.Model,
		"max_tokens", out.MaxTokens,
	)
	return out
}

func (r *ExecutionContextResolver) tier(ctx context.Context, userID string) model.Tier {
	if r.entitlements == nil || userID == "" {
		return model.TierFree
	}
	ent, err := r.entitlements.GetEntitlement(ctx, userID)
	if err != nil {
		r.logger.WarnContext(ctx, "entitlement lookup failed, using free tier", "user_id", userID, "error", err)
		return model.TierFree
	}
	if ent.Tier == "" {
		return model.TierFree
	}
	return ent.Tier
}
