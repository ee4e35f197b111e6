package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"github.com/Sophanos/saga-sub015/config"
	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	"github.com/Sophanos/saga-sub015/internal/mocks"
)

func testExecutionConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		LongContextModel: "long-model",
		LongPromptChars:  24000,
		ProModel:         "pro-model",
		FreeMaxTokens:    400,
		ProMaxTokens:     900,
		DigestMaxToken:   600,
	}
}

func TestExecutionContextResolver_Resolve(t *testing.T) {
	tests := []struct {
		name        string
		tier        model.Tier
		lookupErr   error
		task        string
		promptChars int
		want        core.ExecutionContext
	}{
		{"free default", model.TierFree, nil, "detect", 100, core.ExecutionContext{Model: "base-model", MaxTokens: 400}},
		{"pro default", model.TierPro, nil, "detect", 100, core.ExecutionContext{Model: "pro-model", MaxTokens: 900}},
		{"free long prompt", model.TierFree, nil, "detect", 30000, core.ExecutionContext{Model: "long-model", MaxTokens: 400}},
		{"free digest", model.TierFree, nil, TaskDigestDocument, 100, core.ExecutionContext{Model: "base-model", MaxTokens: 600}},
		{"pro digest", model.TierPro, nil, TaskDigestDocument, 100, core.ExecutionContext{Model: "pro-model", MaxTokens: 900}},
		{"lookup error is free", model.TierPro, errors.New("db"), "detect", 100, core.ExecutionContext{Model: "base-model", MaxTokens: 400}},
		{"empty tier is free", "", nil, "detect", 100, core.ExecutionContext{Model: "base-model", MaxTokens: 400}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			ents := mocks.NewMockEntitlementChecker(ctrl)
			ents.EXPECT().GetEntitlement(gomock.Any(), "user-1").Return(model.Entitlement{Tier: tt.tier}, tt.lookupErr)

			r := NewExecutionContextResolver(ExecutionContextResolverOptions{
				Entitlements: ents,
				Config:       testExecutionConfig(),
				DefaultModel: "base-model",
			})
			got := r.Resolve(context.Background(), tt.task, "user-1", tt.promptChars)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecutionContextResolver_NoEntitlements(t *testing.T) {
	r := NewExecutionContextResolver(ExecutionContextResolverOptions{
		Config:       testExecutionConfig(),
		DefaultModel: "base-model",
	})
	got := r.Resolve(context.Background(), TaskDigestDocument, "user-1", 10)
	assert.Equal(t, core.ExecutionContext{Model: "base-model", MaxTokens: 600}, got)
}
