package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/chunking"
	"github.com/Sophanos/saga-sub015/internal/mocks"
)

func TestCachedEmbeddingService_NilCacheReturnsInner(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockEmbeddingService(ctrl)

	svc := core.NewCachedEmbeddingService(core.CachedEmbeddingServiceOptions{Inner: inner})
	assert.Same(t, inner, svc)
}

func TestCachedEmbeddingService_EmbedBatch(t *testing.T) {
	t.Parallel()

	hitKey := "saga:embedding:m1:" + chunking.HashText("cached")
	missKey := "saga:embedding:m1:" + chunking.HashText("fresh")

	tests := []struct {
		name    string
		setup   func(*mocks.MockEmbeddingService, *mocks.MockCacheRepository)
		want    [][]float32
		wantErr bool
	}{
		{
			name: "hit and miss keep input order",
			setup: func(inner *mocks.MockEmbeddingService, cache *mocks.MockCacheRepository) {
				inner.EXPECT().Model().Return("m1").AnyTimes()
				cache.EXPECT().Get(gomock.Any(), hitKey).Return([]byte(`[1,2]`), nil)
				cache.EXPECT().Get(gomock.Any(), missKey).Return(nil, nil)
				inner.EXPECT().EmbedBatch(gomock.Any(), []string{"fresh"}).Return([][]float32{{3, 4}}, nil)
				cache.EXPECT().Set(gomock.Any(), missKey, []byte(`[3,4]`), time.Hour).Return(nil)
			},
			want: [][]float32{{1, 2}, {3, 4}},
		},
		{
			name: "cache errors fall through to provider",
			setup: func(inner *mocks.MockEmbeddingService, cache *mocks.MockCacheRepository) {
				inner.EXPECT().Model().Return("m1").AnyTimes()
				cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, errors.New("redis down")).Times(2)
				inner.EXPECT().EmbedBatch(gomock.Any(), []string{"cached", "fresh"}).
					Return([][]float32{{1}, {2}}, nil)
				cache.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any(), time.Hour).
					Return(errors.New("redis down")).Times(2)
			},
			want: [][]float32{{1}, {2}},
		},
		{
			name: "provider count mismatch is an error",
			setup: func(inner *mocks.MockEmbeddingService, cache *mocks.MockCacheRepository) {
				inner.EXPECT().Model().Return("m1").AnyTimes()
				cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, nil).Times(2)
				inner.EXPECT().EmbedBatch(gomock.Any(), gomock.Any()).Return([][]float32{{1}}, nil)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			inner := mocks.NewMockEmbeddingService(ctrl)
			cache := mocks.NewMockCacheRepository(ctrl)
			tt.setup(inner, cache)

			svc := core.NewCachedEmbeddingService(core.CachedEmbeddingServiceOptions{
				Inner: inner,
				Cache: cache,
				TTL:   time.Hour,
			})
			got, err := svc.EmbedBatch(context.Background(), []string{"cached", "fresh"})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
