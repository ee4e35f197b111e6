// Package mocks provides mock implementations of the pipeline ports in internal/core.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the repository
// and external service interfaces. Regenerate after interface changes with:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	index := mocks.NewMockVectorIndex(ctrl)
//	index.EXPECT().Scroll(gomock.Any(), gomock.Any(), 501).Return(nil, nil)
package mocks

// Generate mock for JobRepository interface from internal/core package.
// This creates MockJobRepository with methods for: Enqueue, Claim, Finalize, MarkFailed, GetPendingJobs, GetByID, Stats
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/Sophanos/saga-sub015/internal/core JobRepository

// Generate mock for ReaperRepository interface from internal/core package.
// This creates MockReaperRepository with methods for: ReleaseStaleClaims, DeleteOldJobs
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=reaper_repository_mock.go github.com/Sophanos/saga-sub015/internal/core ReaperRepository

// Generate mock for ContentAccessor interface from internal/core package.
// This creates MockContentAccessor with methods for: GetDocumentForAnalysis, GetEntityForAnalysis, GetMemoryForAnalysis, ListProjectEntities, SetMemoryVectorID
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=content_accessor_mock.go github.com/Sophanos/saga-sub015/internal/core ContentAccessor

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=embedding_service_mock.go github.com/Sophanos/saga-sub015/internal/core EmbeddingService

// Generate mock for VectorIndex interface from internal/core package.
// This creates MockVectorIndex with methods for: Upsert, Delete, DeleteByFilter, Scroll
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=vector_index_mock.go github.com/Sophanos/saga-sub015/internal/core VectorIndex

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=text_generator_mock.go github.com/Sophanos/saga-sub015/internal/core TextGenerator

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=image_analyzer_mock.go github.com/Sophanos/saga-sub015/internal/core ImageAnalyzer

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=entity_detector_mock.go github.com/Sophanos/saga-sub015/internal/core EntityDetector

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=analyzer_mock.go github.com/Sophanos/saga-sub015/internal/core Analyzer

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=notification_sink_mock.go github.com/Sophanos/saga-sub015/internal/core NotificationSink

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=notification_repository_mock.go github.com/Sophanos/saga-sub015/internal/core NotificationRepository

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=digest_repository_mock.go github.com/Sophanos/saga-sub015/internal/core DigestRepository

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=evidence_repository_mock.go github.com/Sophanos/saga-sub015/internal/core EvidenceRepository

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=rule_repository_mock.go github.com/Sophanos/saga-sub015/internal/core RuleRepository

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=entitlement_checker_mock.go github.com/Sophanos/saga-sub015/internal/core EntitlementChecker

// Generate mock for CacheRepository interface from internal/core package.
// This creates MockCacheRepository with methods for: Set, Get, Delete, SetIfNotExists, Health
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/Sophanos/saga-sub015/internal/core CacheRepository

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=execution_resolver_mock.go github.com/Sophanos/saga-sub015/internal/core ExecutionResolver
