package data

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/Sophanos/saga-sub015/internal/domain/model"
	"github.com/Sophanos/saga-sub015/internal/testutil"
)

// BenchmarkJobRepo_EnqueueCoalescing measures repeated enqueues landing on a small set of scopes,
// the shape produced by an author typing into a handful of documents.
func BenchmarkJobRepo_EnqueueCoalescing(b *testing.B) {
	testutil.WithAutoDB(b, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})
		var n atomic.Int64

		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				doc := fmt.Sprintf("doc-%d", n.Add(1)%8)
				req := testutil.NewEnqueueRequest().WithDocument(doc).Build()
				if _, err := repo.Enqueue(context.Background(), req); err != nil {
					b.Fatal(err)
				}
			}
		})
	})
}

// BenchmarkJobRepo_ClaimFinalize measures the claim and finalize round trip.
func BenchmarkJobRepo_ClaimFinalize(b *testing.B) {
	testutil.WithAutoDB(b, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewJobRepo(db, RepoConfig{})

		ids := make([]string, b.N)
		for i := range b.N {
			res, err := repo.Enqueue(ctx, testutil.NewEnqueueRequest().WithDocument(fmt.Sprintf("bench-%d", i)).Build())
			if err != nil {
				b.Fatal(err)
			}
			ids[i] = res.JobID
		}

		b.ResetTimer()
		for _, id := range ids {
			claim, err := repo.Claim(ctx, id)
			if err != nil {
				b.Fatal(err)
			}
			if _, err := repo.Finalize(ctx, model.FinalizeParams{JobID: id, RunID: claim.RunID, Summary: "ok"}); err != nil {
				b.Fatal(err)
			}
		}
	})
}
