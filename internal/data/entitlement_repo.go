package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Sophanos/saga-sub015/internal/data/pgxutil"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
)

// EntitlementRepo resolves user tiers from user_entitlements.
// Users without a row are on the free tier with every kind allowed.
type EntitlementRepo struct {
	db *sql.DB
}

// NewEntitlementRepo creates an EntitlementRepo.
func NewEntitlementRepo(db *sql.DB) *EntitlementRepo {
	return &EntitlementRepo{db: db}
}

// GetEntitlement returns the entitlement of userID.
func (r *EntitlementRepo) GetEntitlement(ctx context.Context, userID string) (model.Entitlement, error) {
	ent := model.Entitlement{UserID: userID, Tier: model.TierFree}
	err := pgxutil.WithPgxConn(ctx, r.db, func(conn *pgx.Conn) error {
		var (
			tier    string
			allowed []string
		)
		err := conn.QueryRow(ctx,
			`SELECT tier, allowed_kinds FROM user_entitlements WHERE user_id = $1`, userID).Scan(&tier, &allowed)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		ent.Tier = model.Tier(tier)
		// NULL allowed_kinds means unrestricted; an empty array blocks everything.
		if allowed != nil {
			ent.AllowedKinds = make(map[model.JobKind]bool, len(allowed))
			for _, k := range allowed {
				ent.AllowedKinds[model.JobKind(k)] = true
			}
		}
		return nil
	})
	if err != nil {
		return model.Entitlement{}, fmt.Errorf("get entitlement for %s: %w", userID, err)
	}
	return ent, nil
}
