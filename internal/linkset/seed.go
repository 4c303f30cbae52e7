package linkset

import (
	"context"
	"fmt"

	"copytrade/internal/store"
)

// Seed applies a snapshot to the ledger: accounts first (so links can
// resolve names to IDs), then links. Existing rows are updated in place.
func Seed(ctx context.Context, ledger store.Ledger, snap Snapshot) error {
	ids := make(map[string]int64, len(snap.Accounts))
	for _, spec := range snap.Accounts {
		acct := &store.Account{
			Name:           spec.Name,
			APIKey:         spec.APIKey,
			SecretKey:      spec.SecretKey,
			IsMaster:       spec.IsMaster,
			IsActive:       spec.IsActive,
			Leverage:       spec.Leverage,
			RiskPercentage: spec.RiskPercentage,
		}
		if err := ledger.UpsertAccount(ctx, acct); err != nil {
			return fmt.Errorf("seed account %s: %w", spec.Name, err)
		}
		ids[spec.Name] = acct.ID
	}
	for _, spec := range snap.Links {
		link := &store.CopyLink{
			MasterAccountID:   ids[spec.Master],
			FollowerAccountID: ids[spec.Follower],
			IsActive:          spec.IsActive,
			CopyPercentage:    spec.CopyPercentage,
			RiskMultiplier:    spec.RiskMultiplier,
			MaxRiskPercentage: spec.MaxRiskPercentage,
		}
		if err := ledger.UpsertLink(ctx, link); err != nil {
			return fmt.Errorf("seed link %s->%s: %w", spec.Master, spec.Follower, err)
		}
	}
	return nil
}
