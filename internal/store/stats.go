package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// Stats is a point-in-time snapshot of collection sizes.
type Stats struct {
	Users    int64 `json:"users"`
	Accounts int64 `json:"accounts"`
	Groups   int64 `json:"groups"`
}

// StatsProvider counts the bot's collections for /stats and the health
// endpoint. Counts never decrypt or read stored values.
type StatsProvider struct {
	users    countCollection
	accounts countCollection
	groups   countCollection
}

func NewStatsProvider(users, accounts, groups countCollection) *StatsProvider {
	return &StatsProvider{users: users, accounts: accounts, groups: groups}
}

// Snapshot counts users, accounts and groups in that order and stops at the
// first failure.
func (p *StatsProvider) Snapshot(ctx context.Context) (Stats, error) {
	if p == nil {
		return Stats{}, errors.New("stats provider is not initialized")
	}
	if ctx == nil {
		return Stats{}, errors.New("context is required")
	}

	var stats Stats
	counters := []struct {
		name string
		coll countCollection
		dst  *int64
	}{
		{CollectionUsers, p.users, &stats.Users},
		{CollectionAccounts, p.accounts, &stats.Accounts},
		{CollectionGroups, p.groups, &stats.Groups},
	}
	for _, c := range counters {
		if c.coll == nil {
			return Stats{}, fmt.Errorf("count %s: collection not configured", c.name)
		}
		n, err := c.coll.CountDocuments(ctx, bson.D{})
		if err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", c.name, err)
		}
		*c.dst = n
	}
	return stats, nil
}
