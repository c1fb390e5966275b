// Package graph answers membership questions about the trust graph. It is
// the single home of the connection rule: a pod counts as a connection only
// when it has exactly two active members.
package graph

import (
	"context"

	"github.com/podgraph/podgraph-go/internal/store"
)

// ConnectionSize is the active-member count that makes a pod a connection.
const ConnectionSize = 2

// Query derives graph facts from pod membership rows. It is read-only.
type Query struct {
	pods store.PodStore
}

// New creates a graph query over the given pod store.
func New(pods store.PodStore) *Query {
	return &Query{pods: pods}
}

// IsInGraph reports whether the identity holds at least one active pod
// membership of any size.
func (q *Query) IsInGraph(ctx context.Context, did string) (bool, error) {
	return q.pods.HasActiveMembership(ctx, did)
}

// ConnectionCount returns the number of distinct pods where the identity is
// an active member and the pod's active-member count is exactly two.
// Membership in larger pods does not count.
func (q *Query) ConnectionCount(ctx context.Context, did string) (int, error) {
	memberships, err := q.pods.PodsOf(ctx, did)
	if err != nil {
		return 0, err
	}

	count := 0
	seen := make(map[string]bool)
	for _, m := range memberships {
		if seen[m.PodID] {
			continue
		}
		seen[m.PodID] = true

		members, err := q.pods.ActiveMembers(ctx, m.PodID)
		if err != nil {
			return 0, err
		}
		if len(members) == ConnectionSize {
			count++
		}
	}
	return count, nil
}

// MembersOf returns the DIDs of the active members of a pod.
func (q *Query) MembersOf(ctx context.Context, podID string) ([]string, error) {
	members, err := q.pods.ActiveMembers(ctx, podID)
	if err != nil {
		return nil, err
	}
	dids := make([]string, 0, len(members))
	for _, m := range members {
		dids = append(dids, m.DID)
	}
	return dids, nil
}

// PodsOf returns the ids of the pods where the identity is an active member.
func (q *Query) PodsOf(ctx context.Context, did string) ([]string, error) {
	memberships, err := q.pods.PodsOf(ctx, did)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.PodID)
	}
	return ids, nil
}
