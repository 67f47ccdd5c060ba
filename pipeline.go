package cabs

import (
	"context"
	"sort"
)

// Lander durably writes raw records before they are staged. It returns the
// number of files written.
type Lander interface {
	Land(ctx context.Context, trips []RawTrip) (int, error)
}

// Publisher announces committed trips to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, trips []StagedTrip) error
}

// GroupByPartition splits trips by PartitionDate and returns the partition
// names in ascending order. Order within a partition is preserved.
func GroupByPartition(trips []RawTrip) ([]string, map[string][]RawTrip) {
	groups := make(map[string][]RawTrip)
	for _, t := range trips {
		p := PartitionDate(&t)
		groups[p] = append(groups[p], t)
	}
	names := make([]string, 0, len(groups))
	for p := range groups {
		names = append(names, p)
	}
	sort.Strings(names)
	return names, groups
}
