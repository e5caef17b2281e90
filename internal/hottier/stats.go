package hottier

import (
	"context"
	"sort"

	"jt-go/internal/jt"
)

// ReasonCount is how many live records carry one reason flag.
type ReasonCount struct {
	Name  string
	Count int
}

// Stats summarizes the live records.
type Stats struct {
	Total      int
	ByType     map[jt.ActivityType]int
	ByVolume   map[string]int
	TopReasons []ReasonCount
}

// Stats counts live records by activity type and volume, and returns the
// topN most frequent reason flags. topN <= 0 returns all of them.
func (s *Store) Stats(ctx context.Context, topN int) (Stats, error) {
	st := Stats{
		ByType:   make(map[jt.ActivityType]int),
		ByVolume: make(map[string]int),
	}
	reasons := make(map[string]int)

	for a, err := range s.scan(ctx, jt.Query{}, nil) {
		if err != nil {
			return Stats{}, err
		}
		st.Total++
		st.ByType[a.ActivityType]++
		st.ByVolume[a.VolumeID]++
		for _, name := range a.Reasons.Names() {
			reasons[name]++
		}
	}

	for name, n := range reasons {
		st.TopReasons = append(st.TopReasons, ReasonCount{Name: name, Count: n})
	}
	sort.Slice(st.TopReasons, func(i, j int) bool {
		if st.TopReasons[i].Count != st.TopReasons[j].Count {
			return st.TopReasons[i].Count > st.TopReasons[j].Count
		}
		return st.TopReasons[i].Name < st.TopReasons[j].Name
	})
	if topN > 0 && len(st.TopReasons) > topN {
		st.TopReasons = st.TopReasons[:topN]
	}
	return st, nil
}
