package cluster

import (
	"strings"

	"golang.org/x/exp/slices"

	"github.com/dreamware/alloy/pkg/alloy"
)

// MergePolicy decides how duplicate model ids from different nodes collapse
// into one entry of the combined /models listing.
type MergePolicy string

const (
	// MergeFirstSeen keeps the entry of the earliest candidate that listed the
	// model. Later duplicates are dropped unchanged.
	MergeFirstSeen MergePolicy = "first_seen"
	// MergeCombine folds duplicates into the first entry: active requests are
	// summed, support and concurrency flags are OR-ed, the best allocation
	// status wins and missing capabilities are filled in.
	MergeCombine MergePolicy = "combine"
)

// ParseMergePolicy accepts "first_seen" (default) or "combine".
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch p := MergePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case MergeFirstSeen, MergeCombine:
		return p, nil
	case "":
		return MergeFirstSeen, nil
	}
	return "", configErrorf("unknown merge policy %q", s)
}

// mergeModels concatenates per-category listings of responses, which must be
// given in candidate order, de-duplicating by model id within each category.
// The result depends only on the responses and their order, never on which
// node answered first.
func mergeModels(responses []*alloy.ModelsResponse, policy MergePolicy) *alloy.ModelsResponse {
	merged := &alloy.ModelsResponse{}
	for _, modality := range alloy.Modalities {
		out := []alloy.Model{}
		pos := make(map[string]int)
		for _, resp := range responses {
			if resp == nil {
				continue
			}
			for _, m := range resp.Category(modality) {
				i, dup := pos[m.ModelID]
				if !dup {
					pos[m.ModelID] = len(out)
					out = append(out, cloneModel(m))
					continue
				}
				if policy == MergeCombine {
					out[i] = combineModel(out[i], m)
				}
			}
		}
		merged.SetCategory(modality, out)
	}
	return merged
}

func combineModel(into, m alloy.Model) alloy.Model {
	into.ActiveRequests += m.ActiveRequests
	into.IsSupported = into.IsSupported || m.IsSupported
	into.SupportsConcurrentRequests = into.SupportsConcurrentRequests || m.SupportsConcurrentRequests
	if allocationRank(m.AllocationStatus) > allocationRank(into.AllocationStatus) {
		into.AllocationStatus = m.AllocationStatus
	}
	if len(into.Capabilities) == 0 && len(m.Capabilities) > 0 {
		into.Capabilities = slices.Clone(m.Capabilities)
	}
	return into
}

// allocationRank orders statuses so that allocated beats queue beats
// deallocated. Unknown values rank lowest.
func allocationRank(s alloy.AllocationStatus) int {
	switch s {
	case alloy.AllocationAllocated:
		return 3
	case alloy.AllocationQueue:
		return 2
	case alloy.AllocationDeallocated:
		return 1
	}
	return 0
}
