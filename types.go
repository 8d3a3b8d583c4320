package kansoku

import "github.com/ashita-ai/kansoku/internal/model"

// BatchSummary is the public view of one applied ingestion request.
// No internal package imports leak through it.
type BatchSummary struct {
	// System is the producing system resolved from the request credential.
	System string
	// Accepted and Failed count operations, not requests.
	Accepted int
	Failed   int
	// RunIDs lists the distinct runs touched by accepted operations, in
	// first-seen order.
	RunIDs []string
}

func toBatchSummary(system string, resp model.IngestResponse) BatchSummary {
	seen := make(map[string]bool, len(resp.Accepted))
	ids := make([]string, 0, len(resp.Accepted))
	for _, a := range resp.Accepted {
		if a.RunID == "" || seen[a.RunID] {
			continue
		}
		seen[a.RunID] = true
		ids = append(ids, a.RunID)
	}
	return BatchSummary{
		System:   system,
		Accepted: len(resp.Accepted),
		Failed:   len(resp.Errors),
		RunIDs:   ids,
	}
}
