package service

import (
	"strconv"
	"strings"
)

// DefaultSuccessThreshold is the minimum created/attempted ratio for a successful cascade
const DefaultSuccessThreshold = 0.8

// ratioEpsilon absorbs float error so 4/5 compares equal to 0.8
const ratioEpsilon = 1e-9

// Outcome is the verdict of one cascade
type Outcome struct {
	Success bool    `json:"success"`
	Ratio   float64 `json:"ratio"`
	Report  string  `json:"report"`
	Failed  []int   `json:"failed,omitempty"`
	Created int     `json:"created"`
	Total   int     `json:"total"`

	TicketID      int64   `json:"ticket_id,omitempty"`
	OrderHeaderID int64   `json:"order_header_id,omitempty"`
	ItemIDs       []int64 `json:"item_ids,omitempty"`
}

// Aggregator turns per-item results into an Outcome
type Aggregator struct {
	Threshold float64
}

func NewAggregator(threshold float64) *Aggregator {
	if threshold <= 0 {
		threshold = DefaultSuccessThreshold
	}
	return &Aggregator{Threshold: threshold}
}

// Aggregate computes the success ratio. Failed items are reported 1-based ("#3").
// An empty input is a failure with ratio 0.
func (a *Aggregator) Aggregate(itemResults []bool) Outcome {
	out := Outcome{Total: len(itemResults)}
	if out.Total == 0 {
		out.Report = "no items"
		return out
	}

	for i, ok := range itemResults {
		if ok {
			out.Created++
			continue
		}
		out.Failed = append(out.Failed, i+1)
	}

	out.Ratio = float64(out.Created) / float64(out.Total)
	out.Success = out.Ratio+ratioEpsilon >= a.Threshold
	out.Report = report(out.Failed)
	return out
}

func report(failed []int) string {
	if len(failed) == 0 {
		return "all items created"
	}
	parts := make([]string, len(failed))
	for i, n := range failed {
		parts[i] = "#" + strconv.Itoa(n)
	}
	return "failed items: " + strings.Join(parts, ", ")
}
