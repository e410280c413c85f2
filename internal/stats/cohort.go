package stats

import (
	"github.com/vinceanalytics/vault/internal/events"
	"github.com/vinceanalytics/vault/internal/referrer"
)

// ReturningUsers is the share of visitors in recent that were already seen in
// all before the oldest recent event. Event ids define what "before" means,
// they sort by creation time.
func ReturningUsers(recent, all []events.Event) float64 {
	users := uniqueSecrets(recent)
	if len(users) == 0 {
		return 0
	}
	var oldest string
	for i := range recent {
		id := recent[i].EventID
		if id != "" && (oldest == "" || id < oldest) {
			oldest = id
		}
	}
	before := make(map[string]struct{})
	for i := range all {
		e := &all[i]
		if e.SecretID != "" && e.EventID < oldest {
			before[e.SecretID] = struct{}{}
		}
	}
	var fresh int
	for id := range users {
		if _, ok := before[id]; !ok {
			fresh++
		}
	}
	return 1 - float64(fresh)/float64(len(users))
}

// Retention builds a triangular matrix from chunks ordered oldest to newest.
// Row i starts with 1 (0 when chunk i has no visitors) followed by the share of
// chunk i's visitors seen again in every later chunk.
func Retention(chunks ...[]events.Event) [][]float64 {
	o := make([][]float64, 0, len(chunks))
	for i := range chunks {
		ref := uniqueSecrets(chunks[i])
		row := make([]float64, 0, len(chunks)-i)
		if len(ref) == 0 {
			row = append(row, make([]float64, len(chunks)-i)...)
			o = append(o, row)
			continue
		}
		row = append(row, 1)
		for _, next := range chunks[i+1:] {
			var matching int
			for id := range uniqueSecrets(next) {
				if _, ok := ref[id]; ok {
					matching++
				}
			}
			row = append(row, float64(matching)/float64(len(ref)))
		}
		o = append(o, row)
	}
	return o
}

// Onboarding summarizes the most recent event for a first time visitor of the
// dashboard.
type Onboarding struct {
	Domain    string `json:"domain"`
	URL       string `json:"url"`
	Referrer  string `json:"referrer"`
	NumVisits int    `json:"numVisits"`
	IsMobile  bool   `json:"isMobile"`
}

// OnboardingStats describes the event with the greatest event id. It returns
// nil for an empty input.
func OnboardingStats(ls []events.Event) *Onboarding {
	if len(ls) == 0 {
		return nil
	}
	last := &ls[0]
	for i := range ls[1:] {
		if e := &ls[i+1]; e.EventID > last.EventID {
			last = e
		}
	}
	o := &Onboarding{}
	if u := last.HrefURL(); u != nil {
		o.Domain = u.Host
		o.URL = u.Host + events.Path(u)
	}
	if u := last.ReferrerURL(); u != nil {
		o.Referrer = referrer.Classify(u.Host)
	}
	if last.Payload != nil {
		o.IsMobile = last.Payload.IsMobile
	}
	for i := range ls {
		if ls[i].AccountID == last.AccountID {
			o.NumVisits++
		}
	}
	return o
}

func uniqueSecrets(ls []events.Event) map[string]struct{} {
	o := make(map[string]struct{})
	for i := range ls {
		if id := ls[i].SecretID; id != "" {
			o[id] = struct{}{}
		}
	}
	return o
}
