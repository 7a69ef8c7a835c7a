package backup

import "fmt"

// Policy controls how many snapshots survive pruning. Zero values take the
// defaults, so the zero Policy is usable.
type Policy struct {
	Recent int // Newest snapshots kept unconditionally (default: 12)
	Daily  int // Distinct UTC calendar days represented beyond Recent (default: 7)
	Weekly int // Distinct ISO weeks represented beyond Daily (default: 4)
}

func (p Policy) withDefaults() Policy {
	if p.Recent == 0 {
		p.Recent = 12
	}
	if p.Daily == 0 {
		p.Daily = 7
	}
	if p.Weekly == 0 {
		p.Weekly = 4
	}
	return p
}

// survivors returns the set of snapshot paths the policy keeps. snapshots
// must be ordered newest first.
//
// The newest Recent snapshots always survive. Beyond those, the newest
// snapshot of each UTC calendar day survives until Daily distinct days are
// represented, then the newest of each ISO week until Weekly distinct weeks
// are. Older same-day duplicates and anything beyond the weekly horizon are
// pruned.
func (p Policy) survivors(snapshots []Info) map[string]bool {
	keep := make(map[string]bool, len(snapshots))
	days := make(map[string]bool)
	weeks := make(map[string]bool)

	for i, snap := range snapshots {
		if i < p.Recent {
			keep[snap.Path] = true
			continue
		}

		ts := snap.Timestamp.UTC()
		day := ts.Format("2006-01-02")
		if days[day] {
			continue
		}
		if len(days) < p.Daily {
			days[day] = true
			keep[snap.Path] = true
			continue
		}

		year, week := ts.ISOWeek()
		wk := fmt.Sprintf("%04d-W%02d", year, week)
		if !weeks[wk] && len(weeks) < p.Weekly {
			weeks[wk] = true
			keep[snap.Path] = true
		}
	}
	return keep
}
