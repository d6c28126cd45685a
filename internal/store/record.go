package store

import (
	"time"

	"lintwatch/internal/issue"
)

// Record is the tracking identity of an issue, kept across runs and restarts.
type Record struct {
	RuleKey      string     `msgpack:"rule" json:"rule"`
	LineHash     string     `msgpack:"hash,omitempty" json:"hash,omitempty"`
	Message      string     `msgpack:"msg" json:"message"`
	Line         int        `msgpack:"line,omitempty" json:"line,omitempty"`
	Severity     string     `msgpack:"sev,omitempty" json:"severity,omitempty"`
	CreationDate *time.Time `msgpack:"created,omitempty" json:"creation_date,omitempty"`
	Assignee     string     `msgpack:"assignee,omitempty" json:"assignee,omitempty"`
	ServerKey    string     `msgpack:"server_key,omitempty" json:"server_key,omitempty"`
}

// RecordOf snapshots the tracking identity of li.
func RecordOf(li *issue.LiveIssue) Record {
	r := Record{
		RuleKey:   li.RuleKey,
		LineHash:  li.LineHash,
		Message:   li.Message,
		Line:      li.Line(),
		Severity:  li.Severity.String(),
		Assignee:  li.Assignee,
		ServerKey: li.ServerKey,
	}
	if li.CreationDate != nil {
		d := *li.CreationDate
		r.CreationDate = &d
	}
	return r
}

// Tracked is anything carrying a tracking identity: a stored record or a server issue.
type Tracked interface {
	TrackingRule() string
	TrackingHash() string
	TrackingMessage() string
}

func (r Record) TrackingRule() string    { return r.RuleKey }
func (r Record) TrackingHash() string    { return r.LineHash }
func (r Record) TrackingMessage() string { return r.Message }

// Match pairs every new issue with at most one previous entry: first by rule
// and line hash, then by rule and message. It returns, for each new issue, the
// index of its previous entry or -1, and the indexes of unmatched previous entries.
func Match[T Tracked](next []*issue.LiveIssue, prev []T) (pairs []int, unmatched []int) {
	pairs = make([]int, len(next))
	for i := range pairs {
		pairs[i] = -1
	}
	used := make([]bool, len(prev))

	pass := func(same func(li *issue.LiveIssue, p T) bool) {
		for i, li := range next {
			if pairs[i] >= 0 {
				continue
			}
			for j, p := range prev {
				if used[j] || p.TrackingRule() != li.RuleKey || !same(li, p) {
					continue
				}
				pairs[i] = j
				used[j] = true
				break
			}
		}
	}
	pass(func(li *issue.LiveIssue, p T) bool { return p.TrackingHash() == li.LineHash })
	pass(func(li *issue.LiveIssue, p T) bool { return p.TrackingMessage() == li.Message })

	for j, u := range used {
		if !u {
			unmatched = append(unmatched, j)
		}
	}
	return pairs, unmatched
}
