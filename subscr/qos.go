package subscr

import (
	"strings"
	"time"

	"github.com/maxpert/cqnwatch/dpi"
)

// QoS is a set of quality of service flags.
type QoS uint32

const (
	QoSReliable           = QoS(dpi.QoSReliable)
	QoSDeregisterOnNotify = QoS(dpi.QoSDeregNfy)
	QoSRowIDs             = QoS(dpi.QoSRowIDs)
	QoSQuery              = QoS(dpi.QoSQuery)
	QoSBestEffort         = QoS(dpi.QoSBestEffort)
)

var qosNames = []struct {
	flag QoS
	name string
}{
	{QoSReliable, "reliable"},
	{QoSDeregisterOnNotify, "dereg_nfy"},
	{QoSRowIDs, "rowids"},
	{QoSQuery, "query"},
	{QoSBestEffort, "best_effort"},
}

// ParseQoS resolves a configuration name such as "rowids".
func ParseQoS(name string) (QoS, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, q := range qosNames {
		if q.name == name {
			return q.flag, true
		}
	}
	return 0, false
}

func (q QoS) Contains(other QoS) bool { return q&other == other }

func (q QoS) String() string {
	if q == 0 {
		return "none"
	}
	var parts []string
	for _, n := range qosNames {
		if q&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// GroupingClass batches notifications. The zero value disables grouping.
type GroupingClass struct {
	window time.Duration
}

// GroupByTime coalesces notifications raised within window into one delivery.
func GroupByTime(window time.Duration) GroupingClass {
	return GroupingClass{window: window}
}

func (g GroupingClass) Window() time.Duration { return g.window }
func (g GroupingClass) IsZero() bool          { return g.window == 0 }

// GroupingType selects how a batch is summarized.
type GroupingType uint8

const (
	GroupingSummary = GroupingType(dpi.GroupingTypeSummary)
	GroupingLast    = GroupingType(dpi.GroupingTypeLast)
)

func (t GroupingType) String() string {
	switch t {
	case GroupingSummary:
		return "summary"
	case GroupingLast:
		return "last"
	default:
		return "unknown"
	}
}
