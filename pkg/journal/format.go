package journal

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FormatSummary renders the stats report printed by the CLI.
func FormatSummary(title string, records []Record) string {
	agg := AggregateRecords(records)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", title)
	fmt.Fprintf(&b, "finds:     %s\n", GroupedInt(agg.Finds))
	if agg.Finds == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "positive:  %s (%s)\n", GroupedInt(agg.Positive), percent(agg.Positive, agg.Finds))
	fmt.Fprintf(&b, "negative:  %s (%s)\n", GroupedInt(agg.Negative), percent(agg.Negative, agg.Finds))
	fmt.Fprintf(&b, "commented: %s\n", GroupedInt(agg.Commented))
	fmt.Fprintf(&b, "photos:    %s\n", GroupedInt(agg.Photos))

	breakdown := CategoryBreakdown(records)
	cats := make([]string, 0, len(breakdown))
	for c := range breakdown {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if breakdown[cats[i]].Finds != breakdown[cats[j]].Finds {
			return breakdown[cats[i]].Finds > breakdown[cats[j]].Finds
		}
		return cats[i] < cats[j]
	})

	b.WriteString("by category:\n")
	for _, c := range cats {
		a := breakdown[c]
		fmt.Fprintf(&b, "  %s: %s (+%d/-%d)\n", c, GroupedInt(a.Finds), a.Positive, a.Negative)
	}
	return b.String()
}

func percent(part, total int) string {
	if total == 0 {
		return "0%"
	}
	return strconv.Itoa(part*100/total) + "%"
}

// GroupedInt formats integers with comma separators.
func GroupedInt(n int) string {
	if n < 0 {
		return "-" + GroupedInt(-n)
	}
	s := strconv.Itoa(n)
	if n < 1000 {
		return s
	}

	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}
