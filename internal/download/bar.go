package download

import (
	"fmt"
	"slices"
	"strings"
)

// barWidth is the number of cells in a rendered progress bar.
const barWidth = 30

// Bar renders one progress line such as "rdf.yaml: [#####.....] 42%".
func Bar(name string, fraction float64) string {
	if fraction < 0 {
		return name + ": [" + strings.Repeat("x", barWidth) + "] failed"
	}
	fraction = clamp(fraction)
	filled := int(fraction * barWidth)
	return fmt.Sprintf("%s: [%s%s] %d%%",
		name,
		strings.Repeat("#", filled),
		strings.Repeat(".", barWidth-filled),
		int(fraction*100),
	)
}

// Render renders one bar per file in name order followed by the total.
func Render(snap Snapshot) string {
	names := make([]string, 0, len(snap))
	for name := range snap {
		if name != TotalKey {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(Bar(name, snap[name]))
		b.WriteByte('\n')
	}
	if total, ok := snap[TotalKey]; ok {
		b.WriteString(Bar(TotalKey, total))
		b.WriteByte('\n')
	}
	return b.String()
}
