package schema

import (
	"fmt"
	"strings"

	"github.com/rpattn/driftetl/internal/domain"
)

// CanonicalText flattens a version into deterministic lines suitable for
// diffing. Sample values are left out because they do not affect identity.
func CanonicalText(version domain.SchemaVersion) []string {
	lines := []string{
		fmt.Sprintf("Version: %s", version.ID),
		fmt.Sprintf("Source: %s", version.SourceID),
		fmt.Sprintf("Hash: %s", version.Hash),
		"Fields:",
	}
	if len(version.Fields) == 0 {
		return append(lines, "  (empty)")
	}
	for _, field := range version.Fields {
		line := fmt.Sprintf("  %s: %s confidence=%.2f", field.Name, field.Type, field.Bucket())
		if field.Nullable {
			line += " nullable"
		}
		lines = append(lines, line)
	}
	return lines
}

// TextDiff renders a unified diff between two versions.
func TextDiff(base, target domain.SchemaVersion) string {
	ops := diffLines(CanonicalText(base), CanonicalText(target))

	var builder strings.Builder
	fmt.Fprintf(&builder, "--- %s\n", base.ID)
	fmt.Fprintf(&builder, "+++ %s\n", target.ID)
	builder.WriteString("@@ -0,0 +0,0 @@\n")
	for _, operation := range ops {
		builder.WriteString(operation.prefix)
		builder.WriteString(operation.line)
		builder.WriteString("\n")
	}
	return builder.String()
}

type diffOp struct {
	prefix string
	line   string
}

// diffLines walks a longest-common-subsequence table to emit keep, delete
// and insert operations.
func diffLines(base, target []string) []diffOp {
	m, n := len(base), len(target)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			switch {
			case base[i] == target[j]:
				dp[i][j] = dp[i+1][j+1] + 1
			case dp[i+1][j] >= dp[i][j+1]:
				dp[i][j] = dp[i+1][j]
			default:
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	ops := make([]diffOp, 0, m+n)
	i, j := 0, 0
	for i < m && j < n {
		switch {
		case base[i] == target[j]:
			ops = append(ops, diffOp{prefix: " ", line: base[i]})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			ops = append(ops, diffOp{prefix: "-", line: base[i]})
			i++
		default:
			ops = append(ops, diffOp{prefix: "+", line: target[j]})
			j++
		}
	}
	for ; i < m; i++ {
		ops = append(ops, diffOp{prefix: "-", line: base[i]})
	}
	for ; j < n; j++ {
		ops = append(ops, diffOp{prefix: "+", line: target[j]})
	}
	return ops
}
