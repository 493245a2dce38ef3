package portal

import (
	"context"
	"fmt"
	"strings"
)

// DescribeRow is one (category, name, value) diagnostic triple.
type DescribeRow struct {
	Category string
	Name     string
	Value    string
}

// Describe returns an ordered diagnostic description of the portal:
// storage characteristics, configuration, and store entry counts.
func (p *Portal) Describe(ctx context.Context) ([]DescribeRow, error) {
	rows := []DescribeRow{
		{"storage", "location", p.path},
		{"storage", "fingerprint", p.fingerprint},
		{"configuration", "p_consistency_checks",
			fmt.Sprintf("%g", p.pConsistencyChecks)},
	}

	for _, d := range []struct {
		name string
		dict interface {
			Len(context.Context) (int, error)
		}
	}{
		{"values", p.values},
		{"execution requests", p.requests},
		{"execution attempts", p.attempts},
		{"settings", p.settings},
	} {
		n, err := d.dict.Len(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe: %w", err)
		}
		rows = append(rows, DescribeRow{"contents", d.name, fmt.Sprintf("%d", n)})
	}

	return rows, nil
}

// FormatDescription renders describe rows as an aligned text table.
func FormatDescription(rows []DescribeRow) string {
	var b strings.Builder
	category := ""
	for _, r := range rows {
		if r.Category != category {
			category = r.Category
			fmt.Fprintf(&b, "[%s]\n", category)
		}
		fmt.Fprintf(&b, "  %-24s %s\n", r.Name, r.Value)
	}
	return b.String()
}
