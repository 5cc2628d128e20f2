package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// timeRange holds the --from/--to/--last flags shared by export and replay.
type timeRange struct {
	from string
	to   string
	last time.Duration
}

func (r *timeRange) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.from, "from", "", "Start timestamp (RFC3339, inclusive)")
	cmd.Flags().StringVar(&r.to, "to", "", "End timestamp (RFC3339, exclusive, defaults to now)")
	cmd.Flags().DurationVar(&r.last, "last", 0, "Look back this far from --to instead of giving --from, e.g. 24h")
	cmd.MarkFlagsMutuallyExclusive("from", "last")
}

// resolve parses the flags. A nil bound means the flag was not given.
func (r *timeRange) resolve(now time.Time) (from, to *time.Time, err error) {
	if r.to != "" {
		t, err := time.Parse(time.RFC3339, r.to)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --to value: %w", err)
		}
		to = &t
	}

	switch {
	case r.from != "":
		f, err := time.Parse(time.RFC3339, r.from)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --from value: %w", err)
		}
		from = &f
	case r.last < 0:
		return nil, nil, fmt.Errorf("--last must be positive")
	case r.last > 0:
		end := now
		if to != nil {
			end = *to
		}
		f := end.Add(-r.last)
		from = &f
	}

	if from != nil && to != nil && !from.Before(*to) {
		return nil, nil, fmt.Errorf("--from must be before --to")
	}
	return from, to, nil
}
