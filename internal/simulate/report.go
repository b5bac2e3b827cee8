package simulate

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

// Report writes a human readable summary of s.
func Report(w io.Writer, s Stats) error {
	var rate float64
	if s.Duration > 0 {
		rate = float64(s.Picks) / s.Duration.Seconds()
	}
	_, err := fmt.Fprintf(w, `Simulation summary
  players:   %s (%s finished, %s failed)
  picks:     %s (%s/s)
  items:     %s
  agreement: %s%%
  duration:  %s
`,
		humanize.Comma(int64(s.Players)),
		humanize.Comma(int64(s.Finished)),
		humanize.Comma(int64(s.Failed)),
		humanize.Comma(int64(s.Picks)),
		humanize.FormatFloat("#,###.#", rate),
		humanize.Comma(int64(s.Items)),
		humanize.FormatFloat("#.##", s.Agreement*100),
		s.Duration.Round(time.Millisecond),
	)
	return err
}
