package plan

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
)

// Preview writes one line per action followed by a summary line. Dry-run
// output and the journal both use this rendering.
func (p *Plan) Preview(w io.Writer) error {
	for _, a := range p.Actions {
		if _, err := fmt.Fprintln(w, a.String()); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, p.Summary())
	return err
}

// Summary describes the plan in one line, e.g.
// "dedupe: 2 delete, 1 skip (reclaims 1.2 MiB)".
func (p *Plan) Summary() string {
	counts := p.Counts()
	var parts []string
	for _, k := range []Kind{KindDelete, KindHardlink, KindMove, KindCopy, KindSkip} {
		if n := counts[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, k))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "nothing to do")
	}
	s := p.Operation + ": " + strings.Join(parts, ", ")
	if n := p.Reclaimable(); n > 0 {
		s += fmt.Sprintf(" (reclaims %s)", humanize.IBytes(uint64(n)))
	}
	return s
}
