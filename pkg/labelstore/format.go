package labelstore

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/menta2k/labelpool/pkg/types"
)

// RecordExt is the extension of a label record next to the image stem.
const RecordExt = ".txt"

// ParseRecord reads a label record and converts every line back to pixel
// space using the image's true dimensions. Lines with fewer than five fields
// or unparsable numbers are skipped.
func ParseRecord(r io.Reader, imgW, imgH int) (types.LabelSet, error) {
	var set types.LabelSet
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 {
			continue
		}
		var v [4]float64
		ok := true
		for i := 0; i < 4; i++ {
			f, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				ok = false
				break
			}
			v[i] = f
		}
		if !ok {
			continue
		}
		n := types.NormalizedBox{Cx: v[0], Cy: v[1], W: v[2], H: v[3]}
		set.Append(types.LabeledBox{Class: fields[0], Box: n.Denormalize(imgW, imgH).Normalize()})
	}
	if err := sc.Err(); err != nil {
		return types.LabelSet{}, fmt.Errorf("failed to read label record: %w", err)
	}
	return set, nil
}

// RecordClass returns class as a single record field, with runs of
// whitespace joined by underscores.
func RecordClass(class string) string {
	return strings.Join(strings.Fields(class), "_")
}

// FormatRecord writes the set as normalized "<class> cx cy w h" lines with
// six decimals. Corners are reordered first so widths are never negative.
func FormatRecord(w io.Writer, set types.LabelSet, imgW, imgH int) error {
	bw := bufio.NewWriter(w)
	for i, l := range set.Boxes {
		class := RecordClass(l.Class)
		if class == "" {
			return fmt.Errorf("%w: box %d", ErrEmptyClass, i)
		}
		n := types.NormalizeBox(l.Box.Normalize(), imgW, imgH)
		if _, err := fmt.Fprintf(bw, "%s %.6f %.6f %.6f %.6f\n", class, n.Cx, n.Cy, n.W, n.H); err != nil {
			return err
		}
	}
	return bw.Flush()
}
