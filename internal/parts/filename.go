package parts

import (
	"fmt"
	"strings"
	"unicode"
)

const maxLabelLength = 20

// BinFilename names the STL of a bin. index is appended when non-negative.
func BinFilename(r BinRequest, index int) string {
	parts := []string{fmt.Sprintf("bin-%dx%dx%d", r.Width, r.Depth, r.Height), r.Type}
	if safe := safeLabel(r.Label); safe != "" {
		parts = append(parts, safe)
	}
	if index >= 0 {
		parts = append(parts, fmt.Sprint(index))
	}
	return strings.Join(parts, "-") + ".stl"
}

// BaseplateFilename names the STL of a baseplate.
func BaseplateFilename(r BaseplateRequest) string {
	return fmt.Sprintf("baseplate-%dx%d.stl", r.GridWidth, r.GridDepth)
}

func safeLabel(label string) string {
	var b strings.Builder
	n := 0
	for _, c := range label {
		if n == maxLabelLength {
			break
		}
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '-' || c == '_' || c == ' ' {
			b.WriteRune(c)
			n++
		}
	}
	return strings.TrimSpace(b.String())
}
