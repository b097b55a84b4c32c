package generation

import (
	"fmt"
	"strings"
)

// CompositionInput describes the reference images for a composed image or
// video request. Ordering matters: the instruction block numbers garments
// in the order they appear so the provider can attribute directives.
type CompositionInput struct {
	Prompt          string
	SubjectImageURL string
	GarmentImageURL []string
	StyleHint       string
}

// ReferenceImages returns the ordered image list for the provider request:
// subject first (when present), then garments.
func (in *CompositionInput) ReferenceImages() []string {
	var urls []string
	if in.SubjectImageURL != "" {
		urls = append(urls, in.SubjectImageURL)
	}
	return append(urls, in.GarmentImageURL...)
}

// BuildInstructions assembles the structured instruction block for a
// composition request. Three directives are always preserved: identity
// lock when a subject photo is present, per-garment fidelity, and a
// single merged output.
func BuildInstructions(in *CompositionInput) string {
	var b strings.Builder

	if in.Prompt != "" {
		b.WriteString(in.Prompt)
		b.WriteString("\n\n")
	}

	imageIndex := 1
	if in.SubjectImageURL != "" {
		fmt.Fprintf(&b, "Image %d is the subject. Preserve the subject's identity exactly: face, body shape, skin tone and pose must not change.\n", imageIndex)
		imageIndex++
	}

	for i := range in.GarmentImageURL {
		fmt.Fprintf(&b, "Image %d is garment %d. Render this garment faithfully: do not alter its texture, color, pattern or cut.\n", imageIndex, i+1)
		imageIndex++
	}

	if in.StyleHint != "" {
		fmt.Fprintf(&b, "Style: %s.\n", in.StyleHint)
	}

	b.WriteString("Produce a single merged result combining all references, not separate images per reference.")
	return b.String()
}
