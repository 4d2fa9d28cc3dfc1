package enhance

import (
	"fmt"
	"strings"
	"unicode"
)

// RedactionPlaceholder replaces signed source URLs in visible text.
const RedactionPlaceholder = "[image will be displayed below]"

// GalleryHeading opens the appended image section.
const GalleryHeading = "\n\n---\n### 📊 Referenced Images from Knowledge Base:\n\n"

func renderGallery(images []Image) string {
	if len(images) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(GalleryHeading)
	for i, img := range images {
		title := img.Title
		if title == "" {
			title = fmt.Sprintf("Image %d", i+1)
		}
		fmt.Fprintf(&b, "**%d. %s**\n\n![%s](%s)\n\n", i+1, title, title, img.DisplayURL)
	}
	return b.String()
}

// imageTitle derives a display title from the object filename:
// "charts/q3_revenue-v2.png?X-Amz-Signature=.." becomes "Q3 Revenue V2".
func imageTitle(rawURL string) string {
	segment := rawURL
	if i := strings.LastIndex(segment, "/"); i >= 0 {
		segment = segment[i+1:]
	}
	if i := strings.Index(segment, "?"); i >= 0 {
		segment = segment[:i]
	}
	if i := strings.LastIndex(segment, "."); i > 0 {
		segment = segment[:i]
	}
	segment = strings.NewReplacer("_", " ", "-", " ").Replace(segment)
	return titleCaseWords(segment)
}

func titleCaseWords(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		runes := []rune(strings.ToLower(word))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
