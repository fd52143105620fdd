package form

import (
	"errors"
	"fmt"
	"strings"
)

var ErrIncompleteSession = errors.New("form: session is not complete")

// Image is one attachment of the final post. Only the cover has a caption.
type Image struct {
	Ref     string
	Caption string
}

type Result struct {
	Caption string
	Tags    string
	Images  []Image
}

// BuildResult renders the HTML caption and the ordered attachment list.
// The first photo collected is the cover and carries the caption.
func BuildResult(s Session) (Result, error) {
	if missing := missingFields(s); len(missing) > 0 {
		return Result{}, fmt.Errorf("%w: missing %s", ErrIncompleteSession, strings.Join(missing, ", "))
	}

	tags := DeriveTags(s.Category, s.Name, s.Rating)

	var b strings.Builder
	b.WriteString("🛒 <b>Новая находка</b>\n")
	fmt.Fprintf(&b, "🍗 <b>Название:</b> <i>%s</i>\n", escapeHTML(s.Name))
	fmt.Fprintf(&b, "💰 <b>Цена:</b> <i>%s</i>\n", escapeHTML(s.Price))
	fmt.Fprintf(&b, "🏷 <b>Раздел:</b> <i>%s</i>\n", escapeHTML(s.Category))
	fmt.Fprintf(&b, "⭐️ <b>Оценка:</b> <i>%s</i>", ratingDisplay(s.Rating))
	if strings.TrimSpace(s.Comment) != "" {
		fmt.Fprintf(&b, "\n📝 <b>Комментарий:</b> <i>%s</i>", escapeHTML(s.Comment))
	}
	b.WriteString("\n\n")
	b.WriteString(escapeHTML(tags))

	caption := b.String()
	images := make([]Image, len(s.Photos))
	for i, ref := range s.Photos {
		images[i] = Image{Ref: ref}
	}
	images[0].Caption = caption

	return Result{Caption: caption, Tags: tags, Images: images}, nil
}

func missingFields(s Session) []string {
	var missing []string
	if strings.TrimSpace(s.Name) == "" {
		missing = append(missing, "name")
	}
	if len(s.Photos) == 0 {
		missing = append(missing, "photos")
	}
	if s.Price == "" {
		missing = append(missing, "price")
	}
	if s.Category == "" {
		missing = append(missing, "category")
	}
	if s.Rating == RatingUnset {
		missing = append(missing, "rating")
	}
	return missing
}

func ratingDisplay(r Rating) string {
	if r == RatingPositive {
		return "🤤 прекрасно"
	}
	return "🤢 ужасно"
}

func escapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}
