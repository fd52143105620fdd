package form

import (
	"strings"
	"unicode"
)

const (
	tagNewFind      = "#находка"
	tagRatingPrefix = "#оценка_"
)

// DeriveTags builds the hashtag line of a post: the fixed find tag, the
// category letters, the rating and, when the name has any letters, the
// name words joined by underscores.
func DeriveTags(category, name string, rating Rating) string {
	tags := []string{
		tagNewFind,
		"#" + lettersOnly(category),
		tagRatingPrefix + ratingWord(rating),
	}

	words := make([]string, 0, 4)
	for _, w := range strings.Fields(name) {
		if lw := lettersOnly(w); lw != "" {
			words = append(words, lw)
		}
	}
	if len(words) > 0 {
		tags = append(tags, "#"+strings.Join(words, "_"))
	}
	return strings.Join(tags, " ")
}

func lettersOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func ratingWord(r Rating) string {
	if r == RatingPositive {
		return "прекрасно"
	}
	return "ужасно"
}
