// Package form holds the purchase-find questionnaire: the session value,
// the step machine that advances it and the final post builder. Nothing
// here performs I/O.
package form

type Step int

const (
	StepAwaitingName Step = iota
	StepAwaitingPhoto
	StepAwaitingPrice
	StepAwaitingCategory
	StepAwaitingRating
	StepAwaitingCommentChoice
	StepAwaitingCommentText
)

func (s Step) String() string {
	switch s {
	case StepAwaitingName:
		return "awaiting_name"
	case StepAwaitingPhoto:
		return "awaiting_photo"
	case StepAwaitingPrice:
		return "awaiting_price"
	case StepAwaitingCategory:
		return "awaiting_category"
	case StepAwaitingRating:
		return "awaiting_rating"
	case StepAwaitingCommentChoice:
		return "awaiting_comment_choice"
	case StepAwaitingCommentText:
		return "awaiting_comment_text"
	}
	return "unknown"
}

type Rating int

const (
	RatingUnset Rating = iota
	RatingPositive
	RatingNegative
)

func (r Rating) String() string {
	switch r {
	case RatingPositive:
		return "positive"
	case RatingNegative:
		return "negative"
	}
	return "unset"
}

// Session is one user's progress through the form. It is a value: the
// machine never mutates a Session it was given, it returns a new one.
type Session struct {
	Step     Step
	Name     string
	Photos   []string // insertion order, Photos[0] is the cover
	AlbumID  string
	Price    string
	Category string
	Rating   Rating
	Comment  string
}

func NewSession() Session {
	return Session{Step: StepAwaitingName}
}

func (s Session) HasPhoto(ref string) bool {
	for _, p := range s.Photos {
		if p == ref {
			return true
		}
	}
	return false
}

// withPhotos returns a copy of s with the unseen refs appended. The
// backing array is never shared with s.
func (s Session) withPhotos(refs []string) Session {
	out := s
	out.Photos = append([]string(nil), s.Photos...)
	for _, ref := range refs {
		if ref == "" || out.HasPhoto(ref) {
			continue
		}
		out.Photos = append(out.Photos, ref)
	}
	return out
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	if s.Photos != nil {
		out.Photos = append([]string(nil), s.Photos...)
	}
	return out
}
