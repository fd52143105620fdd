package form

import "strings"

const (
	PromptStart           = "Привет! Давайте заполним форму. Введите название товара:"
	PromptName            = "Пожалуйста, введите название товара:"
	PromptPhoto           = "Отправьте фото товара:"
	PromptPrice           = "Введите цену товара:"
	PromptCategory        = "Выберите раздел:"
	PromptCategoryInvalid = "Пожалуйста, выберите раздел из списка:"
	PromptRating          = "Оцените товар:"
	PromptRatingInvalid   = "Пожалуйста, выберите: Прекрасно или Ужасно."
	PromptCommentChoice   = "Хотите добавить комментарий?"
	PromptCommentText     = "Введите комментарий:"
)

const (
	LabelPositive   = "Прекрасно"
	LabelNegative   = "Ужасно"
	LabelAddComment = "Добавить комментарий"
	LabelSkip       = "Пропустить"
)

// Categories is the closed, ordered category list.
var Categories = []string{
	"🥦 Овощи и фрукты",
	"🍖 Мясо и рыба",
	"🧀 Молочка и сыры",
	"🥗 Готовое и вкусное",
	"🥫 Долгого хранения",
	"🧃 Напитки",
	"🤔 Странное и интересное",
}

func IsCategory(label string) bool {
	for _, c := range Categories {
		if c == label {
			return true
		}
	}
	return false
}

// CategoryKeyboard lays the categories out two per row.
func CategoryKeyboard() [][]string {
	rows := make([][]string, 0, (len(Categories)+1)/2)
	for i := 0; i < len(Categories); i += 2 {
		end := i + 2
		if end > len(Categories) {
			end = len(Categories)
		}
		rows = append(rows, append([]string(nil), Categories[i:end]...))
	}
	return rows
}

func RatingKeyboard() [][]string {
	return [][]string{{LabelPositive, LabelNegative}}
}

func CommentKeyboard() [][]string {
	return [][]string{{LabelAddComment, LabelSkip}}
}

// Input is the part of an inbound event the machine looks at.
type Input struct {
	Start   bool
	Text    string
	Photos  []string
	AlbumID string
}

func (in Input) hasText() bool {
	return in.Text != ""
}

type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionReply
	ActionFinalize
)

func (k ActionKind) String() string {
	switch k {
	case ActionReply:
		return "reply"
	case ActionFinalize:
		return "finalize"
	}
	return "none"
}

type Reply struct {
	Text           string
	Keyboard       [][]string
	RemoveKeyboard bool
}

type Action struct {
	Kind  ActionKind
	Reply Reply
}

func none() Action { return Action{Kind: ActionNone} }

func reply(text string) Action {
	return Action{Kind: ActionReply, Reply: Reply{Text: text}}
}

func replyWithKeyboard(text string, rows [][]string) Action {
	return Action{Kind: ActionReply, Reply: Reply{Text: text, Keyboard: rows}}
}

// Decide computes the next session and the action to perform for one
// input. It is pure: s is never modified and the result depends only on
// the arguments. When the returned action is ActionFinalize the returned
// session is complete and ready for BuildResult.
func Decide(in Input, s Session) (Session, Action) {
	if in.Start {
		return NewSession(), reply(PromptStart)
	}

	s = collectAlbum(in, s)

	switch s.Step {
	case StepAwaitingName:
		name := strings.TrimSpace(in.Text)
		if name == "" {
			return s, reply(PromptName)
		}
		next := s.Clone()
		next.Name = name
		next.Step = StepAwaitingPhoto
		return next, reply(PromptPhoto)

	case StepAwaitingPhoto:
		if len(in.Photos) == 0 {
			return s, none()
		}
		next := s.withPhotos(in.Photos)
		next.AlbumID = in.AlbumID
		next.Step = StepAwaitingPrice
		return next, reply(PromptPrice)

	case StepAwaitingPrice:
		if strings.TrimSpace(in.Text) == "" {
			return s, none()
		}
		next := s.Clone()
		next.Price = NormalizePrice(in.Text)
		next.Step = StepAwaitingCategory
		return next, replyWithKeyboard(PromptCategory, CategoryKeyboard())

	case StepAwaitingCategory:
		if !in.hasText() {
			return s, none()
		}
		label := strings.TrimSpace(in.Text)
		if !IsCategory(label) {
			return s, reply(PromptCategoryInvalid)
		}
		next := s.Clone()
		next.Category = label
		next.Step = StepAwaitingRating
		return next, replyWithKeyboard(PromptRating, RatingKeyboard())

	case StepAwaitingRating:
		if !in.hasText() {
			return s, none()
		}
		var r Rating
		switch strings.TrimSpace(in.Text) {
		case LabelPositive:
			r = RatingPositive
		case LabelNegative:
			r = RatingNegative
		default:
			return s, reply(PromptRatingInvalid)
		}
		next := s.Clone()
		next.Rating = r
		next.Step = StepAwaitingCommentChoice
		return next, replyWithKeyboard(PromptCommentChoice, CommentKeyboard())

	case StepAwaitingCommentChoice:
		return decideCommentChoice(in, s)

	case StepAwaitingCommentText:
		return decideCommentText(in, s)
	}

	return s, none()
}

// collectAlbum appends photos of the album the session already follows,
// adopting the album when none is set yet. It runs at every step so late
// album members still reach the post.
func collectAlbum(in Input, s Session) Session {
	if len(in.Photos) == 0 || in.AlbumID == "" {
		return s
	}
	if s.AlbumID != "" && s.AlbumID != in.AlbumID {
		return s
	}
	next := s.withPhotos(in.Photos)
	next.AlbumID = in.AlbumID
	return next
}

func decideCommentChoice(in Input, s Session) (Session, Action) {
	if !in.hasText() {
		return s, none()
	}
	switch strings.TrimSpace(in.Text) {
	case LabelSkip:
		return finalize(s, "")
	case LabelAddComment:
		next := s.Clone()
		next.Step = StepAwaitingCommentText
		return next, Action{Kind: ActionReply, Reply: Reply{Text: PromptCommentText, RemoveKeyboard: true}}
	}
	return finalize(s, in.Text)
}

func decideCommentText(in Input, s Session) (Session, Action) {
	if !in.hasText() {
		return s, none()
	}
	comment := in.Text
	if strings.TrimSpace(comment) == LabelAddComment {
		comment = ""
	}
	return finalize(s, comment)
}

// finalize is the single terminal transition shared by both comment steps.
func finalize(s Session, comment string) (Session, Action) {
	next := s.Clone()
	next.Step = StepAwaitingCommentText
	if strings.TrimSpace(comment) != "" {
		next.Comment = comment
	}
	return next, Action{Kind: ActionFinalize}
}
