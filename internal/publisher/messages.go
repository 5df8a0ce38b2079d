package publisher

import (
	"strings"

	"codequiz/internal/external/telegram"
	"codequiz/internal/model"
	"codequiz/internal/render"
)

// DetailsMessage текст сообщения с деталями задачи в MarkdownV2:
// тема, подтема, сложность и текст вопроса без кода
func DetailsMessage(b *model.TaskBundle, tr *model.TaskTranslation) string {
	var sb strings.Builder

	sb.WriteString("*")
	sb.WriteString(telegram.EscapeMarkdown(b.Topic.Name))
	sb.WriteString("*")
	if b.Subtopic != nil && b.Subtopic.Name != "" {
		sb.WriteString(telegram.EscapeMarkdown(" / " + b.Subtopic.Name))
	}
	sb.WriteString("\n")
	sb.WriteString("_")
	sb.WriteString(telegram.EscapeMarkdown(model.DifficultyLabel(tr.Language, b.Task.Difficulty)))
	sb.WriteString("_")

	if prose := questionProse(tr.Question); prose != "" {
		sb.WriteString("\n\n")
		sb.WriteString(telegram.EscapeMarkdown(prose))
	}
	return sb.String()
}

// ButtonMessage текст сообщения с кнопкой "подробнее"
func ButtonMessage(lang string) string {
	return telegram.EscapeMarkdown(model.LearnMorePrompt(lang))
}

// questionProse текст вопроса без кода. Вопрос без fenced-блока целиком
// считается кодом и уходит на картинку.
func questionProse(question string) string {
	if !render.HasCode(question) {
		return ""
	}
	return render.StripCode(question)
}

// imageSource выбирает перевод, по которому рисуется картинка задачи
func imageSource(b *model.TaskBundle) *model.TaskTranslation {
	for i := range b.Translations {
		if render.HasCode(b.Translations[i].Question) {
			return &b.Translations[i]
		}
	}
	if len(b.Translations) == 0 {
		return nil
	}
	return &b.Translations[0]
}
