package publisher

import (
	"math/rand"

	"codequiz/internal/external/telegram"
	"codequiz/internal/model"
)

// PollSpec опрос-викторина, готовый к отправке
type PollSpec struct {
	Question     string
	Options      []string
	CorrectIndex int
}

// pollSeed зерно перемешивания; одинаково для повторных попыток
func pollSeed(taskID, translationID int64) int64 {
	return taskID*1_000_003 + translationID
}

// BuildPoll собирает варианты опроса: неверные ответы без дубликатов правильного,
// правильный ответ, детерминированное перемешивание, затем вариант "не знаю".
func BuildPoll(taskID int64, tr *model.TaskTranslation) PollSpec {
	incorrect := tr.IncorrectAnswers()
	// место для правильного ответа и "не знаю"
	if limit := telegram.MaxPollOptions - 2; len(incorrect) > limit {
		incorrect = incorrect[:limit]
	}

	options := append(incorrect, tr.CorrectAnswer)
	rng := rand.New(rand.NewSource(pollSeed(taskID, tr.ID)))
	rng.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})

	correct := 0
	for i, opt := range options {
		if opt == tr.CorrectAnswer {
			correct = i
			break
		}
	}

	options = append(options, model.DontKnowOption(tr.Language))

	question := questionProse(tr.Question)
	if question == "" {
		question = model.PollQuestion(tr.Language)
	}

	return PollSpec{
		Question:     question,
		Options:      options,
		CorrectIndex: correct,
	}
}
