package pollanswer

import (
	"context"
	"fmt"
	"slices"
	"time"

	"codequiz/internal/model"

	"go.uber.org/zap"
)

// Result итог обработки одного ответа
type Result struct {
	Known    bool
	Correct  bool
	DontKnow bool
	Stats    *model.TaskStatistics
}

// Aggregator превращает ответы на опросы в статистику пользователей.
// Повторное событие увеличит attempts еще раз: дубликаты от Telegram редки,
// и такая цена принята.
type Aggregator struct {
	index     *Index
	polls     model.PollRepository
	tasks     model.TaskRepository
	stats     model.StatisticsRepository
	explainer ExplanationSender
	logger    *zap.Logger
	now       func() time.Time
}

// NewAggregator создает агрегатор. explainer может быть nil.
func NewAggregator(index *Index, repos *model.Repositories, explainer ExplanationSender, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		index:     index,
		polls:     repos.Polls,
		tasks:     repos.Tasks,
		stats:     repos.Statistics,
		explainer: explainer,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handle обрабатывает событие; подходит как обработчик очереди
func (a *Aggregator) Handle(ctx context.Context, ev model.PollAnswerEvent) error {
	_, err := a.Process(ctx, ev)
	return err
}

// Process обрабатывает событие и возвращает итог
func (a *Aggregator) Process(ctx context.Context, ev model.PollAnswerEvent) (Result, error) {
	log := a.logger.With(zap.String("poll_id", ev.PollID), zap.Int64("user_id", ev.UserID))

	poll, err := a.index.Lookup(ctx, ev.PollID)
	if err != nil {
		return Result{}, err
	}
	if poll == nil {
		log.Warn("Unknown poll, answer dropped")
		return Result{}, nil
	}
	if len(ev.OptionIDs) == 0 {
		// пользователь отозвал голос; в викторинах это невозможно, но Bot API допускает
		log.Debug("Vote retracted, ignoring")
		return Result{Known: true}, nil
	}

	res := Result{
		Known:    true,
		DontKnow: slices.Contains(ev.OptionIDs, poll.DontKnowOptionID()),
	}
	res.Correct = !res.DontKnow && slices.Contains(ev.OptionIDs, poll.CorrectOptionID)

	at := ev.ReceivedAt
	if at.IsZero() {
		at = a.now()
	}
	selected := ""
	if id := ev.OptionIDs[0]; id >= 0 && id < len(poll.PollOptions) {
		selected = poll.PollOptions[id]
	}

	stats, err := a.stats.RecordAttempt(ctx, model.Attempt{
		UserID:         ev.UserID,
		TaskID:         poll.TaskID,
		Correct:        res.Correct,
		SelectedAnswer: selected,
		At:             at,
	})
	if err != nil {
		return res, fmt.Errorf("failed to record attempt: %w", err)
	}
	res.Stats = stats

	if err := a.polls.IncrementVoters(ctx, ev.PollID); err != nil {
		log.Warn("Failed to increment voter count", zap.Error(err))
	}

	log.Info("Poll answer recorded",
		zap.Int64("task_id", poll.TaskID),
		zap.Bool("correct", res.Correct),
		zap.Bool("dont_know", res.DontKnow),
		zap.Int("attempts", stats.Attempts))

	if res.DontKnow && a.explainer != nil {
		a.explain(ctx, poll, ev.UserID, log)
	}
	return res, nil
}

// explain отправляет объяснение; ошибки только логируются
func (a *Aggregator) explain(ctx context.Context, poll *model.TaskPoll, userID int64, log *zap.Logger) {
	tr, err := a.tasks.GetTranslation(ctx, poll.TranslationID)
	if err != nil {
		log.Warn("Failed to load translation for explanation", zap.Error(err))
		return
	}
	if tr == nil {
		log.Warn("Translation for explanation not found", zap.Int64("translation_id", poll.TranslationID))
		return
	}
	if err := a.explainer.SendExplanation(ctx, userID, tr); err != nil {
		log.Warn("Failed to send explanation", zap.Error(err))
	}
}
