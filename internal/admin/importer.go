package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"codequiz/internal/linkresolver"
	"codequiz/internal/model"
	"codequiz/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ImportTranslation перевод задачи во входном JSON
type ImportTranslation struct {
	Language        string           `json:"language"`
	Question        string           `json:"question"`
	Answers         model.StringList `json:"answers"`
	CorrectAnswer   string           `json:"correct_answer"`
	Explanation     string           `json:"explanation"`
	LongExplanation string           `json:"long_explanation"`
}

// ImportTask задача во входном JSON
type ImportTask struct {
	Topic        string              `json:"topic"`
	Subtopic     string              `json:"subtopic"`
	Difficulty   model.Difficulty    `json:"difficulty"`
	ExternalLink string              `json:"external_link"`
	Translations []ImportTranslation `json:"translations"`
}

// ImportDocument входной документ: {"tasks": [...]} или просто массив задач
type ImportDocument struct {
	Tasks []ImportTask `json:"tasks"`
}

// ParseImport разбирает документ импорта
func ParseImport(data []byte) ([]ImportTask, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, model.Errorf(model.KindValidationFailed, "import", "empty document")
	}

	var tasks []ImportTask
	if data[0] == '[' {
		if err := json.Unmarshal(data, &tasks); err != nil {
			return nil, model.NewError(model.KindValidationFailed, "import", fmt.Errorf("invalid JSON: %w", err))
		}
	} else {
		var doc ImportDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, model.NewError(model.KindValidationFailed, "import", fmt.Errorf("invalid JSON: %w", err))
		}
		tasks = doc.Tasks
	}
	if len(tasks) == 0 {
		return nil, model.Errorf(model.KindValidationFailed, "import", "document contains no tasks")
	}
	return tasks, nil
}

// prepare проверяет запись и возвращает нормализованные переводы.
// normalized сообщает, какие языки потребовали чистки ответов.
func (it ImportTask) prepare() (translations []model.TaskTranslation, normalized []string, err error) {
	var errs model.ValidationErrors

	if strings.TrimSpace(it.Topic) == "" {
		errs = append(errs, model.ValidationError{Field: "topic", Message: "is required"})
	}
	if !it.Difficulty.IsValid() {
		errs = append(errs, model.ValidationError{Field: "difficulty", Message: "must be one of: easy, medium, hard"})
	}
	if err := model.ValidateURL("external_link", it.ExternalLink); err != nil {
		errs = append(errs, err.(model.ValidationError))
	}
	if len(it.Translations) == 0 {
		errs = append(errs, model.ValidationError{Field: "translations", Message: "must contain at least one translation"})
	}

	seen := make(map[string]bool, len(it.Translations))
	for i, in := range it.Translations {
		lang, ok := linkresolver.Canonical(in.Language)
		if !ok {
			errs = append(errs, model.ValidationError{
				Field:   fmt.Sprintf("translations[%d].language", i),
				Message: fmt.Sprintf("unknown language %q", in.Language),
			})
			continue
		}
		if seen[lang] {
			errs = append(errs, model.ValidationError{
				Field:   fmt.Sprintf("translations[%d].language", i),
				Message: "duplicate language " + lang,
			})
			continue
		}
		seen[lang] = true

		tr := model.TaskTranslation{
			Language:        lang,
			Question:        strings.TrimSpace(in.Question),
			Answers:         in.Answers,
			CorrectAnswer:   in.CorrectAnswer,
			Explanation:     strings.TrimSpace(in.Explanation),
			LongExplanation: strings.TrimSpace(in.LongExplanation),
		}
		if tr.NormalizeAnswers() {
			normalized = append(normalized, lang)
		}
		if err := tr.Validate(); err != nil {
			if ves, ok := err.(model.ValidationErrors); ok {
				for _, ve := range ves {
					ve.Field = fmt.Sprintf("translations[%d].%s", i, ve.Field)
					errs = append(errs, ve)
				}
			}
			continue
		}
		translations = append(translations, tr)
	}

	if errs.HasErrors() {
		return nil, nil, errs
	}
	return translations, normalized, nil
}

// ImportOptions параметры импорта
type ImportOptions struct {
	// SkipImages не рисует картинки сразу после создания
	SkipImages bool
	// Publish публикует созданные задачи в том же запуске
	Publish bool
	Bulk    bool
}

// RejectedRecord отклоненная запись документа
type RejectedRecord struct {
	Index int
	Err   error
}

// ImportResult итог импорта
type ImportResult struct {
	Created  []int64
	Groups   []uuid.UUID
	Rejected []RejectedRecord
	Images   int
	Publish  *PublishResult
}

// ExitCode код завершения CLI
func (r *ImportResult) ExitCode() int {
	if r.Publish != nil {
		if code := r.Publish.ExitCode(); code != ExitOK {
			return code
		}
	}
	errs := make([]error, 0, len(r.Rejected))
	for _, rej := range r.Rejected {
		errs = append(errs, rej.Err)
	}
	return ExitCode(len(r.Rejected) > 0, errs...)
}

// Import создает задачи из JSON. Невалидные записи отклоняются, остальные
// создаются с новым translation_group_id; темы и подтемы создаются по требованию.
func (s *Service) Import(ctx context.Context, data []byte, opts ImportOptions, sink model.ProgressSink) (*ImportResult, error) {
	if sink == nil {
		sink = model.DiscardProgress
	}
	log := logger.FromContext(ctx, s.logger)

	records, err := ParseImport(data)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{}
	for i, rec := range records {
		id, group, err := s.importRecord(ctx, rec, log)
		if err != nil {
			if model.IsTransport(err) {
				return res, err
			}
			res.Rejected = append(res.Rejected, RejectedRecord{Index: i, Err: err})
			log.Warn("Import record rejected", zap.Int("index", i), zap.Error(err))
			sink.Report(model.ProgressEntry{
				Time:     nowUTC(),
				Severity: model.SeverityError,
				Step:     model.StepImport,
				Message:  fmt.Sprintf("record %d rejected: %v", i, err),
			})
			continue
		}
		res.Created = append(res.Created, id)
		res.Groups = append(res.Groups, group)
		sink.Report(model.ProgressEntry{
			Time:     nowUTC(),
			Severity: model.SeveritySuccess,
			Step:     model.StepImport,
			Message:  fmt.Sprintf("task created (%s)", rec.Topic),
			TaskID:   id,
		})
	}
	log.Info("Import finished", zap.Int("created", len(res.Created)), zap.Int("rejected", len(res.Rejected)))

	if len(res.Created) == 0 {
		return res, nil
	}

	if !opts.SkipImages {
		res.Images, err = s.publisher.GenerateImages(ctx, res.Created, sink)
		if err != nil {
			return res, err
		}
	}

	if opts.Publish {
		res.Publish, err = s.Publish(ctx, res.Created, PublishOptions{Bulk: opts.Bulk, WaitVideo: true}, sink)
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Service) importRecord(ctx context.Context, rec ImportTask, log *zap.Logger) (int64, uuid.UUID, error) {
	translations, normalized, err := rec.prepare()
	if err != nil {
		return 0, uuid.Nil, model.NewError(model.KindValidationFailed, "import", err)
	}
	for _, lang := range normalized {
		log.Info("Answers normalized on import", zap.String("topic", rec.Topic), zap.String("language", lang))
	}

	topic, err := s.repos.Topics.GetOrCreate(ctx, strings.TrimSpace(rec.Topic))
	if err != nil {
		return 0, uuid.Nil, fmt.Errorf("failed to get topic: %w", err)
	}
	task := &model.Task{
		TranslationGroupID: uuid.New(),
		TopicID:            topic.ID,
		Difficulty:         rec.Difficulty,
		ExternalLink:       strings.TrimSpace(rec.ExternalLink),
	}
	if name := strings.TrimSpace(rec.Subtopic); name != "" {
		sub, err := s.repos.Topics.GetOrCreateSubtopic(ctx, topic.ID, name)
		if err != nil {
			return 0, uuid.Nil, fmt.Errorf("failed to get subtopic: %w", err)
		}
		task.SubtopicID = &sub.ID
	}
	if err := task.Validate(); err != nil {
		return 0, uuid.Nil, model.NewError(model.KindValidationFailed, "import", err)
	}

	if err := s.repos.Tasks.Create(ctx, task, translations); err != nil {
		return 0, uuid.Nil, fmt.Errorf("failed to create task: %w", err)
	}
	return task.ID, task.TranslationGroupID, nil
}
