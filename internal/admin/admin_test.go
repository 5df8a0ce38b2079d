package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"codequiz/internal/cleanup"
	"codequiz/internal/external/telegram/telegramtest"
	"codequiz/internal/linkresolver"
	"codequiz/internal/model"
	"codequiz/internal/publisher"
	"codequiz/internal/storage/memstore"
	"codequiz/internal/webhook"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRenderer struct{}

func (fakeRenderer) Render(source, _, lang string) ([]byte, error) {
	return []byte(lang + ":" + source), nil
}

type fakeImages struct{}

func (fakeImages) PutImage(_ context.Context, _ []byte, key string) (string, error) {
	return "https://cdn.example/" + key, nil
}

type fakeDispatcher struct {
	mu     sync.Mutex
	calls  [][]int64
	bulk   []bool
	waited int
	err    error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, ids []int64, bulk bool, _ model.ProgressSink) (*publisher.FanoutReport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, ids)
	d.bulk = append(d.bulk, bulk)
	if d.err != nil {
		return nil, d.err
	}
	return &publisher.FanoutReport{Immediate: &webhook.Summary{Destinations: 1, Sent: len(ids)}}, nil
}

func (d *fakeDispatcher) Wait() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waited++
}

type fakeObjects struct {
	mu      sync.Mutex
	deleted []string
}

func (o *fakeObjects) Delete(_ context.Context, url string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleted = append(o.deleted, url)
	return true, nil
}

type fixture struct {
	store      *memstore.Store
	repos      *model.Repositories
	tg         *telegramtest.Fake
	dispatcher *fakeDispatcher
	objects    *fakeObjects
	svc        *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	repos := store.Repositories()
	log := zap.NewNop()

	f := &fixture{
		store:      store,
		repos:      repos,
		tg:         telegramtest.New(),
		dispatcher: &fakeDispatcher{},
		objects:    &fakeObjects{},
	}
	resolver := linkresolver.New(repos.Links, []string{"en", "ru"}, "en", log)
	pub := publisher.New(repos, f.tg, fakeImages{}, fakeRenderer{}, resolver, publisher.Config{}, log)
	cleaner := cleanup.New(repos.Tasks, repos.Groups, f.objects, f.tg, cleanup.DefaultWindow(), log)

	f.svc = New(Deps{
		Repos:      repos,
		Publisher:  pub,
		Dispatcher: f.dispatcher,
		Cleaner:    cleaner,
		Links:      resolver,
	}, log)
	return f
}

// channel создает канал и fallback-ссылку для языка
func (f *fixture) channel(t *testing.T, topic, lang string, chatID int64, withFallback bool) {
	t.Helper()
	ctx := context.Background()
	tp, err := f.repos.Topics.GetOrCreate(ctx, topic)
	require.NoError(t, err)
	require.NoError(t, f.repos.Groups.Create(ctx, &model.TelegramGroup{
		GroupID:   chatID,
		GroupName: topic + " " + lang,
		Username:  "quiz_" + lang,
		Language:  lang,
		TopicID:   tp.ID,
	}))
	if withFallback {
		require.NoError(t, f.repos.Links.SaveMainFallback(ctx, &model.MainFallbackLink{Language: lang, URL: "https://" + lang + ".example"}))
	}
}

// pair создает две строки одной группы переводов: ru и en
func (f *fixture) pair(t *testing.T, topic string) (int64, int64, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	tp, err := f.repos.Topics.GetOrCreate(ctx, topic)
	require.NoError(t, err)
	group := uuid.New()

	ids := make([]int64, 0, 2)
	for _, lang := range []string{"ru", "en"} {
		task := &model.Task{TranslationGroupID: group, TopicID: tp.ID, Difficulty: model.DifficultyMedium}
		require.NoError(t, f.repos.Tasks.Create(ctx, task, []model.TaskTranslation{{
			Language:      lang,
			Question:      "```go\nfmt.Println(len(\"go\"))\n```",
			Answers:       model.StringList{"1", "2", "3"},
			CorrectAnswer: "2",
		}}))
		ids = append(ids, task.ID)
	}
	return ids[0], ids[1], group
}

const importDoc = `{
  "tasks": [
    {
      "topic": "Python",
      "subtopic": "Lists",
      "difficulty": "easy",
      "translations": [
        {
          "language": "ru",
          "question": "Что выведет код?\n` + "```python\\nprint(len([1, 2]))\\n```" + `",
          "answers": ["1", "2", "2", " 3 "],
          "correct_answer": "2",
          "explanation": "len считает элементы"
        },
        {
          "language": "EN",
          "question": "What is printed?",
          "answers": "1\n2\n3",
          "correct_answer": "2"
        }
      ]
    },
    {
      "topic": "Go",
      "difficulty": "hard",
      "translations": [
        {"language": "ru", "question": "q", "answers": ["a", "b"], "correct_answer": "c"}
      ]
    }
  ]
}`

func TestImport_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Import(ctx, []byte(importDoc), ImportOptions{}, nil)

	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 1, res.Rejected[0].Index)
	assert.True(t, model.IsKind(res.Rejected[0].Err, model.KindValidationFailed))
	assert.Equal(t, 1, res.Images)
	assert.Equal(t, ExitPartial, res.ExitCode())

	bundle, err := f.repos.Tasks.LoadBundle(ctx, res.Created[0])
	require.NoError(t, err)
	assert.Equal(t, "Python", bundle.Topic.Name)
	require.NotNil(t, bundle.Subtopic)
	assert.Equal(t, "Lists", bundle.Subtopic.Name)
	assert.Equal(t, res.Groups[0], bundle.Task.TranslationGroupID)
	assert.NotEmpty(t, bundle.Task.ImageURL)
	assert.False(t, bundle.Task.Published)

	raw, err := json.Marshal(webhook.NewFull(bundle, false))
	require.NoError(t, err)
	var payload struct {
		Type         string `json:"type"`
		Translations []struct {
			Language      string   `json:"language"`
			Question      string   `json:"question"`
			Answers       []string `json:"answers"`
			CorrectAnswer string   `json:"correct_answer"`
		} `json:"translations"`
	}
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "quiz_published_full", payload.Type)

	byLang := make(map[string][]string)
	for _, tr := range payload.Translations {
		answers := append([]string(nil), tr.Answers...)
		sort.Strings(answers)
		byLang[tr.Language] = answers
		assert.Equal(t, "2", tr.CorrectAnswer)
	}
	assert.Equal(t, []string{"1", "2", "3"}, byLang["ru"])
	assert.Equal(t, []string{"1", "2", "3"}, byLang["en"])
	assert.Equal(t, "What is printed?", payload.Translations[1].Question)
}

func TestImport_AndPublish(t *testing.T) {
	f := newFixture(t)
	f.channel(t, "Python", "ru", -1001, true)
	f.channel(t, "Python", "en", -1002, true)

	res, err := f.svc.Import(context.Background(), []byte(importDoc), ImportOptions{Publish: true, Bulk: true}, nil)

	require.NoError(t, err)
	require.NotNil(t, res.Publish)
	assert.Equal(t, res.Created, res.Publish.Report.Published())
	assert.Len(t, f.tg.CallsFor("sendPoll"), 2)
	require.Len(t, f.dispatcher.calls, 1)
	assert.Equal(t, []bool{true}, f.dispatcher.bulk)
	assert.Equal(t, 1, f.dispatcher.waited)
	// одна отклоненная запись
	assert.Equal(t, ExitPartial, res.ExitCode())
}

func TestParseImport(t *testing.T) {
	tests := []struct {
		name  string
		input string
		count int
		fails bool
	}{
		{name: "объект с tasks", input: `{"tasks":[{"topic":"Go"}]}`, count: 1},
		{name: "массив", input: `[{"topic":"Go"},{"topic":"Rust"}]`, count: 2},
		{name: "пустой документ", input: "  ", fails: true},
		{name: "битый JSON", input: `{"tasks":[`, fails: true},
		{name: "нет задач", input: `{"tasks":[]}`, fails: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := ParseImport([]byte(tt.input))
			if tt.fails {
				require.Error(t, err)
				assert.True(t, model.IsKind(err, model.KindValidationFailed))
				return
			}
			require.NoError(t, err)
			assert.Len(t, tasks, tt.count)
		})
	}
}

func TestImportTask_Prepare(t *testing.T) {
	valid := ImportTranslation{Language: "ru", Question: "q", Answers: model.StringList{"a", "b"}, CorrectAnswer: "a"}

	tests := []struct {
		name   string
		task   ImportTask
		field  string
		normal []string
	}{
		{name: "валидная", task: ImportTask{Topic: "Go", Difficulty: model.DifficultyEasy, Translations: []ImportTranslation{valid}}},
		{name: "без темы", task: ImportTask{Difficulty: model.DifficultyEasy, Translations: []ImportTranslation{valid}}, field: "topic"},
		{name: "плохая сложность", task: ImportTask{Topic: "Go", Difficulty: "insane", Translations: []ImportTranslation{valid}}, field: "difficulty"},
		{name: "без переводов", task: ImportTask{Topic: "Go", Difficulty: model.DifficultyEasy}, field: "translations"},
		{name: "повтор языка", task: ImportTask{Topic: "Go", Difficulty: model.DifficultyEasy, Translations: []ImportTranslation{valid, valid}}, field: "translations[1].language"},
		{
			name: "правильный ответ вне списка",
			task: ImportTask{Topic: "Go", Difficulty: model.DifficultyEasy, Translations: []ImportTranslation{
				{Language: "ru", Question: "q", Answers: model.StringList{"a", "b"}, CorrectAnswer: "c"},
			}},
			field: "translations[0].correct_answer",
		},
		{
			name: "дубликат правильного ответа",
			task: ImportTask{Topic: "Go", Difficulty: model.DifficultyEasy, Translations: []ImportTranslation{
				{Language: "ru", Question: "q", Answers: model.StringList{"a", "a", "b"}, CorrectAnswer: "a"},
			}},
			normal: []string{"ru"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			translations, normalized, err := tt.task.prepare()
			if tt.field != "" {
				var ves model.ValidationErrors
				require.True(t, errors.As(err, &ves))
				fields := make([]string, 0, len(ves))
				for _, ve := range ves {
					fields = append(fields, ve.Field)
				}
				assert.Contains(t, fields, tt.field)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, translations)
			assert.Equal(t, tt.normal, normalized)
		})
	}
}

func TestPublish_ExpandsTranslationGroup(t *testing.T) {
	f := newFixture(t)
	f.channel(t, "Go", "ru", -1001, true)
	f.channel(t, "Go", "en", -1002, true)
	ru, en, _ := f.pair(t, "Go")

	res, err := f.svc.Publish(context.Background(), []int64{ru}, PublishOptions{}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Groups)
	assert.ElementsMatch(t, []int64{ru, en}, res.Report.Published())
	require.Len(t, f.dispatcher.calls, 1)
	assert.ElementsMatch(t, []int64{ru, en}, f.dispatcher.calls[0])
	assert.Equal(t, 0, f.dispatcher.waited)
	assert.Equal(t, ExitOK, res.ExitCode())
}

func TestPublish_ExitCodes(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		want  int
	}{
		{
			name: "нет fallback-ссылки",
			setup: func(f *fixture) {
				f.channel(t, "Go", "ru", -1001, false)
				f.channel(t, "Go", "en", -1002, false)
			},
			want: ExitConfig,
		},
		{
			name: "telegram недоступен",
			setup: func(f *fixture) {
				f.channel(t, "Go", "ru", -1001, true)
				f.channel(t, "Go", "en", -1002, true)
				f.tg.FailOn = func(method string, _ int64) error {
					if method == "sendPhoto" {
						return model.Errorf(model.KindTelegramUnavailable, "sendPhoto", "connection refused")
					}
					return nil
				}
			},
			want: ExitTransport,
		},
		{
			name: "нет канала для en, ru отклонен",
			setup: func(f *fixture) {
				f.channel(t, "Go", "ru", -1001, true)
				require.NoError(t, f.repos.Links.SaveMainFallback(context.Background(), &model.MainFallbackLink{Language: "en", URL: "https://en.example"}))
				f.tg.FailOn = func(method string, chatID int64) error {
					if method == "sendPoll" && chatID == -1001 {
						return model.Errorf(model.KindTelegramRejected, "sendPoll", "bad request")
					}
					return nil
				}
			},
			want: ExitConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)
			ru, _, _ := f.pair(t, "Go")

			res, err := f.svc.Publish(context.Background(), []int64{ru}, PublishOptions{}, nil)

			require.NoError(t, err)
			assert.Equal(t, tt.want, res.ExitCode())
			assert.Empty(t, f.dispatcher.calls)
		})
	}
}

func TestPublish_NothingSelected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Publish(context.Background(), nil, PublishOptions{}, nil)
	assert.True(t, model.IsKind(err, model.KindValidationFailed))

	_, err = f.svc.Publish(context.Background(), []int64{404}, PublishOptions{}, nil)
	assert.True(t, model.IsKind(err, model.KindNotFound))
}

func TestPublish_DispatchFailureReported(t *testing.T) {
	f := newFixture(t)
	f.channel(t, "Go", "ru", -1001, true)
	f.channel(t, "Go", "en", -1002, true)
	ru, _, _ := f.pair(t, "Go")
	f.dispatcher.err = model.Errorf(model.KindDatabaseUnavailable, "load", "connection reset")
	var out bytes.Buffer
	printer := NewPrinter(&out, false)

	res, err := f.svc.Publish(context.Background(), []int64{ru}, PublishOptions{}, printer)

	require.NoError(t, err)
	require.Error(t, res.FanoutErr)
	assert.Equal(t, ExitTransport, res.ExitCode())
	assert.Contains(t, out.String(), "❌ webhook dispatch failed")
}

func TestDelete_ExpandsTranslationGroup(t *testing.T) {
	f := newFixture(t)
	f.channel(t, "Go", "ru", -1001, true)
	f.channel(t, "Go", "en", -1002, true)
	ru, en, _ := f.pair(t, "Go")
	_, err := f.svc.Publish(context.Background(), []int64{ru}, PublishOptions{}, nil)
	require.NoError(t, err)
	f.tg.Reset()

	res, err := f.svc.Delete(context.Background(), []int64{en}, nil)

	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Report.TasksDeleted)
	assert.Equal(t, 2, res.Report.PollsDeleted)
	assert.Equal(t, 8, res.Report.TelegramAttempted)
	// картинки разные: подпись зависит от языка
	assert.Equal(t, 2, res.Report.ImagesAttempted)
	assert.Len(t, f.objects.deleted, 2)
	assert.Equal(t, ExitOK, res.ExitCode())

	_, ok := f.store.Task(ru)
	assert.False(t, ok)
}

func TestClearError(t *testing.T) {
	f := newFixture(t)
	ru, en, _ := f.pair(t, "Go")
	ctx := context.Background()
	require.NoError(t, f.repos.Tasks.MarkError(ctx, ru))
	require.NoError(t, f.repos.Tasks.MarkError(ctx, en))

	n, err := f.svc.ClearError(ctx, []int64{ru})

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	task, _ := f.store.Task(en)
	assert.False(t, task.Error)
	assert.Empty(t, f.tg.Calls())
}

func TestPreviewLinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repos.Links.SaveDefault(ctx, &model.DefaultLink{Language: "ru", TopicName: "Go", URL: "https://ru.example/go"}))
	ru, _, _ := f.pair(t, "Go")

	previews, err := f.svc.PreviewLinks(ctx, []int64{ru})

	require.NoError(t, err)
	require.Len(t, previews, 2)
	byLang := map[string]linkresolver.Resolution{}
	for _, p := range previews {
		byLang[p.Language] = p.Resolution
	}
	assert.Equal(t, "https://ru.example/go", byLang["ru"].URL)
	assert.Equal(t, linkresolver.SourceTopicDefault, byLang["ru"].Source)
	assert.False(t, byLang["en"].Found())
	assert.Equal(t, "missing fallback for en", byLang["en"].Diagnostic)
	assert.Equal(t, ExitConfig, previews.ExitCode())
}

func TestMergeStats(t *testing.T) {
	f := newFixture(t)
	f.store.AddMiniAppStats(model.MiniAppTaskStatistics{MiniAppUserID: 5, TaskID: 1, Attempts: 2, Successful: true})

	report, err := f.svc.MergeStats(context.Background(), 5, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)

	stats, err := f.repos.Statistics.Get(context.Background(), 42, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Attempts)
	assert.True(t, stats.Successful)

	_, err = f.svc.MergeStats(context.Background(), 0, 42)
	assert.True(t, model.IsKind(err, model.KindValidationFailed))
}

func TestWebhooks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hook := &model.Webhook{URL: "https://hooks.example/in", ServiceName: "site"}
	require.NoError(t, f.svc.AddWebhook(ctx, hook))
	assert.Equal(t, model.WebhookGeneric, hook.WebhookType)

	err := f.svc.AddWebhook(ctx, &model.Webhook{URL: "https://hooks.example/social", ServiceName: "smm", WebhookType: model.WebhookSocialMedia})
	assert.True(t, model.IsKind(err, model.KindValidationFailed))

	require.NoError(t, f.svc.DeactivateWebhook(ctx, hook.ID))
	hooks, err := f.svc.ListWebhooks(ctx)
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.False(t, hooks[0].IsActive)

	assert.Error(t, f.svc.DeactivateWebhook(ctx, uuid.New()))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name   string
		failed bool
		errs   []error
		want   int
	}{
		{name: "успех", want: ExitOK},
		{name: "частичный успех", failed: true, want: ExitPartial},
		{name: "ошибка валидации", errs: []error{model.Errorf(model.KindValidationFailed, "x", "bad")}, want: ExitPartial},
		{name: "нет конфигурации", errs: []error{model.Errorf(model.KindConfigurationMissing, "x", "no link")}, want: ExitConfig},
		{name: "хранилище недоступно", errs: []error{model.Errorf(model.KindStorageUnavailable, "x", "down")}, want: ExitTransport},
		{
			name: "конфигурация важнее транспорта",
			errs: []error{
				model.Errorf(model.KindTelegramUnavailable, "x", "down"),
				model.Errorf(model.KindConfigurationMissing, "x", "no link"),
			},
			want: ExitConfig,
		},
		{name: "nil не считается", errs: []error{nil}, want: ExitOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.failed, tt.errs...))
		})
	}
}

func TestPrinter(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out, false)

	p.Report(model.ProgressEntry{Severity: model.SeveritySuccess, Message: "image uploaded", TaskID: 7})
	p.Report(model.ProgressEntry{Severity: model.SeverityWarning, Message: "button failed", TaskID: 7, Language: "ru"})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		"✅ [task 7] image uploaded",
		"⚠️ [task 7/ru] button failed",
	}, lines)
	assert.Equal(t, 1, p.Count(model.SeverityWarning))
}
