package cleanup

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"codequiz/internal/external/telegram/telegramtest"
	"codequiz/internal/model"
	"codequiz/internal/storage/memstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeObjects struct {
	mu      sync.Mutex
	deleted []string
	fail    map[string]error
}

func (o *fakeObjects) Delete(_ context.Context, rawURL string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.fail[rawURL]; err != nil {
		return false, err
	}
	o.deleted = append(o.deleted, rawURL)
	return true, nil
}

type fixture struct {
	store   *memstore.Store
	repos   *model.Repositories
	tg      *telegramtest.Fake
	objects *fakeObjects
	svc     *Service
	groups  map[string]*model.TelegramGroup
}

func newFixture(t *testing.T, window Window) *fixture {
	t.Helper()
	store := memstore.New()
	repos := store.Repositories()
	groups := make(map[string]*model.TelegramGroup)
	for lang, chat := range map[string]int64{"ru": -1001, "en": -1002} {
		g := &model.TelegramGroup{GroupID: chat, GroupName: "python " + lang, Language: lang, TopicID: 1}
		require.NoError(t, repos.Groups.Create(context.Background(), g))
		groups[lang] = g
	}

	f := &fixture{
		store:   store,
		repos:   repos,
		tg:      telegramtest.New(),
		objects: &fakeObjects{fail: make(map[string]error)},
		groups:  groups,
	}
	f.svc = New(repos.Tasks, repos.Groups, f.objects, f.tg, window, zap.NewNop())
	return f
}

// addTask создает задачу с переводами; anchor > 0 отмечает ее опубликованной в ru
func (f *fixture) addTask(t *testing.T, gid uuid.UUID, imageURL string, anchor int64, langs ...string) int64 {
	t.Helper()
	ctx := context.Background()
	if len(langs) == 0 {
		langs = []string{"ru"}
	}
	var translations []model.TaskTranslation
	for _, lang := range langs {
		translations = append(translations, model.TaskTranslation{
			Language: lang, Question: "q", Answers: model.StringList{"1", "2"}, CorrectAnswer: "1",
		})
	}
	task := &model.Task{TranslationGroupID: gid, TopicID: 1, Difficulty: model.DifficultyEasy}
	require.NoError(t, f.repos.Tasks.Create(ctx, task, translations))
	require.NoError(t, f.repos.Tasks.SetImageURL(ctx, task.ID, imageURL))
	if anchor > 0 {
		_, err := f.repos.Tasks.MarkPublished(ctx, task.ID, model.Publication{
			PublishDate: time.Now(),
			MessageID:   anchor,
			GroupID:     f.groups["ru"].ID,
		})
		require.NoError(t, err)
	}
	return task.ID
}

// addPoll сохраняет опрос языка с серией photo..photo+3
func (f *fixture) addPoll(t *testing.T, taskID int64, lang string, photo int64) {
	t.Helper()
	ctx := context.Background()
	bundle, err := f.repos.Tasks.LoadBundle(ctx, taskID)
	require.NoError(t, err)
	tr := bundle.TranslationFor(lang)
	require.NotNil(t, tr)
	require.NoError(t, f.repos.Polls.Create(ctx, &model.TaskPoll{
		TaskID:           taskID,
		TranslationID:    tr.ID,
		PollID:           fmt.Sprintf("poll-%d-%s", taskID, lang),
		PollQuestion:     "q",
		PollOptions:      model.StringList{"1", "2", "не знаю"},
		ChatID:           f.groups[lang].GroupID,
		PhotoMessageID:   photo,
		DetailsMessageID: photo + 1,
		MessageID:        photo + 2,
		ButtonMessageID:  photo + 3,
	}))
}

func TestWindow_Offsets(t *testing.T) {
	assert.Equal(t, []int64{-2, -1, 0, 1}, DefaultWindow().Offsets())
	assert.Equal(t, []int64{0, 1, 2, 3}, Window{Before: 0, After: 3}.Offsets())
	assert.Empty(t, Window{Before: -1, After: -1}.Offsets())
}

func TestConsecutive(t *testing.T) {
	tests := []struct {
		name string
		ids  []int64
		want bool
	}{
		{name: "полная серия", ids: []int64{5, 6, 7, 8}, want: true},
		{name: "нет кнопки", ids: []int64{5, 6, 7}, want: false},
		{name: "чужое сообщение внутри", ids: []int64{5, 6, 8, 9}, want: false},
		{name: "пусто", ids: nil, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, consecutive(tt.ids, 4))
		})
	}
}

// Три строки группы, картинки {u1, u1, u2}, две опубликованы
func TestDeleteTaskGroup_Cascade(t *testing.T) {
	f := newFixture(t, DefaultWindow())
	gid := uuid.New()
	first := f.addTask(t, gid, "https://cdn.example/u1.png", 105)
	f.addPoll(t, first, "ru", 105)
	f.addTask(t, gid, "https://cdn.example/u1.png", 0)
	third := f.addTask(t, gid, "https://cdn.example/u2.png", 210)
	f.addPoll(t, third, "ru", 210)
	other := f.addTask(t, uuid.New(), "https://cdn.example/u3.png", 0)

	f.tg.Missing[106] = true
	f.objects.fail["https://cdn.example/u2.png"] = model.Errorf(model.KindStorageUnavailable, "delete object", "timeout")

	report, err := f.svc.DeleteTaskGroup(context.Background(), gid, nil)

	require.NoError(t, err)
	assert.Equal(t, gid, report.TranslationGroupID)
	assert.Equal(t, 3, report.TasksDeleted)
	assert.Equal(t, 3, report.TranslationsDeleted)
	assert.Equal(t, 2, report.PollsDeleted)

	assert.Equal(t, 2, report.ImagesAttempted)
	assert.Equal(t, 1, report.ImagesDeleted)
	assert.Equal(t, []string{"https://cdn.example/u1.png"}, f.objects.deleted)

	assert.Equal(t, 8, report.TelegramAttempted)
	assert.Equal(t, 7, report.TelegramDeleted)
	assert.Equal(t, 1, report.TelegramSoftFailed)
	assert.Equal(t, 0, report.TelegramFailed)
	assert.Equal(t, []int64{105, 107, 108, 210, 211, 212, 213}, f.tg.Deleted(f.groups["ru"].GroupID))
	assert.Empty(t, report.Deviations)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "u2.png")

	_, exists := f.store.Task(other)
	assert.True(t, exists, "другие группы не затрагиваются")
}

// Каждый язык задачи удаляется в своем канале
func TestDeleteTaskGroup_EveryLanguage(t *testing.T) {
	f := newFixture(t, DefaultWindow())
	gid := uuid.New()
	id := f.addTask(t, gid, "", 101, "ru", "en")
	f.addPoll(t, id, "ru", 101)
	f.addPoll(t, id, "en", 41)

	report, err := f.svc.DeleteTaskGroup(context.Background(), gid, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, report.PollsDeleted)
	assert.Equal(t, 8, report.TelegramDeleted)
	assert.Equal(t, []int64{101, 102, 103, 104}, f.tg.Deleted(f.groups["ru"].GroupID))
	assert.Equal(t, []int64{41, 42, 43, 44}, f.tg.Deleted(f.groups["en"].GroupID))
	assert.Empty(t, report.Deviations)
}

func TestDeleteTaskGroup_Deviations(t *testing.T) {
	tests := []struct {
		name      string
		poll      *model.TaskPoll
		anchor    int64
		deleted   []int64
		deviation string
	}{
		{
			name:      "опрос без сохраненной серии",
			poll:      &model.TaskPoll{PollID: "legacy", MessageID: 52},
			anchor:    50,
			deleted:   []int64{50, 51, 52, 53},
			deviation: "no stored compound",
		},
		{
			name: "чужое сообщение внутри серии",
			poll: &model.TaskPoll{
				PollID: "interleaved", PhotoMessageID: 10, DetailsMessageID: 11, MessageID: 14, ButtonMessageID: 15,
			},
			anchor:    10,
			deleted:   []int64{10, 11, 14, 15},
			deviation: "interleaved",
		},
		{
			name:      "якорь без опроса",
			anchor:    70,
			deleted:   []int64{70},
			deviation: "has no poll record",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultWindow())
			gid := uuid.New()
			id := f.addTask(t, gid, "", tt.anchor)
			if tt.poll != nil {
				bundle, err := f.repos.Tasks.LoadBundle(context.Background(), id)
				require.NoError(t, err)
				tt.poll.TaskID = id
				tt.poll.TranslationID = bundle.Translations[0].ID
				tt.poll.PollQuestion = "q"
				tt.poll.PollOptions = model.StringList{"1", "2", "не знаю"}
				tt.poll.ChatID = f.groups["ru"].GroupID
				require.NoError(t, f.repos.Polls.Create(context.Background(), tt.poll))
			}

			report, err := f.svc.DeleteTaskGroup(context.Background(), gid, nil)

			require.NoError(t, err)
			assert.Equal(t, tt.deleted, f.tg.Deleted(f.groups["ru"].GroupID))
			require.Len(t, report.Deviations, 1)
			assert.Contains(t, report.Deviations[0], tt.deviation)
			assert.Empty(t, f.store.Polls())
		})
	}
}

// Картинка с тем же содержимым у другой группы не удаляется
func TestDeleteTaskGroup_SharedImage(t *testing.T) {
	f := newFixture(t, DefaultWindow())
	first, second := uuid.New(), uuid.New()
	f.addTask(t, first, "https://cdn.example/shared.png", 0)
	f.addTask(t, first, "https://cdn.example/own.png", 0)
	f.addTask(t, second, "https://cdn.example/shared.png", 0)
	ctx := context.Background()

	report, err := f.svc.DeleteTaskGroup(ctx, first, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, report.ImagesShared)
	assert.Equal(t, 1, report.ImagesAttempted)
	assert.Equal(t, []string{"https://cdn.example/own.png"}, f.objects.deleted)

	report, err = f.svc.DeleteTaskGroup(ctx, second, nil)

	require.NoError(t, err)
	assert.Equal(t, 0, report.ImagesShared)
	assert.Equal(t, []string{"https://cdn.example/own.png", "https://cdn.example/shared.png"}, f.objects.deleted)
}

func TestDeleteTaskGroup_TelegramErrors(t *testing.T) {
	f := newFixture(t, DefaultWindow())
	gid := uuid.New()
	id := f.addTask(t, gid, "", 10)
	f.addPoll(t, id, "ru", 10)
	f.tg.FailOn = func(method string, _ int64) error {
		if method == "deleteMessage" {
			return model.Errorf(model.KindTelegramRateLimited, "deleteMessage", "Too Many Requests")
		}
		return nil
	}

	report, err := f.svc.DeleteTaskGroup(context.Background(), gid, nil)

	require.NoError(t, err)
	assert.Equal(t, 0, report.ImagesAttempted)
	assert.Equal(t, 4, report.TelegramAttempted)
	assert.Equal(t, 4, report.TelegramFailed)
	assert.Len(t, report.Errors, 4)
}
func TestDeleteTaskGroup_Videos(t *testing.T) {
	f := newFixture(t, DefaultWindow())
	gid := uuid.New()
	id := f.addTask(t, gid, "https://cdn.example/u1.png", 0)
	ctx := context.Background()
	require.NoError(t, f.repos.Tasks.SetVideoURL(ctx, id, "ru", "https://cdn.example/videos/ru.mp4"))
	require.NoError(t, f.repos.Tasks.SetVideoURL(ctx, id, "en", "https://cdn.example/videos/en.mp4"))

	report, err := f.svc.DeleteTaskGroup(ctx, gid, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, report.VideosAttempted)
	assert.Equal(t, 2, report.VideosDeleted)
	assert.Equal(t, 0, report.TelegramAttempted)
}

func TestDeleteTaskGroup_NotFound(t *testing.T) {
	f := newFixture(t, DefaultWindow())

	report, err := f.svc.DeleteTaskGroup(context.Background(), uuid.New(), nil)

	require.NoError(t, err)
	assert.Equal(t, 0, report.TasksDeleted)
	assert.Empty(t, f.tg.Calls())
}

func TestDeleteGroups_DatabaseError(t *testing.T) {
	f := newFixture(t, DefaultWindow())
	first, second := uuid.New(), uuid.New()
	f.addTask(t, first, "https://cdn.example/u1.png", 0)
	f.addTask(t, second, "https://cdn.example/u2.png", 0)

	calls := 0
	f.store.FailOn = func(op string) error {
		if op != "tasks.delete_group" {
			return nil
		}
		calls++
		if calls == 2 {
			return model.Errorf(model.KindDatabaseUnavailable, "delete group", "connection reset")
		}
		return nil
	}

	report, err := f.svc.DeleteGroups(context.Background(), []uuid.UUID{first, second}, nil)

	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindDatabaseUnavailable))
	assert.Equal(t, 1, report.TasksDeleted)
	assert.Equal(t, 1, report.ImagesDeleted)
	assert.Len(t, report.Errors, 1)
}
