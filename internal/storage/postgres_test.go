package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"codequiz/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func startPostgres(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	cont, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "quiz",
				"POSTGRES_PASSWORD": "quiz",
				"POSTGRES_DB":       "quiz",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cont.Terminate(ctx) })

	host, err := cont.Host(ctx)
	require.NoError(t, err)
	port, err := cont.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://quiz:quiz@%s:%s/quiz?sslmode=disable", host, port.Port())
	pg, err := NewPostgres(ctx, dsn, ConnectOptions{MaxRetries: 5, RetryDelay: time.Second}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })

	require.NoError(t, pg.EnsureSchema(ctx))
	// повторный вызов не должен падать
	require.NoError(t, pg.EnsureSchema(ctx))
	return pg
}

func TestPostgresRepositories(t *testing.T) {
	pg := startPostgres(t)
	repos := pg.Repositories()
	ctx := context.Background()

	topic, err := repos.Topics.GetOrCreate(ctx, "Python")
	require.NoError(t, err)
	again, err := repos.Topics.GetOrCreate(ctx, "Python")
	require.NoError(t, err)
	assert.Equal(t, topic.ID, again.ID)

	first := &model.TelegramGroup{GroupID: -1001, GroupName: "ru-1", Language: "ru", TopicID: topic.ID, LocationType: model.LocationChannel}
	second := &model.TelegramGroup{GroupID: -1002, GroupName: "ru-2", Language: "ru", TopicID: topic.ID, LocationType: model.LocationChannel}
	require.NoError(t, repos.Groups.Create(ctx, first))
	require.NoError(t, repos.Groups.Create(ctx, second))

	target, err := repos.Groups.FindPublicationTarget(ctx, topic.ID, "ru")
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, first.ID, target.ID)

	gid := uuid.New()
	task := &model.Task{TranslationGroupID: gid, TopicID: topic.ID, Difficulty: model.DifficultyEasy, ImageURL: "https://cdn/x.png"}
	translations := []model.TaskTranslation{{
		Language:      "ru",
		Question:      "```python\nprint(1)\n```",
		Answers:       model.StringList{"1", "2", "3"},
		CorrectAnswer: "1",
	}}
	require.NoError(t, repos.Tasks.Create(ctx, task, translations))
	require.NotZero(t, task.ID)
	require.NotZero(t, translations[0].ID)

	groups, err := repos.Tasks.ExpandGroups(ctx, []int64{task.ID, task.ID})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{gid}, groups)

	unpublished, err := repos.Tasks.ListUnpublishedGroups(ctx, 10, 0)
	require.NoError(t, err)
	assert.Contains(t, unpublished, gid)

	require.NoError(t, repos.Tasks.SetVideoProgress(ctx, task.ID, "ru", false))
	require.NoError(t, repos.Tasks.SetVideoURL(ctx, task.ID, "ru", "https://cdn/v.mp4"))

	now := time.Now().UTC().Truncate(time.Second)
	applied, err := repos.Tasks.MarkPublished(ctx, task.ID, model.Publication{PublishDate: now, MessageID: 100, GroupID: first.ID})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repos.Tasks.MarkPublished(ctx, task.ID, model.Publication{PublishDate: now, MessageID: 200, GroupID: second.ID})
	require.NoError(t, err)
	assert.False(t, applied)

	bundle, err := repos.Tasks.LoadBundle(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, bundle)
	assert.True(t, bundle.Task.Published)
	assert.Equal(t, int64(100), *bundle.Task.MessageID)
	assert.Equal(t, "https://cdn/v.mp4", bundle.Task.VideoURLs["ru"])
	assert.True(t, bundle.Task.VideoGenerationProgress["ru"])
	assert.Equal(t, "Python", bundle.Topic.Name)
	require.NotNil(t, bundle.Group)
	assert.Equal(t, first.ID, bundle.Group.ID)
	assert.Equal(t, model.StringList{"1", "2", "3"}, bundle.Translations[0].Answers)

	poll := &model.TaskPoll{
		TaskID: task.ID, TranslationID: translations[0].ID, PollID: "poll-1",
		PollQuestion: "q", PollOptions: model.StringList{"2", "1", "3", "x"}, CorrectOptionID: 1,
		IsAnonymous: true, PollType: model.PollTypeQuiz, ChatID: -1001, MessageID: 102,
	}
	require.NoError(t, repos.Polls.Create(ctx, poll))
	require.NoError(t, repos.Polls.IncrementVoters(ctx, "poll-1"))
	require.NoError(t, repos.Polls.SetButtonMessage(ctx, "poll-1", 103))
	stored, err := repos.Polls.GetByPollID(ctx, "poll-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.TotalVoterCount)
	assert.Equal(t, int64(103), stored.ButtonMessageID)

	_, err = repos.Statistics.RecordAttempt(ctx, model.Attempt{UserID: 7, TaskID: task.ID, Correct: true, At: now})
	require.NoError(t, err)
	st, err := repos.Statistics.RecordAttempt(ctx, model.Attempt{UserID: 7, TaskID: task.ID, Correct: false, At: now.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 2, st.Attempts)
	assert.True(t, st.Successful)

	require.NoError(t, repos.Tasks.MarkError(ctx, task.ID))
	cleared, err := repos.Tasks.ClearErrorGroup(ctx, gid)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	deletion, err := repos.Tasks.DeleteGroup(ctx, gid)
	require.NoError(t, err)
	assert.Len(t, deletion.Tasks, 1)
	assert.Len(t, deletion.Polls, 1)
	assert.Equal(t, 1, deletion.Translations)
	assert.Equal(t, 1, deletion.Statistics)

	gone, err := repos.Tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestPostgresMergeMiniAppStats(t *testing.T) {
	pg := startPostgres(t)
	repos := pg.Repositories()
	ctx := context.Background()

	topic, err := repos.Topics.GetOrCreate(ctx, "Go")
	require.NoError(t, err)
	task := &model.Task{TranslationGroupID: uuid.New(), TopicID: topic.ID, Difficulty: model.DifficultyHard}
	require.NoError(t, repos.Tasks.Create(ctx, task, []model.TaskTranslation{{
		Language: "en", Question: "q", Answers: model.StringList{"a", "b"}, CorrectAnswer: "a",
	}}))

	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = repos.Statistics.RecordAttempt(ctx, model.Attempt{UserID: 1, TaskID: task.ID, Correct: false, At: early})
	require.NoError(t, err)

	_, err = pg.GetDB().NewInsert().Model(&model.MiniAppTaskStatistics{
		MiniAppUserID: 99, TaskID: task.ID, Attempts: 3, Successful: true, LastAttemptDate: early.Add(time.Hour),
	}).Exec(ctx)
	require.NoError(t, err)

	report, err := repos.Statistics.MergeMiniAppStats(ctx, 99, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Merged)
	assert.Equal(t, 0, report.Created)

	st, err := repos.Statistics.Get(ctx, 1, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Attempts)
	assert.True(t, st.Successful)
	assert.True(t, st.LastAttemptDate.Equal(early.Add(time.Hour)))
}

func TestPostgresClaimAndRetry(t *testing.T) {
	pg := startPostgres(t)
	repos := pg.Repositories()
	ctx := context.Background()

	topic, err := repos.Topics.GetOrCreate(ctx, "Go")
	require.NoError(t, err)
	gid := uuid.New()
	task := &model.Task{TranslationGroupID: gid, TopicID: topic.ID, Difficulty: model.DifficultyEasy}
	require.NoError(t, repos.Tasks.Create(ctx, task, []model.TaskTranslation{{
		Language: "en", Question: "q", Answers: model.StringList{"a", "b"}, CorrectAnswer: "a",
	}}))

	now := time.Now().UTC()
	claimed, err := repos.Tasks.ClaimPublication(ctx, task.ID, now, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repos.Tasks.ClaimPublication(ctx, task.ID, now.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "захват другого запуска еще действует")

	claimed, err = repos.Tasks.ClaimPublication(ctx, task.ID, now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "устаревший захват перехватывается")

	require.NoError(t, repos.Tasks.MarkError(ctx, task.ID))
	stored, err := repos.Tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.PublishingStartedAt)
	require.NotNil(t, stored.ErrorDate)

	groups, err := repos.Tasks.ListUnpublishedGroups(ctx, 10, 0)
	require.NoError(t, err)
	assert.NotContains(t, groups, gid)

	groups, err = repos.Tasks.ListUnpublishedGroups(ctx, 10, time.Hour)
	require.NoError(t, err)
	assert.NotContains(t, groups, gid, "ошибка моложе интервала повтора")

	_, err = pg.GetDB().NewUpdate().Model((*model.Task)(nil)).
		Set("error_date = ?", now.Add(-2*time.Hour)).
		Where("id = ?", task.ID).
		Exec(ctx)
	require.NoError(t, err)
	groups, err = repos.Tasks.ListUnpublishedGroups(ctx, 10, time.Hour)
	require.NoError(t, err)
	assert.Contains(t, groups, gid)
}

func TestPostgresDeleteGroupSharedImages(t *testing.T) {
	pg := startPostgres(t)
	repos := pg.Repositories()
	ctx := context.Background()

	topic, err := repos.Topics.GetOrCreate(ctx, "Go")
	require.NoError(t, err)
	create := func(gid uuid.UUID, image string) {
		task := &model.Task{TranslationGroupID: gid, TopicID: topic.ID, Difficulty: model.DifficultyEasy}
		require.NoError(t, repos.Tasks.Create(ctx, task, []model.TaskTranslation{{
			Language: "en", Question: "q", Answers: model.StringList{"a", "b"}, CorrectAnswer: "a",
		}}))
		require.NoError(t, repos.Tasks.SetImageURL(ctx, task.ID, image))
	}
	first, second := uuid.New(), uuid.New()
	create(first, "https://cdn/shared.png")
	create(first, "https://cdn/own.png")
	create(second, "https://cdn/shared.png")

	deletion, err := repos.Tasks.DeleteGroup(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn/shared.png"}, deletion.SharedImages)

	deletion, err = repos.Tasks.DeleteGroup(ctx, second)
	require.NoError(t, err)
	assert.Empty(t, deletion.SharedImages)
}
