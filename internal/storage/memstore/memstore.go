// Package memstore содержит хранилище в памяти с теми же контрактами, что и Postgres.
// Используется в тестах пакетов публикации, админки и агрегатора.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"codequiz/internal/model"

	"github.com/google/uuid"
)

// Store хранилище в памяти
type Store struct {
	mu sync.Mutex

	nextID int64

	tasks        map[int64]*model.Task
	translations map[int64]*model.TaskTranslation
	topics       map[int64]*model.Topic
	subtopics    map[int64]*model.Subtopic
	groups       map[int64]*model.TelegramGroup
	polls        map[string]*model.TaskPoll
	defaults     map[string]*model.DefaultLink
	fallbacks    map[string]*model.MainFallbackLink
	globals      []model.GlobalLink
	webhooks     []*model.Webhook
	stats        map[[2]int64]*model.TaskStatistics
	miniStats    map[[2]int64]*model.MiniAppTaskStatistics

	// FailOn возвращает ошибку для операции, если задана
	FailOn func(op string) error
	// Now часы для меток времени; по умолчанию time.Now
	Now func() time.Time
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// New создает пустое хранилище
func New() *Store {
	return &Store{
		tasks:        make(map[int64]*model.Task),
		translations: make(map[int64]*model.TaskTranslation),
		topics:       make(map[int64]*model.Topic),
		subtopics:    make(map[int64]*model.Subtopic),
		groups:       make(map[int64]*model.TelegramGroup),
		polls:        make(map[string]*model.TaskPoll),
		defaults:     make(map[string]*model.DefaultLink),
		fallbacks:    make(map[string]*model.MainFallbackLink),
		stats:        make(map[[2]int64]*model.TaskStatistics),
		miniStats:    make(map[[2]int64]*model.MiniAppTaskStatistics),
	}
}

// Repositories возвращает набор репозиториев поверх хранилища
func (s *Store) Repositories() *model.Repositories {
	return &model.Repositories{
		Tasks:      taskRepo{s},
		Topics:     topicRepo{s},
		Groups:     groupRepo{s},
		Polls:      pollRepo{s},
		Links:      linkRepo{s},
		Webhooks:   webhookRepo{s},
		Statistics: statsRepo{s},
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) fail(op string) error {
	if s.FailOn == nil {
		return nil
	}
	return s.FailOn(op)
}

// AddGlobalLink добавляет глобальную ссылку
func (s *Store) AddGlobalLink(name, url string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globals = append(s.globals, model.GlobalLink{ID: s.id(), Name: name, URL: url, IsActive: active})
}

// AddMiniAppStats добавляет строку статистики мини-приложения
func (s *Store) AddMiniAppStats(row model.MiniAppTaskStatistics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.ID = s.id()
	s.miniStats[[2]int64{row.MiniAppUserID, row.TaskID}] = &row
}

// Polls возвращает копию всех опросов
func (s *Store) Polls() []model.TaskPoll {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TaskPoll, 0, len(s.polls))
	for _, p := range s.polls {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Task возвращает копию задачи
func (s *Store) Task(id int64) (model.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return model.Task{}, false
	}
	return *t, true
}

// Stats возвращает количество строк статистики
func (s *Store) Stats() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stats)
}

type taskRepo struct{ s *Store }

func (r taskRepo) GetByID(_ context.Context, id int64) (*model.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("tasks.get"); err != nil {
		return nil, err
	}
	t, ok := r.s.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r taskRepo) ExpandGroups(_ context.Context, ids []int64) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, id := range ids {
		t, ok := r.s.tasks[id]
		if !ok || seen[t.TranslationGroupID] {
			continue
		}
		seen[t.TranslationGroupID] = true
		out = append(out, t.TranslationGroupID)
	}
	return out, nil
}

func (r taskRepo) ListByGroups(_ context.Context, groups []uuid.UUID) ([]model.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(groups))
	for _, g := range groups {
		want[g] = true
	}
	var out []model.Task
	for _, t := range r.s.tasks {
		if want[t.TranslationGroupID] {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r taskRepo) LoadBundle(_ context.Context, id int64) (*model.TaskBundle, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("tasks.load"); err != nil {
		return nil, err
	}
	t, ok := r.s.tasks[id]
	if !ok {
		return nil, nil
	}
	b := &model.TaskBundle{Task: *t}
	if topic, ok := r.s.topics[t.TopicID]; ok {
		b.Topic = *topic
	}
	if t.SubtopicID != nil {
		if sub, ok := r.s.subtopics[*t.SubtopicID]; ok {
			cp := *sub
			b.Subtopic = &cp
		}
	}
	if t.GroupID != nil {
		if g, ok := r.s.groups[*t.GroupID]; ok {
			cp := *g
			b.Group = &cp
		}
	}
	for _, tr := range r.s.translations {
		if tr.TaskID == id {
			b.Translations = append(b.Translations, *tr)
		}
	}
	sort.Slice(b.Translations, func(i, j int) bool { return b.Translations[i].ID < b.Translations[j].ID })
	for _, p := range r.s.polls {
		if p.TaskID == id {
			b.Polls = append(b.Polls, *p)
		}
	}
	sort.Slice(b.Polls, func(i, j int) bool { return b.Polls[i].ID < b.Polls[j].ID })
	return b, nil
}

func (r taskRepo) GetTranslation(_ context.Context, id int64) (*model.TaskTranslation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tr, ok := r.s.translations[id]
	if !ok {
		return nil, nil
	}
	cp := *tr
	return &cp, nil
}

func (r taskRepo) Create(_ context.Context, task *model.Task, translations []model.TaskTranslation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if len(translations) == 0 {
		return model.Errorf(model.KindValidationFailed, "create task", "task must have at least one translation")
	}
	task.ID = r.s.id()
	if task.CreateDate.IsZero() {
		task.CreateDate = time.Now().UTC()
	}
	if task.VideoURLs == nil {
		task.VideoURLs = model.LangURLMap{}
	}
	if task.VideoGenerationProgress == nil {
		task.VideoGenerationProgress = model.LangFlagMap{}
	}
	cp := *task
	r.s.tasks[task.ID] = &cp
	for i := range translations {
		translations[i].ID = r.s.id()
		translations[i].TaskID = task.ID
		tr := translations[i]
		r.s.translations[tr.ID] = &tr
	}
	return nil
}

func (r taskRepo) update(id int64, op string, fn func(t *model.Task)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail(op); err != nil {
		return err
	}
	t, ok := r.s.tasks[id]
	if !ok {
		return fmt.Errorf("task %d: %w", id, model.ErrNotFound)
	}
	fn(t)
	return nil
}

func (r taskRepo) SetImageURL(_ context.Context, id int64, url string) error {
	return r.update(id, "tasks.set_image", func(t *model.Task) { t.ImageURL = url })
}

func (r taskRepo) MarkPublished(_ context.Context, id int64, pub model.Publication) (bool, error) {
	applied := false
	err := r.update(id, "tasks.mark_published", func(t *model.Task) {
		if t.Published {
			return
		}
		date := pub.PublishDate
		msg := pub.MessageID
		group := pub.GroupID
		t.Published = true
		t.PublishDate = &date
		t.MessageID = &msg
		t.GroupID = &group
		t.Error = pub.Error
		t.PublishingStartedAt = nil
		for _, tr := range r.s.translations {
			if tr.TaskID == id && (len(pub.Languages) == 0 || slices.Contains(pub.Languages, tr.Language)) {
				d := date
				tr.PublishDate = &d
			}
		}
		applied = true
	})
	return applied, err
}

func (r taskRepo) ClaimPublication(_ context.Context, id int64, now time.Time, lease time.Duration) (bool, error) {
	claimed := false
	err := r.update(id, "tasks.claim", func(t *model.Task) {
		if t.Published {
			return
		}
		if t.PublishingStartedAt != nil && !t.PublishingStartedAt.Before(now.Add(-lease)) {
			return
		}
		at := now
		t.PublishingStartedAt = &at
		claimed = true
	})
	return claimed, err
}

func (r taskRepo) MarkError(_ context.Context, id int64) error {
	return r.update(id, "tasks.mark_error", func(t *model.Task) {
		now := r.s.now()
		t.Error = true
		t.ErrorDate = &now
		t.PublishingStartedAt = nil
	})
}

func (r taskRepo) ClearErrorGroup(_ context.Context, group uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, t := range r.s.tasks {
		if t.TranslationGroupID == group && t.Error {
			t.Error = false
			t.ErrorDate = nil
			n++
		}
	}
	return n, nil
}

func (r taskRepo) SetVideoProgress(_ context.Context, id int64, lang string, done bool) error {
	return r.update(id, "tasks.video_progress", func(t *model.Task) {
		if t.VideoGenerationProgress == nil {
			t.VideoGenerationProgress = model.LangFlagMap{}
		}
		t.VideoGenerationProgress[lang] = done
	})
}

func (r taskRepo) SetVideoURL(_ context.Context, id int64, lang, url string) error {
	return r.update(id, "tasks.video_url", func(t *model.Task) {
		if t.VideoURLs == nil {
			t.VideoURLs = model.LangURLMap{}
		}
		if t.VideoGenerationProgress == nil {
			t.VideoGenerationProgress = model.LangFlagMap{}
		}
		t.VideoURLs[lang] = url
		t.VideoGenerationProgress[lang] = true
		if t.VideoURL == "" {
			t.VideoURL = url
		}
	})
}

func (r taskRepo) DeleteGroup(_ context.Context, group uuid.UUID) (*model.GroupDeletion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("tasks.delete_group"); err != nil {
		return nil, err
	}
	res := &model.GroupDeletion{}
	ids := make(map[int64]bool)
	for id, t := range r.s.tasks {
		if t.TranslationGroupID == group {
			ids[id] = true
			res.Tasks = append(res.Tasks, *t)
		}
	}
	sort.Slice(res.Tasks, func(i, j int) bool { return res.Tasks[i].ID < res.Tasks[j].ID })

	for pid, p := range r.s.polls {
		if ids[p.TaskID] {
			res.Polls = append(res.Polls, *p)
			delete(r.s.polls, pid)
		}
	}
	sort.Slice(res.Polls, func(i, j int) bool { return res.Polls[i].ID < res.Polls[j].ID })

	for key := range r.s.stats {
		if ids[key[1]] {
			delete(r.s.stats, key)
			res.Statistics++
		}
	}
	for key := range r.s.miniStats {
		if ids[key[1]] {
			delete(r.s.miniStats, key)
			res.Statistics++
		}
	}
	for trID, tr := range r.s.translations {
		if ids[tr.TaskID] {
			delete(r.s.translations, trID)
			res.Translations++
		}
	}
	for id := range ids {
		delete(r.s.tasks, id)
	}
	for _, t := range res.Tasks {
		if t.ImageURL == "" || slices.Contains(res.SharedImages, t.ImageURL) {
			continue
		}
		for _, other := range r.s.tasks {
			if other.ImageURL == t.ImageURL {
				res.SharedImages = append(res.SharedImages, t.ImageURL)
				break
			}
		}
	}
	return res, nil
}

func (r taskRepo) ListUnpublishedGroups(_ context.Context, limit int, retryAfter time.Duration) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cutoff := r.s.now().Add(-retryAfter)
	oldest := make(map[uuid.UUID]time.Time)
	for _, t := range r.s.tasks {
		if t.Published {
			continue
		}
		if t.Error && (retryAfter <= 0 || t.ErrorDate == nil || !t.ErrorDate.Before(cutoff)) {
			continue
		}
		if cur, ok := oldest[t.TranslationGroupID]; !ok || t.CreateDate.Before(cur) {
			oldest[t.TranslationGroupID] = t.CreateDate
		}
	}
	out := make([]uuid.UUID, 0, len(oldest))
	for g := range oldest {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if oldest[out[i]].Equal(oldest[out[j]]) {
			return out[i].String() < out[j].String()
		}
		return oldest[out[i]].Before(oldest[out[j]])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type topicRepo struct{ s *Store }

func (r topicRepo) GetByID(_ context.Context, id int64) (*model.Topic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.topics[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r topicRepo) GetOrCreate(_ context.Context, name string) (*model.Topic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.Errorf(model.KindValidationFailed, "get or create topic", "topic name is empty")
	}
	for _, t := range r.s.topics {
		if t.Name == name {
			cp := *t
			return &cp, nil
		}
	}
	t := &model.Topic{ID: r.s.id(), Name: name}
	r.s.topics[t.ID] = t
	cp := *t
	return &cp, nil
}

func (r topicRepo) GetSubtopic(_ context.Context, id int64) (*model.Subtopic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subtopics[id]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (r topicRepo) GetOrCreateSubtopic(_ context.Context, topicID int64, name string) (*model.Subtopic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.Errorf(model.KindValidationFailed, "get or create subtopic", "subtopic name is empty")
	}
	for _, sub := range r.s.subtopics {
		if sub.TopicID == topicID && sub.Name == name {
			cp := *sub
			return &cp, nil
		}
	}
	sub := &model.Subtopic{ID: r.s.id(), TopicID: topicID, Name: name}
	r.s.subtopics[sub.ID] = sub
	cp := *sub
	return &cp, nil
}

type groupRepo struct{ s *Store }

func (r groupRepo) GetByID(_ context.Context, id int64) (*model.TelegramGroup, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.groups[id]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (r groupRepo) FindPublicationTarget(_ context.Context, topicID int64, lang string) (*model.TelegramGroup, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best *model.TelegramGroup
	for _, g := range r.s.groups {
		if g.TopicID != topicID || g.Language != lang || !g.IsTelegram() {
			continue
		}
		if best == nil || g.ID < best.ID {
			best = g
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r groupRepo) Create(_ context.Context, group *model.TelegramGroup) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	group.ID = r.s.id()
	if group.LocationType == "" {
		group.LocationType = model.LocationChannel
	}
	cp := *group
	r.s.groups[group.ID] = &cp
	return nil
}

type pollRepo struct{ s *Store }

func (r pollRepo) Create(_ context.Context, poll *model.TaskPoll) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("polls.create"); err != nil {
		return err
	}
	if _, exists := r.s.polls[poll.PollID]; exists {
		return fmt.Errorf("duplicate poll_id %s", poll.PollID)
	}
	poll.ID = r.s.id()
	cp := *poll
	r.s.polls[poll.PollID] = &cp
	return nil
}

func (r pollRepo) GetByPollID(_ context.Context, pollID string) (*model.TaskPoll, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.polls[pollID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r pollRepo) ListByTask(_ context.Context, taskID int64) ([]model.TaskPoll, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.TaskPoll
	for _, p := range r.s.polls {
		if p.TaskID == taskID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r pollRepo) IncrementVoters(_ context.Context, pollID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.polls[pollID]; ok {
		p.TotalVoterCount++
	}
	return nil
}

func (r pollRepo) SetButtonMessage(_ context.Context, pollID string, messageID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("polls.set_button"); err != nil {
		return err
	}
	if p, ok := r.s.polls[pollID]; ok {
		p.ButtonMessageID = messageID
	}
	return nil
}

type linkRepo struct{ s *Store }

func defaultKey(lang, topic string) string { return lang + "\x00" + topic }

func (r linkRepo) GetDefault(_ context.Context, lang, topicName string) (*model.DefaultLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.defaults[defaultKey(lang, topicName)]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (r linkRepo) GetMainFallback(_ context.Context, lang string) (*model.MainFallbackLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.fallbacks[lang]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (r linkRepo) ListActiveGlobal(_ context.Context) ([]model.GlobalLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.GlobalLink
	for _, l := range r.s.globals {
		if l.IsActive {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r linkRepo) SaveDefault(_ context.Context, link *model.DefaultLink) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := defaultKey(link.Language, link.TopicName)
	if existing, ok := r.s.defaults[key]; ok {
		link.ID = existing.ID
	} else {
		link.ID = r.s.id()
	}
	cp := *link
	r.s.defaults[key] = &cp
	return nil
}

func (r linkRepo) SaveMainFallback(_ context.Context, link *model.MainFallbackLink) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.fallbacks[link.Language]; ok {
		link.ID = existing.ID
	} else {
		link.ID = r.s.id()
	}
	cp := *link
	r.s.fallbacks[link.Language] = &cp
	return nil
}

type webhookRepo struct{ s *Store }

func (r webhookRepo) List(_ context.Context) ([]model.Webhook, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.Webhook, 0, len(r.s.webhooks))
	for _, w := range r.s.webhooks {
		out = append(out, *w)
	}
	return out, nil
}

func (r webhookRepo) ListActive(_ context.Context) ([]model.Webhook, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Webhook
	for _, w := range r.s.webhooks {
		if w.IsActive {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (r webhookRepo) Create(_ context.Context, webhook *model.Webhook) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.webhooks {
		if w.URL == webhook.URL {
			return fmt.Errorf("webhook url %s already exists", webhook.URL)
		}
	}
	if webhook.ID == uuid.Nil {
		webhook.ID = uuid.New()
	}
	if webhook.CreatedAt.IsZero() {
		webhook.CreatedAt = time.Now().UTC()
	}
	cp := *webhook
	r.s.webhooks = append(r.s.webhooks, &cp)
	return nil
}

func (r webhookRepo) Deactivate(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.webhooks {
		if w.ID == id {
			w.IsActive = false
			return nil
		}
	}
	return fmt.Errorf("webhook %s: %w", id, model.ErrNotFound)
}

type statsRepo struct{ s *Store }

func (r statsRepo) RecordAttempt(_ context.Context, a model.Attempt) (*model.TaskStatistics, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("stats.record"); err != nil {
		return nil, err
	}
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	key := [2]int64{a.UserID, a.TaskID}
	st, ok := r.s.stats[key]
	if !ok {
		st = &model.TaskStatistics{ID: r.s.id(), UserID: a.UserID, TaskID: a.TaskID}
		r.s.stats[key] = st
	}
	st.Apply(a)
	cp := *st
	return &cp, nil
}

func (r statsRepo) Get(_ context.Context, userID, taskID int64) (*model.TaskStatistics, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.stats[[2]int64{userID, taskID}]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (r statsRepo) MergeMiniAppStats(_ context.Context, miniAppUserID, userID int64) (*model.MergeReport, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	report := &model.MergeReport{}
	for key, row := range r.s.miniStats {
		if key[0] != miniAppUserID {
			continue
		}
		target := [2]int64{userID, row.TaskID}
		st, ok := r.s.stats[target]
		if ok {
			report.Merged++
		} else {
			st = &model.TaskStatistics{ID: r.s.id(), UserID: userID, TaskID: row.TaskID}
			r.s.stats[target] = st
			report.Created++
		}
		st.Merge(row)
		delete(r.s.miniStats, key)
	}
	return report, nil
}
