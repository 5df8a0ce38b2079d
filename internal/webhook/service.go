package webhook

import (
	"context"
	"fmt"
	"slices"

	"codequiz/internal/model"

	"go.uber.org/zap"
)

// Filter выбирает получателей и форму payload
type Filter struct {
	// Types типы вебхуков; пустой список означает все типы
	Types []model.WebhookType
	// Bulk отправляет generic-получателям один quiz_published_bulk вместо
	// quiz_published_full на каждую задачу
	Bulk         bool
	IncludeVideo bool
}

func (f Filter) allows(t model.WebhookType) bool {
	return len(f.Types) == 0 || slices.Contains(f.Types, t)
}

// Service рассылает задачи по активным вебхукам из хранилища
type Service struct {
	webhooks   model.WebhookRepository
	links      model.LinkRepository
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewService создает сервис рассылки
func NewService(webhooks model.WebhookRepository, links model.LinkRepository, dispatcher *Dispatcher, logger *zap.Logger) *Service {
	return &Service{
		webhooks:   webhooks,
		links:      links,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// ActiveTypes возвращает число активных вебхуков по типам
func (s *Service) ActiveTypes(ctx context.Context) (map[model.WebhookType]int, error) {
	hooks, err := s.webhooks.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active webhooks: %w", err)
	}
	out := make(map[model.WebhookType]int)
	for _, h := range hooks {
		out[h.WebhookType]++
	}
	return out, nil
}

// Send рассылает задачи активным вебхукам, подходящим под фильтр.
// Пустой план не является ошибкой и возвращает пустой итог.
func (s *Service) Send(ctx context.Context, bundles []*model.TaskBundle, filter Filter) (*Summary, error) {
	hooks, err := s.webhooks.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active webhooks: %w", err)
	}
	globals, err := s.links.ListActiveGlobal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list global links: %w", err)
	}

	plan := Plan(hooks, bundles, globals, filter)
	if len(plan) == 0 {
		s.logger.Info("No webhook destinations for dispatch", zap.Int("tasks", len(bundles)))
		return &Summary{}, nil
	}
	return s.dispatcher.Dispatch(ctx, plan), nil
}

// Plan раскладывает задачи по получателям
func Plan(hooks []model.Webhook, bundles []*model.TaskBundle, globals []model.GlobalLink, filter Filter) []Destination {
	var plan []Destination
	for _, hook := range hooks {
		if !hook.IsActive || !filter.allows(hook.WebhookType) {
			continue
		}

		var items []Item
		switch {
		case hook.WebhookType.IsLanguageScoped():
			items = languageItems(bundles, hook.WebhookType.Language(), globals, filter)
		case hook.WebhookType == model.WebhookSocialMedia:
			items = socialItems(bundles, hook.TargetPlatforms, filter)
		default:
			items = genericItems(bundles, globals, filter)
		}

		if len(items) > 0 {
			plan = append(plan, Destination{Webhook: hook, Items: items})
		}
	}
	return plan
}

func taskIDs(bundles []*model.TaskBundle) []int64 {
	ids := make([]int64, len(bundles))
	for i, b := range bundles {
		ids[i] = b.Task.ID
	}
	return ids
}

func genericItems(bundles []*model.TaskBundle, globals []model.GlobalLink, filter Filter) []Item {
	if len(bundles) == 0 {
		return nil
	}
	if filter.Bulk {
		return []Item{{Body: NewBulk(bundles, globals, filter.IncludeVideo), TaskIDs: taskIDs(bundles)}}
	}
	items := make([]Item, 0, len(bundles))
	for _, b := range bundles {
		items = append(items, Item{Body: NewFull(b, filter.IncludeVideo), TaskIDs: []int64{b.Task.ID}})
	}
	return items
}

func languageItems(bundles []*model.TaskBundle, lang string, globals []model.GlobalLink, filter Filter) []Item {
	if filter.Bulk {
		p := NewLanguageOnly(bundles, lang, globals, filter.IncludeVideo)
		if p == nil {
			return nil
		}
		ids := make([]int64, len(p.PublishedTasks))
		for i, t := range p.PublishedTasks {
			ids[i] = t.Task.ID
		}
		return []Item{{Body: p, Language: lang, TaskIDs: ids}}
	}

	var items []Item
	for _, b := range bundles {
		p := NewLanguageOnly([]*model.TaskBundle{b}, lang, globals, filter.IncludeVideo)
		if p == nil {
			continue
		}
		items = append(items, Item{Body: p, Language: lang, TaskIDs: []int64{b.Task.ID}})
	}
	return items
}

func socialItems(bundles []*model.TaskBundle, platforms []string, filter Filter) []Item {
	var items []Item
	for _, b := range bundles {
		for _, platform := range platforms {
			p := NewFull(b, filter.IncludeVideo)
			p.TargetPlatform = platform
			items = append(items, Item{Body: p, TaskIDs: []int64{b.Task.ID}})
		}
	}
	return items
}
