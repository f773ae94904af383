package promotion

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Типы условий.
const (
	ConditionSelfPromotion     = "self-promotion"
	ConditionManualApproval    = "manual-approval"
	ConditionUpstreamPromotion = "upstream-promotion"
)

// Target — сборка-цель в момент вычисления условий одного процесса.
type Target struct {
	// Build — сборка-цель.
	Build *domain.BranchBuild

	// Process — процесс, чьи условия вычисляются.
	Process domain.PromotionProcess

	// Approvals — записи ручных одобрений сборки-цели.
	Approvals []domain.ManualApproval

	// Promoted сообщает, выполнен ли уже другой процесс этой цели.
	Promoted func(process string) bool
}

// Condition — одно условие квалификации promotion-процесса.
//
// Условие либо возвращает badge (выполнено), либо воздерживается
// (nil, nil). Ошибка вычисления трактуется движком как воздержание
// с предупреждением в журнале.
type Condition interface {
	// Type возвращает тип условия.
	Type() string

	// Evaluate возвращает badge при выполнении условия.
	Evaluate(ctx context.Context, target *Target) (*domain.Badge, error)
}

// --- Self promotion ---

// SelfPromotion выполняется, когда сборка-цель завершилась успешно.
// EvenIfUnstable дополнительно допускает UNSTABLE.
type SelfPromotion struct {
	EvenIfUnstable bool
}

func (c *SelfPromotion) Type() string { return ConditionSelfPromotion }

func (c *SelfPromotion) Evaluate(_ context.Context, target *Target) (*domain.Badge, error) {
	build := target.Build
	if !build.IsFinished() || build.Status == domain.StatusCancelled {
		return nil, nil
	}

	switch build.Result {
	case domain.ResultSuccess:
		return &domain.Badge{Condition: c.Type()}, nil
	case domain.ResultUnstable:
		if c.EvenIfUnstable {
			return &domain.Badge{Condition: c.Type()}, nil
		}
	}
	return nil, nil
}

// --- Manual approval ---

// ManualCondition выполняется при наличии записи ручного одобрения.
// Users — список допущенных к одобрению; пустой список допускает всех.
type ManualCondition struct {
	Users []string
}

func (c *ManualCondition) Type() string { return ConditionManualApproval }

func (c *ManualCondition) Evaluate(_ context.Context, target *Target) (*domain.Badge, error) {
	// Последнее одобрение этого процесса допущенным пользователем
	for i := len(target.Approvals) - 1; i >= 0; i-- {
		approval := target.Approvals[i]
		if !domain.ProcessNameEquals(approval.Process, target.Process.Name) {
			continue
		}
		if !c.allows(approval.User) {
			continue
		}
		return &domain.Badge{
			Condition:  c.Type(),
			User:       approval.User,
			Parameters: approval.Parameters,
		}, nil
	}
	return nil, nil
}

// CanApprove проверяет, может ли пользователь одобрить процесс.
// Повторное одобрение тем же пользователем отклоняется.
func (c *ManualCondition) CanApprove(user string, process string, existing []domain.ManualApproval) error {
	if !c.allows(user) {
		return fmt.Errorf("%w: %s", ErrUserNotAllowed, user)
	}
	for _, approval := range existing {
		if domain.ProcessNameEquals(approval.Process, process) && approval.User == user {
			return fmt.Errorf("%w: %s by %s", ErrDuplicateApproval, process, user)
		}
	}
	return nil
}

func (c *ManualCondition) allows(user string) bool {
	if len(c.Users) == 0 {
		return true
	}
	for _, allowed := range c.Users {
		if allowed == user {
			return true
		}
	}
	return false
}

// --- Upstream promotion ---

// UpstreamCondition выполняется, когда другой процесс этой же цели
// уже promoted. Строительный блок каскадных цепочек.
type UpstreamCondition struct {
	Process string
}

func (c *UpstreamCondition) Type() string { return ConditionUpstreamPromotion }

func (c *UpstreamCondition) Evaluate(_ context.Context, target *Target) (*domain.Badge, error) {
	if target.Promoted == nil || !target.Promoted(c.Process) {
		return nil, nil
	}
	return &domain.Badge{Condition: c.Type()}, nil
}

// --- Registry ---

// ConditionFactory создаёт условие из параметров конфигурации.
type ConditionFactory func(params map[string]any) (Condition, error)

// ConditionRegistry — реестр типов условий.
// Потокобезопасен.
type ConditionRegistry struct {
	mu        sync.RWMutex
	factories map[string]ConditionFactory
}

// NewConditionRegistry создаёт пустой реестр.
func NewConditionRegistry() *ConditionRegistry {
	return &ConditionRegistry{
		factories: make(map[string]ConditionFactory),
	}
}

// DefaultConditionRegistry создаёт реестр со всеми стандартными условиями.
func DefaultConditionRegistry() *ConditionRegistry {
	r := NewConditionRegistry()

	r.Register(ConditionSelfPromotion, func(params map[string]any) (Condition, error) {
		return &SelfPromotion{EvenIfUnstable: boolParam(params, "even_if_unstable")}, nil
	})

	r.Register(ConditionManualApproval, func(params map[string]any) (Condition, error) {
		users, err := stringSliceParam(params, "users")
		if err != nil {
			return nil, err
		}
		return &ManualCondition{Users: users}, nil
	})

	r.Register(ConditionUpstreamPromotion, func(params map[string]any) (Condition, error) {
		process, ok := params["process"].(string)
		if !ok || process == "" {
			return nil, fmt.Errorf("%w: upstream-promotion requires process", ErrInvalidSpec)
		}
		return &UpstreamCondition{Process: process}, nil
	})

	return r
}

// Register регистрирует фабрику условия.
// Существующая фабрика с тем же типом перезаписывается.
func (r *ConditionRegistry) Register(condType string, factory ConditionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[condType] = factory
}

// Build создаёт условие по конфигурации.
func (r *ConditionRegistry) Build(spec domain.ConditionSpec) (Condition, error) {
	r.mu.RLock()
	factory, exists := r.factories[spec.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrConditionNotFound, spec.Type)
	}
	return factory(spec.Params)
}

// BuildAll создаёт условия процесса в порядке объявления.
func (r *ConditionRegistry) BuildAll(specs []domain.ConditionSpec) ([]Condition, error) {
	conditions := make([]Condition, 0, len(specs))
	for _, spec := range specs {
		cond, err := r.Build(spec)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, cond)
	}
	return conditions, nil
}

// Types возвращает список зарегистрированных типов условий.
func (r *ConditionRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// --- Param helpers ---

func boolParam(params map[string]any, key string) bool {
	v, _ := params[key].(bool)
	return v
}

func stringSliceParam(params map[string]any, key string) ([]string, error) {
	raw, exists := params[key]
	if !exists {
		return nil, nil
	}

	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a list of strings", ErrInvalidSpec, key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list of strings", ErrInvalidSpec, key)
	}
}
