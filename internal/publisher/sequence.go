package publisher

import (
	"context"
	"fmt"
)

// Step шаг составного сообщения
type Step struct {
	Name string
	// Optional шаг не прерывает последовательность при ошибке
	Optional bool
	Run      func(ctx context.Context) error
}

// StepError ошибка обязательного шага
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// RunSequence выполняет шаги строго по порядку и останавливается на первой
// ошибке обязательного шага. Ошибки необязательных шагов передаются в onSoftFail.
func RunSequence(ctx context.Context, steps []Step, onSoftFail func(step string, err error)) error {
	for _, step := range steps {
		if err := step.Run(ctx); err != nil {
			if step.Optional {
				if onSoftFail != nil {
					onSoftFail(step.Name, err)
				}
				continue
			}
			return &StepError{Step: step.Name, Err: err}
		}
	}
	return nil
}
