// Пакет share — конечный автомат жизненного цикла публичной ссылки.
//
// Допустимые переходы:
//   - active → expired — истечение по времени или исчерпание лимита скачиваний
//   - active → disabled — отзыв владельцем или администратором
//
// Оба целевых статуса терминальные: выход из них запрещён,
// ссылка никогда не возвращается в active.
package share

import (
	"fmt"

	"github.com/arturkryukov/cipherdrive/internal/domain/model"
)

// validTransitions — матрица допустимых переходов.
// Ключ — текущий статус, значение — набор допустимых целевых статусов.
var validTransitions = map[model.ShareStatus]map[model.ShareStatus]bool{
	model.ShareActive:   {model.ShareExpired: true, model.ShareDisabled: true},
	model.ShareExpired:  {}, // Терминальный статус
	model.ShareDisabled: {}, // Терминальный статус
}

// TransitionError — ошибка недопустимого перехода между статусами.
type TransitionError struct {
	From model.ShareStatus
	To   model.ShareStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("недопустимый переход статуса ссылки: %s → %s", e.From, e.To)
}

// IsTerminal возвращает true для статусов, из которых переходы запрещены.
func IsTerminal(s model.ShareStatus) bool {
	return len(validTransitions[s]) == 0 && isValidStatus(s)
}

// CanTransition проверяет допустимость перехода from → to.
func CanTransition(from, to model.ShareStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Transition валидирует переход from → to.
// Возвращает *TransitionError, если переход недопустим.
// Переход в текущий статус (from == to) не является переходом и запрещён.
func Transition(from, to model.ShareStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// isValidStatus проверяет, является ли значение допустимым статусом.
func isValidStatus(s model.ShareStatus) bool {
	switch s {
	case model.ShareActive, model.ShareExpired, model.ShareDisabled:
		return true
	default:
		return false
	}
}

// ParseStatus преобразует строку в ShareStatus.
// Возвращает ошибку для недопустимых значений.
func ParseStatus(s string) (model.ShareStatus, error) {
	st := model.ShareStatus(s)
	if !isValidStatus(st) {
		return "", fmt.Errorf("недопустимый статус ссылки: %q, допустимые: active, expired, disabled", s)
	}
	return st, nil
}
