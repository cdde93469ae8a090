package gateway

import (
	"errors"
	"fmt"
)

// Классы отказов клиента узла. Сравниваются через errors.Is.
var (
	// ErrConfig узел настроен неверно: ни один вариант API не найден или данные не разбираются.
	ErrConfig = errors.New("gateway: configuration error")
	// ErrAuth панель отвергла учётные данные администратора.
	ErrAuth = errors.New("gateway: authentication failed")
	// ErrTransient временный отказ, вызов можно повторить позже.
	ErrTransient = errors.New("gateway: transient failure")
	// ErrNotFound запрошенный объект на узле отсутствует.
	ErrNotFound = errors.New("gateway: not found")
)

// Error ошибка вызова к узлу с контекстом: узел, операция, вариант эндпоинта.
type Error struct {
	Kind    error
	Node    string
	Op      string
	Variant string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("node %s: %s", e.Node, e.Op)
	if e.Variant != "" {
		msg += " via " + e.Variant
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap позволяет errors.Is находить и класс ошибки, и причину.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func (c *Client) fail(kind error, op, variant string, err error) *Error {
	return &Error{Kind: kind, Node: c.name, Op: op, Variant: variant, Err: err}
}
