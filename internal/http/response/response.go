// Package response формирует единые JSON-ответы HTTP-обработчиков.
package response

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator"
)

// Response стандартный ответ сервера.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// ErrorResponse ответ с ошибкой, используется в аннотациях @Failure.
type ErrorResponse struct {
	Status string `json:"status" example:"Error"`
	Error  string `json:"error" example:"invalid request body"`
}

const (
	StatusOK    = "OK"
	StatusError = "Error"
)

// Unavailable текст для пользователя, когда причина сбоя внутренняя.
// Подробности остаются в логах.
const Unavailable = "service unavailable, retry later or contact support"

// StatusOKWithData успешный ответ с данными.
func StatusOKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// Error ответ с ошибкой.
func Error(msg string) ErrorResponse {
	return ErrorResponse{
		Status: StatusError,
		Error:  msg,
	}
}

// ValidationError собирает нарушения валидации в одну строку.
func ValidationError(errs validator.ValidationErrors) ErrorResponse {
	var msgs []string
	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("field %s must be a valid email", err.Field()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("field %s must be a valid url", err.Field()))
		case "uuid", "uuid4":
			msgs = append(msgs, fmt.Sprintf("field %s can contain only uuid", err.Field()))
		case "gt", "lte":
			msgs = append(msgs, fmt.Sprintf("field %s is out of range", err.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not a valid", err.Field()))
		}
	}
	return Error(strings.Join(msgs, ", "))
}
