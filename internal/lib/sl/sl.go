// Package sl вспомогательные функции для логгера slog: построение логгера
// по окружению и единообразные атрибуты.
package sl

import (
	"io"
	"log/slog"
	"os"
)

const envProd = "prod"

// New текстовый логгер в stdout; уровень зависит от окружения.
func New(env string) *slog.Logger {
	return NewWithWriter(env, os.Stdout)
}

// NewWithWriter то же, что New, но пишет в w.
func NewWithWriter(env string, w io.Writer) *slog.Logger {
	level := slog.LevelDebug
	if env == envProd {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Err возвращает slog.Attr с ключом "error" и текстом ошибки.
//
// Пример:
//
//	log.Error("failed to do something", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Node атрибут с именем узла.
func Node(name string) slog.Attr {
	return slog.String("node", name)
}
