package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxResponseBodyBytes ограничивает чтение ответа панели.
const maxResponseBodyBytes = 8 << 20

// verdict как обрабатывать ответ на конкретный вариант запроса.
type verdict int

const (
	verdictOK        verdict = iota // структурно корректный успех
	verdictRejected                 // вариант отверг запрос, пробуем следующий
	verdictMissing                  // такого эндпоинта нет (404)
	verdictAuth                     // сессия недействительна
	verdictTransient                // 5xx, 429
)

// outcome нормализованный ответ панели. Любой ответ сводится к нему одним шагом decode.
type outcome struct {
	Status   int
	// Empty успешный (2xx) ответ с пустым телом.
	Empty    bool
	Success  bool
	Msg      string
	Obj      json.RawMessage
	Location string
}

type envelope struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Obj     json.RawMessage `json:"obj"`
	Data    json.RawMessage `json:"data"`
}

func decode(resp *http.Response) (outcome, error) {
	out := outcome{Status: resp.StatusCode, Location: resp.Header.Get("Location")}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return out, fmt.Errorf("read body: %w", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		out.Empty = resp.StatusCode >= 200 && resp.StatusCode < 300
		return out, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		// не JSON: например HTML-страница входа
		out.Msg = truncate(string(body), 200)
		return out, nil
	}
	out.Success = env.Success
	out.Msg = env.Msg
	if out.Msg == "" {
		out.Msg = env.Message
	}
	out.Obj = env.Obj
	if len(out.Obj) == 0 || string(out.Obj) == "null" {
		out.Obj = env.Data
	}
	return out, nil
}

func (o outcome) verdict() verdict {
	switch {
	case o.Status == http.StatusUnauthorized || o.Status == http.StatusForbidden:
		return verdictAuth
	case o.Status >= 300 && o.Status < 400:
		if o.Location == "" || o.Location == "/" || strings.Contains(strings.ToLower(o.Location), "login") {
			return verdictAuth
		}
		return verdictRejected
	case o.Status == http.StatusNotFound:
		return verdictMissing
	case o.Status == http.StatusTooManyRequests || o.Status >= 500:
		return verdictTransient
	case o.Status >= 200 && o.Status < 300:
		if o.Empty || o.Success {
			return verdictOK
		}
		return verdictRejected
	default:
		return verdictRejected
	}
}

// duplicate панель сообщает, что клиент уже существует.
func (o outcome) duplicate() bool {
	return strings.Contains(strings.ToLower(o.Msg), "duplicate")
}

func (o outcome) describe() string {
	switch {
	case o.Empty:
		return fmt.Sprintf("status %d, empty body", o.Status)
	case o.Msg != "":
		return fmt.Sprintf("status %d: %s", o.Status, o.Msg)
	default:
		return fmt.Sprintf("status %d", o.Status)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
