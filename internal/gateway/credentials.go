package gateway

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/magabrotheeeer/gateway-keeper/internal/models"
)

var errNotConfirmed = errors.New("change is not visible in the inbound client list")

// panelClient клиент в настройках инбаунда, как его хранит панель.
type panelClient struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Enable     bool   `json:"enable"`
	ExpiryTime int64  `json:"expiryTime"`
	TotalGB    int64  `json:"totalGB"`
	LimitIP    int    `json:"limitIp"`
	Flow       string `json:"flow"`
	Reset      int    `json:"reset"`
	SubID      string `json:"subId"`
	TgID       any    `json:"tgId"`
	Comment    string `json:"comment"`
}

// Label подпись клиента на панели. Панель требует её уникальности в инбаунде.
func Label(identity models.Identity) string {
	if identity.ExternalID != "" {
		return "user-" + identity.ExternalID
	}
	return identity.UUID
}

// ListCredentials возвращает всех клиентов инбаунда узла.
func (c *Client) ListCredentials(ctx context.Context) ([]models.RemoteCredential, error) {
	const op = "list"

	var (
		last      error
		variant   string
		missing   int
		transient bool
	)
	for _, p := range prefixes {
		r := request{method: http.MethodGet, path: fmt.Sprintf("%s/get/%d", p, c.inboundID)}
		o, err := c.call(ctx, r)
		if err != nil {
			return nil, c.classify(op, p, err)
		}
		switch o.verdict() {
		case verdictOK:
			creds, err := parseInbound(o.Obj)
			if err == nil {
				return creds, nil
			}
			last = err
		case verdictMissing:
			missing++
			last = errors.New(o.describe())
		case verdictTransient:
			transient = true
			last = errors.New(o.describe())
		default:
			last = errors.New(o.describe())
		}
		variant = p
	}
	if missing == len(prefixes) {
		return nil, c.fail(ErrConfig, op, "", errors.New("inbound API not found under any known prefix"))
	}
	if transient {
		return nil, c.fail(ErrTransient, op, variant, last)
	}
	return nil, c.fail(ErrConfig, op, variant, last)
}

// EnsureCredential создаёт клиента абонента или обновляет срок действия
// существующего. Успех возвращается только после того, как список клиентов
// узла показывает запись с ожидаемым сроком.
func (c *Client) EnsureCredential(ctx context.Context, identity models.Identity, expiry time.Time) (string, error) {
	const op = "ensure"

	remoteID := identity.UUID
	if remoteID == "" {
		return "", c.fail(ErrConfig, op, "", errors.New("identity has no uuid"))
	}

	list, err := c.ListCredentials(ctx)
	if err != nil {
		return "", err
	}

	pc := panelClient{
		ID:         remoteID,
		Email:      Label(identity),
		Enable:     true,
		ExpiryTime: expiry.UnixMilli(),
		Flow:       c.flow,
		TgID:       "",
	}

	var path func(prefix string) string
	if existing, ok := find(list, remoteID); ok {
		if existing.Label != "" {
			pc.Email = existing.Label
		}
		pc.SubID = existing.SubID
		if existing.Flow != "" {
			pc.Flow = existing.Flow
		}
		path = func(prefix string) string { return prefix + "/updateClient/" + remoteID }
	} else {
		path = func(prefix string) string { return prefix + "/addClient" }
	}
	if pc.SubID == "" {
		pc.SubID = newSubID()
	}

	settings, err := json.Marshal(struct {
		Clients []panelClient `json:"clients"`
	}{Clients: []panelClient{pc}})
	if err != nil {
		return "", c.fail(ErrConfig, op, "", err)
	}
	form, body := clientsBody(c.inboundID, string(settings))

	want := expiry.UnixMilli()
	confirm := func(list []models.RemoteCredential) bool {
		got, ok := find(list, remoteID)
		return ok && got.Enabled && got.ExpiresAt.UnixMilli() == want
	}
	if err := c.mutate(ctx, op, path, form, body, confirm); err != nil {
		return "", err
	}
	c.log.Info("credential ensured", slog.String("remote_id", remoteID), slog.Time("expires_at", expiry))
	return remoteID, nil
}

// DeleteCredential удаляет клиента абонента. Отсутствие клиента не ошибка.
func (c *Client) DeleteCredential(ctx context.Context, identity models.Identity) error {
	const op = "delete"

	remoteID := identity.UUID
	list, err := c.ListCredentials(ctx)
	if err != nil {
		return err
	}
	if _, ok := find(list, remoteID); !ok {
		return nil
	}

	path := func(prefix string) string {
		return fmt.Sprintf("%s/%d/delClient/%s", prefix, c.inboundID, remoteID)
	}
	absent := func(list []models.RemoteCredential) bool {
		_, ok := find(list, remoteID)
		return !ok
	}
	if err := c.mutate(ctx, op, path, nil, nil, absent); err != nil {
		return err
	}
	c.log.Info("credential deleted", slog.String("remote_id", remoteID))
	return nil
}

// mutate перебирает варианты изменяющего запроса в фиксированном порядке.
// Ответ панели решает только, переходить ли к следующему варианту; итог
// определяет сверка со списком клиентов.
func (c *Client) mutate(ctx context.Context, op string, path func(prefix string) string, form map[string]string, body any, confirm func([]models.RemoteCredential) bool) error {
	variants := mutationVariants()

	var (
		last      error
		lastVar   string
		missing   int
		transient bool
	)
	for _, v := range variants {
		r := request{method: http.MethodPost, path: path(v.prefix), enc: v.enc, form: form, json: body}
		o, err := c.call(ctx, r)
		if err != nil {
			return c.classify(op, v.String(), err)
		}
		switch o.verdict() {
		case verdictOK:
			return c.verify(ctx, op, v.String(), confirm)
		case verdictRejected:
			if o.duplicate() {
				return c.verify(ctx, op, v.String(), confirm)
			}
		case verdictMissing:
			missing++
		case verdictTransient:
			transient = true
		}
		last, lastVar = errors.New(o.describe()), v.String()
		c.log.Debug("panel variant declined", slog.String("op", op), slog.String("variant", lastVar), slog.String("reason", last.Error()))
	}

	if missing == len(variants) {
		return c.fail(ErrConfig, op, "", errors.New("endpoint not found under any known prefix"))
	}

	// ни один вариант не принял запрос, но изменение могло примениться
	if list, err := c.ListCredentials(ctx); err == nil && confirm(list) {
		return nil
	}
	if transient {
		return c.fail(ErrTransient, op, lastVar, last)
	}
	return c.fail(ErrConfig, op, lastVar, last)
}

// verify ждёт VerifyDelay и сверяет состояние узла со списком клиентов.
func (c *Client) verify(ctx context.Context, op, variant string, confirm func([]models.RemoteCredential) bool) error {
	if c.verifyDelay > 0 {
		t := time.NewTimer(c.verifyDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return c.fail(ErrTransient, op, variant, ctx.Err())
		case <-t.C:
		}
	}
	list, err := c.ListCredentials(ctx)
	if err != nil {
		return err
	}
	if !confirm(list) {
		return c.fail(ErrTransient, op, variant, errNotConfirmed)
	}
	return nil
}

func parseInbound(obj json.RawMessage) ([]models.RemoteCredential, error) {
	if len(obj) == 0 || string(obj) == "null" {
		return nil, errors.New("response has no inbound object")
	}
	var inbound struct {
		Settings json.RawMessage `json:"settings"`
	}
	if err := json.Unmarshal(obj, &inbound); err != nil {
		return nil, fmt.Errorf("decode inbound: %w", err)
	}

	raw := inbound.Settings
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode settings string: %w", err)
		}
		raw = json.RawMessage(s)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return []models.RemoteCredential{}, nil
	}

	var settings struct {
		Clients []struct {
			ID         string `json:"id"`
			Email      string `json:"email"`
			Enable     bool   `json:"enable"`
			ExpiryTime int64  `json:"expiryTime"`
			SubID      string `json:"subId"`
			Flow       string `json:"flow"`
		} `json:"clients"`
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	out := make([]models.RemoteCredential, 0, len(settings.Clients))
	for _, pc := range settings.Clients {
		rc := models.RemoteCredential{
			ID:      pc.ID,
			Label:   pc.Email,
			Enabled: pc.Enable,
			SubID:   pc.SubID,
			Flow:    pc.Flow,
		}
		if pc.ExpiryTime > 0 {
			rc.ExpiresAt = time.UnixMilli(pc.ExpiryTime).UTC()
		}
		out = append(out, rc)
	}
	return out, nil
}

func find(list []models.RemoteCredential, id string) (models.RemoteCredential, bool) {
	for _, rc := range list {
		if rc.ID == id {
			return rc, true
		}
	}
	return models.RemoteCredential{}, false
}

const subIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// newSubID 16 символов из строчных латинских букв и цифр.
func newSubID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = subIDAlphabet[int(b[i])%len(subIDAlphabet)]
	}
	return string(b)
}
