package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
)

// session авторизованная сессия панели. Куки живут в собственном jar сессии,
// поэтому сброс сессии не затрагивает запросы, уже отправленные со старой.
type session struct {
	jar *cookiejar.Jar
}

var errSessionRejected = errors.New("session rejected after re-authentication")

func (c *Client) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// ensureSession возвращает текущую сессию, при её отсутствии выполняет вход.
func (c *Client) ensureSession(ctx context.Context) (*session, error) {
	if s := c.current(); s != nil {
		return s, nil
	}
	return c.refresh(ctx, nil)
}

// refresh заменяет устаревшую сессию stale новой. Одновременные вызовы
// схлопываются в один вход; если сессию уже обновил другой вызов, она и возвращается.
// Вход не зависит от отмены ctx вызвавшего: отменённый вызов перестаёт ждать,
// остальные получают результат входа.
func (c *Client) refresh(ctx context.Context, stale *session) (*session, error) {
	ch := c.logins.DoChan("login", func() (any, error) {
		c.mu.Lock()
		cur := c.sess
		if cur != nil && cur != stale {
			c.mu.Unlock()
			return cur, nil
		}
		c.sess = nil
		c.mu.Unlock()

		loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loginTimeout)
		defer cancel()
		s, err := c.login(loginCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.sess = s
		c.mu.Unlock()
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.log.Debug("joined in-flight panel login")
		}
		return res.Val.(*session), nil
	}
}

// login выполняет вход: сначала JSON, затем form-urlencoded.
func (c *Client) login(ctx context.Context) (*session, error) {
	const op = "login"

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, c.fail(ErrConfig, op, "", err)
	}
	s := &session{jar: jar}

	creds := map[string]string{"username": c.username, "password": c.password}
	var last error
	transient := false
	for _, enc := range encodings {
		r := request{method: http.MethodPost, path: "/login", enc: enc, form: creds, json: creds}
		o, err := c.exchange(ctx, s, r)
		if err != nil {
			return nil, c.fail(ErrTransient, op, enc.String(), err)
		}
		switch {
		case o.verdict() == verdictOK && o.Success && len(jar.Cookies(c.baseURL)) > 0:
			c.log.Info("panel authentication successful", slog.String("encoding", enc.String()))
			return s, nil
		case o.verdict() == verdictTransient:
			transient = true
		}
		last = errors.New(o.describe())
	}
	if transient {
		return nil, c.fail(ErrTransient, op, "", last)
	}
	return nil, c.fail(ErrAuth, op, "", last)
}
