// Package gateway клиент панели управления узлом 3X-UI. Сводит разнородные
// варианты API панели к четырём операциям: Authenticate, EnsureCredential,
// DeleteCredential и ListCredentials.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/gateway-keeper/internal/lib/retry"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
)

// Config параметры клиента одного узла.
type Config struct {
	Name      string
	BaseURL   string
	Username  string
	Password  string
	InboundID int
	Flow      string

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	Retry          retry.Policy
	VerifyDelay    time.Duration
	RequestsPerSec float64
	Burst          int
}

// Client авторизованное соединение с одним узлом.
type Client struct {
	name      string
	base      string
	baseURL   *url.URL
	username  string
	password  string
	inboundID int
	flow      string

	http         *http.Client
	transport    *http.Transport
	limiter      *rate.Limiter
	retry        retry.Policy
	verifyDelay  time.Duration
	loginTimeout time.Duration
	log          *slog.Logger

	mu     sync.Mutex
	sess   *session
	logins singleflight.Group
}

// NewClient создаёт клиент узла. Соединение не устанавливается до первого вызова.
func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &Error{Kind: ErrConfig, Node: cfg.Name, Op: "new", Err: fmt.Errorf("invalid api url %q", cfg.BaseURL)}
	}
	if cfg.InboundID <= 0 {
		return nil, &Error{Kind: ErrConfig, Node: cfg.Name, Op: "new", Err: errors.New("inbound id must be positive")}
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.Default
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout

	return &Client{
		name:      cfg.Name,
		base:      u.String(),
		baseURL:   u,
		username:  cfg.Username,
		password:  cfg.Password,
		inboundID: cfg.InboundID,
		flow:      cfg.Flow,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
			// редирект на страницу входа означает истёкшую сессию, обрабатываем сами
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		transport:    transport,
		limiter:      rate.NewLimiter(limit, burst),
		retry:        cfg.Retry,
		verifyDelay:  cfg.VerifyDelay,
		loginTimeout: 2 * cfg.RequestTimeout, // JSON и form-urlencoded
		log:          log.With(slog.String("node", cfg.Name)),
	}, nil
}

// Name имя узла.
func (c *Client) Name() string { return c.name }

// Authenticate выполняет вход в панель, заменяя текущую сессию.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.refresh(ctx, c.current())
	return err
}

// Close сбрасывает сессию и освобождает простаивающие соединения.
func (c *Client) Close() {
	c.mu.Lock()
	c.sess = nil
	c.mu.Unlock()
	c.transport.CloseIdleConnections()
}

// request описание одного HTTP-запроса к панели. Тело собирается заново
// на каждую попытку.
type request struct {
	method string
	path   string
	enc    encoding
	form   map[string]string
	json   any
}

// roundTrip одна попытка запроса в рамках сессии s.
func (c *Client) roundTrip(ctx context.Context, s *session, r request) (outcome, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return outcome{}, err
	}

	var (
		body        io.Reader = http.NoBody
		contentType string
	)
	if r.method != http.MethodGet {
		b, ct, err := r.enc.body(r.form, r.json)
		if err != nil {
			return outcome{}, retry.Permanent(err)
		}
		body, contentType = b, ct
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.base+r.path, body)
	if err != nil {
		return outcome{}, retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, ck := range s.jar.Cookies(req.URL) {
		req.AddCookie(ck)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return outcome{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if cookies := resp.Cookies(); len(cookies) > 0 {
		s.jar.SetCookies(req.URL, cookies)
	}
	return decode(resp)
}

var errTransientStatus = errors.New("transient status")

// exchange выполняет запрос по общей политике повторов. Сетевые ошибки,
// 5xx и 429 повторяются; после исчерпания попыток для статусов возвращается
// последний ответ, для сетевых ошибок сама ошибка.
func (c *Client) exchange(ctx context.Context, s *session, r request) (outcome, error) {
	var out outcome
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		o, err := c.roundTrip(ctx, s, r)
		if err != nil {
			return err
		}
		out = o
		if o.verdict() == verdictTransient {
			return errTransientStatus
		}
		return nil
	}, func(err error, wait time.Duration) {
		c.log.Debug("retrying panel request",
			slog.String("path", r.path),
			slog.Duration("wait", wait),
			sl.Err(err))
	})
	if errors.Is(err, errTransientStatus) {
		return out, nil
	}
	return out, err
}

// call выполняет запрос в авторизованной сессии. При отказе в авторизации
// сессия сбрасывается, вход повторяется один раз, и запрос повторяется один раз.
func (c *Client) call(ctx context.Context, r request) (outcome, error) {
	s, err := c.ensureSession(ctx)
	if err != nil {
		return outcome{}, err
	}
	o, err := c.exchange(ctx, s, r)
	if err != nil || o.verdict() != verdictAuth {
		return o, err
	}

	c.log.Warn("panel session rejected, re-authenticating", slog.String("path", r.path))
	s, err = c.refresh(ctx, s)
	if err != nil {
		return o, err
	}
	o, err = c.exchange(ctx, s, r)
	if err == nil && o.verdict() == verdictAuth {
		return o, errSessionRejected
	}
	return o, err
}

// classify приводит ошибку транспорта к классу отказа.
func (c *Client) classify(op, variant string, err error) error {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	if errors.Is(err, errSessionRejected) {
		return c.fail(ErrAuth, op, variant, err)
	}
	return c.fail(ErrTransient, op, variant, err)
}
