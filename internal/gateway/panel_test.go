package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/gateway-keeper/internal/lib/retry"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakePanel эмулирует панель 3X-UI с одним инбаундом.
type fakePanel struct {
	mu sync.Mutex

	prefix         string
	inboundID      int
	username       string
	password       string
	settingsObject bool // settings отдаётся объектом, а не строкой
	emptyMutations bool // изменяющие вызовы отвечают пустым телом
	dropMutations  bool // изменяющие вызовы отвечают успехом, но ничего не меняют
	formOnly       bool // JSON-тела изменяющих вызовов отвергаются
	redirectOnAuth bool // вместо 401 редирект на страницу входа
	rejectSessions bool // любая сессия отвергается
	unavailable    int  // столько ответов 503 перед нормальной работой

	// loginHold задерживает вход до закрытия, loginSeen получает сигнал о его начале
	loginHold chan struct{}
	loginSeen chan struct{}

	clients  []panelClient
	sessions map[string]bool
	logins   int
	seq      int
}

func newFakePanel() *fakePanel {
	return &fakePanel{
		prefix:    "/panel/api/inbounds",
		inboundID: 3,
		username:  "admin",
		password:  "secret",
		sessions:  make(map[string]bool),
	}
}

func (f *fakePanel) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakePanel) expireSessions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = make(map[string]bool)
}

func (f *fakePanel) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakePanel) snapshot() []panelClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]panelClient(nil), f.clients...)
}

func (f *fakePanel) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakePanel) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/login" && f.loginHold != nil {
		select {
		case f.loginSeen <- struct{}{}:
		default:
		}
		<-f.loginHold
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unavailable > 0 {
		f.unavailable--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	if r.URL.Path == "/login" {
		f.serveLogin(w, r)
		return
	}

	ck, err := r.Cookie("3x-ui")
	if err != nil || !f.sessions[ck.Value] || f.rejectSessions {
		if f.redirectOnAuth {
			w.Header().Set("Location", "/")
			w.WriteHeader(http.StatusTemporaryRedirect)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	rest, ok := strings.CutPrefix(r.URL.Path, f.prefix+"/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case r.Method == http.MethodGet && rest == fmt.Sprintf("get/%d", f.inboundID):
		f.serveGet(w)
	case r.Method == http.MethodPost && rest == "addClient":
		f.serveUpsert(w, r, "")
	case r.Method == http.MethodPost && strings.HasPrefix(rest, "updateClient/"):
		f.serveUpsert(w, r, strings.TrimPrefix(rest, "updateClient/"))
	case r.Method == http.MethodPost && strings.HasPrefix(rest, fmt.Sprintf("%d/delClient/", f.inboundID)):
		f.serveDelete(w, strings.TrimPrefix(rest, fmt.Sprintf("%d/delClient/", f.inboundID)))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakePanel) serveLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(r.Body).Decode(&creds)
	} else {
		_ = r.ParseForm()
		creds.Username, creds.Password = r.PostForm.Get("username"), r.PostForm.Get("password")
	}
	if creds.Username != f.username || creds.Password != f.password {
		f.writeJSON(w, map[string]any{"success": false, "msg": "Wrong username or password"})
		return
	}
	f.logins++
	f.seq++
	token := "s" + strconv.Itoa(f.seq)
	f.sessions[token] = true
	http.SetCookie(w, &http.Cookie{Name: "3x-ui", Value: token, Path: "/"})
	f.writeJSON(w, map[string]any{"success": true, "msg": "Login Successfully"})
}

func (f *fakePanel) serveGet(w http.ResponseWriter) {
	settings := map[string]any{"clients": f.clients, "decryption": "none"}
	var value any = settings
	if !f.settingsObject {
		b, _ := json.Marshal(settings)
		value = string(b)
	}
	f.writeJSON(w, map[string]any{
		"success": true,
		"msg":     "",
		"obj":     map[string]any{"id": f.inboundID, "protocol": "vless", "settings": value},
	})
}

func (f *fakePanel) mutationOK(w http.ResponseWriter) {
	if f.emptyMutations {
		w.WriteHeader(http.StatusOK)
		return
	}
	f.writeJSON(w, map[string]any{"success": true, "msg": "ok"})
}

func (f *fakePanel) serveUpsert(w http.ResponseWriter, r *http.Request, uuid string) {
	var settings string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if f.formOnly {
			f.writeJSON(w, map[string]any{"success": false, "msg": "unsupported body"})
			return
		}
		var body clientsPayload
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID != f.inboundID {
			f.writeJSON(w, map[string]any{"success": false, "msg": "bad body"})
			return
		}
		settings = body.Settings
	} else {
		_ = r.ParseForm()
		if r.PostForm.Get("id") != strconv.Itoa(f.inboundID) {
			f.writeJSON(w, map[string]any{"success": false, "msg": "bad form"})
			return
		}
		settings = r.PostForm.Get("settings")
	}

	var parsed struct {
		Clients []panelClient `json:"clients"`
	}
	if err := json.Unmarshal([]byte(settings), &parsed); err != nil || len(parsed.Clients) != 1 {
		f.writeJSON(w, map[string]any{"success": false, "msg": "bad settings"})
		return
	}
	if f.dropMutations {
		f.mutationOK(w)
		return
	}
	nc := parsed.Clients[0]
	for i, c := range f.clients {
		if uuid != "" && c.ID == uuid {
			f.clients[i] = nc
			f.mutationOK(w)
			return
		}
		if uuid == "" && c.Email == nc.Email {
			f.writeJSON(w, map[string]any{"success": false, "msg": "Duplicate email: " + nc.Email})
			return
		}
	}
	if uuid != "" {
		f.writeJSON(w, map[string]any{"success": false, "msg": "client not found"})
		return
	}
	f.clients = append(f.clients, nc)
	f.mutationOK(w)
}

func (f *fakePanel) serveDelete(w http.ResponseWriter, uuid string) {
	if f.dropMutations {
		f.mutationOK(w)
		return
	}
	for i, c := range f.clients {
		if c.ID == uuid {
			f.clients = append(f.clients[:i], f.clients[i+1:]...)
			f.mutationOK(w)
			return
		}
	}
	f.writeJSON(w, map[string]any{"success": false, "msg": "client not found"})
}

func newTestClient(t *testing.T, f *fakePanel, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Name:           "node-1",
		BaseURL:        srv.URL,
		Username:       f.username,
		Password:       f.password,
		InboundID:      f.inboundID,
		Flow:           "xtls-rprx-vision",
		ConnectTimeout: time.Second,
		RequestTimeout: 2 * time.Second,
		Retry:          retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}, newNoopLogger())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}
