package gateway

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/magabrotheeeer/gateway-keeper/internal/models"
)

// Descriptor строит ссылку подключения vless:// для абонента на узле.
// Порядок параметров фиксирован, пустые значения опускаются.
func Descriptor(node models.Node, identityUUID string) string {
	sid := ""
	if len(node.ShortIDs) > 0 {
		sid = strings.TrimSpace(node.ShortIDs[0])
	}

	params := [][2]string{
		{"encryption", "none"},
		{"security", node.Security},
		{"type", node.Network},
		{"pbk", node.PublicKey},
		{"fp", node.Fingerprint},
		{"sni", node.SNI},
		{"sid", sid},
		{"spx", node.SpiderX},
		{"flow", node.Flow},
		{"host", node.XHTTPHost},
		{"path", node.XHTTPPath},
		{"mode", node.XHTTPMode},
	}

	var q strings.Builder
	for _, kv := range params {
		if kv[1] == "" {
			continue
		}
		if q.Len() > 0 {
			q.WriteByte('&')
		}
		q.WriteString(kv[0])
		q.WriteByte('=')
		q.WriteString(escapeParam(kv[1]))
	}

	var b strings.Builder
	b.WriteString("vless://")
	b.WriteString(identityUUID)
	b.WriteByte('@')
	b.WriteString(net.JoinHostPort(node.Host, strconv.Itoa(node.Port)))
	b.WriteByte('?')
	b.WriteString(q.String())
	b.WriteByte('#')
	b.WriteString(escapeFragment(node.Name))
	return b.String()
}

// escapeParam экранирует значение параметра, оставляя '/' как есть.
func escapeParam(v string) string {
	return strings.ReplaceAll(escapeFragment(v), "%2F", "/")
}

func escapeFragment(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}
