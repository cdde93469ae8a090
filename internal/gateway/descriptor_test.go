package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/gateway-keeper/internal/models"
)

func TestDescriptor(t *testing.T) {
	tests := []struct {
		name string
		node models.Node
		want string
	}{
		{
			name: "reality tcp",
			node: models.Node{
				Name:        "Amsterdam 1",
				Host:        "ams.example.com",
				Port:        443,
				Security:    "reality",
				Network:     "tcp",
				PublicKey:   "pubKEY",
				Fingerprint: "chrome",
				SNI:         "www.microsoft.com",
				ShortIDs:    []string{"ab12", "cd34"},
				SpiderX:     "/",
				Flow:        "xtls-rprx-vision",
			},
			want: "vless://uuid-1@ams.example.com:443?encryption=none&security=reality&type=tcp&pbk=pubKEY&fp=chrome&sni=www.microsoft.com&sid=ab12&spx=/&flow=xtls-rprx-vision#Amsterdam%201",
		},
		{
			name: "xhttp with empty values omitted",
			node: models.Node{
				Name:      "fra",
				Host:      "1.2.3.4",
				Port:      8443,
				Security:  "tls",
				Network:   "xhttp",
				XHTTPHost: "cdn.example.com",
				XHTTPPath: "/api/v1",
				XHTTPMode: "auto",
			},
			want: "vless://uuid-1@1.2.3.4:8443?encryption=none&security=tls&type=xhttp&host=cdn.example.com&path=/api/v1&mode=auto#fra",
		},
		{
			name: "ipv6 host in brackets",
			node: models.Node{
				Name:     "v6",
				Host:     "2001:db8::1",
				Port:     443,
				Security: "tls",
				Network:  "tcp",
			},
			want: "vless://uuid-1@[2001:db8::1]:443?encryption=none&security=tls&type=tcp#v6",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Descriptor(tt.node, "uuid-1")
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Descriptor(tt.node, "uuid-1"))
		})
	}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "user-42", Label(models.Identity{UUID: "u", ExternalID: "42"}))
	assert.Equal(t, "u", Label(models.Identity{UUID: "u"}))
}
