package models

import "time"

// Node описывает узел с панелью 3X-UI и параметры транспорта для ссылки подключения.
type Node struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	APIURL    string `json:"api_url"`
	Username  string `json:"username"`
	Password  string `json:"-"` // Хранится запечатанным, здесь всегда открытый текст
	InboundID int    `json:"inbound_id"`
	Active    bool   `json:"active"`

	Host        string   `json:"host"`
	Port        int      `json:"port"`
	PublicKey   string   `json:"public_key"`
	ShortIDs    []string `json:"short_ids"`
	SNI         string   `json:"sni"`
	Security    string   `json:"security"`
	Network     string   `json:"network"`
	Flow        string   `json:"flow"`
	Fingerprint string   `json:"fingerprint"`
	SpiderX     string   `json:"spider_x"`
	XHTTPHost   string   `json:"xhttp_host"`
	XHTTPPath   string   `json:"xhttp_path"`
	XHTTPMode   string   `json:"xhttp_mode"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DummyNode используется для приёма данных узла из JSON-запроса.
type DummyNode struct {
	Name        string   `json:"name" validate:"required"`
	APIURL      string   `json:"api_url" validate:"required,url"`
	Username    string   `json:"username" validate:"required"`
	Password    string   `json:"password" validate:"required"`
	InboundID   int      `json:"inbound_id" validate:"required,gt=0"`
	Active      *bool    `json:"active,omitempty"`
	Host        string   `json:"host" validate:"required"`
	Port        int      `json:"port" validate:"required,gt=0,lte=65535"`
	PublicKey   string   `json:"public_key"`
	ShortIDs    []string `json:"short_ids"`
	SNI         string   `json:"sni"`
	Security    string   `json:"security"`
	Network     string   `json:"network"`
	Flow        string   `json:"flow"`
	Fingerprint string   `json:"fingerprint"`
	SpiderX     string   `json:"spider_x"`
	XHTTPHost   string   `json:"xhttp_host"`
	XHTTPPath   string   `json:"xhttp_path"`
	XHTTPMode   string   `json:"xhttp_mode"`
}

// ToNode переносит поля запроса в модель узла.
func (d DummyNode) ToNode() Node {
	active := true
	if d.Active != nil {
		active = *d.Active
	}
	return Node{
		Name:        d.Name,
		APIURL:      d.APIURL,
		Username:    d.Username,
		Password:    d.Password,
		InboundID:   d.InboundID,
		Active:      active,
		Host:        d.Host,
		Port:        d.Port,
		PublicKey:   d.PublicKey,
		ShortIDs:    d.ShortIDs,
		SNI:         d.SNI,
		Security:    d.Security,
		Network:     d.Network,
		Flow:        d.Flow,
		Fingerprint: d.Fingerprint,
		SpiderX:     d.SpiderX,
		XHTTPHost:   d.XHTTPHost,
		XHTTPPath:   d.XHTTPPath,
		XHTTPMode:   d.XHTTPMode,
	}
}
