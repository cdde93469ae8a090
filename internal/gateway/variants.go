package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/url"
	"strconv"
)

// prefixes возможные расположения API инбаундов в разных сборках 3X-UI.
// Порядок фиксирован; удачный вариант между вызовами не запоминается.
var prefixes = []string{
	"/panel/api/inbounds",
	"/xui/api/inbounds",
	"/xui/inbounds",
	"/panel/inbounds",
}

type encoding int

const (
	encodingJSON encoding = iota
	encodingForm
)

func (e encoding) String() string {
	if e == encodingForm {
		return "form"
	}
	return "json"
}

var encodings = []encoding{encodingJSON, encodingForm}

// variant конкретная комбинация префикса и кодировки тела.
type variant struct {
	prefix string
	enc    encoding
}

func (v variant) String() string {
	return v.prefix + " (" + v.enc.String() + ")"
}

// mutationVariants все комбинации для изменяющих вызовов, префикс во внешнем цикле.
func mutationVariants() []variant {
	out := make([]variant, 0, len(prefixes)*len(encodings))
	for _, p := range prefixes {
		for _, e := range encodings {
			out = append(out, variant{prefix: p, enc: e})
		}
	}
	return out
}

// clientsPayload тело addClient/updateClient: settings передаётся JSON-строкой.
type clientsPayload struct {
	ID       int    `json:"id"`
	Settings string `json:"settings"`
}

// body кодирует поля в выбранной кодировке и возвращает тело и Content-Type.
func (e encoding) body(fields map[string]string, jsonBody any) (io.Reader, string, error) {
	if e == encodingForm {
		form := url.Values{}
		for k, v := range fields {
			form.Set(k, v)
		}
		return bytes.NewBufferString(form.Encode()), "application/x-www-form-urlencoded; charset=UTF-8", nil
	}
	if jsonBody == nil {
		return bytes.NewReader(nil), "application/json; charset=UTF-8", nil
	}
	b, err := json.Marshal(jsonBody)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(b), "application/json; charset=UTF-8", nil
}

func clientsBody(inboundID int, settings string) (map[string]string, any) {
	return map[string]string{
			"id":       strconv.Itoa(inboundID),
			"settings": settings,
		}, clientsPayload{
			ID:       inboundID,
			Settings: settings,
		}
}
