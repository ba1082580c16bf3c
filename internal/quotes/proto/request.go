package proto

import "github.com/segmentio/encoding/json"

type loginElements struct {
	ApplicationId string `json:"ApplicationId"`
	Position      string `json:"Position"`
}

type loginKey struct {
	Name     string        `json:"Name"`
	Elements loginElements `json:"Elements"`
}

type loginRequest struct {
	ID     int      `json:"ID"`
	Domain Domain   `json:"Domain"`
	Key    loginKey `json:"Key"`
}

type itemKey struct {
	Name string `json:"Name"`
}

type itemRequest struct {
	ID  int     `json:"ID"`
	Key itemKey `json:"Key"`
}

// LoginRequest {"ID":1,"Domain":"Login","Key":{"Name":..,"Elements":{"ApplicationId":..,"Position":..}}}
func LoginRequest(user, appID, position string) ([]byte, error) {
	return json.Marshal(loginRequest{
		ID:     LoginStreamID,
		Domain: DomainLogin,
		Key: loginKey{
			Name:     user,
			Elements: loginElements{ApplicationId: appID, Position: position},
		},
	})
}

// ItemRequest 订阅一个 MarketPrice 品种（Domain 省略即 MarketPrice）
func ItemRequest(ric string) ([]byte, error) {
	return json.Marshal(itemRequest{ID: ItemStreamID, Key: itemKey{Name: ric}})
}

var (
	pingFrame = []byte(`{"Type":"Ping"}`)
	pongFrame = []byte(`{"Type":"Pong"}`)
)

func Ping() []byte { return append([]byte(nil), pingFrame...) }

func Pong() []byte { return append([]byte(nil), pongFrame...) }

