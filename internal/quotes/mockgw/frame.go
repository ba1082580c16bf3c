package mockgw

import (
	"github.com/segmentio/encoding/json"
	"wsquote.com/internal/quotes/proto"
)

// request 客户端发来的请求。login/item 请求没有 Type，只有 Ping/Pong 有
type request struct {
	ID     int          `json:"ID"`
	Type   proto.Type   `json:"Type"`
	Domain proto.Domain `json:"Domain"`
	Key    *proto.Key   `json:"Key"`
}

// loginElements login 请求 Key.Elements
type loginElements struct {
	ApplicationId string `json:"ApplicationId"`
	Position      string `json:"Position"`
}

// frame 网关下行的一条消息，一个 websocket 帧是 []frame
type frame struct {
	ID       int                        `json:"ID,omitempty"`
	Type     proto.Type                 `json:"Type"`
	Domain   proto.Domain               `json:"Domain,omitempty"`
	Key      *proto.Key                 `json:"Key,omitempty"`
	State    *proto.State               `json:"State,omitempty"`
	Elements map[string]any             `json:"Elements,omitempty"`
	Fields   map[string]json.RawMessage `json:"Fields,omitempty"`
}

func encode(msgs ...frame) ([]byte, error) {
	return json.Marshal(msgs)
}

func loginRefresh(user string, pingTimeout int) frame {
	return frame{
		ID:     proto.LoginStreamID,
		Type:   proto.TypeRefresh,
		Domain: proto.DomainLogin,
		Key:    &proto.Key{Name: user},
		State:  &proto.State{Stream: proto.StreamOpen, Data: proto.DataOk, Text: "Login accepted by mock gateway."},
		Elements: map[string]any{
			"PingTimeout": pingTimeout,
			"MaxMsgSize":  61426,
		},
	}
}

func loginClosed(user, text string) frame {
	return frame{
		ID:     proto.LoginStreamID,
		Type:   proto.TypeStatus,
		Domain: proto.DomainLogin,
		Key:    &proto.Key{Name: user},
		State:  &proto.State{Stream: proto.StreamClosed, Data: proto.DataSuspect, Code: "NotEntitled", Text: text},
	}
}

func itemRefresh(id int, ric string, fields map[string]json.RawMessage) frame {
	return frame{
		ID:     id,
		Type:   proto.TypeRefresh,
		Key:    &proto.Key{Service: "MOCK", Name: ric},
		State:  &proto.State{Stream: proto.StreamOpen, Data: proto.DataOk, Text: "All is well"},
		Fields: fields,
	}
}

func itemNotFound(id int, ric string) frame {
	return frame{
		ID:    id,
		Type:  proto.TypeStatus,
		Key:   &proto.Key{Service: "MOCK", Name: ric},
		State: &proto.State{Stream: proto.StreamClosed, Data: proto.DataSuspect, Code: "NotFound", Text: "The record could not be found"},
	}
}

func itemUpdate(id int, fields map[string]json.RawMessage) frame {
	return frame{ID: id, Type: proto.TypeUpdate, Fields: fields}
}
