package proto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginRequest_WireFormat(t *testing.T) {
	b, err := LoginRequest("alice", "256", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t,
		`{"ID":1,"Domain":"Login","Key":{"Name":"alice","Elements":{"ApplicationId":"256","Position":"10.0.0.5"}}}`,
		string(b))
}

func TestItemRequest_WireFormat(t *testing.T) {
	b, err := ItemRequest("TRI.N")
	require.NoError(t, err)
	assert.Equal(t, `{"ID":2,"Key":{"Name":"TRI.N"}}`, string(b))
}

func TestPingPong(t *testing.T) {
	assert.Equal(t, `{"Type":"Ping"}`, string(Ping()))
	assert.Equal(t, `{"Type":"Pong"}`, string(Pong()))

	p := Ping()
	p[0] = 'x'
	assert.Equal(t, `{"Type":"Ping"}`, string(Ping()), "返回值必须是副本")
}

func TestDecode_LoginRefresh(t *testing.T) {
	frame := []byte(`[{"ID":1,"Type":"Refresh","Domain":"Login","Key":{"Name":"alice","Elements":{"ApplicationId":"256"}},
		"State":{"Stream":"Open","Data":"Ok","Text":"Login accepted by host ads1."},
		"Elements":{"PingTimeout":20,"MaxMsgSize":61426}}]`)

	msgs, err := Decode(frame)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	m := msgs[0]
	assert.Equal(t, TypeRefresh, m.Type)
	assert.True(t, m.IsLogin())
	assert.Equal(t, 1, m.ID)
	assert.True(t, m.State.Open())
	assert.Equal(t, DataOk, m.State.Data)
	require.NotNil(t, m.Key)
	assert.Equal(t, "alice", m.Key.Name)

	pt, ok := m.LoginPingTimeout()
	assert.True(t, ok)
	assert.Equal(t, 20, pt)
	assert.NotEmpty(t, m.Raw)
}

func TestDecode_Ping(t *testing.T) {
	msgs, err := Decode([]byte(`[{"Type":"Ping"}]`))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, TypePing, msgs[0].Type)
	assert.Equal(t, Domain(""), msgs[0].Domain)
}

func TestDecode_MultipleAndDefaultDomain(t *testing.T) {
	frame := []byte(`[{"ID":2,"Type":"Refresh","Key":{"Service":"ELEKTRON_DD","Name":"TRI.N"},
		"State":{"Stream":"Open","Data":"Ok"},"Fields":{"BID":39.9,"ASK":40.05,"TRDPRC_1":null}},
		{"ID":2,"Type":"Update","Fields":{"BID":39.91}}]`)

	msgs, err := Decode(frame)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, DomainMarketPrice, msgs[0].Domain)
	assert.Equal(t, "ELEKTRON_DD", msgs[0].Key.Service)
	assert.Equal(t, "39.9", string(msgs[0].Fields["BID"]))
	assert.Equal(t, TypeUpdate, msgs[1].Type)
	assert.Nil(t, msgs[1].Key)
}

func TestDecode_SingleObject(t *testing.T) {
	msgs, err := Decode([]byte(` {"Type":"Pong"} `))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, TypePong, msgs[0].Type)
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"not json":     "hello",
		"broken array": `[{"Type":"Ping"}`,
		"missing type": `[{"ID":1,"Domain":"Login"}]`,
		"scalar item":  `[1]`,
		"bad type":     `[{"Type":5}]`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(in))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestLoginPingTimeout_Missing(t *testing.T) {
	msgs, err := Decode([]byte(`[{"ID":1,"Type":"Refresh","Domain":"Login","State":{"Stream":"Open"}}]`))
	require.NoError(t, err)
	_, ok := msgs[0].LoginPingTimeout()
	assert.False(t, ok)

	msgs, err = Decode([]byte(`[{"ID":1,"Type":"Refresh","Domain":"Login","Elements":{"PingTimeout":"x"}}]`))
	require.NoError(t, err)
	_, ok = msgs[0].LoginPingTimeout()
	assert.False(t, ok)

	msgs, err = Decode([]byte(`[{"ID":1,"Type":"Refresh","Domain":"Login","Elements":{"PingTimeout":1e10}}]`))
	require.NoError(t, err)
	_, ok = msgs[0].LoginPingTimeout()
	assert.False(t, ok, "超出范围的 PingTimeout 当作没下发")
}

func TestState_Open(t *testing.T) {
	var nilState *State
	assert.False(t, nilState.Open())
	assert.False(t, (&State{Stream: StreamClosed}).Open())
	assert.True(t, (&State{Stream: StreamOpen}).Open())
}

func TestPretty(t *testing.T) {
	out := Pretty([]byte(`[{"Type":"Ping"}]`))
	assert.Equal(t, "[\n  {\n    \"Type\": \"Ping\"\n  }\n]", string(out))
	assert.Equal(t, "not json", string(Pretty([]byte("not json"))))
}
