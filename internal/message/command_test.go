package message

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func sendPayload(t *testing.T, channelID, nonce, content string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"channelId": channelID, "nonce": nonce, "content": content})
	require.NoError(t, err)
	return raw
}

func TestDecodeSendBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		nonce   string
		content string
		wantErr bool
	}{
		{name: "valid", channel: "c1", nonce: "n1", content: "hi"},
		{name: "empty content", channel: "c1", nonce: "n1", content: "", wantErr: true},
		{name: "whitespace content", channel: "c1", nonce: "n1", content: " \n\t ", wantErr: true},
		{name: "content 4000", channel: "c1", nonce: "n1", content: strings.Repeat("a", 4000)},
		{name: "content 4000 after trim", channel: "c1", nonce: "n1", content: "  " + strings.Repeat("a", 4000) + "  "},
		{name: "content 4001", channel: "c1", nonce: "n1", content: strings.Repeat("a", 4001), wantErr: true},
		{name: "content 4000 multibyte", channel: "c1", nonce: "n1", content: strings.Repeat("é", 4000)},
		{name: "empty nonce", channel: "c1", nonce: "", content: "hi", wantErr: true},
		{name: "nonce 64", channel: "c1", nonce: strings.Repeat("n", 64), content: "hi"},
		{name: "nonce 65", channel: "c1", nonce: strings.Repeat("n", 65), content: "hi", wantErr: true},
		{name: "empty channel", channel: "", nonce: "n1", content: "hi", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeSend(sendPayload(t, tt.channel, tt.nonce, tt.content))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidBody)
				return
			}
			require.NoError(t, err)
			require.Equal(t, strings.TrimSpace(tt.content), cmd.Content)
			require.Equal(t, tt.nonce, cmd.Nonce)
		})
	}
}

func TestDecodeSendMalformed(t *testing.T) {
	for _, raw := range []string{`"nope"`, `{"channelId":1}`, `[]`, ``} {
		_, err := DecodeSend(json.RawMessage(raw))
		require.ErrorIs(t, err, ErrInvalidBody, "payload %q", raw)
	}
}

func TestDecodeChannel(t *testing.T) {
	req := require.New(t)

	cmd, err := DecodeChannel(json.RawMessage(`{"channelId":"c1"}`))
	req.NoError(err)
	req.Equal("c1", cmd.ChannelID)

	_, err = DecodeChannel(json.RawMessage(`{"channelId":""}`))
	req.ErrorIs(err, ErrInvalidCommand)

	_, err = DecodeChannel(json.RawMessage(`{}`))
	req.ErrorIs(err, ErrInvalidCommand)

	_, err = DecodeChannel(json.RawMessage(`42`))
	req.ErrorIs(err, ErrInvalidCommand)
}

func TestAcks(t *testing.T) {
	req := require.New(t)
	m := Message{ID: "msg_1", CreatedAt: Now()}

	raw, err := json.Marshal(Accepted(m))
	req.NoError(err)
	req.JSONEq(`{"ok":true,"id":"msg_1","createdAt":"`+FormatTime(m.CreatedAt)+`"}`, string(raw))

	raw, err = json.Marshal(Rejected(ErrorInvalidBody))
	req.NoError(err)
	req.JSONEq(`{"ok":false,"error":"invalid_body"}`, string(raw))
}
