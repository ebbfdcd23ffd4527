package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, map[string]any{"requestId": 7, "type": "hello"}))

	payload, err := ReadFrame(&buf)
	require.NoError(t, err)

	req, err := DecodeRequest(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), req.RequestID)
	assert.Equal(t, "hello", req.Type)
}

func TestReadFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
	buf.Write(header[:])

	_, err := ReadFrame(&buf)
	assert.Error(t, err)
}

func TestRequestArgsDecodesCommandFields(t *testing.T) {
	payload := []byte(`{"requestId":3,"type":"session.respond","sessionId":"s1","text":"hi"}`)
	req, err := DecodeRequest(payload)
	require.NoError(t, err)

	var args struct {
		SessionID string `json:"sessionId"`
		Text      string `json:"text"`
	}
	require.NoError(t, req.Args(&args))
	assert.Equal(t, "s1", args.SessionID)
	assert.Equal(t, "hi", args.Text)
}

func TestErrorRetryability(t *testing.T) {
	assert.True(t, NewError(KindBackpressure, "slow").Retryable)
	assert.True(t, NewError(KindStorageError, "disk").Retryable)
	assert.False(t, NewError(KindBadRequest, "shape").Retryable)
	assert.False(t, NewError(KindNotFound, "gone").Retryable)
	assert.False(t, NewError(KindControllerHeld, "held").Retryable)
}

func TestAsErrorWrapsUntypedAsInternal(t *testing.T) {
	perr := AsError(assert.AnError)
	require.NotNil(t, perr)
	assert.Equal(t, KindInternal, perr.Kind)

	typed := NewError(KindConflict, "id reuse")
	assert.Same(t, typed, AsError(typed))
	assert.Nil(t, AsError(nil))
}

func TestReplyEnvelopes(t *testing.T) {
	ok := OKReply(4, map[string]string{"status": "updated"})
	raw, err := json.Marshal(ok)
	require.NoError(t, err)
	assert.JSONEq(t, `{"requestId":4,"ok":true,"result":{"status":"updated"}}`, string(raw))

	fail := ErrReply(5, NewError(KindAuthFailed, "token mismatch"))
	raw, err = json.Marshal(fail)
	require.NoError(t, err)
	assert.JSONEq(t, `{"requestId":5,"ok":false,"error":{"kind":"auth_failed","message":"token mismatch","retryable":false}}`, string(raw))
}

func TestPTYOutputFrameBase64Bytes(t *testing.T) {
	frame := PTYOutputFrame{Type: FramePTYOutput, SessionID: "s1", Cursor: 12, Bytes: []byte("abc")}
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"bytes":"YWJj"`)

	var decoded PTYOutputFrame
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, []byte("abc"), decoded.Bytes)
}
