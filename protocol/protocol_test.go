package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatLineRoundTrip(t *testing.T) {
	cases := []struct {
		name                       string
		senderID, senderName, body string
	}{
		{"plain", "alice01", "Alice", "hello team"},
		{"empty content", "alice01", "Alice", ""},
		{"empty name", "alice01", "", "hi"},
		{"empty id", "", "Alice", "hi"},
		{"all empty", "", "", ""},
		{"separator in content", "bob01", "Bob", "a" + ChatSeparator + "b" + ChatSeparator},
		{"unicode", "u1", "Zoë", "你好, world | ok"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			line := CombineChatLine(tc.senderID, tc.senderName, tc.body)

			got, ok := SplitChatLine(line)
			require.True(t, ok)
			assert.Equal(t, tc.senderID, got.SenderID)
			assert.Equal(t, tc.senderName, got.SenderName)
			assert.Equal(t, tc.body, got.Content)
			assert.Equal(t, line, got.String())
		})
	}
}

func TestSplitChatLineRejectsShortLines(t *testing.T) {
	_, ok := SplitChatLine("no separators here")
	assert.False(t, ok)

	_, ok = SplitChatLine("id" + ChatSeparator + "name")
	assert.False(t, ok)
}

func TestCodecRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	sent := []Envelope{
		{Operation: OpLogin, SenderID: "alice01", Data: Text("secret")},
		{Operation: OpRegister, SenderID: "bob01", Data: Pair("Bob", "pw")},
		{Operation: OpInitUser, SenderID: "admin", Data: Names(map[string]string{"alice01": "Alice"})},
		{Operation: OpInitGroup, Data: Group(GroupSnapshot{ID: "grp00001", Name: "Team", Owner: "alice01", Members: []string{"alice01"}})},
		{Operation: OpInitChat, TargetID: "grp00001", Data: Lines([]string{CombineChatLine("alice01", "Alice", "hi")})},
		{Operation: OpLogout},
	}
	for _, env := range sent {
		require.NoError(t, enc.Encode(env))
	}

	dec := NewDecoder(&buf)
	for _, want := range sent {
		got, err := dec.Decode()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := dec.Decode()
	require.ErrorIs(t, err, ErrConnClosed)
	assert.True(t, IsOrderlyClose(err))
}

func TestPayloadAccessors(t *testing.T) {
	text, ok := Text("hi").AsText()
	assert.True(t, ok)
	assert.Equal(t, "hi", text)

	_, ok = Pair("a", "b").AsText()
	assert.False(t, ok)

	var null *Payload
	_, _, ok = null.AsPair()
	assert.False(t, ok)

	a, b, ok := Pair("a", "b").AsPair()
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, []string{a, b})
}

func TestDecodeMalformedKeepsStream(t *testing.T) {
	var buf bytes.Buffer
	writeFrame(&buf, []byte("{not json"))
	require.NoError(t, NewEncoder(&buf).Encode(Envelope{Operation: OpInitUser}))

	dec := NewDecoder(&buf)

	_, err := dec.Decode()
	require.ErrorIs(t, err, ErrMalformed)
	assert.False(t, errors.Is(err, ErrConnClosed))

	env, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, OpInitUser, env.Operation)
}

func TestDecodeOversizedFrameClosesStream(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
	buf.Write(header[:])

	_, err := NewDecoder(&buf).Decode()
	require.ErrorIs(t, err, ErrConnClosed)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 10)
	buf.Write(header[:])
	buf.WriteString("abc")

	_, err := NewDecoder(&buf).Decode()
	require.ErrorIs(t, err, ErrConnClosed)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestEncodeOnClosedPipe(t *testing.T) {
	a, b := net.Pipe()
	b.Close()

	err := NewEncoder(a).Encode(Envelope{Operation: OpLogout})
	require.ErrorIs(t, err, ErrConnClosed)
	assert.True(t, IsOrderlyClose(err))
	a.Close()
}

func TestOperationCatalog(t *testing.T) {
	seen := make(map[Operation]bool)
	for _, op := range Operations() {
		assert.False(t, seen[op], "duplicate operation %d", op)
		seen[op] = true
		assert.True(t, op.Known())
		assert.False(t, strings.HasPrefix(op.String(), "op("))
	}

	assert.False(t, Operation(12345).Known())
	assert.Equal(t, "op(12345)", Operation(12345).String())
	assert.Equal(t, "login-failed-duplicate", OpLoginFailedDuplicate.String())
}

func writeFrame(w io.Writer, body []byte) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	w.Write(header[:])
	w.Write(body)
}
