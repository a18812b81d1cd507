package dpi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRef(t *testing.T) {
	p, n := Ref(nil)
	assert.Nil(t, p)
	assert.Zero(t, n)

	b := []byte{1, 2, 3}
	p, n = Ref(b)
	assert.Equal(t, uint32(3), n)
	assert.Same(t, &b[0], p)
	assert.Equal(t, b, Bytes(p, n))
}

func TestRefString(t *testing.T) {
	p, n := RefString("")
	assert.Nil(t, p)
	assert.Zero(t, n)

	p, n = RefString("ORCL")
	assert.Equal(t, "ORCL", string(Bytes(p, n)))
}

func TestArrayRef(t *testing.T) {
	rows := []SubscrMessageRow{{Operation: OpInsert}, {Operation: OpDelete}}
	p, n := ArrayRef(rows)
	require.Equal(t, uint32(2), n)

	view := MessageRows(p, n)
	assert.Equal(t, OpDelete, view[1].Operation)

	view[0].Operation = OpUpdate
	assert.Equal(t, OpUpdate, rows[0].Operation, "views alias the backing array")

	assert.Nil(t, MessageRows(nil, 4))
	assert.Nil(t, MessageTables(nil, 0))
	assert.Nil(t, MessageQueries(nil, 0))
}

func TestBytes_NilOrEmpty(t *testing.T) {
	b := []byte{9}
	assert.Nil(t, Bytes(nil, 3))
	assert.Nil(t, Bytes(&b[0], 0))
}

func TestErrorFromInfo(t *testing.T) {
	assert.Nil(t, ErrorFromInfo(nil))

	msg := []byte("table or view does not exist\n")
	info := NewErrorInfo(942, "dpiStmt_execute", "parse", "")
	info.Message, info.MessageLength = Ref(msg)

	err := ErrorFromInfo(info)
	require.NotNil(t, err)

	msg[0] = 'X'
	assert.Equal(t, "table or view does not exist", err.Message)
	assert.Equal(t, int32(942), err.Code)
	assert.Equal(t, "HY000", err.SQLState)
	assert.Equal(t, "ORA-00942: table or view does not exist (dpiStmt_execute: parse)", err.Error())
}

func TestError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"message only", &Error{Message: "closed"}, "closed"},
		{"code", &Error{Code: 29970, Message: "invalid registration id"}, "ORA-29970: invalid registration id"},
		{"function without action", &Error{Code: 1, Message: "m", FnName: "f"}, "ORA-00001: m (f)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "aq", NamespaceAQ.String())
	assert.Equal(t, "dbchange", NamespaceDBChange.String())
	assert.Equal(t, "unknown", Namespace(9).String())
	assert.Equal(t, "http", ProtoHTTP.String())
	assert.Equal(t, "plsql", ProtoPLSQL.String())
	assert.Equal(t, "unknown", Protocol(9).String())
}
