package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	allowAllWritesCalls  int
	evictCleanPagesCalls int
	checkpointCalls      int
}

func (f *fakeTarget) AllowAllWrites()  { f.allowAllWritesCalls++ }
func (f *fakeTarget) EvictCleanPages() { f.evictCleanPagesCalls++ }
func (f *fakeTarget) Checkpoint()      { f.checkpointCalls++ }

func TestHandleCommandDispatch(t *testing.T) {
	target := &fakeTarget{}

	resp := HandleCommand(target, Command{Cmd: CmdAllowAllWrites})
	assert.True(t, resp.Success)
	assert.Equal(t, 1, target.allowAllWritesCalls)

	resp = HandleCommand(target, Command{Cmd: CmdEvictCleanPages})
	assert.True(t, resp.Success)
	assert.Equal(t, 1, target.evictCleanPagesCalls)

	resp = HandleCommand(target, Command{Cmd: CmdCheckpoint})
	assert.True(t, resp.Success)
	assert.Equal(t, 1, target.checkpointCalls)

	resp = HandleCommand(target, Command{Cmd: CmdInsertLogEntry, Msg: "hello"})
	assert.True(t, resp.Success)

	resp = HandleCommand(target, Command{Cmd: CmdInsertLogEntry})
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Diagnostic)
}

func TestHandleCommandUnknown(t *testing.T) {
	resp := HandleCommand(&fakeTarget{}, Command{Cmd: "reticulate-splines"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Diagnostic, "reticulate-splines")
}

func TestHandleCommandMissing(t *testing.T) {
	resp := HandleCommand(&fakeTarget{}, Command{})
	assert.False(t, resp.Success)
}

func TestServerPostCommand(t *testing.T) {
	target := &fakeTarget{}
	srv := NewServer(target)

	body, err := json.Marshal(Command{Cmd: CmdCheckpoint})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/command", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, target.checkpointCalls)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestServerPostCommandBadBody(t *testing.T) {
	srv := NewServer(&fakeTarget{})

	req := httptest.NewRequest(http.MethodPost, "/command", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
