package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/anchorstore/pkg/apperror"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func TestLoggerLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "info", Output: &buf})

	l.GraphLogger("create").LogStoreOperation("alice", time.Millisecond, 1, nil)
	l.GraphLogger("delete").LogStoreOperation("alice", time.Millisecond, 0,
		apperror.PropertyServer(errors.New("boom"), apperror.CodeCascadeIncomplete, "cascade stopped"))
	l.GraphLogger("update").LogStoreOperation("bob", time.Millisecond, 0,
		apperror.InvalidParameter(apperror.CodeElementNotFound, "no element"))
	l.GrpcLogger("/anchorstore.v1.MetadataStore/GetElement").LogGrpcRequest(time.Millisecond, nil)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3, "debug-level success must be filtered")
	assert.Equal(t, "error", lines[0]["level"])
	assert.Equal(t, "anchorstore", lines[0]["service"])
	assert.Equal(t, "graph", lines[0]["component"])
	assert.Equal(t, "delete", lines[0]["operation"])
	assert.Equal(t, "alice", lines[0]["user"])
	assert.Contains(t, lines[0]["error"], "boom")

	assert.Equal(t, "warn", lines[1]["level"])
	assert.Equal(t, "update", lines[1]["operation"])

	assert.Equal(t, "info", lines[2]["level"])
	assert.Equal(t, "grpc", lines[2]["component"])
	assert.Equal(t, "/anchorstore.v1.MetadataStore/GetElement", lines[2]["method"])
}

func TestNopAndComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "debug", Output: &buf})

	zl := l.Component("anchor")
	zl.Info().Msg("cascade")
	Nop().GraphLogger("create").LogStoreOperation("alice", time.Millisecond, 1, nil)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "anchor", lines[0]["component"])
}

func TestLoggerWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anchorstore.log")
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "debug", Output: &buf, File: path, MaxSizeMB: 1})

	l.GraphLogger("create").Info("hello").Str("guid", "g-1").Send()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"guid":"g-1"`)
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", ParseLevel("debug").String())
	assert.Equal(t, "info", ParseLevel("verbose").String())
}
