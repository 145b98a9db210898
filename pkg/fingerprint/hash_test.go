package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashStableAcrossLineEndings(t *testing.T) {
	unix := "Procedure Foo()\nReturn 1;\nEndProcedure\n"
	windows := "Procedure Foo()\r\nReturn 1;\r\nEndProcedure\r\n"
	oldMac := "Procedure Foo()\rReturn 1;\rEndProcedure\r"

	h := Hash(unix)
	require.Equal(t, h, Hash(windows))
	require.Equal(t, h, Hash(oldMac))
}

func TestHashIdempotent(t *testing.T) {
	content := "Function Bar()\nEndFunction\n"
	require.Equal(t, Hash(content), Hash(normalizeNewlines(content)))
}

func TestHashDiffersOnContentChange(t *testing.T) {
	require.NotEqual(t, Hash("a"), Hash("b"))
}
