package shell

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplaceEnvVars(t *testing.T) {
	t.Setenv("MFLOW_SOURCE", "/tmp/in.ts")

	s := ReplaceEnvVars("source: ${MFLOW_SOURCE}\nsink: ${MFLOW_SINK:/tmp/out.ts}\nurl: ${MFLOW_MISSING}")
	require.Equal(t, "source: /tmp/in.ts\nsink: /tmp/out.ts\nurl: ${MFLOW_MISSING}", s)
}
