package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/cnpj-geocoder/internal/address"
)

func TestInspectCommand(t *testing.T) {
	dir := chdirTemp(t)
	t.Setenv("GEOCODER_LOG_LEVEL", "error")
	t.Cleanup(func() {
		inspectInputs = nil
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})

	input := writeExtract(t, dir)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"inspect", "--input", input})
	require.NoError(t, rootCmd.Execute())

	var cov address.Coverage
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &cov))
	assert.Equal(t, 3, cov.Records)
	assert.Equal(t, 1, cov.FullQueries)
	assert.Equal(t, 2, cov.PostalQueries)
	assert.Equal(t, 1, cov.Unbuildable)
}
