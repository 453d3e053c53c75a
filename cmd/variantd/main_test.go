package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-variant/pkg/simplevariant"
)

func TestWriteOutput(t *testing.T) {
	t.Cleanup(func() { outputFormat = "yaml" })

	stats := &simplevariant.VariantStats{
		TotalImages: 2,
		Variants:    []simplevariant.VariantStat{{Variant: "thumb", Count: 1, Coverage: 0.5}},
	}

	var buf bytes.Buffer
	outputFormat = "yaml"
	require.NoError(t, writeOutput(&buf, stats))
	assert.Contains(t, buf.String(), "total_images: 2")
	assert.Contains(t, buf.String(), "variant: thumb")

	buf.Reset()
	outputFormat = "json"
	require.NoError(t, writeOutput(&buf, stats))
	var decoded simplevariant.VariantStats
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, int64(2), decoded.TotalImages)

	outputFormat = "xml"
	assert.Error(t, writeOutput(&buf, stats))
}

func TestStatsCommandWithMemoryBackends(t *testing.T) {
	t.Setenv("DATABASE_URL", "memory")
	t.Setenv("STORAGE_URL", "memory://")
	t.Setenv("CACHE_URL", "none")
	t.Setenv("ENVIRONMENT", "testing")
	t.Cleanup(func() { outputFormat = "yaml" })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"stats", "--env-file", "", "-o", "json"})
	require.NoError(t, rootCmd.Execute())

	var stats simplevariant.VariantStats
	require.NoError(t, json.Unmarshal(out.Bytes(), &stats))
	assert.Equal(t, int64(0), stats.TotalImages)
	assert.Len(t, stats.Variants, len(simplevariant.DefaultCatalog()))
}

func TestMigrateRequiresPostgres(t *testing.T) {
	t.Setenv("DATABASE_URL", "memory")
	t.Setenv("ENVIRONMENT", "testing")

	rootCmd.SetArgs([]string{"migrate", "--env-file", ""})
	assert.Error(t, rootCmd.Execute())
}
