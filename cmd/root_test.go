package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootHasStages(t *testing.T) {
	rc := NewRootCommand(&bytes.Buffer{}, &bytes.Buffer{}, &bytes.Buffer{})
	names := map[string]bool{}
	for _, c := range rc.Commands() {
		names[c.Name()] = true
	}
	for name := range stages {
		assert.True(t, names[name], "missing %s", name)
	}

	load, _, err := rc.Find([]string{"load"})
	require.NoError(t, err)
	for _, f := range []string{"config", "data-dir", "page-size", "lookback", "store", "state", "topic", "verbose"} {
		assert.NotNil(t, load.Flags().Lookup(f), "missing flag %s", f)
	}
}

func TestSetAllConfig(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "cabs.toml")
	require.NoError(t, os.WriteFile(conf, []byte("data-dir = \"/from/file\"\npage-size = 100\nstore = \"leveldb\"\n"), 0644))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config := flags.String("config", "", "")
	dataDir := flags.String("data-dir", "data", "")
	pageSize := flags.Int("page-size", 5000, "")
	store := flags.String("store", "postgres", "")
	topic := flags.String("topic", "", "")
	require.NoError(t, flags.Parse([]string{"--config", conf, "--store", "postgres"}))

	os.Setenv("CABS_PAGE_SIZE", "250")
	os.Setenv("CABS_TOPIC", "trips")
	defer os.Unsetenv("CABS_PAGE_SIZE")
	defer os.Unsetenv("CABS_TOPIC")

	require.NoError(t, setAllConfig(viper.New(), flags, "CABS"))
	assert.Equal(t, conf, *config)
	assert.Equal(t, "/from/file", *dataDir)
	assert.Equal(t, 250, *pageSize)
	assert.Equal(t, "postgres", *store)
	assert.Equal(t, "trips", *topic)
}

func TestSetAllConfigMissingFile(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config", "", "")
	require.NoError(t, flags.Parse([]string{"--config", filepath.Join(t.TempDir(), "nope.toml")}))
	assert.Error(t, setAllConfig(viper.New(), flags, "CABS"))
}
