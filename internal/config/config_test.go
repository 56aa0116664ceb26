package config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndRequiredFields(t *testing.T) {
	cmd := &cobra.Command{}
	v := viper.New()
	require.NoError(t, BindFlags(cmd, v))

	_, err := Load(v, "")
	assert.ErrorContains(t, err, "bucket-name")

	require.NoError(t, cmd.PersistentFlags().Set("bucket-name", "my-bucket"))
	require.NoError(t, cmd.PersistentFlags().Set("dynamo-table", "my-table"))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", cfg.BucketName)
	assert.Equal(t, "my-table", cfg.DynamoTable)
	assert.Equal(t, "sqlite", cfg.LocalIndex.Engine)
	assert.Equal(t, 90, cfg.MinStorageDuration)
	assert.False(t, cfg.DryRun)
}

func TestLoad_EnvOverridesDefaultButNotFlag(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("BUCKET_NAME", "env-bucket")
	t.Setenv("DYNAMO_TABLE", "env-table")

	cmd := &cobra.Command{}
	v := viper.New()
	require.NoError(t, BindFlags(cmd, v))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "env-bucket", cfg.BucketName)

	require.NoError(t, cmd.PersistentFlags().Set("log-level", "warn"))
	cfg, err = Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel, "explicit flag beats environment")
}

func TestBindFlags_InheritedByChildCommand(t *testing.T) {
	root := &cobra.Command{Use: "coldbackup"}
	v := viper.New()
	require.NoError(t, BindFlags(root, v))

	var ran bool
	child := &cobra.Command{
		Use: "backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			ran = true
			return nil
		},
	}
	root.AddCommand(child)

	root.SetArgs([]string{"backup", "--bucket-name", "child-bucket", "--dynamo-table", "child-table"})
	require.NoError(t, root.Execute())
	assert.True(t, ran)

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "child-bucket", cfg.BucketName, "root-bound persistent flags must parse through a subcommand")
	assert.Equal(t, "child-table", cfg.DynamoTable)
}

func TestSplitFilters_HandlesDelimitedAndRepeated(t *testing.T) {
	got := splitFilters([]string{`\.md$`, `a,b,  c`})
	assert.Equal(t, []string{`\.md$`, "a", "b", "c"}, got)
}
