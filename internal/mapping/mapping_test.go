package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Source: Source{Name: "shop", Type: SourceMySQL, ConnectionRef: "shop_db"},
		Table:  "orders",
		Schema: Schema{ID: "sch-1", Name: "Orders", Slug: "orders"},
		Transfer: Transfer{
			IncrementalMode:  ModeIncrementalPK,
			PKColumn:         "id",
			InitialWatermark: "0",
		},
	}
}

func TestName(t *testing.T) {
	assert.Equal(t, "shop.orders", validConfig().Name())
}

func TestEffectiveBatchSize(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, DefaultBatchSize, cfg.EffectiveBatchSize())

	cfg.Transfer.BatchSize = 100
	assert.Equal(t, 100, cfg.EffectiveBatchSize())
}

func TestWatermarkColumn(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "id", cfg.WatermarkColumn())

	cfg.Transfer.IncrementalMode = ModeIncrementalTimestamp
	cfg.Transfer.TimestampColumn = "updated_at"
	assert.Equal(t, "updated_at", cfg.WatermarkColumn())

	cfg.Transfer.IncrementalMode = ModeFull
	assert.Empty(t, cfg.WatermarkColumn())
}

func TestIncremental(t *testing.T) {
	cfg := validConfig()
	assert.True(t, cfg.Incremental())

	cfg.Transfer.IncrementalMode = ModeFull
	assert.False(t, cfg.Incremental())

	cfg.Transfer.IncrementalMode = ModeCustomSQL
	assert.False(t, cfg.Incremental())
}

func TestValidateOK(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsUnknownSourceType(t *testing.T) {
	cfg := validConfig()
	cfg.Source.Type = "oracle"

	assert.ErrorIs(t, cfg.Validate(), ErrUnsupportedSource)
}

func TestValidateRequiredFields(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing source type", func(c *Config) { c.Source.Type = "" }},
		{"missing source name", func(c *Config) { c.Source.Name = "" }},
		{"missing table", func(c *Config) { c.Table = "" }},
		{"missing schema slug", func(c *Config) { c.Schema.Slug = "" }},
		{"pk mode without pk column", func(c *Config) { c.Transfer.PKColumn = "" }},
		{"unknown mode", func(c *Config) { c.Transfer.IncrementalMode = "weekly" }},
		{"negative batch size", func(c *Config) { c.Transfer.BatchSize = -1 }},
		{"negative min records", func(c *Config) { c.Transfer.MinRecordsForUpload = -1 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)

			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateTimestampModeRequiresColumn(t *testing.T) {
	cfg := validConfig()
	cfg.Transfer.IncrementalMode = ModeIncrementalTimestamp
	cfg.Transfer.TimestampColumn = ""

	require.Error(t, cfg.Validate())

	cfg.Transfer.TimestampColumn = "updated_at"
	require.NoError(t, cfg.Validate())
}

func TestValidateCustomSQLRequiresQuery(t *testing.T) {
	cfg := validConfig()
	cfg.Transfer.IncrementalMode = ModeCustomSQL

	require.Error(t, cfg.Validate())

	cfg.Query = "SELECT * FROM orders"
	require.NoError(t, cfg.Validate())
}

func TestValidateDeleteRequiresPK(t *testing.T) {
	cfg := validConfig()
	cfg.Transfer.IncrementalMode = ModeFull
	cfg.Transfer.PKColumn = ""
	cfg.Transfer.DeleteAfterUpload = true

	require.Error(t, cfg.Validate())

	cfg.Transfer.PKColumn = "id"
	require.NoError(t, cfg.Validate())
}
