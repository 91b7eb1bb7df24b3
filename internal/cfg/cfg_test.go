package cfg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearTestEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"MT5_ACCOUNT", "MT5_PASSWORD", "MT5_SERVER", "MT5_PASSWORD_SECRET_ID", "MT5_SECRET_REGION"} {
		t.Setenv(key, "")
	}
}

func TestDefault(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, c Config)
	}{
		{
			name: "connection from environment",
			envVars: map[string]string{
				"MT5_ACCOUNT":  "87654321",
				"MT5_PASSWORD": "hunter2",
				"MT5_SERVER":   "Broker-Live",
			},
			validate: func(t *testing.T, c Config) {
				assert.Equal(t, 87654321, c.Connection.Account)
				assert.Equal(t, "hunter2", c.Connection.Password)
				assert.Equal(t, "Broker-Live", c.Connection.Server)
				assert.Equal(t, 60000, c.Connection.Timeout)
				assert.Empty(t, c.Connection.Path)
			},
		},
		{
			name:    "missing environment",
			envVars: map[string]string{},
			validate: func(t *testing.T, c Config) {
				assert.Equal(t, 0, c.Connection.Account)
				assert.Empty(t, c.Connection.Password)
				assert.Empty(t, c.Connection.Server)
			},
		},
		{
			name:    "malformed account falls back to zero",
			envVars: map[string]string{"MT5_ACCOUNT": "not-a-number"},
			validate: func(t *testing.T, c Config) {
				assert.Equal(t, 0, c.Connection.Account)
			},
		},
		{
			name:    "hardcoded defaults",
			envVars: map[string]string{},
			validate: func(t *testing.T, c Config) {
				assert.Empty(t, c.Trading.Symbols)
				assert.Equal(t, 0.01, c.Trading.DefaultVolume)
				assert.Equal(t, 20, c.Trading.DefaultDeviation)
				assert.Equal(t, 123456, c.Trading.MagicNumber)
				assert.Len(t, c.Trading.TradingHours, 5)
				assert.Equal(t, []string{"00:00-23:59"}, c.Trading.TradingHours["Monday"])
				assert.NotContains(t, c.Trading.TradingHours, "Saturday")
				assert.Equal(t, 5, c.RiskManagement.MaxPositions)
				assert.Equal(t, 2.0, c.RiskManagement.MaxEquityRiskPercent)
				assert.True(t, c.RiskManagement.UseTrailingStop)
				assert.Equal(t, 14, c.Signal.RSIPeriod)
				assert.Equal(t, 0.001, c.Signal.FVGThreshold)
				assert.Equal(t, "INFO", c.Logging.Level)
				assert.Equal(t, int64(10*1024*1024), c.Logging.MaxFileSize)
				assert.Equal(t, 5, c.Logging.BackupCount)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}
			tt.validate(t, Default())
		})
	}
}

func TestClone(t *testing.T) {
	orig := createValidConfig()
	cp := orig.Clone()
	require.Equal(t, orig, cp)

	cp.Trading.Symbols[0].Timeframes[0] = "H4"
	cp.Trading.Symbols[1].Name = "USDJPY"
	cp.Trading.TradingHours["Monday"][0] = "10:00-11:00"
	cp.Trading.TradingHours["Sunday"] = []string{"00:00-01:00"}

	assert.Equal(t, "M1", orig.Trading.Symbols[0].Timeframes[0])
	assert.Equal(t, "GBPUSD", orig.Trading.Symbols[1].Name)
	assert.Equal(t, "00:00-23:59", orig.Trading.TradingHours["Monday"][0])
	assert.NotContains(t, orig.Trading.TradingHours, "Sunday")
}

func TestTradingSettings_Symbol(t *testing.T) {
	trading := createValidConfig().Trading

	s, ok := trading.Symbol("GBPUSD")
	require.True(t, ok)
	assert.Equal(t, "H1", s.ChartTimeframe)

	_, ok = trading.Symbol("XAUUSD")
	assert.False(t, ok)

	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, trading.SymbolNames())
}

func TestApply_PartialUpdate(t *testing.T) {
	c := createValidConfig()

	p, err := PatchFromMap(map[string]any{
		"trading": map[string]any{"default_volume": 0.02},
	})
	require.NoError(t, err)

	updated, err := c.Apply(p)
	require.NoError(t, err)

	assert.Equal(t, 0.02, updated.Trading.DefaultVolume)
	assert.Equal(t, 0.01, c.Trading.DefaultVolume, "receiver must not change")

	// everything else is untouched
	expected := c.Clone()
	expected.Trading.DefaultVolume = 0.02
	assert.Equal(t, expected, updated)
	assert.NoError(t, updated.Validate())
}

func TestApply_InvalidValueLeavesReceiverUntouched(t *testing.T) {
	c := createValidConfig()
	before := c.Clone()

	p, err := PatchFromMap(map[string]any{
		"risk_management": map[string]any{"max_positions": -1},
	})
	require.NoError(t, err)

	updated, err := c.Apply(p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "update", ce.Op)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.Has("risk_management.max_positions"))

	assert.Equal(t, Config{}, updated)
	assert.Equal(t, before, c)
	assert.Equal(t, 5, c.RiskManagement.MaxPositions)
}

func TestApply_ReplacesCollectionsWholesale(t *testing.T) {
	c := createValidConfig()

	p, err := ParsePatch([]byte(`{
		"trading": {
			"symbols": [
				{"name": "XAUUSD", "timeframes": ["H1"], "chart_timeframe": "H1",
				 "max_spread": 3.5, "swap_long": -5.1, "swap_short": 1.2, "margin_rate": 0.1}
			],
			"trading_hours": {"Saturday": ["10:00-14:00"]}
		}
	}`))
	require.NoError(t, err)

	updated, err := c.Apply(p)
	require.NoError(t, err)

	require.Len(t, updated.Trading.Symbols, 1)
	assert.Equal(t, "XAUUSD", updated.Trading.Symbols[0].Name)
	assert.Equal(t, map[string][]string{"Saturday": {"10:00-14:00"}}, updated.Trading.TradingHours)

	// patch contents are copied, not aliased
	(*p.Trading.Symbols)[0].Name = "mutated"
	p.Trading.TradingHours["Saturday"][0] = "00:00-00:01"
	assert.Equal(t, "XAUUSD", updated.Trading.Symbols[0].Name)
	assert.Equal(t, "10:00-14:00", updated.Trading.TradingHours["Saturday"][0])
}

func TestApply_PartialSymbolIsRejected(t *testing.T) {
	c := createValidConfig()

	p, err := ParsePatch([]byte(`{"trading": {"symbols": [{"name": "EURUSD"}]}}`))
	require.NoError(t, err)

	_, err = c.Apply(p)
	require.Error(t, err)
	ve := Violations(err)
	assert.NotEmpty(t, ve)
}

func TestApply_EmptyPatch(t *testing.T) {
	c := createValidConfig()
	assert.True(t, Patch{}.IsEmpty())

	updated, err := c.Apply(Patch{})
	require.NoError(t, err)
	assert.Equal(t, c, updated)
}

func TestParsePatch(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		check   func(t *testing.T, p Patch)
	}{
		{
			name:  "nested scalar",
			input: `{"connection": {"account": 87654321}}`,
			check: func(t *testing.T, p Patch) {
				require.NotNil(t, p.Connection)
				require.NotNil(t, p.Connection.Account)
				assert.Equal(t, 87654321, *p.Connection.Account)
				assert.Nil(t, p.Connection.Password)
				assert.Nil(t, p.Trading)
			},
		},
		{
			name:  "explicit zero values are kept",
			input: `{"risk_management": {"use_trailing_stop": false, "max_positions": 0}}`,
			check: func(t *testing.T, p Patch) {
				require.NotNil(t, p.RiskManagement.UseTrailingStop)
				assert.False(t, *p.RiskManagement.UseTrailingStop)
				require.NotNil(t, p.RiskManagement.MaxPositions)
				assert.Equal(t, 0, *p.RiskManagement.MaxPositions)
			},
		},
		{
			name:    "unknown top-level key",
			input:   `{"connection": {}, "broker": {"name": "x"}}`,
			wantErr: true,
		},
		{
			name:    "unknown nested key",
			input:   `{"signal": {"rsi_period": 10, "stoch_period": 5}}`,
			wantErr: true,
		},
		{
			name:    "unknown key inside symbol",
			input:   `{"trading": {"symbols": [{"name": "EURUSD", "lot_step": 0.01}]}}`,
			wantErr: true,
		},
		{
			name:    "wrong type",
			input:   `{"trading": {"magic_number": "abc"}}`,
			wantErr: true,
		},
		{
			name:    "fractional value for integer field",
			input:   `{"risk_management": {"max_positions": 2.5}}`,
			wantErr: true,
		},
		{
			name:    "group must be an object",
			input:   `{"logging": "DEBUG"}`,
			wantErr: true,
		},
		{
			name:    "not an object",
			input:   `[1, 2, 3]`,
			wantErr: true,
		},
		{
			name:    "trailing data",
			input:   `{"logging": {}} {"logging": {}}`,
			wantErr: true,
		},
		{
			name:    "empty document",
			input:   ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePatch([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrConfiguration))
				var ce *ConfigError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, "parse", ce.Op)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, p)
			}
		})
	}
}

func TestParseYAMLPatch(t *testing.T) {
	p, err := ParseYAMLPatch([]byte(`
trading:
  default_volume: 1
  symbols:
    - name: EURUSD
      timeframes: [M1, M5]
      chart_timeframe: M5
      max_spread: 1.5
      swap_long: -1.2
      swap_short: -0.8
      margin_rate: 0.05
logging:
  level: DEBUG
`))
	require.NoError(t, err)
	require.NotNil(t, p.Trading)
	assert.Equal(t, 1.0, *p.Trading.DefaultVolume)
	require.NotNil(t, p.Trading.Symbols)
	assert.Len(t, *p.Trading.Symbols, 1)
	assert.Equal(t, "DEBUG", *p.Logging.Level)

	_, err = ParseYAMLPatch([]byte("logging:\n  colour: true\n"))
	assert.Error(t, err, "unknown keys are rejected")

	p, err = ParseYAMLPatch(nil)
	require.NoError(t, err)
	assert.True(t, p.IsEmpty())
}

func TestPatchFromMap(t *testing.T) {
	c := createValidConfig()

	p, err := PatchFromMap(map[string]any{
		"connection": map[string]any{"account": 87654321},
		"trading": map[string]any{
			"symbols": []any{
				map[string]any{
					"name":            "EURUSD",
					"timeframes":      []string{"M1", "M5"},
					"chart_timeframe": "M5",
					"max_spread":      1.5,
					"swap_long":       -1.2,
					"swap_short":      -0.8,
					"margin_rate":     0.05,
				},
			},
		},
	})
	require.NoError(t, err)

	updated, err := c.Apply(p)
	require.NoError(t, err)
	assert.Equal(t, 87654321, updated.Connection.Account)
	require.Len(t, updated.Trading.Symbols, 1)
	assert.Equal(t, 1.5, updated.Trading.Symbols[0].MaxSpread)

	_, err = PatchFromMap(map[string]any{"connection": map[string]any{"acount": 1}})
	assert.Error(t, err)

	_, err = PatchFromMap(map[string]any{"connection": map[string]any{"account": make(chan int)}})
	assert.Error(t, err, "unencodable values are rejected")
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	clearTestEnv(t)

	for _, name := range []string{"mt5_config.json", "mt5_config.yaml", "mt5_config.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			orig := createValidConfig()
			orig.Trading.TradingHours["Saturday"] = []string{"08:00-12:00", "13:00-15:30"}
			orig.Signal.FVGThreshold = 0.0001234567
			orig.RiskManagement.UseTrailingStop = false

			require.NoError(t, Save(orig, path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, orig, loaded)
			assert.Equal(t, []string{"EURUSD", "GBPUSD"}, loaded.Trading.SymbolNames(), "symbol order preserved")
		})
	}
}

func TestSaveLoad_EmptySchedule(t *testing.T) {
	clearTestEnv(t)

	for _, name := range []string{"mt5_config.json", "mt5_config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			closed := createValidConfig()
			closed.Trading.TradingHours = map[string][]string{}
			require.NoError(t, closed.Validate())
			require.NoError(t, Save(closed, path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, closed, loaded)
			assert.Empty(t, loaded.Trading.TradingHours, "defaults must not come back")
		})

		t.Run(name+" nil schedule", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			unset := createValidConfig()
			unset.Trading.TradingHours = nil
			require.NoError(t, Save(unset, path))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.NotContains(t, string(data), "null")

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.NotNil(t, loaded.Trading.TradingHours)
			assert.Empty(t, loaded.Trading.TradingHours)
			assert.Nil(t, unset.Trading.TradingHours, "caller's config is not modified")
		})
	}
}

func TestSave_JSONLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mt5_config.json")
	require.NoError(t, Save(createValidConfig(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n    \"connection\": {")
	assert.Contains(t, string(data), `"risk_management"`)
	assert.Contains(t, string(data), `"chart_timeframe": "M5"`)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must be cleaned up")
}

func TestSave_Errors(t *testing.T) {
	err := Save(createValidConfig(), filepath.Join(t.TempDir(), "missing", "dir", "cfg.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "save", ce.Op)
}

func TestLoad(t *testing.T) {
	clearTestEnv(t)

	tests := []struct {
		name     string
		file     string
		content  string
		wantErr  bool
		validate func(t *testing.T, c Config)
	}{
		{
			name: "sparse document merges onto defaults",
			file: "mt5_config.json",
			content: `{
				"connection": {"account": 87654321, "password": "pw", "server": "Demo"},
				"trading": {"symbols": [{"name": "EURUSD", "timeframes": ["M1", "M5"], "chart_timeframe": "M5",
					"max_spread": 1.5, "swap_long": -1.2, "swap_short": -0.8, "margin_rate": 0.05}]}
			}`,
			validate: func(t *testing.T, c Config) {
				assert.Equal(t, 87654321, c.Connection.Account)
				assert.Equal(t, 60000, c.Connection.Timeout)
				assert.Equal(t, 0.01, c.Trading.DefaultVolume)
				assert.Equal(t, 14, c.Signal.RSIPeriod)
				assert.Equal(t, "INFO", c.Logging.Level)
			},
		},
		{
			name: "yaml document",
			file: "mt5_config.yaml",
			content: `
connection: {account: 1, password: pw, server: Demo}
trading:
  symbols:
    - {name: USDJPY, timeframes: [H1], chart_timeframe: H1, max_spread: 0.8, swap_long: 1, swap_short: -2, margin_rate: 0.04}
`,
			validate: func(t *testing.T, c Config) {
				assert.Equal(t, "USDJPY", c.Trading.Symbols[0].Name)
			},
		},
		{
			name:    "malformed json",
			file:    "mt5_config.json",
			content: `{"connection": {`,
			wantErr: true,
		},
		{
			name:    "document without symbols fails validation",
			file:    "mt5_config.json",
			content: `{"connection": {"account": 1, "password": "pw", "server": "Demo"}}`,
			wantErr: true,
		},
		{
			name: "infinite spread in yaml",
			file: "mt5_config.yaml",
			content: `
connection: {account: 1, password: pw, server: Demo}
trading:
  symbols:
    - {name: USDJPY, timeframes: [H1], chart_timeframe: H1, max_spread: .inf, swap_long: 1, swap_short: -2, margin_rate: 0.04}
`,
			wantErr: true,
		},
		{
			name: "nan swap in yaml",
			file: "mt5_config.yaml",
			content: `
connection: {account: 1, password: pw, server: Demo}
trading:
  symbols:
    - {name: USDJPY, timeframes: [H1], chart_timeframe: H1, max_spread: 0.8, swap_long: .nan, swap_short: -2, margin_rate: 0.04}
`,
			wantErr: true,
		},
		{
			name: "spread too large for the terminal",
			file: "mt5_config.json",
			content: `{
				"connection": {"account": 1, "password": "pw", "server": "Demo"},
				"trading": {"symbols": [{"name": "EURUSD", "timeframes": ["M5"], "chart_timeframe": "M5",
					"max_spread": 1e19, "swap_long": 0, "swap_short": 0, "margin_rate": 0.05}]}
			}`,
			wantErr: true,
		},
		{
			name:    "unknown key",
			file:    "mt5_config.json",
			content: `{"conection": {"account": 1}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			c, err := Load(path)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrConfiguration))
				var ce *ConfigError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, "load", ce.Op)
				assert.Equal(t, path, ce.Path)
				return
			}
			require.NoError(t, err)
			tt.validate(t, c)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfiguration))
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})
}

func TestTradingSettings_IsOpen(t *testing.T) {
	trading := TradingSettings{
		TradingHours: map[string][]string{
			"Monday":   {"09:00-12:00", "13:00-17:30"},
			"Saturday": {"10:00-11:00"},
			"Tuesday":  {"bogus"},
		},
	}

	// 2024-01-01 is a Monday
	at := func(day, hour, minute int) time.Time {
		return time.Date(2024, 1, day, hour, minute, 0, 0, time.UTC)
	}

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"inside first range", at(1, 10, 30), true},
		{"range start inclusive", at(1, 9, 0), true},
		{"range end inclusive", at(1, 17, 30), true},
		{"between ranges", at(1, 12, 30), false},
		{"before open", at(1, 8, 59), false},
		{"malformed range never matches", at(2, 10, 0), false},
		{"day without schedule", at(3, 10, 0), false},
		{"weekend range", at(6, 10, 15), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, trading.IsOpen(tt.t))
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("MT5_SERVER=FromDotEnv\nMT5_ACCOUNT=42\n"), 0o600))

	// register cleanup, then make the variables absent so the file applies
	t.Setenv("MT5_SERVER", "")
	t.Setenv("MT5_ACCOUNT", "")
	os.Unsetenv("MT5_SERVER")
	os.Unsetenv("MT5_ACCOUNT")

	require.NoError(t, LoadDotEnv(envFile, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "FromDotEnv", os.Getenv("MT5_SERVER"))
	assert.Equal(t, 42, Default().Connection.Account)

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env")))
}

type mockSecrets struct {
	secretsmanageriface.SecretsManagerAPI
	value    *string
	err      error
	requests []string
}

func (m *mockSecrets) GetSecretValueWithContext(_ aws.Context, in *secretsmanager.GetSecretValueInput, _ ...request.Option) (*secretsmanager.GetSecretValueOutput, error) {
	m.requests = append(m.requests, aws.StringValue(in.SecretId))
	if m.err != nil {
		return nil, m.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: m.value}, nil
}

func TestResolvePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("fills empty password from secret", func(t *testing.T) {
		clearTestEnv(t)
		t.Setenv("MT5_PASSWORD_SECRET_ID", "mt5/live/password")
		client := &mockSecrets{value: aws.String(" s3cret \n")}

		conn := ConnectionSettings{Account: 1, Server: "Demo", Timeout: 1000}
		require.NoError(t, ResolvePassword(ctx, &conn, client))
		assert.Equal(t, "s3cret", conn.Password)
		assert.Equal(t, []string{"mt5/live/password"}, client.requests)
	})

	t.Run("existing password wins", func(t *testing.T) {
		clearTestEnv(t)
		t.Setenv("MT5_PASSWORD_SECRET_ID", "mt5/live/password")
		client := &mockSecrets{value: aws.String("other")}

		conn := ConnectionSettings{Password: "local"}
		require.NoError(t, ResolvePassword(ctx, &conn, client))
		assert.Equal(t, "local", conn.Password)
		assert.Empty(t, client.requests)
	})

	t.Run("no secret configured", func(t *testing.T) {
		clearTestEnv(t)
		client := &mockSecrets{}
		conn := ConnectionSettings{}
		require.NoError(t, ResolvePassword(ctx, &conn, client))
		assert.Empty(t, conn.Password)
		assert.Empty(t, client.requests)
	})

	t.Run("fetch failure", func(t *testing.T) {
		clearTestEnv(t)
		t.Setenv("MT5_PASSWORD_SECRET_ID", "mt5/live/password")
		client := &mockSecrets{err: errors.New("access denied")}
		conn := ConnectionSettings{}
		err := ResolvePassword(ctx, &conn, client)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access denied")
	})

	t.Run("empty secret", func(t *testing.T) {
		clearTestEnv(t)
		t.Setenv("MT5_PASSWORD_SECRET_ID", "mt5/live/password")
		client := &mockSecrets{}
		conn := ConnectionSettings{}
		assert.Error(t, ResolvePassword(ctx, &conn, client))
	})
}
