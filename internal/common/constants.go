package common

import "math"

// Environment variable keys
const (
	EnvAccount          = "MT5_ACCOUNT"
	EnvPassword         = "MT5_PASSWORD"
	EnvServer           = "MT5_SERVER"
	EnvPasswordSecretID = "MT5_PASSWORD_SECRET_ID"
	EnvSecretRegion     = "MT5_SECRET_REGION"
	EnvConfigFile       = "MT5_CONFIG_FILE"
	EnvDataPath         = "MT5_DATA_PATH"
	EnvBridgeURL        = "MT5_BRIDGE_URL"
	EnvBridgeKey        = "MT5_BRIDGE_KEY"
	EnvBridgeSecret     = "MT5_BRIDGE_SECRET"
	EnvMetricsFile      = "MT5_METRICS_FILE"
)

// Configuration defaults
const (
	DefaultConfigFile   = "mt5_config.json"
	DefaultSecretRegion = "us-east-2"
	DefaultTimeoutMs    = 60000

	DefaultVolume          = 0.01
	DefaultDeviation       = 20
	DefaultMagicNumber     = 123456
	DefaultTradingDayRange = "00:00-23:59"

	DefaultMaxPositions          = 5
	DefaultMaxDailyLoss          = 100.0
	DefaultMaxDailyProfit        = 500.0
	DefaultMaxEquityRiskPercent  = 2.0
	DefaultStopLossPips          = 50
	DefaultTakeProfitPips        = 100
	DefaultUseTrailingStop       = true
	DefaultTrailingStopPips      = 30
	DefaultLogLevel              = "INFO"
	DefaultLogFilePath           = "mt5_trading_bot.log"
	DefaultLogMaxFileSize  int64 = 10 * 1024 * 1024 // 10 MB
	DefaultLogBackupCount        = 5
)

// Signal indicator defaults
const (
	DefaultRSIPeriod          = 14
	DefaultRSIOverbought      = 70
	DefaultRSIOversold        = 30
	DefaultMAFastPeriod       = 10
	DefaultMASlowPeriod       = 20
	DefaultMACDFastPeriod     = 12
	DefaultMACDSlowPeriod     = 26
	DefaultMACDSignalPeriod   = 9
	DefaultATRPeriod          = 14
	DefaultMLMINeighbors      = 200
	DefaultMLMIMomentumWindow = 20
	DefaultQRWindowSize       = 20
	DefaultQRDegree           = 2
	DefaultFVGThreshold       = 0.001
)

// Terminal bridge defaults
const (
	// SpreadPointsPerUnit converts a configured max spread into terminal spread points.
	SpreadPointsPerUnit    = 10
	MaxSpreadPoints        = math.MaxInt32
	DefaultBridgeTimeout   = 30 // seconds
	DefaultShutdownTimeout = 10 // seconds
)

// CLI defaults
const (
	DefaultHistoryLimit   = 20
	DefaultDataPath       = "data"
	DefaultChartTimeframe = "H1"
	DefaultMaxSpread      = 2.0
	DefaultMarginRate     = 1.0
)

// DefaultTimeframes seeds symbols created by the init command.
var DefaultTimeframes = []string{"M5", "M15", "H1"}

// Validation constants
const (
	MaxEquityRiskPercent = 100.0
	MaxSpread            = float64(MaxSpreadPoints) / SpreadPointsPerUnit
	MinOscillatorLevel   = 0
	MaxOscillatorLevel   = 100
)

// Log levels accepted in LoggingSettings.Level
var LogLevels = []string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}
