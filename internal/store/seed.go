package store

// DefaultConfigs are seeded into system_configs on first EnsureSchema.
var DefaultConfigs = []ConfigEntry{
	{Key: "total_capital", Value: "10000000", Type: "float", Description: "total trading capital (KRW)"},
	{Key: "max_risk_per_trade_pct", Value: "1.0", Type: "float", Description: "max risk per trade (%)"},
	{Key: "max_position_count", Value: "10", Type: "int", Description: "max concurrent positions"},
	{Key: "trade_mode", Value: "PAPER", Type: "str", Description: "trade mode (LIVE/PAPER)"},
	{Key: "drawdown_yellow_pct", Value: "5.0", Type: "float", Description: "drawdown YELLOW warning threshold (%)"},
	{Key: "drawdown_orange_pct", Value: "10.0", Type: "float", Description: "drawdown ORANGE warning threshold (%)"},
	{Key: "drawdown_red_pct", Value: "15.0", Type: "float", Description: "drawdown RED warning threshold (%)"},
	{Key: "drawdown_black_pct", Value: "20.0", Type: "float", Description: "drawdown BLACK trading halt threshold (%)"},
	{Key: "market_regime", Value: "NEUTRAL", Type: "str", Description: "market regime (STRONG_BULL/BULL/NEUTRAL/BEAR/STRONG_BEAR)"},
}

// Strategy is a seeded strategy definition.
type Strategy struct {
	Code        string
	Name        string
	Category    string // BULL, BEAR, NEUTRAL
	Description string
}

// DefaultStrategies are seeded into strategies on first EnsureSchema.
var DefaultStrategies = []Strategy{
	{Code: "BREAKOUT_PIVOT", Name: "Pivot breakout", Category: "BULL", Description: "buy on a pivot point breakout (VCP, cup with handle)"},
	{Code: "PULLBACK_MA", Name: "Moving average pullback", Category: "BULL", Description: "buy on moving average support inside an uptrend"},
	{Code: "GAP_FOLLOW", Name: "Gap follow", Category: "BULL", Description: "follow a gap up after an earnings surprise"},
	{Code: "MEAN_REVERSION", Name: "Mean reversion", Category: "NEUTRAL", Description: "buy the rebound from oversold levels"},
	{Code: "SHORT_HEDGE", Name: "Short hedge", Category: "BEAR", Description: "hedge with inverse ETFs in a bear market"},
}
