package market

// defaultMarkets is the fallback catalog used when the supported-markets
// file is missing or corrupt. Small and stable per exchange.
var defaultMarkets = map[string][]string{
	"okx": {
		"BTC/USDT:USDT",
		"ETH/USDT:USDT",
		"BNB/USDT:USDT",
		"SOL/USDT:USDT",
		"DOGE/USDT:USDT",
		"XRP/USDT:USDT",
		"ADA/USDT:USDT",
		"AVAX/USDT:USDT",
		"DOT/USDT:USDT",
		"LINK/USDT:USDT",
	},
	"bybit": {
		"BTC/USDT:USDT",
		"ETH/USDT:USDT",
		"SOL/USDT:USDT",
		"DOGE/USDT:USDT",
		"XRP/USDT:USDT",
		"ADA/USDT:USDT",
		"AVAX/USDT:USDT",
		"DOT/USDT:USDT",
		"LINK/USDT:USDT",
		"MATIC/USDT:USDT",
	},
	"binance": {
		"BTC/USDT:USDT",
		"ETH/USDT:USDT",
		"SOL/USDT:USDT",
		"DOGE/USDT:USDT",
		"XRP/USDT:USDT",
		"ADA/USDT:USDT",
		"AVAX/USDT:USDT",
		"DOT/USDT:USDT",
		"LINK/USDT:USDT",
		"MATIC/USDT:USDT",
	},
}

// DefaultTop50Symbols is the static market-cap top-50 universe backing the
// "default" notification scope.
var DefaultTop50Symbols = []string{
	"BTC/USDT:USDT",
	"ETH/USDT:USDT",
	"BNB/USDT:USDT",
	"XRP/USDT:USDT",
	"SOL/USDT:USDT",
	"USDC/USDT:USDT",
	"DOGE/USDT:USDT",
	"ADA/USDT:USDT",
	"TRX/USDT:USDT",
	"LINK/USDT:USDT",
	"AVAX/USDT:USDT",
	"XLM/USDT:USDT",
	"BCH/USDT:USDT",
	"DOT/USDT:USDT",
	"SHIB/USDT:USDT",
	"SUI/USDT:USDT",
	"HBAR/USDT:USDT",
	"LTC/USDT:USDT",
	"UNI/USDT:USDT",
	"NEAR/USDT:USDT",
	"PEPE/USDT:USDT",
	"APT/USDT:USDT",
	"ICP/USDT:USDT",
	"POL/USDT:USDT",
	"FIL/USDT:USDT",
	"ARB/USDT:USDT",
	"VET/USDT:USDT",
	"ETC/USDT:USDT",
	"ATOM/USDT:USDT",
	"OP/USDT:USDT",
	"INJ/USDT:USDT",
	"MNT/USDT:USDT",
	"CRO/USDT:USDT",
	"IMX/USDT:USDT",
	"STX/USDT:USDT",
	"OKB/USDT:USDT",
	"KAS/USDT:USDT",
	"RENDER/USDT:USDT",
	"SEI/USDT:USDT",
	"TIA/USDT:USDT",
	"BONK/USDT:USDT",
	"FTM/USDT:USDT",
	"GRT/USDT:USDT",
	"RUNE/USDT:USDT",
	"ALGO/USDT:USDT",
	"FLOKI/USDT:USDT",
}
