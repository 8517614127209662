package notification

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"twstock-screener/internal/model"
)

// ExitReasonLabels are the human-readable (Traditional Chinese) exit
// reasons shown on cards and reports.
var ExitReasonLabels = map[model.ExitReason]string{
	model.ExitTrendBreakEMA:     "股價連續多天跌破 EMA，趨勢轉弱",
	model.ExitVolumeFade:        "成交量明顯縮小且跌破 MA5，買盤力道減弱",
	model.ExitMACDFlipDown:      "MACD 由多翻空，動能轉弱",
	model.ExitADXBelowThreshold: "ADX 低於門檻，趨勢力道不足",
	model.ExitADXWeaken:         "ADX 連續多天走弱，趨勢轉疲",
	model.ExitKDDeathCrossHigh:  "KD 高檔（>80）出現死亡交叉，短線轉弱",
	model.ExitForcedLiquidation: "回測結束強制平倉",
}

// ReasonLabel returns the label for r, or r itself when unknown.
func ReasonLabel(r model.ExitReason) string {
	if s, ok := ExitReasonLabels[r]; ok {
		return s
	}
	return string(r)
}

// Fixed renders v with places decimals, or "N/A" when undefined.
func Fixed(v float64, places int32) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "N/A"
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}

// EntryCard renders an entry signal.
func EntryCard(r model.SignalResult, emaPeriod int) Alert {
	s := r.Snapshot
	inst := "資料不足"
	if !math.IsNaN(s.InstSum) {
		inst = Fixed(s.InstSum, 0) + " 張"
	}
	lines := []string{
		"📅 日期：" + model.DayKey(r.Date),
		"💰 收盤：" + Fixed(s.Close, 2),
		fmt.Sprintf("📈 EMA%d：%s", emaPeriod, Fixed(s.EMA, 2)),
		fmt.Sprintf("🔍 KD：K=%s，D=%s", Fixed(s.K, 2), Fixed(s.D, 2)),
		"📊 ADX：" + Fixed(s.ADX, 2),
		"🏦 法人4週買超：" + inst,
		"📤 MACD：" + Fixed(s.MACD, 2),
		"🛑 初始停損：" + Fixed(s.InitialStop, 2),
		"⭐ 綜合評分：" + Fixed(r.Score, 3),
	}
	return Alert{
		Level:   AlertInfo,
		Icon:    "🚀",
		Symbol:  r.Symbol,
		Title:   "進場訊號：" + r.Symbol,
		Message: strings.Join(lines, "\n"),
	}
}

// ExitCard renders an exit signal for a held symbol.
func ExitCard(r model.SignalResult) Alert {
	block := "（未提供詳細原因）"
	if len(r.ExitReasons) > 0 {
		bullets := make([]string, len(r.ExitReasons))
		for i, x := range r.ExitReasons {
			bullets[i] = "• " + ReasonLabel(x)
		}
		block = strings.Join(bullets, "\n")
	}
	lines := []string{
		"📅 日期：" + model.DayKey(r.Date),
		"💰 收盤：" + Fixed(r.Snapshot.Close, 2),
		"",
		"📌 <b>出場原因：</b>",
		block,
	}
	return Alert{
		Level:   AlertWarning,
		Icon:    "⚠️",
		Symbol:  r.Symbol,
		Title:   "出場訊號：" + r.Symbol,
		Message: strings.Join(lines, "\n"),
	}
}
