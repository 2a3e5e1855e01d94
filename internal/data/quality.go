package data

import (
	"crypto-signal-bot/internal/model"
	"math"
	"sort"
)

// ValidateBars 清洗并校验 OHLCV 窗口。
// 清洗：按开始时间排序，相同时间戳保留最后一根，丢弃含 NaN/Inf 的 K 线。
// 校验：结果非空、时间严格递增、价格为正、成交量非负、High/Low 关系成立。
// 返回 (是否有效, 清洗后的 K 线)；输入切片不会被修改。
func ValidateBars(bars []model.KLine) (bool, []model.KLine) {
	cleaned := make([]model.KLine, 0, len(bars))
	for _, b := range bars {
		if finite(b.Open, b.High, b.Low, b.Close, b.Volume) {
			cleaned = append(cleaned, b)
		}
	}
	sort.SliceStable(cleaned, func(i, j int) bool {
		return cleaned[i].StartTime.Before(cleaned[j].StartTime)
	})

	// 稳定排序后相同时间戳按原顺序相邻，保留最后一根
	deduped := cleaned[:0]
	for i, b := range cleaned {
		if i+1 < len(cleaned) && cleaned[i+1].StartTime.Equal(b.StartTime) {
			continue
		}
		deduped = append(deduped, b)
	}

	if len(deduped) == 0 {
		return false, deduped
	}
	for i, b := range deduped {
		if i > 0 && !b.StartTime.After(deduped[i-1].StartTime) {
			return false, deduped
		}
		if !validBar(b) {
			return false, deduped
		}
	}
	return true, deduped
}

func validBar(b model.KLine) bool {
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 || b.Volume < 0 {
		return false
	}
	if b.High < math.Max(math.Max(b.Open, b.Close), b.Low) {
		return false
	}
	return b.Low <= math.Min(b.Open, b.Close)
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
