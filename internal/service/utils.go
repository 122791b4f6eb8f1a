package service

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// CandleKeyLayout 固定宽度，字典序即时间序
	CandleKeyLayout = "2006-01-02 15:04:00"
	// PartitionLayout 按日分区的日期格式
	PartitionLayout = "2006-01-02"
)

// CandleKey 将本地时间截断到分钟，作为 K 线分组键
func CandleKey(t time.Time) string {
	return t.Truncate(time.Minute).Format(CandleKeyLayout)
}

// PartitionDate 返回本地日历日期，用作分区名
func PartitionDate(t time.Time) string {
	return t.Format(PartitionLayout)
}

func StringToDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(s))
}

// PositiveIntOr 解析正整数，解析失败或非正数时返回 def
func PositiveIntOr(s string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
