package api

import (
	"sync"
	"time"

	"footprint-flow/internal/model"
)

// BarAggregator 将报价聚合为一分钟 K 线，只保留最近 capacity 根
type BarAggregator struct {
	mu       sync.Mutex
	interval time.Duration
	capacity int
	closed   []model.Bar // 已完成的 K 线，时间升序
	current  model.Bar
	start    time.Time // 零值表示尚未开始
}

func NewBarAggregator(interval time.Duration, capacity int) *BarAggregator {
	return &BarAggregator{interval: interval, capacity: capacity}
}

// ProcessTick 把报价合并到当前 K 线，跨周期时先收盘上一根
func (agg *BarAggregator) ProcessTick(tick model.Tick) {
	agg.mu.Lock()
	defer agg.mu.Unlock()

	price := tick.Price.InexactFloat64()
	start := tick.Time.Truncate(agg.interval)

	if !agg.start.IsZero() && start.After(agg.start) {
		agg.closed = append(agg.closed, agg.current)
		if len(agg.closed) > agg.capacity {
			agg.closed = agg.closed[len(agg.closed)-agg.capacity:]
		}
		// 新 K 线开盘价取上一根收盘价
		agg.current = model.Bar{
			Time:  start.Unix(),
			Open:  agg.current.Close,
			High:  max(agg.current.Close, price),
			Low:   min(agg.current.Close, price),
			Close: price,
		}
		agg.start = start
		return
	}

	if agg.start.IsZero() {
		agg.current = model.Bar{Time: start.Unix(), Open: price, High: price, Low: price}
		agg.start = start
	}

	agg.current.Close = price
	agg.current.High = max(agg.current.High, price)
	agg.current.Low = min(agg.current.Low, price)
}

// Bars 返回跳过最近 from 根之后的 count 根 K 线 (含未收盘的当前 K 线)，时间升序
func (agg *BarAggregator) Bars(from, count int) []model.Bar {
	agg.mu.Lock()
	defer agg.mu.Unlock()

	all := agg.closed
	if !agg.start.IsZero() {
		all = append(all[:len(all):len(all)], agg.current)
	}
	end := len(all) - from
	if end <= 0 || count <= 0 {
		return []model.Bar{}
	}
	begin := max(end-count, 0)

	out := make([]model.Bar, end-begin)
	copy(out, all[begin:end])
	return out
}
