package service

import "math"

// qtyEpsilon 数量比较容差
const qtyEpsilon = 1e-6

// roundingSlack 多次4位小数舍入可累积的最大误差
const roundingSlack = 0.001

// round4 按列精度保留4位小数
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func lessThan(a, b float64) bool {
	return a < b-qtyEpsilon
}

func greaterThan(a, b float64) bool {
	return a > b+qtyEpsilon
}

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) <= qtyEpsilon
}
