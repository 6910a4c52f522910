// Package fixedpoint 提供定点数换算助手：8 位小数的美元报价刻度、
// 资金费率的 1e6 PRECISION 刻度与基点（bps）运算。两种刻度各自独立，不可混用。
package fixedpoint

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrMalformed 原始整数单位字符串不合法
var ErrMalformed = errors.New("malformed raw amount")

const (
	// PriceDecimals 交易报价的小数位数（美元价格刻度）
	PriceDecimals int32 = 8
	// RatePrecision 资金费率运算的定点刻度
	RatePrecision int64 = 1_000_000
	// BpsDenominator 基点分母，1 bp = 0.01%
	BpsDenominator int64 = 10_000
)

var ratePrecisionDec = decimal.NewFromInt(RatePrecision)

// FromRaw 把原始整数单位换算为自然单位，如 50000000（6 位小数）→ 50
func FromRaw(raw uint64, decimals int32) decimal.Decimal {
	return decimal.New(int64(raw), -decimals)
}

// ParseUnits 解析字符串形式的原始整数单位，拒绝负数、小数与非数字输入，不做刻度换算
func ParseUnits(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: must not be negative: %s", ErrMalformed, raw)
	}
	if d.Exponent() < 0 && !d.Equal(d.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("%w: must be an integer: %s", ErrMalformed, raw)
	}
	return d, nil
}

// ParseRaw 解析原始整数单位并换算为自然单位
func ParseRaw(raw string, decimals int32) (decimal.Decimal, error) {
	d, err := ParseUnits(raw)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Shift(-decimals), nil
}

// ScaleFromUnits 把原始整数单位（decimal 表示）换算为自然单位
func ScaleFromUnits(units decimal.Decimal, decimals int32) decimal.Decimal {
	return units.Shift(-decimals)
}

// ToRaw 把自然单位换算为原始整数单位，向下取整（截断有利于系统侧）
func ToRaw(d decimal.Decimal, decimals int32) decimal.Decimal {
	return d.Shift(decimals).Truncate(0)
}

// RawString 返回原始整数单位的字符串表示
func RawString(d decimal.Decimal, decimals int32) string {
	return ToRaw(d, decimals).String()
}

// Bps 计算基点比例：amount * bps / 10000
func Bps(amount decimal.Decimal, bps int64) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(bps)).Div(decimal.NewFromInt(BpsDenominator))
}

// MulDivFloor 精确计算 floor(a*b/c)，用于份额等整数单位运算
func MulDivFloor(a, b, c decimal.Decimal) decimal.Decimal {
	q, _ := a.Mul(b).QuoRem(c, 0)
	return q
}

// RatioToPrecisionUnits 把比率换算为 1e6 定点刻度（截断），用于对外投影
func RatioToPrecisionUnits(ratio decimal.Decimal) int64 {
	return ratio.Mul(ratePrecisionDec).Truncate(0).IntPart()
}

// PrecisionUnitsToRatio 把 1e6 定点刻度换算回比率
func PrecisionUnitsToRatio(units int64) decimal.Decimal {
	return decimal.NewFromInt(units).Div(ratePrecisionDec)
}
