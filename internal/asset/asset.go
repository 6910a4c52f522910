// Package asset 定义受支持资产的封闭注册表：符号、精度与用途分类。
// 未注册的符号在入口处即被拒绝，不进入任何业务逻辑。
package asset

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknown 未注册的资产符号
var ErrUnknown = errors.New("unknown asset symbol")

// Symbol 资产符号
type Symbol string

const (
	BTC  Symbol = "BTC"
	ETH  Symbol = "ETH"
	SOL  Symbol = "SOL"
	USDC Symbol = "USDC"
	USDT Symbol = "USDT"
)

// Spec 资产规格
type Spec struct {
	// 原始整数单位的小数位数
	Decimals int32
	// 是否可作为永续合约标的
	Tradable bool
	// 是否可作为保证金抵押品
	Collateral bool
}

var registry = map[Symbol]Spec{
	BTC:  {Decimals: 8, Tradable: true},
	ETH:  {Decimals: 18, Tradable: true},
	SOL:  {Decimals: 9, Tradable: true},
	USDC: {Decimals: 6, Collateral: true},
	USDT: {Decimals: 6, Collateral: true},
}

// Parse 解析资产符号，未注册时返回 ErrUnknown
func Parse(s string) (Symbol, error) {
	sym := Symbol(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := registry[sym]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknown, s)
	}
	return sym, nil
}

// ParseTradable 解析并要求符号为可交易标的
func ParseTradable(s string) (Symbol, error) {
	sym, err := Parse(s)
	if err != nil {
		return "", err
	}
	if !registry[sym].Tradable {
		return "", fmt.Errorf("%w: %q is not tradable", ErrUnknown, s)
	}
	return sym, nil
}

// ParseCollateral 解析并要求符号为合法抵押品
func ParseCollateral(s string) (Symbol, error) {
	sym, err := Parse(s)
	if err != nil {
		return "", err
	}
	if !registry[sym].Collateral {
		return "", fmt.Errorf("%w: %q is not accepted as collateral", ErrUnknown, s)
	}
	return sym, nil
}

// Decimals 返回资产原始单位的小数位数
func (s Symbol) Decimals() int32 {
	return registry[s].Decimals
}

// Tradable 判断是否可作为合约标的
func (s Symbol) Tradable() bool {
	return registry[s].Tradable
}

// Collateral 判断是否可作为抵押品
func (s Symbol) Collateral() bool {
	return registry[s].Collateral
}

// String 实现 fmt.Stringer
func (s Symbol) String() string {
	return string(s)
}

// All 返回全部注册符号（测试与管理接口用）
func All() []Symbol {
	out := make([]Symbol, 0, len(registry))
	for sym := range registry {
		out = append(out, sym)
	}
	return out
}
