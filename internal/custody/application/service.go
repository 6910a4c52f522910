package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hemanthK-supraoracles/perpetuals/internal/asset"
	"github.com/hemanthK-supraoracles/perpetuals/internal/custody/domain"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/db"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/fixedpoint"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/idgen"
	"github.com/shopspring/decimal"
)

// Service 托管账本应用服务。Transfer 供其他上下文在其事务内调用，
// Mint/Burn 是管理员出入金入口。
type Service struct {
	accounts domain.AccountRepository
	tx       db.Transactor
	admins   map[string]struct{}
	logger   *slog.Logger
}

func NewService(accounts domain.AccountRepository, tx db.Transactor, admins []string, logger *slog.Logger) *Service {
	adminSet := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		adminSet[a] = struct{}{}
	}
	return &Service{
		accounts: accounts,
		tx:       tx,
		admins:   adminSet,
		logger:   logger.With("module", "custody"),
	}
}

// Transfer 在两个地址间移动资产，金额为原始整数单位。
// 必须在外层事务内调用；账户按地址字典序加锁，避免互相等待。
func (s *Service) Transfer(ctx context.Context, from, to string, sym asset.Symbol, amount decimal.Decimal, reason string) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	if from == to {
		return fmt.Errorf("%w: self transfer", domain.ErrInvalidAmount)
	}

	first, second := from, to
	if second < first {
		first, second = second, first
	}
	firstAcc, err := s.accounts.GetOrCreateForUpdate(ctx, first, sym)
	if err != nil {
		return fmt.Errorf("lock account %s: %w", first, err)
	}
	secondAcc, err := s.accounts.GetOrCreateForUpdate(ctx, second, sym)
	if err != nil {
		return fmt.Errorf("lock account %s: %w", second, err)
	}

	fromAcc, toAcc := firstAcc, secondAcc
	if fromAcc.Address != from {
		fromAcc, toAcc = secondAcc, firstAcc
	}

	if err := fromAcc.Debit(amount); err != nil {
		return fmt.Errorf("debit %s %s %s: %w", from, amount, sym, err)
	}
	toAcc.Credit(amount)

	if err := s.accounts.Save(ctx, fromAcc); err != nil {
		return err
	}
	if err := s.accounts.Save(ctx, toAcc); err != nil {
		return err
	}

	return s.accounts.RecordTransfer(ctx, &domain.Transfer{
		TransferID:  idgen.GenIDString(),
		FromAddress: from,
		ToAddress:   to,
		Asset:       sym.String(),
		Amount:      amount,
		Reason:      reason,
	})
}

// Balance 查询某地址持有某资产的余额（原始整数单位）
func (s *Service) Balance(ctx context.Context, address string, sym asset.Symbol) (decimal.Decimal, error) {
	account, err := s.accounts.GetByAddressAndAsset(ctx, address, sym)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// BalanceView 地址某资产的余额视图
type BalanceView struct {
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

// Balances 查询某地址的全部余额
func (s *Service) Balances(ctx context.Context, address string) ([]BalanceView, error) {
	accounts, err := s.accounts.ListByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	views := make([]BalanceView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, BalanceView{Asset: a.Asset, Balance: a.Balance.String()})
	}
	return views, nil
}

type MintCmd struct {
	Caller    string
	Address   string
	Asset     string
	AmountRaw string
}

// Mint 管理员向某地址铸入资产，承担外部入金职责
func (s *Service) Mint(ctx context.Context, cmd MintCmd) error {
	if _, ok := s.admins[cmd.Caller]; !ok {
		return domain.ErrPermissionDenied
	}
	sym, amount, err := parseAssetAmount(cmd.Asset, cmd.AmountRaw)
	if err != nil {
		return err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		account, err := s.accounts.GetOrCreateForUpdate(ctx, cmd.Address, sym)
		if err != nil {
			return err
		}
		account.Credit(amount)
		if err := s.accounts.Save(ctx, account); err != nil {
			return err
		}
		return s.accounts.RecordTransfer(ctx, &domain.Transfer{
			TransferID:  idgen.GenIDString(),
			FromAddress: "sys.mint",
			ToAddress:   cmd.Address,
			Asset:       sym.String(),
			Amount:      amount,
			Reason:      "mint",
		})
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "minted", "address", cmd.Address, "asset", sym.String(), "amount", amount.String())
	return nil
}

type BurnCmd struct {
	Caller    string
	Address   string
	Asset     string
	AmountRaw string
}

// Burn 管理员从某地址销毁资产，承担外部出金职责
func (s *Service) Burn(ctx context.Context, cmd BurnCmd) error {
	if _, ok := s.admins[cmd.Caller]; !ok {
		return domain.ErrPermissionDenied
	}
	sym, amount, err := parseAssetAmount(cmd.Asset, cmd.AmountRaw)
	if err != nil {
		return err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		account, err := s.accounts.GetOrCreateForUpdate(ctx, cmd.Address, sym)
		if err != nil {
			return err
		}
		if err := account.Debit(amount); err != nil {
			return err
		}
		if err := s.accounts.Save(ctx, account); err != nil {
			return err
		}
		return s.accounts.RecordTransfer(ctx, &domain.Transfer{
			TransferID:  idgen.GenIDString(),
			FromAddress: cmd.Address,
			ToAddress:   "sys.burn",
			Asset:       sym.String(),
			Amount:      amount,
			Reason:      "burn",
		})
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "burned", "address", cmd.Address, "asset", sym.String(), "amount", amount.String())
	return nil
}

func parseAssetAmount(assetStr, amountRaw string) (asset.Symbol, decimal.Decimal, error) {
	sym, err := asset.Parse(assetStr)
	if err != nil {
		return "", decimal.Zero, err
	}
	amount, err := fixedpoint.ParseUnits(amountRaw)
	if err != nil {
		return "", decimal.Zero, err
	}
	if !amount.IsPositive() {
		return "", decimal.Zero, domain.ErrInvalidAmount
	}
	return sym, amount, nil
}
