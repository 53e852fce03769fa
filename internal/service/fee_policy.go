package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
)

// FeeInput is what a fee policy sees about a cancellation.
type FeeInput struct {
	ChurchID         string
	ServiceID        string
	AppointmentStart time.Time
	Now              time.Time
	Category         models.CancellationCategory
}

// FeePolicy computes the cancellation fee for a with_fee cancellation.
type FeePolicy interface {
	CancellationFee(ctx context.Context, in FeeInput) (decimal.Decimal, error)
}

type serviceFeeReader interface {
	FindFee(ctx context.Context, churchID, serviceID string) (decimal.Decimal, bool, error)
}

var hundred = decimal.NewFromInt(100)

// PercentageFeePolicy charges a flat amount plus a percentage of the service fee.
type PercentageFeePolicy struct {
	percent decimal.Decimal
	flat    decimal.Decimal
	fees    serviceFeeReader
	logger  *zap.Logger
}

// NewPercentageFeePolicy builds the default policy. percent is 0-100 and is
// clamped to that range. fees may be nil, in which case only flat applies.
func NewPercentageFeePolicy(percent, flat decimal.Decimal, fees serviceFeeReader, logger *zap.Logger) *PercentageFeePolicy {
	if percent.IsNegative() {
		percent = decimal.Zero
	}
	if percent.GreaterThan(hundred) {
		percent = hundred
	}
	if flat.IsNegative() {
		flat = decimal.Zero
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PercentageFeePolicy{percent: percent, flat: flat, fees: fees, logger: logger}
}

// CancellationFee implements FeePolicy. no_fee cancellations always cost zero.
func (p *PercentageFeePolicy) CancellationFee(ctx context.Context, in FeeInput) (decimal.Decimal, error) {
	if in.Category != models.CancellationWithFee {
		return decimal.Zero, nil
	}
	fee := p.flat
	if p.fees != nil && p.percent.IsPositive() {
		base, ok, err := p.fees.FindFee(ctx, in.ChurchID, in.ServiceID)
		if err != nil {
			return decimal.Zero, err
		}
		if !ok {
			p.logger.Debug("no service fee configured", zap.String("service_id", in.ServiceID))
		}
		fee = fee.Add(base.Mul(p.percent).Div(hundred))
	}
	return fee.Round(2), nil
}
