package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cyannimazing/churchms-backend-sub001/pkg/clock"
	appErrors "github.com/Cyannimazing/churchms-backend-sub001/pkg/errors"
)

type prunerStub struct {
	before []time.Time
	n      int64
	err    error
}

func (p *prunerStub) DeleteBefore(ctx context.Context, date time.Time) (int64, error) {
	p.before = append(p.before, date)
	return p.n, p.err
}

func TestSlotHousekeeperCutoff(t *testing.T) {
	store := &prunerStub{n: 12}
	clk := clock.NewMock(time.Date(2025, time.March, 31, 23, 30, 0, 0, time.UTC))
	h := NewSlotHousekeeper(store, 30, clk, nil)

	require.NoError(t, h.Tick(context.Background()))
	require.Len(t, store.before, 1)
	assert.Equal(t, day(2025, time.March, 1), store.before[0])

	h = NewSlotHousekeeper(store, -5, clk, nil)
	assert.Equal(t, day(2025, time.March, 30), h.Cutoff())
	h = NewSlotHousekeeper(store, 0, clk, nil)
	assert.Equal(t, day(2025, time.March, 30), h.Cutoff())
}

func TestSlotHousekeeperError(t *testing.T) {
	store := &prunerStub{err: errors.New("relation does not exist")}
	h := NewSlotHousekeeper(store, 7, clock.NewMock(time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC)), nil)

	err := h.Tick(context.Background())
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}
