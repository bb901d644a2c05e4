package featureflag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/tripguard/testkit"
	"github.com/ceyewan/tripguard/xerrors"
)

func newKillSwitch(t *testing.T, flags map[string]bool) (*KillSwitch, *StaticProvider) {
	t.Helper()
	kit := testkit.NewKit(t)
	p := NewStaticProvider(flags)
	return NewKillSwitch(p, WithLogger(kit.Logger), WithMeter(kit.Meter)), p
}

func TestKillSwitchDefaultsToEnabled(t *testing.T) {
	ks, _ := newKillSwitch(t, nil)
	ctx := context.Background()

	assert.True(t, ks.AutoBookingEnabled(ctx, "u-1"))
	assert.True(t, ks.PaymentProcessingEnabled(ctx))
	assert.True(t, ks.BookingProviderEnabled(ctx))
	assert.NoError(t, ks.CanProceedWithAutoBooking(ctx, "u-1"))

	status := ks.SystemStatus(ctx, "")
	assert.True(t, status.Overall)
	assert.Len(t, status.Components, 4)
	assert.NotContains(t, status.Components, ComponentUser)
}

func TestKillSwitchGlobalDisablesEverything(t *testing.T) {
	ks, _ := newKillSwitch(t, map[string]bool{FlagGlobalKillSwitch: false})
	ctx := context.Background()

	assert.False(t, ks.AutoBookingEnabled(ctx, ""))
	assert.False(t, ks.PaymentProcessingEnabled(ctx))
	assert.False(t, ks.BookingProviderEnabled(ctx))

	err := ks.CanProceedWithAutoBooking(ctx, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKillSwitchActive)

	var disabled *DisabledError
	require.True(t, errors.As(err, &disabled))
	assert.Equal(t, 5*time.Minute, disabled.RetryAfter)
	assert.Equal(t, xerrors.CodeKillSwitchActive, disabled.Code())
	require.Len(t, disabled.Components, 1)
	assert.Equal(t, ComponentGlobal, disabled.Components[0].Name)
	assert.Equal(t, "Global emergency kill switch activated", disabled.Components[0].Reason)
}

func TestKillSwitchFeatureLevel(t *testing.T) {
	ks, _ := newKillSwitch(t, map[string]bool{FlagPaymentKillSwitch: false})
	ctx := context.Background()

	assert.True(t, ks.AutoBookingEnabled(ctx, ""))
	assert.False(t, ks.PaymentProcessingEnabled(ctx))
	assert.True(t, ks.BookingProviderEnabled(ctx))

	status := ks.SystemStatus(ctx, "")
	assert.False(t, status.Overall)
	pay := status.Components[ComponentPaymentProcessing]
	assert.False(t, pay.Enabled)
	assert.Equal(t, LevelFeature, pay.Level)
	assert.Contains(t, pay.Reason, "emergency kill switch activated")
}

func TestKillSwitchAutoBookingFlag(t *testing.T) {
	ks, _ := newKillSwitch(t, map[string]bool{FlagAutoBookingKillSwitch: false})

	err := ks.CanProceedWithAutoBooking(context.Background(), "u-1")
	var disabled *DisabledError
	require.ErrorAs(t, err, &disabled)
	assert.Equal(t, []DisabledComponent{{
		Name:   ComponentAutoBooking,
		Reason: "auto_booking emergency kill switch activated",
	}}, disabled.Components)
	assert.Contains(t, err.Error(), "auto_booking")
}

func TestKillSwitchUserLevel(t *testing.T) {
	ks, p := newKillSwitch(t, nil)
	p.SetForUser(FlagUserKillSwitch, "u-bad", false)
	ctx := context.Background()

	assert.False(t, ks.AutoBookingEnabled(ctx, "u-bad"))
	assert.True(t, ks.AutoBookingEnabled(ctx, "u-good"))
	assert.True(t, ks.AutoBookingEnabled(ctx, ""), "user switch needs a user id")

	err := ks.CanProceedWithAutoBooking(ctx, "u-bad")
	var disabled *DisabledError
	require.ErrorAs(t, err, &disabled)
	require.Len(t, disabled.Components, 1)
	assert.Equal(t, ComponentUser, disabled.Components[0].Name)
	assert.Equal(t, "User u-bad emergency kill switch activated", disabled.Components[0].Reason)

	status := ks.SystemStatus(ctx, "u-bad")
	assert.False(t, status.Overall)
	assert.Equal(t, LevelUser, status.Components[ComponentUser].Level)
}

// 全局与功能开关查询失败按关闭处理，用户开关查询失败按开启处理
type failingProvider struct {
	failKeys map[string]bool
}

func (f failingProvider) BoolFlag(_ context.Context, key, _ string, def bool) (bool, error) {
	if f.failKeys[key] {
		return def, errors.New("redis: connection refused")
	}
	return def, nil
}

func TestKillSwitchFailureModes(t *testing.T) {
	ctx := context.Background()

	t.Run("global fails closed", func(t *testing.T) {
		ks := NewKillSwitch(failingProvider{map[string]bool{FlagGlobalKillSwitch: true}})
		assert.False(t, ks.AutoBookingEnabled(ctx, "u-1"))
		assert.False(t, ks.PaymentProcessingEnabled(ctx))
		s := ks.SystemStatus(ctx, "")
		assert.Contains(t, s.Components[ComponentGlobal].Reason, "failing closed")
	})

	t.Run("feature fails closed", func(t *testing.T) {
		ks := NewKillSwitch(failingProvider{map[string]bool{FlagDuffelKillSwitch: true}})
		assert.False(t, ks.BookingProviderEnabled(ctx))
		assert.True(t, ks.PaymentProcessingEnabled(ctx))
	})

	t.Run("user fails open", func(t *testing.T) {
		ks := NewKillSwitch(failingProvider{map[string]bool{FlagUserKillSwitch: true}})
		assert.True(t, ks.AutoBookingEnabled(ctx, "u-1"))
		assert.NoError(t, ks.CanProceedWithAutoBooking(ctx, "u-1"))
	})
}

func TestKillSwitchOnRedis(t *testing.T) {
	ctx := context.Background()
	_, client := testkit.NewRedisClient(t)
	p, err := NewRedisProvider(client, WithCacheTTL(0))
	require.NoError(t, err)
	ks := NewKillSwitch(p)

	require.NoError(t, ks.CanProceedWithAutoBooking(ctx, "u-1"))

	require.NoError(t, p.SetFlag(ctx, FlagAutoBookingKillSwitch, "", false))
	assert.ErrorIs(t, ks.CanProceedWithAutoBooking(ctx, "u-1"), ErrKillSwitchActive)

	require.NoError(t, p.SetFlag(ctx, FlagAutoBookingKillSwitch, "", true))
	assert.NoError(t, ks.CanProceedWithAutoBooking(ctx, "u-1"))
}
