package auth

import (
	"context"
)

type contextKey string

const deviceContextKey contextKey = "gamedex_device"

// DeviceInfo holds the authenticated device identity extracted from an API key.
type DeviceInfo struct {
	KeyID                string
	DeviceID             string
	Name                 string
	Platform             string
	RPMLimit             *int
	DailySpendLimitCents *int
}

func ContextWithDevice(ctx context.Context, info *DeviceInfo) context.Context {
	return context.WithValue(ctx, deviceContextKey, info)
}

func DeviceFromContext(ctx context.Context) (*DeviceInfo, bool) {
	info, ok := ctx.Value(deviceContextKey).(*DeviceInfo)
	return info, ok
}
