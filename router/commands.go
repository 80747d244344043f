package router

import (
	"context"
	"fmt"

	"github.com/songgao/keenroutesd/cidr"
	"github.com/songgao/keenroutesd/routing"
	"go.uber.org/zap"
)

// RemoveCommand is the CLI command clearing any static route for r.
func RemoveCommand(r cidr.Route) string {
	return fmt.Sprintf("no ip route %s %s", r.Network, r.Mask)
}

// AddCommand is the CLI command routing r through iface.
func AddCommand(r cidr.Route, iface string) string {
	return fmt.Sprintf("ip route %s %s %s", r.Network, r.Mask, iface)
}

// DryRunTarget only logs what would be sent.
type DryRunTarget struct {
	Logger    *zap.Logger
	Interface string
}

var _ routing.Target = (*DryRunTarget)(nil)

// Apply logs the remove and add commands for r and always succeeds.
func (t *DryRunTarget) Apply(_ context.Context, r cidr.Route) error {
	t.Logger.Sugar().Infof("[dry-run] %s", RemoveCommand(r))
	t.Logger.Sugar().Infof("[dry-run] %s", AddCommand(r, t.Interface))
	return nil
}

// Close does nothing.
func (t *DryRunTarget) Close() error { return nil }
