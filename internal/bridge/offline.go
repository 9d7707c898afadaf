package bridge

import (
	"context"
	"fmt"

	btmodels "scanmap/internal/bluetooth/models"
	"scanmap/internal/permission"
	wifimodels "scanmap/internal/wifi/models"
	"scanmap/pkg/platform/sentinel"
)

// Offline stands in for every collaborator when no broker is configured.
// Each call fails with sentinel.ErrUnavailable.
type Offline struct{}

var errOffline = fmt.Errorf("no companion device bridge: %w", sentinel.ErrUnavailable)

func (Offline) IsEnabled(context.Context) (bool, error)              { return false, errOffline }
func (Offline) Scan(context.Context) ([]wifimodels.Network, error)   { return nil, errOffline }
func (Offline) Connect(context.Context, string, string) error        { return errOffline }
func (Offline) StopScan(context.Context) error                       { return nil }
func (Offline) Check(context.Context, permission.Name) (bool, error) { return false, errOffline }
func (Offline) StartScan(context.Context, func(error, *btmodels.Advertisement)) error {
	return errOffline
}
func (Offline) Request(context.Context, permission.Name) (permission.Result, error) {
	return "", errOffline
}
