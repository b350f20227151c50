// internal/discovery/scanner.go
package discovery

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"github.com/albireox/lvm-spec-pressure/internal/model"
)

// PortLister enumerates the serial ports of the host
type PortLister func() ([]*enumerator.PortDetails, error)

// ScanResult lists the host's serial ports and the configured devices
// that were not found among them
type ScanResult struct {
	Ports   []model.SerialPort `json:"ports"`
	Missing map[string]string  `json:"missing,omitempty"`
}

// Scanner matches host serial ports against the devices used by bridges
type Scanner struct {
	list   PortLister
	logger *zap.Logger
}

// NewScanner creates a scanner. A nil list uses the OS enumerator.
func NewScanner(list PortLister, logger *zap.Logger) *Scanner {
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}
	return &Scanner{
		list:   list,
		logger: logger.With(zap.String("scanner", "serial")),
	}
}

// Scan lists serial ports. assigned maps a device path to the camera using
// it; symlinks such as /dev/serial/by-id entries are resolved before matching.
func (s *Scanner) Scan(ctx context.Context, assigned map[string]string) (*ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	details, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	byPath := make(map[string]string, len(assigned))
	for path, camera := range assigned {
		byPath[resolve(path)] = camera
	}

	result := &ScanResult{Ports: make([]model.SerialPort, 0, len(details))}
	found := make(map[string]bool, len(details))
	for _, detail := range details {
		name := resolve(detail.Name)
		found[name] = true

		result.Ports = append(result.Ports, model.SerialPort{
			Name:         detail.Name,
			IsUSB:        detail.IsUSB,
			VID:          detail.VID,
			PID:          detail.PID,
			SerialNumber: detail.SerialNumber,
			Product:      detail.Product,
			Camera:       byPath[name],
		})
	}
	sort.Slice(result.Ports, func(i, j int) bool { return result.Ports[i].Name < result.Ports[j].Name })

	for path, camera := range assigned {
		if !found[resolve(path)] {
			if result.Missing == nil {
				result.Missing = make(map[string]string)
			}
			result.Missing[camera] = path
		}
	}

	s.logger.Debug("Serial scan completed",
		zap.Int("ports_found", len(result.Ports)),
		zap.Int("missing", len(result.Missing)),
	)
	return result, nil
}

func resolve(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}
