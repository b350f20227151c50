// internal/bridge/manager.go
package bridge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/albireox/lvm-spec-pressure/internal/config"
	"github.com/albireox/lvm-spec-pressure/internal/model"
	"github.com/albireox/lvm-spec-pressure/internal/protocol"
	"github.com/albireox/lvm-spec-pressure/internal/utils"
)

// LinkFactory builds the device link for one camera
type LinkFactory func(camera string, device config.DeviceConfig, logger *zap.Logger) (protocol.Transactor, error)

// SerialLinkFactory builds a serial link for a camera
func SerialLinkFactory(camera string, device config.DeviceConfig, logger *zap.Logger) (protocol.Transactor, error) {
	return protocol.NewSerialConnection(camera, &protocol.SerialConfig{
		URL:      device.URL,
		BaudRate: device.BaudRate,
		DataBits: device.DataBits,
		StopBits: device.StopBits,
		Parity:   device.Parity,
	}, logger)
}

// Manager runs one bridge server per camera of a spectrograph
type Manager struct {
	spec    string
	servers []*Server
	logger  *zap.Logger
}

// NewManager builds a server for every camera configured under spec.
// An unknown spec or an invalid device is returned as an error and no
// server is created.
func NewManager(spec string, cfg *config.Config, factory LinkFactory, logger *zap.Logger, events EventPublisher) (*Manager, error) {
	if factory == nil {
		factory = SerialLinkFactory
	}

	cameras, err := cfg.Cameras(spec)
	if err != nil {
		return nil, err
	}
	if len(cameras) == 0 {
		return nil, fmt.Errorf("%w: no cameras configured for spec %s", config.ErrCameraNotFound, spec)
	}

	m := &Manager{
		spec:   spec,
		logger: logger.With(zap.String("spec", spec)),
	}

	for _, camera := range cameras {
		cameraConfig, err := cfg.Camera(spec, camera)
		if err != nil {
			return nil, err
		}

		link, err := factory(camera, cameraConfig.Device, utils.NewBridgeLogger(logger, spec, camera))
		if err != nil {
			return nil, fmt.Errorf("failed to create link for camera %s: %w", camera, err)
		}

		m.servers = append(m.servers, NewServer(Config{
			Camera:    camera,
			Host:      cameraConfig.Host,
			Port:      cameraConfig.Port,
			Timeout:   cameraConfig.Timeout,
			Delimiter: cameraConfig.DelimiterBytes(),
		}, link, m.logger, events))
	}

	return m, nil
}

// Start starts every server. If one fails, those already started are
// stopped again.
func (m *Manager) Start(ctx context.Context) error {
	for i, server := range m.servers {
		if err := server.Start(ctx); err != nil {
			for _, started := range m.servers[:i] {
				_ = started.Stop()
			}
			return fmt.Errorf("failed to start bridge for camera %s: %w", server.Camera(), err)
		}
	}

	m.logger.Info("All bridges started", zap.Int("bridges", len(m.servers)))
	return nil
}

// Stop stops every server
func (m *Manager) Stop() error {
	var errs []error
	for _, server := range m.servers {
		if err := server.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("camera %s: %w", server.Camera(), err))
		}
	}
	return errors.Join(errs...)
}

// Spec returns the spectrograph served by this manager
func (m *Manager) Spec() string {
	return m.spec
}

// Servers returns the managed servers ordered by camera
func (m *Manager) Servers() []*Server {
	return m.servers
}

// Status returns a status snapshot for every bridge
func (m *Manager) Status() []model.BridgeStatus {
	statuses := make([]model.BridgeStatus, 0, len(m.servers))
	for _, server := range m.servers {
		status := server.Status()
		if status.Device != nil {
			status.Device.Spec = m.spec
		}
		statuses = append(statuses, status)
	}
	return statuses
}
