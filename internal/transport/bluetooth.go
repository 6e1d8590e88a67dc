package transport

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"
)

// BLE is the production Transport backed by tinygo.org/x/bluetooth.
type BLE struct {
	cfg     Config
	log     zerolog.Logger
	adapter *bluetooth.Adapter

	device     bluetooth.Device
	writeChar  *bluetooth.DeviceCharacteristic
	notifyChar *bluetooth.DeviceCharacteristic
	connected  bool
}

// NewBLE returns a Transport using the default host adapter.
func NewBLE(cfg Config, log zerolog.Logger) *BLE {
	return &BLE{cfg: cfg, log: log, adapter: bluetooth.DefaultAdapter}
}

// Scan searches for a programmer device by advertised name and returns its
// address. It stops at the first match or when the context expires.
func (b *BLE) Scan(ctx context.Context) (string, error) {
	if err := b.adapter.Enable(); err != nil {
		return "", &ConnectionError{Err: err}
	}

	found := make(chan string, 1)
	go func() {
		err := b.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := strings.ToLower(result.LocalName())
			if name == "" {
				return
			}
			for _, pat := range b.cfg.NamePatterns {
				if strings.Contains(name, strings.ToLower(pat)) {
					addr, _ := result.Address.MarshalText()
					select {
					case found <- string(addr):
					default:
					}
					adapter.StopScan()
					return
				}
			}
		})
		if err != nil {
			b.log.Debug().Err(err).Msg("scan stopped")
		}
	}()

	select {
	case addr := <-found:
		b.log.Info().Str("address", addr).Msg("device found")
		return addr, nil
	case <-ctx.Done():
		b.adapter.StopScan()
		return "", &ConnectionError{Err: ctx.Err()}
	}
}

// Connect links to the device at address and resolves the configured
// service and characteristics. A missing UUID means an incompatible or
// unknown firmware and fails rather than proceeding silently.
func (b *BLE) Connect(ctx context.Context, address string) error {
	if err := b.adapter.Enable(); err != nil {
		return &ConnectionError{Address: address, Err: err}
	}

	var addr bluetooth.Address
	if err := addr.UnmarshalText([]byte(address)); err != nil {
		return &ConnectionError{Address: address, Err: err}
	}

	params := bluetooth.ConnectionParams{}
	if dl, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = bluetooth.NewDuration(time.Until(dl))
	}

	device, err := b.adapter.Connect(addr, params)
	if err != nil {
		return &ConnectionError{Address: address, Err: err}
	}
	b.device = device
	b.connected = true
	b.log.Info().Str("address", address).Msg("connected")

	services, err := device.DiscoverServices(nil)
	if err != nil {
		b.Disconnect()
		return &ConnectionError{Address: address, Err: err}
	}

	var svc *bluetooth.DeviceService
	for i := range services {
		if strings.EqualFold(services[i].UUID().String(), b.cfg.ServiceUUID) {
			svc = &services[i]
			break
		}
	}
	if svc == nil {
		b.Disconnect()
		return &UnknownDeviceError{Address: address, Missing: "service " + b.cfg.ServiceUUID}
	}

	chars, err := svc.DiscoverCharacteristics(nil)
	if err != nil {
		b.Disconnect()
		return &ConnectionError{Address: address, Err: err}
	}
	for i := range chars {
		uuid := chars[i].UUID().String()
		b.log.Debug().Str("uuid", uuid).Msg("characteristic")
		if strings.EqualFold(uuid, b.cfg.WriteCharUUID) {
			b.writeChar = &chars[i]
		}
		if strings.EqualFold(uuid, b.cfg.NotifyCharUUID) {
			b.notifyChar = &chars[i]
		}
	}
	if b.writeChar == nil {
		b.Disconnect()
		return &UnknownDeviceError{Address: address, Missing: "write characteristic " + b.cfg.WriteCharUUID}
	}
	if b.notifyChar == nil {
		b.Disconnect()
		return &UnknownDeviceError{Address: address, Missing: "notify characteristic " + b.cfg.NotifyCharUUID}
	}

	return nil
}

// Subscribe enables notifications on the notify characteristic. The BLE
// stack delivers notifications in order on a single connection, which the
// frame codec relies on.
func (b *BLE) Subscribe(h NotificationHandler) error {
	if b.notifyChar == nil {
		return &ConnectionError{Err: errNotConnected}
	}
	if err := b.notifyChar.EnableNotifications(func(buf []byte) {
		p := make([]byte, len(buf))
		copy(p, buf)
		h(p)
	}); err != nil {
		return &ConnectionError{Err: err}
	}
	// Let the subscription settle before the first command.
	time.Sleep(100 * time.Millisecond)
	return nil
}

// WriteCharacteristic writes one chunk to the command characteristic.
// tinygo bluetooth on Linux only supports write-without-response, which the
// firmware accepts.
func (b *BLE) WriteCharacteristic(ctx context.Context, p []byte) error {
	if b.writeChar == nil {
		return &ConnectionError{Err: errNotConnected}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.writeChar.WriteWithoutResponse(p); err != nil {
		return &ConnectionError{Err: err}
	}
	return nil
}

// Services enumerates every GATT service and characteristic on the device.
func (b *BLE) Services(ctx context.Context) ([]Service, error) {
	if !b.connected {
		return nil, &ConnectionError{Err: errNotConnected}
	}
	discovered, err := b.device.DiscoverServices(nil)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	out := make([]Service, 0, len(discovered))
	for i := range discovered {
		svc := Service{UUID: discovered[i].UUID().String()}
		chars, err := discovered[i].DiscoverCharacteristics(nil)
		if err != nil {
			b.log.Debug().Err(err).Str("service", svc.UUID).Msg("characteristic discovery failed")
		}
		for j := range chars {
			svc.Characteristics = append(svc.Characteristics, Characteristic{
				UUID: chars[j].UUID().String(),
			})
		}
		out = append(out, svc)
	}
	return out, nil
}

// Disconnect drops the link.
func (b *BLE) Disconnect() error {
	if !b.connected {
		return nil
	}
	b.connected = false
	b.writeChar = nil
	b.notifyChar = nil
	return b.device.Disconnect()
}

var errNotConnected = &notConnectedError{}

type notConnectedError struct{}

func (*notConnectedError) Error() string { return "not connected" }
