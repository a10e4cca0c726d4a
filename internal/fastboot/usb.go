package fastboot

import (
	"errors"
	"fmt"

	"github.com/google/gousb"
)

const (
	interfaceClass    = gousb.ClassVendorSpec
	interfaceSubClass = gousb.Class(0x42)
	interfaceProtocol = gousb.Protocol(0x03)
)

var ErrNoInterface = errors.New("fastboot: no fastboot interface")

// Endpoint describes an attached fastboot device.
type Endpoint struct {
	Bus     int
	Address int
	Vendor  gousb.ID
	Product gousb.ID
	Serial  string
}

// Identifier is the USB serial number of the device.
func (e Endpoint) Identifier() string {
	return e.Serial
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%s bus %d addr %d serial %q", e.Vendor, e.Product, e.Bus, e.Address, e.Serial)
}

type setting struct {
	config    int
	intf      int
	alternate int
	in, out   int
}

func findSetting(desc *gousb.DeviceDesc) (setting, bool) {
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if alt.Class != interfaceClass || alt.SubClass != interfaceSubClass || alt.Protocol != interfaceProtocol {
					continue
				}
				s := setting{config: cfg.Number, intf: alt.Number, alternate: alt.Alternate, in: -1, out: -1}
				for _, ep := range alt.Endpoints {
					if ep.TransferType != gousb.TransferTypeBulk {
						continue
					}
					if ep.Direction == gousb.EndpointDirectionIn {
						s.in = ep.Number
					} else {
						s.out = ep.Number
					}
				}
				if s.in >= 0 && s.out >= 0 {
					return s, true
				}
			}
		}
	}
	return setting{}, false
}

func closeAll(devs []*gousb.Device) {
	for _, d := range devs {
		d.Close()
	}
}

// List enumerates attached fastboot devices.
func List() ([]Endpoint, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		_, ok := findSetting(desc)
		return ok
	})
	defer closeAll(devs)
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	eps := make([]Endpoint, 0, len(devs))
	for _, d := range devs {
		serial, err := d.SerialNumber()
		if err != nil {
			serial = ""
		}
		eps = append(eps, Endpoint{
			Bus:     d.Desc.Bus,
			Address: d.Desc.Address,
			Vendor:  d.Desc.Vendor,
			Product: d.Desc.Product,
			Serial:  serial,
		})
	}
	return eps, nil
}

// Device is an open fastboot interface. Reads and writes go straight to the
// bulk endpoints, one packet per call.
type Device struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint
	ep   Endpoint
}

// Open claims the fastboot interface of the device described by ep.
func Open(ep Endpoint) (*Device, error) {
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == ep.Bus && desc.Address == ep.Address
	})
	if len(devs) == 0 {
		ctx.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", ep, err)
		}
		return nil, fmt.Errorf("device %s is gone", ep)
	}
	dev := devs[0]
	closeAll(devs[1:])

	d := &Device{ctx: ctx, dev: dev, ep: ep}
	if err := d.claim(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Device) claim() error {
	s, ok := findSetting(d.dev.Desc)
	if !ok {
		return ErrNoInterface
	}
	if err := d.dev.SetAutoDetach(true); err != nil {
		return fmt.Errorf("failed to enable kernel driver auto detach: %w", err)
	}

	var err error
	if d.cfg, err = d.dev.Config(s.config); err != nil {
		return fmt.Errorf("failed to get config %d: %w", s.config, err)
	}
	if d.intf, err = d.cfg.Interface(s.intf, s.alternate); err != nil {
		return fmt.Errorf("failed to claim interface %d: %w", s.intf, err)
	}
	if d.in, err = d.intf.InEndpoint(s.in); err != nil {
		return fmt.Errorf("failed to open bulk in endpoint: %w", err)
	}
	if d.out, err = d.intf.OutEndpoint(s.out); err != nil {
		return fmt.Errorf("failed to open bulk out endpoint: %w", err)
	}
	return nil
}

func (d *Device) Read(p []byte) (int, error) {
	return d.in.Read(p)
}

func (d *Device) Write(p []byte) (int, error) {
	return d.out.Write(p)
}

func (d *Device) Identifier() string {
	return d.ep.Serial
}

// Endpoint returns the description the device was opened from.
func (d *Device) Endpoint() Endpoint {
	return d.ep
}

func (d *Device) Close() error {
	var errs []error
	if d.intf != nil {
		d.intf.Close()
	}
	if d.cfg != nil {
		errs = append(errs, d.cfg.Close())
	}
	if d.dev != nil {
		errs = append(errs, d.dev.Close())
	}
	if d.ctx != nil {
		errs = append(errs, d.ctx.Close())
	}
	return errors.Join(errs...)
}
