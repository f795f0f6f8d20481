package network

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	nmService       = "org.freedesktop.NetworkManager"
	nmPath          = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmIface         = "org.freedesktop.NetworkManager"
	nmDeviceIface   = "org.freedesktop.NetworkManager.Device"
	nmWiredIface    = "org.freedesktop.NetworkManager.Device.Wired"
	nmIP4ConfIface  = "org.freedesktop.NetworkManager.IP4Config"
	propsIface      = "org.freedesktop.DBus.Properties"
	noIP4ConfigPath = dbus.ObjectPath("/")
)

// managerSource reads interface state from NetworkManager on the system bus.
type managerSource struct {
	conn *dbus.Conn
}

func newManagerSource() (*managerSource, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("network: connect system bus: %w", err)
	}
	return &managerSource{conn: conn}, nil
}

func (s *managerSource) Close() error {
	return s.conn.Close()
}

func (s *managerSource) devicePath(iface string) (dbus.ObjectPath, error) {
	var path dbus.ObjectPath
	err := s.conn.Object(nmService, nmPath).
		Call(nmIface+".GetDeviceByIpIface", 0, iface).
		Store(&path)
	if err != nil {
		return "", fmt.Errorf("network: no device for %q: %w", iface, err)
	}
	return path, nil
}

// Events implements Source by matching PropertiesChanged on the device
// objects behind the given interfaces. Speed, carrier and IP4 config
// changes all surface as property changes on the device, so one match
// rule per device covers them.
func (s *managerSource) Events(ifaces []string) (<-chan struct{}, error) {
	for _, iface := range ifaces {
		path, err := s.devicePath(iface)
		if err != nil {
			return nil, err
		}
		err = s.conn.AddMatchSignal(
			dbus.WithMatchObjectPath(path),
			dbus.WithMatchInterface(propsIface),
			dbus.WithMatchMember("PropertiesChanged"),
		)
		if err != nil {
			return nil, fmt.Errorf("network: match signals of %q: %w", iface, err)
		}
	}

	signals := make(chan *dbus.Signal, 16)
	s.conn.Signal(signals)

	// Coalesce bursts of property changes into single ticks. The signal
	// channel is closed when the connection shuts down, which ends the
	// forwarder.
	events := make(chan struct{}, 1)
	go func() {
		defer close(events)
		for range signals {
			select {
			case events <- struct{}{}:
			default:
			}
		}
	}()
	return events, nil
}

// LinkInfo implements Source via the Device.Wired Speed/Carrier properties.
func (s *managerSource) LinkInfo(iface string) (LinkInfo, error) {
	path, err := s.devicePath(iface)
	if err != nil {
		return LinkInfo{}, err
	}
	dev := s.conn.Object(nmService, path)

	speedVar, err := dev.GetProperty(nmWiredIface + ".Speed")
	if err != nil {
		return LinkInfo{}, fmt.Errorf("network: speed of %q: %w", iface, err)
	}
	carrierVar, err := dev.GetProperty(nmWiredIface + ".Carrier")
	if err != nil {
		return LinkInfo{}, fmt.Errorf("network: carrier of %q: %w", iface, err)
	}

	info := LinkInfo{}
	if speed, ok := speedVar.Value().(uint32); ok {
		info.Speed = speed
	}
	if carrier, ok := carrierVar.Value().(bool); ok {
		info.Carrier = carrier
	}
	return info, nil
}

// Addresses implements Source via the device's IP4Config AddressData.
func (s *managerSource) Addresses(iface string) ([]string, error) {
	path, err := s.devicePath(iface)
	if err != nil {
		return nil, err
	}
	dev := s.conn.Object(nmService, path)

	confVar, err := dev.GetProperty(nmDeviceIface + ".Ip4Config")
	if err != nil {
		return nil, fmt.Errorf("network: ip4 config of %q: %w", iface, err)
	}
	confPath, ok := confVar.Value().(dbus.ObjectPath)
	if !ok || confPath == noIP4ConfigPath {
		return nil, nil // interface has no address
	}

	dataVar, err := s.conn.Object(nmService, confPath).
		GetProperty(nmIP4ConfIface + ".AddressData")
	if err != nil {
		return nil, fmt.Errorf("network: address data of %q: %w", iface, err)
	}

	entries, ok := dataVar.Value().([]map[string]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("network: unexpected address data shape for %q", iface)
	}

	var addrs []string
	for _, entry := range entries {
		if addr, ok := entry["address"].Value().(string); ok {
			addrs = append(addrs, addr)
		}
	}
	return addrs, nil
}
