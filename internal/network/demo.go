package network

// demoSource reports a healthy gigabit link on every interface.
type demoSource struct{}

func (demoSource) LinkInfo(iface string) (LinkInfo, error) {
	return LinkInfo{Speed: 1000, Carrier: true}, nil
}

func (demoSource) Addresses(iface string) ([]string, error) {
	return []string{"192.168.1.100"}, nil
}

// Events implements Source. The canned state never changes, so demo mode
// is poll-only.
func (demoSource) Events([]string) (<-chan struct{}, error) { return nil, nil }

func (demoSource) Close() error { return nil }
