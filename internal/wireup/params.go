package wireup

// ErrHandlingMode is the endpoint's peer-failure handling mode.
type ErrHandlingMode int

const (
	ErrHandlingNone ErrHandlingMode = iota
	ErrHandlingPeer
)

// EndpointParams mirrors the field-mask style parameters passed at
// connection setup (spec section 6): fields are only meaningful when their
// accompanying *Set flag is true, since the caller may omit them entirely.
type EndpointParams struct {
	ErrHandlingMode    ErrHandlingMode
	ErrHandlingModeSet bool

	SockAddr    bool
	SockAddrSet bool
}

// InitFlag is a bitmask of endpoint creation flags.
type InitFlag uint8

const (
	InitCreateAMLane InitFlag = 1 << iota
	InitMemType
)

func (f InitFlag) Has(bit InitFlag) bool { return f&bit != 0 }
