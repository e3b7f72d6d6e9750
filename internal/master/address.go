package master

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

const (
	// Scheme is the only transport scheme a master endpoint may use.
	Scheme = "http"
	// DefaultPort is appended when the entered address carries no port.
	DefaultPort = 11311

	maxHostLength = 253
)

var ErrInvalidAddress = errors.New("master: invalid address")

// AddressError reports why a raw master address was rejected.
type AddressError struct {
	Raw    string
	Reason string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("master: invalid address %q: %s", e.Raw, e.Reason)
}

func (e *AddressError) Unwrap() error {
	return ErrInvalidAddress
}

// Endpoint is a validated master registry address.
type Endpoint struct {
	Scheme string
	Host   string
	Port   int
}

// NewEndpoint builds an endpoint for a host we bound ourselves, e.g. a local master.
func NewEndpoint(host string, port int) Endpoint {
	return Endpoint{Scheme: Scheme, Host: host, Port: port}
}

func (e Endpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}

// HostPort returns the dialable host:port pair.
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// BaseURL returns scheme://host:port without the trailing separator.
func (e Endpoint) BaseURL() string {
	scheme := e.Scheme
	if scheme == "" {
		scheme = Scheme
	}
	return scheme + "://" + e.HostPort()
}

// String returns the canonical form, always with port and trailing "/".
func (e Endpoint) String() string {
	if e.IsZero() {
		return ""
	}
	return e.BaseURL() + "/"
}

// RFC 3987 UCS characters, minus the unicode space separators.
const ucsChar = `\x{00A1}-\x{1FFF}\x{200B}-\x{2027}\x{202A}-\x{202E}\x{2030}-\x{2FFF}` +
	`\x{3001}-\x{D7FF}\x{F900}-\x{FDCF}\x{FDF0}-\x{FFEF}\x{10000}-\x{EFFFD}`

const labelChar = `a-zA-Z0-9` + ucsChar

// RFC 1035 section 2.3.4 caps a label at 63 octets.
const iriLabel = `[` + labelChar + `](?:[` + labelChar + `\-]{0,61}[` + labelChar + `])?`

var (
	addressPattern = regexp.MustCompile(
		`^(?i:http)://(` + iriLabel + `(?:\.` + iriLabel + `)*)(?::([0-9]{1,5}))?/?$`,
	)
	schemePrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*://`)
	numericLabel = regexp.MustCompile(`^[0-9]+$`)
)

// ParseEndpoint validates a user-entered master address and normalizes it.
// No network access happens here.
func ParseEndpoint(raw string) (Endpoint, error) {
	addr := strings.TrimSpace(raw)
	if addr == "" {
		return Endpoint{}, &AddressError{Raw: raw, Reason: "address required"}
	}
	if !schemePrefix.MatchString(addr) {
		return Endpoint{}, &AddressError{Raw: raw, Reason: "missing http:// scheme"}
	}
	if !strings.EqualFold(addr[:strings.Index(addr, "://")], Scheme) {
		return Endpoint{}, &AddressError{Raw: raw, Reason: "scheme must be http"}
	}

	m := addressPattern.FindStringSubmatch(addr)
	if m == nil {
		return Endpoint{}, &AddressError{Raw: raw, Reason: "malformed host or port"}
	}
	host := m[1]
	if len(host) > maxHostLength {
		return Endpoint{}, &AddressError{Raw: raw, Reason: "host exceeds 253 octets"}
	}
	if err := checkNumericHost(host); err != nil {
		return Endpoint{}, &AddressError{Raw: raw, Reason: err.Error()}
	}

	port := DefaultPort
	if m[2] != "" {
		p, err := strconv.Atoi(m[2])
		if err != nil || p < 1 || p > 65535 {
			return Endpoint{}, &AddressError{Raw: raw, Reason: "port out of range"}
		}
		port = p
	}
	return Endpoint{Scheme: Scheme, Host: host, Port: port}, nil
}

// Normalize returns the canonical string form of a valid address.
func Normalize(raw string) (string, error) {
	ep, err := ParseEndpoint(raw)
	if err != nil {
		return "", err
	}
	return ep.String(), nil
}

// MustParseEndpoint is for constants and tests.
func MustParseEndpoint(raw string) Endpoint {
	ep, err := ParseEndpoint(raw)
	if err != nil {
		panic(err)
	}
	return ep
}

// A host made only of numeric labels must be a dotted IPv4 address.
func checkNumericHost(host string) error {
	labels := strings.Split(host, ".")
	for _, l := range labels {
		if !numericLabel.MatchString(l) {
			return nil
		}
	}
	if len(labels) != 4 || net.ParseIP(host) == nil {
		return errors.New("invalid ipv4 address")
	}
	return nil
}
