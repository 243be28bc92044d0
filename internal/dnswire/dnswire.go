// Package dnswire builds DNS query datagrams and reads the header of DNS
// replies, directly on the wire format (RFC 1035, section 4.1).
//
// It is intentionally minimal: queries carry a single question, and replies
// are only inspected up to their header. Resource records in the answer
// section are never parsed.
package dnswire

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// Record types we know how to ask for.
const (
	TypeA     uint16 = 1
	TypeCNAME uint16 = 5
	TypeMX    uint16 = 15
	TypeAAAA  uint16 = 28
)

// ClassINET is the only class we query.
const ClassINET uint16 = 1

// Standard query, recursion desired.
const queryFlags uint16 = 0x0100

// HeaderLen is the length of the fixed DNS header.
const HeaderLen = 12

// Maximum length of a single label on the wire.
const maxLabelLen = 63

var types = map[string]uint16{
	"A":     TypeA,
	"AAAA":  TypeAAAA,
	"MX":    TypeMX,
	"CNAME": TypeCNAME,
}

// TypeFromString returns the type code for the given record type name.
// Only "A", "AAAA", "MX" and "CNAME" are supported, and names must be given
// in upper case.
func TypeFromString(s string) (uint16, bool) {
	t, ok := types[s]
	return t, ok
}

var (
	errShortResponse = fmt.Errorf("Response too short")
	errEmptyLabel    = fmt.Errorf("empty label")
	errLabelTooLong  = fmt.Errorf("label too long")
)

// RandomID returns a new random transaction id.
func RandomID() (uint16, error) {
	var id uint16
	err := binary.Read(rand.Reader, binary.BigEndian, &id)
	if err != nil {
		return 0, fmt.Errorf("error creating id: %v", err)
	}
	return id, nil
}

// Query is a DNS query with a single question. It is immutable once built.
type Query struct {
	ID     uint16
	Domain string
	Type   uint16

	qname []byte
}

// NewQuery builds a query for the given domain and record type, using id as
// the transaction id.
func NewQuery(id uint16, domain string, qtype uint16) (*Query, error) {
	qname, err := encodeName(domain)
	if err != nil {
		return nil, fmt.Errorf("cannot encode %q: %w", domain, err)
	}

	return &Query{
		ID:     id,
		Domain: domain,
		Type:   qtype,
		qname:  qname,
	}, nil
}

// encodeName encodes the domain as a sequence of length-prefixed labels,
// terminated by a zero byte. There is no compression, and dots within labels
// cannot be escaped.
func encodeName(domain string) ([]byte, error) {
	// Allow fully qualified names, the root label is the terminator.
	domain = strings.TrimSuffix(domain, ".")

	buf := make([]byte, 0, len(domain)+2)
	if domain == "" {
		return append(buf, 0), nil
	}

	for _, label := range strings.Split(domain, ".") {
		if len(label) == 0 {
			return nil, errEmptyLabel
		}
		if len(label) > maxLabelLen {
			return nil, errLabelTooLong
		}
		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
	}

	return append(buf, 0), nil
}

// Pack returns the query in wire format, ready to be used as the payload of
// a UDP datagram.
func (q *Query) Pack() []byte {
	b := make([]byte, HeaderLen, HeaderLen+len(q.qname)+4)

	binary.BigEndian.PutUint16(b[0:], q.ID)
	binary.BigEndian.PutUint16(b[2:], queryFlags)
	binary.BigEndian.PutUint16(b[4:], 1) // QDCOUNT
	// ANCOUNT, NSCOUNT and ARCOUNT stay at 0.

	b = append(b, q.qname...)
	b = binary.BigEndian.AppendUint16(b, q.Type)
	b = binary.BigEndian.AppendUint16(b, ClassINET)
	return b
}

// Header of a DNS message.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// ParseHeader reads the header at the beginning of the given DNS message.
// The rest of the message is ignored.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, errShortResponse
	}

	return Header{
		ID:      binary.BigEndian.Uint16(b[0:]),
		Flags:   binary.BigEndian.Uint16(b[2:]),
		QDCount: binary.BigEndian.Uint16(b[4:]),
		ANCount: binary.BigEndian.Uint16(b[6:]),
		NSCount: binary.BigEndian.Uint16(b[8:]),
		ARCount: binary.BigEndian.Uint16(b[10:]),
	}, nil
}

// Rcode returns the response code, from the low 4 bits of the flags.
func (h Header) Rcode() int {
	return int(h.Flags & 0x000F)
}

// Check returns an error if the response code is not NOERROR.
func (h Header) Check() error {
	rcode := h.Rcode()
	if rcode == 0 {
		return nil
	}

	if name, ok := dns.RcodeToString[rcode]; ok {
		return fmt.Errorf("DNS response code: %d (%s)", rcode, name)
	}
	return fmt.Errorf("DNS response code: %d", rcode)
}
