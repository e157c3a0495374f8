package pki

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"
)

// Recognized DN attribute keys and their OIDs. Keys outside this set are
// ignored rather than rejected, preserving the leniency callers rely on.
var attributeOIDs = map[string]asn1.ObjectIdentifier{
	"CN": {2, 5, 4, 3},
	"O":  {2, 5, 4, 10},
	"OU": {2, 5, 4, 11},
	"C":  {2, 5, 4, 6},
	"ST": {2, 5, 4, 8},
	"L":  {2, 5, 4, 7},
}

// DN is an ordered set of naming attributes parsed from a string like
// "CN=Root,O=Acme,C=US". Attribute order is preserved so that re-encoding a
// subject produces a byte-identical name, which keeps signatures stable.
type DN struct {
	attrs []pkix.AttributeTypeAndValue
}

// ParseDN parses a comma-separated attribute string. Every segment must
// contain "=", so stray or trailing commas are malformed; segments with
// unrecognized keys are dropped. An all-whitespace input parses to an empty
// DN. Whether CN is mandatory is the caller's decision, not enforced here.
func ParseDN(s string) (*DN, error) {
	if strings.TrimSpace(s) == "" {
		return &DN{}, nil
	}
	var attrs []pkix.AttributeTypeAndValue
	for _, segment := range strings.Split(s, ",") {
		segment = strings.TrimSpace(segment)
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			return nil, fmt.Errorf("%w: segment %q has no '='", ErrMalformedName, segment)
		}
		oid, known := attributeOIDs[strings.TrimSpace(key)]
		if !known {
			continue
		}
		attrs = append(attrs, pkix.AttributeTypeAndValue{
			Type:  oid,
			Value: strings.TrimSpace(value),
		})
	}
	return &DN{attrs: attrs}, nil
}

// Empty reports whether no recognized attribute was parsed.
func (d *DN) Empty() bool {
	return len(d.attrs) == 0
}

// Name returns the pkix.Name for certificate templates. Attributes go
// through ExtraNames so each one becomes its own RDN in parse order.
func (d *DN) Name() pkix.Name {
	return pkix.Name{ExtraNames: d.attrs}
}

// CommonName returns the first CN attribute value, or "".
func (d *DN) CommonName() string {
	for _, attr := range d.attrs {
		if attr.Type.Equal(attributeOIDs["CN"]) {
			if s, ok := attr.Value.(string); ok {
				return s
			}
		}
	}
	return ""
}

// String renders the DN back in its parsed attribute order.
func (d *DN) String() string {
	parts := make([]string, 0, len(d.attrs))
	for _, attr := range d.attrs {
		for key, oid := range attributeOIDs {
			if attr.Type.Equal(oid) {
				parts = append(parts, fmt.Sprintf("%s=%v", key, attr.Value))
				break
			}
		}
	}
	return strings.Join(parts, ",")
}
