// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package roadump

import (
	"bytes"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"roafetch/pkg/model"
)

const (
	// Header is the column layout every ROA dump starts with
	Header = "ASN,IP Prefix,Max Length"
	// HeaderWithTrustAnchor is the layout of dumps that name the trust anchor
	HeaderWithTrustAnchor = Header + ",Trust Anchor"

	minFields = 3
)

// Parser walks a ROA dump CSV body record by record.
//
// The body is a stream of tokens separated by commas and newlines. The number of
// fields per record is taken from the header line; a record is the next block of
// that many tokens.
type Parser struct {
	tokens    []string
	pos       int
	fields    int
	recordNum int
}

// NewParser checks the dump header and prepares the token stream
func NewParser(body []byte) (*Parser, error) {
	if !bytes.Contains(body, []byte(Header)) {
		return nil, fmt.Errorf("%w: missing %q header", model.ErrMalformedDump, Header)
	}

	firstLine := body
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		firstLine = body[:i]
	}
	fields := bytes.Count(firstLine, []byte{','}) + 1
	if fields < minFields {
		return nil, fmt.Errorf("%w: %d fields per record", model.ErrMalformedDump, fields)
	}

	tokens := strings.FieldsFunc(string(body), func(r rune) bool { return r == ',' || r == '\n' })
	for i, tok := range tokens {
		tokens[i] = strings.TrimSpace(tok)
	}

	p := &Parser{tokens: tokens, fields: fields}
	// Skip the header
	p.pos = fields
	if p.pos > len(tokens) {
		p.pos = len(tokens)
	}
	return p, nil
}

// Fields returns the number of fields per record
func (p *Parser) Fields() int {
	return p.fields
}

// ParseAll parses every remaining record
func (p *Parser) ParseAll() ([]model.ROA, error) {
	var roas []model.ROA
	for {
		roa, err := p.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		roas = append(roas, roa)
	}
	return roas, nil
}

// ParseNext parses the next record. It returns io.EOF when no complete record is left.
func (p *Parser) ParseNext() (model.ROA, error) {
	if len(p.tokens)-p.pos < p.fields {
		return model.ROA{}, io.EOF
	}
	record := p.tokens[p.pos : p.pos+p.fields]
	p.pos += p.fields
	p.recordNum++

	roa, err := parseRecord(record)
	if err != nil {
		return model.ROA{}, &model.CorruptRecordError{Index: p.recordNum, Err: err}
	}
	return roa, nil
}

// Parse parses a whole ROA dump body
func Parse(body []byte) ([]model.ROA, error) {
	p, err := NewParser(body)
	if err != nil {
		return nil, err
	}
	return p.ParseAll()
}

// parseRecord converts ASN, prefix and max length fields. Fields after the third
// (trust anchor) are ignored.
func parseRecord(fields []string) (model.ROA, error) {
	asn, err := ParseASN(fields[0])
	if err != nil {
		return model.ROA{}, err
	}

	prefix, err := ParsePrefix(fields[1])
	if err != nil {
		return model.ROA{}, err
	}

	maxLen, err := strconv.ParseUint(fields[2], 10, 8)
	if err != nil {
		return model.ROA{}, fmt.Errorf("invalid max length %q", fields[2])
	}
	if int(maxLen) < prefix.Bits() || int(maxLen) > prefix.Addr().BitLen() {
		return model.ROA{}, fmt.Errorf("max length %d out of range for %s", maxLen, prefix)
	}

	return model.ROA{ASN: asn, Prefix: prefix, MaxLength: uint8(maxLen)}, nil
}

// ParseASN accepts both 64500 and AS64500
func ParseASN(s string) (uint32, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "AS"), "as")
	if digits == "" || strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return 0, fmt.Errorf("invalid ASN %q", s)
	}
	asn, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid ASN %q", s)
	}
	return uint32(asn), nil
}

// ParsePrefix parses addr/min-length. The family is IPv6 when the address has a colon.
func ParsePrefix(s string) (netip.Prefix, error) {
	addrStr, lenStr, ok := strings.Cut(s, "/")
	if !ok || addrStr == "" {
		return netip.Prefix{}, fmt.Errorf("invalid prefix format %q", s)
	}

	addr, err := netip.ParseAddr(addrStr)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid prefix address %q", addrStr)
	}
	if strings.Contains(addrStr, ":") != addr.Is6() || addr.Zone() != "" {
		return netip.Prefix{}, fmt.Errorf("invalid prefix address %q", addrStr)
	}

	if lenStr == "" || strings.IndexFunc(lenStr, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return netip.Prefix{}, fmt.Errorf("invalid prefix length %q", lenStr)
	}
	bits, err := strconv.ParseUint(lenStr, 10, 8)
	if err != nil || int(bits) > addr.BitLen() {
		return netip.Prefix{}, fmt.Errorf("invalid prefix length %q", lenStr)
	}

	return netip.PrefixFrom(addr, int(bits)).Masked(), nil
}
