package broker

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"roafetch/pkg/model"
)

// Broker response layout. The parser trusts ordinal token positions, not field names:
//
//	 0 object
//	 1 projects    2 value
//	 3 collectors  4 value
//	 5 interval    6 value
//	 7 start       8 value
//	 9 max_end    10 value
//	11 data       12 object
//	13 ts #1      14 url #1 ...
const (
	posProjects   = 2
	posCollectors = 4
	posInterval   = 6
	posStart      = 8
	posMaxEnd     = 10
	posData       = 12
	posFirstSlice = 13

	// MinTokens is the smallest token count a usable response can have
	MinTokens = 12
)

// Response is a parsed broker reply
type Response struct {
	Projects   []string          // Broker-normalized project order
	Collectors []string          // Broker-normalized collector order
	Interval   string            // Interval echoed by the broker
	Start      uint32            // First timestamp covered by the reply
	MaxEnd     uint32            // Upper bound of the archive, 0 if open ended
	Slices     map[uint32]string // Archive slice timestamp to comma-joined dump URLs
}

// Sorted returns the slice timestamps in ascending order
func (r *Response) Sorted() []uint32 {
	keys := make([]uint32, 0, len(r.Slices))
	for ts := range r.Slices {
		keys = append(keys, ts)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// CollectorPairs pairs every echoed collector with its project. A broker that
// names fewer projects than collectors repeats its last project.
func (r *Response) CollectorPairs() []model.Collector {
	pairs := make([]model.Collector, len(r.Collectors))
	for i, name := range r.Collectors {
		pairs[i].Name = name
		switch {
		case i < len(r.Projects):
			pairs[i].Project = r.Projects[i]
		case len(r.Projects) > 0:
			pairs[i].Project = r.Projects[len(r.Projects)-1]
		}
	}
	return pairs
}

// ParseResponse decodes a broker JSON body by token position
func ParseResponse(body []byte) (*Response, error) {
	toks, err := tokenize(body)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid JSON format: %v", model.ErrMalformedResponse, err)
	}
	if len(toks) < MinTokens {
		return nil, fmt.Errorf("%w: %d tokens, need at least %d", model.ErrMalformedResponse, len(toks), MinTokens)
	}

	resp := &Response{
		Projects:   splitList(toks[posProjects].value),
		Collectors: splitList(toks[posCollectors].value),
		Interval:   toks[posInterval].value,
		Slices:     make(map[uint32]string),
	}
	if resp.Start, err = parseTimestamp(toks[posStart].value); err != nil {
		return nil, fmt.Errorf("%w: start: %v", model.ErrMalformedResponse, err)
	}
	if resp.MaxEnd, err = parseTimestamp(toks[posMaxEnd].value); err != nil {
		return nil, fmt.Errorf("%w: max_end: %v", model.ErrMalformedResponse, err)
	}

	if len(toks) <= posFirstSlice {
		return resp, nil
	}
	if toks[posData].kind != tokenObject {
		return nil, fmt.Errorf("%w: data is not an object", model.ErrMalformedResponse)
	}
	if (len(toks)-posFirstSlice)%2 != 0 {
		return nil, fmt.Errorf("%w: dangling data token", model.ErrMalformedResponse)
	}
	for i := posFirstSlice; i < len(toks); i += 2 {
		ts, err := parseTimestamp(toks[i].value)
		if err != nil {
			return nil, fmt.Errorf("%w: slice %d: %v", model.ErrMalformedResponse, (i-posFirstSlice)/2+1, err)
		}
		resp.Slices[ts] = toks[i+1].value
	}

	return resp, nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}

func parseTimestamp(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	return uint32(v), nil
}

type tokenKind int

const (
	tokenObject tokenKind = iota
	tokenArray
	tokenString
	tokenPrimitive
)

// token is one element of a flat token stream: containers, keys and scalars each
// count once, in document order
type token struct {
	kind  tokenKind
	value string
}

func tokenize(body []byte) ([]token, error) {
	iter := jsoniter.ConfigCompatibleWithStandardLibrary.BorrowIterator(body)
	defer jsoniter.ConfigCompatibleWithStandardLibrary.ReturnIterator(iter)

	var toks []token
	readToken(iter, &toks)
	if iter.Error != nil && iter.Error != io.EOF {
		return nil, iter.Error
	}
	if len(toks) == 0 || toks[0].kind != tokenObject {
		return nil, fmt.Errorf("top level value is not an object")
	}
	return toks, nil
}

func readToken(iter *jsoniter.Iterator, toks *[]token) {
	switch iter.WhatIsNext() {
	case jsoniter.ObjectValue:
		*toks = append(*toks, token{kind: tokenObject})
		iter.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
			*toks = append(*toks, token{kind: tokenString, value: field})
			readToken(it, toks)
			return it.Error == nil
		})
	case jsoniter.ArrayValue:
		*toks = append(*toks, token{kind: tokenArray})
		iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			readToken(it, toks)
			return it.Error == nil
		})
	case jsoniter.StringValue:
		*toks = append(*toks, token{kind: tokenString, value: iter.ReadString()})
	case jsoniter.NumberValue:
		*toks = append(*toks, token{kind: tokenPrimitive, value: string(iter.ReadNumber())})
	case jsoniter.BoolValue:
		*toks = append(*toks, token{kind: tokenPrimitive, value: strconv.FormatBool(iter.ReadBool())})
	case jsoniter.NilValue:
		iter.ReadNil()
		*toks = append(*toks, token{kind: tokenPrimitive, value: "null"})
	default:
		iter.ReportError("tokenize", "unexpected value")
	}
}
