package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"roafetch/pkg/model"
	"roafetch/pkg/roadump"
)

type record struct {
	ts      uint32
	asn     uint32
	addr    string
	maskLen uint8
}

type streamStats struct {
	records int
	failed  int
}

// parseRecord parses "ts asn prefix masklen" or "ts asn prefix/masklen"
func parseRecord(line string) (record, error) {
	return parseArgs(strings.Fields(line))
}

func parseArgs(fields []string) (record, error) {
	var rec record
	var mask string
	switch len(fields) {
	case 3:
		addr, bits, ok := strings.Cut(fields[2], "/")
		if !ok {
			return rec, fmt.Errorf("%w: missing mask length in %q", model.ErrInvalidInput, fields[2])
		}
		rec.addr, mask = addr, bits
	case 4:
		rec.addr, mask = fields[2], fields[3]
	default:
		return rec, fmt.Errorf("%w: expected ts asn prefix masklen, got %d fields", model.ErrInvalidInput, len(fields))
	}

	ts, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return rec, fmt.Errorf("%w: invalid timestamp %q", model.ErrInvalidInput, fields[0])
	}
	rec.ts = uint32(ts)

	if rec.asn, err = roadump.ParseASN(fields[1]); err != nil {
		return rec, fmt.Errorf("%w: invalid ASN %q", model.ErrInvalidInput, fields[1])
	}

	bits, err := strconv.ParseUint(mask, 10, 8)
	if err != nil || bits > 128 {
		return rec, fmt.Errorf("%w: invalid mask length %q", model.ErrInvalidInput, mask)
	}
	rec.maskLen = uint8(bits)
	return rec, nil
}

type validator interface {
	Validate(ctx context.Context, ts, asn uint32, prefix string, maskLen uint8) (string, error)
}

// validateStream validates every record read from in and writes one line per
// record to out. Bad records are logged and counted; the stream continues.
func validateStream(ctx context.Context, v validator, in io.Reader, out io.Writer, log zerolog.Logger) (streamStats, error) {
	var stats streamStats
	w := bufio.NewWriter(out)
	defer w.Flush()

	scanner := bufio.NewScanner(in)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		stats.records++
		rec, err := parseRecord(line)
		if err != nil {
			stats.failed++
			log.Warn().Err(err).Int("line", lineNum).Msg("skipping record")
			fmt.Fprintln(w, "")
			continue
		}

		result, err := v.Validate(ctx, rec.ts, rec.asn, rec.addr, rec.maskLen)
		if err != nil {
			stats.failed++
			log.Warn().Err(err).Int("line", lineNum).Uint32("ts", rec.ts).Msg("validation failed")
			if errors.Is(err, model.ErrSessionClosed) {
				return stats, err
			}
			fmt.Fprintln(w, "")
			continue
		}
		fmt.Fprintln(w, result)
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("%w: failed to read records: %v", model.ErrIO, err)
	}
	return stats, nil
}
