package result

import (
	"sort"
	"strconv"
	"strings"

	"roafetch/pkg/model"
)

// Render formats elem. collectors lists the configured collectors in slot order.
//
// Unified output uses the status of slot 0 for all collectors:
//
//	P1\C1 P2\C2,status,asn,prefixes;   (one per origin AS)
//	P1\C1 P2\C2,notfound;
//
// Discrete output has one line per collector and origin AS, sorted:
//
//	P,C,status,asn,prefixes;
//	P,C,notfound;
//
// A slot that was never validated produces no output.
func Render(elem *Elem, collectors []model.Collector, unified bool) string {
	if elem == nil {
		return ""
	}
	if unified {
		return renderUnified(elem, collectors)
	}
	return renderDiscrete(elem, collectors)
}

func renderUnified(elem *Elem, collectors []model.Collector) string {
	names := make([]string, len(collectors))
	for i, c := range collectors {
		names[i] = c.Project + `\` + c.Name
	}
	pjcc := strings.Join(names, " ") + ","

	status := elem.Status(0)
	switch status {
	case model.StatusNotValidated:
		return ""
	case model.StatusNotFound:
		return pjcc + model.StatusNotFound.String() + ";"
	}

	var sb strings.Builder
	for _, key := range elem.Entries() {
		sb.WriteString(pjcc)
		sb.WriteString(status.String())
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatUint(uint64(key.ASN), 10))
		sb.WriteByte(',')
		sb.WriteString(elem.Prefixes(key))
		sb.WriteByte(';')
	}
	return sb.String()
}

func renderDiscrete(elem *Elem, collectors []model.Collector) string {
	lines := make([]string, 0, elem.Len()+len(collectors))
	for _, key := range elem.Entries() {
		lines = append(lines, key.String()+","+elem.Prefixes(key))
	}
	for i, c := range collectors {
		if elem.Status(i) == model.StatusNotFound {
			lines = append(lines, c.Project+","+c.Name+","+model.StatusNotFound.String())
		}
	}
	sort.Strings(lines)

	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte(';')
	}
	return sb.String()
}
