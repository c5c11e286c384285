package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"text/tabwriter"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/geekxflood/snmpbulk/snmp"
	"github.com/geekxflood/snmpbulk/walk"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func checkFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (supported: text, json, yaml)", format)
	}
}

type valueRecord struct {
	OID   string `json:"oid" yaml:"oid"`
	Type  string `json:"type" yaml:"type"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`
}

type rowRecord struct {
	Index   string         `json:"index" yaml:"index"`
	Columns []*valueRecord `json:"columns" yaml:"columns"`
}

// targetResult is what one agent returned in one round.
type targetResult struct {
	Target string        `json:"target" yaml:"target"`
	Rows   []rowRecord   `json:"rows,omitempty" yaml:"rows,omitempty"`
	Values []valueRecord `json:"values,omitempty" yaml:"values,omitempty"`
	Error  string        `json:"error,omitempty" yaml:"error,omitempty"`
}

func newValueRecord(vb *snmp.VariableBinding) *valueRecord {
	if vb == nil {
		return nil
	}
	return &valueRecord{OID: vb.OID.String(), Type: vb.Syntax.String(), Value: displayValue(vb.Value)}
}

func newRowRecords(rows []*walk.TableRow) []rowRecord {
	out := make([]rowRecord, 0, len(rows))
	for _, row := range rows {
		rec := rowRecord{Index: row.Index.String(), Columns: make([]*valueRecord, len(row.Columns))}
		for i, vb := range row.Columns {
			rec.Columns[i] = newValueRecord(vb)
		}
		out = append(out, rec)
	}
	return out
}

func newValueRecords(events []*walk.TreeEvent) []valueRecord {
	var out []valueRecord
	for _, ev := range events {
		for _, vb := range ev.Bindings {
			if vb != nil {
				out = append(out, *newValueRecord(vb))
			}
		}
	}
	return out
}

// displayValue renders octet strings as text when printable and as hex otherwise.
func displayValue(v any) any {
	switch v := v.(type) {
	case []byte:
		if printable(v) {
			return string(v)
		}
		return "0x" + hex.EncodeToString(v)
	case net.IP:
		return v.String()
	case snmp.OID:
		return v.String()
	default:
		return v
	}
}

func printable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func writeResults(w io.Writer, format string, results []targetResult) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(results); err != nil {
			return err
		}
		return enc.Close()
	default:
		return writeText(w, results)
	}
}

func writeText(w io.Writer, results []targetResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, res := range results {
		if len(results) > 1 {
			if i > 0 {
				fmt.Fprintln(tw)
			}
			fmt.Fprintf(tw, "# %s\n", res.Target)
		}
		for _, row := range res.Rows {
			cells := make([]string, 0, len(row.Columns)+1)
			cells = append(cells, row.Index)
			for _, col := range row.Columns {
				if col == nil {
					cells = append(cells, "-")
					continue
				}
				cells = append(cells, fmt.Sprint(col.Value))
			}
			fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
		for _, v := range res.Values {
			if v.Value == nil {
				fmt.Fprintf(tw, "%s\t%s\n", v.OID, v.Type)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%v\n", v.OID, v.Type, v.Value)
		}
		if res.Error != "" {
			fmt.Fprintf(tw, "error: %s\n", res.Error)
		}
	}
	return tw.Flush()
}
