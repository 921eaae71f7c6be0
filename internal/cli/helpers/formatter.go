// Package helpers holds output and flag helpers shared by the commands.
package helpers

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"
)

// OutputFormat represents the desired output format.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
)

// SupportedFormats lists every format Write accepts.
var SupportedFormats = []OutputFormat{FormatTable, FormatJSON, FormatCSV}

// Write renders rows, a slice of structs, to w. Table and CSV output use the
// fields carrying a `header` tag; JSON output uses the json tags.
func Write(w io.Writer, format OutputFormat, rows any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case FormatTable:
		headers, records, err := tabulate(rows)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
		if _, err := fmt.Fprintln(tw, strings.Join(headers, "\t")); err != nil {
			return err
		}
		for _, r := range records {
			if _, err := fmt.Fprintln(tw, strings.Join(r, "\t")); err != nil {
				return err
			}
		}
		return tw.Flush()
	case FormatCSV:
		headers, records, err := tabulate(rows)
		if err != nil {
			return err
		}
		cw := csv.NewWriter(w)
		if err := cw.Write(headers); err != nil {
			return err
		}
		if err := cw.WriteAll(records); err != nil {
			return err
		}
		return cw.Error()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func tabulate(rows any) ([]string, [][]string, error) {
	v := reflect.ValueOf(rows)
	if v.Kind() != reflect.Slice {
		return nil, nil, fmt.Errorf("rows must be a slice, got %T", rows)
	}

	elem := v.Type().Elem()
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("rows must be a slice of structs, got %T", rows)
	}

	var headers []string
	var fields []int
	for i := 0; i < elem.NumField(); i++ {
		if h := elem.Field(i).Tag.Get("header"); h != "" {
			headers = append(headers, h)
			fields = append(fields, i)
		}
	}

	records := make([][]string, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		row := v.Index(i)
		if row.Kind() == reflect.Pointer {
			row = row.Elem()
		}
		record := make([]string, len(fields))
		for j, f := range fields {
			record[j] = fmt.Sprint(row.Field(f).Interface())
		}
		records = append(records, record)
	}
	return headers, records, nil
}
