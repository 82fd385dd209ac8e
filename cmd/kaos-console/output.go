package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/duration"
	"sigs.k8s.io/yaml"
)

// printer writes command results in the selected output format.
type printer struct {
	w      io.Writer
	format string
}

func (o *rootOptions) printer(w io.Writer) printer {
	return printer{w: w, format: o.output}
}

// print writes v as JSON or YAML, or calls table for the table format. A
// nil table falls back to YAML.
func (p printer) print(v any, table func(w io.Writer) error) error {
	switch p.format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshalling output: %w", err)
		}
		_, err = fmt.Fprintln(p.w, string(data))
		return err
	case "yaml":
		return writeYAML(p.w, v)
	}
	if table == nil {
		return writeYAML(p.w, v)
	}
	return table(p.w)
}

func writeYAML(w io.Writer, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling output: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// writeTable renders rows under header with aligned columns.
func writeTable(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// age formats the time since t the way kubectl does.
func age(t metav1.Time) string {
	if t.IsZero() {
		return "<unknown>"
	}
	return duration.HumanDuration(time.Since(t.Time))
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
