package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/c360/vatdata/marshal"
	"github.com/c360/vatdata/vom"
)

// dumpEntry is one store key, decoded where the key's layout is known.
type dumpEntry struct {
	Key    string                  `json:"key" yaml:"key"`
	Raw    string                  `json:"raw,omitempty" yaml:"raw,omitempty"`
	Value  *decodedValue           `json:"value,omitempty" yaml:"value,omitempty"`
	Fields map[string]decodedValue `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// decodedValue is a marshaled value in CBOR diagnostic notation plus the
// slots its references point at.
type decodedValue struct {
	Body  string   `json:"body" yaml:"body"`
	Slots []string `json:"slots,omitempty" yaml:"slots,omitempty"`
}

func newDumpCmd(flags *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every committed key of the unit's store",
		Long: `dump lists the manager's keys in order. State records, weak store
entries and baggage are decoded into CBOR diagnostic notation, with
references shown as tag 27001 over an index into the slot list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			logger := setupLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format, cfg.Unit.Name)

			u, err := openUnit(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer u.Close()

			entries, err := u.manager.DumpStore(cmd.Context())
			if err != nil {
				return err
			}
			decoded := make([]dumpEntry, 0, len(entries))
			for _, e := range entries {
				d, err := decodeEntry(e)
				if err != nil {
					return err
				}
				decoded = append(decoded, d)
			}
			return writeDump(cmd.OutOrStdout(), format, decoded)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "text", "output format: text, json, yaml")
	return cmd
}

func decodeEntry(e vom.Entry) (dumpEntry, error) {
	switch {
	case vom.IsStateKey(e.Key):
		fields, err := marshal.DecodeFields(e.Value)
		if err != nil {
			return dumpEntry{}, fmt.Errorf("%s: %w", e.Key, err)
		}
		out := dumpEntry{Key: e.Key, Fields: make(map[string]decodedValue, len(fields))}
		for name, data := range fields {
			v, err := diagnose(data)
			if err != nil {
				return dumpEntry{}, fmt.Errorf("%s field %s: %w", e.Key, name, err)
			}
			out.Fields[name] = v
		}
		return out, nil
	case vom.IsValueKey(e.Key):
		data, err := marshal.DecodeRecord(e.Value)
		if err != nil {
			return dumpEntry{}, fmt.Errorf("%s: %w", e.Key, err)
		}
		v, err := diagnose(data)
		if err != nil {
			return dumpEntry{}, fmt.Errorf("%s: %w", e.Key, err)
		}
		return dumpEntry{Key: e.Key, Value: &v}, nil
	default:
		return dumpEntry{Key: e.Key, Raw: e.Value}, nil
	}
}

func diagnose(data marshal.CapData) (decodedValue, error) {
	body, err := marshal.Diagnose(data.Body)
	if err != nil {
		return decodedValue{}, err
	}
	return decodedValue{Body: body, Slots: data.Slots}, nil
}

func writeDump(w io.Writer, format string, entries []dumpEntry) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(entries)
	case "text":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	for _, e := range entries {
		switch {
		case e.Fields != nil:
			fmt.Fprintln(w, e.Key)
			names := make([]string, 0, len(e.Fields))
			for name := range e.Fields {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(w, "  %s = %s\n", name, formatValue(e.Fields[name]))
			}
		case e.Value != nil:
			fmt.Fprintf(w, "%s = %s\n", e.Key, formatValue(*e.Value))
		default:
			fmt.Fprintf(w, "%s = %s\n", e.Key, e.Raw)
		}
	}
	return nil
}

func formatValue(v decodedValue) string {
	if len(v.Slots) == 0 {
		return v.Body
	}
	return fmt.Sprintf("%s %v", v.Body, v.Slots)
}
