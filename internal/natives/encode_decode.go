// Grounded on original_source/crates/dryad_runtime/src/native_modules/
// encode_decode.rs's register_encode_decode_functions table (serde_json,
// csv, quick_xml). XML is dropped here: no XML library appears anywhere in
// the retrieval pack, so native_xml_encode/decode are not registered —
// a documented standard-library exception would still need an import this
// module has no grounded source for, so it is left out entirely rather than
// hand-rolled.
package natives

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"dryad/internal/heap"
	"dryad/internal/plugin"
	"dryad/internal/value"
	"dryad/internal/vm"
)

func registerEncodeDecode(m *vm.VM) {
	m.DefineNative("native_json_encode", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, fmt.Errorf("native_json_encode: esperado 1 argumento, recebido %d", len(args))
		}
		out, err := json.Marshal(plugin.ValueToInterface(args[0], m.Heap()))
		if err != nil {
			return value.Value{}, fmt.Errorf("native_json_encode: %w", err)
		}
		return value.NewString(string(out)), nil
	})

	m.DefineNative("native_json_decode", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, fmt.Errorf("native_json_decode: esperado 1 argumento, recebido %d", len(args))
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(args[0].AsString()), &decoded); err != nil {
			return value.Value{}, fmt.Errorf("native_json_decode: %w", err)
		}
		return plugin.InterfaceToValue(decoded, m.Heap()), nil
	})

	m.DefineNative("native_csv_encode", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 || args[0].Type != value.Array {
			return value.Value{}, fmt.Errorf("native_csv_encode: esperado 1 argumento do tipo array")
		}
		rows, ok := m.Heap().Array(args[0].AsHeapID())
		if !ok {
			return value.Value{}, fmt.Errorf("native_csv_encode: referência de array inválida")
		}
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		for _, rowVal := range rows.Elems {
			rowArr, ok := m.Heap().Array(rowVal.AsHeapID())
			if !ok {
				return value.Value{}, fmt.Errorf("native_csv_encode: linha não é um array")
			}
			record := make([]string, len(rowArr.Elems))
			for i, cell := range rowArr.Elems {
				record[i] = cell.String()
			}
			if err := w.Write(record); err != nil {
				return value.Value{}, fmt.Errorf("native_csv_encode: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return value.Value{}, fmt.Errorf("native_csv_encode: %w", err)
		}
		return value.NewString(buf.String()), nil
	})

	m.DefineNative("native_csv_decode", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, fmt.Errorf("native_csv_decode: esperado 1 argumento, recebido %d", len(args))
		}
		r := csv.NewReader(strings.NewReader(args[0].AsString()))
		records, err := r.ReadAll()
		if err != nil {
			return value.Value{}, fmt.Errorf("native_csv_decode: %w", err)
		}
		rows := make([]value.Value, len(records))
		for i, record := range records {
			cells := make([]value.Value, len(record))
			for j, cell := range record {
				cells[j] = value.NewString(cell)
			}
			rowID := m.Heap().Alloc(&heap.ArrayObj{Elems: cells})
			rows[i] = value.NewArray(rowID)
		}
		id := m.Heap().Alloc(&heap.ArrayObj{Elems: rows})
		return value.NewArray(id), nil
	})
}
