// Grounded on original_source/crates/dryad_runtime/src/native_modules/
// utils.rs's register_utils_functions table (rand, regex, lazy_static),
// adapted to stdlib math/rand, stdlib regexp, and the teacher's
// go-humanize dependency for byte/duration formatting.
package natives

import (
	"fmt"
	"math/rand"
	"regexp"
	"time"

	"github.com/dustin/go-humanize"

	"dryad/internal/heap"
	"dryad/internal/value"
	"dryad/internal/vm"
)

const utilsRandomCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func registerUtils(m *vm.VM) {
	m.DefineNative("native_random_int", func(args []value.Value) (value.Value, error) {
		if len(args) != 2 {
			return value.Value{}, fmt.Errorf("native_random_int: esperados 2 argumentos, recebido %d", len(args))
		}
		lo, hi := int(args[0].AsNumber()), int(args[1].AsNumber())
		if hi < lo {
			return value.Value{}, fmt.Errorf("native_random_int: máximo %d é menor que o mínimo %d", hi, lo)
		}
		return value.NewNumber(float64(lo + rand.Intn(hi-lo+1))), nil
	})

	m.DefineNative("native_random_float", func(args []value.Value) (value.Value, error) {
		return value.NewNumber(rand.Float64()), nil
	})

	m.DefineNative("native_random_string", func(args []value.Value) (value.Value, error) {
		n := 16
		if len(args) == 1 {
			n = int(args[0].AsNumber())
		}
		if n < 0 {
			return value.Value{}, fmt.Errorf("native_random_string: comprimento negativo")
		}
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = utilsRandomCharset[rand.Intn(len(utilsRandomCharset))]
		}
		return value.NewString(string(buf)), nil
	})

	m.DefineNative("native_regex_match", func(args []value.Value) (value.Value, error) {
		if len(args) != 2 {
			return value.Value{}, fmt.Errorf("native_regex_match: esperados 2 argumentos, recebido %d", len(args))
		}
		re, err := regexp.Compile(args[0].AsString())
		if err != nil {
			return value.Value{}, fmt.Errorf("native_regex_match: %w", err)
		}
		return value.NewBool(re.MatchString(args[1].AsString())), nil
	})

	m.DefineNative("native_regex_test", func(args []value.Value) (value.Value, error) {
		if len(args) != 2 {
			return value.Value{}, fmt.Errorf("native_regex_test: esperados 2 argumentos, recebido %d", len(args))
		}
		re, err := regexp.Compile(args[0].AsString())
		if err != nil {
			return value.Value{}, fmt.Errorf("native_regex_test: %w", err)
		}
		return value.NewBool(re.MatchString(args[1].AsString())), nil
	})

	m.DefineNative("native_regex_replace", func(args []value.Value) (value.Value, error) {
		if len(args) != 3 {
			return value.Value{}, fmt.Errorf("native_regex_replace: esperados 3 argumentos, recebido %d", len(args))
		}
		re, err := regexp.Compile(args[0].AsString())
		if err != nil {
			return value.Value{}, fmt.Errorf("native_regex_replace: %w", err)
		}
		return value.NewString(re.ReplaceAllString(args[1].AsString(), args[2].AsString())), nil
	})

	m.DefineNative("native_regex_split", func(args []value.Value) (value.Value, error) {
		if len(args) != 2 {
			return value.Value{}, fmt.Errorf("native_regex_split: esperados 2 argumentos, recebido %d", len(args))
		}
		re, err := regexp.Compile(args[0].AsString())
		if err != nil {
			return value.Value{}, fmt.Errorf("native_regex_split: %w", err)
		}
		parts := re.Split(args[1].AsString(), -1)
		elems := make([]value.Value, len(parts))
		for i, p := range parts {
			elems[i] = value.NewString(p)
		}
		id := m.Heap().Alloc(&heap.ArrayObj{Elems: elems})
		return value.NewArray(id), nil
	})

	m.DefineNative("native_humanize_bytes", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, fmt.Errorf("native_humanize_bytes: esperado 1 argumento, recebido %d", len(args))
		}
		return value.NewString(humanize.Bytes(uint64(args[0].AsNumber()))), nil
	})

	m.DefineNative("native_humanize_time", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, fmt.Errorf("native_humanize_time: esperado 1 argumento, recebido %d", len(args))
		}
		t := time.Unix(int64(args[0].AsNumber()), 0)
		return value.NewString(humanize.Time(t)), nil
	})
}
