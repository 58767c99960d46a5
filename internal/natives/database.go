// Grounded on the teacher's internal/vm/vm.go sqlite_open/sqlite_close/
// sqlite_exec/sqlite_exec_params registrations (SharedState.DbHandles
// map[int]*sql.DB, NextDbID, DbLock sync.Mutex), adapted to modernc.org/sqlite
// (pure-Go, no cgo) and to this runtime's Object-based multi-field results
// in place of the teacher's ObjInstance ones — native code here has no way
// to mint a real ClassID, so "ok"/"error"/"rows_affected"/"last_insert_id"
// style results are built as plain heap Objects instead.
package natives

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"dryad/internal/heap"
	"dryad/internal/value"
	"dryad/internal/vm"
)

type dbState struct {
	mu      sync.Mutex
	handles map[int]*sql.DB
	nextID  int
}

func registerDatabase(m *vm.VM) {
	st := &dbState{handles: make(map[int]*sql.DB)}

	m.DefineNative("sqlite_open", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, fmt.Errorf("sqlite_open: esperado 1 argumento, recebido %d", len(args))
		}
		db, err := sql.Open("sqlite", args[0].AsString())
		if err != nil {
			return value.Value{}, fmt.Errorf("sqlite_open: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return value.Value{}, fmt.Errorf("sqlite_open: %w", err)
		}

		st.mu.Lock()
		st.nextID++
		id := st.nextID
		st.handles[id] = db
		st.mu.Unlock()

		return value.NewNumber(float64(id)), nil
	})

	m.DefineNative("sqlite_close", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, fmt.Errorf("sqlite_close: esperado 1 argumento, recebido %d", len(args))
		}
		db, err := st.lookup(int(args[0].AsNumber()))
		if err != nil {
			return value.Value{}, err
		}
		st.mu.Lock()
		delete(st.handles, int(args[0].AsNumber()))
		st.mu.Unlock()
		if err := db.Close(); err != nil {
			return value.Value{}, fmt.Errorf("sqlite_close: %w", err)
		}
		return value.NewNull(), nil
	})

	m.DefineNative("sqlite_execute", func(args []value.Value) (value.Value, error) {
		if len(args) < 2 {
			return value.Value{}, fmt.Errorf("sqlite_execute: esperado ao menos 2 argumentos, recebido %d", len(args))
		}
		db, err := st.lookup(int(args[0].AsNumber()))
		if err != nil {
			return value.Value{}, err
		}
		params := paramsFromValues(args[2:])
		result := heap.NewMapObj()
		res, execErr := db.Exec(args[1].AsString(), params...)
		if execErr != nil {
			result.Set("ok", value.NewBool(false))
			result.Set("error", value.NewString(execErr.Error()))
			id := m.Heap().Alloc(result)
			return value.NewObject(id), nil
		}
		rowsAffected, _ := res.RowsAffected()
		lastInsertID, _ := res.LastInsertId()
		result.Set("ok", value.NewBool(true))
		result.Set("error", value.NewString(""))
		result.Set("rows_affected", value.NewNumber(float64(rowsAffected)))
		result.Set("last_insert_id", value.NewNumber(float64(lastInsertID)))
		id := m.Heap().Alloc(result)
		return value.NewObject(id), nil
	})

	m.DefineNative("sqlite_query", func(args []value.Value) (value.Value, error) {
		if len(args) < 2 {
			return value.Value{}, fmt.Errorf("sqlite_query: esperado ao menos 2 argumentos, recebido %d", len(args))
		}
		db, err := st.lookup(int(args[0].AsNumber()))
		if err != nil {
			return value.Value{}, err
		}
		params := paramsFromValues(args[2:])
		rows, queryErr := db.Query(args[1].AsString(), params...)
		if queryErr != nil {
			return value.Value{}, fmt.Errorf("sqlite_query: %w", queryErr)
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return value.Value{}, fmt.Errorf("sqlite_query: %w", err)
		}

		rowValues := make([]value.Value, 0)
		for rows.Next() {
			raw := make([]interface{}, len(cols))
			ptrs := make([]interface{}, len(cols))
			for i := range raw {
				ptrs[i] = &raw[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return value.Value{}, fmt.Errorf("sqlite_query scan: %w", err)
			}
			rowObj := heap.NewMapObj()
			for i, col := range cols {
				rowObj.Set(col, sqlValueToValue(raw[i]))
			}
			rowID := m.Heap().Alloc(rowObj)
			rowValues = append(rowValues, value.NewObject(rowID))
		}

		arrID := m.Heap().Alloc(&heap.ArrayObj{Elems: rowValues})
		return value.NewArray(arrID), nil
	})
}

func (s *dbState) lookup(id int) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.handles[id]
	if !ok {
		return nil, fmt.Errorf("sqlite: nenhum banco de dados aberto com identificador %d", id)
	}
	return db, nil
}

func paramsFromValues(args []value.Value) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		switch a.Type {
		case value.Number:
			out[i] = a.AsNumber()
		case value.Bool:
			out[i] = a.AsBool()
		case value.Null:
			out[i] = nil
		default:
			out[i] = a.String()
		}
	}
	return out
}

func sqlValueToValue(raw interface{}) value.Value {
	switch v := raw.(type) {
	case nil:
		return value.NewNull()
	case int64:
		return value.NewNumber(float64(v))
	case float64:
		return value.NewNumber(v)
	case []byte:
		return value.NewString(string(v))
	case string:
		return value.NewString(v)
	case bool:
		return value.NewBool(v)
	default:
		return value.NewString(fmt.Sprintf("%v", v))
	}
}
