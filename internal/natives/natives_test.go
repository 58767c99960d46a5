package natives

import (
	"bufio"
	"fmt"
	"net"
	"testing"

	"dryad/internal/heap"
	"dryad/internal/value"
	"dryad/internal/vm"
)

func call(t *testing.T, m *vm.VM, name string, args ...value.Value) value.Value {
	t.Helper()
	g, ok := m.GetGlobal(name)
	if !ok {
		t.Fatalf("native %q was not registered", name)
	}
	nd := g.AsNative()
	if nd == nil {
		t.Fatalf("global %q is not a native function", name)
	}
	result, err := nd.Fn(args)
	if err != nil {
		t.Fatalf("%s(%v) returned error: %v", name, args, err)
	}
	return result
}

func callErr(t *testing.T, m *vm.VM, name string, args ...value.Value) error {
	t.Helper()
	g, ok := m.GetGlobal(name)
	if !ok {
		t.Fatalf("native %q was not registered", name)
	}
	_, err := g.AsNative().Fn(args)
	return err
}

func TestRegisterAllWiresEveryNative(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	want := []string{
		"native_hash_sha256", "native_hash_md5", "native_uuid",
		"native_base64_encode", "native_base64_decode",
		"native_hex_encode", "native_hex_decode",
		"native_random_bytes", "native_bcrypt_hash", "native_bcrypt_verify",
		"native_http_set_timeout", "native_http_set_headers",
		"native_http_get", "native_http_post",
		"sqlite_open", "sqlite_close", "sqlite_execute", "sqlite_query",
		"native_json_encode", "native_json_decode",
		"native_csv_encode", "native_csv_decode",
		"native_random_int", "native_random_float", "native_random_string",
		"native_regex_match", "native_regex_test", "native_regex_replace", "native_regex_split",
		"native_humanize_bytes", "native_humanize_time",
		"native_ws_listen", "native_ws_connect", "native_ws_send", "native_ws_recv", "native_ws_close",
	}
	for _, name := range want {
		if _, ok := m.GetGlobal(name); !ok {
			t.Errorf("expected RegisterAll to define global %q", name)
		}
	}
}

func TestHashSHA256(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	got := call(t, m, "native_hash_sha256", value.NewString("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got.AsString() != want {
		t.Fatalf("native_hash_sha256(\"abc\") = %q, want %q", got.AsString(), want)
	}
}

func TestHashSHA256WrongArity(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	if err := callErr(t, m, "native_hash_sha256"); err == nil {
		t.Fatal("expected error for missing argument")
	}
}

func TestUUIDProducesDistinctValues(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	a := call(t, m, "native_uuid").AsString()
	b := call(t, m, "native_uuid").AsString()
	if a == "" || b == "" {
		t.Fatal("expected non-empty uuid strings")
	}
	if a == b {
		t.Fatal("expected two calls to native_uuid to differ")
	}
}

func TestBase64RoundTrip(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	encoded := call(t, m, "native_base64_encode", value.NewString("hello world"))
	decoded := call(t, m, "native_base64_decode", encoded)
	if decoded.AsString() != "hello world" {
		t.Fatalf("round trip mismatch: got %q", decoded.AsString())
	}
}

func TestBase64DecodeInvalidInput(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	if err := callErr(t, m, "native_base64_decode", value.NewString("not base64!!")); err == nil {
		t.Fatal("expected error decoding invalid base64")
	}
}

func TestHexRoundTrip(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	encoded := call(t, m, "native_hex_encode", value.NewString("go"))
	if encoded.AsString() != "676f" {
		t.Fatalf("native_hex_encode(\"go\") = %q, want %q", encoded.AsString(), "676f")
	}
	decoded := call(t, m, "native_hex_decode", encoded)
	if decoded.AsString() != "go" {
		t.Fatalf("round trip mismatch: got %q", decoded.AsString())
	}
}

func TestBcryptHashAndVerify(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	hash := call(t, m, "native_bcrypt_hash", value.NewString("s3cret"))
	ok := call(t, m, "native_bcrypt_verify", value.NewString("s3cret"), hash)
	if !ok.AsBool() {
		t.Fatal("expected correct password to verify")
	}
	bad := call(t, m, "native_bcrypt_verify", value.NewString("wrong"), hash)
	if bad.AsBool() {
		t.Fatal("expected wrong password not to verify")
	}
}

func TestRandomBytesLength(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	got := call(t, m, "native_random_bytes", value.NewNumber(8))
	if len(got.AsString()) != 8 {
		t.Fatalf("expected 8 random bytes, got %d", len(got.AsString()))
	}
}

func TestRandomBytesNegativeLength(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	if err := callErr(t, m, "native_random_bytes", value.NewNumber(-1)); err == nil {
		t.Fatal("expected error for negative length")
	}
}

func TestJSONEncodeDecodeRoundTrip(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	obj := heapObject(t, m, map[string]value.Value{
		"name": value.NewString("dryad"),
		"ok":   value.NewBool(true),
	})

	encoded := call(t, m, "native_json_encode", obj)
	if encoded.AsString() == "" {
		t.Fatal("expected non-empty json")
	}
	decoded := call(t, m, "native_json_decode", encoded)
	if decoded.Type != value.Object {
		t.Fatalf("expected decoded value to be an object, got %v", decoded.Type)
	}
	m2, ok := m.Heap().Map(decoded.AsHeapID())
	if !ok {
		t.Fatal("expected decoded heap object to resolve")
	}
	v, ok := m2.Get("name")
	if !ok || v.AsString() != "dryad" {
		t.Fatalf("expected round-tripped name field, got %v", v)
	}
}

func TestCSVEncodeDecodeRoundTrip(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	row1 := heapArray(t, m, []value.Value{value.NewString("a"), value.NewString("b")})
	row2 := heapArray(t, m, []value.Value{value.NewString("c"), value.NewString("d")})
	rows := heapArray(t, m, []value.Value{row1, row2})

	encoded := call(t, m, "native_csv_encode", rows)
	decoded := call(t, m, "native_csv_decode", encoded)
	arr, ok := m.Heap().Array(decoded.AsHeapID())
	if !ok || len(arr.Elems) != 2 {
		t.Fatalf("expected 2 decoded rows, got %v", decoded)
	}
}

func TestRegexMatchAndReplace(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	matched := call(t, m, "native_regex_match", value.NewString(`\d+`), value.NewString("abc123"))
	if !matched.AsBool() {
		t.Fatal("expected regex to match")
	}
	replaced := call(t, m, "native_regex_replace", value.NewString(`\d+`), value.NewString("abc123"), value.NewString("#"))
	if replaced.AsString() != "abc#" {
		t.Fatalf("native_regex_replace = %q, want %q", replaced.AsString(), "abc#")
	}
}

func TestRegexSplit(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	split := call(t, m, "native_regex_split", value.NewString(","), value.NewString("a,b,c"))
	arr, ok := m.Heap().Array(split.AsHeapID())
	if !ok || len(arr.Elems) != 3 {
		t.Fatalf("expected 3 parts, got %v", split)
	}
}

func TestRandomIntRange(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	for i := 0; i < 20; i++ {
		got := call(t, m, "native_random_int", value.NewNumber(5), value.NewNumber(5))
		if got.AsNumber() != 5 {
			t.Fatalf("expected degenerate range to always return 5, got %v", got.AsNumber())
		}
	}
	if err := callErr(t, m, "native_random_int", value.NewNumber(5), value.NewNumber(1)); err == nil {
		t.Fatal("expected error when max < min")
	}
}

func TestHumanizeBytes(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	got := call(t, m, "native_humanize_bytes", value.NewNumber(1024))
	if got.AsString() == "" {
		t.Fatal("expected non-empty humanized string")
	}
}

func TestSQLiteOpenExecuteQueryClose(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	handle := call(t, m, "sqlite_open", value.NewString(":memory:"))

	createResult := call(t, m, "sqlite_execute", handle, value.NewString("CREATE TABLE t (id INTEGER, name TEXT)"))
	obj, ok := m.Heap().Map(createResult.AsHeapID())
	if !ok {
		t.Fatal("expected sqlite_execute to return an object")
	}
	if okVal, _ := obj.Get("ok"); !okVal.AsBool() {
		errVal, _ := obj.Get("error")
		t.Fatalf("CREATE TABLE failed: %v", errVal.AsString())
	}

	insertResult := call(t, m, "sqlite_execute", handle, value.NewString("INSERT INTO t (id, name) VALUES (?, ?)"),
		value.NewNumber(1), value.NewString("dryad"))
	insertObj, _ := m.Heap().Map(insertResult.AsHeapID())
	if okVal, _ := insertObj.Get("ok"); !okVal.AsBool() {
		t.Fatal("expected insert to succeed")
	}
	if ra, _ := insertObj.Get("rows_affected"); ra.AsNumber() != 1 {
		t.Fatalf("expected 1 row affected, got %v", ra.AsNumber())
	}

	queryResult := call(t, m, "sqlite_query", handle, value.NewString("SELECT id, name FROM t"))
	rows, ok := m.Heap().Array(queryResult.AsHeapID())
	if !ok || len(rows.Elems) != 1 {
		t.Fatalf("expected 1 row back, got %v", queryResult)
	}
	row, _ := m.Heap().Map(rows.Elems[0].AsHeapID())
	if name, _ := row.Get("name"); name.AsString() != "dryad" {
		t.Fatalf("expected name=dryad, got %v", name)
	}

	if err := callErr(t, m, "sqlite_close", handle); err != nil {
		t.Fatalf("sqlite_close failed: %v", err)
	}
	if err := callErr(t, m, "sqlite_close", handle); err == nil {
		t.Fatal("expected error closing an already-closed handle")
	}
}

func TestWebsocketConnectSendRecv(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start loopback listener: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- ""
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		fmt.Fprintf(conn, "echo:%s", line)
		serverDone <- line
	}()

	handle := call(t, m, "native_ws_connect", value.NewString(ln.Addr().String()))
	if err := callErr(t, m, "native_ws_send", handle, value.NewString("hello")); err != nil {
		t.Fatalf("native_ws_send failed: %v", err)
	}
	<-serverDone

	got := call(t, m, "native_ws_recv", handle)
	if got.AsString() != "echo:hello" {
		t.Fatalf("native_ws_recv = %q, want %q", got.AsString(), "echo:hello")
	}

	if err := callErr(t, m, "native_ws_close", handle); err != nil {
		t.Fatalf("native_ws_close failed: %v", err)
	}
	if err := callErr(t, m, "native_ws_send", handle, value.NewString("late")); err == nil {
		t.Fatal("expected error sending on a closed handle")
	}
}

func TestWebsocketArityErrors(t *testing.T) {
	m := vm.New()
	RegisterAll(m)

	if err := callErr(t, m, "native_ws_send", value.NewNumber(999)); err == nil {
		t.Fatal("expected arity error for native_ws_send with 1 argument")
	}
	if err := callErr(t, m, "native_ws_recv", value.NewNumber(999)); err == nil {
		t.Fatal("expected error receiving on an unknown handle")
	}
}

func heapObject(t *testing.T, m *vm.VM, fields map[string]value.Value) value.Value {
	t.Helper()
	obj := heap.NewMapObj()
	for k, v := range fields {
		obj.Set(k, v)
	}
	id := m.Heap().Alloc(obj)
	return value.NewObject(id)
}

func heapArray(t *testing.T, m *vm.VM, elems []value.Value) value.Value {
	t.Helper()
	id := m.Heap().Alloc(&heap.ArrayObj{Elems: elems})
	return value.NewArray(id)
}
