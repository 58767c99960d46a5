// Grounded on original_source/crates/dryad_runtime/src/native_modules/http.rs's
// register_http_functions table, adapted from reqwest to net/http. Each
// registerHTTP call gets its own *httpState rather than a package global,
// per SPEC_FULL.md's "native modules must provide their own synchronization"
// requirement.
package natives

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"dryad/internal/heap"
	"dryad/internal/value"
	"dryad/internal/vm"
)

type httpState struct {
	mu      sync.Mutex
	client  *http.Client
	headers map[string]string
}

func registerHTTP(m *vm.VM) {
	st := &httpState{
		client:  &http.Client{Timeout: 30 * time.Second},
		headers: make(map[string]string),
	}

	m.DefineNative("native_http_set_timeout", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, fmt.Errorf("native_http_set_timeout: esperado 1 argumento, recebido %d", len(args))
		}
		st.mu.Lock()
		st.client.Timeout = time.Duration(args[0].AsNumber() * float64(time.Second))
		st.mu.Unlock()
		return value.NewNull(), nil
	})

	m.DefineNative("native_http_set_headers", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 || args[0].Type != value.Object {
			return value.Value{}, fmt.Errorf("native_http_set_headers: esperado 1 argumento do tipo objeto")
		}
		obj, ok := m.Heap().Map(args[0].AsHeapID())
		if !ok {
			return value.Value{}, fmt.Errorf("native_http_set_headers: referência de objeto inválida")
		}
		st.mu.Lock()
		for _, k := range obj.Keys {
			v, _ := obj.Get(k)
			st.headers[k] = v.String()
		}
		st.mu.Unlock()
		return value.NewNull(), nil
	})

	m.DefineNative("native_http_get", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, fmt.Errorf("native_http_get: esperado 1 argumento, recebido %d", len(args))
		}
		return st.do(m.Heap(), http.MethodGet, args[0].AsString(), "")
	})

	m.DefineNative("native_http_post", func(args []value.Value) (value.Value, error) {
		if len(args) != 2 {
			return value.Value{}, fmt.Errorf("native_http_post: esperados 2 argumentos, recebido %d", len(args))
		}
		return st.do(m.Heap(), http.MethodPost, args[0].AsString(), args[1].AsString())
	})
}

// do performs the request and returns {status, body} as a plain
// heap-backed Object, since native code has no route to construct a
// real Instance (which requires a ClassID the registry never has).
func (s *httpState) do(h *heap.Heap, method, url, body string) (value.Value, error) {
	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return value.Value{}, fmt.Errorf("native_http request: %w", err)
	}

	s.mu.Lock()
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	client := s.client
	s.mu.Unlock()

	resp, err := client.Do(req)
	if err != nil {
		return value.Value{}, fmt.Errorf("native_http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return value.Value{}, fmt.Errorf("native_http read body: %w", err)
	}

	result := heap.NewMapObj()
	result.Set("status", value.NewNumber(float64(resp.StatusCode)))
	result.Set("body", value.NewString(string(respBody)))
	id := h.Alloc(result)
	return value.NewObject(id), nil
}
