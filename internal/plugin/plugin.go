// Package plugin implements the out-of-process native plugin contract
// (spec §6): a newline-delimited JSON request/response protocol spoken
// over a child process's stdin/stdout, matching the teacher's
// internal/plugin/plugin.go. A plugin binary is any child process that
// reads a PluginRequest line and writes a PluginResponse line; this
// package's ValueToInterface/InterfaceToValue do the heap-aware
// conversion on the host side so the plugin itself only ever sees
// plain JSON.
package plugin

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"dryad/internal/heap"
	"dryad/internal/value"
)

type PluginRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type PluginResponse struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

type PluginClient struct {
	Name    string
	Cmd     *exec.Cmd
	Stdin   io.WriteCloser
	Stdout  *bufio.Scanner
	Running bool
	Lock    sync.Mutex
}

var (
	LoadedPlugins = make(map[string]*PluginClient)
	PluginsLock   sync.Mutex
)

// LoadPlugin starts (or reuses) the plugin process registered under
// name, resolving executableName against PATH, dryad_libs/<name>/, and
// the current directory, in that order — matching the teacher's lookup
// order in internal/plugin/plugin.go.
func LoadPlugin(name string, executableName string) (*PluginClient, error) {
	PluginsLock.Lock()
	defer PluginsLock.Unlock()

	if client, ok := LoadedPlugins[name]; ok {
		return client, nil
	}

	var execPath string
	if path, err := exec.LookPath(executableName); err == nil {
		execPath = path
	} else {
		libPath := filepath.Join("dryad_libs", name, executableName)
		if _, err := os.Stat(libPath); err == nil {
			execPath, _ = filepath.Abs(libPath)
		} else if _, err := os.Stat(libPath + ".exe"); err == nil {
			execPath, _ = filepath.Abs(libPath + ".exe")
		} else if _, err := os.Stat(executableName); err == nil {
			execPath, _ = filepath.Abs(executableName)
		}
	}

	cmd := exec.Command(execPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %v", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %v", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start plugin process: %v", err)
	}

	client := &PluginClient{
		Name:    name,
		Cmd:     cmd,
		Stdin:   stdin,
		Stdout:  bufio.NewScanner(stdoutPipe),
		Running: true,
	}
	LoadedPlugins[name] = client
	return client, nil
}

// Call marshals args through ValueToInterface, sends a single
// newline-delimited JSON request, and blocks for the matching
// response. h resolves any heap-backed argument (Array/Object) to its
// JSON-friendly form and rebuilds the plugin's result back onto the
// same heap.
func (c *PluginClient) Call(method string, args []value.Value, h *heap.Heap) value.Value {
	c.Lock.Lock()
	defer c.Lock.Unlock()

	if !c.Running {
		return value.NewNull()
	}

	jsonArgs := make([]interface{}, len(args))
	for i, arg := range args {
		jsonArgs[i] = ValueToInterface(arg, h)
	}

	reqBytes, err := json.Marshal(PluginRequest{Method: method, Params: jsonArgs})
	if err != nil {
		fmt.Fprintf(os.Stderr, "plugin error: failed to marshal request: %v\n", err)
		return value.NewNull()
	}

	if _, err := c.Stdin.Write(append(reqBytes, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "plugin error: failed to write to plugin: %v\n", err)
		c.Running = false
		return value.NewNull()
	}

	if !c.Stdout.Scan() {
		if err := c.Stdout.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "plugin error: read failed: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "plugin error: unexpected EOF\n")
		}
		c.Running = false
		return value.NewNull()
	}

	var resp PluginResponse
	if err := json.Unmarshal(c.Stdout.Bytes(), &resp); err != nil {
		fmt.Fprintf(os.Stderr, "plugin error: failed to unmarshal response: %v\n", err)
		return value.NewNull()
	}
	if resp.Error != "" {
		fmt.Fprintf(os.Stderr, "plugin remote error: %s\n", resp.Error)
		return value.NewNull()
	}
	return InterfaceToValue(resp.Result, h)
}

// ValueToInterface converts a Value into the plain Go value JSON can
// marshal, dereferencing heap-backed Array/Object variants through h.
func ValueToInterface(v value.Value, h *heap.Heap) interface{} {
	switch v.Type {
	case value.Null:
		return nil
	case value.Bool:
		return v.AsBool()
	case value.Number:
		return v.AsNumber()
	case value.String:
		return v.AsString()
	case value.Array:
		arr, _ := h.Array(v.AsHeapID())
		out := make([]interface{}, len(arr.Elems))
		for i, e := range arr.Elems {
			out[i] = ValueToInterface(e, h)
		}
		return out
	case value.Object:
		m, _ := h.Map(v.AsHeapID())
		out := make(map[string]interface{}, len(m.Keys))
		for _, k := range m.Keys {
			val, _ := m.Get(k)
			out[k] = ValueToInterface(val, h)
		}
		return out
	default:
		return v.String()
	}
}

// InterfaceToValue converts a decoded JSON value back into a Value,
// allocating any Array/Object result onto h.
func InterfaceToValue(i interface{}, h *heap.Heap) value.Value {
	if i == nil {
		return value.NewNull()
	}
	switch v := i.(type) {
	case bool:
		return value.NewBool(v)
	case float64:
		return value.NewNumber(v)
	case string:
		return value.NewString(v)
	case []interface{}:
		elems := make([]value.Value, len(v))
		for idx, elm := range v {
			elems[idx] = InterfaceToValue(elm, h)
		}
		id := h.Alloc(&heap.ArrayObj{Elems: elems})
		return value.NewArray(id)
	case map[string]interface{}:
		m := heap.NewMapObj()
		for k, val := range v {
			m.Set(k, InterfaceToValue(val, h))
		}
		id := h.Alloc(m)
		return value.NewObject(id)
	default:
		return value.NewString(fmt.Sprintf("%v", v))
	}
}
