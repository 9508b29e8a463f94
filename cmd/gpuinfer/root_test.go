package main

import (
	"fmt"
	"testing"

	"github.com/ollama-fork/gpuinfer/gpuerr"
)

func TestExitCodeForMapsErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"config", &gpuerr.ConfigError{Field: "x", Err: fmt.Errorf("bad")}, exitInputError},
		{"adapter", &gpuerr.AdapterError{Adapter: "shard", Err: fmt.Errorf("bad")}, exitInputError},
		{"shape", &gpuerr.ShapeError{Op: "matmul", Detail: "bad"}, exitRuntimeError},
		{"dispatch", &gpuerr.DispatchError{Op: "attn", Detail: "bad"}, exitRuntimeError},
		{"resource", gpuerr.ErrResourceExhausted, exitRuntimeError},
		{"unrelated", fmt.Errorf("some other failure"), exitRuntimeError},
	}

	for _, c := range cases {
		if got := exitCodeFor(c.err); got != c.want {
			t.Errorf("exitCodeFor(%s) = %d, want %d", c.name, got, c.want)
		}
	}
}
