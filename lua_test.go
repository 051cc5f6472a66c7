// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"treewalk.zombiezen.dev/lua/internal/value"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	st := New(nil)
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return st
}

func TestDoString(t *testing.T) {
	st := newTestState(t)
	got, err := st.DoString(context.Background(), "return 1 + 2, 'x'", "test.lua")
	if err != nil {
		t.Fatal(err)
	}
	want := []Value{value.Integer(3), value.String("x")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestRunPassesArguments(t *testing.T) {
	st := newTestState(t)
	f, err := st.LoadString("local a, b = ... return b, a", "args.lua", "t", nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := st.Run(context.Background(), f, value.String("first"), value.String("second"))
	if err != nil {
		t.Fatal(err)
	}
	want := []Value{value.String("second"), value.String("first")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestDumpHeader(t *testing.T) {
	st := newTestState(t)
	f, err := st.LoadString("return 42", "answer.lua", "t", nil)
	if err != nil {
		t.Fatal(err)
	}
	chunk, err := st.Dump(f)
	if err != nil {
		t.Fatal(err)
	}
	if chunk[0] != 0x1B {
		t.Errorf("first byte = %#x; want 0x1b", chunk[0])
	}
	if !strings.HasPrefix(string(chunk), Signature) {
		t.Errorf("chunk does not start with signature %q", Signature)
	}
}

func TestDumpLoadRoundTrip(t *testing.T) {
	st := newTestState(t)
	const source = `local function fib(n)
		if n < 2 then return n end
		return fib(n - 1) + fib(n - 2)
	end
	return fib(10)`
	f, err := st.LoadString(source, "fib.lua", "t", nil)
	if err != nil {
		t.Fatal(err)
	}
	chunk, err := st.Dump(f)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := st.Load(chunk)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	want, err := st.Run(ctx, f)
	if err != nil {
		t.Fatal(err)
	}
	got, err := st.Run(ctx, loaded)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("loaded chunk results differ (-orig +loaded):\n%s", diff)
	}
}

func TestLoadStringModeText(t *testing.T) {
	st := newTestState(t)
	f, err := st.LoadString("return 1", "t.lua", "t", nil)
	if err != nil {
		t.Fatal(err)
	}
	chunk, err := st.Dump(f)
	if err != nil {
		t.Fatal(err)
	}
	// Mode "t" must reject a chunk whose first byte is 0x1B (§6).
	if _, err := st.LoadString(string(chunk), "t.lua", "t", nil); err == nil {
		t.Error("mode t accepted a binary chunk")
	}
	if _, err := st.LoadString(string(chunk), "t.lua", "bt", nil); err != nil {
		t.Errorf("mode bt rejected a binary chunk: %v", err)
	}
	if _, err := st.LoadString("return 1", "t.lua", "b", nil); err == nil {
		t.Error("mode b accepted a text chunk")
	}
}

func TestLoadRejectsCorruptedChunk(t *testing.T) {
	st := newTestState(t)
	f, err := st.LoadString("return 1", "t.lua", "t", nil)
	if err != nil {
		t.Fatal(err)
	}
	chunk, err := st.Dump(f)
	if err != nil {
		t.Fatal(err)
	}
	chunk[4] ^= 0xFF // version byte
	if _, err := st.Load(chunk); err == nil {
		t.Error("Load accepted a chunk with a corrupted version byte")
	}
}

func TestDumpRejectsHostFunction(t *testing.T) {
	st := newTestState(t)
	if _, err := st.Dump(&Function{}); err == nil {
		t.Error("Dump of a sourceless function succeeded; want error")
	}
}

func TestDumpCompressedRoundTrip(t *testing.T) {
	st := newTestState(t)
	f, err := st.LoadString("return 'compressed'", "c.lua", "t", nil)
	if err != nil {
		t.Fatal(err)
	}
	packed, err := st.DumpCompressed(f)
	if err != nil {
		t.Fatal(err)
	}
	if packed[0] == 0x1B {
		t.Error("compressed chunk still starts with 0x1b; want bzip2 framing")
	}
	loaded, err := st.LoadCompressed(packed)
	if err != nil {
		t.Fatal(err)
	}
	got, err := st.Run(context.Background(), loaded)
	if err != nil {
		t.Fatal(err)
	}
	want := []Value{value.String("compressed")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestStringDumpEquivalentViaLua(t *testing.T) {
	// The §8 round-trip property, driven from Lua: a dumped chunk
	// re-loaded with load() behaves like the original.
	st := newTestState(t)
	f, err := st.LoadString("return 6 * 7", "mul.lua", "t", nil)
	if err != nil {
		t.Fatal(err)
	}
	chunk, err := st.Dump(f)
	if err != nil {
		t.Fatal(err)
	}
	st.Interp().Globals.Set(value.String("dumped"), value.String(chunk))
	got, err := st.DoString(context.Background(), `local f = load(dumped, "loaded", "b")
		return f()`, "driver.lua")
	if err != nil {
		t.Fatal(err)
	}
	want := []Value{value.Integer(42)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestDebugJSON(t *testing.T) {
	st := newTestState(t)
	results, err := st.DoString(context.Background(), `return {n = 1, list = {true, "two"}}`, "j.lua")
	if err != nil {
		t.Fatal(err)
	}
	out, err := DebugJSON(results[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, wantSub := range []string{`"n":1`, `"two"`, "true"} {
		if !strings.Contains(string(out), wantSub) {
			t.Errorf("DebugJSON = %s; want substring %q", out, wantSub)
		}
	}
}

func TestDebugJSONBreaksCycles(t *testing.T) {
	st := newTestState(t)
	results, err := st.DoString(context.Background(), `local t = {} t.self = t return t`, "cycle.lua")
	if err != nil {
		t.Fatal(err)
	}
	out, err := DebugJSON(results[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "$cycle") {
		t.Errorf("DebugJSON = %s; want a $cycle marker", out)
	}
}

func TestMaxCallDepthOption(t *testing.T) {
	st := New(&Options{MaxCallDepth: 16})
	defer st.Close()
	_, err := st.DoString(context.Background(),
		`local function f(n) return 1 + f(n + 1) end return f(0)`, "deep.lua")
	if err == nil || !strings.Contains(err.Error(), "stack overflow") {
		t.Errorf("err = %v; want stack overflow", err)
	}
}

func TestPrintOutput(t *testing.T) {
	buf := new(strings.Builder)
	st := New(&Options{Output: buf})
	defer st.Close()
	if _, err := st.DoString(context.Background(), `print("a", 1, nil, true)`, "p.lua"); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), "a\t1\tnil\ttrue\n"; got != want {
		t.Errorf("print wrote %q; want %q", got, want)
	}
}
