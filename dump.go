// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dsnet/compress/bzip2"
	jsonv2 "github.com/go-json-experiment/json"
)

// Signature is the binary chunk header prefix (§6): 0x1B followed by
// "Lua". Any chunk whose first byte is 0x1B is treated as binary.
const Signature = "\x1bLua"

const (
	// luacVersion mirrors Lua 5.4's version byte.
	luacVersion = 0x54
	// luacFormat 0 marks this implementation's chunk payload layout.
	luacFormat = 0
)

// luacData follows the version/format bytes; its fixed contents catch
// chunks that were corrupted by text-mode transfers, the same trick
// the reference format plays.
const luacData = "\x19\x93\r\n\x1a\n"

// chunkPayload is the serialized form of a loaded chunk. There is no
// bytecode in a tree-walking interpreter, so the payload carries the
// chunk's name and source text rather than a constant pool and
// instruction stream; the header contract of §6 is preserved.
type chunkPayload struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// Dump serializes f as a binary chunk. Only functions loaded from a
// chunk (LoadString, Load*) can be dumped; host functions and
// closures plucked out of running code have no serializable form.
func (l *State) Dump(f *Function) ([]byte, error) {
	if f == nil || f.source == "" {
		return nil, fmt.Errorf("unable to dump given function")
	}
	payload, err := jsonv2.Marshal(chunkPayload{Name: f.name, Source: f.source})
	if err != nil {
		return nil, fmt.Errorf("dump %s: %w", f.name, err)
	}
	out := make([]byte, 0, len(Signature)+2+len(luacData)+len(payload))
	out = append(out, Signature...)
	out = append(out, luacVersion, luacFormat)
	out = append(out, luacData...)
	return append(out, payload...), nil
}

// Load deserializes a binary chunk previously produced by Dump and
// returns a callable equivalent to the original.
func (l *State) Load(data []byte) (*Function, error) {
	return l.loadBinary(string(data))
}

func (l *State) loadBinary(data string) (*Function, error) {
	rest, ok := strings.CutPrefix(data, Signature)
	if !ok {
		return nil, fmt.Errorf("load binary chunk: bad signature")
	}
	if len(rest) < 2+len(luacData) {
		return nil, fmt.Errorf("load binary chunk: truncated header")
	}
	if rest[0] != luacVersion {
		return nil, fmt.Errorf("load binary chunk: version mismatch (got %#x)", rest[0])
	}
	if rest[1] != luacFormat {
		return nil, fmt.Errorf("load binary chunk: format mismatch (got %#x)", rest[1])
	}
	rest = rest[2:]
	if rest[:len(luacData)] != luacData {
		return nil, fmt.Errorf("load binary chunk: corrupted")
	}
	var payload chunkPayload
	if err := jsonv2.Unmarshal([]byte(rest[len(luacData):]), &payload); err != nil {
		return nil, fmt.Errorf("load binary chunk: %w", err)
	}
	f, err := l.LoadString(payload.Source, payload.Name, "t", nil)
	if err != nil {
		return nil, fmt.Errorf("load binary chunk: %w", err)
	}
	return f, nil
}

// DumpCompressed is Dump with bzip2 framing, for chunks shipped over
// a bandwidth-constrained channel.
func (l *State) DumpCompressed(f *Function) ([]byte, error) {
	raw, err := l.Dump(f)
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	w, err := bzip2.NewWriter(buf, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	if err != nil {
		return nil, fmt.Errorf("dump %s: %w", f.name, err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("dump %s: %w", f.name, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("dump %s: %w", f.name, err)
	}
	return buf.Bytes(), nil
}

// LoadCompressed reverses DumpCompressed.
func (l *State) LoadCompressed(data []byte) (*Function, error) {
	r, err := bzip2.NewReader(bytes.NewReader(data), nil)
	if err != nil {
		return nil, fmt.Errorf("load compressed chunk: %w", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("load compressed chunk: %w", err)
	}
	if err := r.Close(); err != nil {
		return nil, fmt.Errorf("load compressed chunk: %w", err)
	}
	return l.Load(raw)
}
