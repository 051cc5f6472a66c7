// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package interp_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"treewalk.zombiezen.dev/lua/internal/ast"
	"treewalk.zombiezen.dev/lua/internal/baselib"
	"treewalk.zombiezen.dev/lua/internal/interp"
	"treewalk.zombiezen.dev/lua/internal/parser"
	"treewalk.zombiezen.dev/lua/internal/value"
)

// runScript parses and runs source as a chunk named test.lua with the
// base library installed, returning the chunk's results.
func runScript(t *testing.T, source string) (value.Multi, error) {
	t.Helper()
	ctx := context.Background()
	s := interp.NewState()
	baselib.OpenBase(s, nil)
	t.Cleanup(func() {
		if err := s.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	chunk, err := parser.Parse("test.lua", strings.NewReader(source))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	f := s.LoadChunk(chunk, "test.lua", nil)
	return s.Call(ctx, ast.Span{}, f, nil)
}

func TestEval(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		want    value.Multi
		wantErr string // substring of the error; empty means success
	}{
		{
			name:   "TailCallStability",
			source: `local function f(n) if n == 0 then return "ok" else return f(n-1) end end return f(1000000)`,
			want:   value.Multi{value.String("ok")},
		},
		{
			name: "MetamethodAddLeftWins",
			source: `local a = setmetatable({}, {__add = function(x,y) return 10 end})
				local b = setmetatable({}, {__add = function(x,y) return 20 end})
				return a + b`,
			want: value.Multi{value.Integer(10)},
		},
		{
			name: "CoroutinePingPong",
			source: `local co = coroutine.create(function(x) local y = coroutine.yield(x+1); return y*2 end)
				local _, a = coroutine.resume(co, 10)
				local _, b = coroutine.resume(co, 5)
				return a, b`,
			want: value.Multi{value.Integer(11), value.Integer(10)},
		},
		{
			name: "ToBeClosedReverseOrder",
			source: `local log = {}
				do
					local a <close> = setmetatable({}, {__close=function() log[#log+1]="A" end})
					local b <close> = setmetatable({}, {__close=function() log[#log+1]="B" end})
				end
				return log[1], log[2]`,
			want: value.Multi{value.String("B"), value.String("A")},
		},
		{
			name: "MultipleReturnTruncation",
			source: `local function m() return 1, 2, 3 end
				local t = {m(), m()}
				return #t, t[1], t[2], t[3], t[4]`,
			want: value.Multi{value.Integer(4), value.Integer(1), value.Integer(1), value.Integer(2), value.Integer(3)},
		},
		{
			name:   "ReturnNothing",
			source: `local function f() return end local a, b = f() return select("#", f()), a, b`,
			want:   value.Multi{value.Integer(0), nil, nil},
		},
		{
			name:   "ParenthesesTruncate",
			source: `local function m() return 1, 2 end return (m())`,
			want:   value.Multi{value.Integer(1)},
		},
		{
			name: "UpvalueSharing",
			source: `local function counter()
					local n = 0
					return function() n = n + 1 return n end, function() return n end
				end
				local inc, get = counter()
				inc() inc()
				return get()`,
			want: value.Multi{value.Integer(2)},
		},
		{
			name: "TransitiveCapture",
			source: `local x = 1
				local function outer() return function() x = x + 1 return x end end
				local bump = outer()
				bump()
				return x, bump()`,
			want: value.Multi{value.Integer(2), value.Integer(3)},
		},
		{
			name:   "NumericStringCoercion",
			source: `return "10" + 1, "2" * "3"`,
			want:   value.Multi{value.Integer(11), value.Integer(6)},
		},
		{
			name:   "FloorDivisionAndModuloSigns",
			source: `return -7 // 2, -7 % 2, 7 % -2, 7.0 // 2`,
			want:   value.Multi{value.Integer(-4), value.Integer(1), value.Integer(-1), value.Float(3)},
		},
		{
			name:   "DivisionAndPowerAreFloat",
			source: `return 1 / 2, 2 ^ 2, 3 // 2`,
			want:   value.Multi{value.Float(0.5), value.Float(4), value.Integer(1)},
		},
		{
			name:   "IntegerOverflowWraps",
			source: `return 0x7fffffffffffffff + 1`,
			want:   value.Multi{value.Integer(-0x8000000000000000)},
		},
		{
			name:   "Bitwise",
			source: `return 0xF0 & 0xFF, 1 << 4, 256 >> 4, ~0`,
			want:   value.Multi{value.Integer(0xF0), value.Integer(16), value.Integer(16), value.Integer(-1)},
		},
		{
			name:   "ConcatCoercesNumbers",
			source: `return 1 .. 2, "x" .. 1.5`,
			want:   value.Multi{value.String("12"), value.String("x1.5")},
		},
		{
			name:   "StringLengthIsBytes",
			source: "return #\"h\xc3\xa9llo\"",
			want:   value.Multi{value.Integer(6)},
		},
		{
			name:   "ComparisonFallbacks",
			source: `return 2 > 1, 2 >= 2, "a" < "b", 1.5 < 2`,
			want:   value.Multi{value.Boolean(true), value.Boolean(true), value.Boolean(true), value.Boolean(true)},
		},
		{
			name: "LessThanMetamethod",
			source: `local mt = {__lt = function(a, b) return a.n < b.n end}
				local a = setmetatable({n=1}, mt)
				local b = setmetatable({n=2}, mt)
				return a < b, a > b`,
			want: value.Multi{value.Boolean(true), value.Boolean(false)},
		},
		{
			name: "EqMetamethodOnlyForTables",
			source: `local mt = {__eq = function() return true end}
				local a = setmetatable({}, mt)
				local b = setmetatable({}, mt)
				return a == b, a ~= b, "0" == 0, {} == {}`,
			want: value.Multi{value.Boolean(true), value.Boolean(false), value.Boolean(false), value.Boolean(false)},
		},
		{
			name:   "RawEqualityAcrossNumberDomains",
			source: `return 0 == 0.0, 1 == 1.0, rawequal(1, 1.0)`,
			want:   value.Multi{value.Boolean(true), value.Boolean(true), value.Boolean(true)},
		},
		{
			name: "IndexChain",
			source: `local base = {greet = "hi"}
				local mid = setmetatable({}, {__index = base})
				local obj = setmetatable({}, {__index = mid})
				return obj.greet, obj.missing`,
			want: value.Multi{value.String("hi"), nil},
		},
		{
			name: "IndexFunction",
			source: `local t = setmetatable({}, {__index = function(t, k) return "dyn:" .. k end})
				return t.foo`,
			want: value.Multi{value.String("dyn:foo")},
		},
		{
			name: "NewIndexTable",
			source: `local store = {}
				local t = setmetatable({}, {__newindex = store})
				t.x = 1
				t.x = 2
				return rawget(t, "x"), store.x`,
			want: value.Multi{nil, value.Integer(2)},
		},
		{
			name: "NewIndexOnlyForNewKeys",
			source: `local hits = 0
				local t = setmetatable({n = 1}, {__newindex = function() hits = hits + 1 end})
				t.n = 2
				t.fresh = true
				return t.n, hits`,
			want: value.Multi{value.Integer(2), value.Integer(1)},
		},
		{
			name: "CallMetamethod",
			source: `local t = setmetatable({}, {__call = function(self, a, b) return a + b end})
				return t(3, 4)`,
			want: value.Multi{value.Integer(7)},
		},
		{
			name: "LenMetamethod",
			source: `local t = setmetatable({}, {__len = function() return 42 end})
				return #t`,
			want: value.Multi{value.Integer(42)},
		},
		{
			name: "MethodCall",
			source: `local obj = {n = 5}
				function obj:double() return self.n * 2 end
				return obj:double()`,
			want: value.Multi{value.Integer(10)},
		},
		{
			name: "TailMethodCall",
			source: `local obj = {n = 0}
				function obj:bump(k) self.n = self.n + 1 if k == 0 then return self.n end return self:bump(k - 1) end
				return obj:bump(100000)`,
			want: value.Multi{value.Integer(100001)},
		},
		{
			name: "NumericFor",
			source: `local sum = 0
				for i = 1, 10 do sum = sum + i end
				local down = 0
				for i = 3, 1, -1 do down = down + i end
				local none = 0
				for i = 3, 1 do none = none + 1 end
				return sum, down, none`,
			want: value.Multi{value.Integer(55), value.Integer(6), value.Integer(0)},
		},
		{
			name:   "NumericForFloat",
			source: `local s = 0 for i = 1, 2, 0.5 do s = s + i end return s`,
			want:   value.Multi{value.Float(4.5)},
		},
		{
			name: "NumericForFreshVariable",
			source: `local fns = {}
				for i = 1, 3 do fns[i] = function() return i end end
				return fns[1](), fns[2](), fns[3]()`,
			want: value.Multi{value.Integer(1), value.Integer(2), value.Integer(3)},
		},
		{
			name: "GenericForPairsVisitsAll",
			source: `local t = {a = 1, b = 2, c = 3}
				local sum = 0
				for _, v in pairs(t) do sum = sum + v end
				return sum`,
			want: value.Multi{value.Integer(6)},
		},
		{
			name: "GenericForIpairsStopsAtHole",
			source: `local t = {10, 20, nil, 40}
				local n, sum = 0, 0
				for i, v in ipairs(t) do n = n + 1 sum = sum + v end
				return n, sum`,
			want: value.Multi{value.Integer(2), value.Integer(30)},
		},
		{
			name: "GenericForClosingValue",
			source: `local log = {}
				local function iter(s, c) if c < 3 then return c + 1 end end
				local closer = setmetatable({}, {__close = function() log[#log+1] = "closed" end})
				for i in iter, 0, 0, closer do end
				return log[1]`,
			want: value.Multi{value.String("closed")},
		},
		{
			name: "GenericForClosingValueOnBreak",
			source: `local log = {}
				local function iter(s, c) return c + 1 end
				local closer = setmetatable({}, {__close = function() log[#log+1] = "closed" end})
				for i in iter, 0, 0, closer do if i > 2 then break end end
				return log[1]`,
			want: value.Multi{value.String("closed")},
		},
		{
			name: "WhileBreak",
			source: `local i = 0
				while true do i = i + 1 if i == 4 then break end end
				return i`,
			want: value.Multi{value.Integer(4)},
		},
		{
			name: "RepeatUntilSeesBodyLocals",
			source: `local i = 0
				repeat local j = i i = i + 1 until j >= 3
				return i`,
			want: value.Multi{value.Integer(4)},
		},
		{
			name: "GotoContinue",
			source: `local sum = 0
				for i = 1, 10 do
					if i % 2 == 0 then goto continue end
					sum = sum + i
					::continue::
				end
				return sum`,
			want: value.Multi{value.Integer(25)},
		},
		{
			name: "GotoBackward",
			source: `local n = 0
				::top::
				n = n + 1
				if n < 3 then goto top end
				return n`,
			want: value.Multi{value.Integer(3)},
		},
		{
			name: "Varargs",
			source: `local function f(...) local a, b = ... return a, b, select("#", ...) end
				return f(10, 20, 30)`,
			want: value.Multi{value.Integer(10), value.Integer(20), value.Integer(3)},
		},
		{
			name:   "VarargsInTable",
			source: `local function f(...) local t = {...} return #t, t[2] end return f("a", "b")`,
			want:   value.Multi{value.Integer(2), value.String("b")},
		},
		{
			name:   "Select",
			source: `return select("#", 1, 2), select(2, "a", "b", "c")`,
			want:   value.Multi{value.Integer(2), value.String("b"), value.String("c")},
		},
		{
			name:   "SelectNegative",
			source: `return select(-1, "a", "b", "c")`,
			want:   value.Multi{value.String("c")},
		},
		{
			name:   "ToStringFormats",
			source: `return tostring(2.0), tostring(10), tostring(nil), tostring(true)`,
			want:   value.Multi{value.String("2.0"), value.String("10"), value.String("nil"), value.String("true")},
		},
		{
			name: "ToStringMetamethod",
			source: `local t = setmetatable({}, {__tostring = function() return "fancy" end})
				return tostring(t)`,
			want: value.Multi{value.String("fancy")},
		},
		{
			name:   "ToNumber",
			source: `return tonumber("0x10"), tonumber("  5  "), tonumber("z", 36), tonumber("bogus"), tonumber("1.5")`,
			want:   value.Multi{value.Integer(16), value.Integer(5), value.Integer(35), nil, value.Float(1.5)},
		},
		{
			name:   "TypeOf",
			source: `return type(nil), type(true), type(1), type("s"), type({}), type(print), type(coroutine.create(function() end))`,
			want: value.Multi{
				value.String("nil"), value.String("boolean"), value.String("number"),
				value.String("string"), value.String("table"), value.String("function"),
				value.String("thread"),
			},
		},
		{
			name: "TableDeleteOnNil",
			source: `local t = {x = 1}
				t.x = nil
				local count = 0
				for _ in pairs(t) do count = count + 1 end
				return t.x, count`,
			want: value.Multi{nil, value.Integer(0)},
		},
		{
			name:   "NegativeZeroKey",
			source: `local t = {} t[-0.0] = 5 return t[0], t[0.0]`,
			want:   value.Multi{value.Integer(5), value.Integer(5)},
		},
		{
			name:   "FloatKeyNormalization",
			source: `local t = {} t[2.0] = "two" return t[2]`,
			want:   value.Multi{value.String("two")},
		},
		{
			name: "AndOrShortCircuit",
			source: `local hits = 0
				local function bump() hits = hits + 1 return true end
				local a = false and bump()
				local b = true or bump()
				return hits, a, b, nil or "default", false or nil`,
			want: value.Multi{value.Integer(0), value.Boolean(false), value.Boolean(true), value.String("default"), nil},
		},
		{
			name: "PCallSuccess",
			source: `local ok, a, b = pcall(function() return 1, 2 end)
				return ok, a, b`,
			want: value.Multi{value.Boolean(true), value.Integer(1), value.Integer(2)},
		},
		{
			name: "PCallTablePayload",
			source: `local payload = {code = 42}
				local ok, err = pcall(function() error(payload) end)
				return ok, err.code`,
			want: value.Multi{value.Boolean(false), value.Integer(42)},
		},
		{
			name: "AssertDefaultMessage",
			source: `local ok, err = pcall(function() assert(false) end)
				return ok, err`,
			want: value.Multi{value.Boolean(false), value.String("assertion failed!")},
		},
		{
			name:   "AssertPassesValuesThrough",
			source: `return assert(1, "unused", 3)`,
			want:   value.Multi{value.Integer(1), value.String("unused"), value.Integer(3)},
		},
		{
			name:    "ConstViolation",
			source:  `local x <const> = 1 x = 2`,
			wantErr: "const",
		},
		{
			name:    "CloseAttributeRequiresClosable",
			source:  `local x <close> = 42`,
			wantErr: "non-closable",
		},
		{
			name:    "BreakOutsideLoop",
			source:  `break`,
			wantErr: "break outside a loop",
		},
		{
			name:    "UndefinedGotoLabel",
			source:  `goto nowhere`,
			wantErr: "no visible label 'nowhere'",
		},
		{
			name:    "CallNil",
			source:  `local f return f()`,
			wantErr: "attempt to call a nil value",
		},
		{
			name:    "IndexNumber",
			source:  `local n = 5 return n.field`,
			wantErr: "attempt to index a number value",
		},
		{
			name:    "ArithmeticOnTable",
			source:  `return {} + 1`,
			wantErr: "attempt to perform arithmetic on a table value",
		},
		{
			name:    "ConcatNil",
			source:  `return "x" .. nil`,
			wantErr: "attempt to concatenate a nil value",
		},
		{
			name:    "IntegerDivideByZero",
			source:  `return 1 // 0`,
			wantErr: "perform 'n%0'",
		},
		{
			name:    "NilTableKey",
			source:  `local t = {} t[nil] = 1`,
			wantErr: "table index is nil",
		},
		{
			name:    "NaNTableKey",
			source:  `local t = {} t[0/0] = 1`,
			wantErr: "table index is NaN",
		},
		{
			name:    "NumericForZeroStep",
			source:  `for i = 1, 10, 0 do end`,
			wantErr: "'for' step is zero",
		},
		{
			name:    "NumericForNonNumber",
			source:  `for i = "a", 10 do end`,
			wantErr: "'for' initial value must be a number",
		},
		{
			name:    "CompareNumberWithString",
			source:  `return 1 < "2"`,
			wantErr: "attempt to compare",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := runScript(t, test.source)
			if test.wantErr != "" {
				if err == nil {
					t.Fatalf("script succeeded (results %v); want error containing %q", got, test.wantErr)
				}
				if !strings.Contains(err.Error(), test.wantErr) {
					t.Fatalf("error = %q; want substring %q", err.Error(), test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("script failed: %v", err)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("results (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStackOverflowWithoutTailCall(t *testing.T) {
	got, err := runScript(t, `local function f(n) return 1 + f(n + 1) end
		local ok, err = pcall(f, 1)
		return ok, err`)
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	if want := value.Boolean(false); got.At(0) != want {
		t.Errorf("pcall ok = %v; want %v", got.At(0), want)
	}
	msg, ok := got.At(1).(value.String)
	if !ok || !strings.Contains(string(msg), "stack overflow") {
		t.Errorf("pcall err = %v; want a string containing %q", got.At(1), "stack overflow")
	}
}

func TestXPCallHandlerSeesPositionedMessage(t *testing.T) {
	got, err := runScript(t, `local ok, msg = xpcall(function() error("boom") end, function(e) return "caught: "..e end)
		return ok, msg`)
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	if want := value.Boolean(false); got.At(0) != want {
		t.Errorf("ok = %v; want %v", got.At(0), want)
	}
	msg, _ := got.At(1).(value.String)
	if !strings.HasPrefix(string(msg), "caught: test.lua:1: boom") {
		t.Errorf("msg = %q; want prefix %q", msg, "caught: test.lua:1: boom")
	}
}

func TestErrorLevelZeroSuppressesPosition(t *testing.T) {
	got, err := runScript(t, `local ok, msg = pcall(function() error("raw", 0) end)
		return ok, msg`)
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	want := value.Multi{value.Boolean(false), value.String("raw")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestToBeClosedOnError(t *testing.T) {
	got, err := runScript(t, `local seen
		local ok, err = pcall(function()
			local a <close> = setmetatable({}, {__close = function(_, e) seen = e end})
			error("bang")
		end)
		return ok, err == seen`)
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	want := value.Multi{value.Boolean(false), value.Boolean(true)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestCloseErrorReplacesInFlight(t *testing.T) {
	got, err := runScript(t, `local ok, err = pcall(function()
			local a <close> = setmetatable({}, {__close = function() error("from close", 0) end})
			error("original", 0)
		end)
		return ok, err`)
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	want := value.Multi{value.Boolean(false), value.String("from close")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestFirstCloseErrorPrevails(t *testing.T) {
	got, err := runScript(t, `local ok, err = pcall(function()
			do
				local a <close> = setmetatable({}, {__close = function() error("second", 0) end})
				local b <close> = setmetatable({}, {__close = function() error("first", 0) end})
			end
		end)
		return ok, err`)
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	// b closes before a, so b's error is the first raised and wins.
	want := value.Multi{value.Boolean(false), value.String("first")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestToBeClosedOnBreakAndReturn(t *testing.T) {
	got, err := runScript(t, `local log = {}
		local function mk(tag) return setmetatable({}, {__close = function() log[#log+1] = tag end}) end
		while true do
			local a <close> = mk("loop")
			break
		end
		local function f()
			local b <close> = mk("fn")
			return "done"
		end
		local r = f()
		return log[1], log[2], r`)
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	want := value.Multi{value.String("loop"), value.String("fn"), value.String("done")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestLoadWithCustomEnv(t *testing.T) {
	got, err := runScript(t, `local env = {}
		local f = load("x = 1 return x", "chunk", "t", env)
		local v = f()
		return v, env.x, x`)
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	want := value.Multi{value.Integer(1), value.Integer(1), nil}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestLoadModeRejectsBinary(t *testing.T) {
	got, err := runScript(t, `local f, err = load("\27Lua bogus", "bin", "t")
		return f, err`)
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	if got.At(0) != nil {
		t.Errorf("load returned a function; want nil")
	}
	msg, _ := got.At(1).(value.String)
	if !strings.Contains(string(msg), "binary chunk") {
		t.Errorf("err = %q; want mention of binary chunk", msg)
	}
}

func TestLoadSyntaxErrorReturnsNil(t *testing.T) {
	got, err := runScript(t, `local f, err = load("return +", "bad")
		return f == nil, type(err)`)
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	want := value.Multi{value.Boolean(true), value.String("string")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestGotoIntoLocalScopeRejectedAtParse(t *testing.T) {
	_, err := parser.Parse("test.lua", strings.NewReader(`goto skip
		local x = 1
		::skip::
		return x`))
	if err == nil {
		t.Fatal("parse succeeded; want goto-scope error")
	}
	if !strings.Contains(err.Error(), "jumps into the scope of local 'x'") {
		t.Errorf("error = %q; want mention of jumping into local scope", err)
	}
}

func TestSetmetatableProtected(t *testing.T) {
	got, err := runScript(t, `local t = setmetatable({}, {__metatable = "locked"})
		local ok, err = pcall(setmetatable, t, {})
		return getmetatable(t), ok`)
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	want := value.Multi{value.String("locked"), value.Boolean(false)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestMethodReceiverEvaluatedOnce(t *testing.T) {
	got, err := runScript(t, `local hits = 0
		local obj = {f = function(self) return self end}
		local function get() hits = hits + 1 return obj end
		get():f()
		return hits`)
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	want := value.Multi{value.Integer(1)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestCallableTableChainDoesNotGrowStack(t *testing.T) {
	// A callable table whose __call target recurses through the table
	// in tail position must behave like a tail call.
	got, err := runScript(t, `local t
		t = setmetatable({}, {__call = function(self, n)
			if n == 0 then return "done" end
			return t(n - 1)
		end})
		return t(10000)`)
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	want := value.Multi{value.String("done")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestMaxCallDepthConfigurable(t *testing.T) {
	ctx := context.Background()
	s := interp.NewState()
	s.MaxCallDepth = 8
	baselib.OpenBase(s, nil)
	chunk, err := parser.Parse("depth.lua", strings.NewReader(
		`local function f(n) if n == 0 then return 0 end return 1 + f(n - 1) end return f(100)`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = s.Call(ctx, ast.Span{}, s.LoadChunk(chunk, "depth.lua", nil), nil)
	if err == nil || !strings.Contains(err.Error(), "stack overflow") {
		t.Errorf("err = %v; want stack overflow", err)
	}
}
