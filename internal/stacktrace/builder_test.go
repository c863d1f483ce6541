package stacktrace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/roadrunner-sentry/internal/serializer"
)

type staticProvider []RawFrame

func (p staticProvider) Callers(int) []RawFrame { return p }

func TestBuildOrdersOutermostFirst(t *testing.T) {
	b := NewBuilder(Options{}, nil)
	frames := b.Build([]RawFrame{
		{File: "/app/inner.go", Function: "example.com/app.inner", Line: 3},
		{File: "/app/outer.go", Function: "example.com/app.outer", Line: 7},
	})
	require.Len(t, frames, 2)
	assert.Equal(t, "outer", frames[0].Function)
	assert.Equal(t, "inner", frames[1].Function)
	assert.Equal(t, "example.com/app", frames[1].Module)
	assert.Equal(t, 3, frames[1].Lineno)
	assert.Equal(t, "/app/inner.go", frames[1].AbsPath)
}

func TestDisplayPathLongestPrefix(t *testing.T) {
	b := NewBuilder(Options{PrefixesToStrip: []string{"/srv", "/srv/app/", "/srv/app/vendor"}}, nil)
	frames := b.Build([]RawFrame{
		{File: "/srv/app/vendor/lib/x.go"},
		{File: "/srv/app/main.go"},
		{File: "/srv/other.go"},
		{File: "/elsewhere/y.go"},
	})
	assert.Equal(t, "/elsewhere/y.go", frames[0].Filename)
	assert.Equal(t, "other.go", frames[1].Filename)
	assert.Equal(t, "main.go", frames[2].Filename)
	assert.Equal(t, "lib/x.go", frames[3].Filename)
}

func TestSyntheticClosureNames(t *testing.T) {
	b := NewBuilder(Options{}, nil)
	frames := b.Build([]RawFrame{
		{Function: ""},
		{Function: "example.com/app.handler.func1"},
		{Function: "example.com/app.glob..func2"},
	})
	assert.Equal(t, "glob..{closure}", frames[0].Function)
	assert.Equal(t, "handler.{closure}", frames[1].Function)
	assert.Equal(t, ClosureName, frames[2].Function)
}

func TestSplitFunctionName(t *testing.T) {
	for in, expected := range map[string][2]string{
		"":                                 {"", ""},
		"main.main":                        {"main", "main"},
		"net/http.(*Server).Serve":         {"net/http", "(*Server).Serve"},
		"example.com/a%2eb/pkg.Func":       {"example.com/a.b/pkg", "Func"},
		"example.com/pkg%2ev2.(*T).method": {"example.com/pkg.v2", "(*T).method"},
		"github.com/x/y.Type.Method":       {"github.com/x/y", "Type.Method"},
	} {
		module, function := SplitFunctionName(in)
		assert.Equal(t, expected[0], module, in)
		assert.Equal(t, expected[1], function, in)
	}
}

func TestInApp(t *testing.T) {
	b := NewBuilder(Options{
		InAppInclude: []string{"github.com/acme/vendored"},
		InAppExclude: []string{"github.com/acme"},
	}, nil)
	frames := b.Build([]RawFrame{
		{Function: "runtime.goexit"},
		{Function: "net/http.HandlerFunc.ServeHTTP"},
		{Function: "github.com/acme/lib.Do"},
		{Function: "github.com/acme/vendored.Do"},
		{Function: "main.main"},
	})
	// outermost first: main, vendored, acme/lib, net/http, runtime
	assert.True(t, frames[0].InApp)
	assert.True(t, frames[1].InApp)
	assert.False(t, frames[2].InApp)
	assert.False(t, frames[3].InApp)
	assert.False(t, frames[4].InApp)
}

func TestContextLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "src.go")
	var lines []string
	for i := 1; i <= 10; i++ {
		lines = append(lines, "line "+string(rune('0'+i%10)))
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600))

	b := NewBuilder(Options{ContextLines: 2}, nil)
	frames := b.Build([]RawFrame{
		{File: path, Line: 5},
		{File: path, Line: 1},
		{File: filepath.Join(dir, "missing.go"), Line: 3},
		{File: path, Line: 99},
	})

	assert.Empty(t, frames[0].ContextLine)
	assert.Empty(t, frames[1].PreContext)

	assert.Equal(t, "line 1", frames[2].ContextLine)
	assert.Empty(t, frames[2].PreContext)
	assert.Equal(t, []string{"line 2", "line 3"}, frames[2].PostContext)

	assert.Equal(t, []string{"line 3", "line 4"}, frames[3].PreContext)
	assert.Equal(t, "line 5", frames[3].ContextLine)
	assert.Equal(t, []string{"line 6", "line 7"}, frames[3].PostContext)
}

func TestFrameVarsRepresented(t *testing.T) {
	b := NewBuilder(Options{}, serializer.New(3, 8))
	frames := b.Build([]RawFrame{{
		Function: "main.f",
		Vars:     map[string]any{"n": 1.0, "ok": true, "nothing": nil, "s": "a long string"},
	}})
	assert.Equal(t, map[string]any{
		"n":       "1.0",
		"ok":      "true",
		"nothing": "null",
		"s":       "a lon...",
	}, frames[0].Vars)
}

func TestCaptureRuntime(t *testing.T) {
	b := NewBuilder(Options{}, nil)
	st := b.Capture(RuntimeProvider{}, 0)
	require.NotNil(t, st)
	require.NotEmpty(t, st.Frames)
	innermost := st.Frames[len(st.Frames)-1]
	assert.Equal(t, "TestCaptureRuntime", innermost.Function)
	assert.Equal(t, "github.com/your-org/roadrunner-sentry/internal/stacktrace", innermost.Module)
	assert.True(t, strings.HasSuffix(innermost.AbsPath, "builder_test.go"))
}

func TestCaptureEmpty(t *testing.T) {
	b := NewBuilder(Options{}, nil)
	assert.Nil(t, b.Capture(staticProvider(nil), 0))
	assert.Nil(t, b.Capture(nil, 0))
}
