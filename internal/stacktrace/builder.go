package stacktrace

import (
	"bufio"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
	"github.com/your-org/roadrunner-sentry/internal/serializer"
)

// ClosureName replaces the name of anonymous functions.
const ClosureName = "{closure}"

var anonymousFuncRe = regexp.MustCompile(`^func\d+$`)

// Options configure a Builder.
type Options struct {
	// PrefixesToStrip are removed from absolute paths to form the display
	// path. The longest matching prefix wins.
	PrefixesToStrip []string
	// InAppInclude lists module prefixes always considered application code.
	InAppInclude []string
	// InAppExclude lists module prefixes never considered application code.
	InAppExclude []string
	// ContextLines is the number of source lines captured around each frame
	// line. Zero disables reading sources.
	ContextLines int
}

// Builder turns raw call stacks into event frames.
type Builder struct {
	opts       Options
	serializer *serializer.Serializer
}

// NewBuilder returns a Builder. s renders frame variables.
func NewBuilder(opts Options, s *serializer.Serializer) *Builder {
	prefixes := append([]string(nil), opts.PrefixesToStrip...)
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	opts.PrefixesToStrip = prefixes
	if s == nil {
		s = serializer.New(0, 0)
	}
	return &Builder{opts: opts, serializer: s}
}

// Capture reads the stack from p, skipping skip frames above the caller.
// It returns nil when the provider reports no frames.
func (b *Builder) Capture(p Provider, skip int) *protocol.Stacktrace {
	if p == nil {
		return nil
	}
	frames := b.Build(p.Callers(skip + 1))
	if len(frames) == 0 {
		return nil
	}
	return &protocol.Stacktrace{Frames: frames}
}

// Build converts raw frames, given innermost first, into frames ordered from
// the outermost caller to the innermost call.
func (b *Builder) Build(raw []RawFrame) []protocol.Frame {
	if len(raw) == 0 {
		return nil
	}
	sources := make(map[string][]string)
	out := make([]protocol.Frame, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		out = append(out, b.frame(raw[i], sources))
	}
	return out
}

func (b *Builder) frame(in RawFrame, sources map[string][]string) protocol.Frame {
	module, function := SplitFunctionName(in.Function)
	frame := protocol.Frame{
		AbsPath:  in.File,
		Filename: b.displayPath(in.File),
		Module:   module,
		Function: syntheticName(function),
		Lineno:   in.Line,
		InApp:    b.inApp(module),
	}

	if len(in.Vars) > 0 {
		frame.Vars = make(map[string]any, len(in.Vars))
		for name, v := range in.Vars {
			frame.Vars[name] = b.serializer.Represent(v)
		}
	}

	if b.opts.ContextLines > 0 && in.File != "" && in.Line > 0 {
		lines, ok := sources[in.File]
		if !ok {
			lines = readLines(in.File)
			sources[in.File] = lines
		}
		frame.PreContext, frame.ContextLine, frame.PostContext = contextAround(lines, in.Line, b.opts.ContextLines)
	}
	return frame
}

func (b *Builder) displayPath(path string) string {
	for _, prefix := range b.opts.PrefixesToStrip {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return strings.TrimPrefix(path[len(prefix):], "/")
		}
	}
	return path
}

func (b *Builder) inApp(module string) bool {
	for _, prefix := range b.opts.InAppInclude {
		if strings.HasPrefix(module, prefix) {
			return true
		}
	}
	for _, prefix := range b.opts.InAppExclude {
		if strings.HasPrefix(module, prefix) {
			return false
		}
	}
	return !IsStandardLibrary(module)
}

// IsStandardLibrary reports whether module belongs to the Go distribution:
// its first path element has no dot.
func IsStandardLibrary(module string) bool {
	if module == "" || module == "main" {
		return false
	}
	first, _, _ := strings.Cut(module, "/")
	return !strings.Contains(first, ".")
}

func syntheticName(function string) string {
	if function == "" {
		return ClosureName
	}
	parts := strings.Split(function, ".")
	for i, part := range parts {
		if anonymousFuncRe.MatchString(part) {
			parts[i] = ClosureName
		}
	}
	return strings.Join(parts, ".")
}

// SplitFunctionName splits a function name as formatted by the runtime into
// its package path and function components.
func SplitFunctionName(in string) (packagePath, function string) {
	function = in
	if function == "" {
		return "", ""
	}
	// Unexported method names may contain the package path; the receiver
	// is then enclosed in parentheses.
	if sep := strings.Index(function, ".("); sep >= 0 {
		return unescape(function[:sep]), function[sep+1:]
	}
	offset := 0
	if sep := strings.LastIndex(function, "/"); sep >= 0 {
		offset = sep
	}
	if sep := strings.IndexRune(function[offset+1:], '.'); sep >= 0 {
		packagePath = unescape(function[:offset+1+sep])
		function = function[offset+1+sep+1:]
	}
	return packagePath, function
}

// unescape decodes the "%2e" escapes the runtime puts in the last element of
// a package path.
func unescape(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' && i+2 < len(s) {
			c = fromHex(s[i+1])<<4 | fromHex(s[i+2])
			i += 2
		}
		out = append(out, c)
	}
	return string(out)
}

func fromHex(b byte) byte {
	switch {
	case b >= 'a':
		return 10 + b - 'a'
	case b >= 'A':
		return 10 + b - 'A'
	default:
		return b - '0'
	}
}

// readLines reads a source file. Unreadable files yield nil.
func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if scanner.Err() != nil {
		return nil
	}
	return lines
}

// contextAround returns up to n lines before and after the 1-based line.
func contextAround(lines []string, line, n int) (pre []string, current string, post []string) {
	idx := line - 1
	if idx < 0 || idx >= len(lines) {
		return nil, "", nil
	}
	start := idx - n
	if start < 0 {
		start = 0
	}
	end := idx + n + 1
	if end > len(lines) {
		end = len(lines)
	}
	pre = append([]string(nil), lines[start:idx]...)
	post = append([]string(nil), lines[idx+1:end]...)
	return pre, lines[idx], post
}
