package testutils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is an interface that matches the methods we need from testing.T
type TestingT interface {
	Errorf(format string, args ...interface{})
}

type TextAssertOptions struct {
	IgnoreLeadingWhitespace  bool `default:"false"`
	IgnoreTrailingWhitespace bool `default:"false"`
	IgnoreEmptyLines         bool `default:"false"`
	TrimSpace                bool `default:"false"`
	EnableColors             bool `default:"false"`
	StripANSI                bool `default:"true"`
}

// ScreenOptions is the usual set for comparing rendered terminal output.
var ScreenOptions = []TextOption{
	WithTrimSpace(true),
	WithIgnoreTrailingWhitespace(true),
}

// TextOption is a functional option for configuring TextAsserter
type TextOption func(*TextAssertOptions)

type TextAsserter struct {
	t       TestingT
	options TextAssertOptions
}

// NewTextAsserter creates a new TextAsserter with default options
func NewTextAsserter(t TestingT) *TextAsserter {
	opts := TextAssertOptions{}
	defaults.SetDefaults(&opts)
	return &TextAsserter{
		t:       t,
		options: opts,
	}
}

// WithOptions applies functional options to the TextAsserter
func (ta *TextAsserter) WithOptions(opts ...TextOption) *TextAsserter {
	for _, opt := range opts {
		opt(&ta.options)
	}
	return ta
}

// Assert compares actual text against expected text
func (ta *TextAsserter) Assert(actual, expected string) {
	if diff := ta.diff(actual, expected); diff != "" {
		ta.t.Errorf("Text assertion failed:\n%s", diff)
	}
}

func (ta *TextAsserter) diff(actual, expected string) string {
	normalizedActual := ta.normalize(actual)
	normalizedExpected := ta.normalize(expected)
	if normalizedActual == normalizedExpected {
		return ""
	}

	edits := myers.ComputeEdits("", normalizedExpected, normalizedActual)
	unified := gotextdiff.ToUnified("expected", "actual", normalizedExpected, edits)

	return fmt.Sprintf("unified diff:\n%s", ta.colorize(fmt.Sprint(unified)))
}

// colorize paints the unified diff; whitespace on changed lines is made visible.
func (ta *TextAsserter) colorize(diff string) string {
	if !ta.options.EnableColors {
		return diff
	}

	paint := func(attr color.Attribute) *color.Color {
		c := color.New(attr)
		c.EnableColor()
		return c
	}
	red, green, cyan, yellow := paint(color.FgRed), paint(color.FgGreen), paint(color.FgCyan), paint(color.FgYellow)
	visible := strings.NewReplacer(" ", "·", "\t", "→")

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			lines[i] = yellow.Sprint(line)
		case strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(visible.Replace(line))
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(visible.Replace(line))
		}
	}
	return strings.Join(lines, "\n")
}

var ansiSequence = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

func (ta *TextAsserter) normalize(text string) string {
	if ta.options.StripANSI {
		text = ansiSequence.ReplaceAllString(text, "")
	}
	if ta.options.TrimSpace {
		text = strings.TrimSpace(text)
	}

	var result []string
	for _, line := range strings.Split(text, "\n") {
		if ta.options.IgnoreEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		if ta.options.IgnoreLeadingWhitespace {
			line = strings.TrimLeft(line, " \t")
		}
		if ta.options.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t")
		}
		result = append(result, line)
	}
	return strings.Join(result, "\n")
}

// WithIgnoreLeadingWhitespace sets whether to ignore leading whitespace on each line
func WithIgnoreLeadingWhitespace(ignore bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.IgnoreLeadingWhitespace = ignore
	}
}

// WithIgnoreTrailingWhitespace sets whether to ignore trailing whitespace on each line
func WithIgnoreTrailingWhitespace(ignore bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.IgnoreTrailingWhitespace = ignore
	}
}

// WithIgnoreEmptyLines sets whether to ignore empty lines
func WithIgnoreEmptyLines(ignore bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.IgnoreEmptyLines = ignore
	}
}

// WithTrimSpace sets whether to trim the whole text
func WithTrimSpace(trim bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.TrimSpace = trim
	}
}

// WithEnableColors sets whether to enable colored diff output
func WithEnableColors(enable bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.EnableColors = enable
	}
}

// WithStripANSI sets whether terminal escape sequences are removed before comparing
func WithStripANSI(strip bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.StripANSI = strip
	}
}
