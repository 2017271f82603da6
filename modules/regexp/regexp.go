// Package regexp binds Go regular expressions to scripts as the class
// Regexp.
//
//	local re = Regexp("[a-z]+")
//	re:find_all("abc 123 def")  -- {"abc", "def"}
package regexp

import (
	"regexp"
	"strings"

	"github.com/deepnoodle-ai/scriptbind/class"
	"github.com/deepnoodle-ai/scriptbind/errz"
	"github.com/deepnoodle-ai/scriptbind/params"
	"github.com/deepnoodle-ai/scriptbind/typeinfo"
	"github.com/deepnoodle-ai/scriptbind/userdata"
	lua "github.com/yuin/gopher-lua"
)

// Regexp is a compiled regular expression.
type Regexp struct {
	Pattern string `script:"pattern"`
	value   *regexp.Regexp
}

// Compile returns the Regexp for pattern.
func Compile(pattern string) (Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Regexp{}, err
	}
	return Regexp{Pattern: pattern, value: re}, nil
}

func (r *Regexp) String() string {
	return "Regexp(" + r.Pattern + ")"
}

// Match reports whether s contains a match of r.
func (r *Regexp) Match(s string) bool {
	return r.value.MatchString(s)
}

// Find returns the leftmost match of r in s, or "".
func (r *Regexp) Find(s string) string {
	return r.value.FindString(s)
}

// FindSubmatch returns the leftmost match of r in s and its submatches.
func (r *Regexp) FindSubmatch(s string) []string {
	return r.value.FindStringSubmatch(s)
}

// ReplaceAll replaces the matches of r in s, expanding $ references in repl.
func (r *Regexp) ReplaceAll(s, repl string) string {
	return r.value.ReplaceAllString(s, repl)
}

func init() {
	typeinfo.MustRegister[Regexp]("Regexp")
}

// Bind declares the Regexp class in the VM.
func Bind(L *lua.LState) error {
	c := class.Declare[Regexp](L, "Regexp", "")
	c.Constructor(newRegexp)
	c.Members(class.ReadOnly(class.String("pattern", func(r *Regexp) *string { return &r.Pattern })))
	c.BindFunc("match", (*Regexp).Match)
	c.BindFunc("find", (*Regexp).Find)
	c.BindFunc("find_submatch", (*Regexp).FindSubmatch)
	c.BindFunc("replace_all", (*Regexp).ReplaceAll)
	c.BindMethod("find_all", findAll)
	c.BindMethod("split", split)
	c.BindStaticMethod("quote", class.Func("Regexp.quote", regexp.QuoteMeta))
	c.Comparer(func(a, b *Regexp) int { return strings.Compare(a.Pattern, b.Pattern) })
	return nil
}

// newRegexp implements Regexp(pattern).
func newRegexp(L *lua.LState) int {
	args, err := params.Extract2[params.Skip, string](L, "")
	if err != nil {
		return params.Raise(L, err)
	}
	re, err := Compile(args.P1)
	if err != nil {
		return params.Raise(L, errz.Wrap(errz.CallFailed, err, "Regexp()"))
	}
	if _, err := userdata.Setup(L, 1, userdata.Inline, &re); err != nil {
		return params.Raise(L, err)
	}
	return 1
}

// limited extracts the (self, s [, n]) arguments shared by find_all and
// split.
func limited(L *lua.LState) (*Regexp, string, int, error) {
	e := params.NewRange(L, "", 2, 3)
	if !e.Process() {
		return nil, "", 0, e.Err()
	}
	r := params.Get[*Regexp](e, 1)
	s := params.Get[string](e, 2)
	n := params.Opt(e, 3, -1)
	return r, s, n, e.Err()
}

// findAll implements re:find_all(s [, n]).
func findAll(L *lua.LState) int {
	r, s, n, err := limited(L)
	if err != nil {
		return params.Raise(L, err)
	}
	if err := params.Push(L, r.value.FindAllString(s, n)); err != nil {
		return params.Raise(L, err)
	}
	return 1
}

// split implements re:split(s [, n]).
func split(L *lua.LState) int {
	r, s, n, err := limited(L)
	if err != nil {
		return params.Raise(L, err)
	}
	if err := params.Push(L, r.value.Split(s, n)); err != nil {
		return params.Raise(L, err)
	}
	return 1
}
