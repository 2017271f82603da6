package params

import lua "github.com/yuin/gopher-lua"

// The ArgsN types hold the typed arguments of a bound function, in stack
// order. ExtractN checks that exactly N arguments were passed and extracts
// each of them.

// Args1 holds 1 extracted argument.
type Args1[A any] struct {
	P0 A
}

// Extract1 validates and extracts 1 argument of the function fn.
func Extract1[A any](L *lua.LState, fn string) (Args1[A], error) {
	var a Args1[A]
	e := New(L, fn, 1)
	if !e.Process() {
		return a, e.Err()
	}
	a.P0 = Get[A](e, 1)
	if err := e.Err(); err != nil {
		return Args1[A]{}, err
	}
	return a, nil
}

// Args2 holds 2 extracted arguments.
type Args2[A, B any] struct {
	P0 A
	P1 B
}

// Extract2 validates and extracts 2 arguments of the function fn.
func Extract2[A, B any](L *lua.LState, fn string) (Args2[A, B], error) {
	var a Args2[A, B]
	e := New(L, fn, 2)
	if !e.Process() {
		return a, e.Err()
	}
	a.P0 = Get[A](e, 1)
	a.P1 = Get[B](e, 2)
	if err := e.Err(); err != nil {
		return Args2[A, B]{}, err
	}
	return a, nil
}

// Args3 holds 3 extracted arguments.
type Args3[A, B, C any] struct {
	P0 A
	P1 B
	P2 C
}

// Extract3 validates and extracts 3 arguments of the function fn.
func Extract3[A, B, C any](L *lua.LState, fn string) (Args3[A, B, C], error) {
	var a Args3[A, B, C]
	e := New(L, fn, 3)
	if !e.Process() {
		return a, e.Err()
	}
	a.P0 = Get[A](e, 1)
	a.P1 = Get[B](e, 2)
	a.P2 = Get[C](e, 3)
	if err := e.Err(); err != nil {
		return Args3[A, B, C]{}, err
	}
	return a, nil
}

// Args4 holds 4 extracted arguments.
type Args4[A, B, C, D any] struct {
	P0 A
	P1 B
	P2 C
	P3 D
}

// Extract4 validates and extracts 4 arguments of the function fn.
func Extract4[A, B, C, D any](L *lua.LState, fn string) (Args4[A, B, C, D], error) {
	var a Args4[A, B, C, D]
	e := New(L, fn, 4)
	if !e.Process() {
		return a, e.Err()
	}
	a.P0 = Get[A](e, 1)
	a.P1 = Get[B](e, 2)
	a.P2 = Get[C](e, 3)
	a.P3 = Get[D](e, 4)
	if err := e.Err(); err != nil {
		return Args4[A, B, C, D]{}, err
	}
	return a, nil
}

// Args5 holds 5 extracted arguments.
type Args5[A, B, C, D, E any] struct {
	P0 A
	P1 B
	P2 C
	P3 D
	P4 E
}

// Extract5 validates and extracts 5 arguments of the function fn.
func Extract5[A, B, C, D, E any](L *lua.LState, fn string) (Args5[A, B, C, D, E], error) {
	var a Args5[A, B, C, D, E]
	e := New(L, fn, 5)
	if !e.Process() {
		return a, e.Err()
	}
	a.P0 = Get[A](e, 1)
	a.P1 = Get[B](e, 2)
	a.P2 = Get[C](e, 3)
	a.P3 = Get[D](e, 4)
	a.P4 = Get[E](e, 5)
	if err := e.Err(); err != nil {
		return Args5[A, B, C, D, E]{}, err
	}
	return a, nil
}

// Args6 holds 6 extracted arguments.
type Args6[A, B, C, D, E, F any] struct {
	P0 A
	P1 B
	P2 C
	P3 D
	P4 E
	P5 F
}

// Extract6 validates and extracts 6 arguments of the function fn.
func Extract6[A, B, C, D, E, F any](L *lua.LState, fn string) (Args6[A, B, C, D, E, F], error) {
	var a Args6[A, B, C, D, E, F]
	e := New(L, fn, 6)
	if !e.Process() {
		return a, e.Err()
	}
	a.P0 = Get[A](e, 1)
	a.P1 = Get[B](e, 2)
	a.P2 = Get[C](e, 3)
	a.P3 = Get[D](e, 4)
	a.P4 = Get[E](e, 5)
	a.P5 = Get[F](e, 6)
	if err := e.Err(); err != nil {
		return Args6[A, B, C, D, E, F]{}, err
	}
	return a, nil
}

// Args7 holds 7 extracted arguments.
type Args7[A, B, C, D, E, F, G any] struct {
	P0 A
	P1 B
	P2 C
	P3 D
	P4 E
	P5 F
	P6 G
}

// Extract7 validates and extracts 7 arguments of the function fn.
func Extract7[A, B, C, D, E, F, G any](L *lua.LState, fn string) (Args7[A, B, C, D, E, F, G], error) {
	var a Args7[A, B, C, D, E, F, G]
	e := New(L, fn, 7)
	if !e.Process() {
		return a, e.Err()
	}
	a.P0 = Get[A](e, 1)
	a.P1 = Get[B](e, 2)
	a.P2 = Get[C](e, 3)
	a.P3 = Get[D](e, 4)
	a.P4 = Get[E](e, 5)
	a.P5 = Get[F](e, 6)
	a.P6 = Get[G](e, 7)
	if err := e.Err(); err != nil {
		return Args7[A, B, C, D, E, F, G]{}, err
	}
	return a, nil
}

// Args8 holds 8 extracted arguments.
type Args8[A, B, C, D, E, F, G, H any] struct {
	P0 A
	P1 B
	P2 C
	P3 D
	P4 E
	P5 F
	P6 G
	P7 H
}

// Extract8 validates and extracts 8 arguments of the function fn.
func Extract8[A, B, C, D, E, F, G, H any](L *lua.LState, fn string) (Args8[A, B, C, D, E, F, G, H], error) {
	var a Args8[A, B, C, D, E, F, G, H]
	e := New(L, fn, 8)
	if !e.Process() {
		return a, e.Err()
	}
	a.P0 = Get[A](e, 1)
	a.P1 = Get[B](e, 2)
	a.P2 = Get[C](e, 3)
	a.P3 = Get[D](e, 4)
	a.P4 = Get[E](e, 5)
	a.P5 = Get[F](e, 6)
	a.P6 = Get[G](e, 7)
	a.P7 = Get[H](e, 8)
	if err := e.Err(); err != nil {
		return Args8[A, B, C, D, E, F, G, H]{}, err
	}
	return a, nil
}
