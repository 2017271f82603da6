package typeinfo

import (
	"reflect"
	"testing"

	"github.com/deepnoodle-ai/scriptbind/errz"
	"github.com/stretchr/testify/require"
)

type animal struct {
	Legs int
}

type dog struct {
	animal
	Name string
}

type puppy struct {
	dog
	Age int
}

type rock struct{}

type notEmbedding struct {
	A animal
}

func init() {
	MustRegister[animal]("Animal")
	MustRegister[dog]("Dog", WithBase[animal]())
	MustRegister[puppy]("Puppy", WithBase[dog]())
	MustRegister[rock]("Rock")
}

func TestTagsAreUnique(t *testing.T) {
	seen := map[Tag]string{}
	for _, info := range All() {
		require.NotZero(t, info.Tag)
		prev, dup := seen[info.Tag]
		require.False(t, dup, "tag %d shared by %s and %s", info.Tag, prev, info.Name)
		seen[info.Tag] = info.Name
	}
	require.GreaterOrEqual(t, len(seen), 4)
}

func TestLookups(t *testing.T) {
	info, ok := Of[dog]()
	require.True(t, ok)
	require.Equal(t, "Dog", info.Name)
	require.Equal(t, reflect.TypeFor[dog](), info.Type)

	byTag, ok := ByTag(info.Tag)
	require.True(t, ok)
	require.Same(t, info, byTag)

	byName, ok := ByName("Dog")
	require.True(t, ok)
	require.Same(t, info, byName)

	_, ok = Of[notEmbedding]()
	require.False(t, ok)
	_, ok = ByTag(0)
	require.False(t, ok)
}

func TestIsA(t *testing.T) {
	a, _ := Of[animal]()
	d, _ := Of[dog]()
	p, _ := Of[puppy]()
	r, _ := Of[rock]()

	require.True(t, p.IsA(p))
	require.True(t, p.IsA(d))
	require.True(t, p.IsA(a))
	require.True(t, d.IsA(a))
	require.False(t, a.IsA(d))
	require.False(t, r.IsA(a))
	require.False(t, a.IsA(r))

	require.Equal(t, []*Info{p, d, a}, p.Chain())
}

func TestUpcast(t *testing.T) {
	a, _ := Of[animal]()
	d, _ := Of[dog]()
	p, _ := Of[puppy]()
	r, _ := Of[rock]()

	pup := &puppy{dog: dog{animal: animal{Legs: 4}, Name: "rex"}, Age: 1}
	v, ok := p.Upcast(reflect.ValueOf(pup), a)
	require.True(t, ok)
	an := v.Interface().(*animal)
	require.Equal(t, 4, an.Legs)
	an.Legs = 3
	require.Equal(t, 3, pup.Legs, "upcast must alias the embedded value")

	v, ok = p.Upcast(reflect.ValueOf(pup), d)
	require.True(t, ok)
	require.Equal(t, "rex", v.Interface().(*dog).Name)

	_, ok = d.Upcast(reflect.ValueOf(&pup.dog), p)
	require.False(t, ok)
	_, ok = p.Upcast(reflect.ValueOf(pup), r)
	require.False(t, ok)
}

func TestReRegister(t *testing.T) {
	first, _ := Of[dog]()
	again, err := Register[dog]("Dog", WithBase[animal]())
	require.NoError(t, err)
	require.Same(t, first, again)

	_, err = Register[dog]("Hound", WithBase[animal]())
	require.True(t, errz.IsKind(err, errz.Registration))

	_, err = Register[dog]("Dog")
	require.True(t, errz.IsKind(err, errz.Registration))
}

func TestRegisterErrors(t *testing.T) {
	type unregisteredBase struct{}
	type derived struct{ unregisteredBase }
	type other struct{}

	tests := []struct {
		name string
		fn   func() error
		msg  string
	}{
		{"not a struct", func() error { _, err := Register[int]("Int"); return err }, "not a struct"},
		{"empty name", func() error { _, err := Register[other](""); return err }, "empty name"},
		{"duplicate name", func() error { _, err := Register[other]("Rock"); return err }, "already used"},
		{"base not registered", func() error {
			_, err := Register[derived]("Derived", WithBase[unregisteredBase]())
			return err
		}, "is not registered"},
		{"base not embedded", func() error {
			_, err := Register[notEmbedding]("NotEmbedding", WithBase[animal]())
			return err
		}, "does not embed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			require.Error(t, err)
			require.True(t, errz.IsKind(err, errz.Registration))
			require.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestNameOf(t *testing.T) {
	require.Equal(t, "Dog", NameOf(reflect.TypeFor[dog]()))
	require.Equal(t, "Dog", NameOf(reflect.TypeFor[*dog]()))
	require.Equal(t, "int", NameOf(reflect.TypeFor[int]()))
}
