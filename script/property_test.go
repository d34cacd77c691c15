package script

import (
	"bytes"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestCurrencyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("Scaled(NewCurrency(x)) == x", prop.ForAll(
		func(x int64) bool {
			got, err := NewCurrency(x).Scaled()
			return err == nil && got == x
		},
		gen.Int64Range(math.MinInt64+1, math.MaxInt64),
	))

	properties.TestingRun(t)
}

func TestSetValueProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("Has reports exactly the bits Put", prop.ForAll(
		func(width int, bits []int) bool {
			s := NewSetValue(width)
			want := make(map[int]bool)
			for _, b := range bits {
				s.Put(b, true)
				if b < width {
					want[b] = true
				}
			}
			for i := -1; i <= width; i++ {
				if s.Has(i) != want[i] {
					return false
				}
			}
			return len(s.Bytes()) == (width+7)/8
		},
		gen.IntRange(1, maxSetBits),
		gen.SliceOf(gen.IntRange(0, maxSetBits-1)),
	))

	properties.TestingRun(t)
}

func TestNameTableProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("claimed names are unique", prop.ForAll(
		func(names []string) bool {
			n := newNameTable()
			seen := make(map[string]bool)
			for _, name := range names {
				got := n.claim(name)
				if seen[got] {
					return false
				}
				seen[got] = true
			}
			return true
		},
		gen.SliceOf(gen.OneConstOf("Foo", "Foo_2", "Foo_3", "Bar", "Foo_2_2")),
	))

	properties.TestingRun(t)
}

func TestSaveLoadProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("save after load reproduces the file", prop.ForAll(
		func(ints []uint32, strs []string) bool {
			m := newTestModel(t)
			for _, v := range ints {
				m.main.Instructions = append(m.main.Instructions,
					mustInsn(t, CodePush, m.u32Imm(v)),
					mustInsn(t, CodePop))
			}
			for _, s := range strs {
				m.main.Instructions = append(m.main.Instructions,
					mustInsn(t, CodeAssign, Var(m.global), Imm(&TypedData{Type: m.str, Value: s})))
			}
			m.main.Instructions = append(m.main.Instructions, mustInsn(t, CodeRet))

			first, err := m.s.Save()
			if err != nil {
				return false
			}
			s, err := Load(first)
			if err != nil {
				return false
			}
			second, err := s.Save()
			return err == nil && bytes.Equal(first, second)
		},
		gen.SliceOf(gen.UInt32()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
