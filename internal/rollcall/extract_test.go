package rollcall

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", []string{}},
		{"blank", "   \n\t", []string{}},
		{"digits", "1 2 5 10 15", []string{"1", "2", "5", "10", "15"}},
		{"words", "Zero one TWO nineteen twenty", []string{"0", "1", "2", "19", "20"}},
		{"mixed format", "1, two, three... 15 and twenty two", []string{"1", "2", "3", "15", "22"}},
		{"twenty alone at end", "five twenty", []string{"5", "20"}},
		{"twenty then non-unit", "twenty ten", []string{"10", "20"}},
		{"glued digits", "No.12 and roll#7x", []string{"7", "12"}},
		{"duplicates collapse", "4 four 4, four.", []string{"4"}},
		{"multi digit words do not compose", "one oh one", []string{"1"}},
		{"sentence", "Present roll number 1, 2, 5, 10 and 15", []string{"1", "2", "5", "10", "15"}},
		{"leading zeros kept", "07 7", []string{"07", "7"}},
		{"no numbers", "hello class", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSlice(tt.in))
		})
	}
}

func TestExtractIsIdempotentOnCanonicalOutput(t *testing.T) {
	inputs := []string{
		"101 103 104",
		"1, two, three... 15 and twenty two",
		"No.12 eleven",
	}
	for _, in := range inputs {
		first := Extract(in)
		again := Extract(strings.Join(first.Slice(), " "))
		assert.Equal(t, first, again, in)
	}
}

func TestExtractDoesNotMutateInput(t *testing.T) {
	in := "One, Two."
	_ = Extract(in)
	assert.Equal(t, "One, Two.", in)
}

func TestSet(t *testing.T) {
	s := NewSet("10", "2", "b", "a", "2")
	assert.Equal(t, 4, s.Len())
	assert.True(t, s.Has("10"))
	assert.False(t, s.Has("3"))
	assert.Equal(t, []string{"2", "10", "a", "b"}, s.Slice())
}
