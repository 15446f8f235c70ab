package condition

import (
	"testing"
)

type evalCase struct {
	name    string
	expr    string
	value   any
	want    any
	wantErr bool
}

func TestEval(t *testing.T) {
	cases := []evalCase{
		// Identity and literals
		{
			name:  "bare value",
			expr:  "value",
			value: float64(42),
			want:  float64(42),
		},
		{
			name:  "bare literal",
			expr:  "7",
			value: nil,
			want:  float64(7),
		},
		// Arithmetic
		{
			name:  "multiply",
			expr:  "value * 100",
			value: float64(0.25),
			want:  float64(25),
		},
		{
			name:  "divide",
			expr:  "value / 1000",
			value: float64(1500),
			want:  float64(1.5),
		},
		{
			name:  "add and subtract",
			expr:  "value + 10 - 3",
			value: float64(5),
			want:  float64(12),
		},
		{
			name:  "precedence",
			expr:  "value + 2 * 3",
			value: float64(1),
			want:  float64(7),
		},
		{
			name:  "parens",
			expr:  "(value + 2) * 3",
			value: float64(1),
			want:  float64(9),
		},
		{
			name:  "negative literal",
			expr:  "value - -5",
			value: float64(10),
			want:  float64(15),
		},
		// Comparisons
		{
			name:  "gt true",
			expr:  "value > 1000",
			value: float64(1500),
			want:  true,
		},
		{
			name:  "gt false",
			expr:  "value > 1000",
			value: float64(500),
			want:  false,
		},
		{
			name:  "eq string",
			expr:  `value == "premium"`,
			value: "premium",
			want:  true,
		},
		{
			name:  "neq bool",
			expr:  "value != true",
			value: false,
			want:  true,
		},
		{
			name:  "compare derived sum",
			expr:  "value * 2 >= 10",
			value: float64(5),
			want:  true,
		},
		// Failures
		{
			name:    "arith over string",
			expr:    "value * 100",
			value:   "abc",
			wantErr: true,
		},
		{
			name:    "arith over nil",
			expr:    "value + 1",
			value:   nil,
			wantErr: true,
		},
		{
			name:    "division by zero",
			expr:    "value / 0",
			value:   float64(4),
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ast, err := Parse(tc.expr)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tc.expr, err)
			}
			got, err := Eval(ast, tc.value)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil (result=%v)", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Eval error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Eval(%q, %v) = %v, want %v", tc.expr, tc.value, got, tc.want)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []string{
		`"unterminated`,
		`value value`,          // missing operator
		`amount * 2`,           // only "value" may be referenced
		`len(value)`,           // no function calls
		`value > 1 AND value`,  // no boolean connectives
		``,                     // empty
		`(value`,               // unbalanced paren
	}
	for _, expr := range cases {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			if err == nil {
				t.Errorf("expected parse error for %q, got nil", expr)
			}
		})
	}
}
