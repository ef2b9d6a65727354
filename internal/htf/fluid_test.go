package htf

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func userTable() [][]float64 {
	return [][]float64{
		{100, 1.5, 1000, 0.001, 1e-6, 0.1, 1e5},
		{200, 2.0, 900, 0.001, 1e-6, 0.1, 2e5},
		{300, 2.5, 800, 0.001, 1e-6, 0.1, 3e5},
	}
}

func TestNewLibraryFluids(t *testing.T) {
	for code := range library {
		t.Run(code.String(), func(t *testing.T) {
			f, err := New(code)
			if err != nil {
				t.Fatalf("New(%v) unexpected error: %v", code, err)
			}
			if f.Code() != code {
				t.Fatalf("Code()=%v want %v", f.Code(), code)
			}
			cp := f.Cp(573.15)
			rho := f.Density(573.15)
			if cp <= 0 || rho <= 0 {
				t.Fatalf("non-physical properties cp=%v rho=%v", cp, rho)
			}
		})
	}
}

func TestNitrateSaltCorrelation(t *testing.T) {
	f, err := New(NitrateSalt)
	if err != nil {
		t.Fatal(err)
	}
	// 300 C
	if got := f.Cp(573.15); !almostEqual(got, 1.4946, 1e-9) {
		t.Errorf("Cp=%v want 1.4946", got)
	}
	if got := f.Density(573.15); !almostEqual(got, 1899.2, 1e-9) {
		t.Errorf("Density=%v want 1899.2", got)
	}
}

func TestNewUnknownCode(t *testing.T) {
	for _, c := range []Code{Unknown, Code(7), UserDefined} {
		if _, err := New(c); !errors.Is(err, ErrUnknownFluid) {
			t.Errorf("New(%d) err=%v want ErrUnknownFluid", c, err)
		}
	}
}

func TestNewUserDefined_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		table [][]float64
	}{
		{"empty", nil},
		{"two rows", userTable()[:2]},
		{"six columns", [][]float64{{1, 2, 3, 4, 5, 6}, {2, 2, 3, 4, 5, 6}, {3, 2, 3, 4, 5, 6}}},
		{"ragged", [][]float64{{100, 1.5, 1000, 0, 0, 0, 0}, {200, 2, 900, 0, 0, 0}, {300, 2.5, 800, 0, 0, 0, 0}}},
		{"not increasing", [][]float64{{300, 1.5, 1000, 0, 0, 0, 0}, {200, 2, 900, 0, 0, 0, 0}, {100, 2.5, 800, 0, 0, 0, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewUserDefined(tt.table); !errors.Is(err, ErrMalformedTable) {
				t.Fatalf("err=%v want ErrMalformedTable", err)
			}
		})
	}
}

func TestNewUserDefined_Interpolates(t *testing.T) {
	f, err := NewUserDefined(userTable())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tests := []struct {
		name    string
		tC      float64
		wantCp  float64
		wantRho float64
	}{
		{"on row", 200, 2.0, 900},
		{"between rows", 250, 2.25, 850},
		{"below table", 50, 1.5, 1000},
		{"above table", 400, 2.5, 800},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tK := tt.tC + kelvinOffset
			if got := f.Cp(tK); !almostEqual(got, tt.wantCp, 1e-9) {
				t.Errorf("Cp(%v)=%v want %v", tt.tC, got, tt.wantCp)
			}
			if got := f.Density(tK); !almostEqual(got, tt.wantRho, 1e-9) {
				t.Errorf("Density(%v)=%v want %v", tt.tC, got, tt.wantRho)
			}
		})
	}
}

func TestUserDefinedOwnsTable(t *testing.T) {
	table := userTable()
	f, err := NewUserDefined(table)
	if err != nil {
		t.Fatal(err)
	}
	g, _ := NewUserDefined(userTable())
	table[0][1] = 99
	if !f.Equal(g) {
		t.Fatalf("mutating the caller's table must not change the fluid")
	}
}

func TestEqual(t *testing.T) {
	salt, _ := New(NitrateSalt)
	salt2, _ := New(NitrateSalt)
	oil, _ := New(TherminolVP1)
	u1, _ := NewUserDefined(userTable())
	other := userTable()
	other[1][1] = 2.1
	u2, _ := NewUserDefined(other)

	cases := []struct {
		name string
		a, b Fluid
		want bool
	}{
		{"same library", salt, salt2, true},
		{"different library", salt, oil, false},
		{"same table", u1, u1, true},
		{"different table", u1, u2, false},
		{"library vs table", salt, u1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Equal(tc.b); got != tc.want {
				t.Fatalf("Equal()=%v want %v", got, tc.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	if f, err := Resolve(NitrateSalt, nil); err != nil || f.Code() != NitrateSalt {
		t.Fatalf("Resolve(NitrateSalt)=%v,%v", f.Code(), err)
	}
	if f, err := Resolve(UserDefined, userTable()); err != nil || f.Code() != UserDefined {
		t.Fatalf("Resolve(UserDefined)=%v,%v", f.Code(), err)
	}
	if _, err := Resolve(UserDefined, nil); !errors.Is(err, ErrMalformedTable) {
		t.Fatalf("Resolve(UserDefined, nil) err=%v", err)
	}
}

func TestParseCode_Table(t *testing.T) {
	cases := []struct {
		in      string
		want    Code
		wantErr bool
	}{
		{"nitrate_salt", NitrateSalt, false},
		{" Therminol_VP1 ", TherminolVP1, false},
		{"user_defined", UserDefined, false},
		{"lava", Unknown, true},
		{"", Unknown, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseCode(tc.in)
			if tc.wantErr != (err != nil) {
				t.Fatalf("ParseCode(%q) err=%v wantErr=%v", tc.in, err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("ParseCode(%q)=%v want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestCodeString(t *testing.T) {
	if NitrateSalt.String() != "nitrate_salt" {
		t.Errorf("got %q", NitrateSalt.String())
	}
	if Code(999).String() != "unknown" || Code(999).Valid() {
		t.Errorf("Code(999) should be unknown and invalid")
	}
}
