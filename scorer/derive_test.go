package main

import "testing"

func f64(v float64) *float64 { return &v }

func eqOpt(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func optStr(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmtOpt(v)
}

func TestNullSafeSum(t *testing.T) {
	cases := []struct {
		name  string
		terms []*float64
		want  *float64
	}{
		{"all null", []*float64{nil, nil, nil}, nil},
		{"one present", []*float64{f64(3), nil, nil}, f64(3)},
		{"two present", []*float64{f64(3), nil, f64(4)}, f64(7)},
		{"full assessment", []*float64{f64(4), f64(6), f64(5)}, f64(15)},
		{"zero is a value", []*float64{f64(0), nil, nil}, f64(0)},
	}
	for _, tc := range cases {
		if got := nullSafeSum(tc.terms...); !eqOpt(got, tc.want) {
			t.Errorf("%s: sum = %s, want %s", tc.name, optStr(got), optStr(tc.want))
		}
	}
}

func TestNullSafeRatio(t *testing.T) {
	cases := []struct {
		name     string
		num, den *float64
		want     *float64
	}{
		{"both present", f64(80), f64(0.4), f64(200)},
		{"nil numerator", nil, f64(0.4), nil},
		{"nil denominator", f64(80), nil, nil},
		{"zero denominator", f64(80), f64(0), nil},
		{"zero numerator", f64(0), f64(0.4), f64(0)},
	}
	for _, tc := range cases {
		if got := nullSafeRatio(tc.num, tc.den); !eqOpt(got, tc.want) {
			t.Errorf("%s: ratio = %s, want %s", tc.name, optStr(got), optStr(tc.want))
		}
	}
}

func TestDerive(t *testing.T) {
	r := &StayRecord{
		GCSEye:    f64(4),
		GCSMotor:  f64(6),
		GCSVerbal: f64(5),
		Pao2:      f64(80),
		Fio2:      f64(40),
	}
	Derive(r)

	if !eqOpt(r.GCSTotal, f64(15)) {
		t.Errorf("gcs_total = %s, want 15", optStr(r.GCSTotal))
	}
	if !eqOpt(r.Fio2Fraction, f64(0.4)) {
		t.Errorf("fio2_fraction = %s, want 0.4", optStr(r.Fio2Fraction))
	}
	if !eqOpt(r.PFRatio, f64(200)) {
		t.Errorf("pf_ratio = %s, want 200", optStr(r.PFRatio))
	}
}

func TestDerivePartialAndMissing(t *testing.T) {
	// A partial GCS still sums; missing FiO2 leaves the ratio null even
	// when PaO2 was measured.
	r := &StayRecord{
		GCSMotor: f64(3),
		Pao2:     f64(95),
	}
	Derive(r)

	if !eqOpt(r.GCSTotal, f64(3)) {
		t.Errorf("gcs_total = %s, want 3", optStr(r.GCSTotal))
	}
	if r.Fio2Fraction != nil {
		t.Errorf("fio2_fraction = %s, want null", optStr(r.Fio2Fraction))
	}
	if r.PFRatio != nil {
		t.Errorf("pf_ratio = %s, want null", optStr(r.PFRatio))
	}

	empty := &StayRecord{}
	Derive(empty)
	if empty.GCSTotal != nil || empty.Fio2Fraction != nil || empty.PFRatio != nil {
		t.Error("deriving an empty record must yield all nulls")
	}
}
