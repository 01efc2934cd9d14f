package main

// nullSafeSum adds the non-nil terms. All terms nil yields nil; otherwise
// nil terms contribute 0, so a partial GCS assessment still sums.
func nullSafeSum(terms ...*float64) *float64 {
	var sum float64
	any := false
	for _, t := range terms {
		if t == nil {
			continue
		}
		sum += *t
		any = true
	}
	if !any {
		return nil
	}
	return &sum
}

// nullSafeRatio divides num by den. Either operand nil, or a zero
// denominator, yields nil rather than a garbage or infinite ratio.
func nullSafeRatio(num, den *float64) *float64 {
	if num == nil || den == nil || *den == 0 {
		return nil
	}
	v := *num / *den
	return &v
}

// Derive computes the record's derived variables from its raw ones:
// total GCS, FiO2 as a fraction, and the PaO2/FiO2 ratio. Each is
// computed once and stored on the record.
func Derive(r *StayRecord) {
	r.GCSTotal = nullSafeSum(r.GCSEye, r.GCSMotor, r.GCSVerbal)
	if r.Fio2 != nil {
		f := *r.Fio2 / 100
		r.Fio2Fraction = &f
	}
	r.PFRatio = nullSafeRatio(r.Pao2, r.Fio2Fraction)
}
