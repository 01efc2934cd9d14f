package main

import "math"

// Scores is the full component and total score set of one stay.
type Scores struct {
	SofaPlatelet   int
	SofaBilirubin  int
	SofaCreatinine int
	SofaGCS        int
	SofaPF         int
	SofaCardio     int
	SofaScore      int

	ApacheCreatinine int
	ApacheTemp       int
	ApacheScore      int
}

// ScoreRecord derives the record's computed variables and applies the
// band tables. Missing inputs score zero throughout, so totals can only
// understate severity, never invent it.
func ScoreRecord(r *StayRecord, th *Thresholds) Scores {
	Derive(r)

	s := Scores{
		SofaPlatelet:   scoreBands(r.Platelet, th.SofaPlatelet),
		SofaBilirubin:  scoreBands(r.Bilirubin, th.SofaBilirubin),
		SofaCreatinine: scoreBands(r.Creatinine, th.SofaCreatinine),
		SofaGCS:        scoreBands(r.GCSTotal, th.SofaGCS),
		SofaPF:         scoreBands(r.PFRatio, th.SofaPF),
		SofaCardio:     cardioComponent(r.SofaCardio),

		ApacheCreatinine: scoreBands(r.Creatinine, th.ApacheCreat),
		ApacheTemp:       scoreBands(r.Temperature, th.ApacheTemp),
	}
	s.SofaScore = s.SofaPlatelet + s.SofaBilirubin + s.SofaCreatinine +
		s.SofaGCS + s.SofaPF + s.SofaCardio
	s.ApacheScore = s.ApacheCreatinine + s.ApacheTemp
	return s
}

// cardioComponent passes through the upstream-computed cardiovascular
// component, clamped to the 0..4 component range.
func cardioComponent(v *float64) int {
	if v == nil {
		return missingComponentPoints
	}
	n := int(math.Round(*v))
	if n < 0 {
		return 0
	}
	if n > 4 {
		return 4
	}
	return n
}
