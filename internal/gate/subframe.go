package gate

import "math"

// minNoiseFloor is the floor used for SNR computation before the noise
// EMA has had a chance to settle (session start, or a silent lead-in).
const minNoiseFloor = 1e-4

// isSubframeSpeech classifies one ~20ms sub-frame:
// RMS and SNR must pass the dynamic threshold, zero-crossing rate must
// fall within the profile's band, and the tone-std ratio must indicate
// the sub-frame is NOT a pure tone.
func isSubframeSpeech(sub []float32, threshold, noiseFloor float32, profile vadProfile) bool {
	rms := computeRMS(sub)
	if rms < threshold {
		return false
	}

	floor := noiseFloor
	if floor < minNoiseFloor {
		floor = minNoiseFloor
	}
	snr := rms / floor
	if snr < profile.snrThreshold {
		return false
	}

	zcr := zeroCrossingRate(sub)
	if zcr < profile.zcrMin || zcr > profile.zcrMax {
		return false
	}

	tone := tonality(sub)
	return tone > profile.toneStdRatio
}

// zeroCrossingRate is the fraction of adjacent-sample sign changes.
func zeroCrossingRate(sub []float32) float32 {
	if len(sub) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(sub); i++ {
		if (sub[i-1] >= 0) != (sub[i] >= 0) {
			crossings++
		}
	}
	return float32(crossings) / float32(len(sub)-1)
}

// tonality estimates how tone-like the sub-frame is: the std-dev of the
// intervals between zero crossings, divided by their mean. A pure tone
// has near-constant inter-crossing intervals (low ratio); broadband
// speech has irregular intervals (high ratio). Returns 1.0 (maximally
// "not a tone") when there are too few crossings to measure.
func tonality(sub []float32) float32 {
	var intervals []int
	last := -1
	for i, s := range sub {
		if i == 0 {
			continue
		}
		if (sub[i-1] >= 0) != (s >= 0) {
			if last >= 0 {
				intervals = append(intervals, i-last)
			}
			last = i
		}
	}
	if len(intervals) < 3 {
		return 1.0
	}

	var sum float64
	for _, v := range intervals {
		sum += float64(v)
	}
	mean := sum / float64(len(intervals))
	if mean == 0 {
		return 1.0
	}

	var varSum float64
	for _, v := range intervals {
		d := float64(v) - mean
		varSum += d * d
	}
	std := math.Sqrt(varSum / float64(len(intervals)))
	return float32(std / mean)
}
