package publish

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func norm(v, vmin, vmax int32) float64 {
	if vmax <= vmin {
		return 0
	}
	return clamp01(float64(v-vmin) / float64(vmax-vmin))
}
