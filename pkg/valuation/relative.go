package valuation

// benchmark picks the peer median for one multiple when at least two peers
// report it, otherwise the sector value.
func benchmark(peers []PeerMultiples, pick func(Multiples) float64, sector Multiples) (value float64, fromPeers bool) {
	vals := make([]float64, 0, len(peers))
	for _, p := range peers {
		vals = append(vals, pick(p.Multiples))
	}
	vals = positive(vals)
	if len(vals) >= 2 {
		return Median(vals), true
	}
	return pick(sector), false
}

// Relative values the company at the benchmark P/E, P/B and P/S and averages
// whichever of the three can be computed.
func Relative(in Input, a Assumptions, sectors SectorTable) ModelResult {
	f := deriveFundamentals(in)
	sectorMultiples, sectorName := sectors.Lookup(in.Profile.Sector)

	details := map[string]float64{}
	var values []float64
	peerCount := 0

	add := func(name string, perShare float64, pick func(Multiples) float64) {
		mult, fromPeers := benchmark(in.Peers, pick, sectorMultiples)
		if fromPeers {
			peerCount++
		}
		if perShare <= 0 || mult <= 0 {
			return
		}
		v := perShare * mult
		details[name+"_multiple"] = mult
		details[name+"_value"] = v
		values = append(values, v)
	}
	add("pe", f.eps, func(m Multiples) float64 { return m.PE })
	add("pb", f.bvps, func(m Multiples) float64 { return m.PB })
	add("ps", f.sps, func(m Multiples) float64 { return m.PS })

	if len(values) == 0 {
		return notApplicable(ModelRelative, "no positive earnings, book value or sales per share")
	}
	details["peer_benchmarks"] = float64(peerCount)
	res := applicable(ModelRelative, Mean(values), details)
	if peerCount < 3 {
		res.Reason = "sector benchmark: " + sectorName
	}
	return res
}
