package portfolio

// DrawdownTracker follows the running peak of an equity curve and the
// deepest fall below it.
type DrawdownTracker struct {
	peak  float64
	maxDD float64 // fraction, 0..1
	seen  bool
}

// Update feeds the next equity value.
func (d *DrawdownTracker) Update(equity float64) {
	if !d.seen || equity > d.peak {
		d.peak = equity
		d.seen = true
	}
	if d.peak > 0 {
		if dd := (d.peak - equity) / d.peak; dd > d.maxDD {
			d.maxDD = dd
		}
	}
}

// MaxDrawdown returns the deepest peak-to-trough fall as a fraction.
func (d *DrawdownTracker) MaxDrawdown() float64 { return d.maxDD }

// Peak returns the highest equity seen.
func (d *DrawdownTracker) Peak() float64 { return d.peak }
