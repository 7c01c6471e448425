package pipeline

import "sync"

// progressTracker aggregates per-chapter completion fractions into a single
// monotone job fraction. Chapter fractions only move forward, so the
// aggregate can never regress even with workers reporting out of order.
type progressTracker struct {
	mu        sync.Mutex
	fractions []float64
	completed int
}

func newProgressTracker(totalChapters int) *progressTracker {
	return &progressTracker{fractions: make([]float64, totalChapters)}
}

// Update raises a chapter's completion fraction. Lower values are ignored.
func (p *progressTracker) Update(chapterIndex int, fraction float64) {
	if fraction > 1 {
		fraction = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if fraction > p.fractions[chapterIndex] {
		if fraction == 1 && p.fractions[chapterIndex] < 1 {
			p.completed++
		}
		p.fractions[chapterIndex] = fraction
	}
}

// Fraction returns overall job progress in [0,1].
func (p *progressTracker) Fraction() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.fractions) == 0 {
		return 1
	}
	var sum float64
	for _, f := range p.fractions {
		sum += f
	}
	return sum / float64(len(p.fractions))
}

// Completed returns the number of fully processed chapters.
func (p *progressTracker) Completed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}
