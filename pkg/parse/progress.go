package parse

// ProgressFunc receives parsing progress: the stage name, lines
// processed so far and the total line count. Implementations must be
// fast; the parser calls from its hot loop.
type ProgressFunc func(stage string, done, total int)

// progressTicker throttles callbacks to roughly one per percent so a
// console renderer behind the callback cannot slow the parse down.
type progressTicker struct {
	fn    ProgressFunc
	stage string
	total int
	every int
	next  int
}

func newProgressTicker(fn ProgressFunc, stage string, total int) *progressTicker {
	t := &progressTicker{fn: fn, stage: stage, total: total}
	t.every = total / 100
	if t.every < 1 {
		t.every = 1
	}
	t.next = t.every
	return t
}

func (t *progressTicker) tick(done int) {
	if t.fn == nil || done < t.next {
		return
	}
	t.next = done + t.every
	t.fn(t.stage, done, t.total)
}

func (t *progressTicker) finish() {
	if t.fn == nil {
		return
	}
	t.fn(t.stage, t.total, t.total)
}
