package synth

import "sync"

// loopHintThreshold is the consecutive-failure count from which on the coder
// loop enriches its tool result with diagnostic hints (spec: "after a
// threshold (e.g. 3)").
const loopHintThreshold = 3

// gates tracks the three-flag completion precondition for one synthesis
// session: code_written, build_ok, test_ok. Any write_file resets build_ok
// and test_ok. Modeled as an explicit struct with transition methods, the
// same shape as circuitbreaker.CircuitBreaker's explicit state machine.
type gates struct {
	mu sync.Mutex

	codeWritten bool
	buildOK     bool
	testOK      bool

	consecutiveBuildFailures int
	consecutiveTestFailures  int
	lastTestError            string
}

// recordWrite marks code_written and resets build_ok/test_ok (invariant I8).
func (g *gates) recordWrite() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.codeWritten = true
	g.buildOK = false
	g.testOK = false
}

// recordBuild updates build_ok and the consecutive-failure counter, returning
// whether the failure streak has reached loopHintThreshold.
func (g *gates) recordBuild(ok bool) (hintDue bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buildOK = ok
	if ok {
		g.consecutiveBuildFailures = 0
		return false
	}
	g.consecutiveBuildFailures++
	return g.consecutiveBuildFailures >= loopHintThreshold
}

// recordTest updates test_ok, the consecutive-failure counter, and the
// last-error dedup state, returning (hintDue, isRepeatOfLastError).
func (g *gates) recordTest(ok bool, errOutput string) (hintDue, repeat bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.testOK = ok
	if ok {
		g.consecutiveTestFailures = 0
		g.lastTestError = ""
		return false, false
	}
	g.consecutiveTestFailures++
	repeat = errOutput != "" && errOutput == g.lastTestError
	g.lastTestError = errOutput
	return g.consecutiveTestFailures >= loopHintThreshold, repeat
}

// canComplete reports whether the completion gate is satisfied and, if not,
// which preconditions are still unmet (invariant I7).
func (g *gates) canComplete() (ok bool, missing []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.codeWritten {
		missing = append(missing, "code_written")
	}
	if !g.buildOK {
		missing = append(missing, "build_ok")
	}
	if !g.testOK {
		missing = append(missing, "test_ok")
	}
	return len(missing) == 0, missing
}

// snapshot returns the current flag values for error reporting.
func (g *gates) snapshot() (codeWritten, buildOK, testOK bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.codeWritten, g.buildOK, g.testOK
}
