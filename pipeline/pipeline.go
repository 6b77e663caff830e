// Package pipeline implements sequential composition of stages where
// any stage may return a deferred value.  Synchronous stage results
// feed the next stage through a trampoline, so arbitrarily long
// synchronous chains run in constant stack; a deferred result
// suspends the pipeline, which resumes on whichever goroutine
// realizes the deferred.
//
// Stage i+1 is never invoked before stage i has produced its value;
// there is no parallelism within one pipeline run.
package pipeline

import (
	"fmt"
	"sync"

	"github.com/runnel/runnel/result"
)

// Stage is one step of a pipeline.  It returns the value for the next
// stage, a *result.Channel the pipeline should wait on, or a control
// value (Restart, Complete, Redirect).
type Stage func(v interface{}) interface{}

// Restart re-enters the current pipeline at stage 0 with V.
type Restart struct {
	V interface{}
}

// Complete terminates the pipeline with V, skipping the remaining
// stages.
type Complete struct {
	V interface{}
}

// Redirect transfers control to another pipeline, feeding it V.  The
// redirected-to pipeline realizes the original result channel.
type Redirect struct {
	To *Pipeline
	V  interface{}
}

// Pipeline is a reusable list of stages.  Run may be called any
// number of times; each call is an independent execution.
type Pipeline struct {
	Description string

	Stages []Stage

	// ErrorHandler, if not nil, intercepts a stage panic or an
	// error completion of a stage's deferred.  It may return a
	// control value, an error (the pipeline fails with it), or
	// any other value (the pipeline completes successfully with
	// it).
	ErrorHandler func(err error) interface{}

	// Finally, if not nil, runs on every terminal path, before
	// the result is observable externally.
	Finally func()

	// Result, if not nil, is the channel the pipeline realizes;
	// used to merge pipelines.  When nil, Run creates one.
	Result *result.Channel
}

type run struct {
	p    *Pipeline
	rc   *result.Channel
	once sync.Once
}

// Run executes the pipeline from stage 0 and returns the channel that
// its terminal value realizes.
func (p *Pipeline) Run(initial interface{}) *result.Channel {
	rc := p.Result
	if rc == nil {
		rc = result.NewChannel()
	}
	r := &run{p: p, rc: rc}
	r.step(0, initial)
	return rc
}

// step is the trampoline.  It loops over synchronous stage results
// and returns when the pipeline either terminates or suspends on a
// deferred.
func (r *run) step(i int, v interface{}) {
	for {
		if len(r.p.Stages) <= i {
			r.finish(v, nil)
			return
		}

		out, err := call(r.p.Stages[i], v)
		if err != nil {
			rv, restart := r.rescue(err)
			if !restart {
				return
			}
			i, v = 0, rv
			continue
		}

		switch out := out.(type) {
		case Restart:
			i, v = 0, out.V
		case Complete:
			r.finish(out.V, nil)
			return
		case Redirect:
			r.redirect(out)
			return
		case *result.Channel:
			if val, rerr, ok := out.Result(); ok {
				if rerr != nil {
					rv, restart := r.rescue(rerr)
					if !restart {
						return
					}
					i, v = 0, rv
					continue
				}
				i, v = i+1, val
				continue
			}
			next := i + 1
			out.Subscribe(&result.Listener{
				OnSuccess: func(val interface{}) {
					r.step(next, val)
				},
				OnError: func(rerr error) {
					if rv, restart := r.rescue(rerr); restart {
						r.step(0, rv)
					}
				},
			})
			return
		default:
			i, v = i+1, out
		}
	}
}

// rescue routes an error through the handler.  restart is true when
// the handler asked for a Restart, with v the value to re-enter stage
// 0 with; every other outcome terminates the run.
func (r *run) rescue(err error) (v interface{}, restart bool) {
	if r.p.ErrorHandler == nil {
		r.finish(nil, err)
		return nil, false
	}

	out, herr := call(func(interface{}) interface{} {
		return r.p.ErrorHandler(err)
	}, nil)
	if herr != nil {
		r.finish(nil, herr)
		return nil, false
	}

	switch out := out.(type) {
	case Restart:
		return out.V, true
	case Complete:
		r.finish(out.V, nil)
	case Redirect:
		r.redirect(out)
	case error:
		r.finish(nil, out)
	default:
		r.finish(out, nil)
	}
	return nil, false
}

func (r *run) redirect(to Redirect) {
	r.once.Do(func() {
		if r.p.Finally != nil {
			r.p.Finally()
		}
	})
	sub := *to.To
	sub.Result = r.rc
	sub.Run(to.V)
}

func (r *run) finish(v interface{}, err error) {
	r.once.Do(func() {
		if r.p.Finally != nil {
			r.p.Finally()
		}
		if err != nil {
			if r.rc.Claim() {
				r.rc.Error(err)
			}
			return
		}
		if r.rc.Claim() {
			r.rc.Success(v)
		}
	})
}

// call invokes a stage, converting a panic into an error.
func call(s Stage, v interface{}) (out interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if e, is := rec.(error); is {
				err = e
				return
			}
			err = fmt.Errorf("stage panic: %v", rec)
		}
	}()
	return s(v), nil
}
