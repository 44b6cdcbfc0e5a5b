package device

import (
	"context"
	"io"
	"strings"
	"sync"
)

type runCall struct {
	name string
	args []string
}

// fakeRunner answers commands by their joined argument list.
type fakeRunner struct {
	mu        sync.Mutex
	responses map[string]Result
	errs      map[string]error
	stream    string
	calls     []runCall
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		responses: map[string]Result{},
		errs:      map[string]error{},
	}
}

func (f *fakeRunner) on(args string, out string, code int) {
	f.responses[args] = Result{Output: out, ExitCode: code}
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runCall{name: name, args: append([]string(nil), args...)})
	key := strings.Join(args, " ")
	if err, ok := f.errs[key]; ok {
		return Result{ExitCode: -1}, err
	}
	return f.responses[key], nil
}

func (f *fakeRunner) Stream(_ context.Context, name string, args ...string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runCall{name: name, args: append([]string(nil), args...)})
	return io.NopCloser(strings.NewReader(f.stream)), nil
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = strings.Join(c.args, " ")
	}
	return out
}
