package execx

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// FakeCall records one command invocation made through a Fake runner.
type FakeCall struct {
	Name  string
	Args  []string
	Stdin string
}

// Fake is a scriptable Runner for tests. Respond decides the result of each
// call; Available controls LookPath. For RunOut the Result's Stdout is
// written to the destination writer, mirroring what the real tool would
// stream.
type Fake struct {
	Available map[string]bool
	Respond   func(name string, args []string) (Result, error)

	mu    sync.Mutex
	Calls []FakeCall
}

var _ Runner = (*Fake)(nil)

func (f *Fake) record(call FakeCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
}

// CallsTo returns the recorded calls for the named command.
func (f *Fake) CallsTo(name string) []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []FakeCall
	for _, c := range f.Calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) respond(name string, args []string) (Result, error) {
	if f.Respond == nil {
		return Result{}, nil
	}
	return f.Respond(name, args)
}

func (f *Fake) Run(ctx context.Context, name string, args ...string) (Result, error) {
	f.record(FakeCall{Name: name, Args: args})
	return f.respond(name, args)
}

func (f *Fake) RunOut(ctx context.Context, w io.Writer, name string, args ...string) (Result, error) {
	f.record(FakeCall{Name: name, Args: args})
	res, err := f.respond(name, args)
	if err == nil {
		if _, werr := io.WriteString(w, res.Stdout); werr != nil {
			return res, werr
		}
	}
	return res, err
}

func (f *Fake) RunIn(ctx context.Context, r io.Reader, name string, args ...string) (Result, error) {
	stdin, _ := io.ReadAll(r)
	f.record(FakeCall{Name: name, Args: args, Stdin: string(stdin)})
	return f.respond(name, args)
}

func (f *Fake) LookPath(name string) (string, error) {
	if f.Available[name] {
		return "/usr/bin/" + name, nil
	}
	return "", fmt.Errorf("%s: executable file not found in $PATH", name)
}
