package scan

import (
	"bytes"
	"context"
	"os/exec"
)

// cappedBuffer discards writes past its limit so a runaway scanner cannot
// balloon memory.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if remaining := b.limit - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

// runToolProcess is the production executor: one subprocess per scan, killed
// when ctx is canceled.
func runToolProcess(ctx context.Context, t Tool, path string) *ExecResult {
	argv := expandArgv(t.Argv, path)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = path
	stdout := &cappedBuffer{limit: outputCap}
	stderr := &cappedBuffer{limit: 8 * 1024}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	res := &ExecResult{Output: stdout.buf.Bytes(), Stderr: stderr.buf.String()}
	if err != nil {
		res.Err = err
		res.ExitCode = -1
		if ee, ok := err.(*exec.ExitError); ok {
			res.ExitCode = ee.ExitCode()
		}
	}
	return res
}
