package runner

import (
	"io"

	"github.com/docker/docker/pkg/stdcopy"
)

// pipeWriter is the subset of *io.PipeWriter demux needs; declaring it
// narrows the parameter type without importing io.PipeWriter directly into
// every caller's vocabulary.
type pipeWriter interface {
	io.Writer
	CloseWithError(err error) error
}

// demux splits the multiplexed attach stream into separate stdout/stderr
// writers, then closes both (propagating any copy error) so downstream
// line scanners observe EOF.
func demux(src io.Reader, stdout, stderr pipeWriter) error {
	_, err := stdcopy.StdCopy(stdout, stderr, src)
	stdout.CloseWithError(err)
	stderr.CloseWithError(err)
	return err
}
