package core

import (
	"context"

	"github.com/eyescale/collage/pkg/collage/types"
)

// connWriter adapts a Connection's Send to io.Writer, for use with
// writeFrame. Callers must hold the connection's send-lock across the
// whole logical frame.
type connWriter struct {
	conn Connection
}

func (w connWriter) Write(p []byte) (int, error) {
	if !w.conn.Send(p) {
		return 0, types.ErrIO
	}
	return len(p), nil
}

// connReader adapts a Connection's chunked RecvSync to a proper io.Reader
// by holding back whatever part of the last chunk the caller didn't
// consume yet — readFrame issues several small Read calls per frame
// (header, then payload) and each must see a contiguous byte stream.
type connReader struct {
	ctx     context.Context
	conn    Connection
	pending []byte
}

func newConnReader(ctx context.Context, conn Connection) *connReader {
	return &connReader{ctx: ctx, conn: conn}
}

func (r *connReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		chunk, err := r.conn.RecvSync(r.ctx)
		if err != nil {
			return 0, err
		}
		r.pending = chunk
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}
