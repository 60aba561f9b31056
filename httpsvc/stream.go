package httpsvc

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/couchbaselabs/gocbcluster/cberr"
)

// DoStreamDelim reads the response body as a sequence of chunks
// separated by delim (spec.md §4.5: the `/pools/default/bs/<bucket>`
// streaming endpoint separates configuration documents with four `\n`
// bytes), delivering each non-empty chunk to onChunk.
func (s *Session) DoStreamDelim(ctx context.Context, method, path string, delim []byte, onChunk func([]byte) error) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(s.scheme + "://" + s.client.Addr + path)
	if s.authHdr != "" {
		req.Header.Set("Authorization", s.authHdr)
	}
	resp.StreamBody = true

	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := s.client.DoTimeout(req, resp, timeout); err != nil {
		return cberr.Wrap(cberr.KindServiceNotAvail, err, "http stream request")
	}
	bodyStream := resp.BodyStream()
	if bodyStream == nil {
		return scanDelim(bytes.NewReader(resp.Body()), delim, onChunk)
	}
	return scanDelim(bodyStream, delim, onChunk)
}

func scanDelim(r io.Reader, delim []byte, onChunk func([]byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	scanner.Split(splitOnDelim(delim))
	for scanner.Scan() {
		chunk := bytes.TrimSpace(scanner.Bytes())
		if len(chunk) == 0 {
			continue
		}
		if err := onChunk(append([]byte(nil), chunk...)); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func splitOnDelim(delim []byte) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		if i := bytes.Index(data, delim); i >= 0 {
			return i + len(delim), data[:i], nil
		}
		if atEOF {
			if len(data) == 0 {
				return 0, nil, nil
			}
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}

// scanNDJSON reads r line by line, delivering each non-empty line as a
// Chunk to onChunk; the final line is marked Final (spec.md §4.4: views
// and search streams terminate with a metadata object, distinguished
// here only by position since the wire format gives no other marker).
func scanNDJSON(r io.Reader, onChunk func(Chunk) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var pending []byte
	havePending := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if havePending {
			if err := onChunk(Chunk{Data: pending}); err != nil {
				return err
			}
		}
		pending = append([]byte(nil), line...)
		havePending = true
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if havePending {
		return onChunk(Chunk{Data: pending, Final: true})
	}
	return nil
}
