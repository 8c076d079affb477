package executor

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"
)

// readGuestString reads a length-prefixed UTF-8 string out of the calling
// module's linear memory, bounds-checking the read and validating encoding.
// Returns ok=false with the error code already chosen by the caller's
// convention (callers inspect errCode only when ok is false).
func readGuestString(mem api.Memory, ptr, length uint32) (string, int32, bool) {
	if length == 0 {
		return "", 0, true
	}
	buf, ok := mem.Read(ptr, length)
	if !ok {
		return "", errPtrOutOfBounds, false
	}
	if !utf8.Valid(buf) {
		return "", errInvalidUTF8, false
	}
	// Copy: buf aliases guest memory, which may be mutated or reused by a
	// later host call before the string is otherwise consumed.
	s := string(buf)
	return s, 0, true
}

// writeGuestResult writes data into the guest's result buffer at resultPtr,
// which the guest is assumed to have preallocated to maxHostBufferBytes per
// the wire contract. Returns tooLargeCode if data doesn't fit — callers pass
// the code their own function's spec table entry names for that case, since
// it differs between http_get (-6) and file_read (-7). On success returns
// the non-negative byte count written, which IS the guest-visible result:
// there is no separate length-out pointer.
func writeGuestResult(mem api.Memory, resultPtr uint32, data []byte, tooLargeCode int32) int32 {
	if uint32(len(data)) > maxHostBufferBytes {
		return tooLargeCode
	}
	if !mem.Write(resultPtr, data) {
		return errPtrOutOfBounds
	}
	return int32(len(data))
}

// hostHTTPGet implements the "http_get" host function:
//
//	http_get(url_ptr, url_len, result_ptr) -> i32
//
// Performs a blocking HTTP GET and writes the response body to result_ptr,
// up to the fixed maxHostBufferBytes buffer every guest preallocates there.
// On success returns the number of bytes written. On failure returns a
// negative error code and writes nothing.
func (e *Executor) hostHTTPGet(ctx context.Context, mod api.Module, urlPtr, urlLen, resultPtr uint32) int32 {
	mem := mod.Memory()
	if mem == nil {
		return errMemoryNotFound
	}

	url, code, ok := readGuestString(mem, urlPtr, urlLen)
	if !ok {
		return code
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return errRequestFailed
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return errRequestFailed
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errRequestFailed
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHostBufferBytes+1))
	if err != nil {
		return errResponseReadFailed
	}

	return writeGuestResult(mem, resultPtr, body, errBufferTooSmall)
}

// hostCurrentTimeMillis implements "current_time_millis() -> i64": the
// current wall-clock time as Unix milliseconds. Has no failure mode.
func (e *Executor) hostCurrentTimeMillis(context.Context, api.Module) int64 {
	return time.Now().UnixMilli()
}

// hostCurrentTimeSecs implements "current_time_secs() -> i64": the current
// wall-clock time as Unix seconds. Has no failure mode.
func (e *Executor) hostCurrentTimeSecs(context.Context, api.Module) int64 {
	return time.Now().Unix()
}

// hostFileRead implements:
//
//	file_read(path_ptr, path_len, result_ptr) -> i32
//
// path is resolved relative to the executor's configured FileRoot and may
// not escape it. On success returns the number of bytes written to
// result_ptr, up to the fixed maxHostBufferBytes buffer.
func (e *Executor) hostFileRead(_ context.Context, mod api.Module, pathPtr, pathLen, resultPtr uint32) int32 {
	mem := mod.Memory()
	if mem == nil {
		return errMemoryNotFound
	}

	path, code, ok := readGuestString(mem, pathPtr, pathLen)
	if !ok {
		return code
	}

	full, ok := e.resolvePath(path)
	if !ok {
		return errPermissionDenied
	}

	data, err := os.ReadFile(full) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return errFileNotFound
		}
		if os.IsPermission(err) {
			return errPermissionDenied
		}
		return errReadFailed
	}

	return writeGuestResult(mem, resultPtr, data, errResultTooLarge)
}

// hostFileWrite implements:
//
//	file_write(path_ptr, path_len, content_ptr, content_len) -> i32
//
// Returns 0 on success, a negative error code on failure. path is resolved
// the same way as hostFileRead. Unlike the path pointer (bounds failures
// there return -2), an out-of-bounds content pointer returns the distinct
// -4 the guest needs to tell the two apart.
func (e *Executor) hostFileWrite(_ context.Context, mod api.Module, pathPtr, pathLen, contentPtr, contentLen uint32) int32 {
	mem := mod.Memory()
	if mem == nil {
		return errMemoryNotFound
	}

	path, code, ok := readGuestString(mem, pathPtr, pathLen)
	if !ok {
		return code
	}

	var content []byte
	if contentLen > 0 {
		buf, ok := mem.Read(contentPtr, contentLen)
		if !ok {
			return errContentPtrOutOfBounds
		}
		content = make([]byte, len(buf))
		copy(content, buf)
	}

	full, ok := e.resolvePath(path)
	if !ok {
		return errPermissionDenied
	}

	if err := os.MkdirAll(parentDir(full), 0o755); err != nil {
		return errWriteFailed
	}
	if err := os.WriteFile(full, content, 0o644); err != nil { //nolint:gosec
		if os.IsPermission(err) {
			return errPermissionDenied
		}
		return errWriteFailed
	}
	return 0
}
