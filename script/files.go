package script

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.starlark.net/starlark"
)

// FilePermission is the mode of files created by sandboxed code
const FilePermission = 0o644

// File is an open file handed to sandboxed code
type File interface {
	io.Reader
	io.Writer
	io.Closer
}

// FileSystem defines the file operations behind the open builtin
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
}

// RealFileSystem implements FileSystem using the host file system
type RealFileSystem struct{}

func (RealFileSystem) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	f, err := os.OpenFile(name, flag, perm) //nolint:gosec // Paths come from policy-approved code
	if err != nil {
		return nil, err
	}
	return f, nil
}

// fileTable tracks the files opened during one run so they can be closed
// when it ends
type fileTable struct {
	fs    FileSystem
	files []*fileValue
}

func (t *fileTable) builtin() *starlark.Builtin {
	return starlark.NewBuiltin("open", t.open)
}

func (t *fileTable) open(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	mode := "r"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "file", &path, "mode?", &mode); err != nil {
		return nil, err
	}

	flag, err := openFlag(mode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	f, err := t.fs.OpenFile(path, flag, FilePermission)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	fv := &fileValue{name: path, mode: mode, f: f}
	t.files = append(t.files, fv)
	return fv, nil
}

func (t *fileTable) closeAll() {
	for _, fv := range t.files {
		_ = fv.close()
	}
}

func openFlag(mode string) (int, error) {
	plus := strings.Contains(mode, "+")
	base := strings.Trim(mode, "bt+")

	var flag int
	switch base {
	case "r":
		flag = os.O_RDONLY
		if plus {
			flag = os.O_RDWR
		}
		return flag, nil
	case "w":
		flag = os.O_CREATE | os.O_TRUNC
	case "a":
		flag = os.O_CREATE | os.O_APPEND
	case "x":
		flag = os.O_CREATE | os.O_EXCL
	default:
		return 0, fmt.Errorf("invalid mode: %q", mode)
	}

	if plus {
		return flag | os.O_RDWR, nil
	}
	return flag | os.O_WRONLY, nil
}

// fileValue is the Starlark value returned by open
type fileValue struct {
	name   string
	mode   string
	f      File
	closed bool
}

var _ starlark.HasAttrs = (*fileValue)(nil)

func (fv *fileValue) String() string {
	return fmt.Sprintf("<file %q mode %q>", fv.name, fv.mode)
}

func (*fileValue) Type() string { return "file" }

func (*fileValue) Freeze() {}

func (*fileValue) Truth() starlark.Bool { return starlark.True }

func (*fileValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: file")
}

func (fv *fileValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "write":
		return starlark.NewBuiltin("write", fv.write), nil
	case "read":
		return starlark.NewBuiltin("read", fv.read), nil
	case "close":
		return starlark.NewBuiltin("close", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return starlark.None, fv.close()
		}), nil
	case "closed":
		return starlark.Bool(fv.closed), nil
	case "name":
		return starlark.String(fv.name), nil
	}
	return nil, nil
}

func (*fileValue) AttrNames() []string {
	return []string{"close", "closed", "name", "read", "write"}
}

func (fv *fileValue) write(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &data); err != nil {
		return nil, err
	}
	if fv.closed {
		return nil, fmt.Errorf("%s: I/O operation on closed file", b.Name())
	}

	var payload string
	switch d := data.(type) {
	case starlark.String:
		payload = string(d)
	case starlark.Bytes:
		payload = string(d)
	default:
		return nil, fmt.Errorf("%s: argument must be string or bytes, not %s", b.Name(), data.Type())
	}

	n, err := io.WriteString(fv.f, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.MakeInt(n), nil
}

func (fv *fileValue) read(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if fv.closed {
		return nil, fmt.Errorf("%s: I/O operation on closed file", b.Name())
	}

	data, err := io.ReadAll(fv.f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.String(data), nil
}

func (fv *fileValue) close() error {
	if fv.closed {
		return nil
	}
	fv.closed = true
	return fv.f.Close()
}
