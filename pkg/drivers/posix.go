package drivers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/openfroyo/agent/pkg/engine"
)

// POSIXName is the registry name of the POSIX driver.
const POSIXName = "POSIX"

// Path entry types handled by the POSIX driver.
const (
	PathFile        = "file"
	PathDirectory   = "directory"
	PathSymlink     = "symlink"
	PathNonexistent = "nonexistent"
	PathPermissions = "permissions"
)

// POSIX manages Path entries on the local filesystem. Paths are absolute
// unless the driver was given a root, which tests use to confine it.
type POSIX struct {
	*Base
	root string
}

// NewPOSIX is the registry factory of the POSIX driver.
func NewPOSIX(env engine.DriverEnv) (engine.Driver, error) {
	return newPOSIX(env, ""), nil
}

func newPOSIX(env engine.DriverEnv, root string) *POSIX {
	p := &POSIX{root: root}
	p.Base = NewBase(POSIXName, env,
		Handled{Kind: engine.KindPath, Type: PathFile, Verify: p.verifyFile, Install: p.installFile},
		Handled{Kind: engine.KindPath, Type: PathDirectory, Verify: p.verifyDirectory, Install: p.installDirectory},
		Handled{Kind: engine.KindPath, Type: PathSymlink, Required: []string{"target"}, Verify: p.verifySymlink, Install: p.installSymlink},
		Handled{Kind: engine.KindPath, Type: PathNonexistent, Verify: p.verifyNonexistent, Install: p.installNonexistent},
		Handled{Kind: engine.KindPath, Type: PathPermissions, Required: []string{"mode"}, Verify: p.verifyPermissions, Install: p.installPermissions},
	)
	return p
}

func (p *POSIX) path(e *engine.Entry) string {
	if p.root == "" {
		return e.Name
	}
	return filepath.Join(p.root, e.Name)
}

func (p *POSIX) verifyFile(_ context.Context, e *engine.Entry, _ []string) (bool, error) {
	info, err := os.Lstat(p.path(e))
	if errors.Is(err, fs.ErrNotExist) {
		e.SetAttr("current_exists", "false")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() {
		e.SetAttr("current_type", fileType(info))
		return false, nil
	}

	ok := true
	if want, has := e.Attrs["content"]; has {
		data, err := os.ReadFile(p.path(e))
		if err != nil {
			return false, err
		}
		if digest(data) != digest([]byte(want)) {
			e.SetAttr("current_sha256", digest(data))
			e.Prompt = fmt.Sprintf("Install %s: %s (content differs)? (y/N): ", e.Kind, e.Name)
			ok = false
		}
	}
	return p.verifyPerms(e, info) && ok, nil
}

func (p *POSIX) installFile(_ context.Context, e *engine.Entry) (bool, error) {
	target := p.path(e)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return false, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".froyo-*")
	if err != nil {
		return false, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(e.Attr("content")); err != nil {
		tmp.Close()
		return false, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return false, fmt.Errorf("failed to set mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return false, fmt.Errorf("failed to replace file: %w", err)
	}
	return p.applyPerms(e)
}

func (p *POSIX) verifyDirectory(_ context.Context, e *engine.Entry, _ []string) (bool, error) {
	info, err := os.Lstat(p.path(e))
	if errors.Is(err, fs.ErrNotExist) {
		e.SetAttr("current_exists", "false")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		e.SetAttr("current_type", fileType(info))
		return false, nil
	}
	return p.verifyPerms(e, info), nil
}

func (p *POSIX) installDirectory(_ context.Context, e *engine.Entry) (bool, error) {
	target := p.path(e)
	if info, err := os.Lstat(target); err == nil && !info.IsDir() {
		if err := os.Remove(target); err != nil {
			return false, fmt.Errorf("failed to remove %s: %w", fileType(info), err)
		}
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return false, fmt.Errorf("failed to create directory: %w", err)
	}
	return p.applyPerms(e)
}

func (p *POSIX) verifySymlink(_ context.Context, e *engine.Entry, _ []string) (bool, error) {
	current, err := os.Readlink(p.path(e))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			e.SetAttr("current_exists", "false")
			return false, nil
		}
		e.SetAttr("current_type", "other")
		return false, nil
	}
	if current != e.Attr("target") {
		e.SetAttr("current_target", current)
		return false, nil
	}
	return true, nil
}

func (p *POSIX) installSymlink(_ context.Context, e *engine.Entry) (bool, error) {
	target := p.path(e)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return false, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to remove existing path: %w", err)
	}
	if err := os.Symlink(e.Attr("target"), target); err != nil {
		return false, fmt.Errorf("failed to create symlink: %w", err)
	}
	return true, nil
}

func (p *POSIX) verifyNonexistent(_ context.Context, e *engine.Entry, _ []string) (bool, error) {
	_, err := os.Lstat(p.path(e))
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	e.SetAttr("current_exists", "true")
	return false, nil
}

func (p *POSIX) installNonexistent(_ context.Context, e *engine.Entry) (bool, error) {
	target := p.path(e)
	var err error
	if strings.EqualFold(e.Attr("recursive"), "true") {
		err = os.RemoveAll(target)
	} else {
		err = os.Remove(target)
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to remove path: %w", err)
	}
	return true, nil
}

func (p *POSIX) verifyPermissions(_ context.Context, e *engine.Entry, _ []string) (bool, error) {
	info, err := os.Lstat(p.path(e))
	if errors.Is(err, fs.ErrNotExist) {
		e.SetAttr("current_exists", "false")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.verifyPerms(e, info), nil
}

func (p *POSIX) installPermissions(_ context.Context, e *engine.Entry) (bool, error) {
	if _, err := os.Lstat(p.path(e)); err != nil {
		return false, fmt.Errorf("cannot set permissions: %w", err)
	}
	return p.applyPerms(e)
}

// verifyPerms compares mode, owner and group where the entry specifies them
// and records the current values of the ones that differ.
func (p *POSIX) verifyPerms(e *engine.Entry, info fs.FileInfo) bool {
	ok := true
	if want := e.Attr("mode"); want != "" {
		mode, err := parseMode(want)
		if err != nil {
			p.log.Error().Err(err).Str("entry", e.ID()).Msg("Invalid mode")
			return false
		}
		if info.Mode().Perm() != mode {
			e.SetAttr("current_mode", fmt.Sprintf("%04o", info.Mode().Perm()))
			ok = false
		}
	}

	stat, isStat := info.Sys().(*syscall.Stat_t)
	if !isStat {
		return ok
	}
	if want := e.Attr("owner"); want != "" {
		if current := userName(stat.Uid); current != want {
			e.SetAttr("current_owner", current)
			ok = false
		}
	}
	if want := e.Attr("group"); want != "" {
		if current := groupName(stat.Gid); current != want {
			e.SetAttr("current_group", current)
			ok = false
		}
	}
	return ok
}

func (p *POSIX) applyPerms(e *engine.Entry) (bool, error) {
	target := p.path(e)
	if want := e.Attr("mode"); want != "" {
		mode, err := parseMode(want)
		if err != nil {
			return false, err
		}
		if err := os.Chmod(target, mode); err != nil {
			return false, fmt.Errorf("failed to set mode: %w", err)
		}
	}

	owner, group := e.Attr("owner"), e.Attr("group")
	if owner == "" && group == "" {
		return true, nil
	}
	uid, gid := -1, -1
	if owner != "" {
		u, err := user.Lookup(owner)
		if err != nil {
			return false, fmt.Errorf("unknown owner %s: %w", owner, err)
		}
		if uid, err = strconv.Atoi(u.Uid); err != nil {
			return false, fmt.Errorf("invalid uid for %s: %w", owner, err)
		}
	}
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return false, fmt.Errorf("unknown group %s: %w", group, err)
		}
		if gid, err = strconv.Atoi(g.Gid); err != nil {
			return false, fmt.Errorf("invalid gid for %s: %w", group, err)
		}
	}
	if err := os.Lchown(target, uid, gid); err != nil {
		return false, fmt.Errorf("failed to set ownership: %w", err)
	}
	return true, nil
}

func parseMode(s string) (fs.FileMode, error) {
	mode, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", s, err)
	}
	return fs.FileMode(mode).Perm(), nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func fileType(info fs.FileInfo) string {
	switch {
	case info.Mode().IsRegular():
		return PathFile
	case info.IsDir():
		return PathDirectory
	case info.Mode()&fs.ModeSymlink != 0:
		return PathSymlink
	default:
		return "other"
	}
}

func userName(uid uint32) string {
	id := strconv.FormatUint(uint64(uid), 10)
	if u, err := user.LookupId(id); err == nil {
		return u.Username
	}
	return id
}

func groupName(gid uint32) string {
	id := strconv.FormatUint(uint64(gid), 10)
	if g, err := user.LookupGroupId(id); err == nil {
		return g.Name
	}
	return id
}
